package db_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"vidflow/internal/logger"
	"vidflow/internal/models"
	"vidflow/internal/order"
	"vidflow/internal/order/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const buyer = "5d4f9a9e-8d40-4b7c-a5f2-6f0f2c6b1e01"

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is its own database
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	for _, model := range []any{
		(*models.Package)(nil),
		(*models.Order)(nil),
		(*models.PipelineCard)(nil),
		(*models.Deliverable)(nil),
	} {
		_, err := bunDB.NewCreateTable().Model(model).Exec(ctx)
		require.NoError(t, err)
	}

	pkg := &models.Package{
		EventID:     3,
		Name:        "Stage Premium",
		Price:       50000,
		Composition: models.NewCompositionJSON(models.DeliverableMainVideo, models.DeliverablePhotoZip),
		CreatedAt:   time.Now(),
	}
	_, err = bunDB.NewInsert().Model(pkg).Exec(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pkg.ID)

	return db.New(bunDB), bunDB
}

func count(t *testing.T, bunDB *bun.DB, model any) int {
	t.Helper()
	n, err := bunDB.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestGetPackageByID(t *testing.T) {
	store, _ := setupTestDB(t)

	pkg, err := store.GetPackageByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Stage Premium", pkg.Name)
	composition, err := models.ParseComposition(pkg.Composition.Raw)
	require.NoError(t, err)
	assert.Equal(t, models.Composition{models.DeliverableMainVideo, models.DeliverablePhotoZip}, composition)

	_, err = store.GetPackageByID(context.Background(), 42)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestCreateOrderDuplicatePaymentRef(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	o := &models.Order{UserID: buyer, EventID: 3, PackageID: 1, PaymentRef: "pay_dup", Amount: 50000, Status: models.OrderPaid, CreatedAt: time.Now()}

	id, err := store.CreateOrder(ctx, o)
	require.NoError(t, err)
	assert.NotZero(t, id)

	again := *o
	again.ID = 0
	_, err = store.CreateOrder(ctx, &again)
	assert.ErrorIs(t, err, db.ErrDuplicatePaymentRef)

	found, err := store.GetOrderByPaymentRef(ctx, "pay_dup")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)
}

func TestCardAndDeliverables(t *testing.T) {
	store, bunDB := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	orderID, err := store.CreateOrder(ctx, &models.Order{UserID: buyer, EventID: 3, PackageID: 1, PaymentRef: "pay_1", Amount: 1, Status: models.OrderPaid, CreatedAt: now})
	require.NoError(t, err)
	cardID, err := store.CreatePipelineCard(ctx, &models.PipelineCard{OrderID: orderID, Stage: models.StageWaiting, StageEnteredAt: now, CreatedAt: now})
	require.NoError(t, err)

	require.NoError(t, store.CreateDeliverables(ctx, []models.Deliverable{
		{CardID: cardID, Type: models.DeliverableReels, LinkStatus: models.LinkUnchecked},
		{CardID: cardID, Type: models.DeliverableRawFootage, LinkStatus: models.LinkUnchecked},
	}))
	require.NoError(t, store.CreateDeliverables(ctx, nil))

	card, err := store.GetCardByOrderID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, cardID, card.ID)

	deliverables, err := store.GetDeliverablesByCard(ctx, cardID)
	require.NoError(t, err)
	require.Len(t, deliverables, 2)
	assert.Equal(t, models.DeliverableReels, deliverables[0].Type)

	require.NoError(t, store.DeletePipelineCard(ctx, cardID))
	require.NoError(t, store.DeleteOrder(ctx, orderID))
	assert.Zero(t, count(t, bunDB, (*models.Order)(nil)))
	assert.Zero(t, count(t, bunDB, (*models.PipelineCard)(nil)))
}

func TestListOrdersByUserNewestFirst(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, ref := range []string{"pay_old", "pay_new"} {
		_, err := store.CreateOrder(ctx, &models.Order{UserID: buyer, EventID: 3, PackageID: 1, PaymentRef: ref, Amount: 1, Status: models.OrderPaid, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	orders, err := store.ListOrdersByUser(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "pay_new", orders[0].PaymentRef)

	none, err := store.ListOrdersByUser(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// failingDeliverables breaks the bulk insert while keeping everything else real.
type failingDeliverables struct {
	*db.DB
}

func (f failingDeliverables) CreateDeliverables(ctx context.Context, deliverables []models.Deliverable) error {
	return errors.New("deliverables insert rejected")
}

func newService(store order.Store) (*order.OrderService, *bytes.Buffer) {
	logs := &bytes.Buffer{}
	return order.NewOrderService(store, nil, nil, nil, logger.NewWriterLogger(logs)), logs
}

func createRequest(ref string) order.CreateOrderRequest {
	return order.CreateOrderRequest{BuyerID: buyer, EventID: 3, PackageID: 1, PaymentRef: ref, Amount: 50000}
}

func TestServiceCreateOrderRoundTrip(t *testing.T) {
	store, bunDB := setupTestDB(t)
	svc, _ := newService(store)

	result := svc.CreateOrder(context.Background(), createRequest("pay_rt"))
	require.True(t, result.Success, result.Error)

	got, err := svc.GetOrder(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StageWaiting, got.Card.Stage)
	require.Len(t, got.Deliverables, 2)
	assert.Equal(t, models.DeliverableMainVideo, got.Deliverables[0].Type)
	assert.Equal(t, models.DeliverablePhotoZip, got.Deliverables[1].Type)
	assert.Equal(t, models.LinkUnchecked, got.Deliverables[0].LinkStatus)
	assert.Equal(t, 1, count(t, bunDB, (*models.Order)(nil)))
}

func TestServiceCompensatesFailedDeliverables(t *testing.T) {
	store, bunDB := setupTestDB(t)
	svc, logs := newService(failingDeliverables{store})

	result := svc.CreateOrder(context.Background(), createRequest("pay_comp"))

	assert.Equal(t, order.KindPersistence, result.Kind)
	assert.Zero(t, count(t, bunDB, (*models.Order)(nil)))
	assert.Zero(t, count(t, bunDB, (*models.PipelineCard)(nil)))
	assert.Contains(t, logs.String(), "COMPENSATE")
}

func TestServiceAtomicWritesRollBack(t *testing.T) {
	store, bunDB := setupTestDB(t)
	svc, logs := newService(store)
	svc.AtomicWrites = true

	_, err := bunDB.NewDropTable().Model((*models.Deliverable)(nil)).Exec(context.Background())
	require.NoError(t, err)

	result := svc.CreateOrder(context.Background(), createRequest("pay_tx"))

	assert.Equal(t, order.KindPersistence, result.Kind)
	assert.Zero(t, count(t, bunDB, (*models.Order)(nil)))
	assert.Zero(t, count(t, bunDB, (*models.PipelineCard)(nil)))
	assert.NotContains(t, logs.String(), "COMPENSATE")
}

func TestServiceAtomicWritesCommit(t *testing.T) {
	store, bunDB := setupTestDB(t)
	svc, _ := newService(store)
	svc.AtomicWrites = true

	first := svc.CreateOrder(context.Background(), createRequest("pay_tx_ok"))
	require.True(t, first.Success, first.Error)
	second := svc.CreateOrder(context.Background(), createRequest("pay_tx_ok"))

	assert.Equal(t, order.KindDuplicate, second.Kind)
	assert.Equal(t, 1, count(t, bunDB, (*models.Order)(nil)))
	assert.Equal(t, 2, count(t, bunDB, (*models.Deliverable)(nil)))
}

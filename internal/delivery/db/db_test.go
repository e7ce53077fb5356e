package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"vidflow/internal/delivery/db"
	"vidflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	for _, model := range []any{(*models.Order)(nil), (*models.PipelineCard)(nil), (*models.Deliverable)(nil)} {
		_, err := bunDB.NewCreateTable().Model(model).Exec(ctx)
		require.NoError(t, err)
	}

	_, err = bunDB.NewInsert().Model(&models.Order{
		UserID:     "0b6e1b38-3f55-4c39-9d64-1f6f9a1d2c11",
		EventID:    3,
		PackageID:  1,
		PaymentRef: "pay_1",
		Amount:     50000,
		Status:     models.OrderPaid,
		CreatedAt:  base,
	}).Exec(ctx)
	require.NoError(t, err)
	_, err = bunDB.NewInsert().Model(&models.PipelineCard{
		OrderID:        1,
		Stage:          models.StageEditing,
		StageEnteredAt: base,
		CreatedAt:      base,
	}).Exec(ctx)
	require.NoError(t, err)

	deliverables := []models.Deliverable{
		{CardID: 1, Type: models.DeliverableMainVideo, LinkStatus: models.LinkUnchecked},
		{CardID: 1, Type: models.DeliverablePhotoZip, LinkStatus: models.LinkUnchecked},
		{CardID: 2, Type: models.DeliverableReels, LinkStatus: models.LinkUnchecked},
	}
	_, err = bunDB.NewInsert().Model(&deliverables).Exec(ctx)
	require.NoError(t, err)
	return db.New(bunDB)
}

func TestGetDeliverablesByCardInOrder(t *testing.T) {
	store := setupTestDB(t)

	deliverables, err := store.GetDeliverablesByCard(context.Background(), 1)

	require.NoError(t, err)
	require.Len(t, deliverables, 2)
	assert.Equal(t, models.DeliverableMainVideo, deliverables[0].Type)
	assert.Equal(t, models.DeliverablePhotoZip, deliverables[1].Type)

	none, err := store.GetDeliverablesByCard(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetDeliverableMissing(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetDeliverable(context.Background(), 77)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestSetLinkResetsCheck(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.SetLink(ctx, 1, "https://drive.example.com/a"))
	require.NoError(t, store.SetLinkStatus(ctx, 1, models.LinkValid, base))

	d, err := store.GetDeliverable(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.LinkValid, d.LinkStatus)
	require.NotNil(t, d.CheckedAt)
	assert.True(t, base.Equal(*d.CheckedAt))

	require.NoError(t, store.SetLink(ctx, 1, "https://drive.example.com/b"))

	d, err = store.GetDeliverable(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "https://drive.example.com/b", d.ExternalLink)
	assert.Equal(t, models.LinkUnchecked, d.LinkStatus)
	assert.Nil(t, d.CheckedAt)

	other, err := store.GetDeliverable(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, other.ExternalLink)
}

func TestSetLinkStatusInvalid(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.SetLinkStatus(ctx, 2, models.LinkInvalid, base.Add(time.Minute)))

	d, err := store.GetDeliverable(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.LinkInvalid, d.LinkStatus)
	require.NotNil(t, d.CheckedAt)
	assert.True(t, base.Add(time.Minute).Equal(*d.CheckedAt))
}

func TestSetDownloaded(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	d, err := store.GetDeliverable(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, d.DownloadedAt)

	require.NoError(t, store.SetDownloaded(ctx, 1, base.Add(2*time.Hour)))

	d, err = store.GetDeliverable(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, d.DownloadedAt)
	assert.True(t, base.Add(2*time.Hour).Equal(*d.DownloadedAt))
}

func TestGetCardAndOrder(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	card, err := store.GetCard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), card.OrderID)
	assert.Equal(t, models.StageEditing, card.Stage)

	o, err := store.GetOrder(ctx, card.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", o.PaymentRef)

	_, err = store.GetCard(ctx, 5)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	_, err = store.GetOrder(ctx, 5)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

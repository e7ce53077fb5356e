package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vidflow/internal/models"
	"vidflow/internal/order"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

// ErrDuplicatePaymentRef is returned when an order for the payment
// reference already exists.
var ErrDuplicatePaymentRef = order.ErrDuplicatePaymentRef

// DB implements order.Store on bun. Bun is either the pool or an open
// transaction.
type DB struct {
	Bun bun.IDB
}

func New(db *bun.DB) *DB {
	return &DB{Bun: db}
}

// ---------------- PACKAGES ----------------

func (d *DB) GetPackageByID(ctx context.Context, id int64) (*models.Package, error) {
	var pkg models.Package
	err := d.Bun.NewSelect().
		Model(&pkg).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select package %d: %w", id, err)
	}
	return &pkg, nil
}

// ---------------- ORDERS ----------------

func (d *DB) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	err := d.Bun.NewSelect().
		Model(&o).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select order %d: %w", id, err)
	}
	return &o, nil
}

func (d *DB) GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*models.Order, error) {
	var o models.Order
	err := d.Bun.NewSelect().
		Model(&o).
		Where("payment_ref = ?", paymentRef).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select order by payment %s: %w", paymentRef, err)
	}
	return &o, nil
}

// ListOrdersByUser → newest first
func (d *DB) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	orders := []models.Order{}
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select orders of user %s: %w", userID, err)
	}
	return orders, nil
}

// CreateOrder → insert and return the generated id
func (d *DB) CreateOrder(ctx context.Context, o *models.Order) (int64, error) {
	_, err := d.Bun.NewInsert().
		Model(o).
		Returning("id").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("insert order for payment %s: %w", o.PaymentRef, ErrDuplicatePaymentRef)
		}
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return o.ID, nil
}

func (d *DB) DeleteOrder(ctx context.Context, id int64) error {
	_, err := d.Bun.NewDelete().
		Model((*models.Order)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// ---------------- PIPELINE CARDS ----------------

func (d *DB) CreatePipelineCard(ctx context.Context, card *models.PipelineCard) (int64, error) {
	_, err := d.Bun.NewInsert().
		Model(card).
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert pipeline card for order %d: %w", card.OrderID, err)
	}
	return card.ID, nil
}

func (d *DB) DeletePipelineCard(ctx context.Context, id int64) error {
	_, err := d.Bun.NewDelete().
		Model((*models.PipelineCard)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (d *DB) GetCardByOrderID(ctx context.Context, orderID int64) (*models.PipelineCard, error) {
	var card models.PipelineCard
	err := d.Bun.NewSelect().
		Model(&card).
		Where("order_id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select card of order %d: %w", orderID, err)
	}
	return &card, nil
}

// ---------------- DELIVERABLES ----------------

// CreateDeliverables → one bulk insert for the whole composition
func (d *DB) CreateDeliverables(ctx context.Context, deliverables []models.Deliverable) error {
	if len(deliverables) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().
		Model(&deliverables).
		Returning("id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert %d deliverables: %w", len(deliverables), err)
	}
	return nil
}

func (d *DB) GetDeliverablesByCard(ctx context.Context, cardID int64) ([]models.Deliverable, error) {
	deliverables := []models.Deliverable{}
	err := d.Bun.NewSelect().
		Model(&deliverables).
		Where("card_id = ?", cardID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select deliverables of card %d: %w", cardID, err)
	}
	return deliverables, nil
}

// RunInTx runs fn against a store bound to one transaction. Inside an
// existing transaction fn runs directly.
func (d *DB) RunInTx(ctx context.Context, fn func(order.Store) error) error {
	db, ok := d.Bun.(*bun.DB)
	if !ok {
		return fn(d)
	}
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(&DB{Bun: tx})
	})
}

// isUniqueViolation recognizes Postgres (23505) and SQLite unique errors.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ order.Store      = (*DB)(nil)
	_ order.Transactor = (*DB)(nil)
)

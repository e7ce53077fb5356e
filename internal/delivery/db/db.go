package db

import (
	"context"
	"fmt"
	"time"

	"vidflow/internal/delivery"
	"vidflow/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun bun.IDB
}

func New(db *bun.DB) *DB {
	return &DB{Bun: db}
}

func (d *DB) GetDeliverable(ctx context.Context, id int64) (*models.Deliverable, error) {
	var deliverable models.Deliverable
	err := d.Bun.NewSelect().
		Model(&deliverable).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select deliverable %d: %w", id, err)
	}
	return &deliverable, nil
}

func (d *DB) GetDeliverablesByCard(ctx context.Context, cardID int64) ([]models.Deliverable, error) {
	deliverables := []models.Deliverable{}
	err := d.Bun.NewSelect().
		Model(&deliverables).
		Where("card_id = ?", cardID).
		Order("id ASC").
		Scan(ctx)
	return deliverables, err
}

// SetLink → new link, status back to UNCHECKED
func (d *DB) SetLink(ctx context.Context, id int64, link string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Deliverable)(nil)).
		Set("external_link = ?", link).
		Set("link_status = ?", models.LinkUnchecked).
		Set("checked_at = NULL").
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (d *DB) SetLinkStatus(ctx context.Context, id int64, status models.LinkStatus, checkedAt time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Deliverable)(nil)).
		Set("link_status = ?", status).
		Set("checked_at = ?", checkedAt).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (d *DB) SetDownloaded(ctx context.Context, id int64, at time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Deliverable)(nil)).
		Set("downloaded_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (d *DB) GetCard(ctx context.Context, cardID int64) (*models.PipelineCard, error) {
	var card models.PipelineCard
	err := d.Bun.NewSelect().
		Model(&card).
		Where("id = ?", cardID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select card %d: %w", cardID, err)
	}
	return &card, nil
}

func (d *DB) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var o models.Order
	err := d.Bun.NewSelect().
		Model(&o).
		Where("id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select order %d: %w", orderID, err)
	}
	return &o, nil
}

var _ delivery.Store = (*DB)(nil)

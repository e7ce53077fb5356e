package db

import (
	"context"
	"fmt"
	"time"

	"vidflow/internal/models"
	"vidflow/internal/pipeline"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun bun.IDB
}

func New(db *bun.DB) *DB {
	return &DB{Bun: db}
}

// ListCards → oldest stage entry first, so the longest waiting card leads each column
func (d *DB) ListCards(ctx context.Context) ([]models.PipelineCard, error) {
	cards := []models.PipelineCard{}
	err := d.Bun.NewSelect().
		Model(&cards).
		Order("stage_entered_at ASC", "id ASC").
		Scan(ctx)
	return cards, err
}

func (d *DB) GetCard(ctx context.Context, id int64) (*models.PipelineCard, error) {
	var card models.PipelineCard
	err := d.Bun.NewSelect().
		Model(&card).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select card %d: %w", id, err)
	}
	return &card, nil
}

func (d *DB) UpdateStage(ctx context.Context, id int64, stage models.Stage, enteredAt time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.PipelineCard)(nil)).
		Set("stage = ?", stage).
		Set("stage_entered_at = ?", enteredAt).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (d *DB) UpdateAssignee(ctx context.Context, id int64, assignee string) error {
	var value any
	if assignee != "" {
		value = assignee
	}
	_, err := d.Bun.NewUpdate().
		Model((*models.PipelineCard)(nil)).
		Set("assignee = ?", value).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (d *DB) ListCardsEnteredBefore(ctx context.Context, before time.Time, exclude models.Stage) ([]models.PipelineCard, error) {
	cards := []models.PipelineCard{}
	err := d.Bun.NewSelect().
		Model(&cards).
		Where("stage_entered_at < ?", before).
		Where("stage <> ?", exclude).
		Order("stage_entered_at ASC").
		Scan(ctx)
	return cards, err
}

var _ pipeline.Store = (*DB)(nil)

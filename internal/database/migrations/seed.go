package migrations

import (
	"context"
	"fmt"
	"time"

	"vidflow/internal/models"

	"github.com/uptrace/bun"
)

// Seed inserts a demo event with three packages. It does nothing when any
// event exists.
func Seed(ctx context.Context, db bun.IDB) error {
	n, err := db.NewSelect().Model((*models.Event)(nil)).Count(ctx)
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	if n > 0 {
		return nil
	}

	now := time.Now().UTC()
	event := &models.Event{
		Name:      "Seoul Open Bodybuilding Championship",
		Venue:     "Olympic Hall",
		EventDate: now.AddDate(0, 1, 0).Truncate(24 * time.Hour),
		CreatedAt: now,
	}
	if _, err := db.NewInsert().Model(event).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	packages := []models.Package{
		{
			EventID:     event.ID,
			Name:        "Stage Highlight",
			Price:       30000,
			Composition: models.NewCompositionJSON(models.DeliverableHighlightVideo),
			CreatedAt:   now,
		},
		{
			EventID:     event.ID,
			Name:        "Stage Premium",
			Price:       50000,
			Composition: models.NewCompositionJSON(models.DeliverableMainVideo, models.DeliverablePhotoZip),
			CreatedAt:   now,
		},
		{
			EventID: event.ID,
			Name:    "Full Coverage",
			Price:   90000,
			Composition: models.NewCompositionJSON(
				models.DeliverableMainVideo,
				models.DeliverableHighlightVideo,
				models.DeliverablePhotoZip,
				models.DeliverableRawFootage,
				models.DeliverableReels,
			),
			CreatedAt: now,
		},
	}
	if _, err := db.NewInsert().Model(&packages).Exec(ctx); err != nil {
		return fmt.Errorf("insert packages: %w", err)
	}
	return nil
}

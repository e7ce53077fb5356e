package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"vidflow/internal/models"
	"vidflow/internal/pipeline/db"

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
	_, err = bunDB.NewCreateTable().Model((*models.PipelineCard)(nil)).Exec(ctx)
	require.NoError(t, err)

	cards := []models.PipelineCard{
		{OrderID: 1, Stage: models.StageWaiting, StageEnteredAt: base.Add(-time.Hour), CreatedAt: base},
		{OrderID: 2, Stage: models.StageEditing, StageEnteredAt: base.Add(-48 * time.Hour), CreatedAt: base},
		{OrderID: 3, Stage: models.StageDelivered, StageEnteredAt: base.Add(-96 * time.Hour), CreatedAt: base},
	}
	_, err = bunDB.NewInsert().Model(&cards).Exec(ctx)
	require.NoError(t, err)
	return db.New(bunDB)
}

func TestListCardsOldestFirst(t *testing.T) {
	store := setupTestDB(t)

	cards, err := store.ListCards(context.Background())

	require.NoError(t, err)
	require.Len(t, cards, 3)
	assert.Equal(t, int64(3), cards[0].OrderID)
	assert.Equal(t, int64(1), cards[2].OrderID)
}

func TestGetCardMissing(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetCard(context.Background(), 77)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestUpdateStageAndAssignee(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateStage(ctx, 1, models.StageShooting, base))
	require.NoError(t, store.UpdateAssignee(ctx, 1, "camera-lee"))

	card, err := store.GetCard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StageShooting, card.Stage)
	assert.True(t, base.Equal(card.StageEnteredAt))
	assert.Equal(t, "camera-lee", card.Assignee)

	require.NoError(t, store.UpdateAssignee(ctx, 1, ""))
	card, err = store.GetCard(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, card.Assignee)
}

func TestListCardsEnteredBefore(t *testing.T) {
	store := setupTestDB(t)

	cards, err := store.ListCardsEnteredBefore(context.Background(), base.Add(-24*time.Hour), models.StageDelivered)

	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, int64(2), cards[0].OrderID)
}

package migrations

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"testing"

	"vidflow/internal/logger"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestEmbeddedSourceHasInitSchema(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	up, name, err := src.ReadUp(first)
	require.NoError(t, err)
	defer up.Close()
	assert.Equal(t, "init_schema", name)
	body, err := io.ReadAll(up)
	require.NoError(t, err)
	for _, table := range []string{"events", "packages", "profiles", "orders", "pipeline_cards", "deliverables"} {
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.Contains(t, string(body), "UNIQUE (payment_ref)")

	down, _, err := src.ReadDown(first)
	require.NoError(t, err)
	down.Close()
}

// TestRunnerAgainstPostgres applies and rolls back the schema on a real database.
func TestRunnerAgainstPostgres(t *testing.T) {
	if os.Getenv("VIDFLOW_INTEGRATION") != "1" {
		t.Skip("set VIDFLOW_INTEGRATION=1 to run container tests")
	}

	ctx := context.Background()
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "vidflow",
				"POSTGRES_PASSWORD": "vidflow",
				"POSTGRES_DB":       "vidflow",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer pg.Terminate(ctx)

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := sql.Open("postgres", fmt.Sprintf("postgres://vidflow:vidflow@%s:%s/vidflow?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	defer db.Close()

	runner := NewRunner(db, logger.NewWriterLogger(&bytes.Buffer{}))
	defer runner.Close()

	require.NoError(t, runner.MigrateUp())
	version, dirty, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	_, err = db.ExecContext(ctx, `INSERT INTO events (name, event_date) VALUES ('Open', now())`)
	require.NoError(t, err)

	require.NoError(t, runner.MigrateDown())
	var exists bool
	require.NoError(t, db.QueryRowContext(ctx, `SELECT to_regclass('public.orders') IS NOT NULL`).Scan(&exists))
	assert.False(t, exists)
}

//go:build database

package repo_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"neuron/internal/db"
	"neuron/internal/domain"
	"neuron/internal/migrate"
	"neuron/internal/repo"
)

// TestSnapshotsOnPostgres runs the snapshot store against a real postgres.
func TestSnapshotsOnPostgres(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_HOST_AUTH_METHOD": "trust",
			"POSTGRES_DB":               "neuron",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	defer func() { _ = pg.Terminate(ctx) }()

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := db.Config{
		Backend: "postgres",
		DSN:     fmt.Sprintf("postgres://postgres@%s:%s/neuron?sslmode=disable", host, port.Port()),
	}
	require.NoError(t, migrate.Migrate(cfg))
	conn, err := db.Open(cfg)
	require.NoError(t, err)
	defer conn.Close()
	r := repo.New(conn, cfg.Dialect())

	seedTree(t, r)
	tree, err := r.FetchWorkTree(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, tree.Workstreams, 2)

	for _, total := range []int{10, 12} {
		_, err := r.UpsertSnapshotRow(ctx, domain.Snapshot{ProgramID: "p1", DateKey: "2026-02-09", TotalPoints: total, CreatedAt: ts, UpdatedAt: ts}, nil)
		require.NoError(t, err)
	}
	items, err := r.ListSnapshots(ctx, "p1", "2026-01-01", "2026-12-31")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 12, items[0].TotalPoints)
}

package neuronsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"neuron/internal/db"
	"neuron/internal/engine"
	"neuron/internal/engine/auth"
	"neuron/internal/migrate"
	"neuron/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	cfg := db.Config{Workspace: t.TempDir()}
	require.NoError(t, migrate.Migrate(cfg))
	conn, err := db.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	now := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	e := engine.New(conn, cfg.Dialect(), nil).WithClock(func() time.Time { return now })
	svc := auth.New(e.Repo)
	svc.Cost = bcrypt.MinCost
	_, err = svc.Register(context.Background(), "ada@example.com", "Ada", "correct horse")
	require.NoError(t, err)

	handler, err := server.New(server.Config{Engine: e, Auth: svc, BasePath: "/v1", JWTSecret: "sdk-secret"})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(ts.URL)
}

func TestClientSnapshotFlow(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	_, err := c.Token(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	_, err = c.CreateProgram(ctx, "p1", "Apollo", "")
	require.NoError(t, err)
	_, err = c.CreateWorkstream(ctx, "p1", "ws1", "Platform")
	require.NoError(t, err)
	_, err = c.CreateInitiative(ctx, "ws1", "i1", "Login")
	require.NoError(t, err)
	_, err = c.CreateSubTask(ctx, "i1", "s1", "Form", 3, 50)
	require.NoError(t, err)
	_, err = c.CreateSubTask(ctx, "i1", "s2", "SSO", 5, 0)
	require.NoError(t, err)

	snap, err := c.TakeSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-09", snap.DateKey)
	assert.Equal(t, 8, snap.TotalPoints)
	assert.Equal(t, 2, snap.CompletedPoints)

	_, err = c.UpsertSnapshot(ctx, "p1", "2026-01-26", 6, 1)
	require.NoError(t, err)
	snaps, err := c.Snapshots(ctx, "p1", "", "")
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	bd, err := c.Burndown(ctx, "p1", "", "")
	require.NoError(t, err)
	require.Len(t, bd.Points, 2)
	assert.Equal(t, []string{"2026-02-09"}, bd.ScopeChanges)
	assert.Equal(t, 6, bd.Points[1].Remaining)

	periods, err := c.Periods(ctx, "2026-01-05", "2026-02-17")
	require.NoError(t, err)
	assert.NotEmpty(t, periods)

	current, err := c.CurrentPeriod(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-09", current.DateKey)

	events, err := c.Events(ctx, "p1", "snapshot.taken", 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	_, err := c.ListPrograms(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = c.Token(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	_, err = c.TakeSnapshot(ctx, "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)

	_, err = c.UpdateInitiative(ctx, "missing", map[string]any{"status": "paused"})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

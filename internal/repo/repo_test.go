package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuron/internal/db"
	"neuron/internal/domain"
	"neuron/internal/migrate"
	"neuron/internal/repo"
)

const ts = "2026-02-17T09:00:00Z"

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	cfg := db.Config{Workspace: t.TempDir()}
	require.NoError(t, migrate.Migrate(cfg))
	conn, err := db.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return repo.New(conn, cfg.Dialect())
}

// seedTree creates program p1 with two workstreams, one archived initiative
// and a handful of sub-tasks.
func seedTree(t *testing.T, r repo.Repo) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.InsertProgram(ctx, nil, domain.Program{ID: "p1", Name: "Apollo", CreatedAt: ts}))
	require.NoError(t, r.InsertWorkstream(ctx, nil, domain.Workstream{ID: "ws-b", ProgramID: "p1", Name: "Backend", SortOrder: 1, CreatedAt: ts}))
	require.NoError(t, r.InsertWorkstream(ctx, nil, domain.Workstream{ID: "ws-a", ProgramID: "p1", Name: "Analytics", SortOrder: 0, CreatedAt: ts}))
	for _, in := range []domain.Initiative{
		{ID: "i1", WorkstreamID: "ws-a", Name: "Dashboards", Status: domain.InitiativeActive, CreatedAt: ts, UpdatedAt: ts},
		{ID: "i2", WorkstreamID: "ws-b", Name: "API", Status: domain.InitiativePlanned, CreatedAt: ts, UpdatedAt: ts},
		{ID: "i3", WorkstreamID: "ws-b", Name: "Legacy", Status: domain.InitiativeDone, Archived: true, CreatedAt: ts, UpdatedAt: ts},
	} {
		require.NoError(t, r.InsertInitiative(ctx, nil, in))
	}
	for _, st := range []domain.SubTask{
		{ID: "s1", InitiativeID: "i1", Name: "Charts", Points: 3, CompletionPercent: 50, CreatedAt: ts, UpdatedAt: ts},
		{ID: "s2", InitiativeID: "i1", Name: "Filters", Points: 5, CompletionPercent: 0, CreatedAt: ts, UpdatedAt: ts},
		{ID: "s3", InitiativeID: "i2", Name: "Auth", Points: 8, CompletionPercent: 100, CreatedAt: ts, UpdatedAt: ts},
		{ID: "s4", InitiativeID: "i3", Name: "Old", Points: 13, CompletionPercent: 100, CreatedAt: ts, UpdatedAt: ts},
	} {
		require.NoError(t, r.InsertSubTask(ctx, nil, st))
	}
}

func TestFetchWorkTreeSkipsArchived(t *testing.T) {
	r := newTestRepo(t)
	seedTree(t, r)

	tree, err := r.FetchWorkTree(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, tree.Workstreams, 2)
	assert.Equal(t, "ws-a", tree.Workstreams[0].ID)
	assert.Equal(t, "ws-b", tree.Workstreams[1].ID)
	require.Len(t, tree.Workstreams[1].Initiatives, 1)
	assert.Equal(t, "i2", tree.Workstreams[1].Initiatives[0].ID)
	assert.Len(t, tree.Workstreams[0].Initiatives[0].SubTasks, 2)
}

func TestFetchWorkTreeMissingProgram(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.FetchWorkTree(context.Background(), "nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUpsertSnapshotIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	seedTree(t, r)
	ctx := context.Background()

	first := domain.Snapshot{ProgramID: "p1", DateKey: "2026-02-09", TotalPoints: 16, CompletedPoints: 10, PercentComplete: 62.5, CreatedAt: ts, UpdatedAt: ts}
	_, err := r.UpsertSnapshotRow(ctx, first, nil)
	require.NoError(t, err)

	later := "2026-02-18T09:00:00Z"
	second := first
	second.TotalPoints = 20
	second.CompletedPoints = 12
	second.PercentComplete = 60
	second.WorkstreamData = domain.WorkstreamData{"ws-a": {Name: "Analytics", TotalPoints: 20, CompletedPoints: 12, Subcomponents: map[string]domain.InitiativeBreakdown{}}}
	second.CreatedAt = later
	second.UpdatedAt = later
	saved, err := r.UpsertSnapshotRow(ctx, second, nil)
	require.NoError(t, err)
	assert.Equal(t, ts, saved.CreatedAt)

	items, err := r.ListSnapshots(ctx, "p1", "", "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 20, items[0].TotalPoints)
	assert.Equal(t, 12, items[0].CompletedPoints)
	assert.Equal(t, later, items[0].UpdatedAt)
	assert.Equal(t, "Analytics", items[0].WorkstreamData["ws-a"].Name)
}

func TestUpsertSnapshotDistinctKeys(t *testing.T) {
	r := newTestRepo(t)
	seedTree(t, r)
	ctx := context.Background()

	for _, key := range []string{"2026-02-23", "2026-02-09"} {
		_, err := r.UpsertSnapshotRow(ctx, domain.Snapshot{ProgramID: "p1", DateKey: key, TotalPoints: 10, CreatedAt: ts, UpdatedAt: ts}, nil)
		require.NoError(t, err)
	}
	items, err := r.ListSnapshots(ctx, "p1", "", "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2026-02-09", items[0].DateKey)
	assert.Nil(t, items[0].WorkstreamData)

	bounded, err := r.ListSnapshots(ctx, "p1", "2026-02-10", "")
	require.NoError(t, err)
	require.Len(t, bounded, 1)
	assert.Equal(t, "2026-02-23", bounded[0].DateKey)

	prev, err := r.LatestSnapshotBefore(ctx, nil, "p1", "2026-02-23")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-09", prev.DateKey)
	_, err = r.LatestSnapshotBefore(ctx, nil, "p1", "2026-02-09")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUpsertSnapshotHookRollsBack(t *testing.T) {
	r := newTestRepo(t)
	seedTree(t, r)
	ctx := context.Background()

	_, err := r.UpsertSnapshotRow(ctx, domain.Snapshot{ProgramID: "p1", DateKey: "2026-02-09", TotalPoints: 16, CompletedPoints: 10, CreatedAt: ts, UpdatedAt: ts}, nil)
	require.NoError(t, err)

	var seen domain.Snapshot
	boom := errors.New("hook failed")
	_, err = r.UpsertSnapshotRow(ctx, domain.Snapshot{ProgramID: "p1", DateKey: "2026-02-09", TotalPoints: 30, CompletedPoints: 1, CreatedAt: ts, UpdatedAt: ts},
		func(ctx context.Context, tx *sql.Tx, saved domain.Snapshot) error {
			prev, err := r.LatestSnapshotBefore(ctx, tx, "p1", "2026-02-10")
			require.NoError(t, err)
			seen = prev
			return boom
		})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 30, seen.TotalPoints)

	stored, err := r.GetSnapshot(ctx, "p1", "2026-02-09")
	require.NoError(t, err)
	assert.Equal(t, 16, stored.TotalPoints)
	assert.Equal(t, 10, stored.CompletedPoints)
}

func TestConcurrentUpsertsLeaveOneRow(t *testing.T) {
	r := newTestRepo(t)
	seedTree(t, r)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := r.UpsertSnapshotRow(ctx, domain.Snapshot{ProgramID: "p1", DateKey: "2026-02-09", TotalPoints: n, CreatedAt: ts, UpdatedAt: ts}, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	items, err := r.ListSnapshots(ctx, "p1", "", "")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestUpdateInitiativeRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	seedTree(t, r)
	ctx := context.Background()

	in, err := r.GetInitiative(ctx, "i2")
	require.NoError(t, err)
	owner := "u-1"
	in.OwnerID = &owner
	in.Status = domain.InitiativeBlocked
	in.Archived = true
	require.NoError(t, r.UpdateInitiative(ctx, nil, in))

	got, err := r.GetInitiative(ctx, "i2")
	require.NoError(t, err)
	require.NotNil(t, got.OwnerID)
	assert.Equal(t, "u-1", *got.OwnerID)
	assert.Equal(t, domain.InitiativeBlocked, got.Status)
	assert.True(t, got.Archived)

	programID, err := r.ProgramOfInitiative(ctx, nil, "i2")
	require.NoError(t, err)
	assert.Equal(t, "p1", programID)

	in.ID = "missing"
	assert.ErrorIs(t, r.UpdateInitiative(ctx, nil, in), repo.ErrNotFound)
}

func TestDeleteProgramCascades(t *testing.T) {
	r := newTestRepo(t)
	seedTree(t, r)
	ctx := context.Background()

	require.NoError(t, r.DeleteProgram(ctx, nil, "p1"))
	_, err := r.GetWorkstream(ctx, "ws-a")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = r.GetSubTask(ctx, "s1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, r.DeleteProgram(ctx, nil, "p1"), repo.ErrNotFound)
}

func TestRecordsAndCosts(t *testing.T) {
	r := newTestRepo(t)
	seedTree(t, r)
	ctx := context.Background()

	ws := "ws-a"
	require.NoError(t, r.InsertCostEntry(ctx, nil, domain.CostEntry{ID: "c1", ProgramID: "p1", WorkstreamID: &ws, Description: "Licenses", AmountCents: 12500, IncurredOn: "2026-02-01", CreatedAt: ts}))
	require.NoError(t, r.InsertCostEntry(ctx, nil, domain.CostEntry{ID: "c2", ProgramID: "p1", Description: "Travel", AmountCents: 4000, IncurredOn: "2026-01-15", CreatedAt: ts}))
	costs, err := r.ListCostEntries(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, costs, 2)
	assert.Equal(t, "c2", costs[0].ID)
	assert.Nil(t, costs[0].WorkstreamID)
	total, err := r.TotalCostCents(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(16500), total)

	require.NoError(t, r.InsertIssue(ctx, nil, domain.Issue{ID: "is1", ProgramID: "p1", Title: "Vendor delay", Severity: "high", Status: "open", CreatedAt: ts}))
	require.NoError(t, r.DeleteRecord(ctx, nil, "issue", "is1"))
	assert.ErrorIs(t, r.DeleteRecord(ctx, nil, "issue", "is1"), repo.ErrNotFound)
	assert.ErrorIs(t, r.DeleteRecord(ctx, nil, "spaceship", "x"), domain.ErrValidation)

	require.NoError(t, r.UpsertDocument(ctx, nil, domain.Document{ID: "d1", ProgramID: "p1", Title: "Charter", BodyHTML: "<p>v1</p>", UpdatedAt: ts}))
	require.NoError(t, r.UpsertDocument(ctx, nil, domain.Document{ID: "d1", ProgramID: "p1", Title: "Charter", BodyHTML: "<p>v2</p>", UpdatedAt: ts}))
	doc, err := r.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "<p>v2</p>", doc.BodyHTML)
}

func TestUsersAndAPIKeys(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.InsertUser(ctx, nil, domain.User{ID: "u1", Email: "Ada@Example.com", Name: "Ada", PasswordHash: "x", CreatedAt: ts}))
	u, err := r.GetUserByEmail(ctx, " ada@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	hash := repo.HashAPIKey("secret")
	require.NoError(t, r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k1", UserID: "u1", KeyHash: hash, CreatedAt: ts}))
	key, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(" secret "))
	require.NoError(t, err)
	assert.Equal(t, "u1", key.UserID)

	keys, err := r.ListAPIKeys(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	require.NoError(t, r.DeleteAPIKey(ctx, "k1"))
	_, err = r.GetAPIKeyByHash(ctx, hash)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestEventsCursor(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.DB.ExecContext(ctx, `INSERT INTO events(ts,type,program_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
			ts, "snapshot.taken", "p1", "snapshot", fmt.Sprintf("e%d", i), "tester", "{}")
		require.NoError(t, err)
	}
	last, err := r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)

	after, err := r.EventsAfter(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "e1", after[0].EntityID)

	latest, err := r.LatestEvents(ctx, "p1", "snapshot.taken", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "e2", latest[0].EntityID)
}

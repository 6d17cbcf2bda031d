package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"neuron/internal/domain"
	"neuron/internal/events"
	"neuron/internal/repo"
	"neuron/internal/snapshot"
)

// TakeSnapshot records the program's current progress under the current
// period key. A change of total scope against the previous period's
// snapshot is logged as its own event. The row and its events commit
// together.
func (e Engine) TakeSnapshot(ctx context.Context, programID, actorID string) (domain.Snapshot, error) {
	return e.Snapshots.TakeCurrent(ctx, programID, e.snapshotEvents(actorID))
}

// UpsertSnapshot stores caller-supplied totals under an explicit date key.
func (e Engine) UpsertSnapshot(ctx context.Context, programID, dateKey string, total, completed int, data domain.WorkstreamData, actorID string) (domain.Snapshot, error) {
	if _, err := e.Repo.GetProgram(ctx, programID); err != nil {
		return domain.Snapshot{}, domain.Storage("get program", notFound("program", programID, err))
	}
	return e.Snapshots.Upsert(ctx, programID, dateKey, total, completed, data, e.snapshotEvents(actorID))
}

// TakeAllSnapshots snapshots every program for the scheduled job.
func (e Engine) TakeAllSnapshots(ctx context.Context) ([]domain.Snapshot, error) {
	return e.Snapshots.TakeAll(ctx, e.snapshotEvents("system"))
}

func (e Engine) snapshotEvents(actorID string) snapshot.WriteHook {
	return func(ctx context.Context, tx *sql.Tx, snap domain.Snapshot) error {
		prev, err := e.Repo.LatestSnapshotBefore(ctx, tx, snap.ProgramID, snap.DateKey)
		hasPrev := err == nil
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("previous snapshot: %w", err)
		}
		if err := e.Events.Append(ctx, tx, events.SnapshotTaken, snap.ProgramID, "snapshot", snap.DateKey, actorID, events.EventPayload{
			"date_key":         snap.DateKey,
			"total_points":     snap.TotalPoints,
			"completed_points": snap.CompletedPoints,
			"percent_complete": snap.PercentComplete,
		}); err != nil {
			return fmt.Errorf("record snapshot: %w", err)
		}
		if !hasPrev || prev.TotalPoints == snap.TotalPoints {
			return nil
		}
		return e.Events.Append(ctx, tx, events.SnapshotScopeChange, snap.ProgramID, "snapshot", snap.DateKey, actorID, events.EventPayload{
			"from_date_key": prev.DateKey,
			"from":          prev.TotalPoints,
			"to":            snap.TotalPoints,
		})
	}
}

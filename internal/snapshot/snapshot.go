// Package snapshot computes and persists point-in-time progress records for
// programs, one per (program, date key).
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"neuron/internal/domain"
	"neuron/internal/period"
)

// WriteHook runs inside the transaction that writes a snapshot row. An error
// rolls the row back, so the stored snapshot is left as it was.
type WriteHook func(ctx context.Context, tx *sql.Tx, saved domain.Snapshot) error

// Store is the storage collaborator. UpsertSnapshotRow must be atomic on
// (program_id, date_key): concurrent writers for the same key leave exactly
// one row and the last write wins. A non-nil hook commits or rolls back with
// the row.
type Store interface {
	FetchWorkTree(ctx context.Context, programID string) (WorkTree, error)
	UpsertSnapshotRow(ctx context.Context, s domain.Snapshot, hook WriteHook) (domain.Snapshot, error)
	ListSnapshots(ctx context.Context, programID, from, to string) ([]domain.Snapshot, error)
	ProgramIDs(ctx context.Context) ([]string, error)
}

// Recorder receives the outcome of every snapshot write.
type Recorder interface {
	RecordSnapshot(s domain.Snapshot, err error)
}

// Service validates, aggregates and stores snapshots through a Store.
type Service struct {
	Store    Store
	Now      func() time.Time
	Logger   *zap.Logger
	Recorder Recorder
}

func New(store Store, logger *zap.Logger) *Service {
	return &Service{Store: store, Now: time.Now, Logger: logger}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// Upsert writes a snapshot for (programID, dateKey), replacing any existing
// row for that key. The key is not required to be a period start. Hooks run
// in the write's transaction.
func (s *Service) Upsert(ctx context.Context, programID, dateKey string, total, completed int, data domain.WorkstreamData, hooks ...WriteHook) (domain.Snapshot, error) {
	programID = strings.TrimSpace(programID)
	if programID == "" {
		return domain.Snapshot{}, domain.Invalid("program_id", "is required")
	}
	if _, err := period.ParseKey(dateKey); err != nil {
		return domain.Snapshot{}, domain.Invalid("date_key", "must be YYYY-MM-DD")
	}
	if total < 0 {
		return domain.Snapshot{}, domain.Invalid("total_points", "must not be negative")
	}
	if completed < 0 {
		return domain.Snapshot{}, domain.Invalid("completed_points", "must not be negative")
	}
	ts := s.now().UTC().Format(time.RFC3339)
	row := domain.Snapshot{
		ProgramID:       programID,
		DateKey:         dateKey,
		TotalPoints:     total,
		CompletedPoints: completed,
		PercentComplete: PercentComplete(total, completed),
		WorkstreamData:  data,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	saved, err := s.Store.UpsertSnapshotRow(ctx, row, chain(hooks))
	if s.Recorder != nil {
		s.Recorder.RecordSnapshot(row, err)
	}
	if err != nil {
		return domain.Snapshot{}, domain.Storage("upsert snapshot", err)
	}
	s.logger().Info("snapshot saved",
		zap.String("program_id", saved.ProgramID),
		zap.String("date_key", saved.DateKey),
		zap.Int("total_points", saved.TotalPoints),
		zap.Int("completed_points", saved.CompletedPoints))
	return saved, nil
}

// TakeCurrent aggregates the program's live work tree and upserts it under
// the current period's key. A missing program yields domain.ErrNotFound and
// nothing is written.
func (s *Service) TakeCurrent(ctx context.Context, programID string, hooks ...WriteHook) (domain.Snapshot, error) {
	if strings.TrimSpace(programID) == "" {
		return domain.Snapshot{}, domain.Invalid("program_id", "is required")
	}
	p := period.Current(s.Now)
	tree, err := s.Store.FetchWorkTree(ctx, programID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Snapshot{}, fmt.Errorf("program %s: %w", programID, domain.ErrNotFound)
		}
		return domain.Snapshot{}, domain.Storage("fetch work tree", err)
	}
	totals, err := Aggregate(tree)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return s.Upsert(ctx, programID, p.DateKey, totals.TotalPoints, totals.CompletedPoints, totals.WorkstreamData, hooks...)
}

// TakeAll snapshots every program. Failures for one program do not stop the
// others; they are returned joined.
func (s *Service) TakeAll(ctx context.Context, hooks ...WriteHook) ([]domain.Snapshot, error) {
	ids, err := s.Store.ProgramIDs(ctx)
	if err != nil {
		return nil, domain.Storage("list programs", err)
	}
	var (
		out  []domain.Snapshot
		errs []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		snap, err := s.TakeCurrent(ctx, id, hooks...)
		if err != nil {
			s.logger().Warn("snapshot failed", zap.String("program_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("program %s: %w", id, err))
			continue
		}
		out = append(out, snap)
	}
	return out, errors.Join(errs...)
}

// List returns the program's snapshots ordered by date key. Empty bounds are
// open.
func (s *Service) List(ctx context.Context, programID, from, to string) ([]domain.Snapshot, error) {
	if strings.TrimSpace(programID) == "" {
		return nil, domain.Invalid("program_id", "is required")
	}
	for field, key := range map[string]string{"from": from, "to": to} {
		if key == "" {
			continue
		}
		if _, err := period.ParseKey(key); err != nil {
			return nil, domain.Invalid(field, "must be YYYY-MM-DD")
		}
	}
	items, err := s.Store.ListSnapshots(ctx, programID, from, to)
	if err != nil {
		return nil, domain.Storage("list snapshots", err)
	}
	return items, nil
}

func chain(hooks []WriteHook) WriteHook {
	if len(hooks) == 0 {
		return nil
	}
	return func(ctx context.Context, tx *sql.Tx, saved domain.Snapshot) error {
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if err := h(ctx, tx, saved); err != nil {
				return err
			}
		}
		return nil
	}
}

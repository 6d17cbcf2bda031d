package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"neuron/internal/domain"
	"neuron/internal/snapshot"
)

var _ snapshot.Store = Repo{}

// FetchWorkTree reads a program's workstreams, live initiatives and their
// sub-tasks in one transaction so the tree is consistent.
func (r Repo) FetchWorkTree(ctx context.Context, programID string) (snapshot.WorkTree, error) {
	tree := snapshot.WorkTree{ProgramID: programID}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return tree, err
	}
	defer tx.Rollback()

	if _, err := r.GetProgramTx(ctx, tx, programID); err != nil {
		return tree, err
	}

	wsIndex := map[string]int{}
	rows, err := r.query(ctx, tx, `SELECT id,name FROM workstreams WHERE program_id=? ORDER BY sort_order, name, id`, programID)
	if err != nil {
		return tree, err
	}
	for rows.Next() {
		var ws snapshot.WorkstreamNode
		if err := rows.Scan(&ws.ID, &ws.Name); err != nil {
			rows.Close()
			return tree, err
		}
		wsIndex[ws.ID] = len(tree.Workstreams)
		tree.Workstreams = append(tree.Workstreams, ws)
	}
	if err := closeRows(rows); err != nil {
		return tree, err
	}

	type initiativeRef struct{ ws, idx int }
	inIndex := map[string]initiativeRef{}
	rows, err = r.query(ctx, tx, `SELECT i.id,i.workstream_id,i.name FROM initiatives i
JOIN workstreams w ON w.id=i.workstream_id
WHERE w.program_id=? AND i.archived=0
ORDER BY i.created_at, i.id`, programID)
	if err != nil {
		return tree, err
	}
	for rows.Next() {
		var (
			in   snapshot.InitiativeNode
			wsID string
		)
		if err := rows.Scan(&in.ID, &wsID, &in.Name); err != nil {
			rows.Close()
			return tree, err
		}
		wi, ok := wsIndex[wsID]
		if !ok {
			continue
		}
		ws := &tree.Workstreams[wi]
		inIndex[in.ID] = initiativeRef{ws: wi, idx: len(ws.Initiatives)}
		ws.Initiatives = append(ws.Initiatives, in)
	}
	if err := closeRows(rows); err != nil {
		return tree, err
	}

	rows, err = r.query(ctx, tx, `SELECT s.initiative_id,s.points,s.completion_percent FROM sub_tasks s
JOIN initiatives i ON i.id=s.initiative_id
JOIN workstreams w ON w.id=i.workstream_id
WHERE w.program_id=? AND i.archived=0
ORDER BY s.created_at, s.id`, programID)
	if err != nil {
		return tree, err
	}
	for rows.Next() {
		var (
			st   snapshot.SubTaskNode
			inID string
		)
		if err := rows.Scan(&inID, &st.Points, &st.CompletionPercent); err != nil {
			rows.Close()
			return tree, err
		}
		ref, ok := inIndex[inID]
		if !ok {
			continue
		}
		in := &tree.Workstreams[ref.ws].Initiatives[ref.idx]
		in.SubTasks = append(in.SubTasks, st)
	}
	if err := closeRows(rows); err != nil {
		return tree, err
	}
	return tree, tx.Commit()
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// UpsertSnapshotRow writes the row in a single statement keyed on
// (program_id, date_key). created_at survives replacement. hook, when set,
// runs in the same transaction and its error rolls the row back.
func (r Repo) UpsertSnapshotRow(ctx context.Context, s domain.Snapshot, hook snapshot.WriteHook) (domain.Snapshot, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	saved, err := r.upsertSnapshot(ctx, tx, s)
	if err != nil {
		return s, err
	}
	if hook != nil {
		if err := hook(ctx, tx, saved); err != nil {
			return s, err
		}
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return saved, nil
}

func (r Repo) upsertSnapshot(ctx context.Context, tx *sql.Tx, s domain.Snapshot) (domain.Snapshot, error) {
	data, err := encodeWorkstreamData(s.WorkstreamData)
	if err != nil {
		return s, err
	}
	row := r.queryRow(ctx, tx, `INSERT INTO snapshots(program_id,date_key,total_points,completed_points,percent_complete,workstream_data,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(program_id,date_key) DO UPDATE SET
  total_points=excluded.total_points,
  completed_points=excluded.completed_points,
  percent_complete=excluded.percent_complete,
  workstream_data=excluded.workstream_data,
  updated_at=excluded.updated_at
RETURNING created_at`,
		s.ProgramID, s.DateKey, s.TotalPoints, s.CompletedPoints, s.PercentComplete, data, s.CreatedAt, s.UpdatedAt)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return s, err
	}
	return s, nil
}

const snapshotColumns = `program_id,date_key,total_points,completed_points,percent_complete,workstream_data,created_at,updated_at`

func scanSnapshot(row interface{ Scan(...any) error }) (domain.Snapshot, error) {
	var (
		s    domain.Snapshot
		data sql.NullString
	)
	err := row.Scan(&s.ProgramID, &s.DateKey, &s.TotalPoints, &s.CompletedPoints, &s.PercentComplete, &data, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &s.WorkstreamData); err != nil {
			return s, fmt.Errorf("decode workstream_data for %s/%s: %w", s.ProgramID, s.DateKey, err)
		}
	}
	return s, nil
}

func (r Repo) GetSnapshot(ctx context.Context, programID, dateKey string) (domain.Snapshot, error) {
	return scanSnapshot(r.queryRow(ctx, nil, `SELECT `+snapshotColumns+` FROM snapshots WHERE program_id=? AND date_key=?`, programID, dateKey))
}

// ListSnapshots returns a program's snapshots ascending by date key. Empty
// bounds are open.
func (r Repo) ListSnapshots(ctx context.Context, programID, from, to string) ([]domain.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE program_id=?`
	args := []any{programID}
	if from != "" {
		query += ` AND date_key>=?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND date_key<=?`
		args = append(args, to)
	}
	query += ` ORDER BY date_key`
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// LatestSnapshotBefore returns the newest snapshot with a date key strictly
// before dateKey. tx may be nil.
func (r Repo) LatestSnapshotBefore(ctx context.Context, tx *sql.Tx, programID, dateKey string) (domain.Snapshot, error) {
	return scanSnapshot(r.queryRow(ctx, tx, `SELECT `+snapshotColumns+` FROM snapshots WHERE program_id=? AND date_key<? ORDER BY date_key DESC LIMIT 1`, programID, dateKey))
}

func (r Repo) ProgramIDs(ctx context.Context) ([]string, error) {
	rows, err := r.query(ctx, nil, `SELECT id FROM programs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func encodeWorkstreamData(data domain.WorkstreamData) (any, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode workstream_data: %w", err)
	}
	return string(b), nil
}

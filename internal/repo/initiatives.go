package repo

import (
	"context"
	"database/sql"
	"errors"

	"neuron/internal/domain"
)

const initiativeColumns = `id,workstream_id,name,COALESCE(description,'') AS description,status,owner_id,target_date,archived,created_at,updated_at`

func scanInitiative(row interface{ Scan(...any) error }) (domain.Initiative, error) {
	var (
		in       domain.Initiative
		owner    sql.NullString
		target   sql.NullString
		archived int
	)
	err := row.Scan(&in.ID, &in.WorkstreamID, &in.Name, &in.Description, &in.Status, &owner, &target, &archived, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	in.OwnerID = optionalString(owner)
	in.TargetDate = optionalString(target)
	in.Archived = archived != 0
	return in, nil
}

func (r Repo) InsertInitiative(ctx context.Context, tx *sql.Tx, in domain.Initiative) error {
	_, err := r.exec(ctx, tx, `INSERT INTO initiatives(id,workstream_id,name,description,status,owner_id,target_date,archived,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.WorkstreamID, in.Name, nullable(in.Description), in.Status, nullableStringPtr(in.OwnerID), nullableStringPtr(in.TargetDate), boolInt(in.Archived), in.CreatedAt, in.UpdatedAt)
	return err
}

// UpdateInitiative rewrites every mutable column of the initiative.
func (r Repo) UpdateInitiative(ctx context.Context, tx *sql.Tx, in domain.Initiative) error {
	return r.execOne(ctx, tx, `UPDATE initiatives SET name=?,description=?,status=?,owner_id=?,target_date=?,archived=?,updated_at=? WHERE id=?`,
		in.Name, nullable(in.Description), in.Status, nullableStringPtr(in.OwnerID), nullableStringPtr(in.TargetDate), boolInt(in.Archived), in.UpdatedAt, in.ID)
}

func (r Repo) GetInitiative(ctx context.Context, id string) (domain.Initiative, error) {
	return scanInitiative(r.queryRow(ctx, nil, `SELECT `+initiativeColumns+` FROM initiatives WHERE id=?`, id))
}

func (r Repo) GetInitiativeTx(ctx context.Context, tx *sql.Tx, id string) (domain.Initiative, error) {
	return scanInitiative(r.queryRow(ctx, tx, `SELECT `+initiativeColumns+` FROM initiatives WHERE id=?`, id))
}

// ListInitiatives returns a workstream's initiatives, archived ones included
// only when asked.
func (r Repo) ListInitiatives(ctx context.Context, workstreamID string, includeArchived bool) ([]domain.Initiative, error) {
	query := `SELECT ` + initiativeColumns + ` FROM initiatives WHERE workstream_id=?`
	if !includeArchived {
		query += ` AND archived=0`
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.query(ctx, nil, query, workstreamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Initiative
	for rows.Next() {
		in, err := scanInitiative(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// ProgramOfInitiative resolves the program an initiative belongs to.
func (r Repo) ProgramOfInitiative(ctx context.Context, tx *sql.Tx, initiativeID string) (string, error) {
	var programID string
	err := r.queryRow(ctx, tx, `SELECT w.program_id FROM initiatives i JOIN workstreams w ON w.id=i.workstream_id WHERE i.id=?`, initiativeID).Scan(&programID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return programID, err
}

const subTaskColumns = `id,initiative_id,name,points,completion_percent,created_at,updated_at`

func scanSubTask(row interface{ Scan(...any) error }) (domain.SubTask, error) {
	var st domain.SubTask
	err := row.Scan(&st.ID, &st.InitiativeID, &st.Name, &st.Points, &st.CompletionPercent, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, ErrNotFound
	}
	return st, err
}

func (r Repo) InsertSubTask(ctx context.Context, tx *sql.Tx, st domain.SubTask) error {
	_, err := r.exec(ctx, tx, `INSERT INTO sub_tasks(id,initiative_id,name,points,completion_percent,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		st.ID, st.InitiativeID, st.Name, st.Points, st.CompletionPercent, st.CreatedAt, st.UpdatedAt)
	return err
}

func (r Repo) GetSubTask(ctx context.Context, id string) (domain.SubTask, error) {
	return scanSubTask(r.queryRow(ctx, nil, `SELECT `+subTaskColumns+` FROM sub_tasks WHERE id=?`, id))
}

func (r Repo) GetSubTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.SubTask, error) {
	return scanSubTask(r.queryRow(ctx, tx, `SELECT `+subTaskColumns+` FROM sub_tasks WHERE id=?`, id))
}

func (r Repo) ListSubTasks(ctx context.Context, initiativeID string) ([]domain.SubTask, error) {
	rows, err := r.query(ctx, nil, `SELECT `+subTaskColumns+` FROM sub_tasks WHERE initiative_id=? ORDER BY created_at, id`, initiativeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubTask
	for rows.Next() {
		st, err := scanSubTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

func (r Repo) UpdateSubTask(ctx context.Context, tx *sql.Tx, st domain.SubTask) error {
	return r.execOne(ctx, tx, `UPDATE sub_tasks SET name=?,points=?,completion_percent=?,updated_at=? WHERE id=?`,
		st.Name, st.Points, st.CompletionPercent, st.UpdatedAt, st.ID)
}

func (r Repo) DeleteSubTask(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execOne(ctx, tx, `DELETE FROM sub_tasks WHERE id=?`, id)
}

func (r Repo) InsertMilestone(ctx context.Context, tx *sql.Tx, m domain.Milestone) error {
	_, err := r.exec(ctx, tx, `INSERT INTO milestones(id,initiative_id,name,due_date,completed,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.InitiativeID, m.Name, m.DueDate, boolInt(m.Completed), m.CreatedAt)
	return err
}

func (r Repo) ListMilestones(ctx context.Context, initiativeID string) ([]domain.Milestone, error) {
	rows, err := r.query(ctx, nil, `SELECT id,initiative_id,name,due_date,completed,created_at FROM milestones WHERE initiative_id=? ORDER BY due_date, id`, initiativeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		var (
			m         domain.Milestone
			completed int
		)
		if err := rows.Scan(&m.ID, &m.InitiativeID, &m.Name, &m.DueDate, &completed, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Completed = completed != 0
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) SetMilestoneCompleted(ctx context.Context, tx *sql.Tx, id string, completed bool) error {
	return r.execOne(ctx, tx, `UPDATE milestones SET completed=? WHERE id=?`, boolInt(completed), id)
}

func (r Repo) DeleteMilestone(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execOne(ctx, tx, `DELETE FROM milestones WHERE id=?`, id)
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"neuron/internal/db"
	"neuron/internal/domain"
)

// Repo is the SQL storage layer shared by sqlite and postgres. Queries are
// written with ? placeholders and rebound per dialect.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var ErrNotFound = domain.ErrNotFound

func New(conn *sql.DB, dialect db.Dialect) Repo {
	return Repo{DB: conn, Dialect: dialect}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// on returns tx when set, otherwise the pool. Code holding a tx must pass it
// through: the sqlite pool has a single connection.
func (r Repo) on(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	return r.on(tx).ExecContext(ctx, r.Dialect.Rebind(query), args...)
}

func (r Repo) query(ctx context.Context, tx *sql.Tx, query string, args ...any) (*sql.Rows, error) {
	return r.on(tx).QueryContext(ctx, r.Dialect.Rebind(query), args...)
}

func (r Repo) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...any) *sql.Row {
	return r.on(tx).QueryRowContext(ctx, r.Dialect.Rebind(query), args...)
}

// execOne runs a statement that must touch exactly one row.
func (r Repo) execOne(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := r.exec(ctx, tx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertProgram(ctx context.Context, tx *sql.Tx, p domain.Program) error {
	_, err := r.exec(ctx, tx, `INSERT INTO programs(id,name,description,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.CreatedAt)
	return err
}

func scanProgram(row interface{ Scan(...any) error }) (domain.Program, error) {
	var p domain.Program
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

const programColumns = `id,name,COALESCE(description,'') AS description,created_at`

func (r Repo) GetProgram(ctx context.Context, id string) (domain.Program, error) {
	return scanProgram(r.queryRow(ctx, nil, `SELECT `+programColumns+` FROM programs WHERE id=?`, id))
}

func (r Repo) GetProgramTx(ctx context.Context, tx *sql.Tx, id string) (domain.Program, error) {
	return scanProgram(r.queryRow(ctx, tx, `SELECT `+programColumns+` FROM programs WHERE id=?`, id))
}

func (r Repo) ListPrograms(ctx context.Context) ([]domain.Program, error) {
	rows, err := r.query(ctx, nil, `SELECT `+programColumns+` FROM programs ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProgram(ctx context.Context, tx *sql.Tx, id string, name, description *string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	return r.execOne(ctx, tx, fmt.Sprintf(`UPDATE programs SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
}

func (r Repo) DeleteProgram(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execOne(ctx, tx, `DELETE FROM programs WHERE id=?`, id)
}

func (r Repo) InsertWorkstream(ctx context.Context, tx *sql.Tx, ws domain.Workstream) error {
	_, err := r.exec(ctx, tx, `INSERT INTO workstreams(id,program_id,name,description,sort_order,created_at) VALUES (?,?,?,?,?,?)`,
		ws.ID, ws.ProgramID, ws.Name, nullable(ws.Description), ws.SortOrder, ws.CreatedAt)
	return err
}

const workstreamColumns = `id,program_id,name,COALESCE(description,'') AS description,sort_order,created_at`

func scanWorkstream(row interface{ Scan(...any) error }) (domain.Workstream, error) {
	var ws domain.Workstream
	err := row.Scan(&ws.ID, &ws.ProgramID, &ws.Name, &ws.Description, &ws.SortOrder, &ws.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ws, ErrNotFound
	}
	return ws, err
}

func (r Repo) GetWorkstream(ctx context.Context, id string) (domain.Workstream, error) {
	return scanWorkstream(r.queryRow(ctx, nil, `SELECT `+workstreamColumns+` FROM workstreams WHERE id=?`, id))
}

func (r Repo) GetWorkstreamTx(ctx context.Context, tx *sql.Tx, id string) (domain.Workstream, error) {
	return scanWorkstream(r.queryRow(ctx, tx, `SELECT `+workstreamColumns+` FROM workstreams WHERE id=?`, id))
}

func (r Repo) ListWorkstreams(ctx context.Context, programID string) ([]domain.Workstream, error) {
	rows, err := r.query(ctx, nil, `SELECT `+workstreamColumns+` FROM workstreams WHERE program_id=? ORDER BY sort_order, name, id`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workstream
	for rows.Next() {
		ws, err := scanWorkstream(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ws)
	}
	return res, rows.Err()
}

// NextWorkstreamOrder returns one past the highest sort order in the program.
func (r Repo) NextWorkstreamOrder(ctx context.Context, tx *sql.Tx, programID string) (int, error) {
	var n int
	err := r.queryRow(ctx, tx, `SELECT COALESCE(MAX(sort_order),-1)+1 FROM workstreams WHERE program_id=?`, programID).Scan(&n)
	return n, err
}

func (r Repo) DeleteWorkstream(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execOne(ctx, tx, `DELETE FROM workstreams WHERE id=?`, id)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func optionalString(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package repo

import (
	"context"
	"database/sql"
	"errors"

	"neuron/internal/domain"
)

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, is domain.Issue) error {
	_, err := r.exec(ctx, tx, `INSERT INTO issues(id,program_id,initiative_id,title,severity,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		is.ID, is.ProgramID, nullableStringPtr(is.InitiativeID), is.Title, is.Severity, is.Status, is.CreatedAt)
	return err
}

func (r Repo) ListIssues(ctx context.Context, programID string) ([]domain.Issue, error) {
	rows, err := r.query(ctx, nil, `SELECT id,program_id,initiative_id,title,severity,status,created_at FROM issues WHERE program_id=? ORDER BY created_at DESC, id`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		var (
			is         domain.Issue
			initiative sql.NullString
		)
		if err := rows.Scan(&is.ID, &is.ProgramID, &initiative, &is.Title, &is.Severity, &is.Status, &is.CreatedAt); err != nil {
			return nil, err
		}
		is.InitiativeID = optionalString(initiative)
		res = append(res, is)
	}
	return res, rows.Err()
}

func (r Repo) SetIssueStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	return r.execOne(ctx, tx, `UPDATE issues SET status=? WHERE id=?`, status, id)
}

func (r Repo) InsertPartner(ctx context.Context, tx *sql.Tx, p domain.Partner) error {
	_, err := r.exec(ctx, tx, `INSERT INTO partners(id,program_id,name,contact,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.ProgramID, p.Name, nullable(p.Contact), p.CreatedAt)
	return err
}

func (r Repo) ListPartners(ctx context.Context, programID string) ([]domain.Partner, error) {
	rows, err := r.query(ctx, nil, `SELECT id,program_id,name,COALESCE(contact,''),created_at FROM partners WHERE program_id=? ORDER BY name, id`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Partner
	for rows.Next() {
		var p domain.Partner
		if err := rows.Scan(&p.ID, &p.ProgramID, &p.Name, &p.Contact, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertPerson(ctx context.Context, tx *sql.Tx, p domain.Person) error {
	_, err := r.exec(ctx, tx, `INSERT INTO people(id,program_id,name,email,role,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.ProgramID, p.Name, nullable(p.Email), nullable(p.Role), p.CreatedAt)
	return err
}

func (r Repo) ListPeople(ctx context.Context, programID string) ([]domain.Person, error) {
	rows, err := r.query(ctx, nil, `SELECT id,program_id,name,COALESCE(email,''),COALESCE(role,''),created_at FROM people WHERE program_id=? ORDER BY name, id`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.ProgramID, &p.Name, &p.Email, &p.Role, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertCostEntry(ctx context.Context, tx *sql.Tx, c domain.CostEntry) error {
	_, err := r.exec(ctx, tx, `INSERT INTO cost_entries(id,program_id,workstream_id,description,amount_cents,incurred_on,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.ProgramID, nullableStringPtr(c.WorkstreamID), c.Description, c.AmountCents, c.IncurredOn, c.CreatedAt)
	return err
}

func (r Repo) ListCostEntries(ctx context.Context, programID string) ([]domain.CostEntry, error) {
	rows, err := r.query(ctx, nil, `SELECT id,program_id,workstream_id,description,amount_cents,incurred_on,created_at FROM cost_entries WHERE program_id=? ORDER BY incurred_on, id`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CostEntry
	for rows.Next() {
		var (
			c  domain.CostEntry
			ws sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.ProgramID, &ws, &c.Description, &c.AmountCents, &c.IncurredOn, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.WorkstreamID = optionalString(ws)
		res = append(res, c)
	}
	return res, rows.Err()
}

// TotalCostCents sums a program's cost entries.
func (r Repo) TotalCostCents(ctx context.Context, programID string) (int64, error) {
	var total int64
	err := r.queryRow(ctx, nil, `SELECT COALESCE(SUM(amount_cents),0) FROM cost_entries WHERE program_id=?`, programID).Scan(&total)
	return total, err
}

// UpsertDocument inserts or replaces a document by id.
func (r Repo) UpsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := r.exec(ctx, tx, `INSERT INTO documents(id,program_id,title,body_html,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET title=excluded.title, body_html=excluded.body_html, updated_at=excluded.updated_at`,
		d.ID, d.ProgramID, d.Title, d.BodyHTML, d.UpdatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var d domain.Document
	err := r.queryRow(ctx, nil, `SELECT id,program_id,title,body_html,updated_at FROM documents WHERE id=?`, id).
		Scan(&d.ID, &d.ProgramID, &d.Title, &d.BodyHTML, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListDocuments(ctx context.Context, programID string) ([]domain.Document, error) {
	rows, err := r.query(ctx, nil, `SELECT id,program_id,title,body_html,updated_at FROM documents WHERE program_id=? ORDER BY title, id`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.ProgramID, &d.Title, &d.BodyHTML, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// recordTables maps record kinds that can be deleted generically to their
// program-scoped tables.
var recordTables = map[string]string{
	"issue":     "issues",
	"partner":   "partners",
	"person":    "people",
	"cost":      "cost_entries",
	"document":  "documents",
	"milestone": "milestones",
}

// RecordProgram returns the program a record belongs to.
func (r Repo) RecordProgram(ctx context.Context, tx *sql.Tx, kind, id string) (string, error) {
	var query string
	switch table, ok := recordTables[kind]; {
	case kind == "milestone":
		query = `SELECT w.program_id FROM milestones m
JOIN initiatives i ON i.id=m.initiative_id
JOIN workstreams w ON w.id=i.workstream_id
WHERE m.id=?`
	case ok:
		query = `SELECT program_id FROM ` + table + ` WHERE id=?`
	default:
		return "", domain.Invalid("kind", "unknown record kind "+kind)
	}
	var programID string
	err := r.queryRow(ctx, tx, query, id).Scan(&programID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return programID, err
}

// DeleteRecord removes a program-owned record of the given kind.
func (r Repo) DeleteRecord(ctx context.Context, tx *sql.Tx, kind, id string) error {
	table, ok := recordTables[kind]
	if !ok {
		return domain.Invalid("kind", "unknown record kind "+kind)
	}
	return r.execOne(ctx, tx, `DELETE FROM `+table+` WHERE id=?`, id)
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"neuron/internal/db"
	"neuron/internal/domain"
	"neuron/internal/events"
	"neuron/internal/repo"
	"neuron/internal/snapshot"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Snapshots *snapshot.Service
	Logger    *zap.Logger
	Now       func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := repo.New(conn, dialect)
	return Engine{
		DB:        conn,
		Repo:      r,
		Events:    events.Writer{DB: conn, Dialect: dialect},
		Snapshots: snapshot.New(r, logger),
		Logger:    logger,
		Now:       time.Now,
	}
}

// WithClock returns a copy of e whose writers, events and snapshots all read
// time from now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	if e.Snapshots != nil {
		svc := *e.Snapshots
		svc.Now = now
		e.Snapshots = &svc
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// inTx runs fn in a transaction. Driver failures surface as
// domain.ErrStorageUnavailable; not-found and validation outcomes pass
// through untouched.
func (e Engine) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Storage(op, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return domain.Storage(op, err)
	}
	return domain.Storage(op, tx.Commit())
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return err
}

func newID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

func required(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", domain.Invalid(field, "is required")
	}
	return value, nil
}

// ProgramCreateOptions are parameters for creating a program.
type ProgramCreateOptions struct {
	ID          string
	Name        string
	Description string
	ActorID     string
}

func (e Engine) CreateProgram(ctx context.Context, opts ProgramCreateOptions) (domain.Program, error) {
	name, err := required("name", opts.Name)
	if err != nil {
		return domain.Program{}, err
	}
	p := domain.Program{
		ID:          newID(opts.ID),
		Name:        name,
		Description: strings.TrimSpace(opts.Description),
		CreatedAt:   e.timestamp(),
	}
	err = e.inTx(ctx, "create program", func(tx *sql.Tx) error {
		if err := e.Repo.InsertProgram(ctx, tx, p); err != nil {
			return fmt.Errorf("insert program: %w", err)
		}
		return e.Events.Append(ctx, tx, events.ProgramCreated, p.ID, "program", p.ID, opts.ActorID, events.EventPayload{"name": p.Name})
	})
	if err != nil {
		return domain.Program{}, err
	}
	return p, nil
}

// UpdateProgram renames or redescribes a program. Nil fields are unchanged.
func (e Engine) UpdateProgram(ctx context.Context, id string, name, description *string, actorID string) (domain.Program, error) {
	if name != nil {
		n, err := required("name", *name)
		if err != nil {
			return domain.Program{}, err
		}
		name = &n
	}
	var p domain.Program
	err := e.inTx(ctx, "update program", func(tx *sql.Tx) error {
		if err := e.Repo.UpdateProgram(ctx, tx, id, name, description); err != nil {
			return notFound("program", id, err)
		}
		var err error
		if p, err = e.Repo.GetProgramTx(ctx, tx, id); err != nil {
			return notFound("program", id, err)
		}
		return e.Events.Append(ctx, tx, events.ProgramUpdated, id, "program", id, actorID, events.EventPayload{"name": p.Name})
	})
	return p, err
}

// DeleteProgram removes a program and everything it owns.
func (e Engine) DeleteProgram(ctx context.Context, id, actorID string) error {
	return e.inTx(ctx, "delete program", func(tx *sql.Tx) error {
		if err := e.Repo.DeleteProgram(ctx, tx, id); err != nil {
			return notFound("program", id, err)
		}
		return e.Events.Append(ctx, tx, events.ProgramDeleted, id, "program", id, actorID, nil)
	})
}

// WorkstreamCreateOptions are parameters for creating a workstream. A nil
// SortOrder appends after the program's last workstream.
type WorkstreamCreateOptions struct {
	ID          string
	ProgramID   string
	Name        string
	Description string
	SortOrder   *int
	ActorID     string
}

func (e Engine) CreateWorkstream(ctx context.Context, opts WorkstreamCreateOptions) (domain.Workstream, error) {
	name, err := required("name", opts.Name)
	if err != nil {
		return domain.Workstream{}, err
	}
	ws := domain.Workstream{
		ID:          newID(opts.ID),
		ProgramID:   opts.ProgramID,
		Name:        name,
		Description: strings.TrimSpace(opts.Description),
		CreatedAt:   e.timestamp(),
	}
	err = e.inTx(ctx, "create workstream", func(tx *sql.Tx) error {
		if _, err := e.Repo.GetProgramTx(ctx, tx, opts.ProgramID); err != nil {
			return notFound("program", opts.ProgramID, err)
		}
		if opts.SortOrder != nil {
			ws.SortOrder = *opts.SortOrder
		} else {
			n, err := e.Repo.NextWorkstreamOrder(ctx, tx, opts.ProgramID)
			if err != nil {
				return err
			}
			ws.SortOrder = n
		}
		if err := e.Repo.InsertWorkstream(ctx, tx, ws); err != nil {
			return fmt.Errorf("insert workstream: %w", err)
		}
		return e.Events.Append(ctx, tx, events.WorkstreamCreated, ws.ProgramID, "workstream", ws.ID, opts.ActorID, events.EventPayload{"name": ws.Name})
	})
	if err != nil {
		return domain.Workstream{}, err
	}
	return ws, nil
}

func (e Engine) DeleteWorkstream(ctx context.Context, id, actorID string) error {
	ws, err := e.Repo.GetWorkstream(ctx, id)
	if err != nil {
		return domain.Storage("get workstream", notFound("workstream", id, err))
	}
	return e.inTx(ctx, "delete workstream", func(tx *sql.Tx) error {
		if err := e.Repo.DeleteWorkstream(ctx, tx, id); err != nil {
			return notFound("workstream", id, err)
		}
		return e.Events.Append(ctx, tx, events.WorkstreamDeleted, ws.ProgramID, "workstream", id, actorID, nil)
	})
}

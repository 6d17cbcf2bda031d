package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"neuron/internal/domain"
	"neuron/internal/events"
)

// InitiativeField is one typed change to an initiative. The set of
// implementations is closed: only this package can add one.
type InitiativeField interface {
	// Field is the wire name of the field.
	Field() string
	apply(in *domain.Initiative) error
	value() any
}

type (
	InitiativeName        string
	InitiativeDescription string
	InitiativeStatus      string
	// InitiativeOwner sets the owning user; empty clears it.
	InitiativeOwner string
	// InitiativeTargetDate is a YYYY-MM-DD date; empty clears it.
	InitiativeTargetDate string
	InitiativeArchived   bool
)

func (InitiativeName) Field() string        { return "name" }
func (InitiativeDescription) Field() string { return "description" }
func (InitiativeStatus) Field() string      { return "status" }
func (InitiativeOwner) Field() string       { return "owner_id" }
func (InitiativeTargetDate) Field() string  { return "target_date" }
func (InitiativeArchived) Field() string    { return "archived" }

func (f InitiativeName) apply(in *domain.Initiative) error {
	name, err := required("name", string(f))
	if err != nil {
		return err
	}
	in.Name = name
	return nil
}

func (f InitiativeDescription) apply(in *domain.Initiative) error {
	in.Description = strings.TrimSpace(string(f))
	return nil
}

var initiativeStatuses = map[string]bool{
	domain.InitiativePlanned: true,
	domain.InitiativeActive:  true,
	domain.InitiativeBlocked: true,
	domain.InitiativeDone:    true,
}

func (f InitiativeStatus) apply(in *domain.Initiative) error {
	status := strings.ToLower(strings.TrimSpace(string(f)))
	if !initiativeStatuses[status] {
		return domain.Invalid("status", fmt.Sprintf("unknown status %q", string(f)))
	}
	in.Status = status
	return nil
}

func (f InitiativeOwner) apply(in *domain.Initiative) error {
	in.OwnerID = optional(string(f))
	return nil
}

func (f InitiativeTargetDate) apply(in *domain.Initiative) error {
	v := strings.TrimSpace(string(f))
	if v == "" {
		in.TargetDate = nil
		return nil
	}
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return domain.Invalid("target_date", "must be YYYY-MM-DD")
	}
	in.TargetDate = &v
	return nil
}

func (f InitiativeArchived) apply(in *domain.Initiative) error {
	in.Archived = bool(f)
	return nil
}

func (f InitiativeName) value() any        { return string(f) }
func (f InitiativeDescription) value() any { return string(f) }
func (f InitiativeStatus) value() any      { return string(f) }
func (f InitiativeOwner) value() any       { return string(f) }
func (f InitiativeTargetDate) value() any  { return string(f) }
func (f InitiativeArchived) value() any    { return bool(f) }

// ParseInitiativeField converts an untyped form or JSON field into its typed
// change. Unknown names and malformed values are validation errors.
func ParseInitiativeField(name, value string) (InitiativeField, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "name":
		return InitiativeName(value), nil
	case "description":
		return InitiativeDescription(value), nil
	case "status":
		f := InitiativeStatus(value)
		if err := f.apply(&domain.Initiative{}); err != nil {
			return nil, err
		}
		return f, nil
	case "owner", "owner_id":
		return InitiativeOwner(strings.TrimSpace(value)), nil
	case "target_date":
		f := InitiativeTargetDate(value)
		if err := f.apply(&domain.Initiative{}); err != nil {
			return nil, err
		}
		return f, nil
	case "archived":
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, domain.Invalid("archived", "must be true or false")
		}
		return InitiativeArchived(b), nil
	default:
		return nil, domain.Invalid("field", fmt.Sprintf("unknown initiative field %q", name))
	}
}

// InitiativeCreateOptions are parameters for creating an initiative.
type InitiativeCreateOptions struct {
	ID           string
	WorkstreamID string
	Name         string
	Description  string
	Status       string
	OwnerID      string
	TargetDate   string
	ActorID      string
}

func (e Engine) CreateInitiative(ctx context.Context, opts InitiativeCreateOptions) (domain.Initiative, error) {
	now := e.timestamp()
	in := domain.Initiative{
		ID:           newID(opts.ID),
		WorkstreamID: opts.WorkstreamID,
		Status:       domain.InitiativePlanned,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	fields := []InitiativeField{
		InitiativeName(opts.Name),
		InitiativeDescription(opts.Description),
		InitiativeOwner(opts.OwnerID),
		InitiativeTargetDate(opts.TargetDate),
	}
	if opts.Status != "" {
		fields = append(fields, InitiativeStatus(opts.Status))
	}
	for _, f := range fields {
		if err := f.apply(&in); err != nil {
			return domain.Initiative{}, err
		}
	}
	err := e.inTx(ctx, "create initiative", func(tx *sql.Tx) error {
		ws, err := e.Repo.GetWorkstreamTx(ctx, tx, opts.WorkstreamID)
		if err != nil {
			return notFound("workstream", opts.WorkstreamID, err)
		}
		if err := e.Repo.InsertInitiative(ctx, tx, in); err != nil {
			return fmt.Errorf("insert initiative: %w", err)
		}
		return e.Events.Append(ctx, tx, events.InitiativeCreated, ws.ProgramID, "initiative", in.ID, opts.ActorID, events.EventPayload{"name": in.Name, "status": in.Status})
	})
	if err != nil {
		return domain.Initiative{}, err
	}
	return in, nil
}

// UpdateInitiative applies fields in order inside one transaction. Any
// invalid field aborts the whole update.
func (e Engine) UpdateInitiative(ctx context.Context, id, actorID string, fields ...InitiativeField) (domain.Initiative, error) {
	if len(fields) == 0 {
		return domain.Initiative{}, domain.Invalid("fields", "at least one field is required")
	}
	var in domain.Initiative
	err := e.inTx(ctx, "update initiative", func(tx *sql.Tx) error {
		var err error
		if in, err = e.Repo.GetInitiativeTx(ctx, tx, id); err != nil {
			return notFound("initiative", id, err)
		}
		changes := events.EventPayload{}
		for _, f := range fields {
			if err := f.apply(&in); err != nil {
				return err
			}
			changes[f.Field()] = f.value()
		}
		in.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateInitiative(ctx, tx, in); err != nil {
			return notFound("initiative", id, err)
		}
		programID, err := e.Repo.ProgramOfInitiative(ctx, tx, id)
		if err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.InitiativeUpdated, programID, "initiative", id, actorID, changes)
	})
	if err != nil {
		return domain.Initiative{}, err
	}
	return in, nil
}

// SubTaskCreateOptions are parameters for creating a sub-task.
type SubTaskCreateOptions struct {
	ID                string
	InitiativeID      string
	Name              string
	Points            int
	CompletionPercent int
	ActorID           string
}

func validatePoints(points int) error {
	if points < 0 {
		return domain.Invalid("points", "must not be negative")
	}
	return nil
}

func validatePercent(pct int) error {
	if pct < 0 || pct > 100 {
		return domain.Invalid("completion_percent", "must be between 0 and 100")
	}
	return nil
}

func (e Engine) CreateSubTask(ctx context.Context, opts SubTaskCreateOptions) (domain.SubTask, error) {
	name, err := required("name", opts.Name)
	if err != nil {
		return domain.SubTask{}, err
	}
	if err := validatePoints(opts.Points); err != nil {
		return domain.SubTask{}, err
	}
	if err := validatePercent(opts.CompletionPercent); err != nil {
		return domain.SubTask{}, err
	}
	now := e.timestamp()
	st := domain.SubTask{
		ID:                newID(opts.ID),
		InitiativeID:      opts.InitiativeID,
		Name:              name,
		Points:            opts.Points,
		CompletionPercent: opts.CompletionPercent,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = e.inTx(ctx, "create subtask", func(tx *sql.Tx) error {
		programID, err := e.Repo.ProgramOfInitiative(ctx, tx, opts.InitiativeID)
		if err != nil {
			return notFound("initiative", opts.InitiativeID, err)
		}
		if err := e.Repo.InsertSubTask(ctx, tx, st); err != nil {
			return fmt.Errorf("insert subtask: %w", err)
		}
		return e.Events.Append(ctx, tx, events.SubTaskCreated, programID, "subtask", st.ID, opts.ActorID, events.EventPayload{"points": st.Points})
	})
	if err != nil {
		return domain.SubTask{}, err
	}
	return st, nil
}

// SetSubTaskProgress records a new completion percentage and, optionally,
// a new estimate when points is non-nil.
func (e Engine) SetSubTaskProgress(ctx context.Context, id, actorID string, completionPercent int, points *int) (domain.SubTask, error) {
	if err := validatePercent(completionPercent); err != nil {
		return domain.SubTask{}, err
	}
	if points != nil {
		if err := validatePoints(*points); err != nil {
			return domain.SubTask{}, err
		}
	}
	var st domain.SubTask
	err := e.inTx(ctx, "set subtask progress", func(tx *sql.Tx) error {
		var err error
		if st, err = e.Repo.GetSubTaskTx(ctx, tx, id); err != nil {
			return notFound("subtask", id, err)
		}
		payload := events.EventPayload{"from": st.CompletionPercent, "to": completionPercent}
		st.CompletionPercent = completionPercent
		if points != nil {
			payload["points_from"] = st.Points
			payload["points_to"] = *points
			st.Points = *points
		}
		st.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateSubTask(ctx, tx, st); err != nil {
			return notFound("subtask", id, err)
		}
		programID, err := e.Repo.ProgramOfInitiative(ctx, tx, st.InitiativeID)
		if err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.SubTaskProgress, programID, "subtask", id, actorID, payload)
	})
	if err != nil {
		return domain.SubTask{}, err
	}
	return st, nil
}

func (e Engine) DeleteSubTask(ctx context.Context, id, actorID string) error {
	return e.inTx(ctx, "delete subtask", func(tx *sql.Tx) error {
		st, err := e.Repo.GetSubTaskTx(ctx, tx, id)
		if err != nil {
			return notFound("subtask", id, err)
		}
		programID, err := e.Repo.ProgramOfInitiative(ctx, tx, st.InitiativeID)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteSubTask(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.SubTaskDeleted, programID, "subtask", id, actorID, events.EventPayload{"points": st.Points})
	})
}

// MilestoneCreateOptions are parameters for creating a milestone.
type MilestoneCreateOptions struct {
	ID           string
	InitiativeID string
	Name         string
	DueDate      string
	ActorID      string
}

func (e Engine) CreateMilestone(ctx context.Context, opts MilestoneCreateOptions) (domain.Milestone, error) {
	name, err := required("name", opts.Name)
	if err != nil {
		return domain.Milestone{}, err
	}
	due, err := parseDate("due_date", opts.DueDate)
	if err != nil {
		return domain.Milestone{}, err
	}
	m := domain.Milestone{
		ID:           newID(opts.ID),
		InitiativeID: opts.InitiativeID,
		Name:         name,
		DueDate:      due,
		CreatedAt:    e.timestamp(),
	}
	err = e.inTx(ctx, "create milestone", func(tx *sql.Tx) error {
		programID, err := e.Repo.ProgramOfInitiative(ctx, tx, opts.InitiativeID)
		if err != nil {
			return notFound("initiative", opts.InitiativeID, err)
		}
		if err := e.Repo.InsertMilestone(ctx, tx, m); err != nil {
			return fmt.Errorf("insert milestone: %w", err)
		}
		return e.Events.Append(ctx, tx, events.RecordCreated, programID, "milestone", m.ID, opts.ActorID, events.EventPayload{"name": m.Name, "due_date": m.DueDate})
	})
	if err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

func (e Engine) SetMilestoneCompleted(ctx context.Context, id, actorID string, completed bool) error {
	return e.inTx(ctx, "complete milestone", func(tx *sql.Tx) error {
		programID, err := e.Repo.RecordProgram(ctx, tx, "milestone", id)
		if err != nil {
			return notFound("milestone", id, err)
		}
		if err := e.Repo.SetMilestoneCompleted(ctx, tx, id, completed); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RecordUpdated, programID, "milestone", id, actorID, events.EventPayload{"completed": completed})
	})
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func parseDate(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return "", domain.Invalid(field, "must be YYYY-MM-DD")
	}
	return v, nil
}

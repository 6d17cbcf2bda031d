package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"neuron/internal/domain"
	"neuron/internal/events"
)

var documentPolicy = bluemonday.UGCPolicy()

// SanitizeHTML strips anything from a document body that could run script
// or escape the page layout.
func SanitizeHTML(body string) string {
	return documentPolicy.Sanitize(body)
}

var (
	issueSeverities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}
	issueStatuses   = map[string]bool{"open": true, "resolved": true}
)

// ensureProgram checks the program exists inside tx.
func (e Engine) ensureProgram(ctx context.Context, tx *sql.Tx, programID string) error {
	if _, err := e.Repo.GetProgramTx(ctx, tx, programID); err != nil {
		return notFound("program", programID, err)
	}
	return nil
}

// IssueCreateOptions are parameters for raising an issue.
type IssueCreateOptions struct {
	ID           string
	ProgramID    string
	InitiativeID string
	Title        string
	Severity     string
	ActorID      string
}

func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions) (domain.Issue, error) {
	title, err := required("title", opts.Title)
	if err != nil {
		return domain.Issue{}, err
	}
	severity := strings.ToLower(strings.TrimSpace(opts.Severity))
	if severity == "" {
		severity = "medium"
	}
	if !issueSeverities[severity] {
		return domain.Issue{}, domain.Invalid("severity", fmt.Sprintf("unknown severity %q", opts.Severity))
	}
	is := domain.Issue{
		ID:           newID(opts.ID),
		ProgramID:    opts.ProgramID,
		InitiativeID: optional(opts.InitiativeID),
		Title:        title,
		Severity:     severity,
		Status:       "open",
		CreatedAt:    e.timestamp(),
	}
	err = e.inTx(ctx, "create issue", func(tx *sql.Tx) error {
		if err := e.ensureProgram(ctx, tx, opts.ProgramID); err != nil {
			return err
		}
		if is.InitiativeID != nil {
			owner, err := e.Repo.ProgramOfInitiative(ctx, tx, *is.InitiativeID)
			if err != nil {
				return notFound("initiative", *is.InitiativeID, err)
			}
			if owner != opts.ProgramID {
				return domain.Invalid("initiative_id", "belongs to another program")
			}
		}
		if err := e.Repo.InsertIssue(ctx, tx, is); err != nil {
			return fmt.Errorf("insert issue: %w", err)
		}
		return e.Events.Append(ctx, tx, events.RecordCreated, is.ProgramID, "issue", is.ID, opts.ActorID, events.EventPayload{"title": is.Title, "severity": is.Severity})
	})
	if err != nil {
		return domain.Issue{}, err
	}
	return is, nil
}

func (e Engine) SetIssueStatus(ctx context.Context, id, status, actorID string) error {
	status = strings.ToLower(strings.TrimSpace(status))
	if !issueStatuses[status] {
		return domain.Invalid("status", "must be open or resolved")
	}
	return e.inTx(ctx, "set issue status", func(tx *sql.Tx) error {
		programID, err := e.Repo.RecordProgram(ctx, tx, "issue", id)
		if err != nil {
			return notFound("issue", id, err)
		}
		if err := e.Repo.SetIssueStatus(ctx, tx, id, status); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RecordUpdated, programID, "issue", id, actorID, events.EventPayload{"status": status})
	})
}

// PartnerCreateOptions are parameters for adding a partner.
type PartnerCreateOptions struct {
	ID        string
	ProgramID string
	Name      string
	Contact   string
	ActorID   string
}

func (e Engine) CreatePartner(ctx context.Context, opts PartnerCreateOptions) (domain.Partner, error) {
	name, err := required("name", opts.Name)
	if err != nil {
		return domain.Partner{}, err
	}
	p := domain.Partner{
		ID:        newID(opts.ID),
		ProgramID: opts.ProgramID,
		Name:      name,
		Contact:   strings.TrimSpace(opts.Contact),
		CreatedAt: e.timestamp(),
	}
	err = e.inTx(ctx, "create partner", func(tx *sql.Tx) error {
		if err := e.ensureProgram(ctx, tx, opts.ProgramID); err != nil {
			return err
		}
		if err := e.Repo.InsertPartner(ctx, tx, p); err != nil {
			return fmt.Errorf("insert partner: %w", err)
		}
		return e.Events.Append(ctx, tx, events.RecordCreated, p.ProgramID, "partner", p.ID, opts.ActorID, events.EventPayload{"name": p.Name})
	})
	if err != nil {
		return domain.Partner{}, err
	}
	return p, nil
}

// PersonCreateOptions are parameters for adding a person to a program.
type PersonCreateOptions struct {
	ID        string
	ProgramID string
	Name      string
	Email     string
	Role      string
	ActorID   string
}

func (e Engine) CreatePerson(ctx context.Context, opts PersonCreateOptions) (domain.Person, error) {
	name, err := required("name", opts.Name)
	if err != nil {
		return domain.Person{}, err
	}
	email := strings.TrimSpace(opts.Email)
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return domain.Person{}, domain.Invalid("email", "is not a valid address")
		}
		email = addr.Address
	}
	p := domain.Person{
		ID:        newID(opts.ID),
		ProgramID: opts.ProgramID,
		Name:      name,
		Email:     email,
		Role:      strings.TrimSpace(opts.Role),
		CreatedAt: e.timestamp(),
	}
	err = e.inTx(ctx, "create person", func(tx *sql.Tx) error {
		if err := e.ensureProgram(ctx, tx, opts.ProgramID); err != nil {
			return err
		}
		if err := e.Repo.InsertPerson(ctx, tx, p); err != nil {
			return fmt.Errorf("insert person: %w", err)
		}
		return e.Events.Append(ctx, tx, events.RecordCreated, p.ProgramID, "person", p.ID, opts.ActorID, events.EventPayload{"name": p.Name})
	})
	if err != nil {
		return domain.Person{}, err
	}
	return p, nil
}

// CostEntryCreateOptions are parameters for recording a cost. Negative
// amounts record refunds.
type CostEntryCreateOptions struct {
	ID           string
	ProgramID    string
	WorkstreamID string
	Description  string
	AmountCents  int64
	IncurredOn   string
	ActorID      string
}

func (e Engine) CreateCostEntry(ctx context.Context, opts CostEntryCreateOptions) (domain.CostEntry, error) {
	desc, err := required("description", opts.Description)
	if err != nil {
		return domain.CostEntry{}, err
	}
	if opts.AmountCents == 0 {
		return domain.CostEntry{}, domain.Invalid("amount_cents", "must not be zero")
	}
	incurred, err := parseDate("incurred_on", opts.IncurredOn)
	if err != nil {
		return domain.CostEntry{}, err
	}
	c := domain.CostEntry{
		ID:           newID(opts.ID),
		ProgramID:    opts.ProgramID,
		WorkstreamID: optional(opts.WorkstreamID),
		Description:  desc,
		AmountCents:  opts.AmountCents,
		IncurredOn:   incurred,
		CreatedAt:    e.timestamp(),
	}
	err = e.inTx(ctx, "create cost entry", func(tx *sql.Tx) error {
		if err := e.ensureProgram(ctx, tx, opts.ProgramID); err != nil {
			return err
		}
		if c.WorkstreamID != nil {
			ws, err := e.Repo.GetWorkstreamTx(ctx, tx, *c.WorkstreamID)
			if err != nil {
				return notFound("workstream", *c.WorkstreamID, err)
			}
			if ws.ProgramID != opts.ProgramID {
				return domain.Invalid("workstream_id", "belongs to another program")
			}
		}
		if err := e.Repo.InsertCostEntry(ctx, tx, c); err != nil {
			return fmt.Errorf("insert cost entry: %w", err)
		}
		return e.Events.Append(ctx, tx, events.RecordCreated, c.ProgramID, "cost", c.ID, opts.ActorID, events.EventPayload{"amount_cents": c.AmountCents})
	})
	if err != nil {
		return domain.CostEntry{}, err
	}
	return c, nil
}

// DocumentSaveOptions are parameters for creating or replacing a document.
type DocumentSaveOptions struct {
	ID        string
	ProgramID string
	Title     string
	Body      string
	ActorID   string
}

// SaveDocument sanitizes the body and upserts the document by id.
func (e Engine) SaveDocument(ctx context.Context, opts DocumentSaveOptions) (domain.Document, error) {
	title, err := required("title", opts.Title)
	if err != nil {
		return domain.Document{}, err
	}
	d := domain.Document{
		ID:        newID(opts.ID),
		ProgramID: opts.ProgramID,
		Title:     title,
		BodyHTML:  SanitizeHTML(opts.Body),
		UpdatedAt: e.timestamp(),
	}
	err = e.inTx(ctx, "save document", func(tx *sql.Tx) error {
		if err := e.ensureProgram(ctx, tx, opts.ProgramID); err != nil {
			return err
		}
		if opts.ID != "" {
			if owner, err := e.Repo.RecordProgram(ctx, tx, "document", d.ID); err == nil && owner != opts.ProgramID {
				return domain.Invalid("id", "document belongs to another program")
			}
		}
		if err := e.Repo.UpsertDocument(ctx, tx, d); err != nil {
			return fmt.Errorf("save document: %w", err)
		}
		return e.Events.Append(ctx, tx, events.DocumentSaved, d.ProgramID, "document", d.ID, opts.ActorID, events.EventPayload{"title": d.Title})
	})
	if err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

// DeleteRecord removes a milestone, issue, partner, person, cost entry or
// document.
func (e Engine) DeleteRecord(ctx context.Context, kind, id, actorID string) error {
	return e.inTx(ctx, "delete "+kind, func(tx *sql.Tx) error {
		programID, err := e.Repo.RecordProgram(ctx, tx, kind, id)
		if err != nil {
			return notFound(kind, id, err)
		}
		if err := e.Repo.DeleteRecord(ctx, tx, kind, id); err != nil {
			return notFound(kind, id, err)
		}
		return e.Events.Append(ctx, tx, events.RecordDeleted, programID, kind, id, actorID, nil)
	})
}

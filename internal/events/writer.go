package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"neuron/internal/db"
)

// Event types written by the engine.
const (
	ProgramCreated      = "program.created"
	ProgramUpdated      = "program.updated"
	ProgramDeleted      = "program.deleted"
	WorkstreamCreated   = "workstream.created"
	WorkstreamDeleted   = "workstream.deleted"
	InitiativeCreated   = "initiative.created"
	InitiativeUpdated   = "initiative.updated"
	SubTaskCreated      = "subtask.created"
	SubTaskProgress     = "subtask.progress"
	SubTaskDeleted      = "subtask.deleted"
	RecordCreated       = "record.created"
	RecordUpdated       = "record.updated"
	RecordDeleted       = "record.deleted"
	DocumentSaved       = "document.saved"
	SnapshotTaken       = "snapshot.taken"
	SnapshotScopeChange = "snapshot.scope_changed"
)

type Writer struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits or rolls back with the
// change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, programID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,program_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, nullable(programID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package domain

type Program struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Workstream struct {
	ID          string `json:"id"`
	ProgramID   string `json:"program_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SortOrder   int    `json:"sort_order"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Initiative statuses.
const (
	InitiativePlanned = "planned"
	InitiativeActive  = "active"
	InitiativeBlocked = "blocked"
	InitiativeDone    = "done"
)

type Initiative struct {
	ID           string  `json:"id"`
	WorkstreamID string  `json:"workstream_id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status" enum:"planned,active,blocked,done"`
	OwnerID      *string `json:"owner_id,omitempty"`
	TargetDate   *string `json:"target_date,omitempty" format:"date"`
	Archived     bool    `json:"archived"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type SubTask struct {
	ID                string `json:"id"`
	InitiativeID      string `json:"initiative_id"`
	Name              string `json:"name"`
	Points            int    `json:"points"`
	CompletionPercent int    `json:"completion_percent"`
	CreatedAt         string `json:"created_at" format:"date-time"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
}

type Milestone struct {
	ID           string `json:"id"`
	InitiativeID string `json:"initiative_id"`
	Name         string `json:"name"`
	DueDate      string `json:"due_date" format:"date"`
	Completed    bool   `json:"completed"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Issue struct {
	ID           string  `json:"id"`
	ProgramID    string  `json:"program_id"`
	InitiativeID *string `json:"initiative_id,omitempty"`
	Title        string  `json:"title"`
	Severity     string  `json:"severity" enum:"low,medium,high,critical"`
	Status       string  `json:"status" enum:"open,resolved"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type Partner struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	Name      string `json:"name"`
	Contact   string `json:"contact,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Person struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CostEntry struct {
	ID           string  `json:"id"`
	ProgramID    string  `json:"program_id"`
	WorkstreamID *string `json:"workstream_id,omitempty"`
	Description  string  `json:"description"`
	AmountCents  int64   `json:"amount_cents"`
	IncurredOn   string  `json:"incurred_on" format:"date"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type Document struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	Title     string `json:"title"`
	BodyHTML  string `json:"body_html"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// InitiativeBreakdown is the per-initiative slice of a snapshot.
type InitiativeBreakdown struct {
	Name            string `json:"name"`
	TotalPoints     int    `json:"total_points"`
	CompletedPoints int    `json:"completed_points"`
}

// WorkstreamBreakdown is the per-workstream slice of a snapshot.
type WorkstreamBreakdown struct {
	Name            string                         `json:"name"`
	TotalPoints     int                            `json:"total_points"`
	CompletedPoints int                            `json:"completed_points"`
	Subcomponents   map[string]InitiativeBreakdown `json:"subcomponents"`
}

// WorkstreamData maps workstream id to its breakdown.
type WorkstreamData map[string]WorkstreamBreakdown

// Snapshot is the persisted progress record for one program and one date key.
type Snapshot struct {
	ProgramID       string         `json:"program_id"`
	DateKey         string         `json:"date_key" format:"date"`
	TotalPoints     int            `json:"total_points"`
	CompletedPoints int            `json:"completed_points"`
	PercentComplete float64        `json:"percent_complete"`
	WorkstreamData  WorkstreamData `json:"workstream_data,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProgramID  string `json:"program_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

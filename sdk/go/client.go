package neuronsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Neuron HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Program struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type Workstream struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

type Initiative struct {
	ID           string  `json:"id"`
	WorkstreamID string  `json:"workstream_id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	OwnerID      *string `json:"owner_id,omitempty"`
	TargetDate   *string `json:"target_date,omitempty"`
	Archived     bool    `json:"archived"`
}

type SubTask struct {
	ID                string `json:"id"`
	InitiativeID      string `json:"initiative_id"`
	Name              string `json:"name"`
	Points            int    `json:"points"`
	CompletionPercent int    `json:"completion_percent"`
}

// Snapshot is a program's recorded progress for one period.
type Snapshot struct {
	ProgramID       string         `json:"program_id"`
	DateKey         string         `json:"date_key"`
	TotalPoints     int            `json:"total_points"`
	CompletedPoints int            `json:"completed_points"`
	PercentComplete float64        `json:"percent_complete"`
	WorkstreamData  map[string]any `json:"workstream_data,omitempty"`
	UpdatedAt       string         `json:"updated_at"`
}

type BurndownPoint struct {
	DateKey   string `json:"date_key"`
	Label     string `json:"label"`
	Remaining int    `json:"remaining"`
	Total     int    `json:"total"`
}

type ScopeChange struct {
	DateKey string `json:"date_key"`
	From    int    `json:"from"`
	To      int    `json:"to"`
}

type Burndown struct {
	ProgramID    string          `json:"program_id"`
	Points       []BurndownPoint `json:"points"`
	ScopeChanges []string        `json:"scope_changes"`
	Changes      []ScopeChange   `json:"changes"`
}

type Period struct {
	DateKey      string `json:"date_key"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	Label        string `json:"label"`
	ISOYear      int    `json:"iso_year"`
	PeriodNumber int    `json:"period_number"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProgramID  string `json:"program_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Token exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Token(ctx context.Context, email, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/token", map[string]any{"email": email, "password": password}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) CreateProgram(ctx context.Context, id, name, description string) (Program, error) {
	var resp Program
	err := c.do(ctx, http.MethodPost, "programs", map[string]any{"id": id, "name": name, "description": description}, &resp)
	return resp, err
}

func (c *Client) ListPrograms(ctx context.Context) ([]Program, error) {
	var resp struct {
		Items []Program `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "programs", nil, &resp)
	return resp.Items, err
}

func (c *Client) CreateWorkstream(ctx context.Context, programID, id, name string) (Workstream, error) {
	var resp Workstream
	err := c.do(ctx, http.MethodPost, join("programs", programID, "workstreams"), map[string]any{"id": id, "name": name}, &resp)
	return resp, err
}

func (c *Client) CreateInitiative(ctx context.Context, workstreamID, id, name string) (Initiative, error) {
	var resp Initiative
	err := c.do(ctx, http.MethodPost, join("workstreams", workstreamID, "initiatives"), map[string]any{"id": id, "name": name}, &resp)
	return resp, err
}

// UpdateInitiative patches the given fields, e.g. {"status": "blocked"}.
func (c *Client) UpdateInitiative(ctx context.Context, id string, fields map[string]any) (Initiative, error) {
	var resp Initiative
	err := c.do(ctx, http.MethodPatch, join("initiatives", id), fields, &resp)
	return resp, err
}

func (c *Client) CreateSubTask(ctx context.Context, initiativeID, id, name string, points, completionPercent int) (SubTask, error) {
	body := map[string]any{"id": id, "name": name, "points": points, "completion_percent": completionPercent}
	var resp SubTask
	err := c.do(ctx, http.MethodPost, join("initiatives", initiativeID, "subtasks"), body, &resp)
	return resp, err
}

func (c *Client) SetSubTaskProgress(ctx context.Context, id string, completionPercent int) (SubTask, error) {
	var resp SubTask
	err := c.do(ctx, http.MethodPatch, join("subtasks", id, "progress"), map[string]any{"completion_percent": completionPercent}, &resp)
	return resp, err
}

// TakeSnapshot records the program's progress for the current period.
func (c *Client) TakeSnapshot(ctx context.Context, programID string) (Snapshot, error) {
	var resp Snapshot
	err := c.do(ctx, http.MethodPost, join("programs", programID, "snapshots", "current"), nil, &resp)
	return resp, err
}

// UpsertSnapshot stores explicit totals under a period date key.
func (c *Client) UpsertSnapshot(ctx context.Context, programID, dateKey string, total, completed int) (Snapshot, error) {
	var resp Snapshot
	body := map[string]any{"total_points": total, "completed_points": completed}
	err := c.do(ctx, http.MethodPut, join("programs", programID, "snapshots", dateKey), body, &resp)
	return resp, err
}

// Snapshots lists snapshots between optional from/to date keys.
func (c *Client) Snapshots(ctx context.Context, programID, from, to string) ([]Snapshot, error) {
	var resp struct {
		Items []Snapshot `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery(join("programs", programID, "snapshots"), "from", from, "to", to), nil, &resp)
	return resp.Items, err
}

func (c *Client) Burndown(ctx context.Context, programID, from, to string) (Burndown, error) {
	var resp Burndown
	err := c.do(ctx, http.MethodGet, withQuery(join("programs", programID, "burndown"), "from", from, "to", to), nil, &resp)
	return resp, err
}

func (c *Client) CurrentPeriod(ctx context.Context) (Period, error) {
	var resp Period
	err := c.do(ctx, http.MethodGet, "periods/current", nil, &resp)
	return resp, err
}

// Periods lists the periods touched by [from, to].
func (c *Client) Periods(ctx context.Context, from, to string) ([]Period, error) {
	var resp struct {
		Items []Period `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("periods", "from", from, "to", to), nil, &resp)
	return resp.Items, err
}

// Events returns a program's recent events, newest first.
func (c *Client) Events(ctx context.Context, programID, eventType string, limit int) ([]Event, error) {
	lim := ""
	if limit > 0 {
		lim = fmt.Sprint(limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery(join("programs", programID, "events"), "type", eventType, "limit", lim), nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}

func join(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.Join(escaped, "/")
}

// withQuery appends non-empty key/value pairs as query parameters.
func withQuery(endpoint string, kv ...string) string {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			q.Set(kv[i], kv[i+1])
		}
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

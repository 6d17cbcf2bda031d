package server

import (
	"neuron/internal/burndown"
	"neuron/internal/domain"
)

// Request payloads

type TokenRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateProgramRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type UpdateProgramRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateWorkstreamRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SortOrder   *int   `json:"sort_order,omitempty"`
}

type CreateInitiativeRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty" enum:"planned,active,blocked,done"`
	OwnerID     string `json:"owner_id,omitempty"`
	TargetDate  string `json:"target_date,omitempty"`
}

// UpdateInitiativeRequest carries the fields to change. Omitted fields stay
// as they are; an empty owner_id or target_date clears the value.
type UpdateInitiativeRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"planned,active,blocked,done"`
	OwnerID     *string `json:"owner_id,omitempty"`
	TargetDate  *string `json:"target_date,omitempty"`
	Archived    *bool   `json:"archived,omitempty"`
}

type CreateSubTaskRequest struct {
	ID                string `json:"id,omitempty"`
	Name              string `json:"name"`
	Points            int    `json:"points" minimum:"0"`
	CompletionPercent int    `json:"completion_percent,omitempty" minimum:"0" maximum:"100"`
}

type SubTaskProgressRequest struct {
	CompletionPercent int  `json:"completion_percent" minimum:"0" maximum:"100"`
	Points            *int `json:"points,omitempty" minimum:"0"`
}

type CreateMilestoneRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	DueDate string `json:"due_date"`
}

type MilestoneCompletedRequest struct {
	Completed bool `json:"completed"`
}

type CreateIssueRequest struct {
	ID           string `json:"id,omitempty"`
	InitiativeID string `json:"initiative_id,omitempty"`
	Title        string `json:"title"`
	Severity     string `json:"severity,omitempty" enum:"low,medium,high,critical"`
}

type IssueStatusRequest struct {
	Status string `json:"status" enum:"open,resolved"`
}

type CreatePartnerRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
}

type CreatePersonRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type CreateCostRequest struct {
	ID           string `json:"id,omitempty"`
	WorkstreamID string `json:"workstream_id,omitempty"`
	Description  string `json:"description"`
	AmountCents  int64  `json:"amount_cents"`
	IncurredOn   string `json:"incurred_on"`
}

type SaveDocumentRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	Body  string `json:"body_html"`
}

type UpsertSnapshotRequest struct {
	TotalPoints     int                   `json:"total_points" minimum:"0"`
	CompletedPoints int                   `json:"completed_points" minimum:"0"`
	WorkstreamData  domain.WorkstreamData `json:"workstream_data,omitempty"`
}

// Responses

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type APIKeyResponse struct {
	APIKey domain.APIKey `json:"api_key"`
	// Key is shown once and never stored.
	Key string `json:"key"`
}

type ItemList[T any] struct {
	Items []T `json:"items"`
}

type CostList struct {
	Items      []domain.CostEntry `json:"items"`
	TotalCents int64              `json:"total_cents"`
}

type BurndownResponse struct {
	ProgramID    string                 `json:"program_id"`
	Points       []burndown.Point       `json:"points"`
	ScopeChanges []string               `json:"scope_changes"`
	Changes      []burndown.ScopeChange `json:"changes"`
}

type ScopeChangesResponse struct {
	DateKeys []string               `json:"date_keys"`
	Changes  []burndown.ScopeChange `json:"changes"`
}

func list[T any](items []T) ItemList[T] {
	if items == nil {
		items = []T{}
	}
	return ItemList[T]{Items: items}
}

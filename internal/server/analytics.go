package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"neuron/internal/burndown"
	"neuron/internal/domain"
	"neuron/internal/engine"
	"neuron/internal/period"
)

func clock(e engine.Engine) func() time.Time {
	if e.Now != nil {
		return e.Now
	}
	return time.Now
}

type historyInput struct {
	ProgramID string `path:"program_id"`
	From      string `query:"from" doc:"Earliest date key, inclusive (YYYY-MM-DD)"`
	To        string `query:"to" doc:"Latest date key, inclusive (YYYY-MM-DD)"`
}

func snapshotHistory(ctx context.Context, e engine.Engine, in *historyInput) ([]domain.Snapshot, error) {
	if _, err := e.Repo.GetProgram(ctx, in.ProgramID); err != nil {
		return nil, readError("get program", err)
	}
	snaps, err := e.Snapshots.List(ctx, in.ProgramID, in.From, in.To)
	if err != nil {
		return nil, handleError(err)
	}
	return snaps, nil
}

func registerSnapshots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "take-current-snapshot",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/snapshots/current",
		Summary:     "Aggregate progress and store it under the current period",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *programPath) (*struct {
		Body domain.Snapshot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := e.TakeSnapshot(ctx, input.ProgramID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Snapshot `json:"body"`
		}{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-snapshot",
		Method:      http.MethodPut,
		Path:        "/programs/{program_id}/snapshots/{date_key}",
		Summary:     "Create or replace the snapshot for a date key",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ProgramID string                `path:"program_id"`
		DateKey   string                `path:"date_key"`
		Body      UpsertSnapshotRequest `json:"body"`
	}) (*struct {
		Body domain.Snapshot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := e.UpsertSnapshot(ctx, input.ProgramID, input.DateKey, input.Body.TotalPoints, input.Body.CompletedPoints, input.Body.WorkstreamData, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Snapshot `json:"body"`
		}{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-snapshots",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/snapshots",
		Summary:     "List snapshots ordered by date key",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *historyInput) (*struct {
		Body ItemList[domain.Snapshot] `json:"body"`
	}, error) {
		snaps, err := snapshotHistory(ctx, e, input)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body ItemList[domain.Snapshot] `json:"body"`
		}{Body: list(snaps)}, nil
	})
}

func registerAnalytics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "burndown",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/burndown",
		Summary:     "Burndown series with scope-change markers",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *historyInput) (*struct {
		Body BurndownResponse `json:"body"`
	}, error) {
		snaps, err := snapshotHistory(ctx, e, input)
		if err != nil {
			return nil, err
		}
		changes := burndown.ScopeChangeEvents(snaps)
		if changes == nil {
			changes = []burndown.ScopeChange{}
		}
		return &struct {
			Body BurndownResponse `json:"body"`
		}{Body: BurndownResponse{
			ProgramID:    input.ProgramID,
			Points:       burndown.Series(snaps),
			ScopeChanges: burndown.ScopeChanges(snaps),
			Changes:      changes,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scope-changes",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/scope-changes",
		Summary:     "Date keys whose total differs from the previous snapshot",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *historyInput) (*struct {
		Body ScopeChangesResponse `json:"body"`
	}, error) {
		snaps, err := snapshotHistory(ctx, e, input)
		if err != nil {
			return nil, err
		}
		changes := burndown.ScopeChangeEvents(snaps)
		if changes == nil {
			changes = []burndown.ScopeChange{}
		}
		return &struct {
			Body ScopeChangesResponse `json:"body"`
		}{Body: ScopeChangesResponse{DateKeys: burndown.ScopeChanges(snaps), Changes: changes}}, nil
	})
}

const defaultMaxPeriods = 260

func registerPeriods(api huma.API, e engine.Engine, maxPeriods int) {
	if maxPeriods <= 0 {
		maxPeriods = defaultMaxPeriods
	}
	huma.Register(api, huma.Operation{
		OperationID: "current-period",
		Method:      http.MethodGet,
		Path:        "/periods/current",
		Summary:     "The period containing today (UTC)",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body period.Period `json:"body"`
	}, error) {
		return &struct {
			Body period.Period `json:"body"`
		}{Body: period.Current(clock(e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "period-for-date",
		Method:      http.MethodGet,
		Path:        "/periods/{date}",
		Summary:     "The period containing a date",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date" doc:"Calendar date (YYYY-MM-DD)"`
	}) (*struct {
		Body period.Period `json:"body"`
	}, error) {
		t, err := period.ParseKey(input.Date)
		if err != nil {
			return nil, handleError(domain.Invalid("date", "must be YYYY-MM-DD"))
		}
		return &struct {
			Body period.Period `json:"body"`
		}{Body: period.For(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "periods-in-range",
		Method:      http.MethodGet,
		Path:        "/periods",
		Summary:     "Periods touched by a date range",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		From string `query:"from" required:"true"`
		To   string `query:"to" required:"true"`
	}) (*struct {
		Body ItemList[period.Period] `json:"body"`
	}, error) {
		from, err := period.ParseKey(input.From)
		if err != nil {
			return nil, handleError(domain.Invalid("from", "must be YYYY-MM-DD"))
		}
		to, err := period.ParseKey(input.To)
		if err != nil {
			return nil, handleError(domain.Invalid("to", "must be YYYY-MM-DD"))
		}
		if period.Span(from, to) > maxPeriods {
			return nil, handleError(domain.Invalid("to", fmt.Sprintf("range covers more than %d periods", maxPeriods)))
		}
		return &struct {
			Body ItemList[period.Period] `json:"body"`
		}{Body: list(period.InRange(from, to))}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/events",
		Summary:     "List recent events, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProgramID string `path:"program_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body ItemList[domain.Event] `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProgram(ctx, input.ProgramID); err != nil {
			return nil, readError("get program", err)
		}
		items, err := e.Repo.LatestEvents(ctx, input.ProgramID, input.Type, normalizeLimit(input.Limit))
		if err != nil {
			return nil, readError("list events", err)
		}
		return &struct {
			Body ItemList[domain.Event] `json:"body"`
		}{Body: list(items)}, nil
	})
}

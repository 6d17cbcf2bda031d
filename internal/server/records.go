package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"neuron/internal/domain"
	"neuron/internal/engine"
)

func registerMilestones(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-milestone",
		Method:      http.MethodPost,
		Path:        "/initiatives/{initiative_id}/milestones",
		Summary:     "Create a milestone",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InitiativeID string                 `path:"initiative_id"`
		Body         CreateMilestoneRequest `json:"body"`
	}) (*struct {
		Body domain.Milestone `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateMilestone(ctx, engine.MilestoneCreateOptions{
			ID:           input.Body.ID,
			InitiativeID: input.InitiativeID,
			Name:         input.Body.Name,
			DueDate:      input.Body.DueDate,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Milestone `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-milestones",
		Method:      http.MethodGet,
		Path:        "/initiatives/{initiative_id}/milestones",
		Summary:     "List an initiative's milestones",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *initiativePath) (*struct {
		Body ItemList[domain.Milestone] `json:"body"`
	}, error) {
		if _, err := e.Repo.GetInitiative(ctx, input.InitiativeID); err != nil {
			return nil, readError("get initiative", err)
		}
		items, err := e.Repo.ListMilestones(ctx, input.InitiativeID)
		if err != nil {
			return nil, readError("list milestones", err)
		}
		return &struct {
			Body ItemList[domain.Milestone] `json:"body"`
		}{Body: list(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "set-milestone-completed",
		Method:        http.MethodPatch,
		Path:          "/milestones/{id}",
		Summary:       "Mark a milestone complete or open",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body MilestoneCompletedRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetMilestoneCompleted(ctx, input.ID, actorID, input.Body.Completed); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// registerProgramRecords wires issues, partners, people and costs, which all
// hang directly off a program.
func registerProgramRecords(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-issue",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/issues",
		Summary:     "Raise an issue",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProgramID string             `path:"program_id"`
		Body      CreateIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.CreateIssue(ctx, engine.IssueCreateOptions{
			ID:           input.Body.ID,
			ProgramID:    input.ProgramID,
			InitiativeID: input.Body.InitiativeID,
			Title:        input.Body.Title,
			Severity:     input.Body.Severity,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/issues",
		Summary:     "List issues",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *programPath) (*struct {
		Body ItemList[domain.Issue] `json:"body"`
	}, error) {
		items, err := listUnder(ctx, e, input.ProgramID, "list issues", e.Repo.ListIssues)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body ItemList[domain.Issue] `json:"body"`
		}{Body: list(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "set-issue-status",
		Method:        http.MethodPatch,
		Path:          "/issues/{id}",
		Summary:       "Open or resolve an issue",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body IssueStatusRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetIssueStatus(ctx, input.ID, input.Body.Status, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-partner",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/partners",
		Summary:     "Add a partner",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProgramID string               `path:"program_id"`
		Body      CreatePartnerRequest `json:"body"`
	}) (*struct {
		Body domain.Partner `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePartner(ctx, engine.PartnerCreateOptions{
			ID:        input.Body.ID,
			ProgramID: input.ProgramID,
			Name:      input.Body.Name,
			Contact:   input.Body.Contact,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Partner `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-partners",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/partners",
		Summary:     "List partners",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *programPath) (*struct {
		Body ItemList[domain.Partner] `json:"body"`
	}, error) {
		items, err := listUnder(ctx, e, input.ProgramID, "list partners", e.Repo.ListPartners)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body ItemList[domain.Partner] `json:"body"`
		}{Body: list(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-person",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/people",
		Summary:     "Add a person",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProgramID string              `path:"program_id"`
		Body      CreatePersonRequest `json:"body"`
	}) (*struct {
		Body domain.Person `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePerson(ctx, engine.PersonCreateOptions{
			ID:        input.Body.ID,
			ProgramID: input.ProgramID,
			Name:      input.Body.Name,
			Email:     input.Body.Email,
			Role:      input.Body.Role,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Person `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-people",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/people",
		Summary:     "List people",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *programPath) (*struct {
		Body ItemList[domain.Person] `json:"body"`
	}, error) {
		items, err := listUnder(ctx, e, input.ProgramID, "list people", e.Repo.ListPeople)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body ItemList[domain.Person] `json:"body"`
		}{Body: list(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-cost",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/costs",
		Summary:     "Record a cost entry",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProgramID string            `path:"program_id"`
		Body      CreateCostRequest `json:"body"`
	}) (*struct {
		Body domain.CostEntry `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCostEntry(ctx, engine.CostEntryCreateOptions{
			ID:           input.Body.ID,
			ProgramID:    input.ProgramID,
			WorkstreamID: input.Body.WorkstreamID,
			Description:  input.Body.Description,
			AmountCents:  input.Body.AmountCents,
			IncurredOn:   input.Body.IncurredOn,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CostEntry `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-costs",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/costs",
		Summary:     "List cost entries with their total",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *programPath) (*struct {
		Body CostList `json:"body"`
	}, error) {
		items, err := listUnder(ctx, e, input.ProgramID, "list costs", e.Repo.ListCostEntries)
		if err != nil {
			return nil, err
		}
		total, err := e.Repo.TotalCostCents(ctx, input.ProgramID)
		if err != nil {
			return nil, readError("total costs", err)
		}
		if items == nil {
			items = []domain.CostEntry{}
		}
		return &struct {
			Body CostList `json:"body"`
		}{Body: CostList{Items: items, TotalCents: total}}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "save-document",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/documents",
		Summary:     "Create or replace a document",
		Description: "The body is sanitized before storage. Supplying an existing id replaces that document.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProgramID string              `path:"program_id"`
		Body      SaveDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.SaveDocument(ctx, engine.DocumentSaveOptions{
			ID:        input.Body.ID,
			ProgramID: input.ProgramID,
			Title:     input.Body.Title,
			Body:      input.Body.Body,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/documents",
		Summary:     "List documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *programPath) (*struct {
		Body ItemList[domain.Document] `json:"body"`
	}, error) {
		items, err := listUnder(ctx, e, input.ProgramID, "list documents", e.Repo.ListDocuments)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body ItemList[domain.Document] `json:"body"`
		}{Body: list(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{id}",
		Summary:     "Get a document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		d, err := e.Repo.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, readError("get document", err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})
}

// recordRoutes maps the collection segment of a deletable record to its kind.
var recordRoutes = []struct {
	segment string
	kind    string
}{
	{"milestones", "milestone"},
	{"issues", "issue"},
	{"partners", "partner"},
	{"people", "person"},
	{"costs", "cost"},
	{"documents", "document"},
}

func registerRecordDeletes(api huma.API, e engine.Engine) {
	for _, route := range recordRoutes {
		kind := route.kind
		huma.Register(api, huma.Operation{
			OperationID:   "delete-" + kind,
			Method:        http.MethodDelete,
			Path:          "/" + route.segment + "/{id}",
			Summary:       "Delete a " + kind,
			DefaultStatus: http.StatusNoContent,
			Errors:        []int{http.StatusNotFound},
		}, func(ctx context.Context, input *idPath) (*struct{}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if err := e.DeleteRecord(ctx, kind, input.ID, actorID); err != nil {
				return nil, handleError(err)
			}
			return &struct{}{}, nil
		})
	}
}

// listUnder checks the program exists before listing its records, so an
// unknown program is a 404 rather than an empty list.
func listUnder[T any](ctx context.Context, e engine.Engine, programID, op string, fetch func(context.Context, string) ([]T, error)) ([]T, error) {
	if _, err := e.Repo.GetProgram(ctx, programID); err != nil {
		return nil, readError("get program", err)
	}
	items, err := fetch(ctx, programID)
	if err != nil {
		return nil, readError(op, err)
	}
	return items, nil
}

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"neuron/internal/domain"
	"neuron/internal/engine"
)

type programPath struct {
	ProgramID string `path:"program_id"`
}

type initiativePath struct {
	InitiativeID string `path:"initiative_id"`
}

type idPath struct {
	ID string `path:"id"`
}

func registerPrograms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-program",
		Method:      http.MethodPost,
		Path:        "/programs",
		Summary:     "Create a program",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateProgramRequest `json:"body"`
	}) (*struct {
		Body domain.Program `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProgram(ctx, engine.ProgramCreateOptions{
			ID:          input.Body.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Program `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-programs",
		Method:      http.MethodGet,
		Path:        "/programs",
		Summary:     "List programs",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ItemList[domain.Program] `json:"body"`
	}, error) {
		items, err := e.Repo.ListPrograms(ctx)
		if err != nil {
			return nil, readError("list programs", err)
		}
		return &struct {
			Body ItemList[domain.Program] `json:"body"`
		}{Body: list(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-program",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}",
		Summary:     "Get a program",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *programPath) (*struct {
		Body domain.Program `json:"body"`
	}, error) {
		p, err := e.Repo.GetProgram(ctx, input.ProgramID)
		if err != nil {
			return nil, readError("get program", err)
		}
		return &struct {
			Body domain.Program `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-program",
		Method:      http.MethodPatch,
		Path:        "/programs/{program_id}",
		Summary:     "Rename or describe a program",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProgramID string               `path:"program_id"`
		Body      UpdateProgramRequest `json:"body"`
	}) (*struct {
		Body domain.Program `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProgram(ctx, input.ProgramID, input.Body.Name, input.Body.Description, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Program `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-program",
		Method:        http.MethodDelete,
		Path:          "/programs/{program_id}",
		Summary:       "Delete a program and everything under it",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *programPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProgram(ctx, input.ProgramID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerWorkstreams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-workstream",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/workstreams",
		Summary:     "Create a workstream",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProgramID string                  `path:"program_id"`
		Body      CreateWorkstreamRequest `json:"body"`
	}) (*struct {
		Body domain.Workstream `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ws, err := e.CreateWorkstream(ctx, engine.WorkstreamCreateOptions{
			ID:          input.Body.ID,
			ProgramID:   input.ProgramID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			SortOrder:   input.Body.SortOrder,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workstream `json:"body"`
		}{Body: ws}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workstreams",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/workstreams",
		Summary:     "List a program's workstreams in display order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *programPath) (*struct {
		Body ItemList[domain.Workstream] `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProgram(ctx, input.ProgramID); err != nil {
			return nil, readError("get program", err)
		}
		items, err := e.Repo.ListWorkstreams(ctx, input.ProgramID)
		if err != nil {
			return nil, readError("list workstreams", err)
		}
		return &struct {
			Body ItemList[domain.Workstream] `json:"body"`
		}{Body: list(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-workstream",
		Method:        http.MethodDelete,
		Path:          "/workstreams/{workstream_id}",
		Summary:       "Delete a workstream",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkstreamID string `path:"workstream_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteWorkstream(ctx, input.WorkstreamID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerInitiatives(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-initiative",
		Method:      http.MethodPost,
		Path:        "/workstreams/{workstream_id}/initiatives",
		Summary:     "Create an initiative",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkstreamID string                  `path:"workstream_id"`
		Body         CreateInitiativeRequest `json:"body"`
	}) (*struct {
		Body domain.Initiative `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.CreateInitiative(ctx, engine.InitiativeCreateOptions{
			ID:           input.Body.ID,
			WorkstreamID: input.WorkstreamID,
			Name:         input.Body.Name,
			Description:  input.Body.Description,
			Status:       input.Body.Status,
			OwnerID:      input.Body.OwnerID,
			TargetDate:   input.Body.TargetDate,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Initiative `json:"body"`
		}{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-initiatives",
		Method:      http.MethodGet,
		Path:        "/workstreams/{workstream_id}/initiatives",
		Summary:     "List a workstream's initiatives",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkstreamID    string `path:"workstream_id"`
		IncludeArchived bool   `query:"include_archived"`
	}) (*struct {
		Body ItemList[domain.Initiative] `json:"body"`
	}, error) {
		if _, err := e.Repo.GetWorkstream(ctx, input.WorkstreamID); err != nil {
			return nil, readError("get workstream", err)
		}
		items, err := e.Repo.ListInitiatives(ctx, input.WorkstreamID, input.IncludeArchived)
		if err != nil {
			return nil, readError("list initiatives", err)
		}
		return &struct {
			Body ItemList[domain.Initiative] `json:"body"`
		}{Body: list(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-initiative",
		Method:      http.MethodGet,
		Path:        "/initiatives/{initiative_id}",
		Summary:     "Get an initiative",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *initiativePath) (*struct {
		Body domain.Initiative `json:"body"`
	}, error) {
		in, err := e.Repo.GetInitiative(ctx, input.InitiativeID)
		if err != nil {
			return nil, readError("get initiative", err)
		}
		return &struct {
			Body domain.Initiative `json:"body"`
		}{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-initiative",
		Method:      http.MethodPatch,
		Path:        "/initiatives/{initiative_id}",
		Summary:     "Update initiative fields in one change",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InitiativeID string                  `path:"initiative_id"`
		Body         UpdateInitiativeRequest `json:"body"`
	}) (*struct {
		Body domain.Initiative `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.UpdateInitiative(ctx, input.InitiativeID, actorID, initiativeFields(input.Body)...)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Initiative `json:"body"`
		}{Body: in}, nil
	})
}

func initiativeFields(req UpdateInitiativeRequest) []engine.InitiativeField {
	var fields []engine.InitiativeField
	if req.Name != nil {
		fields = append(fields, engine.InitiativeName(*req.Name))
	}
	if req.Description != nil {
		fields = append(fields, engine.InitiativeDescription(*req.Description))
	}
	if req.Status != nil {
		fields = append(fields, engine.InitiativeStatus(*req.Status))
	}
	if req.OwnerID != nil {
		fields = append(fields, engine.InitiativeOwner(*req.OwnerID))
	}
	if req.TargetDate != nil {
		fields = append(fields, engine.InitiativeTargetDate(*req.TargetDate))
	}
	if req.Archived != nil {
		fields = append(fields, engine.InitiativeArchived(*req.Archived))
	}
	return fields
}

func registerSubTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-subtask",
		Method:      http.MethodPost,
		Path:        "/initiatives/{initiative_id}/subtasks",
		Summary:     "Create a sub-task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InitiativeID string               `path:"initiative_id"`
		Body         CreateSubTaskRequest `json:"body"`
	}) (*struct {
		Body domain.SubTask `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.CreateSubTask(ctx, engine.SubTaskCreateOptions{
			ID:                input.Body.ID,
			InitiativeID:      input.InitiativeID,
			Name:              input.Body.Name,
			Points:            input.Body.Points,
			CompletionPercent: input.Body.CompletionPercent,
			ActorID:           actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SubTask `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subtasks",
		Method:      http.MethodGet,
		Path:        "/initiatives/{initiative_id}/subtasks",
		Summary:     "List an initiative's sub-tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *initiativePath) (*struct {
		Body ItemList[domain.SubTask] `json:"body"`
	}, error) {
		if _, err := e.Repo.GetInitiative(ctx, input.InitiativeID); err != nil {
			return nil, readError("get initiative", err)
		}
		items, err := e.Repo.ListSubTasks(ctx, input.InitiativeID)
		if err != nil {
			return nil, readError("list subtasks", err)
		}
		return &struct {
			Body ItemList[domain.SubTask] `json:"body"`
		}{Body: list(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-subtask-progress",
		Method:      http.MethodPatch,
		Path:        "/subtasks/{id}/progress",
		Summary:     "Set sub-task completion",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body SubTaskProgressRequest `json:"body"`
	}) (*struct {
		Body domain.SubTask `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.SetSubTaskProgress(ctx, input.ID, actorID, input.Body.CompletionPercent, input.Body.Points)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SubTask `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-subtask",
		Method:        http.MethodDelete,
		Path:          "/subtasks/{id}",
		Summary:       "Delete a sub-task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSubTask(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

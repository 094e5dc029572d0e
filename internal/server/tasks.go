package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"docline/internal/engine"
	"docline/internal/raci"
	"docline/internal/repo"
)

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create ad hoc task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.CreateTaskOptions{
			ProjectID:   input.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			TaskType:    input.Body.TaskType,
			Priority:    input.Body.Priority,
			AssignedTo:  input.Body.AssignedTo,
			DueAt:       input.Body.DueAt,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Status     string `query:"status"`
		TaskType   string `query:"task_type"`
		AssignedTo string `query:"assigned_to"`
		VersionID  string `query:"document_version_id"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			ProjectID:         input.ProjectID,
			Status:            input.Status,
			TaskType:          input.TaskType,
			AssignedTo:        input.AssignedTo,
			DocumentVersionID: input.VersionID,
			Limit:             input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-overdue-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/overdue",
		Summary:     "List overdue tasks",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		now := e.Now().UTC().Format(time.RFC3339)
		items, err := e.Repo.OverdueTasks(ctx, input.ProjectID, now)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/start",
		Summary:     "Start a task",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.StartTask(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Complete a task",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body struct {
			Task     TaskResponse   `json:"task"`
			Advanced []TaskResponse `json:"advanced,omitempty"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CompleteTask(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Task     TaskResponse   `json:"task"`
				Advanced []TaskResponse `json:"advanced,omitempty"`
			} `json:"body"`
		}{}
		out.Body.Task = taskResponse(res.Task)
		out.Body.Advanced = mapTasks(res.Advanced)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/verify",
		Summary:     "Verify a completed task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.VerifyTask(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/reassign",
		Summary:     "Reassign a task",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   struct {
			AssignedTo string `json:"assigned_to"`
		} `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ReassignTask(ctx, input.TaskID, input.Body.AssignedTo, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "escalate-task",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/escalate",
		Summary:       "Escalate a generated task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   struct {
			Level  int    `json:"level,omitempty" minimum:"0"`
			Reason string `json:"reason,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body EscalationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		esc, err := e.EscalateTask(ctx, input.TaskID, input.Body.Level, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscalationResponse `json:"body"`
		}{Body: escalationResponse(esc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-escalations",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/escalations",
		Summary:     "List task escalations",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body []EscalationResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListEscalations(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EscalationResponse `json:"body"`
		}{Body: mapEscalations(items)}, nil
	})
}

func registerRaci(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-raci-matrix",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/raci",
		Summary:     "Get RACI matrix",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body raci.Matrix `json:"body"`
	}, error) {
		m, err := e.Repo.GetRaciMatrix(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body raci.Matrix `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-raci-matrix",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/raci",
		Summary:     "Replace RACI matrix",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string      `path:"project_id"`
		Body      raci.Matrix `json:"body"`
	}) (*struct {
		Body raci.Matrix `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.UpdateMatrix(ctx, input.ProjectID, input.Body, actorID); err != nil {
			return nil, handleError(err)
		}
		m, err := e.Repo.GetRaciMatrix(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body raci.Matrix `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-raci-task-status",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/raci/task-status",
		Summary:     "Update the status of a RACI matrix row",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			Stage  string `json:"stage" minLength:"1"`
			Task   string `json:"task" minLength:"1"`
			Status string `json:"status" enum:"OPEN,IN_PROGRESS,COMPLETED,VERIFIED,CLOSED"`
		} `json:"body"`
	}) (*struct {
		Body raci.Matrix `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.UpdateMatrixTaskStatus(ctx, input.ProjectID, input.Body.Stage, input.Body.Task, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body raci.Matrix `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-raci-tasks",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/raci/generate",
		Summary:       "Generate tasks from the RACI matrix",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body GenerateResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.GenerateTasks(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GenerateResponse `json:"body"`
		}{Body: GenerateResponse{Created: mapTasks(res.Created), Skipped: res.Skipped}}, nil
	})
}

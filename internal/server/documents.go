package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"docline/internal/engine"
)

func registerDocuments(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-document",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/documents",
		Summary:       "Create document with its initial draft",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      CreateDocumentRequest `json:"body"`
	}) (*struct {
		Body struct {
			Document DocumentResponse `json:"document"`
			Version  VersionResponse  `json:"version"`
		} `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		doc, version, err := e.CreateDocument(ctx, engine.CreateDocumentOptions{
			ProjectID:   input.ProjectID,
			DocType:     input.Body.DocType,
			Title:       input.Body.Title,
			TemplateRef: input.Body.TemplateRef,
			ContentJSON: input.Body.ContentJSON,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Document DocumentResponse `json:"document"`
				Version  VersionResponse  `json:"version"`
			} `json:"body"`
		}{}
		out.Body.Document = documentResponse(doc)
		out.Body.Version = versionResponse(version)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/documents",
		Summary:     "List documents",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []DocumentResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListDocuments(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DocumentResponse `json:"body"`
		}{Body: mapDocuments(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}",
		Summary:     "Get document with its versions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body struct {
			Document DocumentResponse  `json:"document"`
			Versions []VersionResponse `json:"versions"`
		} `json:"body"`
	}, error) {
		doc, err := e.Repo.GetDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		versions, err := e.Repo.ListVersions(ctx, doc.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Document DocumentResponse  `json:"document"`
				Versions []VersionResponse `json:"versions"`
			} `json:"body"`
		}{}
		out.Body.Document = documentResponse(doc)
		out.Body.Versions = mapVersions(versions)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-version",
		Method:        http.MethodPost,
		Path:          "/documents/{document_id}/versions",
		Summary:       "Open the next draft version",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		Body       struct {
			TemplateRef string `json:"template_ref,omitempty"`
			ContentJSON string `json:"content_json,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		version, err := e.CreateVersion(ctx, input.DocumentID, input.Body.TemplateRef, input.Body.ContentJSON, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(version)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/versions/{version_id}",
		Summary:     "Get version with its current review cycle",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		VersionID string `path:"version_id"`
	}) (*struct {
		Body struct {
			Version  VersionResponse   `json:"version"`
			Steps    []StepResponse    `json:"steps,omitempty"`
			Comments []CommentResponse `json:"comments,omitempty"`
		} `json:"body"`
	}, error) {
		version, err := e.Repo.GetVersion(ctx, input.VersionID)
		if err != nil {
			return nil, handleError(err)
		}
		steps, err := e.Repo.ListSteps(ctx, version.ID, version.Cycle)
		if err != nil {
			return nil, handleError(err)
		}
		comments, err := e.Repo.ListComments(ctx, version.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Version  VersionResponse   `json:"version"`
				Steps    []StepResponse    `json:"steps,omitempty"`
				Comments []CommentResponse `json:"comments,omitempty"`
			} `json:"body"`
		}{}
		out.Body.Version = versionResponse(version)
		out.Body.Steps = mapSteps(steps)
		out.Body.Comments = mapComments(comments)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-version-content",
		Method:      http.MethodPatch,
		Path:        "/versions/{version_id}/content",
		Summary:     "Edit draft content",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		VersionID string `path:"version_id"`
		Body      struct {
			ContentJSON string  `json:"content_json"`
			FileRef     *string `json:"file_ref,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.UpdateVersionContent(ctx, input.VersionID, input.Body.ContentJSON, input.Body.FileRef, actorID); err != nil {
			return nil, handleError(err)
		}
		version, err := e.Repo.GetVersion(ctx, input.VersionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(version)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-version",
		Method:      http.MethodPost,
		Path:        "/versions/{version_id}/submit",
		Summary:     "Submit a draft for review",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		VersionID string `path:"version_id"`
	}) (*struct {
		Body SubmitResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SubmitVersion(ctx, input.VersionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmitResponse `json:"body"`
		}{Body: submitResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-step",
		Method:      http.MethodPost,
		Path:        "/versions/{version_id}/approve",
		Summary:     "Approve the current pending step",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		VersionID string `path:"version_id"`
		Body      struct {
			Comment      string `json:"comment,omitempty"`
			EvidenceHash string `json:"evidence_hash,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body DecisionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ApproveStep(ctx, engine.ApproveOptions{
			VersionID:    input.VersionID,
			ActorID:      actorID,
			Comment:      input.Body.Comment,
			EvidenceHash: input.Body.EvidenceHash,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecisionResponse `json:"body"`
		}{Body: DecisionResponse{
			Step:      stepResponse(res.Step),
			Version:   versionResponse(res.Version),
			Completed: res.Completed,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-step",
		Method:      http.MethodPost,
		Path:        "/versions/{version_id}/reject",
		Summary:     "Reject the current pending step",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		VersionID string `path:"version_id"`
		Body      struct {
			Comment string `json:"comment,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body DecisionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RejectStep(ctx, engine.RejectOptions{
			VersionID: input.VersionID,
			ActorID:   actorID,
			Comment:   input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecisionResponse `json:"body"`
		}{Body: DecisionResponse{
			Step:     stepResponse(res.Step),
			Version:  versionResponse(res.Version),
			Cascaded: mapSteps(res.Cascaded),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/versions/{version_id}/comments",
		Summary:       "Add a review comment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		VersionID string `path:"version_id"`
		Body      struct {
			Comment string `json:"comment"`
		} `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.VersionID, actorID, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: CommentResponse{ID: c.ID, UserID: c.UserID, Comment: c.Comment, CreatedAt: c.CreatedAt}}, nil
	})
}

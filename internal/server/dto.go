package server

import (
	"docline/internal/config"
	"docline/internal/domain"
	"docline/internal/engine"
)

type CreateProjectRequest struct {
	ID          string  `json:"id" example:"pharma-line-1"`
	Name        string  `json:"name" example:"Packaging Line 1"`
	Description *string `json:"description,omitempty"`
}

type ProjectResponse struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		OrgID:       p.OrgID,
		Name:        p.Name,
		Status:      p.Status,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

type ProjectConfigResponse struct {
	Config config.Config `json:"config"`
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	return ProjectConfigResponse{Config: *cfg}
}

type AddMemberRequest struct {
	UserID      string  `json:"user_id"`
	RoleCode    string  `json:"role_code"`
	IsTemporary bool    `json:"is_temporary,omitempty"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
}

type MemberResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	UserID      string  `json:"user_id"`
	RoleCode    string  `json:"role_code"`
	IsTemporary bool    `json:"is_temporary"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
	InvitedBy   string  `json:"invited_by,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func memberResponse(m domain.ProjectMember) MemberResponse {
	return MemberResponse{
		ID:          m.ID,
		ProjectID:   m.ProjectID,
		UserID:      m.UserID,
		RoleCode:    m.RoleCode,
		IsTemporary: m.IsTemporary,
		ExpiresAt:   m.ExpiresAt,
		InvitedBy:   m.InvitedBy,
		CreatedAt:   m.CreatedAt,
	}
}

func mapMembers(items []domain.ProjectMember) []MemberResponse {
	res := make([]MemberResponse, 0, len(items))
	for _, m := range items {
		res = append(res, memberResponse(m))
	}
	return res
}

type CreateDocumentRequest struct {
	DocType     string `json:"doc_type" example:"PDD"`
	Title       string `json:"title" example:"Packaging Line PDD"`
	TemplateRef string `json:"template_ref,omitempty"`
	ContentJSON string `json:"content_json,omitempty"`
}

type DocumentResponse struct {
	ID               string  `json:"id"`
	ProjectID        string  `json:"project_id"`
	DocType          string  `json:"doc_type"`
	Title            string  `json:"title"`
	CurrentVersionID *string `json:"current_version_id,omitempty"`
	CreatedBy        string  `json:"created_by"`
	CreatedAt        string  `json:"created_at"`
}

func documentResponse(d domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:               d.ID,
		ProjectID:        d.ProjectID,
		DocType:          d.DocType,
		Title:            d.Title,
		CurrentVersionID: d.CurrentVersionID,
		CreatedBy:        d.CreatedBy,
		CreatedAt:        d.CreatedAt,
	}
}

func mapDocuments(items []domain.Document) []DocumentResponse {
	res := make([]DocumentResponse, 0, len(items))
	for _, d := range items {
		res = append(res, documentResponse(d))
	}
	return res
}

type VersionResponse struct {
	ID          string  `json:"id"`
	DocumentID  string  `json:"document_id"`
	Label       string  `json:"label"`
	State       string  `json:"state"`
	Cycle       int     `json:"cycle"`
	TemplateRef string  `json:"template_ref,omitempty"`
	ContentJSON string  `json:"content_json,omitempty"`
	FileRef     *string `json:"file_ref,omitempty"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at"`
	SubmittedAt *string `json:"submitted_at,omitempty"`
	LockedAt    *string `json:"locked_at,omitempty"`
}

func versionResponse(v domain.DocumentVersion) VersionResponse {
	return VersionResponse{
		ID:          v.ID,
		DocumentID:  v.DocumentID,
		Label:       v.Label,
		State:       v.State,
		Cycle:       v.Cycle,
		TemplateRef: v.TemplateRef,
		ContentJSON: v.ContentJSON,
		FileRef:     v.FileRef,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
		SubmittedAt: v.SubmittedAt,
		LockedAt:    v.LockedAt,
	}
}

func mapVersions(items []domain.DocumentVersion) []VersionResponse {
	res := make([]VersionResponse, 0, len(items))
	for _, v := range items {
		res = append(res, versionResponse(v))
	}
	return res
}

type StepResponse struct {
	ID             string  `json:"id"`
	Cycle          int     `json:"cycle"`
	StepNo         int     `json:"step_no"`
	RoleRequired   string  `json:"role_required"`
	IsOptional     bool    `json:"is_optional"`
	ApproverUserID *string `json:"approver_user_id,omitempty"`
	Status         string  `json:"status"`
	Comment        string  `json:"comment,omitempty"`
	EvidenceHash   string  `json:"evidence_hash,omitempty"`
	SignedAt       *string `json:"signed_at,omitempty"`
}

func stepResponse(s domain.ApprovalStep) StepResponse {
	return StepResponse{
		ID:             s.ID,
		Cycle:          s.Cycle,
		StepNo:         s.StepNo,
		RoleRequired:   s.RoleRequired,
		IsOptional:     s.IsOptional,
		ApproverUserID: s.ApproverUserID,
		Status:         s.Status,
		Comment:        s.Comment,
		EvidenceHash:   s.EvidenceHash,
		SignedAt:       s.SignedAt,
	}
}

func mapSteps(items []domain.ApprovalStep) []StepResponse {
	res := make([]StepResponse, 0, len(items))
	for _, s := range items {
		res = append(res, stepResponse(s))
	}
	return res
}

type CommentResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at"`
}

func mapComments(items []domain.ReviewComment) []CommentResponse {
	res := make([]CommentResponse, 0, len(items))
	for _, c := range items {
		res = append(res, CommentResponse{ID: c.ID, UserID: c.UserID, Comment: c.Comment, CreatedAt: c.CreatedAt})
	}
	return res
}

type CreateTaskRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	TaskType    string  `json:"task_type,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	DueAt       *string `json:"due_at,omitempty"`
}

type TaskResponse struct {
	ID                string  `json:"id"`
	ProjectID         string  `json:"project_id"`
	TaskType          string  `json:"task_type"`
	Title             string  `json:"title"`
	Description       string  `json:"description,omitempty"`
	DocumentVersionID *string `json:"document_version_id,omitempty"`
	RaciStage         *string `json:"raci_stage,omitempty"`
	RaciTaskName      *string `json:"raci_task_name,omitempty"`
	RequiredRole      *string `json:"required_role,omitempty"`
	AssignedTo        *string `json:"assigned_to,omitempty"`
	Status            string  `json:"status"`
	Priority          string  `json:"priority"`
	IsBlocking        bool    `json:"is_blocking"`
	PrereqTaskID      *string `json:"prereq_task_id,omitempty"`
	DueAt             *string `json:"due_at,omitempty"`
	Escalated         bool    `json:"escalated"`
	CreatedAt         string  `json:"created_at"`
	CompletedAt       *string `json:"completed_at,omitempty"`
	VerifiedAt        *string `json:"verified_at,omitempty"`
	VerifiedBy        *string `json:"verified_by,omitempty"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:                t.ID,
		ProjectID:         t.ProjectID,
		TaskType:          t.TaskType,
		Title:             t.Title,
		Description:       t.Description,
		DocumentVersionID: t.DocumentVersionID,
		RaciStage:         t.RaciStage,
		RaciTaskName:      t.RaciTaskName,
		RequiredRole:      t.RequiredRole,
		AssignedTo:        t.AssignedTo,
		Status:            t.Status,
		Priority:          t.Priority,
		IsBlocking:        t.IsBlocking,
		PrereqTaskID:      t.PrereqTaskID,
		DueAt:             t.DueAt,
		Escalated:         t.Escalated,
		CreatedAt:         t.CreatedAt,
		CompletedAt:       t.CompletedAt,
		VerifiedAt:        t.VerifiedAt,
		VerifiedBy:        t.VerifiedBy,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

type EscalationResponse struct {
	ID          string   `json:"id"`
	TaskID      string   `json:"task_id"`
	Level       int      `json:"level"`
	Roles       []string `json:"roles"`
	TriggeredAt string   `json:"triggered_at"`
	TriggeredBy string   `json:"triggered_by"`
	Reason      string   `json:"reason,omitempty"`
}

func escalationResponse(e domain.Escalation) EscalationResponse {
	return EscalationResponse{
		ID:          e.ID,
		TaskID:      e.TaskID,
		Level:       e.Level,
		Roles:       e.Roles,
		TriggeredAt: e.TriggeredAt,
		TriggeredBy: e.TriggeredBy,
		Reason:      e.Reason,
	}
}

func mapEscalations(items []domain.Escalation) []EscalationResponse {
	res := make([]EscalationResponse, 0, len(items))
	for _, e := range items {
		res = append(res, escalationResponse(e))
	}
	return res
}

// SubmitResponse reports what a submission generated.
type SubmitResponse struct {
	Version VersionResponse `json:"version"`
	Steps   []StepResponse  `json:"steps"`
	Tasks   []TaskResponse  `json:"tasks"`
}

func submitResponse(res engine.SubmitResult) SubmitResponse {
	return SubmitResponse{
		Version: versionResponse(res.Version),
		Steps:   mapSteps(res.Steps),
		Tasks:   mapTasks(res.Tasks),
	}
}

// DecisionResponse reports an approve or reject outcome.
type DecisionResponse struct {
	Step      StepResponse    `json:"step"`
	Version   VersionResponse `json:"version"`
	Completed bool            `json:"completed,omitempty"`
	Cascaded  []StepResponse  `json:"cascaded,omitempty"`
}

// GenerateResponse reports one RACI generator run.
type GenerateResponse struct {
	Created []TaskResponse       `json:"created"`
	Skipped []engine.SkippedTask `json:"skipped,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Action     string `json:"action"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	BeforeJSON string `json:"before_json,omitempty"`
	AfterJSON  string `json:"after_json,omitempty"`
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Action:     e.Action,
			ProjectID:  e.ProjectID,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			BeforeJSON: e.BeforeJSON,
			AfterJSON:  e.AfterJSON,
		})
	}
	return res
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Package engine implements the document governance core: version
// lifecycle, policy-driven approval chains, separation-of-duties checks
// and the task fabric derived from both.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docline/internal/config"
	"docline/internal/domain"
	"docline/internal/engine/sod"
	"docline/internal/events"
	"docline/internal/metrics"
	"docline/internal/policy"
	"docline/internal/repo"
)

var (
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrAlreadySubmitted    = errors.New("version already in review")
	ErrStepAlreadyResolved = errors.New("approval step already resolved")
)

// Engine wires the repository, audit writer and loaded config behind
// the governance operations. Now is injectable for tests.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e *Engine) now() string {
	return e.Now().UTC().Format(time.RFC3339)
}

// projectConfig prefers the config stored with the project and falls
// back to the workspace config the engine was constructed with.
func (e *Engine) projectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, repo.ErrNotFound) && e.Config != nil {
		return e.Config, nil
	}
	return nil, err
}

type InitProjectOptions struct {
	ProjectID   string
	Name        string
	Description string
	ActorID     string
}

// InitProject creates the project, stores its config snapshot and adds
// the initiating actor as business owner.
func (e *Engine) InitProject(ctx context.Context, opts InitProjectOptions) (domain.Project, error) {
	if opts.ProjectID == "" || opts.Name == "" {
		return domain.Project{}, errors.New("project id and name required")
	}
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default(opts.ProjectID)
	}
	now := e.now()
	project := domain.Project{
		ID:          opts.ProjectID,
		OrgID:       "default-org",
		Name:        opts.Name,
		Status:      "ACTIVE",
		Description: opts.Description,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureOrg(ctx, tx, project.OrgID, "Default Organization", now); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.EnsureUser(ctx, tx, opts.ActorID, now); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.InsertProject(ctx, tx, project); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, project.ID, cfg); err != nil {
		return domain.Project{}, err
	}
	member := domain.ProjectMember{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		UserID:    opts.ActorID,
		RoleCode:  "business_owner",
		InvitedBy: opts.ActorID,
		CreatedAt: now,
	}
	if err := e.Repo.InsertMemberTx(ctx, tx, member); err != nil {
		return domain.Project{}, err
	}
	after := events.Snapshot{"name": project.Name, "status": project.Status}
	if err := e.Events.Append(ctx, tx, "project.init", project.ID, "project", project.ID, opts.ActorID, nil, after); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return project, nil
}

type AddMemberOptions struct {
	ProjectID   string
	UserID      string
	RoleCode    string
	IsTemporary bool
	ExpiresAt   *string
	ActorID     string
}

// AddMember registers a user on the project with a role from the
// config catalog.
func (e *Engine) AddMember(ctx context.Context, opts AddMemberOptions) (domain.ProjectMember, error) {
	if opts.UserID == "" || opts.RoleCode == "" {
		return domain.ProjectMember{}, errors.New("user id and role required")
	}
	cfg, err := e.projectConfig(ctx, opts.ProjectID)
	if err != nil {
		return domain.ProjectMember{}, err
	}
	if len(cfg.Roles.Catalog) > 0 {
		if _, ok := cfg.Roles.Catalog[opts.RoleCode]; !ok {
			return domain.ProjectMember{}, fmt.Errorf("unknown role %q", opts.RoleCode)
		}
	}
	now := e.now()
	member := domain.ProjectMember{
		ID:          uuid.NewString(),
		ProjectID:   opts.ProjectID,
		UserID:      opts.UserID,
		RoleCode:    opts.RoleCode,
		IsTemporary: opts.IsTemporary,
		ExpiresAt:   opts.ExpiresAt,
		InvitedBy:   opts.ActorID,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectMember{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, opts.UserID, now); err != nil {
		return domain.ProjectMember{}, err
	}
	if err := e.Repo.InsertMemberTx(ctx, tx, member); err != nil {
		return domain.ProjectMember{}, err
	}
	after := events.Snapshot{"user_id": member.UserID, "role_code": member.RoleCode, "is_temporary": member.IsTemporary}
	if err := e.Events.Append(ctx, tx, "member.added", opts.ProjectID, "member", member.ID, opts.ActorID, nil, after); err != nil {
		return domain.ProjectMember{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectMember{}, err
	}
	return member, nil
}

// RemoveMember drops a project membership.
func (e *Engine) RemoveMember(ctx context.Context, projectID, userID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	member, err := e.Repo.GetMemberTx(ctx, tx, projectID, userID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteMemberTx(ctx, tx, projectID, userID); err != nil {
		return err
	}
	before := events.Snapshot{"user_id": member.UserID, "role_code": member.RoleCode}
	if err := e.Events.Append(ctx, tx, "member.removed", projectID, "member", member.ID, actorID, before, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ImportConfig replaces the project's config snapshot. Policy changes
// apply to future submissions only; open review cycles keep the steps
// they were generated with.
func (e *Engine) ImportConfig(ctx context.Context, projectID string, cfg *config.Config, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
		return err
	}
	after := events.Snapshot{"policies": len(cfg.Approvals.Policies), "roles": len(cfg.Roles.Catalog)}
	if err := e.Events.Append(ctx, tx, "config.imported", projectID, "project", projectID, actorID, nil, after); err != nil {
		return err
	}
	return tx.Commit()
}

type CreateDocumentOptions struct {
	ProjectID   string
	DocType     string
	Title       string
	TemplateRef string
	ContentJSON string
	ActorID     string
}

// CreateDocument creates a document with its initial v1.0 draft and
// points the document at it.
func (e *Engine) CreateDocument(ctx context.Context, opts CreateDocumentOptions) (domain.Document, domain.DocumentVersion, error) {
	if opts.Title == "" || opts.DocType == "" {
		return domain.Document{}, domain.DocumentVersion{}, errors.New("doc type and title required")
	}
	cfg, err := e.projectConfig(ctx, opts.ProjectID)
	if err != nil {
		return domain.Document{}, domain.DocumentVersion{}, err
	}
	if _, err := policy.FromConfig(cfg).Resolve(opts.DocType); err != nil {
		return domain.Document{}, domain.DocumentVersion{}, err
	}
	now := e.now()
	doc := domain.Document{
		ID:        uuid.NewString(),
		ProjectID: opts.ProjectID,
		DocType:   opts.DocType,
		Title:     opts.Title,
		CreatedBy: opts.ActorID,
		CreatedAt: now,
	}
	version := domain.DocumentVersion{
		ID:          uuid.NewString(),
		DocumentID:  doc.ID,
		Label:       "v1.0",
		State:       domain.StateDraft,
		TemplateRef: opts.TemplateRef,
		ContentJSON: opts.ContentJSON,
		CreatedBy:   opts.ActorID,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, domain.DocumentVersion{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, opts.ActorID, now); err != nil {
		return domain.Document{}, domain.DocumentVersion{}, err
	}
	if err := e.Repo.InsertDocumentTx(ctx, tx, doc); err != nil {
		return domain.Document{}, domain.DocumentVersion{}, err
	}
	if err := e.Repo.InsertVersionTx(ctx, tx, version); err != nil {
		return domain.Document{}, domain.DocumentVersion{}, err
	}
	if err := e.Repo.SetCurrentVersionTx(ctx, tx, doc.ID, version.ID); err != nil {
		return domain.Document{}, domain.DocumentVersion{}, err
	}
	doc.CurrentVersionID = &version.ID
	after := events.Snapshot{"doc_type": doc.DocType, "title": doc.Title}
	if err := e.Events.Append(ctx, tx, "document.created", opts.ProjectID, "document", doc.ID, opts.ActorID, nil, after); err != nil {
		return domain.Document{}, domain.DocumentVersion{}, err
	}
	vAfter := events.Snapshot{"label": version.Label, "state": version.State}
	if err := e.Events.Append(ctx, tx, "version.created", opts.ProjectID, "document_version", version.ID, opts.ActorID, nil, vAfter); err != nil {
		return domain.Document{}, domain.DocumentVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, domain.DocumentVersion{}, err
	}
	return doc, version, nil
}

// CreateVersion opens the next draft of a document. The current version
// must be approved first; there is never more than one working draft.
func (e *Engine) CreateVersion(ctx context.Context, documentID, templateRef, contentJSON, actorID string) (domain.DocumentVersion, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DocumentVersion{}, err
	}
	defer tx.Rollback()
	doc, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return domain.DocumentVersion{}, err
	}
	if doc.CurrentVersionID != nil {
		current, err := e.Repo.GetVersionTx(ctx, tx, *doc.CurrentVersionID)
		if err != nil {
			return domain.DocumentVersion{}, err
		}
		if current.State != domain.StateApproved {
			return domain.DocumentVersion{}, fmt.Errorf("current version %s is %s: %w", current.Label, current.State, ErrInvalidTransition)
		}
	}
	count, err := e.Repo.CountVersionsTx(ctx, tx, documentID)
	if err != nil {
		return domain.DocumentVersion{}, err
	}
	now := e.now()
	version := domain.DocumentVersion{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		Label:       fmt.Sprintf("v%d.0", count+1),
		State:       domain.StateDraft,
		TemplateRef: templateRef,
		ContentJSON: contentJSON,
		CreatedBy:   actorID,
		CreatedAt:   now,
	}
	if err := e.Repo.EnsureUser(ctx, tx, actorID, now); err != nil {
		return domain.DocumentVersion{}, err
	}
	if err := e.Repo.InsertVersionTx(ctx, tx, version); err != nil {
		return domain.DocumentVersion{}, err
	}
	if err := e.Repo.SetCurrentVersionTx(ctx, tx, documentID, version.ID); err != nil {
		return domain.DocumentVersion{}, err
	}
	after := events.Snapshot{"label": version.Label, "state": version.State}
	if err := e.Events.Append(ctx, tx, "version.created", doc.ProjectID, "document_version", version.ID, actorID, nil, after); err != nil {
		return domain.DocumentVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DocumentVersion{}, err
	}
	return version, nil
}

// UpdateVersionContent edits draft content. Locked content (anything
// past DRAFT) is immutable.
func (e *Engine) UpdateVersionContent(ctx context.Context, versionID, contentJSON string, fileRef *string, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	version, err := e.Repo.GetVersionTx(ctx, tx, versionID)
	if err != nil {
		return err
	}
	doc, err := e.Repo.GetDocumentTx(ctx, tx, version.DocumentID)
	if err != nil {
		return err
	}
	rows, err := e.Repo.UpdateVersionContentTx(ctx, tx, versionID, contentJSON, fileRef)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("version %s is %s, content is locked: %w", version.Label, version.State, ErrInvalidTransition)
	}
	before := events.Snapshot{"state": version.State}
	after := events.Snapshot{"state": version.State, "content_changed": true}
	if err := e.Events.Append(ctx, tx, "version.content.updated", doc.ProjectID, "document_version", versionID, actorID, before, after); err != nil {
		return err
	}
	return tx.Commit()
}

// AddComment records a review comment on a version under review.
func (e *Engine) AddComment(ctx context.Context, versionID, actorID, text string) (domain.ReviewComment, error) {
	if text == "" {
		return domain.ReviewComment{}, errors.New("comment text required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReviewComment{}, err
	}
	defer tx.Rollback()
	version, err := e.Repo.GetVersionTx(ctx, tx, versionID)
	if err != nil {
		return domain.ReviewComment{}, err
	}
	if version.State != domain.StateInReview {
		return domain.ReviewComment{}, fmt.Errorf("version %s is %s, comments are accepted during review only: %w", version.Label, version.State, ErrInvalidTransition)
	}
	doc, err := e.Repo.GetDocumentTx(ctx, tx, version.DocumentID)
	if err != nil {
		return domain.ReviewComment{}, err
	}
	now := e.now()
	comment := domain.ReviewComment{
		ID:                uuid.NewString(),
		DocumentVersionID: versionID,
		UserID:            actorID,
		Comment:           text,
		CreatedAt:         now,
	}
	if err := e.Repo.EnsureUser(ctx, tx, actorID, now); err != nil {
		return domain.ReviewComment{}, err
	}
	if err := e.Repo.InsertCommentTx(ctx, tx, comment); err != nil {
		return domain.ReviewComment{}, err
	}
	after := events.Snapshot{"comment": text}
	if err := e.Events.Append(ctx, tx, "comment.added", doc.ProjectID, "document_version", versionID, actorID, nil, after); err != nil {
		return domain.ReviewComment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReviewComment{}, err
	}
	return comment, nil
}

// SubmitResult reports what a submission generated.
type SubmitResult struct {
	Version domain.DocumentVersion `json:"version"`
	Steps   []domain.ApprovalStep  `json:"steps"`
	Tasks   []domain.Task          `json:"tasks"`
}

// SubmitVersion moves a draft into review: it bumps the review cycle,
// snapshots the approval policy into steps and opens one blocking
// approval task per step. The policy is resolved fresh on every
// submission.
func (e *Engine) SubmitVersion(ctx context.Context, versionID, actorID string) (SubmitResult, error) {
	version, err := e.Repo.GetVersion(ctx, versionID)
	if err != nil {
		return SubmitResult{}, err
	}
	doc, err := e.Repo.GetDocument(ctx, version.DocumentID)
	if err != nil {
		return SubmitResult{}, err
	}
	cfg, err := e.projectConfig(ctx, doc.ProjectID)
	if err != nil {
		return SubmitResult{}, err
	}
	pol, err := policy.FromConfig(cfg).Resolve(doc.DocType)
	if err != nil {
		metrics.Decision("submit_version", "denied")
		return SubmitResult{}, err
	}
	now := e.now()
	assignees := map[string]string{}
	for _, step := range pol.Steps {
		if _, ok := assignees[step.Role]; ok {
			continue
		}
		members, err := e.Repo.ActiveMembersWithRole(ctx, doc.ProjectID, step.Role, now)
		if err != nil {
			return SubmitResult{}, err
		}
		for _, m := range members {
			if !m.IsTemporary {
				assignees[step.Role] = m.UserID
				break
			}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SubmitResult{}, err
	}
	defer tx.Rollback()
	rows, err := e.Repo.SubmitVersionCAS(ctx, tx, versionID, now)
	if err != nil {
		return SubmitResult{}, err
	}
	if rows == 0 {
		current, err := e.Repo.GetVersionTx(ctx, tx, versionID)
		if err != nil {
			return SubmitResult{}, err
		}
		metrics.Decision("submit_version", "denied")
		if current.State == domain.StateInReview {
			return SubmitResult{}, ErrAlreadySubmitted
		}
		return SubmitResult{}, fmt.Errorf("version %s is %s: %w", current.Label, current.State, ErrInvalidTransition)
	}
	version, err = e.Repo.GetVersionTx(ctx, tx, versionID)
	if err != nil {
		return SubmitResult{}, err
	}
	existing, err := e.Repo.CountStepsTx(ctx, tx, versionID, version.Cycle)
	if err != nil {
		return SubmitResult{}, err
	}
	if existing > 0 {
		return SubmitResult{}, ErrAlreadySubmitted
	}
	result := SubmitResult{Version: version}
	for _, step := range pol.Steps {
		s := domain.ApprovalStep{
			ID:                uuid.NewString(),
			DocumentVersionID: versionID,
			Cycle:             version.Cycle,
			StepNo:            step.StepNo,
			RoleRequired:      step.Role,
			IsOptional:        step.Optional,
			Status:            domain.StepPending,
		}
		if err := e.Repo.InsertStepTx(ctx, tx, s); err != nil {
			return SubmitResult{}, err
		}
		result.Steps = append(result.Steps, s)
		task, err := e.openApprovalTask(ctx, tx, doc, version, step, assignees[step.Role], cfg, now)
		if err != nil {
			return SubmitResult{}, err
		}
		result.Tasks = append(result.Tasks, task)
	}
	before := events.Snapshot{"state": domain.StateDraft, "cycle": version.Cycle - 1}
	after := events.Snapshot{"state": version.State, "cycle": version.Cycle, "steps": len(result.Steps)}
	if err := e.Events.Append(ctx, tx, "version.submitted", doc.ProjectID, "document_version", versionID, actorID, before, after); err != nil {
		return SubmitResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SubmitResult{}, err
	}
	metrics.Decision("submit_version", "submitted")
	return result, nil
}

// openApprovalTask opens the blocking task backing one approval step,
// with a due date and reminder from the task config.
func (e *Engine) openApprovalTask(ctx context.Context, tx *sql.Tx, doc domain.Document, version domain.DocumentVersion, step policy.Step, assignee string, cfg *config.Config, now string) (domain.Task, error) {
	priority := domain.PriorityMedium
	if step.StepNo == 1 {
		priority = domain.PriorityHigh
	}
	task := domain.Task{
		ID:                uuid.NewString(),
		ProjectID:         doc.ProjectID,
		TaskType:          domain.TaskTypeApproval,
		Title:             fmt.Sprintf("%s %s Approval (Step %d)", doc.Title, version.Label, step.StepNo),
		Description:       fmt.Sprintf("Approve %s %s as %s", doc.Title, version.Label, step.Role),
		DocumentVersionID: &version.ID,
		RequiredRole:      &step.Role,
		Status:            domain.TaskOpen,
		Priority:          priority,
		IsBlocking:        true,
		CreatedAt:         now,
	}
	if assignee != "" {
		task.AssignedTo = &assignee
	}
	if cfg.Tasks.DefaultDueDays > 0 {
		due := e.Now().UTC().Add(time.Duration(cfg.Tasks.DefaultDueDays) * 24 * time.Hour)
		dueAt := due.Format(time.RFC3339)
		task.DueAt = &dueAt
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, task); err != nil {
		return domain.Task{}, err
	}
	if task.DueAt != nil && cfg.Tasks.RemindDays > 0 {
		due, err := time.Parse(time.RFC3339, *task.DueAt)
		if err != nil {
			return domain.Task{}, err
		}
		reminder := domain.Reminder{
			ID:       uuid.NewString(),
			TaskID:   task.ID,
			RemindAt: due.Add(-time.Duration(cfg.Tasks.RemindDays) * 24 * time.Hour).Format(time.RFC3339),
			Status:   domain.ReminderScheduled,
		}
		if err := e.Repo.InsertReminderTx(ctx, tx, reminder); err != nil {
			return domain.Task{}, err
		}
	}
	return task, nil
}

type ApproveOptions struct {
	VersionID    string
	ActorID      string
	Comment      string
	EvidenceHash string
}

// ApproveResult reports the resolved step and whether the approval
// completed the chain.
type ApproveResult struct {
	Step      domain.ApprovalStep    `json:"step"`
	Version   domain.DocumentVersion `json:"version"`
	Completed bool                   `json:"completed"`
}

// ApproveStep approves the current pending step on behalf of the actor.
// The actor's project role must match the step's required role, steps
// resolve strictly in order and every separation-of-duties rule is
// evaluated before the write.
func (e *Engine) ApproveStep(ctx context.Context, opts ApproveOptions) (ApproveResult, error) {
	version, doc, member, err := e.decisionContext(ctx, opts.VersionID, opts.ActorID)
	if err != nil {
		metrics.Decision("approve_step", "denied")
		return ApproveResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ApproveResult{}, err
	}
	defer tx.Rollback()
	step, err := e.currentStep(ctx, tx, version, member)
	if err != nil {
		metrics.Decision("approve_step", "denied")
		return ApproveResult{}, err
	}
	if err := e.checkSoD(ctx, tx, version, member, true); err != nil {
		metrics.Decision("approve_step", "denied")
		return ApproveResult{}, err
	}
	now := e.now()
	rows, err := e.Repo.ResolveStepCAS(ctx, tx, step.ID, domain.StepApproved, opts.ActorID, opts.Comment, opts.EvidenceHash, now)
	if err != nil {
		return ApproveResult{}, err
	}
	if rows == 0 {
		metrics.Decision("approve_step", "denied")
		return ApproveResult{}, ErrStepAlreadyResolved
	}
	stepAfter := events.Snapshot{"step_no": step.StepNo, "role": step.RoleRequired, "status": domain.StepApproved}
	stepBefore := events.Snapshot{"step_no": step.StepNo, "role": step.RoleRequired, "status": domain.StepPending}
	if err := e.Events.Append(ctx, tx, "step.approved", doc.ProjectID, "approval_step", step.ID, opts.ActorID, stepBefore, stepAfter); err != nil {
		return ApproveResult{}, err
	}
	steps, err := e.Repo.ListStepsTx(ctx, tx, version.ID, version.Cycle)
	if err != nil {
		return ApproveResult{}, err
	}
	completed := true
	for _, s := range steps {
		if !s.IsOptional && s.Status != domain.StepApproved {
			completed = false
			break
		}
	}
	if completed {
		locked, err := e.Repo.ApproveVersionCAS(ctx, tx, version.ID, now)
		if err != nil {
			return ApproveResult{}, err
		}
		if locked == 0 {
			return ApproveResult{}, fmt.Errorf("version %s left review concurrently: %w", version.Label, ErrInvalidTransition)
		}
		if err := e.closeVersionTasks(ctx, tx, version.ID); err != nil {
			return ApproveResult{}, err
		}
		before := events.Snapshot{"state": domain.StateInReview}
		after := events.Snapshot{"state": domain.StateApproved, "locked_at": now}
		if err := e.Events.Append(ctx, tx, "version.approved", doc.ProjectID, "document_version", version.ID, opts.ActorID, before, after); err != nil {
			return ApproveResult{}, err
		}
	}
	final, err := e.Repo.GetVersionTx(ctx, tx, version.ID)
	if err != nil {
		return ApproveResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ApproveResult{}, err
	}
	metrics.Decision("approve_step", "approved")
	step.Status = domain.StepApproved
	step.ApproverUserID = &opts.ActorID
	step.Comment = opts.Comment
	step.EvidenceHash = opts.EvidenceHash
	step.SignedAt = &now
	return ApproveResult{Step: step, Version: final, Completed: completed}, nil
}

type RejectOptions struct {
	VersionID string
	ActorID   string
	Comment   string
}

// RejectResult reports the rejecting step and the cascade it caused.
type RejectResult struct {
	Step     domain.ApprovalStep    `json:"step"`
	Version  domain.DocumentVersion `json:"version"`
	Cascaded []domain.ApprovalStep  `json:"cascaded"`
}

// RejectStep rejects the current pending step. Every later pending step
// of the cycle is rejected with it and the version returns to draft.
func (e *Engine) RejectStep(ctx context.Context, opts RejectOptions) (RejectResult, error) {
	version, doc, member, err := e.decisionContext(ctx, opts.VersionID, opts.ActorID)
	if err != nil {
		metrics.Decision("reject_step", "denied")
		return RejectResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RejectResult{}, err
	}
	defer tx.Rollback()
	step, err := e.currentStep(ctx, tx, version, member)
	if err != nil {
		metrics.Decision("reject_step", "denied")
		return RejectResult{}, err
	}
	if err := e.checkSoD(ctx, tx, version, member, false); err != nil {
		metrics.Decision("reject_step", "denied")
		return RejectResult{}, err
	}
	now := e.now()
	rows, err := e.Repo.ResolveStepCAS(ctx, tx, step.ID, domain.StepRejected, opts.ActorID, opts.Comment, "", now)
	if err != nil {
		return RejectResult{}, err
	}
	if rows == 0 {
		metrics.Decision("reject_step", "denied")
		return RejectResult{}, ErrStepAlreadyResolved
	}
	result := RejectResult{}
	steps, err := e.Repo.ListStepsTx(ctx, tx, version.ID, version.Cycle)
	if err != nil {
		return RejectResult{}, err
	}
	cascade := fmt.Sprintf("rejected due to rejection at step %d", step.StepNo)
	for _, s := range steps {
		if s.Status != domain.StepPending {
			continue
		}
		if _, err := e.Repo.ResolveStepCAS(ctx, tx, s.ID, domain.StepRejected, "", cascade, "", now); err != nil {
			return RejectResult{}, err
		}
		s.Status = domain.StepRejected
		s.Comment = cascade
		result.Cascaded = append(result.Cascaded, s)
	}
	returned, err := e.Repo.ReturnVersionToDraftCAS(ctx, tx, version.ID)
	if err != nil {
		return RejectResult{}, err
	}
	if returned == 0 {
		return RejectResult{}, fmt.Errorf("version %s left review concurrently: %w", version.Label, ErrInvalidTransition)
	}
	if err := e.closeVersionTasks(ctx, tx, version.ID); err != nil {
		return RejectResult{}, err
	}
	stepBefore := events.Snapshot{"step_no": step.StepNo, "role": step.RoleRequired, "status": domain.StepPending}
	stepAfter := events.Snapshot{"step_no": step.StepNo, "role": step.RoleRequired, "status": domain.StepRejected, "comment": opts.Comment}
	if err := e.Events.Append(ctx, tx, "step.rejected", doc.ProjectID, "approval_step", step.ID, opts.ActorID, stepBefore, stepAfter); err != nil {
		return RejectResult{}, err
	}
	before := events.Snapshot{"state": domain.StateInReview}
	after := events.Snapshot{"state": domain.StateDraft, "cascaded": len(result.Cascaded)}
	if err := e.Events.Append(ctx, tx, "version.rejected", doc.ProjectID, "document_version", version.ID, opts.ActorID, before, after); err != nil {
		return RejectResult{}, err
	}
	final, err := e.Repo.GetVersionTx(ctx, tx, version.ID)
	if err != nil {
		return RejectResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return RejectResult{}, err
	}
	metrics.Decision("reject_step", "rejected")
	step.Status = domain.StepRejected
	step.ApproverUserID = &opts.ActorID
	step.Comment = opts.Comment
	step.SignedAt = &now
	result.Step = step
	result.Version = final
	return result, nil
}

// decisionContext gathers the version, document and acting member for
// an approval decision and validates the version is under review.
func (e *Engine) decisionContext(ctx context.Context, versionID, actorID string) (domain.DocumentVersion, domain.Document, domain.ProjectMember, error) {
	version, err := e.Repo.GetVersion(ctx, versionID)
	if err != nil {
		return domain.DocumentVersion{}, domain.Document{}, domain.ProjectMember{}, err
	}
	if version.State != domain.StateInReview {
		return domain.DocumentVersion{}, domain.Document{}, domain.ProjectMember{},
			fmt.Errorf("version %s is %s: %w", version.Label, version.State, ErrInvalidTransition)
	}
	doc, err := e.Repo.GetDocument(ctx, version.DocumentID)
	if err != nil {
		return domain.DocumentVersion{}, domain.Document{}, domain.ProjectMember{}, err
	}
	member, err := e.Repo.GetMember(ctx, doc.ProjectID, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.DocumentVersion{}, domain.Document{}, domain.ProjectMember{},
			fmt.Errorf("user %s is not a member of project %s", actorID, doc.ProjectID)
	}
	if err != nil {
		return domain.DocumentVersion{}, domain.Document{}, domain.ProjectMember{}, err
	}
	if member.ExpiresAt != nil && *member.ExpiresAt <= e.now() {
		return domain.DocumentVersion{}, domain.Document{}, domain.ProjectMember{},
			fmt.Errorf("membership of %s in project %s expired at %s", actorID, doc.ProjectID, *member.ExpiresAt)
	}
	return version, doc, member, nil
}

// currentStep returns the lowest pending step and verifies the acting
// member holds its required role. Steps resolve strictly in order.
func (e *Engine) currentStep(ctx context.Context, tx *sql.Tx, version domain.DocumentVersion, member domain.ProjectMember) (domain.ApprovalStep, error) {
	steps, err := e.Repo.ListStepsTx(ctx, tx, version.ID, version.Cycle)
	if err != nil {
		return domain.ApprovalStep{}, err
	}
	for _, s := range steps {
		if s.Status != domain.StepPending {
			continue
		}
		if s.RoleRequired != member.RoleCode {
			return domain.ApprovalStep{}, fmt.Errorf("step %d requires role %s, %s holds %s", s.StepNo, s.RoleRequired, member.UserID, member.RoleCode)
		}
		return s, nil
	}
	return domain.ApprovalStep{}, ErrStepAlreadyResolved
}

// checkSoD runs the separation-of-duties rules. The reviewer rule only
// guards approvals; rejecting after commenting is normal reviewer work.
func (e *Engine) checkSoD(ctx context.Context, tx *sql.Tx, version domain.DocumentVersion, member domain.ProjectMember, approving bool) error {
	if err := sod.CheckAuthor(version.CreatedBy, member.UserID); err != nil {
		return e.denied(err)
	}
	if err := sod.CheckTemporary(member); err != nil {
		return e.denied(err)
	}
	if approving {
		hasComment, err := e.Repo.HasCommentByTx(ctx, tx, version.ID, member.UserID)
		if err != nil {
			return err
		}
		if err := sod.CheckReviewer(hasComment); err != nil {
			return e.denied(err)
		}
	}
	return nil
}

func (e *Engine) denied(err error) error {
	var d sod.DeniedError
	if errors.As(err, &d) {
		metrics.SoDDenials.WithLabelValues(d.Rule).Inc()
	}
	return err
}

// closeVersionTasks closes still-open tasks tied to a version and
// cancels their reminders.
func (e *Engine) closeVersionTasks(ctx context.Context, tx *sql.Tx, versionID string) error {
	ids, err := e.Repo.CloseOpenVersionTasksTx(ctx, tx, versionID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.Repo.CancelTaskRemindersTx(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

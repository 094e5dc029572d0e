package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"docline/internal/domain"
	"docline/internal/events"
)

type CreateTaskOptions struct {
	ProjectID   string
	Title       string
	Description string
	TaskType    string
	Priority    string
	AssignedTo  *string
	DueAt       *string
	ActorID     string
}

// CreateTask opens an ad hoc task outside the generated fabric.
func (e *Engine) CreateTask(ctx context.Context, opts CreateTaskOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title required")
	}
	if opts.TaskType == "" {
		opts.TaskType = domain.TaskTypeDevelopment
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	now := e.now()
	task := domain.Task{
		ID:          uuid.NewString(),
		ProjectID:   opts.ProjectID,
		TaskType:    opts.TaskType,
		Title:       opts.Title,
		Description: opts.Description,
		AssignedTo:  opts.AssignedTo,
		Status:      domain.TaskOpen,
		Priority:    opts.Priority,
		DueAt:       opts.DueAt,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if opts.AssignedTo != nil {
		if err := e.Repo.EnsureUser(ctx, tx, *opts.AssignedTo, now); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, task); err != nil {
		return domain.Task{}, err
	}
	after := events.Snapshot{"title": task.Title, "task_type": task.TaskType, "status": task.Status}
	if err := e.Events.Append(ctx, tx, "task.created", opts.ProjectID, "task", task.ID, opts.ActorID, nil, after); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// StartTask moves an open task into progress, claiming it for the
// actor when it is unassigned.
func (e *Engine) StartTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	task, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if task.Status != domain.TaskOpen {
		return domain.Task{}, fmt.Errorf("task is %s: %w", task.Status, ErrInvalidTransition)
	}
	before := events.Snapshot{"status": task.Status}
	task.Status = domain.TaskInProgress
	if task.AssignedTo == nil {
		if err := e.Repo.EnsureUser(ctx, tx, actorID, e.now()); err != nil {
			return domain.Task{}, err
		}
		task.AssignedTo = &actorID
	}
	if err := e.Repo.UpdateTaskTx(ctx, tx, task); err != nil {
		return domain.Task{}, err
	}
	after := events.Snapshot{"status": task.Status, "assigned_to": task.AssignedTo}
	if err := e.Events.Append(ctx, tx, "task.started", task.ProjectID, "task", task.ID, actorID, before, after); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// CompleteResult carries the completed task and the successors the
// completion unblocked.
type CompleteResult struct {
	Task     domain.Task   `json:"task"`
	Advanced []domain.Task `json:"advanced"`
}

// CompleteTask finishes a task and advances its open successors into
// progress. Pending reminders are canceled.
func (e *Engine) CompleteTask(ctx context.Context, taskID, actorID string) (CompleteResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CompleteResult{}, err
	}
	defer tx.Rollback()
	task, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return CompleteResult{}, err
	}
	if task.Status != domain.TaskOpen && task.Status != domain.TaskInProgress {
		return CompleteResult{}, fmt.Errorf("task is %s: %w", task.Status, ErrInvalidTransition)
	}
	now := e.now()
	before := events.Snapshot{"status": task.Status}
	task.Status = domain.TaskCompleted
	task.CompletedAt = &now
	if task.AssignedTo == nil {
		if err := e.Repo.EnsureUser(ctx, tx, actorID, now); err != nil {
			return CompleteResult{}, err
		}
		task.AssignedTo = &actorID
	}
	if err := e.Repo.UpdateTaskTx(ctx, tx, task); err != nil {
		return CompleteResult{}, err
	}
	if err := e.Repo.CancelTaskRemindersTx(ctx, tx, task.ID); err != nil {
		return CompleteResult{}, err
	}
	after := events.Snapshot{"status": task.Status, "completed_at": now}
	if err := e.Events.Append(ctx, tx, "task.completed", task.ProjectID, "task", task.ID, actorID, before, after); err != nil {
		return CompleteResult{}, err
	}
	result := CompleteResult{Task: task}
	successors, err := e.Repo.OpenSuccessorsTx(ctx, tx, task.ID)
	if err != nil {
		return CompleteResult{}, err
	}
	for _, next := range successors {
		sBefore := events.Snapshot{"status": next.Status}
		next.Status = domain.TaskInProgress
		if err := e.Repo.UpdateTaskTx(ctx, tx, next); err != nil {
			return CompleteResult{}, err
		}
		sAfter := events.Snapshot{"status": next.Status, "prereq_task_id": task.ID}
		if err := e.Events.Append(ctx, tx, "task.advanced", next.ProjectID, "task", next.ID, actorID, sBefore, sAfter); err != nil {
			return CompleteResult{}, err
		}
		result.Advanced = append(result.Advanced, next)
	}
	if err := tx.Commit(); err != nil {
		return CompleteResult{}, err
	}
	return result, nil
}

// VerifyTask confirms a completed task. The assignee cannot verify
// their own work.
func (e *Engine) VerifyTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	task, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if task.Status != domain.TaskCompleted {
		return domain.Task{}, fmt.Errorf("task is %s: %w", task.Status, ErrInvalidTransition)
	}
	if task.AssignedTo != nil && *task.AssignedTo == actorID {
		return domain.Task{}, fmt.Errorf("assignee %s cannot verify their own task", actorID)
	}
	now := e.now()
	before := events.Snapshot{"status": task.Status}
	task.Status = domain.TaskVerified
	task.VerifiedAt = &now
	task.VerifiedBy = &actorID
	if err := e.Repo.EnsureUser(ctx, tx, actorID, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.UpdateTaskTx(ctx, tx, task); err != nil {
		return domain.Task{}, err
	}
	after := events.Snapshot{"status": task.Status, "verified_by": actorID}
	if err := e.Events.Append(ctx, tx, "task.verified", task.ProjectID, "task", task.ID, actorID, before, after); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// ReassignTask hands a task to another member. Only a business owner
// of the project may reassign.
func (e *Engine) ReassignTask(ctx context.Context, taskID, newAssignee, actorID string) (domain.Task, error) {
	if newAssignee == "" {
		return domain.Task{}, errors.New("assignee required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	task, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if domain.TerminalTaskStatus(task.Status) {
		return domain.Task{}, fmt.Errorf("task is %s: %w", task.Status, ErrInvalidTransition)
	}
	member, err := e.Repo.GetMemberTx(ctx, tx, task.ProjectID, actorID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("user %s is not a member of project %s", actorID, task.ProjectID)
	}
	if member.RoleCode != "business_owner" {
		return domain.Task{}, fmt.Errorf("only a business owner can reassign tasks, %s holds %s", actorID, member.RoleCode)
	}
	now := e.now()
	before := events.Snapshot{"assigned_to": task.AssignedTo}
	if err := e.Repo.EnsureUser(ctx, tx, newAssignee, now); err != nil {
		return domain.Task{}, err
	}
	task.AssignedTo = &newAssignee
	if err := e.Repo.UpdateTaskTx(ctx, tx, task); err != nil {
		return domain.Task{}, err
	}
	after := events.Snapshot{"assigned_to": newAssignee}
	if err := e.Events.Append(ctx, tx, "task.reassigned", task.ProjectID, "task", task.ID, actorID, before, after); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

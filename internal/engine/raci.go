package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"docline/internal/domain"
	"docline/internal/events"
	"docline/internal/metrics"
	"docline/internal/raci"
	"docline/internal/repo"
)

// NoResponsibleRoleError means a task cannot escalate because its RACI
// row assigns neither a responsible nor an accountable role.
type NoResponsibleRoleError struct {
	Stage string
	Task  string
}

func (e NoResponsibleRoleError) Error() string {
	return fmt.Sprintf("no responsible or accountable role for task %q in stage %q", e.Task, e.Stage)
}

// SkippedTask explains why the generator left a candidate out.
type SkippedTask struct {
	Stage  string `json:"stage"`
	Task   string `json:"task"`
	Role   string `json:"role"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// GenerateResult reports one generator run.
type GenerateResult struct {
	Created []domain.Task `json:"created"`
	Skipped []SkippedTask `json:"skipped"`
}

// UpdateMatrix replaces the project's RACI matrix after validation.
func (e *Engine) UpdateMatrix(ctx context.Context, projectID string, m raci.Matrix, actorID string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	var before events.Snapshot
	if existing, err := e.Repo.GetRaciMatrix(ctx, projectID); err == nil {
		before = events.Snapshot{"stages": len(existing.Stages)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRaciMatrixTx(ctx, tx, projectID, m); err != nil {
		return err
	}
	after := events.Snapshot{"stages": len(m.Stages)}
	if err := e.Events.Append(ctx, tx, "raci.matrix.updated", projectID, "project", projectID, actorID, before, after); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateMatrixTaskStatus records progress on a matrix row itself, as
// opposed to the generated tasks. The stored matrix is rewritten with
// the row's new status.
func (e *Engine) UpdateMatrixTaskStatus(ctx context.Context, projectID, stage, taskName, status, actorID string) (raci.Matrix, error) {
	switch status {
	case domain.TaskOpen, domain.TaskInProgress, domain.TaskCompleted, domain.TaskVerified, domain.TaskClosed:
	default:
		return raci.Matrix{}, fmt.Errorf("invalid status %q: %w", status, ErrInvalidTransition)
	}
	matrix, err := e.Repo.GetRaciMatrix(ctx, projectID)
	if err != nil {
		return raci.Matrix{}, err
	}
	row, ok := matrix.FindTask(stage, taskName)
	if !ok {
		return raci.Matrix{}, fmt.Errorf("raci row %q/%q: %w", stage, taskName, repo.ErrNotFound)
	}
	before := events.Snapshot{"status": row.Status}
	matrix.SetTaskStatus(stage, taskName, status)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return raci.Matrix{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRaciMatrixTx(ctx, tx, projectID, matrix); err != nil {
		return raci.Matrix{}, err
	}
	after := events.Snapshot{"stage": stage, "task": taskName, "status": status}
	if err := e.Events.Append(ctx, tx, "raci.task.status.updated", projectID, "project", projectID, actorID, before, after); err != nil {
		return raci.Matrix{}, err
	}
	if err := tx.Commit(); err != nil {
		return raci.Matrix{}, err
	}
	return matrix, nil
}

// GenerateTasks compiles the project's RACI matrix into tasks. The run
// is idempotent: candidates whose natural key or title already exists
// are skipped, so repeated runs only fill gaps. Informed rows never
// produce tasks.
func (e *Engine) GenerateTasks(ctx context.Context, projectID, actorID string) (GenerateResult, error) {
	matrix, err := e.Repo.GetRaciMatrix(ctx, projectID)
	if err != nil {
		return GenerateResult{}, err
	}
	now := e.now()
	assignees, err := e.resolveAssignees(ctx, projectID, matrix, now)
	if err != nil {
		return GenerateResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GenerateResult{}, err
	}
	defer tx.Rollback()
	var result GenerateResult
	for _, stage := range matrix.Stages {
		for _, row := range stage.Tasks {
			if err := e.generateForRow(ctx, tx, projectID, stage.Name, row, assignees, now, &result); err != nil {
				return GenerateResult{}, err
			}
		}
	}
	after := events.Snapshot{"created": len(result.Created), "skipped": len(result.Skipped)}
	if err := e.Events.Append(ctx, tx, "raci.tasks.generated", projectID, "project", projectID, actorID, nil, after); err != nil {
		return GenerateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return GenerateResult{}, err
	}
	for _, t := range result.Created {
		metrics.TasksGenerated.WithLabelValues(t.TaskType).Inc()
	}
	return result, nil
}

// resolveAssignees maps every role in the matrix to a user: pinned
// assignments first, then the earliest active member holding the role.
// Roles with nobody available stay unassigned.
func (e *Engine) resolveAssignees(ctx context.Context, projectID string, matrix raci.Matrix, now string) (map[string]string, error) {
	assignees := map[string]string{}
	for _, stage := range matrix.Stages {
		for _, row := range stage.Tasks {
			for role := range row.Roles {
				if _, done := assignees[role]; done {
					continue
				}
				if user, ok := matrix.RoleAssignments[role]; ok {
					assignees[role] = user
					continue
				}
				members, err := e.Repo.ActiveMembersWithRole(ctx, projectID, role, now)
				if err != nil {
					return nil, err
				}
				if len(members) > 0 {
					assignees[role] = members[0].UserID
				} else {
					assignees[role] = ""
				}
			}
		}
	}
	return assignees, nil
}

// rowCandidate is one (letter, role) expansion of a RACI row before
// dedup runs against the store.
type rowCandidate struct {
	letter   raci.Letter
	role     string
	title    string
	taskType string
	blocking bool
	priority string
}

// generateForRow emits the tasks for one RACI row. Creation precedes
// review precedes approval so the prerequisite chain can point
// backwards; when the row has no consulted role the approval hangs off
// the creation task directly.
func (e *Engine) generateForRow(ctx context.Context, tx *sql.Tx, projectID, stageName string, row raci.Task, assignees map[string]string, now string, result *GenerateResult) error {
	var candidates []rowCandidate
	for _, letter := range []raci.Letter{raci.Responsible, raci.Consulted, raci.Accountable} {
		roles := row.RolesWithLetter(letter)
		sort.Strings(roles)
		for _, role := range roles {
			c := rowCandidate{letter: letter, role: role}
			switch letter {
			case raci.Responsible:
				c.title = raci.CreationTitle(row.Name)
				c.taskType = domain.TaskTypeDevelopment
				c.priority = domain.PriorityMedium
			case raci.Consulted:
				c.title = raci.ReviewTitle(row.Name)
				c.taskType = domain.TaskTypeReview
				c.priority = domain.PriorityMedium
			case raci.Accountable:
				c.title = raci.ApprovalTitle(row.Name)
				c.taskType = domain.TaskTypeApproval
				c.blocking = true
				c.priority = domain.PriorityHigh
			}
			candidates = append(candidates, c)
		}
	}
	chain := map[raci.Letter]string{}
	for _, c := range candidates {
		exists, err := e.Repo.RaciTaskExistsTx(ctx, tx, projectID, stageName, row.Name, c.role)
		if err != nil {
			return err
		}
		if !exists {
			exists, err = e.Repo.TaskTitleExistsTx(ctx, tx, projectID, c.title)
			if err != nil {
				return err
			}
		}
		if exists {
			result.Skipped = append(result.Skipped, SkippedTask{
				Stage: stageName, Task: row.Name, Role: c.role, Title: c.title, Reason: "already exists",
			})
			if _, tracked := chain[c.letter]; !tracked {
				if existing, err := e.Repo.GetTaskByTitleTx(ctx, tx, projectID, c.title); err == nil {
					chain[c.letter] = existing.ID
				} else if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
			}
			continue
		}
		task := domain.Task{
			ID:           uuid.NewString(),
			ProjectID:    projectID,
			TaskType:     c.taskType,
			Title:        c.title,
			Description:  fmt.Sprintf("%s for %s in stage %s", c.title, row.Name, stageName),
			RaciStage:    &stageName,
			RaciTaskName: &row.Name,
			RequiredRole: &c.role,
			Status:       domain.TaskOpen,
			Priority:     c.priority,
			IsBlocking:   c.blocking,
			CreatedAt:    now,
		}
		if user := assignees[c.role]; user != "" {
			task.AssignedTo = &user
		}
		switch c.letter {
		case raci.Consulted:
			if prev, ok := chain[raci.Responsible]; ok {
				task.PrereqTaskID = &prev
			}
		case raci.Accountable:
			if prev, ok := chain[raci.Consulted]; ok {
				task.PrereqTaskID = &prev
			} else if prev, ok := chain[raci.Responsible]; ok {
				task.PrereqTaskID = &prev
			}
		}
		if err := e.Repo.InsertTaskTx(ctx, tx, task); err != nil {
			return err
		}
		if _, tracked := chain[c.letter]; !tracked {
			chain[c.letter] = task.ID
		}
		result.Created = append(result.Created, task)
	}
	return nil
}

// EscalateTask raises an escalation on a generated task toward the
// row's responsible and accountable roles. Callers may pass an explicit
// level; zero means one past the highest recorded so far. The task
// status does not change; only the escalated flag and the escalation
// record do.
func (e *Engine) EscalateTask(ctx context.Context, taskID string, level int, reason, actorID string) (domain.Escalation, error) {
	task, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Escalation{}, err
	}
	if task.RaciStage == nil || task.RaciTaskName == nil {
		return domain.Escalation{}, fmt.Errorf("task %s was not generated from a raci matrix", taskID)
	}
	if domain.TerminalTaskStatus(task.Status) {
		return domain.Escalation{}, fmt.Errorf("task is %s: %w", task.Status, ErrInvalidTransition)
	}
	matrix, err := e.Repo.GetRaciMatrix(ctx, task.ProjectID)
	if err != nil {
		return domain.Escalation{}, err
	}
	row, ok := matrix.FindTask(*task.RaciStage, *task.RaciTaskName)
	if !ok {
		return domain.Escalation{}, fmt.Errorf("raci row %q/%q no longer exists", *task.RaciStage, *task.RaciTaskName)
	}
	roles := row.RolesWithLetter(raci.Responsible, raci.Accountable)
	if len(roles) == 0 {
		return domain.Escalation{}, NoResponsibleRoleError{Stage: *task.RaciStage, Task: *task.RaciTaskName}
	}
	sort.Strings(roles)
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Escalation{}, err
	}
	defer tx.Rollback()
	if level <= 0 {
		count, err := e.Repo.CountEscalationsTx(ctx, tx, taskID)
		if err != nil {
			return domain.Escalation{}, err
		}
		level = count + 1
	}
	escalation := domain.Escalation{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Level:       level,
		Roles:       roles,
		TriggeredAt: now,
		TriggeredBy: actorID,
		Reason:      reason,
	}
	if err := e.Repo.InsertEscalationTx(ctx, tx, escalation); err != nil {
		return domain.Escalation{}, err
	}
	if !task.Escalated {
		task.Escalated = true
		if err := e.Repo.UpdateTaskTx(ctx, tx, task); err != nil {
			return domain.Escalation{}, err
		}
	}
	after := events.Snapshot{"level": escalation.Level, "roles": roles, "reason": reason}
	if err := e.Events.Append(ctx, tx, "task.escalated", task.ProjectID, "task", taskID, actorID, nil, after); err != nil {
		return domain.Escalation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Escalation{}, err
	}
	return escalation, nil
}

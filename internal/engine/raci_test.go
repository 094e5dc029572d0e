package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"docline/internal/domain"
	"docline/internal/raci"
)

func designMatrix() raci.Matrix {
	return raci.Matrix{
		Stages: []raci.Stage{
			{
				Name: "Design",
				Tasks: []raci.Task{
					{Name: "PDD", Roles: map[string]raci.Letter{
						"process_engineer": raci.Responsible,
						"quality_manager":  raci.Consulted,
						"business_owner":   raci.Accountable,
						"operator":         raci.Informed,
					}},
					{Name: "SDD", Roles: map[string]raci.Letter{
						"process_engineer": raci.Responsible,
						"business_owner":   raci.Accountable,
					}},
					{Name: "TG (TG 4)", Roles: map[string]raci.Letter{
						"process_engineer": raci.Responsible,
					}},
					{Name: "Glossary", Roles: map[string]raci.Letter{
						"quality_manager": raci.Consulted,
					}},
				},
			},
		},
		RoleAssignments: map[string]string{"business_owner": "bo-pinned"},
	}
}

func seedMatrix(t *testing.T, e *Engine, ctx context.Context) {
	t.Helper()
	addMember(t, e, ctx, "pe1", "process_engineer")
	addMember(t, e, ctx, "qm1", "quality_manager")
	if err := e.UpdateMatrix(ctx, "proj-1", designMatrix(), "owner"); err != nil {
		t.Fatalf("update matrix: %v", err)
	}
}

func taskByTitle(t *testing.T, tasks []domain.Task, title string) domain.Task {
	t.Helper()
	for _, task := range tasks {
		if task.Title == title {
			return task
		}
	}
	t.Fatalf("no task titled %q in %d generated tasks", title, len(tasks))
	return domain.Task{}
}

func TestGenerateTasksFromMatrix(t *testing.T) {
	e, ctx := newTestEnv(t)
	seedMatrix(t, e, ctx)

	res, err := e.GenerateTasks(ctx, "proj-1", "owner")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.Created) != 7 {
		t.Fatalf("expected 7 tasks, got %d: %+v", len(res.Created), res.Created)
	}

	creation := taskByTitle(t, res.Created, "PDD Creation")
	review := taskByTitle(t, res.Created, "PDD Review")
	approval := taskByTitle(t, res.Created, "PDD Approval")

	if creation.TaskType != domain.TaskTypeDevelopment || review.TaskType != domain.TaskTypeReview || approval.TaskType != domain.TaskTypeApproval {
		t.Fatalf("unexpected task types: %s %s %s", creation.TaskType, review.TaskType, approval.TaskType)
	}
	if !approval.IsBlocking || creation.IsBlocking || review.IsBlocking {
		t.Fatal("only approval tasks are blocking")
	}
	if creation.PrereqTaskID != nil {
		t.Fatal("creation task has no prerequisite")
	}
	if review.PrereqTaskID == nil || *review.PrereqTaskID != creation.ID {
		t.Fatal("review must depend on creation")
	}
	if approval.PrereqTaskID == nil || *approval.PrereqTaskID != review.ID {
		t.Fatal("approval must depend on review")
	}

	// Informed assignments never produce tasks.
	for _, task := range res.Created {
		if task.RequiredRole != nil && *task.RequiredRole == "operator" {
			t.Fatalf("informed role produced task %q", task.Title)
		}
	}

	// Pinned assignment beats membership lookup.
	if approval.AssignedTo == nil || *approval.AssignedTo != "bo-pinned" {
		t.Fatalf("approval should go to pinned assignee, got %v", approval.AssignedTo)
	}
	if creation.AssignedTo == nil || *creation.AssignedTo != "pe1" {
		t.Fatalf("creation should go to first active process engineer, got %v", creation.AssignedTo)
	}

	// Tollgate rows get trial titles.
	trial := taskByTitle(t, res.Created, "TG 4 Trial")
	if trial.TaskType != domain.TaskTypeDevelopment {
		t.Fatalf("tollgate trial should be a development task, got %s", trial.TaskType)
	}

	// Rows without a consulted role chain approval straight to creation.
	sddCreation := taskByTitle(t, res.Created, "SDD Creation")
	sddApproval := taskByTitle(t, res.Created, "SDD Approval")
	if sddApproval.PrereqTaskID == nil || *sddApproval.PrereqTaskID != sddCreation.ID {
		t.Fatal("approval without review must depend on creation directly")
	}
}

func TestGenerateTasksIsIdempotent(t *testing.T) {
	e, ctx := newTestEnv(t)
	seedMatrix(t, e, ctx)

	first, err := e.GenerateTasks(ctx, "proj-1", "owner")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := e.GenerateTasks(ctx, "proj-1", "owner")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second.Created) != 0 {
		t.Fatalf("second run should create nothing, got %d", len(second.Created))
	}
	if len(second.Skipped) != len(first.Created) {
		t.Fatalf("second run should skip all %d candidates, skipped %d", len(first.Created), len(second.Skipped))
	}
	for _, s := range second.Skipped {
		if s.Reason != "already exists" {
			t.Fatalf("unexpected skip reason %q", s.Reason)
		}
	}
}

func TestUpdateMatrixTaskStatus(t *testing.T) {
	e, ctx := newTestEnv(t)
	seedMatrix(t, e, ctx)

	m, err := e.UpdateMatrixTaskStatus(ctx, "proj-1", "Design", "PDD", domain.TaskInProgress, "owner")
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	row, ok := m.FindTask("Design", "PDD")
	if !ok || row.Status != domain.TaskInProgress {
		t.Fatalf("expected PDD row IN_PROGRESS, got %+v", row)
	}

	stored, err := e.Repo.GetRaciMatrix(ctx, "proj-1")
	if err != nil {
		t.Fatalf("reload matrix: %v", err)
	}
	if row, _ := stored.FindTask("Design", "PDD"); row.Status != domain.TaskInProgress {
		t.Fatalf("stored matrix not updated, got %q", row.Status)
	}
	if row, _ := stored.FindTask("Design", "SDD"); row.Status != "" {
		t.Fatalf("other rows must stay untouched, got %q", row.Status)
	}

	if _, err := e.UpdateMatrixTaskStatus(ctx, "proj-1", "Design", "Nope", domain.TaskOpen, "owner"); err == nil {
		t.Fatal("unknown row must fail")
	}
	if _, err := e.UpdateMatrixTaskStatus(ctx, "proj-1", "Design", "PDD", "DONE", "owner"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for bad status, got %v", err)
	}
}

func TestCompletionAdvancesSuccessors(t *testing.T) {
	e, ctx := newTestEnv(t)
	seedMatrix(t, e, ctx)
	res, err := e.GenerateTasks(ctx, "proj-1", "owner")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	creation := taskByTitle(t, res.Created, "PDD Creation")
	review := taskByTitle(t, res.Created, "PDD Review")

	done, err := e.CompleteTask(ctx, creation.ID, "pe1")
	if err != nil {
		t.Fatalf("complete creation: %v", err)
	}
	if len(done.Advanced) != 1 || done.Advanced[0].ID != review.ID {
		t.Fatalf("expected review advanced, got %+v", done.Advanced)
	}
	fresh, err := e.Repo.GetTask(ctx, review.ID)
	if err != nil {
		t.Fatalf("get review: %v", err)
	}
	if fresh.Status != domain.TaskInProgress {
		t.Fatalf("review should be IN_PROGRESS, got %s", fresh.Status)
	}
}

func TestEscalateTask(t *testing.T) {
	e, ctx := newTestEnv(t)
	seedMatrix(t, e, ctx)
	res, err := e.GenerateTasks(ctx, "proj-1", "owner")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	approval := taskByTitle(t, res.Created, "PDD Approval")

	esc, err := e.EscalateTask(ctx, approval.ID, 0, "no response for a week", "owner")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if esc.Level != 1 {
		t.Fatalf("expected level 1, got %d", esc.Level)
	}
	want := []string{"business_owner", "process_engineer"}
	if !reflect.DeepEqual(esc.Roles, want) {
		t.Fatalf("expected roles %v, got %v", want, esc.Roles)
	}

	again, err := e.EscalateTask(ctx, approval.ID, 0, "still nothing", "owner")
	if err != nil {
		t.Fatalf("second escalation: %v", err)
	}
	if again.Level != 2 {
		t.Fatalf("expected level 2, got %d", again.Level)
	}

	// Callers may jump straight to a named level.
	jumped, err := e.EscalateTask(ctx, approval.ID, 5, "site lead pulled in", "owner")
	if err != nil {
		t.Fatalf("explicit level: %v", err)
	}
	if jumped.Level != 5 {
		t.Fatalf("expected level 5, got %d", jumped.Level)
	}

	task, err := e.Repo.GetTask(ctx, approval.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if !task.Escalated {
		t.Fatal("task should carry the escalated flag")
	}
	if task.Status != domain.TaskOpen {
		t.Fatalf("escalation must not change task status, got %s", task.Status)
	}
}

func TestEscalateWithoutResponsibleRole(t *testing.T) {
	e, ctx := newTestEnv(t)
	seedMatrix(t, e, ctx)
	res, err := e.GenerateTasks(ctx, "proj-1", "owner")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	glossary := taskByTitle(t, res.Created, "Glossary Review")

	_, err = e.EscalateTask(ctx, glossary.ID, 0, "stuck", "owner")
	var noRole NoResponsibleRoleError
	if !errors.As(err, &noRole) {
		t.Fatalf("expected NoResponsibleRoleError, got %v", err)
	}
	if noRole.Stage != "Design" || noRole.Task != "Glossary" {
		t.Fatalf("unexpected error detail: %+v", noRole)
	}
}

func TestEscalateAdHocTaskRejected(t *testing.T) {
	e, ctx := newTestEnv(t)
	task, err := e.CreateTask(ctx, CreateTaskOptions{ProjectID: "proj-1", Title: "One-off", ActorID: "owner"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := e.EscalateTask(ctx, task.ID, 0, "stuck", "owner"); err == nil {
		t.Fatal("ad hoc tasks cannot escalate through the matrix")
	}
}

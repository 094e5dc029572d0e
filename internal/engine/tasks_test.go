package engine

import (
	"errors"
	"strings"
	"testing"

	"docline/internal/domain"
)

func TestTaskLifecycle(t *testing.T) {
	e, ctx := newTestEnv(t)
	task, err := e.CreateTask(ctx, CreateTaskOptions{
		ProjectID: "proj-1", Title: "Draft training deck", ActorID: "owner",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != domain.TaskOpen || task.TaskType != domain.TaskTypeDevelopment {
		t.Fatalf("unexpected defaults: %+v", task)
	}

	started, err := e.StartTask(ctx, task.ID, "worker")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.TaskInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", started.Status)
	}
	if started.AssignedTo == nil || *started.AssignedTo != "worker" {
		t.Fatal("starting an unassigned task should claim it")
	}
	if _, err := e.StartTask(ctx, task.ID, "worker"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double start should fail, got %v", err)
	}

	completed, err := e.CompleteTask(ctx, task.ID, "worker")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Task.Status != domain.TaskCompleted || completed.Task.CompletedAt == nil {
		t.Fatalf("unexpected completed task: %+v", completed.Task)
	}

	if _, err := e.VerifyTask(ctx, task.ID, "worker"); err == nil || !strings.Contains(err.Error(), "cannot verify their own task") {
		t.Fatalf("assignee self-verify should fail, got %v", err)
	}
	verified, err := e.VerifyTask(ctx, task.ID, "qa")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != domain.TaskVerified || verified.VerifiedBy == nil || *verified.VerifiedBy != "qa" {
		t.Fatalf("unexpected verified task: %+v", verified)
	}
	if _, err := e.VerifyTask(ctx, task.ID, "qa"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("verifying a verified task should fail, got %v", err)
	}
}

func TestReassignRequiresBusinessOwner(t *testing.T) {
	e, ctx := newTestEnv(t)
	addMember(t, e, ctx, "qm1", "quality_manager")
	task, err := e.CreateTask(ctx, CreateTaskOptions{
		ProjectID: "proj-1", Title: "Update risk register", ActorID: "owner",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if _, err := e.ReassignTask(ctx, task.ID, "qm1", "qm1"); err == nil || !strings.Contains(err.Error(), "business owner") {
		t.Fatalf("quality manager must not reassign, got %v", err)
	}
	if _, err := e.ReassignTask(ctx, task.ID, "qm1", "stranger"); err == nil || !strings.Contains(err.Error(), "not a member") {
		t.Fatalf("non-member must not reassign, got %v", err)
	}

	moved, err := e.ReassignTask(ctx, task.ID, "qm1", "owner")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if moved.AssignedTo == nil || *moved.AssignedTo != "qm1" {
		t.Fatalf("expected qm1 assigned, got %v", moved.AssignedTo)
	}
}

func TestOverdueClassification(t *testing.T) {
	e, ctx := newTestEnv(t)
	_, version := createDoc(t, e, ctx, "SOP", "Weighing SOP", "author")
	if _, err := e.SubmitVersion(ctx, version.ID, "author"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	overdue, err := e.Repo.OverdueTasks(ctx, "proj-1", "2025-03-09T12:00:00Z")
	if err != nil {
		t.Fatalf("overdue: %v", err)
	}
	if len(overdue) != 1 {
		t.Fatalf("expected the approval task overdue past its due date, got %d", len(overdue))
	}
	onTime, err := e.Repo.OverdueTasks(ctx, "proj-1", "2025-03-07T12:00:00Z")
	if err != nil {
		t.Fatalf("overdue early: %v", err)
	}
	if len(onTime) != 0 {
		t.Fatalf("nothing is overdue before the due date, got %d", len(onTime))
	}
}

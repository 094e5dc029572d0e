package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"docline/internal/config"
	"docline/internal/db"
	"docline/internal/domain"
	"docline/internal/engine/sod"
	"docline/internal/migrate"
	"docline/internal/repo"
)

func newTestEnv(t *testing.T) (*Engine, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := New(conn, config.Default("proj-1"))
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return fixed }
	e.Events.Now = e.Now
	ctx := context.Background()
	if _, err := e.InitProject(ctx, InitProjectOptions{ProjectID: "proj-1", Name: "Line 1", ActorID: "owner"}); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return e, ctx
}

func addMember(t *testing.T, e *Engine, ctx context.Context, userID, role string) {
	t.Helper()
	_, err := e.AddMember(ctx, AddMemberOptions{ProjectID: "proj-1", UserID: userID, RoleCode: role, ActorID: "owner"})
	if err != nil {
		t.Fatalf("add member %s/%s: %v", userID, role, err)
	}
}

func createDoc(t *testing.T, e *Engine, ctx context.Context, docType, title, author string) (domain.Document, domain.DocumentVersion) {
	t.Helper()
	doc, version, err := e.CreateDocument(ctx, CreateDocumentOptions{
		ProjectID: "proj-1", DocType: docType, Title: title, ActorID: author,
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc, version
}

func TestSubmitApproveFlow(t *testing.T) {
	e, ctx := newTestEnv(t)
	addMember(t, e, ctx, "qm1", "quality_manager")

	_, version := createDoc(t, e, ctx, "PDD", "Packaging Line PDD", "author")
	res, err := e.SubmitVersion(ctx, version.ID, "author")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Version.State != domain.StateInReview || res.Version.Cycle != 1 {
		t.Fatalf("expected IN_REVIEW cycle 1, got %s cycle %d", res.Version.State, res.Version.Cycle)
	}
	if len(res.Steps) != 2 || res.Steps[0].RoleRequired != "quality_manager" || res.Steps[1].RoleRequired != "business_owner" {
		t.Fatalf("unexpected steps: %+v", res.Steps)
	}
	if len(res.Tasks) != 2 {
		t.Fatalf("expected 2 approval tasks, got %d", len(res.Tasks))
	}
	if res.Tasks[0].Priority != domain.PriorityHigh || res.Tasks[1].Priority != domain.PriorityMedium {
		t.Fatalf("expected first step task HIGH, got %s/%s", res.Tasks[0].Priority, res.Tasks[1].Priority)
	}
	if res.Tasks[0].AssignedTo == nil || *res.Tasks[0].AssignedTo != "qm1" {
		t.Fatalf("step 1 task should be assigned to qm1, got %v", res.Tasks[0].AssignedTo)
	}
	if !res.Tasks[0].IsBlocking {
		t.Fatal("approval tasks must be blocking")
	}

	// Business owner cannot jump the queue.
	_, err = e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "owner"})
	if err == nil || !strings.Contains(err.Error(), "requires role quality_manager") {
		t.Fatalf("expected role-order error, got %v", err)
	}

	first, err := e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "qm1", Comment: "looks good"})
	if err != nil {
		t.Fatalf("approve step 1: %v", err)
	}
	if first.Completed {
		t.Fatal("chain should not be complete after step 1")
	}
	if first.Version.State != domain.StateInReview {
		t.Fatalf("expected IN_REVIEW after step 1, got %s", first.Version.State)
	}

	second, err := e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "owner"})
	if err != nil {
		t.Fatalf("approve step 2: %v", err)
	}
	if !second.Completed || second.Version.State != domain.StateApproved {
		t.Fatalf("expected APPROVED, got %s completed=%v", second.Version.State, second.Completed)
	}
	if second.Version.LockedAt == nil {
		t.Fatal("approved version must record locked_at")
	}

	tasks, err := e.Repo.ListTasks(ctx, taskFilter(version.ID))
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range tasks {
		if task.Status != domain.TaskClosed {
			t.Fatalf("task %s should be CLOSED after approval, got %s", task.Title, task.Status)
		}
	}
}

func TestRejectCascadesRemainingSteps(t *testing.T) {
	e, ctx := newTestEnv(t)
	addMember(t, e, ctx, "vl1", "validation_lead")
	addMember(t, e, ctx, "qm1", "quality_manager")

	_, version := createDoc(t, e, ctx, "VALIDATION_REPORT", "Line 1 Validation Report", "author")
	if _, err := e.SubmitVersion(ctx, version.ID, "author"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "vl1"}); err != nil {
		t.Fatalf("approve step 1: %v", err)
	}
	res, err := e.RejectStep(ctx, RejectOptions{VersionID: version.ID, ActorID: "qm1", Comment: "bad data"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Version.State != domain.StateDraft {
		t.Fatalf("expected DRAFT after rejection, got %s", res.Version.State)
	}
	if len(res.Cascaded) != 1 {
		t.Fatalf("expected 1 cascaded step, got %d", len(res.Cascaded))
	}

	steps, err := e.Repo.ListSteps(ctx, version.ID, 1)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	if steps[0].Status != domain.StepApproved {
		t.Fatalf("step 1 should stay APPROVED, got %s", steps[0].Status)
	}
	if steps[1].Status != domain.StepRejected || steps[1].Comment != "bad data" {
		t.Fatalf("step 2 should carry the rejection comment, got %s %q", steps[1].Status, steps[1].Comment)
	}
	if steps[2].Status != domain.StepRejected || steps[2].Comment != "rejected due to rejection at step 2" {
		t.Fatalf("step 3 should be cascade-rejected, got %s %q", steps[2].Status, steps[2].Comment)
	}

	tasks, err := e.Repo.ListTasks(ctx, taskFilter(version.ID))
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range tasks {
		if task.Status != domain.TaskClosed {
			t.Fatalf("task %s should be CLOSED after rejection, got %s", task.Title, task.Status)
		}
	}
}

func TestAuthorCannotApproveOwnVersion(t *testing.T) {
	e, ctx := newTestEnv(t)
	addMember(t, e, ctx, "qm1", "quality_manager")

	_, version := createDoc(t, e, ctx, "SOP", "Cleaning SOP", "qm1")
	if _, err := e.SubmitVersion(ctx, version.ID, "qm1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "qm1"})
	var denied sod.DeniedError
	if !errors.As(err, &denied) || denied.Rule != sod.RuleAuthorCannotApprove {
		t.Fatalf("expected authorCannotApprove, got %v", err)
	}
}

func TestTemporaryMemberCannotApprove(t *testing.T) {
	e, ctx := newTestEnv(t)
	future := "2999-01-01T00:00:00Z"
	if _, err := e.AddMember(ctx, AddMemberOptions{
		ProjectID: "proj-1", UserID: "temp-qm", RoleCode: "quality_manager",
		IsTemporary: true, ExpiresAt: &future, ActorID: "owner",
	}); err != nil {
		t.Fatalf("add member: %v", err)
	}

	_, version := createDoc(t, e, ctx, "SOP", "Sampling SOP", "author")
	if _, err := e.SubmitVersion(ctx, version.ID, "author"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "temp-qm"})
	var denied sod.DeniedError
	if !errors.As(err, &denied) || denied.Rule != sod.RuleTemporaryCannotApprove {
		t.Fatalf("expected temporaryCannotApprove, got %v", err)
	}
}

func TestExpiredMembershipCannotDecide(t *testing.T) {
	e, ctx := newTestEnv(t)
	past := "2024-01-01T00:00:00Z"
	if _, err := e.AddMember(ctx, AddMemberOptions{
		ProjectID: "proj-1", UserID: "ex-qm", RoleCode: "quality_manager",
		ExpiresAt: &past, ActorID: "owner",
	}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	addMember(t, e, ctx, "qm1", "quality_manager")

	_, version := createDoc(t, e, ctx, "SOP", "Weighing SOP", "author")
	if _, err := e.SubmitVersion(ctx, version.ID, "author"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err := e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "ex-qm"})
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expired-membership error on approve, got %v", err)
	}
	_, err = e.RejectStep(ctx, RejectOptions{VersionID: version.ID, ActorID: "ex-qm", Comment: "no"})
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expired-membership error on reject, got %v", err)
	}

	fresh, err := e.Repo.GetVersion(ctx, version.ID)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if fresh.State != domain.StateInReview {
		t.Fatalf("version must stay IN_REVIEW, got %s", fresh.State)
	}

	// An unexpired holder of the same role still acts normally.
	if _, err := e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "qm1"}); err != nil {
		t.Fatalf("active member approve: %v", err)
	}
}

func TestReviewerCannotApproveAfterCommenting(t *testing.T) {
	e, ctx := newTestEnv(t)
	addMember(t, e, ctx, "qm1", "quality_manager")

	_, version := createDoc(t, e, ctx, "SOP", "Labeling SOP", "author")
	if _, err := e.SubmitVersion(ctx, version.ID, "author"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.AddComment(ctx, version.ID, "qm1", "please fix section 3"); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	_, err := e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "qm1"})
	var denied sod.DeniedError
	if !errors.As(err, &denied) || denied.Rule != sod.RuleReviewerCannotApprove {
		t.Fatalf("expected reviewerCannotApprove, got %v", err)
	}

	// Rejecting after commenting is normal reviewer work.
	if _, err := e.RejectStep(ctx, RejectOptions{VersionID: version.ID, ActorID: "qm1", Comment: "section 3 wrong"}); err != nil {
		t.Fatalf("reject after commenting: %v", err)
	}
}

func TestStepResolvesExactlyOnce(t *testing.T) {
	e, ctx := newTestEnv(t)
	addMember(t, e, ctx, "qm1", "quality_manager")
	addMember(t, e, ctx, "qm2", "quality_manager")

	_, version := createDoc(t, e, ctx, "PDD", "Filling Line PDD", "author")
	res, err := e.SubmitVersion(ctx, version.ID, "author")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Settle every step the way a winning approver would, leaving the
	// version record untouched as it is mid-decision for anyone racing.
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	for _, s := range res.Steps {
		rows, err := e.Repo.ResolveStepCAS(ctx, tx, s.ID, domain.StepApproved, "qm1", "", "", now)
		if err != nil {
			t.Fatalf("resolve step %d: %v", s.StepNo, err)
		}
		if rows != 1 {
			t.Fatalf("step %d should resolve once, affected %d rows", s.StepNo, rows)
		}
	}
	// Replaying the conditional write on a settled step touches nothing.
	rows, err := e.Repo.ResolveStepCAS(ctx, tx, res.Steps[0].ID, domain.StepApproved, "qm2", "", "", now)
	if err != nil {
		t.Fatalf("replay resolve: %v", err)
	}
	if rows != 0 {
		t.Fatalf("settled step must not resolve again, affected %d rows", rows)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// The losing approver surfaces the conflict, not a silent success.
	_, err = e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "qm2"})
	if !errors.Is(err, ErrStepAlreadyResolved) {
		t.Fatalf("expected ErrStepAlreadyResolved, got %v", err)
	}
}

func TestResubmissionOpensNewCycle(t *testing.T) {
	e, ctx := newTestEnv(t)
	addMember(t, e, ctx, "qm1", "quality_manager")

	_, version := createDoc(t, e, ctx, "PDD", "Filler PDD", "author")
	if _, err := e.SubmitVersion(ctx, version.ID, "author"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.RejectStep(ctx, RejectOptions{VersionID: version.ID, ActorID: "qm1", Comment: "incomplete"}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	res, err := e.SubmitVersion(ctx, version.ID, "author")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if res.Version.Cycle != 2 {
		t.Fatalf("expected cycle 2, got %d", res.Version.Cycle)
	}
	fresh, err := e.Repo.ListSteps(ctx, version.ID, 2)
	if err != nil {
		t.Fatalf("list cycle 2 steps: %v", err)
	}
	for _, s := range fresh {
		if s.Status != domain.StepPending {
			t.Fatalf("cycle 2 step %d should be PENDING, got %s", s.StepNo, s.Status)
		}
	}
	old, err := e.Repo.ListSteps(ctx, version.ID, 1)
	if err != nil {
		t.Fatalf("list cycle 1 steps: %v", err)
	}
	for _, s := range old {
		if s.Status == domain.StepPending {
			t.Fatalf("cycle 1 step %d should stay resolved", s.StepNo)
		}
	}

	if _, err := e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "qm1"}); err != nil {
		t.Fatalf("approve step 1: %v", err)
	}
	final, err := e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "owner"})
	if err != nil {
		t.Fatalf("approve step 2: %v", err)
	}
	if final.Version.State != domain.StateApproved {
		t.Fatalf("expected APPROVED, got %s", final.Version.State)
	}
}

func TestDoubleSubmitRejected(t *testing.T) {
	e, ctx := newTestEnv(t)
	_, version := createDoc(t, e, ctx, "SOP", "Startup SOP", "author")
	if _, err := e.SubmitVersion(ctx, version.ID, "author"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.SubmitVersion(ctx, version.ID, "author"); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestCreateVersionRequiresApprovedCurrent(t *testing.T) {
	e, ctx := newTestEnv(t)
	addMember(t, e, ctx, "qm1", "quality_manager")

	doc, version := createDoc(t, e, ctx, "RELEASE_NOTES", "Release Notes 1", "author")
	if _, err := e.CreateVersion(ctx, doc.ID, "", "", "author"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition while draft open, got %v", err)
	}

	if _, err := e.SubmitVersion(ctx, version.ID, "author"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.ApproveStep(ctx, ApproveOptions{VersionID: version.ID, ActorID: "qm1"}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	next, err := e.CreateVersion(ctx, doc.ID, "", "", "author")
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}
	if next.Label != "v2.0" || next.State != domain.StateDraft || next.Cycle != 0 {
		t.Fatalf("unexpected v2: %+v", next)
	}
	fresh, err := e.Repo.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if fresh.CurrentVersionID == nil || *fresh.CurrentVersionID != next.ID {
		t.Fatal("document should point at the new draft")
	}
}

func TestContentLockedAfterSubmit(t *testing.T) {
	e, ctx := newTestEnv(t)
	_, version := createDoc(t, e, ctx, "SOP", "Shutdown SOP", "author")
	if err := e.UpdateVersionContent(ctx, version.ID, `{"body":"v1"}`, nil, "author"); err != nil {
		t.Fatalf("draft edit: %v", err)
	}
	if _, err := e.SubmitVersion(ctx, version.ID, "author"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	err := e.UpdateVersionContent(ctx, version.ID, `{"body":"v2"}`, nil, "author")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on locked content, got %v", err)
	}
}

func TestSubmitSchedulesReminders(t *testing.T) {
	e, ctx := newTestEnv(t)
	_, version := createDoc(t, e, ctx, "SOP", "Calibration SOP", "author")
	res, err := e.SubmitVersion(ctx, version.ID, "author")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	task := res.Tasks[0]
	if task.DueAt == nil || *task.DueAt != "2025-03-08T12:00:00Z" {
		t.Fatalf("expected due 7 days out, got %v", task.DueAt)
	}
	due, err := e.Repo.DueReminders(ctx, "2025-03-06T12:00:00Z")
	if err != nil {
		t.Fatalf("due reminders: %v", err)
	}
	if len(due) != 1 || due[0].TaskID != task.ID {
		t.Fatalf("expected one reminder for the approval task, got %+v", due)
	}
	early, err := e.Repo.DueReminders(ctx, "2025-03-05T12:00:00Z")
	if err != nil {
		t.Fatalf("due reminders early: %v", err)
	}
	if len(early) != 0 {
		t.Fatalf("nothing should be due two days before the reminder, got %+v", early)
	}
}

func TestUnknownDocTypeRejected(t *testing.T) {
	e, ctx := newTestEnv(t)
	_, _, err := e.CreateDocument(ctx, CreateDocumentOptions{
		ProjectID: "proj-1", DocType: "MEMO", Title: "Memo", ActorID: "author",
	})
	if err == nil || !strings.Contains(err.Error(), "no approval policy") {
		t.Fatalf("expected policy resolution failure, got %v", err)
	}
}

func taskFilter(versionID string) repo.TaskFilters {
	return repo.TaskFilters{DocumentVersionID: versionID}
}

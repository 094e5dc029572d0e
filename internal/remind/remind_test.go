package remind

import (
	"context"
	"testing"
	"time"

	"docline/internal/config"
	"docline/internal/db"
	"docline/internal/engine"
	"docline/internal/migrate"
)

func TestSweepFiresDueReminders(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	e := engine.New(conn, config.Default("proj-1"))
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return start }
	e.Events.Now = e.Now
	ctx := context.Background()
	if _, err := e.InitProject(ctx, engine.InitProjectOptions{ProjectID: "proj-1", Name: "Line 1", ActorID: "owner"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	_, version, err := e.CreateDocument(ctx, engine.CreateDocumentOptions{
		ProjectID: "proj-1", DocType: "SOP", Title: "Mixing SOP", ActorID: "author",
	})
	if err != nil {
		t.Fatalf("create doc: %v", err)
	}
	if _, err := e.SubmitVersion(ctx, version.ID, "author"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	s := NewScanner(conn)
	s.Now = func() time.Time { return start.Add(5 * 24 * time.Hour) }
	s.Events.Now = s.Now

	fired, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected 1 reminder fired, got %d", fired)
	}

	evts, err := s.Repo.LatestEvents(ctx, 5, "proj-1", "task.reminder.due", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one reminder fact, got %d", len(evts))
	}

	// A fired reminder does not fire twice.
	again, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected 0 on resweep, got %d", again)
	}
}

func TestSweepCancelsRemindersOnClosedTasks(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	e := engine.New(conn, config.Default("proj-1"))
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return start }
	e.Events.Now = e.Now
	ctx := context.Background()
	if _, err := e.InitProject(ctx, engine.InitProjectOptions{ProjectID: "proj-1", Name: "Line 1", ActorID: "owner"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := e.AddMember(ctx, engine.AddMemberOptions{ProjectID: "proj-1", UserID: "qm1", RoleCode: "quality_manager", ActorID: "owner"}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	_, version, err := e.CreateDocument(ctx, engine.CreateDocumentOptions{
		ProjectID: "proj-1", DocType: "SOP", Title: "Mixing SOP", ActorID: "author",
	})
	if err != nil {
		t.Fatalf("create doc: %v", err)
	}
	if _, err := e.SubmitVersion(ctx, version.ID, "author"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Approving the single step closes the approval task; reminders on it
	// are canceled with it, so the sweep finds nothing to fire.
	if _, err := e.ApproveStep(ctx, engine.ApproveOptions{VersionID: version.ID, ActorID: "qm1"}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	s := NewScanner(conn)
	s.Now = func() time.Time { return start.Add(10 * 24 * time.Hour) }

	fired, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if fired != 0 {
		t.Fatalf("expected nothing to fire, got %d", fired)
	}

	reminders, err := s.Repo.DueReminders(ctx, s.Now().UTC().Format(time.RFC3339))
	if err != nil {
		t.Fatalf("due reminders: %v", err)
	}
	if len(reminders) != 0 {
		t.Fatalf("expected no scheduled reminders left, got %+v", reminders)
	}
}

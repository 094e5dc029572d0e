// Package remind fires scheduled task reminders on a cron cadence.
package remind

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"docline/internal/domain"
	"docline/internal/events"
	"docline/internal/repo"
)

// DefaultSchedule is how often the scanner sweeps for due reminders.
const DefaultSchedule = "@every 1m"

// Scanner sweeps scheduled reminders and turns the due ones into audit
// facts. A reminder fires once; reminders on tasks that already reached
// a terminal status are canceled instead.
type Scanner struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time

	cron *cron.Cron
}

func NewScanner(db *sql.DB) *Scanner {
	return &Scanner{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

// Start begins periodic sweeps. An empty spec uses DefaultSchedule.
func (s *Scanner) Start(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			log.Printf("reminder sweep: %v", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Scanner) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep fires every due reminder and returns how many fired.
func (s *Scanner) Sweep(ctx context.Context) (int, error) {
	now := s.Now().UTC().Format(time.RFC3339)
	due, err := s.Repo.DueReminders(ctx, now)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, rem := range due {
		ok, err := s.fire(ctx, rem)
		if err != nil {
			return fired, err
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

func (s *Scanner) fire(ctx context.Context, rem domain.Reminder) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	task, err := s.Repo.GetTaskTx(ctx, tx, rem.TaskID)
	if err != nil {
		return false, err
	}
	if domain.TerminalTaskStatus(task.Status) {
		if err := s.Repo.MarkReminderTx(ctx, tx, rem.ID, domain.ReminderCanceled); err != nil {
			return false, err
		}
		return false, tx.Commit()
	}
	after := events.Snapshot{
		"title":       task.Title,
		"assigned_to": task.AssignedTo,
		"due_at":      task.DueAt,
		"remind_at":   rem.RemindAt,
	}
	if err := s.Events.Append(ctx, tx, "task.reminder.due", task.ProjectID, "task", task.ID, "system", nil, after); err != nil {
		return false, err
	}
	if err := s.Repo.MarkReminderTx(ctx, tx, rem.ID, domain.ReminderFired); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"docline/internal/domain"
)

const taskColumns = `id,project_id,task_type,title,description,document_version_id,raci_stage,raci_task_name,required_role,assigned_to,reviewer_id,status,priority,is_blocking,prereq_task_id,due_at,escalated,created_at,completed_at,verified_at,verified_by`

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.TaskType, t.Title, nullable(t.Description), nullableStringPtr(t.DocumentVersionID),
		nullableStringPtr(t.RaciStage), nullableStringPtr(t.RaciTaskName), nullableStringPtr(t.RequiredRole),
		nullableStringPtr(t.AssignedTo), nullableStringPtr(t.ReviewerID), t.Status, t.Priority, boolInt(t.IsBlocking),
		nullableStringPtr(t.PrereqTaskID), nullableStringPtr(t.DueAt), boolInt(t.Escalated), t.CreatedAt,
		nullableStringPtr(t.CompletedAt), nullableStringPtr(t.VerifiedAt), nullableStringPtr(t.VerifiedBy))
	return err
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, assigned_to=?, reviewer_id=?, status=?, priority=?, is_blocking=?, prereq_task_id=?, due_at=?, escalated=?, completed_at=?, verified_at=?, verified_by=? WHERE id=?`,
		t.Title, nullable(t.Description), nullableStringPtr(t.AssignedTo), nullableStringPtr(t.ReviewerID), t.Status,
		t.Priority, boolInt(t.IsBlocking), nullableStringPtr(t.PrereqTaskID), nullableStringPtr(t.DueAt), boolInt(t.Escalated),
		nullableStringPtr(t.CompletedAt), nullableStringPtr(t.VerifiedAt), nullableStringPtr(t.VerifiedBy), t.ID)
	return err
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var desc, versionID, stage, taskName, role, assignedTo, reviewerID, prereq, dueAt, completedAt, verifiedAt, verifiedBy sql.NullString
	var isBlocking, escalated int
	err := scan(&t.ID, &t.ProjectID, &t.TaskType, &t.Title, &desc, &versionID, &stage, &taskName, &role, &assignedTo,
		&reviewerID, &t.Status, &t.Priority, &isBlocking, &prereq, &dueAt, &escalated, &t.CreatedAt, &completedAt, &verifiedAt, &verifiedBy)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.IsBlocking = isBlocking != 0
	t.Escalated = escalated != 0
	if desc.Valid {
		t.Description = desc.String
	}
	if versionID.Valid {
		t.DocumentVersionID = &versionID.String
	}
	if stage.Valid {
		t.RaciStage = &stage.String
	}
	if taskName.Valid {
		t.RaciTaskName = &taskName.String
	}
	if role.Valid {
		t.RequiredRole = &role.String
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	if reviewerID.Valid {
		t.ReviewerID = &reviewerID.String
	}
	if prereq.Valid {
		t.PrereqTaskID = &prereq.String
	}
	if dueAt.Valid {
		t.DueAt = &dueAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if verifiedAt.Valid {
		t.VerifiedAt = &verifiedAt.String
	}
	if verifiedBy.Valid {
		t.VerifiedBy = &verifiedBy.String
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	ProjectID         string
	Status            string
	TaskType          string
	AssignedTo        string
	DocumentVersionID string
	Limit             int
	CursorCreatedAt   string
	CursorID          string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.TaskType != "" {
		clauses = append(clauses, "task_type=?")
		args = append(args, f.TaskType)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.DocumentVersionID != "" {
		clauses = append(clauses, "document_version_id=?")
		args = append(args, f.DocumentVersionID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// OverdueTasks is a read-side classification: due date passed and the
// task is not in a terminal status. Nothing is stored.
func (r Repo) OverdueTasks(ctx context.Context, projectID, now string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE project_id=? AND due_at IS NOT NULL AND due_at < ? AND status NOT IN (?,?)
ORDER BY due_at, id`, projectID, now, domain.TaskVerified, domain.TaskClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// RaciTaskExistsTx checks the natural dedup key for generated tasks.
func (r Repo) RaciTaskExistsTx(ctx context.Context, tx *sql.Tx, projectID, stage, taskName, role string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE project_id=? AND raci_stage=? AND raci_task_name=? AND required_role=? LIMIT 1`,
		projectID, stage, taskName, role).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// TaskTitleExistsTx checks the title dedup rule for generated tasks.
func (r Repo) TaskTitleExistsTx(ctx context.Context, tx *sql.Tx, projectID, title string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE project_id=? AND title=? LIMIT 1`, projectID, title).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// GetTaskByTitleTx resolves a generated task by its deterministic title.
func (r Repo) GetTaskByTitleTx(ctx context.Context, tx *sql.Tx, projectID, title string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=? AND title=? LIMIT 1`, projectID, title)
	return scanTask(row.Scan)
}

// OpenSuccessorsTx returns OPEN tasks whose prerequisite is the given task.
func (r Repo) OpenSuccessorsTx(ctx context.Context, tx *sql.Tx, prereqTaskID string) ([]domain.Task, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE prereq_task_id=? AND status=?`, prereqTaskID, domain.TaskOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// CloseOpenVersionTasksTx closes still-active tasks tied to a version and
// returns the IDs it touched.
func (r Repo) CloseOpenVersionTasksTx(ctx context.Context, tx *sql.Tx, versionID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE document_version_id=? AND status IN (?,?,?)`,
		versionID, domain.TaskOpen, domain.TaskInProgress, domain.TaskBlocked)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status=? WHERE id=?`, domain.TaskClosed, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (r Repo) InsertEscalationTx(ctx context.Context, tx *sql.Tx, e domain.Escalation) error {
	rolesJSON, err := json.Marshal(e.Roles)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO escalations(id,task_id,level,roles_json,triggered_at,triggered_by,reason) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.TaskID, e.Level, string(rolesJSON), e.TriggeredAt, e.TriggeredBy, nullable(e.Reason))
	return err
}

func (r Repo) ListEscalations(ctx context.Context, taskID string) ([]domain.Escalation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,level,roles_json,triggered_at,triggered_by,reason FROM escalations WHERE task_id=? ORDER BY triggered_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Escalation
	for rows.Next() {
		var e domain.Escalation
		var rolesJSON string
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Level, &rolesJSON, &e.TriggeredAt, &e.TriggeredBy, &reason); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rolesJSON), &e.Roles); err != nil {
			return nil, err
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountEscalationsTx returns how many escalations a task has accumulated.
func (r Repo) CountEscalationsTx(ctx context.Context, tx *sql.Tx, taskID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM escalations WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}

func (r Repo) InsertReminderTx(ctx context.Context, tx *sql.Tx, rem domain.Reminder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reminders(id,task_id,remind_at,status) VALUES (?,?,?,?)`,
		rem.ID, rem.TaskID, rem.RemindAt, rem.Status)
	return err
}

// DueReminders returns scheduled reminders whose time has passed.
func (r Repo) DueReminders(ctx context.Context, now string) ([]domain.Reminder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,remind_at,status FROM reminders WHERE status='SCHEDULED' AND remind_at <= ? ORDER BY remind_at, id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reminder
	for rows.Next() {
		var rem domain.Reminder
		if err := rows.Scan(&rem.ID, &rem.TaskID, &rem.RemindAt, &rem.Status); err != nil {
			return nil, err
		}
		res = append(res, rem)
	}
	return res, rows.Err()
}

func (r Repo) MarkReminderTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reminders SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CancelTaskRemindersTx(ctx context.Context, tx *sql.Tx, taskID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE reminders SET status='CANCELED' WHERE task_id=? AND status='SCHEDULED'`, taskID)
	return err
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"docline/internal/config"
	"docline/internal/domain"
	"docline/internal/raci"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO organizations(id,name,created_at) VALUES (?,?,?)`, id, name, now)
	return err
}

func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, id, now string) error {
	if id == "" {
		return errors.New("user id required")
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(id,created_at) VALUES (?,?)`, id, now)
	return err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,org_id,name,status,description,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.Name, p.Status, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,name,status,description,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.OrgID, &p.Name, &p.Status, &desc, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	items, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(items) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(items) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return items[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,name,status,COALESCE(description,'') AS description,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, id, status string, description *string) error {
	var (
		fields []string
		args   []any
	)
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, r.DB, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, nil, tx, projectID, cfg)
}

func upsertProjectConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

// GetRaciMatrix returns the parsed matrix; ErrNotFound when none stored.
func (r Repo) GetRaciMatrix(ctx context.Context, projectID string) (raci.Matrix, error) {
	var payload sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT raci_matrix_json FROM projects WHERE id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return raci.Matrix{}, ErrNotFound
	}
	if err != nil {
		return raci.Matrix{}, err
	}
	if !payload.Valid || payload.String == "" {
		return raci.Matrix{}, ErrNotFound
	}
	return raci.Parse([]byte(payload.String))
}

func (r Repo) UpdateRaciMatrixTx(ctx context.Context, tx *sql.Tx, projectID string, m raci.Matrix) error {
	encoded, err := m.Encode()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE projects SET raci_matrix_json=? WHERE id=?`, encoded, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertMemberTx(ctx context.Context, tx *sql.Tx, m domain.ProjectMember) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_members(id,project_id,user_id,role_code,is_temporary,expires_at,invited_by,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.UserID, m.RoleCode, boolInt(m.IsTemporary), nullableStringPtr(m.ExpiresAt), nullable(m.InvitedBy), m.CreatedAt)
	return err
}

func scanMember(scan func(dest ...any) error) (domain.ProjectMember, error) {
	var m domain.ProjectMember
	var isTemp int
	var expiresAt, invitedBy sql.NullString
	err := scan(&m.ID, &m.ProjectID, &m.UserID, &m.RoleCode, &isTemp, &expiresAt, &invitedBy, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.IsTemporary = isTemp != 0
	if expiresAt.Valid {
		m.ExpiresAt = &expiresAt.String
	}
	if invitedBy.Valid {
		m.InvitedBy = invitedBy.String
	}
	return m, nil
}

const memberColumns = `id,project_id,user_id,role_code,is_temporary,expires_at,invited_by,created_at`

func (r Repo) GetMember(ctx context.Context, projectID, userID string) (domain.ProjectMember, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	return scanMember(row.Scan)
}

func (r Repo) GetMemberTx(ctx context.Context, tx *sql.Tx, projectID, userID string) (domain.ProjectMember, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	return scanMember(row.Scan)
}

func (r Repo) ListMembers(ctx context.Context, projectID string) ([]domain.ProjectMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+memberColumns+` FROM project_members WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectMember
	for rows.Next() {
		m, err := scanMember(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ActiveMembersWithRole returns members holding the role whose membership
// has not expired, ordered by join time.
func (r Repo) ActiveMembersWithRole(ctx context.Context, projectID, role, now string) ([]domain.ProjectMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+memberColumns+` FROM project_members
WHERE project_id=? AND role_code=? AND (expires_at IS NULL OR expires_at > ?)
ORDER BY created_at, id`, projectID, role, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectMember
	for rows.Next() {
		m, err := scanMember(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) DeleteMember(ctx context.Context, projectID, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteMemberTx(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestEvents returns events newest first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, action, entityType, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, action)
	}
	if entityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, entityType)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,action,project_id,entity_type,entity_id,actor_id,before_json,after_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projID, entID, before, after sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Action, &projID, &e.EntityType, &entID, &e.ActorID, &before, &after); err != nil {
			return nil, err
		}
		if projID.Valid {
			e.ProjectID = projID.String
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if before.Valid {
			e.BeforeJSON = before.String
		}
		if after.Valid {
			e.AfterJSON = after.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package repo

import (
	"context"
	"database/sql"

	"docline/internal/domain"
)

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(id,project_id,doc_type,title,current_version_id,created_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.DocType, d.Title, nullableStringPtr(d.CurrentVersionID), d.CreatedBy, d.CreatedAt)
	return err
}

func scanDocument(scan func(dest ...any) error) (domain.Document, error) {
	var d domain.Document
	var current sql.NullString
	err := scan(&d.ID, &d.ProjectID, &d.DocType, &d.Title, &current, &d.CreatedBy, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if current.Valid {
		d.CurrentVersionID = &current.String
	}
	return d, nil
}

const documentColumns = `id,project_id,doc_type,title,current_version_id,created_by,created_at`

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

func (r Repo) ListDocuments(ctx context.Context, projectID string) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE project_id=? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) SetCurrentVersionTx(ctx context.Context, tx *sql.Tx, documentID, versionID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE documents SET current_version_id=? WHERE id=?`, versionID, documentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertVersionTx(ctx context.Context, tx *sql.Tx, v domain.DocumentVersion) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO document_versions(id,document_id,label,state,cycle,template_ref,content_json,file_ref,created_by,created_at,submitted_at,locked_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.DocumentID, v.Label, v.State, v.Cycle, nullable(v.TemplateRef), nullable(v.ContentJSON), nullableStringPtr(v.FileRef),
		v.CreatedBy, v.CreatedAt, nullableStringPtr(v.SubmittedAt), nullableStringPtr(v.LockedAt))
	return err
}

func scanVersion(scan func(dest ...any) error) (domain.DocumentVersion, error) {
	var v domain.DocumentVersion
	var templateRef, contentJSON, fileRef, submittedAt, lockedAt sql.NullString
	err := scan(&v.ID, &v.DocumentID, &v.Label, &v.State, &v.Cycle, &templateRef, &contentJSON, &fileRef, &v.CreatedBy, &v.CreatedAt, &submittedAt, &lockedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if templateRef.Valid {
		v.TemplateRef = templateRef.String
	}
	if contentJSON.Valid {
		v.ContentJSON = contentJSON.String
	}
	if fileRef.Valid {
		v.FileRef = &fileRef.String
	}
	if submittedAt.Valid {
		v.SubmittedAt = &submittedAt.String
	}
	if lockedAt.Valid {
		v.LockedAt = &lockedAt.String
	}
	return v, nil
}

const versionColumns = `id,document_id,label,state,cycle,template_ref,content_json,file_ref,created_by,created_at,submitted_at,locked_at`

func (r Repo) GetVersion(ctx context.Context, id string) (domain.DocumentVersion, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE id=?`, id)
	return scanVersion(row.Scan)
}

func (r Repo) GetVersionTx(ctx context.Context, tx *sql.Tx, id string) (domain.DocumentVersion, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE id=?`, id)
	return scanVersion(row.Scan)
}

func (r Repo) ListVersions(ctx context.Context, documentID string) ([]domain.DocumentVersion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE document_id=? ORDER BY created_at, id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DocumentVersion
	for rows.Next() {
		v, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) CountVersionsTx(ctx context.Context, tx *sql.Tx, documentID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_versions WHERE document_id=?`, documentID).Scan(&n)
	return n, err
}

// SubmitVersionCAS flips DRAFT to IN_REVIEW and bumps the review cycle.
// Returns the rows affected; zero means the version was not in DRAFT.
func (r Repo) SubmitVersionCAS(ctx context.Context, tx *sql.Tx, id, submittedAt string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE document_versions SET state=?, cycle=cycle+1, submitted_at=? WHERE id=? AND state=?`,
		domain.StateInReview, submittedAt, id, domain.StateDraft)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ApproveVersionCAS flips IN_REVIEW to APPROVED and locks the content.
func (r Repo) ApproveVersionCAS(ctx context.Context, tx *sql.Tx, id, lockedAt string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE document_versions SET state=?, locked_at=? WHERE id=? AND state=?`,
		domain.StateApproved, lockedAt, id, domain.StateInReview)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReturnVersionToDraftCAS flips IN_REVIEW back to DRAFT after a rejection.
func (r Repo) ReturnVersionToDraftCAS(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE document_versions SET state=? WHERE id=? AND state=?`,
		domain.StateDraft, id, domain.StateInReview)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) UpdateVersionContentTx(ctx context.Context, tx *sql.Tx, id, contentJSON string, fileRef *string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE document_versions SET content_json=?, file_ref=? WHERE id=? AND state=?`,
		nullable(contentJSON), nullableStringPtr(fileRef), id, domain.StateDraft)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) InsertStepTx(ctx context.Context, tx *sql.Tx, s domain.ApprovalStep) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO approval_steps(id,document_version_id,cycle,step_no,role_required,is_optional,approver_user_id,status,comment,evidence_hash,signed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.DocumentVersionID, s.Cycle, s.StepNo, s.RoleRequired, boolInt(s.IsOptional), nullableStringPtr(s.ApproverUserID),
		s.Status, nullable(s.Comment), nullable(s.EvidenceHash), nullableStringPtr(s.SignedAt))
	return err
}

func scanStep(scan func(dest ...any) error) (domain.ApprovalStep, error) {
	var s domain.ApprovalStep
	var isOptional int
	var approver, comment, evidence, signedAt sql.NullString
	err := scan(&s.ID, &s.DocumentVersionID, &s.Cycle, &s.StepNo, &s.RoleRequired, &isOptional, &approver, &s.Status, &comment, &evidence, &signedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.IsOptional = isOptional != 0
	if approver.Valid {
		s.ApproverUserID = &approver.String
	}
	if comment.Valid {
		s.Comment = comment.String
	}
	if evidence.Valid {
		s.EvidenceHash = evidence.String
	}
	if signedAt.Valid {
		s.SignedAt = &signedAt.String
	}
	return s, nil
}

const stepColumns = `id,document_version_id,cycle,step_no,role_required,is_optional,approver_user_id,status,comment,evidence_hash,signed_at`

// ListSteps returns the steps of one review cycle ordered by step number.
func (r Repo) ListSteps(ctx context.Context, versionID string, cycle int) ([]domain.ApprovalStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepColumns+` FROM approval_steps WHERE document_version_id=? AND cycle=? ORDER BY step_no`, versionID, cycle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}

func (r Repo) ListStepsTx(ctx context.Context, tx *sql.Tx, versionID string, cycle int) ([]domain.ApprovalStep, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+stepColumns+` FROM approval_steps WHERE document_version_id=? AND cycle=? ORDER BY step_no`, versionID, cycle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}

func collectSteps(rows *sql.Rows) ([]domain.ApprovalStep, error) {
	var res []domain.ApprovalStep
	for rows.Next() {
		s, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) CountStepsTx(ctx context.Context, tx *sql.Tx, versionID string, cycle int) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM approval_steps WHERE document_version_id=? AND cycle=?`, versionID, cycle).Scan(&n)
	return n, err
}

// ResolveStepCAS settles a PENDING step. Zero rows affected means another
// writer resolved it first.
func (r Repo) ResolveStepCAS(ctx context.Context, tx *sql.Tx, stepID, status, approverUserID, comment, evidenceHash, signedAt string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE approval_steps SET status=?, approver_user_id=?, comment=?, evidence_hash=?, signed_at=? WHERE id=? AND status=?`,
		status, nullable(approverUserID), nullable(comment), nullable(evidenceHash), nullable(signedAt), stepID, domain.StepPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, c domain.ReviewComment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO review_comments(id,document_version_id,user_id,comment,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.DocumentVersionID, c.UserID, c.Comment, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, versionID string) ([]domain.ReviewComment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,document_version_id,user_id,comment,created_at FROM review_comments WHERE document_version_id=? ORDER BY created_at, id`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReviewComment
	for rows.Next() {
		var c domain.ReviewComment
		if err := rows.Scan(&c.ID, &c.DocumentVersionID, &c.UserID, &c.Comment, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// HasCommentByTx reports whether the user left a review comment on the version.
func (r Repo) HasCommentByTx(ctx context.Context, tx *sql.Tx, versionID, userID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM review_comments WHERE document_version_id=? AND user_id=? LIMIT 1`, versionID, userID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

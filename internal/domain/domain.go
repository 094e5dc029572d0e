package domain

type Org struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ProjectMember struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	UserID      string  `json:"user_id"`
	RoleCode    string  `json:"role_code"`
	IsTemporary bool    `json:"is_temporary"`
	ExpiresAt   *string `json:"expires_at,omitempty" format:"date-time"`
	InvitedBy   string  `json:"invited_by,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Document struct {
	ID               string  `json:"id"`
	ProjectID        string  `json:"project_id"`
	DocType          string  `json:"doc_type"`
	Title            string  `json:"title"`
	CurrentVersionID *string `json:"current_version_id,omitempty"`
	CreatedBy        string  `json:"created_by"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type DocumentVersion struct {
	ID          string  `json:"id"`
	DocumentID  string  `json:"document_id"`
	Label       string  `json:"label"`
	State       string  `json:"state" enum:"DRAFT,IN_REVIEW,APPROVED"`
	Cycle       int     `json:"cycle"`
	TemplateRef string  `json:"template_ref,omitempty"`
	ContentJSON string  `json:"content_json,omitempty"`
	FileRef     *string `json:"file_ref,omitempty"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	SubmittedAt *string `json:"submitted_at,omitempty" format:"date-time"`
	LockedAt    *string `json:"locked_at,omitempty" format:"date-time"`
}

type ApprovalStep struct {
	ID                string  `json:"id"`
	DocumentVersionID string  `json:"document_version_id"`
	Cycle             int     `json:"cycle"`
	StepNo            int     `json:"step_no"`
	RoleRequired      string  `json:"role_required"`
	IsOptional        bool    `json:"is_optional"`
	ApproverUserID    *string `json:"approver_user_id,omitempty"`
	Status            string  `json:"status" enum:"PENDING,APPROVED,REJECTED"`
	Comment           string  `json:"comment,omitempty"`
	EvidenceHash      string  `json:"evidence_hash,omitempty"`
	SignedAt          *string `json:"signed_at,omitempty" format:"date-time"`
}

type ReviewComment struct {
	ID                string `json:"id"`
	DocumentVersionID string `json:"document_version_id"`
	UserID            string `json:"user_id"`
	Comment           string `json:"comment"`
	CreatedAt         string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID                string  `json:"id"`
	ProjectID         string  `json:"project_id"`
	TaskType          string  `json:"task_type" enum:"DEVELOPMENT,REVIEW,APPROVAL"`
	Title             string  `json:"title"`
	Description       string  `json:"description,omitempty"`
	DocumentVersionID *string `json:"document_version_id,omitempty"`
	RaciStage         *string `json:"raci_stage,omitempty"`
	RaciTaskName      *string `json:"raci_task_name,omitempty"`
	RequiredRole      *string `json:"required_role,omitempty"`
	AssignedTo        *string `json:"assigned_to,omitempty"`
	ReviewerID        *string `json:"reviewer_id,omitempty"`
	Status            string  `json:"status" enum:"OPEN,IN_PROGRESS,COMPLETED,VERIFIED,CLOSED,BLOCKED"`
	Priority          string  `json:"priority"`
	IsBlocking        bool    `json:"is_blocking"`
	PrereqTaskID      *string `json:"prereq_task_id,omitempty"`
	DueAt             *string `json:"due_at,omitempty" format:"date-time"`
	Escalated         bool    `json:"escalated"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	CompletedAt       *string `json:"completed_at,omitempty" format:"date-time"`
	VerifiedAt        *string `json:"verified_at,omitempty" format:"date-time"`
	VerifiedBy        *string `json:"verified_by,omitempty"`
}

type Escalation struct {
	ID          string   `json:"id"`
	TaskID      string   `json:"task_id"`
	Level       int      `json:"level"`
	Roles       []string `json:"roles"`
	TriggeredAt string   `json:"triggered_at" format:"date-time"`
	TriggeredBy string   `json:"triggered_by"`
	Reason      string   `json:"reason,omitempty"`
}

type Reminder struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	RemindAt string `json:"remind_at" format:"date-time"`
	Status   string `json:"status" enum:"SCHEDULED,FIRED,CANCELED"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Action     string `json:"action"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	BeforeJSON string `json:"before_json,omitempty"`
	AfterJSON  string `json:"after_json,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Version states.
const (
	StateDraft    = "DRAFT"
	StateInReview = "IN_REVIEW"
	StateApproved = "APPROVED"
)

// Approval step statuses.
const (
	StepPending  = "PENDING"
	StepApproved = "APPROVED"
	StepRejected = "REJECTED"
)

// Task statuses.
const (
	TaskOpen       = "OPEN"
	TaskInProgress = "IN_PROGRESS"
	TaskCompleted  = "COMPLETED"
	TaskVerified   = "VERIFIED"
	TaskClosed     = "CLOSED"
	TaskBlocked    = "BLOCKED"
)

// Task types.
const (
	TaskTypeDevelopment = "DEVELOPMENT"
	TaskTypeReview      = "REVIEW"
	TaskTypeApproval    = "APPROVAL"
)

// Reminder statuses.
const (
	ReminderScheduled = "SCHEDULED"
	ReminderFired     = "FIRED"
	ReminderCanceled  = "CANCELED"
)

// Task priorities.
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
)

// TerminalTaskStatus reports whether a task can no longer change.
func TerminalTaskStatus(status string) bool {
	return status == TaskVerified || status == TaskClosed
}

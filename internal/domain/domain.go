package domain

// Task statuses. A task starts in backlog and ends in done; blocked is a
// parking state, not terminal.
const (
	TaskBacklog    = "backlog"
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskApproved   = "approved"
	TaskDone       = "done"
	TaskBlocked    = "blocked"
)

// Approval review statuses.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Execution log statuses.
const (
	ExecRunning = "running"
	ExecSuccess = "success"
	ExecFailed  = "failed"
)

// Milestone statuses.
const (
	MilestonePlanned    = "planned"
	MilestoneInProgress = "in_progress"
	MilestoneCompleted  = "completed"
)

type Task struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Category       string   `json:"category"`
	Priority       int      `json:"priority"`
	Status         string   `json:"status" enum:"backlog,in_progress,review,approved,done,blocked"`
	AssignedAgent  *string  `json:"assigned_agent,omitempty"`
	Progress       int      `json:"progress"`
	QualityScore   *float64 `json:"quality_score,omitempty"`
	ApprovalStatus *string  `json:"approval_status,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
	ApprovedAt     *string  `json:"approved_at,omitempty" format:"date-time"`
}

type Approval struct {
	ID           string  `json:"id"`
	TaskID       string  `json:"task_id"`
	ReviewStatus string  `json:"review_status" enum:"pending,approved,rejected"`
	SubmittedBy  string  `json:"submitted_by"`
	SubmittedAt  string  `json:"submitted_at" format:"date-time"`
	ReviewedBy   *string `json:"reviewed_by,omitempty"`
	DecidedAt    *string `json:"decided_at,omitempty" format:"date-time"`
	Notes        *string `json:"notes,omitempty"`
}

// ExecutionLog records one run of the external agent-execution process.
// Append-only: completion only sets finished_at, status, output and cost.
type ExecutionLog struct {
	ID         string   `json:"id"`
	AgentName  string   `json:"agent_name,omitempty"`
	Status     string   `json:"status" enum:"running,success,failed"`
	TaskIDs    []string `json:"task_ids,omitempty"`
	Output     string   `json:"output,omitempty"`
	ErrorText  string   `json:"error,omitempty"`
	APICost    float64  `json:"api_cost"`
	TokensUsed int64    `json:"tokens_used"`
	StartedAt  string   `json:"started_at" format:"date-time"`
	FinishedAt *string  `json:"finished_at,omitempty" format:"date-time"`
}

type Milestone struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Status     string  `json:"status" enum:"planned,in_progress,completed"`
	TargetDate *string `json:"target_date,omitempty" format:"date"`
	TaskCount  int     `json:"task_count"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// AgentSkill is the per-agent performance record. It is written by the
// external execution process after each completed task; this service only
// reads it for stats.
type AgentSkill struct {
	AgentName       string  `json:"agent_name"`
	Active          bool    `json:"active"`
	TasksCompleted  int     `json:"tasks_completed"`
	AvgQualityScore float64 `json:"avg_quality_score"`
	SuccessRate     float64 `json:"success_rate"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Package checkpoint implements a durable checkpoint store: atomic
// save/load/list/delete, integrity hashing, retention policies, and
// portable export/import.
package checkpoint

import "time"

// Phase mirrors the coordinator's phase machine.
type Phase string

const (
	PhaseSetup    Phase = "Setup"
	PhaseMap      Phase = "Map"
	PhaseReduce   Phase = "Reduce"
	PhaseComplete Phase = "Complete"
)

// AgentStatus enumerates AgentResult.Status values.
type AgentStatus string

const (
	StatusPending  AgentStatus = "Pending"
	StatusRunning  AgentStatus = "Running"
	StatusSuccess  AgentStatus = "Success"
	StatusFailed   AgentStatus = "Failed"
	StatusTimeout  AgentStatus = "Timeout"
	StatusRetrying AgentStatus = "Retrying"
)

// WorkItem is an opaque JSON value plus its generated identifier.
type WorkItem struct {
	ID   string      `json:"id"`
	Data interface{} `json:"data"`
}

// AgentResult captures one agent's outcome.
type AgentResult struct {
	ItemID        string        `json:"item_id"`
	Status        AgentStatus   `json:"status"`
	Output        string        `json:"output,omitempty"`
	Commits       []string      `json:"commits,omitempty"`
	FilesModified []string      `json:"files_modified,omitempty"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
	RetryAttempt  int           `json:"retry_attempt,omitempty"`
	WorktreePath  string        `json:"worktree_path,omitempty"`
	Branch        string        `json:"branch,omitempty"`
	LogLocation   string        `json:"log_location,omitempty"`
}

// Metadata is the checkpoint's authoritative header.
type Metadata struct {
	CheckpointID    string    `json:"checkpoint_id"`
	JobID           string    `json:"job_id"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	Phase           Phase     `json:"phase"`
	TotalWorkItems  int       `json:"total_work_items"`
	CompletedItems  int       `json:"completed_items"`
	Reason          string    `json:"reason"`
	IntegrityHash   string    `json:"integrity_hash"`
}

// ExecutionState tracks per-phase results.
type ExecutionState struct {
	CurrentPhase   Phase                  `json:"current_phase"`
	PhaseStartTime time.Time              `json:"phase_start_time"`
	SetupResults   []AgentResult          `json:"setup_results,omitempty"`
	MapResults     []AgentResult          `json:"map_results,omitempty"`
	ReduceResults  []AgentResult          `json:"reduce_results,omitempty"`
}

// InProgressEntry tracks one item currently dispatched to an agent.
type InProgressEntry struct {
	WorkItem   WorkItem  `json:"work_item"`
	AgentID    string    `json:"agent_id"`
	StartedAt  time.Time `json:"started_at"`
	LastUpdate time.Time `json:"last_update"`
}

// CompletedEntry records a successfully finished item.
type CompletedEntry struct {
	WorkItem    WorkItem    `json:"work_item"`
	Result      AgentResult `json:"result"`
	CompletedAt time.Time   `json:"completed_at"`
}

// FailedEntry records an item that failed (possibly retriable).
type FailedEntry struct {
	WorkItem   WorkItem  `json:"work_item"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failed_at"`
	RetryCount int       `json:"retry_count"`
}

// WorkItemState is the bucketed view of every item's lifecycle position.
type WorkItemState struct {
	Pending     []WorkItem                 `json:"pending"`
	InProgress  map[string]InProgressEntry `json:"in_progress"`
	Completed   []CompletedEntry           `json:"completed"`
	Failed      []FailedEntry              `json:"failed"`
	CurrentBatch []string                  `json:"current_batch,omitempty"`
}

// AgentState tracks active agents and their outcomes.
type AgentState struct {
	ActiveAgents      map[string]string      `json:"active_agents"` // agent_id -> item_id
	Assignments       map[string]string      `json:"assignments"`   // agent_id -> item_id
	Results           map[string]AgentResult `json:"results"`
	ResourceAllocation map[string]int        `json:"resource_allocation,omitempty"`
}

// VariableState carries interpolation context forward across resume.
type VariableState struct {
	WorkflowVariables   map[string]string            `json:"workflow_variables,omitempty"`
	CapturedOutputs     map[string]string            `json:"captured_outputs,omitempty"`
	EnvironmentVariables map[string]string           `json:"environment_variables,omitempty"`
	ItemVariables       map[string]map[string]string `json:"item_variables,omitempty"`
}

// ResourceState tracks agent/worktree accounting.
type ResourceState struct {
	TotalAgentsAllowed int    `json:"total_agents_allowed"`
	CurrentActive      int    `json:"current_active"`
	WorktreesCreated   int    `json:"worktrees_created"`
	WorktreesCleaned   int    `json:"worktrees_cleaned"`
	DiskUsageBytes     *int64 `json:"disk_usage_bytes,omitempty"`
}

// ErrorState tracks the job's failure posture.
type ErrorState struct {
	ErrorCount      int    `json:"error_count"`
	DLQItems        int    `json:"dlq_items"`
	ThresholdReached bool  `json:"threshold_reached"`
	LastError       string `json:"last_error,omitempty"`
}

// Checkpoint is the full, authoritative resume record.
type Checkpoint struct {
	Metadata       Metadata       `json:"metadata"`
	ExecutionState ExecutionState `json:"execution_state"`
	WorkItemState  WorkItemState  `json:"work_item_state"`
	AgentState     AgentState     `json:"agent_state"`
	VariableState  VariableState  `json:"variable_state"`
	ResourceState  ResourceState  `json:"resource_state"`
	ErrorState     ErrorState     `json:"error_state"`

	// WorkflowHash is a SHA-256 hex digest of the canonicalized workflow
	// definition active when this checkpoint was written; resume compares
	// it against the current workflow file.
	WorkflowHash string `json:"workflow_hash,omitempty"`
}

// Info is the lightweight summary returned by Store.List.
type Info struct {
	CheckpointID string    `json:"checkpoint_id"`
	JobID        string    `json:"job_id"`
	Version      int       `json:"version"`
	Phase        Phase     `json:"phase"`
	CreatedAt    time.Time `json:"created_at"`
}

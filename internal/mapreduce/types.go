// Package mapreduce implements the Setup -> Map -> Reduce execution
// core: a fault-tolerant, checkpointed pipeline that fans work items out
// to isolated per-item agents and folds their results back together.
package mapreduce

import "time"

// WorkItem is an immutable JSON value tagged with a stable id. The core
// treats the payload as opaque beyond requiring id uniqueness within a
// job after de-duplication.
type WorkItem struct {
	ID      string                 `json:"id"`
	Payload map[string]interface{} `json:"payload"`
}

// AgentStatus is the tagged-union status of a single agent execution.
type AgentStatus string

const (
	AgentRunning  AgentStatus = "running"
	AgentSuccess  AgentStatus = "success"
	AgentFailed   AgentStatus = "failed"
	AgentTimeout  AgentStatus = "timeout"
	AgentRetrying AgentStatus = "retrying"
)

// Terminal reports whether the status will never transition further.
func (s AgentStatus) Terminal() bool {
	return s == AgentSuccess || s == AgentFailed || s == AgentTimeout
}

// AgentExecution is a single attempt to process one WorkItem.
type AgentExecution struct {
	AgentID       string                 `json:"agent_id"`
	ItemID        string                 `json:"item_id"`
	Attempt       int                    `json:"attempt"`
	WorktreePath  string                 `json:"worktree_path,omitempty"`
	BranchName    string                 `json:"branch_name,omitempty"`
	Status        AgentStatus            `json:"status"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty"`
	Commits       []string               `json:"commits,omitempty"`
	FilesModified []string               `json:"files_modified,omitempty"`
	Output        map[string]interface{} `json:"output,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// Duration reports elapsed wall time for a finished execution.
func (a AgentExecution) Duration() time.Duration {
	if a.FinishedAt == nil {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

// CompletedWorkItem records a successfully integrated agent result.
type CompletedWorkItem struct {
	ItemID     string                 `json:"item_id"`
	AgentID    string                 `json:"agent_id"`
	Commits    []string               `json:"commits,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Duration   time.Duration          `json:"duration"`
	FinishedAt time.Time              `json:"finished_at"`
}

// FailedWorkItem records a terminally-failed item (including merge-back
// failures, which spec section 4.3 classifies as failed even though the
// agent's command itself succeeded).
type FailedWorkItem struct {
	ItemID     string        `json:"item_id"`
	AgentID    string        `json:"agent_id"`
	Reason     string        `json:"reason"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// WorkItemProgress tracks an in-flight item's current attempt.
type WorkItemProgress struct {
	ItemID  string    `json:"item_id"`
	AgentID string    `json:"agent_id"`
	Attempt int       `json:"attempt"`
	Started time.Time `json:"started_at"`
}

// Phase is a coordinator state (spec section 4.1).
type Phase string

const (
	PhaseInit      Phase = "init"
	PhaseSetup     Phase = "setup"
	PhaseMap       Phase = "map"
	PhaseReduce    Phase = "reduce"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// MapSummary is the aggregate produced by the Map phase executor.
type MapSummary struct {
	Total          int                      `json:"total"`
	Successful     int                      `json:"successful"`
	Failed         int                      `json:"failed"`
	TotalDuration  time.Duration            `json:"total_duration"`
	AvgDuration    time.Duration            `json:"avg_duration"`
	SuccessRate    float64                  `json:"success_rate"`
	Results        []map[string]interface{} `json:"results"`
}

// JobResult is the terminal outcome of a coordinator run.
type JobResult struct {
	JobID     string        `json:"job_id"`
	Phase     Phase         `json:"phase"`
	Map       *MapSummary   `json:"map,omitempty"`
	Error     string        `json:"error,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Duration  time.Duration `json:"duration"`
}

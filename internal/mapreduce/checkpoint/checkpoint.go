// Package checkpoint implements durable, crash-safe job state snapshots
// per spec section 4.6: versioned saves with integrity hashing, a
// "latest" pointer, and version retention.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Reason identifies why a checkpoint was written.
type Reason string

const (
	ReasonInterval        Reason = "interval"
	ReasonPhaseTransition Reason = "phase_transition"
	ReasonBeforeShutdown  Reason = "before_shutdown"
	ReasonErrorOccurred   Reason = "error_occurred"
	ReasonManual          Reason = "manual"
)

// Phase mirrors mapreduce.Phase without importing the root package, to
// keep checkpoint dependency-free of the coordinator.
type Phase string

// WorkItemState is the four-way partition of a job's work items.
type WorkItemState struct {
	Pending    []json.RawMessage          `json:"pending"`
	InProgress map[string]json.RawMessage `json:"in_progress"`
	Completed  []json.RawMessage          `json:"completed"`
	Failed     []json.RawMessage          `json:"failed"`
}

// ExecutionState records progress within the current phase.
type ExecutionState struct {
	StepIndex  int `json:"step_index"`
	TotalSteps int `json:"total_steps"`
}

// ErrorState summarizes the job's error bookkeeping at save time.
type ErrorState struct {
	ErrorCount       int      `json:"error_count"`
	DlqItemIDs       []string `json:"dlq_item_ids"`
	ThresholdTripped bool     `json:"threshold_tripped"`
	LastError        string   `json:"last_error,omitempty"`
}

// AgentState records allocated worktrees and in-flight assignments.
type AgentState struct {
	AllocatedWorktrees map[string]string `json:"allocated_worktrees"` // worktree_path -> agent_id
	InFlight           map[string]string `json:"in_flight"`           // agent_id -> item_id
}

// Checkpoint is the full serialized snapshot described in spec section
// 3. IntegrityHash is computed over the fields listed there (job id,
// version, phase, work-item count buckets), not over the entire
// document, so unrelated fields (e.g. VariableState) can evolve without
// invalidating older checksums retroactively.
type Checkpoint struct {
	WorkflowID      string                 `json:"workflow_id"`
	Version         int                    `json:"version"`
	CreatedAt       time.Time              `json:"created_at"`
	CheckpointReason Reason                `json:"checkpoint_reason"`
	Phase           Phase                  `json:"phase"`
	ExecutionState  ExecutionState         `json:"execution_state"`
	WorkItemState   WorkItemState          `json:"work_item_state"`
	VariableState   map[string]interface{} `json:"variable_state"`
	AgentState      AgentState             `json:"agent_state"`
	ErrorState      ErrorState             `json:"error_state"`
	IntegrityHash   string                 `json:"integrity_hash"`
}

// Clone deep-copies a checkpoint via JSON round-trip, good enough here
// since Checkpoint is itself a JSON-serializable snapshot.
func (c Checkpoint) Clone() (Checkpoint, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("clone checkpoint: %w", err)
	}
	var out Checkpoint
	if err := json.Unmarshal(data, &out); err != nil {
		return Checkpoint{}, fmt.Errorf("clone checkpoint: %w", err)
	}
	return out, nil
}

// computeIntegrityHash hashes job id, version, phase, and work-item
// count buckets, matching spec section 3's integrity_hash definition.
func computeIntegrityHash(c Checkpoint) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%d|%d|%d|%d",
		c.WorkflowID,
		c.Version,
		c.Phase,
		len(c.WorkItemState.Pending),
		len(c.WorkItemState.InProgress),
		len(c.WorkItemState.Completed),
		len(c.WorkItemState.Failed),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// rollbackInProgress resets all in_progress items to pending, the
// single most important recovery invariant per spec section 4.6: any
// work interrupted by crash is safely re-attempted.
func rollbackInProgress(c *Checkpoint) {
	if len(c.WorkItemState.InProgress) == 0 {
		return
	}
	for _, raw := range c.WorkItemState.InProgress {
		c.WorkItemState.Pending = append(c.WorkItemState.Pending, raw)
	}
	c.WorkItemState.InProgress = map[string]json.RawMessage{}
}

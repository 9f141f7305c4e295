package mapreduce

import (
	"time"

	"github.com/iepathos/prodigy-sub010/internal/mapreduce/errorpolicy"
)

// Job is the top-level configuration for one coordinator run: the
// working directory agents branch from, and the optional Setup/Map/
// Reduce phase configurations (spec section 4.1's state machine runs
// over whichever of these are present).
type Job struct {
	ID         string
	WorkingDir string
	BaseRef    string

	Setup  *SetupConfig
	Map    *MapConfig
	Reduce *ReduceConfig

	Policy errorpolicy.Policy
}

// SetupConfig configures the Setup phase executor (spec section 4.2).
type SetupConfig struct {
	Commands []Command
	Timeout  time.Duration
}

// MapConfig configures work-item ingestion, the pre-execution
// transform pipeline, and agent dispatch (spec section 4.3).
type MapConfig struct {
	// Input is either a filesystem path or an inline JSON array/object
	// string.
	Input    string
	JSONPath string

	Filter         string
	Sort           string
	DistinctBy     string
	Offset         int
	MaxItems       int
	RequiredFields []string

	AgentCommands []Command
	MaxParallel   int
	AgentTimeout  time.Duration
}

// ReduceConfig configures the Reduce phase executor (spec section 4.5).
type ReduceConfig struct {
	Commands []Command
}

package mapreduce

import (
	"time"

	"github.com/iepathos/prodigy-sub010/internal/mapreduce/variables"
)

// Command is a single shell command template within a phase or agent
// script, with optional output capture bindings.
type Command struct {
	Shell          string                            `json:"shell"`
	Timeout        time.Duration                     `json:"timeout,omitempty"`
	Captures       map[string]variables.CaptureSpec   `json:"captures,omitempty"`
	CommitRequired bool                               `json:"commit_required,omitempty"`
	OnFailure      *OnFailureHandler                  `json:"on_failure,omitempty"`
}

// OnFailureHandler names a recovery command that the Setup and Reduce
// command sequences run when the parent command exits non-zero; if it
// succeeds the parent command is not treated as a failure. Agent-template
// commands do not run it: a non-zero exit there fails the agent.
type OnFailureHandler struct {
	Shell   string        `json:"shell"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// CommandResult is the outcome of executing one Command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Succeeded reports whether the command exited zero.
func (r CommandResult) Succeeded() bool {
	return !r.TimedOut && r.ExitCode == 0
}

package mapreduce

import (
	"fmt"
	"strings"

	"github.com/iepathos/prodigy-sub010/internal/mapreduce/events"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/variables"
)

// Warning is a non-fatal dry-run finding about a command's variable
// references (spec section 4.10's dependency-analysis supplement).
type Warning struct {
	Command string
	Message string
}

// knownVariableRoots are the chain scopes a command can legally
// reference at some point in a job's lifecycle: the current work
// item, and the three phases' captured/bound output.
var knownVariableRoots = map[string]bool{
	"item": true, "setup": true, "map": true, "reduce": true,
}

// ValidateCommand inspects cmd.Shell's ${...}/$... references without
// resolving them, since no variable state exists before a job runs, and
// flags the ones that can never resolve: an empty reference, or one
// rooted outside knownVariableRoots.
func ValidateCommand(cmd Command) []Warning {
	var warnings []Warning
	for _, ref := range variables.ExtractReferences(cmd.Shell) {
		if ref == "" {
			warnings = append(warnings, Warning{Command: cmd.Shell, Message: "empty variable reference"})
			continue
		}
		root := ref
		if i := strings.IndexAny(ref, ".["); i >= 0 {
			root = ref[:i]
		}
		if !knownVariableRoots[root] {
			warnings = append(warnings, Warning{
				Command: cmd.Shell,
				Message: fmt.Sprintf("reference %q has unknown root %q", ref, root),
			})
		}
	}
	return warnings
}

// DryRunWarnings validates every command across job's configured Setup,
// Map, and Reduce phases and logs a DryRunWarning event for each
// finding.
func DryRunWarnings(job *Job, logger *events.Logger) []Warning {
	var warnings []Warning
	collect := func(commands []Command) {
		for _, c := range commands {
			warnings = append(warnings, ValidateCommand(c)...)
		}
	}

	if job.Setup != nil {
		collect(job.Setup.Commands)
	}
	if job.Map != nil {
		collect(job.Map.AgentCommands)
	}
	if job.Reduce != nil {
		collect(job.Reduce.Commands)
	}

	for _, w := range warnings {
		logEvent(logger, events.KindDryRunWarning, "", map[string]interface{}{
			"command": w.Command, "message": w.Message,
		})
	}
	return warnings
}

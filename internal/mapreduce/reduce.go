package mapreduce

import (
	"context"
	"regexp"
	"strconv"

	"github.com/iepathos/prodigy-sub010/internal/logging"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/agent"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/events"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/variables"
)

// ReduceExecutor runs the Reduce phase's linear command sequence with
// aggregated map results exposed as interpolable variables (spec
// section 4.5).
type ReduceExecutor struct {
	executor agent.CommandExecutor
	log      *logging.Logger
}

func NewReduceExecutor(executor agent.CommandExecutor, log *logging.Logger) *ReduceExecutor {
	if log == nil {
		log = logging.Noop()
	}
	return &ReduceExecutor{executor: executor, log: log}
}

// ShouldSkip reports the skip condition from spec section 4.5: no
// reduce commands declared, or the map phase produced zero results.
func ShouldSkip(cfg *ReduceConfig, summary *MapSummary) bool {
	if cfg == nil || len(cfg.Commands) == 0 {
		return true
	}
	return summary == nil || len(summary.Results) == 0
}

// Run binds map.total/successful/failed/results into chain's global
// scope and executes cfg.Commands sequentially in workingDir. Before
// running, it logs an UnresolvedReduceVariable event for every
// map.results.N.field reference a command makes that the map summary
// cannot actually satisfy (spec section 4.10's dependency-analysis
// supplement), since interpolation otherwise leaves such a reference in
// the command text unchanged without reporting it.
func (r *ReduceExecutor) Run(ctx context.Context, cfg ReduceConfig, workingDir string, summary *MapSummary, chain *variables.Chain, logger *events.Logger) error {
	for _, ref := range unresolvedReduceVariables(cfg.Commands, summary) {
		logEvent(logger, events.KindUnresolvedReduceVariable, "", map[string]interface{}{"reference": ref})
	}

	bindMapResults(chain, summary)
	return runCommandSequence(ctx, r.executor, cfg.Commands, workingDir, chain, "reduce")
}

var mapResultRefPattern = regexp.MustCompile(`^map\.results\.(\d+)\.(.+)$`)

// unresolvedReduceVariables scans every reduce command for
// map.results.N.field references and reports the ones summary cannot
// resolve: either N is out of bounds, or field is absent from that
// result entry.
func unresolvedReduceVariables(commands []Command, summary *MapSummary) []string {
	var unresolved []string
	seen := map[string]bool{}

	for _, cmd := range commands {
		for _, ref := range variables.ExtractReferences(cmd.Shell) {
			if seen[ref] {
				continue
			}
			m := mapResultRefPattern.FindStringSubmatch(ref)
			if m == nil {
				continue
			}
			idx, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}

			resolved := false
			if summary != nil && idx < len(summary.Results) {
				_, resolved = variables.ResolvePath(summary.Results[idx], m[2])
			}
			if !resolved {
				seen[ref] = true
				unresolved = append(unresolved, ref)
			}
		}
	}
	return unresolved
}

func bindMapResults(chain *variables.Chain, summary *MapSummary) {
	g := chain.Global()
	if summary == nil {
		g.Set("map", map[string]interface{}{
			"total": 0, "successful": 0, "failed": 0, "results": []interface{}{},
		})
		return
	}

	results := make([]interface{}, len(summary.Results))
	for i, r := range summary.Results {
		results[i] = r
	}
	g.Set("map", map[string]interface{}{
		"total":        summary.Total,
		"successful":   summary.Successful,
		"failed":       summary.Failed,
		"success_rate": summary.SuccessRate,
		"results":      results,
	})
}

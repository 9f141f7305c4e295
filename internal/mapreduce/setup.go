package mapreduce

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/iepathos/prodigy-sub010/internal/logging"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/agent"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/variables"
)

// SetupExecutor runs the Setup phase's linear command sequence and
// detects the generated map input file (spec section 4.2).
type SetupExecutor struct {
	executor agent.CommandExecutor
	log      *logging.Logger
}

func NewSetupExecutor(executor agent.CommandExecutor, log *logging.Logger) *SetupExecutor {
	if log == nil {
		log = logging.Noop()
	}
	return &SetupExecutor{executor: executor, log: log}
}

// Run executes cfg.Commands sequentially in workingDir, merging any
// captured variables into chain's current scope, and returns the path
// to a newly-created file matching "*work-items.json" if one appeared
// (empty otherwise). The coordinator uses that path as the map input
// when the map config does not specify one.
func (s *SetupExecutor) Run(ctx context.Context, cfg SetupConfig, workingDir string, chain *variables.Chain) (string, error) {
	before, err := listFiles(workingDir)
	if err != nil {
		return "", fmt.Errorf("list working dir before setup: %w", err)
	}

	if err := runCommandSequence(ctx, s.executor, cfg.Commands, workingDir, chain, "setup"); err != nil {
		return "", err
	}

	after, err := listFiles(workingDir)
	if err != nil {
		return "", fmt.Errorf("list working dir after setup: %w", err)
	}

	for name := range after {
		if before[name] {
			continue
		}
		if strings.HasSuffix(name, "work-items.json") {
			return filepath.Join(workingDir, name), nil
		}
	}
	return "", nil
}

// runCommandSequence executes commands in order inside workDir,
// applying interpolation and capture extraction per command. It backs
// both the Setup and Reduce executors, which share the same "linear
// command sequence" shape (spec sections 4.2 and 4.5).
func runCommandSequence(ctx context.Context, executor agent.CommandExecutor, commands []Command, workDir string, chain *variables.Chain, label string) error {
	for i, cmd := range commands {
		shell := variables.Interpolate(cmd.Shell, chain)
		res, err := executor.Exec(ctx, shell, workDir, cmd.Timeout)
		if err != nil {
			return fmt.Errorf("%s command %d: %w", label, i, err)
		}

		for name, spec := range cmd.Captures {
			chain.Current().Set(name, variables.Capture(spec, res.Stdout, res.Stderr))
		}

		if res.TimedOut {
			return fmt.Errorf("%s command %d timed out: %s", label, i, cmd.Shell)
		}
		if res.Succeeded() {
			continue
		}

		if cmd.OnFailure != nil {
			recoverShell := variables.Interpolate(cmd.OnFailure.Shell, chain)
			recoverRes, recoverErr := executor.Exec(ctx, recoverShell, workDir, cmd.OnFailure.Timeout)
			if recoverErr == nil && recoverRes.Succeeded() {
				continue
			}
		}

		return fmt.Errorf("%s command %d exited %d: %s", label, i, res.ExitCode, res.Stderr)
	}
	return nil
}

func listFiles(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out[e.Name()] = true
	}
	return out, nil
}

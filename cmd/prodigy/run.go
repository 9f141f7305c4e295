package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iepathos/prodigy-sub010/internal/mapreduce"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/agent"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/checkpoint"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/events"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/storage"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/telemetry"
	"github.com/iepathos/prodigy-sub010/pkg/prodigyconfig"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a job from the beginning",
	RunE: func(cmd *cobra.Command, args []string) error {
		job, coord, err := buildJob(jobFile)
		if err != nil {
			return err
		}
		result, err := coord.Execute(cmd.Context(), job)
		return reportResult(result, err)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a job from its latest checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		job, coord, err := buildJob(jobFile)
		if err != nil {
			return err
		}
		settings, err := prodigyconfig.LoadSettings(cfgFile)
		if err != nil {
			return err
		}
		fs := afero.NewOsFs()
		layout := storage.NewLayout(settings.StorageRoot)
		mgr := checkpoint.NewManager(fs, layout, log)

		jobID, _ := cmd.Flags().GetString("job-id")
		if jobID == "" {
			jobID = job.ID
		}
		cp, err := mgr.Load(jobID)
		if err != nil {
			return fmt.Errorf("load checkpoint for %s: %w", jobID, err)
		}

		result, err := coord.Resume(cmd.Context(), job, cp)
		return reportResult(result, err)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and sanity-check a job file without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := loadJobSpec(jobFile)
		if err != nil {
			return err
		}
		job := spec.ToJob()
		if job.Map == nil || job.Map.Input == "" {
			return fmt.Errorf("job file %s: map.input is required", jobFile)
		}
		if len(job.Map.AgentCommands) == 0 {
			return fmt.Errorf("job file %s: map.agent_template must have at least one command", jobFile)
		}
		fmt.Printf("job %q is valid: %d setup commands, %d agent commands, %d reduce commands\n",
			job.ID, setupLen(job), len(job.Map.AgentCommands), reduceLen(job))

		warnings := mapreduce.DryRunWarnings(job, events.NewLogger())
		for _, w := range warnings {
			fmt.Printf("warning: %s: %s\n", w.Command, w.Message)
		}
		return nil
	},
}

func setupLen(job *mapreduce.Job) int {
	if job.Setup == nil {
		return 0
	}
	return len(job.Setup.Commands)
}

func reduceLen(job *mapreduce.Job) int {
	if job.Reduce == nil {
		return 0
	}
	return len(job.Reduce.Commands)
}

func loadJobSpec(path string) (prodigyconfig.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return prodigyconfig.JobSpec{}, fmt.Errorf("read job file %s: %w", path, err)
	}
	var spec prodigyconfig.JobSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return prodigyconfig.JobSpec{}, fmt.Errorf("parse job file %s: %w", path, err)
	}
	return spec, nil
}

// buildJob wires a full Coordinator from ambient settings plus a job
// file: real git worktrees rooted under settings.WorktreesDir, a host
// or Docker command executor, an afero OS filesystem for
// checkpoint/DLQ/event storage under settings.StorageRoot, and OTel
// telemetry when enabled.
func buildJob(path string) (*mapreduce.Job, *mapreduce.Coordinator, error) {
	spec, err := loadJobSpec(path)
	if err != nil {
		return nil, nil, err
	}
	job := spec.ToJob()
	if job.WorkingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve working directory: %w", err)
		}
		job.WorkingDir = wd
	}
	if job.BaseRef == "" {
		job.BaseRef = "HEAD"
	}

	settings, err := prodigyconfig.LoadSettings(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	fs := afero.NewOsFs()
	layout := storage.NewLayout(settings.StorageRoot)
	checkpoints := checkpoint.NewManager(fs, layout, log)

	var executor agent.CommandExecutor
	if settings.DockerImage != "" {
		docker, err := agent.NewDockerExecutor(settings.DockerImage)
		if err != nil {
			return nil, nil, fmt.Errorf("build docker executor: %w", err)
		}
		executor = mapreduce.CommandExecutorFor(docker)
	} else {
		executor = mapreduce.CommandExecutorFor(nil)
	}

	worktrees := agent.NewGitWorktreeProvider(job.WorkingDir, settings.WorktreesDir, settings.BranchPrefix)
	dispatcher := agent.NewDispatcher(worktrees, executor, job.BaseRef, log)

	setup := mapreduce.NewSetupExecutor(executor, log)
	mapExec := mapreduce.NewMapExecutor(dispatcher, log)
	reduce := mapreduce.NewReduceExecutor(executor, log)

	eventsDir := layout.EventsDir(job.ID)
	_ = fs.MkdirAll(eventsDir, 0o755)
	writer := events.NewJSONLWriter(fs, layout, job.ID, time.Now())
	eventLogger := events.NewLogger(writer)

	var tel *telemetry.Telemetry
	if settings.TelemetryOn {
		tel, err = telemetry.New()
		if err != nil {
			return nil, nil, fmt.Errorf("build telemetry: %w", err)
		}
	}

	coord := mapreduce.NewCoordinator(fs, layout, checkpoints, setup, mapExec, reduce, eventLogger, tel, log)
	return job, coord, nil
}

func reportResult(result mapreduce.JobResult, err error) error {
	if err != nil {
		fmt.Fprintf(os.Stderr, "job %s failed in phase %s: %v\n", result.JobID, result.Phase, err)
		return err
	}
	fmt.Printf("job %s completed in phase %s (duration %s)\n", result.JobID, result.Phase, result.Duration)
	if result.Map != nil {
		fmt.Printf("map phase: %d/%d succeeded (%.1f%%)\n", result.Map.Successful, result.Map.Total, result.Map.SuccessRate*100)
	}
	return nil
}

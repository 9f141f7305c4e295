package mapreduce

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/iepathos/prodigy-sub010/internal/logging"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/agent"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/checkpoint"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/dlq"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/errorpolicy"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/events"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/storage"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/telemetry"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/variables"
)

// Coordinator sequences Setup -> Map -> Reduce, enforces the legal
// transition table, and checkpoints after every phase transition (spec
// section 4.1).
type Coordinator struct {
	fs     afero.Fs
	layout storage.Layout

	checkpoints *checkpoint.Manager
	setup       *SetupExecutor
	mapExec     *MapExecutor
	reduce      *ReduceExecutor
	logger      *events.Logger
	tel         *telemetry.Telemetry
	log         *logging.Logger
}

func NewCoordinator(
	fs afero.Fs,
	layout storage.Layout,
	checkpoints *checkpoint.Manager,
	setup *SetupExecutor,
	mapExec *MapExecutor,
	reduce *ReduceExecutor,
	logger *events.Logger,
	tel *telemetry.Telemetry,
	log *logging.Logger,
) *Coordinator {
	if log == nil {
		log = logging.Noop()
	}
	return &Coordinator{
		fs: fs, layout: layout,
		checkpoints: checkpoints, setup: setup, mapExec: mapExec, reduce: reduce,
		logger: logger, tel: tel, log: log,
	}
}

// Execute runs job end to end from PhaseInit, per the legal-transition
// table in spec section 4.1.
func (c *Coordinator) Execute(ctx context.Context, job *Job) (JobResult, error) {
	return c.runFrom(ctx, job, variables.NewChain(), PhaseInit, nil)
}

// Resume continues a job from a previously saved checkpoint. The
// checkpoint's in_progress items have already been rolled back to
// pending by the checkpoint manager's save protocol. When the
// checkpoint was taken mid-map, its work_item_state is threaded through
// to MapExecutor.Run so completed and failed items are never
// redispatched, matching spec section 4.1's "semantically equivalent
// final state" contract and section 4.6's recovery invariant.
func (c *Coordinator) Resume(ctx context.Context, job *Job, cp checkpoint.Checkpoint) (JobResult, error) {
	chain := variables.NewChain()
	for k, v := range cp.VariableState {
		chain.Global().Set(k, v)
	}

	var resumeState *checkpoint.WorkItemState
	if Phase(cp.Phase) == PhaseMap {
		state := cp.WorkItemState
		resumeState = &state
	}

	return c.runFrom(ctx, job, chain, Phase(cp.Phase), resumeState)
}

func (c *Coordinator) runFrom(ctx context.Context, job *Job, chain *variables.Chain, startPhase Phase, resumeState *checkpoint.WorkItemState) (JobResult, error) {
	if c.tel != nil {
		ctx = c.tel.StartJobSpan(ctx, job.ID)
	}
	start := time.Now()

	logEvent(c.logger, events.KindJobStarted, job.ID, nil)

	result, err := c.run(ctx, job, chain, startPhase, resumeState)

	if c.tel != nil {
		c.tel.EndJobSpan(ctx, job.ID, string(result.Phase), time.Since(start), err)
	}
	result.Duration = time.Since(start)
	return result, err
}

func (c *Coordinator) run(ctx context.Context, job *Job, chain *variables.Chain, startPhase Phase, resumeState *checkpoint.WorkItemState) (JobResult, error) {
	phase := startPhase
	if phase == PhaseInit {
		if job.Setup != nil && len(job.Setup.Commands) > 0 {
			phase = PhaseSetup
		} else {
			phase = PhaseMap
		}
	}

	dlqQueue := dlq.NewQueue(c.fs, c.layout, job.ID)
	engine := errorpolicy.NewEngine(job.Policy)

	var generatedInput string
	if phase == PhaseSetup {
		generated, err := c.setup.Run(ctx, *job.Setup, job.WorkingDir, chain)
		if err != nil {
			return c.fail(job, err)
		}
		generatedInput = generated
		if err := c.checkpointPhase(job, PhaseMap, chain, nil); err != nil {
			return c.fail(job, err)
		}
		phase = PhaseMap
	}

	if job.Map == nil {
		return c.fail(job, fmt.Errorf("%w: map phase is not configured", ErrIllegalTransition))
	}

	onMapCheckpoint := func(state checkpoint.WorkItemState, reason checkpoint.Reason) {
		c.checkpointMapProgress(job, chain, state, reason)
	}
	mapCfg := *job.Map
	if mapCfg.Input == "" {
		mapCfg.Input = generatedInput
	}
	summary, err := c.mapExec.Run(ctx, mapCfg, chain, dlqQueue, engine, c.logger, resumeState, onMapCheckpoint)
	if err != nil {
		return c.fail(job, err)
	}
	if err := c.checkpointPhase(job, PhaseReduce, chain, summary); err != nil {
		return c.fail(job, err)
	}

	if ShouldSkip(job.Reduce, summary) {
		phase = PhaseCompleted
	} else {
		phase = PhaseReduce
		if err := c.reduce.Run(ctx, *job.Reduce, job.WorkingDir, summary, chain, c.logger); err != nil {
			return c.fail(job, err)
		}
		phase = PhaseCompleted
	}

	if err := c.checkpointPhase(job, phase, chain, summary); err != nil {
		return c.fail(job, err)
	}

	logEvent(c.logger, events.KindJobCompleted, job.ID, map[string]interface{}{"phase": string(phase)})
	if c.logger != nil {
		_ = c.logger.Flush()
	}

	return JobResult{JobID: job.ID, Phase: phase, Map: summary}, nil
}

func (c *Coordinator) fail(job *Job, err error) (JobResult, error) {
	logEvent(c.logger, events.KindJobFailed, job.ID, map[string]interface{}{"error": err.Error()})
	if c.logger != nil {
		_ = c.logger.Flush()
	}
	return JobResult{JobID: job.ID, Phase: PhaseFailed, Error: err.Error()}, err
}

func (c *Coordinator) checkpointPhase(job *Job, phase Phase, chain *variables.Chain, summary *MapSummary) error {
	if c.checkpoints == nil {
		return nil
	}
	cp := checkpoint.Checkpoint{
		WorkflowID:    job.ID,
		Phase:         checkpoint.Phase(phase),
		VariableState: chain.Global().All(),
	}
	if summary != nil {
		cp.ErrorState.ErrorCount = summary.Failed
	}
	_, err := c.checkpoints.SaveCheckpoint(cp, checkpoint.ReasonPhaseTransition)
	if err == nil {
		logEvent(c.logger, events.KindCheckpointCreated, job.ID, map[string]interface{}{"phase": string(phase)})
	}
	return err
}

// checkpointMapProgress is the onCheckpoint callback threaded into
// MapExecutor.Run: it persists a mid-map work-item snapshot under
// whichever Reason the map executor fired for (interval,
// before_shutdown, or error_occurred), giving those reasons real
// production call sites alongside ReasonPhaseTransition above.
func (c *Coordinator) checkpointMapProgress(job *Job, chain *variables.Chain, state checkpoint.WorkItemState, reason checkpoint.Reason) {
	if c.checkpoints == nil {
		return
	}
	cp := checkpoint.Checkpoint{
		WorkflowID:    job.ID,
		Phase:         checkpoint.Phase(PhaseMap),
		VariableState: chain.Global().All(),
		WorkItemState: state,
	}
	if _, err := c.checkpoints.SaveCheckpoint(cp, reason); err != nil {
		c.log.Error("checkpoint job %s during map phase: %v", job.ID, err)
		return
	}
	logEvent(c.logger, events.KindCheckpointCreated, job.ID, map[string]interface{}{"phase": string(PhaseMap), "reason": string(reason)})
}

// CommandExecutorFor picks the executor backend for a job: the host
// executor by default, or a caller-supplied DockerExecutor when
// container-per-agent isolation is requested (cmd/prodigy wires this).
func CommandExecutorFor(docker agent.CommandExecutor) agent.CommandExecutor {
	if docker != nil {
		return docker
	}
	return agent.NewHostExecutor()
}

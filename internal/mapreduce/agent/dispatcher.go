package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iepathos/prodigy-sub010/internal/logging"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/variables"
)

// Status mirrors the tagged-union AgentExecution status from spec
// section 3, scoped to this package to avoid a dependency cycle with
// the root mapreduce package (which imports agent, not the reverse).
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Result is the outcome of dispatching one WorkItem to one agent.
type Result struct {
	AgentID       string
	ItemID        string
	Attempt       int
	Status        Status
	WorktreePath  string
	BranchName    string
	StartedAt     time.Time
	FinishedAt    time.Time
	Commits       []string
	FilesModified []string
	Output        map[string]interface{}
	Error         string

	// CommitValidationFailed marks a failure caused specifically by a
	// CommitRequired step producing no new commits, which spec section
	// 4.4 routes to the DLQ unconditionally regardless of error policy.
	CommitValidationFailed bool
}

// ItemTemplate pairs a work item with the interpolated command
// sequence an agent must run against it.
type ItemTemplate struct {
	ItemID  string
	Item    map[string]interface{}
	Attempt int
	Steps   []Step
}

// Step is one command in an agent's template.
type Step struct {
	Shell          string
	Timeout        time.Duration
	Captures       map[string]variables.CaptureSpec
	CommitRequired bool
}

// Dispatcher implements the per-agent worktree lifecycle from spec
// section 4.4, bounding concurrency with a semaphore sized to
// min(max_parallel, |pending|, host-threads-available) by the caller.
type Dispatcher struct {
	provider    WorktreeProvider
	executor    CommandExecutor
	baseRef     string
	killTimeout time.Duration
	log         *logging.Logger
}

func NewDispatcher(provider WorktreeProvider, executor CommandExecutor, baseRef string, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Noop()
	}
	return &Dispatcher{
		provider:    provider,
		executor:    executor,
		baseRef:     baseRef,
		killTimeout: 5 * time.Second,
		log:         log,
	}
}

// Dispatch runs items with parallelism bounded by maxParallel and
// streams one Result per item back to the caller as each agent
// finishes, rather than blocking until the whole set completes. A
// caller holding stop can close it to halt handing out further items
// once an error-policy gate decides to stop (spec section 4.7): items
// already running are left to drain and still produce a Result.
func (d *Dispatcher) Dispatch(ctx context.Context, items []ItemTemplate, maxParallel int, stop <-chan struct{}) <-chan Result {
	if maxParallel < 1 {
		maxParallel = 1
	}

	work := make(chan ItemTemplate)
	results := make(chan Result, maxParallel)
	var wg sync.WaitGroup

	go func() {
		defer close(work)
		for _, it := range items {
			select {
			case <-stop:
				return
			default:
			}
			select {
			case <-stop:
				return
			case work <- it:
			}
		}
	}()

	wg.Add(maxParallel)
	for i := 0; i < maxParallel; i++ {
		go func() {
			defer wg.Done()
			for it := range work {
				results <- d.dispatchOne(ctx, it)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// dispatchOne implements the happy-path and failure-handling flow from
// spec section 4.4, steps 1-6. A recover guard at the top is the only
// place an agent goroutine's panic is caught: it becomes a Failed
// Result instead of crashing the job.
func (d *Dispatcher) dispatchOne(ctx context.Context, it ItemTemplate) (result Result) {
	agentID := uuid.NewString()
	started := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			result = d.failure(agentID, it, started, fmt.Sprintf("agent goroutine panicked: %v", rec), false)
		}
	}()

	wt, err := d.provider.Create(ctx, d.baseRef, agentID)
	if err != nil {
		return d.failure(agentID, it, started, fmt.Sprintf("worktree creation failed: %v", err), false)
	}

	chain := variables.NewChain()
	chain.Current().Set("item", it.Item)

	var finalErr string
	timedOut := false
	commitFailed := false

	for _, step := range it.Steps {
		shell := variables.Interpolate(step.Shell, chain)
		res, execErr := d.executor.Exec(ctx, shell, wt.Path, step.Timeout)
		if execErr != nil {
			finalErr = fmt.Sprintf("step execution error: %v", execErr)
			break
		}

		for name, spec := range step.Captures {
			chain.Current().Set(name, variables.Capture(spec, res.Stdout, res.Stderr))
		}

		if res.TimedOut {
			timedOut = true
			finalErr = "command exceeded per-agent timeout"
			break
		}
		if !res.Succeeded() {
			finalErr = fmt.Sprintf("command exited %d: %s", res.ExitCode, res.Stderr)
			break
		}

		if step.CommitRequired {
			commits, cErr := d.provider.CommitsSince(ctx, wt, d.baseRef)
			if cErr != nil || len(commits) == 0 {
				finalErr = "commit required but no new commits were produced"
				commitFailed = true
				break
			}
		}
	}

	if finalErr != "" {
		_ = d.provider.Destroy(ctx, wt)
		r := d.failureWithWorktree(agentID, it, started, finalErr, timedOut, wt)
		r.CommitValidationFailed = commitFailed
		return r
	}

	commits, err := d.provider.CommitsSince(ctx, wt, d.baseRef)
	if err != nil {
		_ = d.provider.Destroy(ctx, wt)
		return d.failureWithWorktree(agentID, it, started, fmt.Sprintf("collect commits: %v", err), false, wt)
	}
	files, err := d.provider.ModifiedFiles(ctx, wt)
	if err != nil {
		_ = d.provider.Destroy(ctx, wt)
		return d.failureWithWorktree(agentID, it, started, fmt.Sprintf("collect modified files: %v", err), false, wt)
	}

	mergeErr := d.provider.MergeBack(ctx, wt)
	destroyErr := d.provider.Destroy(ctx, wt)
	if destroyErr != nil {
		d.log.Error("destroy worktree %s: %v", wt.Path, destroyErr)
	}

	if mergeErr != nil {
		// Merge-back failure counts as a failed item even though every
		// command succeeded (spec section 4.3's "fully integrated"
		// aggregation rule).
		return Result{
			AgentID: agentID, ItemID: it.ItemID, Attempt: it.Attempt,
			Status: StatusFailed, WorktreePath: wt.Path, BranchName: wt.BranchName,
			StartedAt: started, FinishedAt: time.Now(),
			Commits: commits, FilesModified: files,
			Error: fmt.Sprintf("merge-back failed: %v", mergeErr),
		}
	}

	output := map[string]interface{}{}
	for k, v := range chain.Current().All() {
		if k == "item" {
			continue
		}
		output[k] = v
	}

	return Result{
		AgentID: agentID, ItemID: it.ItemID, Attempt: it.Attempt,
		Status: StatusSuccess, WorktreePath: wt.Path, BranchName: wt.BranchName,
		StartedAt: started, FinishedAt: time.Now(),
		Commits: commits, FilesModified: files, Output: output,
	}
}

func (d *Dispatcher) failure(agentID string, it ItemTemplate, started time.Time, msg string, timedOut bool) Result {
	status := StatusFailed
	if timedOut {
		status = StatusTimeout
	}
	return Result{
		AgentID: agentID, ItemID: it.ItemID, Attempt: it.Attempt,
		Status: status, StartedAt: started, FinishedAt: time.Now(), Error: msg,
	}
}

func (d *Dispatcher) failureWithWorktree(agentID string, it ItemTemplate, started time.Time, msg string, timedOut bool, wt Worktree) Result {
	r := d.failure(agentID, it, started, msg, timedOut)
	r.WorktreePath = wt.Path
	r.BranchName = wt.BranchName
	return r
}

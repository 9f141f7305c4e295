package mapreduce

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/iepathos/prodigy-sub010/internal/logging"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/agent"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/checkpoint"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/dlq"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/errorpolicy"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/events"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/expression"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/variables"
)

// checkpointInterval is the K from spec section 4.6 trigger (b): a
// checkpoint is saved every K completed agents, success or failure.
const checkpointInterval = 5

// dlqGrowthThreshold is how many dead-lettered items accumulate before
// a DlqGrowthSuggestion event fires, repeating every multiple thereof.
const dlqGrowthThreshold = 10

// MapExecutor ingests a work-item set, applies the deterministic
// transform pipeline, and dispatches agents with bounded parallelism
// (spec section 4.3).
type MapExecutor struct {
	dispatcher *agent.Dispatcher
	log        *logging.Logger
}

func NewMapExecutor(dispatcher *agent.Dispatcher, log *logging.Logger) *MapExecutor {
	if log == nil {
		log = logging.Noop()
	}
	return &MapExecutor{dispatcher: dispatcher, log: log}
}

// Run loads and transforms cfg's input, dispatches every surviving item
// to an agent, retries/DLQs/stops per the error policy engine's
// decision on each failure, and returns the aggregated summary.
//
// resume carries a previously-saved work-item partition (nil for a
// fresh run); items already recorded as completed or failed there are
// never redispatched, the single most important recovery invariant
// from spec section 4.6. onCheckpoint, when non-nil, is invoked with a
// fresh snapshot at every trigger from spec section 4.6: every
// checkpointInterval completed agents, just before returning due to
// context cancellation, and just before returning due to a stop
// decision from the error policy engine.
func (m *MapExecutor) Run(
	ctx context.Context,
	cfg MapConfig,
	chain *variables.Chain,
	dlqQueue *dlq.Queue,
	engine *errorpolicy.Engine,
	logger *events.Logger,
	resume *checkpoint.WorkItemState,
	onCheckpoint func(state checkpoint.WorkItemState, reason checkpoint.Reason),
) (*MapSummary, error) {
	items, err := loadWorkItems(cfg)
	if err != nil {
		return nil, err
	}

	items, err = applyValidation(items, cfg.RequiredFields, dlqQueue, logger)
	if err != nil {
		return nil, err
	}

	completed, failed := decodeResume(resume)
	done := make(map[string]bool, len(completed)+len(failed))
	for _, c := range completed {
		done[c.ItemID] = true
	}
	for _, f := range failed {
		done[f.ItemID] = true
	}

	byID := make(map[string]WorkItem, len(items))
	pending := make([]WorkItem, 0, len(items))
	for _, it := range items {
		byID[it.ID] = it
		if !done[it.ID] {
			pending = append(pending, it)
		}
	}

	attempts := make(map[string]int)
	inProgress := make(map[string]WorkItem)
	sinceCheckpoint := 0

	fire := func(reason checkpoint.Reason) {
		if onCheckpoint == nil {
			return
		}
		onCheckpoint(snapshotWorkItemState(pending, inProgress, completed, failed), reason)
	}

	for len(pending) > 0 {
		templates := make([]agent.ItemTemplate, len(pending))
		for i, it := range pending {
			attempts[it.ID]++
			inProgress[it.ID] = it
			templates[i] = agent.ItemTemplate{
				ItemID:  it.ID,
				Item:    it.Payload,
				Attempt: attempts[it.ID],
				Steps:   toSteps(cfg.AgentCommands),
			}
		}
		pending = nil

		parallel := computeParallelism(cfg.MaxParallel, len(templates))
		stop := make(chan struct{})
		stopped := false
		closeStop := func() {
			if !stopped {
				stopped = true
				close(stop)
			}
		}

		var nextPending []WorkItem
		var stopErr error

		results := m.dispatcher.Dispatch(ctx, templates, parallel, stop)
		for r := range results {
			delete(inProgress, r.ItemID)

			if r.Status == agent.StatusSuccess {
				engine.RecordSuccess()
				completed = append(completed, CompletedWorkItem{
					ItemID: r.ItemID, AgentID: r.AgentID, Commits: r.Commits,
					Output: r.Output, Duration: r.FinishedAt.Sub(r.StartedAt), FinishedAt: r.FinishedAt,
				})
				logEvent(logger, events.KindAgentCompleted, r.ItemID, map[string]interface{}{"agent_id": r.AgentID})
			} else {
				kind := events.KindAgentFailed
				if r.Status == agent.StatusTimeout {
					kind = events.KindAgentTimeout
				}
				logEvent(logger, kind, r.ItemID, map[string]interface{}{"agent_id": r.AgentID, "error": r.Error})

				action := engine.Decide(attempts[r.ItemID])

				if r.CommitValidationFailed {
					// A commit-required failure always routes to DLQ with
					// manual_review_required, regardless of what
					// on_item_failure would otherwise dictate (spec
					// section 4.4's commit_required policy).
					enqueueFailure(dlqQueue, byID[r.ItemID], r, logger)
					failed = append(failed, toFailedWorkItem(r, attempts[r.ItemID]))
					if action.Kind == errorpolicy.ActionStop {
						stopErr = fmt.Errorf("%w: %s", stopSentinel(action.Reason), action.Reason)
						closeStop()
					}
				} else {
					switch action.Kind {
					case errorpolicy.ActionRetry:
						if it, ok := byID[r.ItemID]; ok {
							nextPending = append(nextPending, it)
						}
					case errorpolicy.ActionSkip:
						// Terminally skipped, no DLQ entry per policy.
					case errorpolicy.ActionStop:
						stopErr = fmt.Errorf("%w: %s", stopSentinel(action.Reason), action.Reason)
						failed = append(failed, toFailedWorkItem(r, attempts[r.ItemID]))
						closeStop()
					default: // ActionContinue, ActionDlq
						if action.Kind == errorpolicy.ActionDlq {
							enqueueFailure(dlqQueue, byID[r.ItemID], r, logger)
						}
						failed = append(failed, toFailedWorkItem(r, attempts[r.ItemID]))
					}
				}
			}

			sinceCheckpoint++
			if sinceCheckpoint >= checkpointInterval {
				sinceCheckpoint = 0
				fire(checkpoint.ReasonInterval)
			}
		}

		// Anything still marked in-progress here was handed to this wave
		// but never ran, because closeStop fired before the dispatcher's
		// feeder reached it; it belongs back in pending, not in-progress.
		var leftover []WorkItem
		for id, it := range inProgress {
			leftover = append(leftover, it)
			delete(inProgress, id)
		}
		pending = append(leftover, nextPending...)

		if ctx.Err() != nil {
			fire(checkpoint.ReasonBeforeShutdown)
			return buildSummary(completed, failed), ctx.Err()
		}
		if stopErr != nil {
			fire(checkpoint.ReasonErrorOccurred)
			return nil, stopErr
		}
	}

	return buildSummary(completed, failed), nil
}

// decodeResume recovers the completed/failed accumulators from a
// previously saved checkpoint's work-item partition.
func decodeResume(resume *checkpoint.WorkItemState) (completed []CompletedWorkItem, failed []FailedWorkItem) {
	if resume == nil {
		return nil, nil
	}
	for _, raw := range resume.Completed {
		var c CompletedWorkItem
		if err := json.Unmarshal(raw, &c); err == nil {
			completed = append(completed, c)
		}
	}
	for _, raw := range resume.Failed {
		var f FailedWorkItem
		if err := json.Unmarshal(raw, &f); err == nil {
			failed = append(failed, f)
		}
	}
	return completed, failed
}

// snapshotWorkItemState marshals the map phase's live accumulators into
// the checkpoint package's storage shape.
func snapshotWorkItemState(pending []WorkItem, inProgress map[string]WorkItem, completed []CompletedWorkItem, failed []FailedWorkItem) checkpoint.WorkItemState {
	state := checkpoint.WorkItemState{
		Pending:    marshalEach(pending),
		InProgress: make(map[string]json.RawMessage, len(inProgress)),
		Completed:  marshalEach(completed),
		Failed:     marshalEach(failed),
	}
	for id, it := range inProgress {
		if raw, err := json.Marshal(it); err == nil {
			state.InProgress[id] = raw
		}
	}
	return state
}

func marshalEach[T any](items []T) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		if raw, err := json.Marshal(it); err == nil {
			out = append(out, raw)
		}
	}
	return out
}

// stopSentinel maps an Engine.Decide stop reason back to the specific
// sentinel error it corresponds to, so callers can errors.Is against
// the rule that fired rather than a single generic "stopped" error.
func stopSentinel(reason string) error {
	switch {
	case strings.Contains(reason, "circuit breaker"):
		return ErrCircuitBreakerOpen
	case strings.Contains(reason, "max_failures"):
		return ErrMaxFailuresExceeded
	case strings.Contains(reason, "failure_threshold"):
		return ErrFailureRateExceeded
	default:
		return ErrHardStop
	}
}

func toFailedWorkItem(r agent.Result, attempts int) FailedWorkItem {
	return FailedWorkItem{
		ItemID: r.ItemID, AgentID: r.AgentID, Reason: r.Error,
		Attempts: attempts, Duration: r.FinishedAt.Sub(r.StartedAt), FinishedAt: r.FinishedAt,
	}
}

// enqueueFailure persists r as a dead-lettered attempt for item and
// emits DlqItemAdded. ErrorKind is left unset except for a timeout so
// dlq.Queue.Enqueue's own Classify pass derives it from the message,
// the only place a commit-required failure is correctly tagged
// CommitValidationFailed. It also emits a DlqGrowthSuggestion each time
// the queue's size crosses a multiple of dlqGrowthThreshold.
func enqueueFailure(q *dlq.Queue, item WorkItem, r agent.Result, logger *events.Logger) {
	if q == nil {
		return
	}
	var kind dlq.ErrorKind
	if r.Status == agent.StatusTimeout {
		kind = dlq.KindTimeout
	}
	entry := dlq.FailureEntry{
		Attempt: r.Attempt, Timestamp: r.FinishedAt, ErrorKind: kind, Message: r.Error,
	}
	var wt *dlq.WorktreeArtifacts
	if r.WorktreePath != "" {
		wt = &dlq.WorktreeArtifacts{Path: r.WorktreePath, Branch: r.BranchName, Uncommitted: len(r.FilesModified) > 0}
	}
	persisted, err := q.Enqueue(item.ID, item.Payload, entry, wt)
	if err != nil {
		return
	}
	classified := persisted.FailureHistory[len(persisted.FailureHistory)-1].ErrorKind
	logEvent(logger, events.KindDlqItemAdded, item.ID, map[string]interface{}{"error_kind": string(classified)})

	if n := len(q.List()); n >= dlqGrowthThreshold && n%dlqGrowthThreshold == 0 {
		logEvent(logger, events.KindDlqGrowthSuggestion, item.ID, map[string]interface{}{
			"dlq_size": n,
		})
	}
}

func logEvent(logger *events.Logger, kind events.Kind, itemID string, data map[string]interface{}) {
	if logger == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["item_id"] = itemID
	_ = logger.Log(events.NewEvent(uuid.NewString(), time.Now(), itemID, kind, data))
}

func buildSummary(completed []CompletedWorkItem, failed []FailedWorkItem) *MapSummary {
	total := len(completed) + len(failed)
	var totalDur time.Duration
	results := make([]map[string]interface{}, 0, len(completed))
	for _, c := range completed {
		totalDur += c.Duration
		entry := map[string]interface{}{
			"item_id": c.ItemID, "agent_id": c.AgentID, "commits": c.Commits,
		}
		for k, v := range c.Output {
			entry[k] = v
		}
		results = append(results, entry)
	}
	for _, f := range failed {
		totalDur += f.Duration
	}

	summary := &MapSummary{
		Total: total, Successful: len(completed), Failed: len(failed),
		TotalDuration: totalDur, Results: results,
	}
	if total > 0 {
		summary.AvgDuration = totalDur / time.Duration(total)
		summary.SuccessRate = float64(summary.Successful) / float64(total)
	}
	return summary
}

// computeParallelism bounds the dispatcher's concurrency by
// max_parallel, the pending count, and the host's available threads
// (spec section 4.3's scheduling contract and the phase-parallelization
// supplement in SPEC_FULL.md section 10).
func computeParallelism(maxParallel, pending int) int {
	p := maxParallel
	if p <= 0 {
		p = pending
	}
	if pending < p {
		p = pending
	}
	if cpus := runtime.NumCPU(); cpus < p {
		p = cpus
	}
	if p < 1 {
		p = 1
	}
	return p
}

func toSteps(commands []Command) []agent.Step {
	steps := make([]agent.Step, len(commands))
	for i, c := range commands {
		steps[i] = agent.Step{Shell: c.Shell, Timeout: c.Timeout, Captures: c.Captures, CommitRequired: c.CommitRequired}
	}
	return steps
}

// loadWorkItems reads cfg.Input (a file path, or an inline JSON
// literal when it starts with '[' or '{'), selects an array via
// cfg.JSONPath if set, and applies the filter/sort/distinct/offset-
// limit transforms in the fixed order from spec section 4.3.
func loadWorkItems(cfg MapConfig) ([]WorkItem, error) {
	raw, err := readInput(cfg.Input)
	if err != nil {
		return nil, fmt.Errorf("read map input: %w", err)
	}

	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse map input as JSON: %w", err)
	}

	if cfg.JSONPath != "" {
		v, ok := variables.ResolvePath(parsed, cfg.JSONPath)
		if !ok {
			return nil, fmt.Errorf("map input json_path %q did not resolve: %w", cfg.JSONPath, ErrInputNotArray)
		}
		parsed = v
	}

	arr, ok := parsed.([]interface{})
	if !ok {
		return nil, ErrInputNotArray
	}

	items := make([]WorkItem, 0, len(arr))
	for _, el := range arr {
		payload, ok := el.(map[string]interface{})
		if !ok {
			payload = map[string]interface{}{"value": el}
		}
		id := uuid.NewString()
		if v, ok := payload["id"]; ok {
			if s, ok := v.(string); ok && s != "" {
				id = s
			}
		}
		items = append(items, WorkItem{ID: id, Payload: payload})
	}

	if cfg.Filter != "" {
		items, err = filterItems(items, cfg.Filter)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Sort != "" {
		if err := sortItems(items, cfg.Sort); err != nil {
			return nil, err
		}
	}
	if cfg.DistinctBy != "" {
		items = distinctItems(items, cfg.DistinctBy)
	}
	items = applyOffsetLimit(items, cfg.Offset, cfg.MaxItems)

	return items, nil
}

func readInput(input string) ([]byte, error) {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), nil
	}
	return os.ReadFile(input)
}

func filterItems(items []WorkItem, expr string) ([]WorkItem, error) {
	parsed, err := expression.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse filter expression: %w", err)
	}
	out := make([]WorkItem, 0, len(items))
	for _, it := range items {
		ok, err := expression.Evaluate(parsed, it.Payload)
		if err != nil {
			return nil, fmt.Errorf("evaluate filter on item %s: %w", it.ID, err)
		}
		if ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func sortItems(items []WorkItem, expr string) error {
	keys, err := expression.ParseSort(expr)
	if err != nil {
		return fmt.Errorf("parse sort expression: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, k := range keys {
			vi, _ := variables.ResolvePath(items[i].Payload, k.Field)
			vj, _ := variables.ResolvePath(items[j].Payload, k.Field)
			cmp := expression.CompareValues(vi, vj)
			if cmp == 0 {
				continue
			}
			if k.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

func distinctItems(items []WorkItem, field string) []WorkItem {
	seen := make(map[string]bool, len(items))
	out := make([]WorkItem, 0, len(items))
	for _, it := range items {
		v, _ := variables.ResolvePath(it.Payload, field)
		key := fmt.Sprintf("%v", v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

func applyOffsetLimit(items []WorkItem, offset, maxItems int) []WorkItem {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if maxItems > 0 && maxItems < len(items) {
		items = items[:maxItems]
	}
	return items
}

// applyValidation converts any item failing required-field validation
// into a DLQ entry with kind ValidationFailed, excluding it from
// scheduling (spec section 4.3 transform 5). The check is a JSON Schema
// "required" validation built from required, following the teacher's
// own gojsonschema validation pattern rather than a hand-rolled field
// walk.
func applyValidation(items []WorkItem, required []string, q *dlq.Queue, logger *events.Logger) ([]WorkItem, error) {
	if len(required) == 0 {
		return items, nil
	}

	schemaJSON, err := json.Marshal(map[string]interface{}{
		"type":     "object",
		"required": required,
	})
	if err != nil {
		return nil, fmt.Errorf("build validation schema: %w", err)
	}
	schemaLoader := gojsonschema.NewStringLoader(string(schemaJSON))

	out := make([]WorkItem, 0, len(items))
	for _, it := range items {
		dataJSON, err := json.Marshal(it.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal item %s for validation: %w", it.ID, err)
		}
		result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(string(dataJSON)))
		if err != nil {
			return nil, fmt.Errorf("validate item %s: %w", it.ID, err)
		}
		if result.Valid() {
			out = append(out, it)
			continue
		}

		var missing []string
		for _, e := range result.Errors() {
			if e.Type() != "required" {
				continue
			}
			if prop, ok := e.Details()["property"].(string); ok {
				missing = append(missing, prop)
			}
		}
		if len(missing) == 0 {
			missing = []string{"unknown"}
		}

		if q != nil {
			entry := dlq.FailureEntry{
				Attempt: 0, Timestamp: time.Now(),
				Message: fmt.Sprintf("validation failed: missing required field(s) %s", strings.Join(missing, ", ")),
			}
			if _, err := q.Enqueue(it.ID, it.Payload, entry, nil); err != nil {
				return nil, fmt.Errorf("enqueue validation failure for %s: %w", it.ID, err)
			}
			logEvent(logger, events.KindDlqItemAdded, it.ID, map[string]interface{}{"error_kind": string(dlq.KindValidationFailed)})
		}
	}
	return out, nil
}

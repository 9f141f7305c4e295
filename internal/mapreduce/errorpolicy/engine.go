package errorpolicy

import (
	"sync"
	"time"
)

const defaultResetTimeout = 60 * time.Second

// ActionKind is the tagged-union kind of an Action (spec section 4.7).
type ActionKind string

const (
	ActionContinue ActionKind = "continue"
	ActionSkip     ActionKind = "skip"
	ActionRetry    ActionKind = "retry"
	ActionDlq      ActionKind = "dlq"
	ActionStop     ActionKind = "stop"
)

// Action is the engine's decision for one failed AgentResult.
type Action struct {
	Kind   ActionKind
	Retry  RetryConfig
	Reason string
}

// Policy configures the gating rules evaluated in order by Engine.Decide.
type Policy struct {
	ContinueOnFailure bool
	MaxFailures       int
	FailureThreshold  float64
	MinSampleSize     int
	OnItemFailure     ActionKind
	Retry             RetryConfig

	CircuitFailureThreshold int
	CircuitSuccessThreshold int
}

// DefaultPolicy mirrors the spec's stated defaults: per-item action
// Dlq, retry via DefaultRetryConfig.
func DefaultPolicy() Policy {
	return Policy{
		ContinueOnFailure:       true,
		MaxFailures:             0,
		FailureThreshold:        0,
		MinSampleSize:           0,
		OnItemFailure:           ActionDlq,
		Retry:                   DefaultRetryConfig(),
		CircuitFailureThreshold: 5,
		CircuitSuccessThreshold: 2,
	}
}

// Engine evaluates the five gating rules from spec section 4.7 in
// order and tracks the cumulative success/failure counters the
// rate-threshold and max-failures rules need.
type Engine struct {
	policy  Policy
	breaker *CircuitBreaker

	mu         sync.Mutex
	successful int
	failed     int
}

func NewEngine(policy Policy) *Engine {
	return &Engine{
		policy: policy,
		breaker: NewCircuitBreaker("map-phase", policy.CircuitFailureThreshold,
			policy.CircuitSuccessThreshold, defaultResetTimeout),
	}
}

// RecordSuccess updates the engine's cumulative counters and circuit
// breaker state after a successful agent result.
func (e *Engine) RecordSuccess() {
	e.mu.Lock()
	e.successful++
	e.mu.Unlock()
	e.breaker.RecordSuccess()
}

// Decide evaluates the gating rules in order for one failed attempt at
// the given attempt number, returning the first applicable Action.
func (e *Engine) Decide(attempt int) Action {
	e.mu.Lock()
	e.failed++
	failed, successful := e.failed, e.successful
	e.mu.Unlock()

	e.breaker.RecordFailure()

	// Rule 1: hard stop.
	if !e.policy.ContinueOnFailure {
		return Action{Kind: ActionStop, Reason: "continue_on_failure is false"}
	}

	// Rule 2: circuit breaker.
	if e.breaker.GetState() == CircuitOpen {
		return Action{Kind: ActionStop, Reason: "circuit breaker open"}
	}

	// Rule 3: max failures.
	if e.policy.MaxFailures > 0 && failed >= e.policy.MaxFailures {
		return Action{Kind: ActionStop, Reason: "cumulative failures reached max_failures"}
	}

	// Rule 4: failure-rate threshold, after a minimum sample size.
	total := failed + successful
	if e.policy.FailureThreshold > 0 && total >= e.policy.MinSampleSize && total > 0 {
		rate := float64(failed) / float64(total)
		if rate > e.policy.FailureThreshold {
			return Action{Kind: ActionStop, Reason: "failure rate exceeded failure_threshold"}
		}
	}

	// Rule 5: per-item action.
	switch e.policy.OnItemFailure {
	case ActionRetry:
		if e.policy.Retry.ShouldRetry(attempt) {
			return Action{Kind: ActionRetry, Retry: e.policy.Retry}
		}
		return Action{Kind: ActionDlq}
	case ActionSkip:
		return Action{Kind: ActionSkip}
	case ActionContinue:
		return Action{Kind: ActionContinue}
	default:
		return Action{Kind: ActionDlq}
	}
}

// Breaker exposes the underlying circuit breaker for observability.
func (e *Engine) Breaker() *CircuitBreaker { return e.breaker }

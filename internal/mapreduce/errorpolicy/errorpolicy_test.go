package errorpolicy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensOnConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 2, 50*time.Millisecond)
	assert.Equal(t, CircuitClosed, cb.GetState())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.GetState())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
}

func TestCircuitBreakerHalfOpenThenClose(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 2, 10*time.Millisecond)
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.GetState())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cb.GetState())

	cb.RecordSuccess()
	assert.Equal(t, CircuitHalfOpen, cb.GetState())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 2, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.Equal(t, CircuitHalfOpen, cb.GetState())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
}

func TestRetryConfigDelayRespectsMaxDelay(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 2 * time.Second, ExponentialBase: 2}
	rng := rand.New(rand.NewSource(1))
	d := cfg.Delay(10, rng)
	assert.LessOrEqual(t, d, 2*time.Second)
}

func TestRetryConfigShouldRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3}
	assert.True(t, cfg.ShouldRetry(1))
	assert.True(t, cfg.ShouldRetry(2))
	assert.False(t, cfg.ShouldRetry(3))
}

func TestEngineHardStopOnContinueOnFailureFalse(t *testing.T) {
	policy := DefaultPolicy()
	policy.ContinueOnFailure = false
	e := NewEngine(policy)

	action := e.Decide(1)
	assert.Equal(t, ActionStop, action.Kind)
}

func TestEngineMaxFailuresStop(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxFailures = 2
	policy.CircuitFailureThreshold = 100
	e := NewEngine(policy)

	first := e.Decide(1)
	assert.Equal(t, ActionDlq, first.Kind)

	second := e.Decide(1)
	assert.Equal(t, ActionStop, second.Kind)
}

func TestEngineFailureRateThreshold(t *testing.T) {
	policy := DefaultPolicy()
	policy.FailureThreshold = 0.5
	policy.MinSampleSize = 4
	policy.CircuitFailureThreshold = 100
	e := NewEngine(policy)

	e.RecordSuccess()

	first := e.Decide(1) // failed=1, total=2, below min sample size
	assert.Equal(t, ActionDlq, first.Kind)

	second := e.Decide(1) // failed=2, total=3, still below min sample size
	assert.Equal(t, ActionDlq, second.Kind)

	third := e.Decide(1) // failed=3, total=4, rate 0.75 > 0.5
	assert.Equal(t, ActionStop, third.Kind)
}

func TestEngineDefaultPerItemActionIsDlq(t *testing.T) {
	policy := DefaultPolicy()
	policy.CircuitFailureThreshold = 100
	e := NewEngine(policy)
	action := e.Decide(1)
	assert.Equal(t, ActionDlq, action.Kind)
}

func TestEngineRetryActionUntilMaxAttempts(t *testing.T) {
	policy := DefaultPolicy()
	policy.OnItemFailure = ActionRetry
	policy.Retry.MaxAttempts = 2
	policy.CircuitFailureThreshold = 100
	e := NewEngine(policy)

	action := e.Decide(1)
	assert.Equal(t, ActionRetry, action.Kind)

	action = e.Decide(2)
	assert.Equal(t, ActionDlq, action.Kind)
}

package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndEndJobSpanSucceeds(t *testing.T) {
	tel, err := New()
	require.NoError(t, err)

	ctx := tel.StartJobSpan(context.Background(), "job-1")
	assert.NotNil(t, ctx)

	// EndJobSpan must not panic on an unknown job id either.
	tel.EndJobSpan(ctx, "job-1", "completed", 10*time.Millisecond, nil)
	tel.EndJobSpan(ctx, "unknown-job", "completed", 10*time.Millisecond, nil)
}

func TestEndJobSpanRecordsFailure(t *testing.T) {
	tel, err := New()
	require.NoError(t, err)

	ctx := tel.StartJobSpan(context.Background(), "job-2")
	tel.EndJobSpan(ctx, "job-2", "failed", time.Millisecond, errors.New("boom"))
}

func TestAgentSpanLifecycle(t *testing.T) {
	tel, err := New()
	require.NoError(t, err)

	ctx, span := tel.StartAgentSpan(context.Background(), "job-1", "agent-1", "item-1")
	assert.NotNil(t, ctx)
	require.NotNil(t, span)
	tel.EndAgentSpan(span, "success", time.Millisecond, nil)
}

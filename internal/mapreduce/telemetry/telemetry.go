// Package telemetry wires OpenTelemetry spans and metrics around job
// and agent execution.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "prodigy.mapreduce"
	meterName  = "prodigy.mapreduce"
)

// Telemetry tracks job and agent spans and the counters and
// histograms that observe them.
type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	jobCounter     metric.Int64Counter
	jobDuration    metric.Float64Histogram
	agentCounter   metric.Int64Counter
	agentDuration  metric.Float64Histogram
	activeJobs     metric.Int64UpDownCounter
	failureCounter metric.Int64Counter

	mu       sync.RWMutex
	jobSpans map[string]trace.Span
}

func New() (*Telemetry, error) {
	t := &Telemetry{
		tracer:   otel.Tracer(tracerName),
		meter:    otel.Meter(meterName),
		jobSpans: make(map[string]trace.Span),
	}

	var err error

	t.jobCounter, err = t.meter.Int64Counter(
		"prodigy_mapreduce_jobs_total",
		metric.WithDescription("Total number of mapreduce jobs started"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create job counter: %w", err)
	}

	t.jobDuration, err = t.meter.Float64Histogram(
		"prodigy_mapreduce_job_duration_seconds",
		metric.WithDescription("Duration of mapreduce jobs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create job duration histogram: %w", err)
	}

	t.agentCounter, err = t.meter.Int64Counter(
		"prodigy_mapreduce_agents_total",
		metric.WithDescription("Total number of agent executions dispatched"),
		metric.WithUnit("{agent}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create agent counter: %w", err)
	}

	t.agentDuration, err = t.meter.Float64Histogram(
		"prodigy_mapreduce_agent_duration_seconds",
		metric.WithDescription("Duration of agent execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create agent duration histogram: %w", err)
	}

	t.activeJobs, err = t.meter.Int64UpDownCounter(
		"prodigy_mapreduce_jobs_active",
		metric.WithDescription("Number of currently active mapreduce jobs"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active jobs counter: %w", err)
	}

	t.failureCounter, err = t.meter.Int64Counter(
		"prodigy_mapreduce_failures_total",
		metric.WithDescription("Total number of job and agent failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}

	return t, nil
}

// StartJobSpan opens a span for a job's full execution and registers
// job-started metrics.
func (t *Telemetry) StartJobSpan(ctx context.Context, jobID string) context.Context {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("mapreduce.job.%s", jobID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("mapreduce.job_id", jobID)),
	)

	t.mu.Lock()
	t.jobSpans[jobID] = span
	t.mu.Unlock()

	t.jobCounter.Add(ctx, 1)
	t.activeJobs.Add(ctx, 1)
	return ctx
}

// EndJobSpan closes the job span and records its outcome.
func (t *Telemetry) EndJobSpan(ctx context.Context, jobID string, phase string, duration time.Duration, err error) {
	t.mu.Lock()
	span, ok := t.jobSpans[jobID]
	if ok {
		delete(t.jobSpans, jobID)
	}
	t.mu.Unlock()

	if !ok || span == nil {
		return
	}

	span.SetAttributes(
		attribute.String("mapreduce.phase", phase),
		attribute.Float64("mapreduce.duration_seconds", duration.Seconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.failureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("failure.type", "job")))
	} else {
		span.SetStatus(codes.Ok, "job completed")
	}
	span.End()

	t.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("mapreduce.phase", phase)))
	t.activeJobs.Add(ctx, -1)
}

// StartAgentSpan opens a span for one agent execution.
func (t *Telemetry) StartAgentSpan(ctx context.Context, jobID, agentID, itemID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("mapreduce.agent.%s", agentID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("mapreduce.job_id", jobID),
			attribute.String("mapreduce.agent_id", agentID),
			attribute.String("mapreduce.item_id", itemID),
		),
	)
	t.agentCounter.Add(ctx, 1)
	return ctx, span
}

// EndAgentSpan closes an agent span and records its outcome.
func (t *Telemetry) EndAgentSpan(span trace.Span, status string, duration time.Duration, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("mapreduce.agent_status", status),
		attribute.Float64("mapreduce.agent_duration_seconds", duration.Seconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "agent completed")
	}
	span.End()

	ctx := context.Background()
	t.agentDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("mapreduce.agent_status", status)))
	if err != nil {
		t.failureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("failure.type", "agent")))
	}
}

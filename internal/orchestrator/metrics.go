package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/taskd/internal/orchestrator"

// Pipeline metrics.
var (
	tasksCreatedCounter   metric.Int64Counter
	tasksCompletedCounter metric.Int64Counter
	taskDuration          metric.Float64Histogram
	stageCompletedCounter metric.Int64Counter
	stageErrorCounter     metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for the pipeline.
// Called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	tasksCreatedCounter, err = meter.Int64Counter(
		"taskd.pipeline.tasks.created",
		metric.WithDescription("Total number of tasks created"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create tasks created counter: %v", err))
	}

	tasksCompletedCounter, err = meter.Int64Counter(
		"taskd.pipeline.tasks.finished",
		metric.WithDescription("Total number of tasks reaching a terminal state"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create tasks finished counter: %v", err))
	}

	taskDuration, err = meter.Float64Histogram(
		"taskd.pipeline.duration",
		metric.WithDescription("End-to-end task duration by type and terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create task duration histogram: %v", err))
	}

	stageCompletedCounter, err = meter.Int64Counter(
		"taskd.pipeline.stage.completions",
		metric.WithDescription("Number of completed stage executions"),
		metric.WithUnit("{stage}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create stage completions counter: %v", err))
	}

	stageErrorCounter, err = meter.Int64Counter(
		"taskd.pipeline.stage.errors",
		metric.WithDescription("Number of stage execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create stage errors counter: %v", err))
	}
}

func init() {
	initMetrics()
}

func recordTaskCreated(ctx context.Context, taskType string) {
	tasksCreatedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_type", taskType),
	))
}

func recordTaskFinished(ctx context.Context, taskType, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("task_type", taskType),
		attribute.String("status", status),
	)
	tasksCompletedCounter.Add(ctx, 1, attrs)
	taskDuration.Record(ctx, durationSeconds, attrs)
}

func recordStageCompleted(ctx context.Context, stage string) {
	stageCompletedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
	))
}

func recordStageError(ctx context.Context, stage string) {
	stageErrorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
	))
}

package llm

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/llm"

// Metrics records completion latency and failures.
type Metrics struct {
	meter    metric.Meter
	logger   *logging.Logger
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewMetrics creates Metrics on the global meter provider.
func NewMetrics(logger *logging.Logger) *Metrics {
	m := &Metrics{meter: otel.Meter(instrumentationName), logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error
	ctx := context.Background()

	m.duration, err = m.meter.Float64Histogram(
		"ragd.llm.completion_duration_seconds",
		metric.WithDescription("Duration of model completions in seconds, labeled by model and operation (complete, chat)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create completion duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"ragd.llm.errors_total",
		metric.WithDescription("Total failed model completions by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create completion errors counter", zap.Error(err))
	}
}

func (m *Metrics) record(ctx context.Context, model, operation string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// Instrument wraps m so every call is recorded on metrics.
func Instrument(m Model, metrics *Metrics) Model {
	if metrics == nil {
		return m
	}
	return &instrumented{Model: m, metrics: metrics}
}

type instrumented struct {
	Model
	metrics *Metrics
}

func (i *instrumented) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := i.Model.Complete(ctx, prompt)
	i.metrics.record(ctx, i.Name(), "complete", time.Since(start), err)
	return out, err
}

func (i *instrumented) Chat(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	out, err := i.Model.Chat(ctx, messages)
	i.metrics.record(ctx, i.Name(), "chat", time.Since(start), err)
	return out, err
}

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), config.ObservabilityConfig{}, "test")
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.IsEnabled())

	health := tel.Health()
	assert.True(t, health.Healthy)
	assert.False(t, health.Degraded)
	assert.Empty(t, health.Reasons)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := enabledConfig()
	cfg.ServiceName = ""

	tel, err := New(context.Background(), cfg, "test")
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledBuildsProviders(t *testing.T) {
	// Exporters connect lazily, so no collector is needed.
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	for _, protocol := range []string{"grpc", "http/protobuf"} {
		t.Run(protocol, func(t *testing.T) {
			cfg := enabledConfig()
			cfg.Protocol = protocol

			tel, err := New(context.Background(), cfg, "1.2.3")
			require.NoError(t, err)
			assert.True(t, tel.IsEnabled())
			assert.NotNil(t, tel.tracerProvider)
			assert.NotNil(t, tel.meterProvider)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_ = tel.Shutdown(ctx)
			assert.False(t, tel.IsEnabled())
		})
	}
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.LoggerProvider()
		tel.SetLoggerProvider(nil)
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})

	health := tel.Health()
	assert.False(t, health.Healthy)
	assert.True(t, health.Degraded)
}

func TestTelemetry_DegradedReasons(t *testing.T) {
	tel := &Telemetry{}
	tel.healthy.Store(true)
	tel.setDegraded("tracer provider: %v", "boom")

	health := tel.Health()
	assert.True(t, health.Degraded)
	assert.Equal(t, []string{"tracer provider: boom"}, health.Reasons)
}

func TestTestTelemetry_RecordsSpans(t *testing.T) {
	tt := NewTestTelemetry()

	_, span := tt.Tracer("ragd.test").Start(context.Background(), "chat.Chat")
	span.SetAttributes(attribute.String("chat.path", "retrieval"), attribute.Int64("session.id", 7))
	span.End()

	tt.AssertSpanExists(t, "chat.Chat")
	tt.AssertSpanAttribute(t, "chat.Chat", "chat.path", "retrieval")
	tt.AssertSpanAttribute(t, "chat.Chat", "session.id", int64(7))
	assert.Nil(t, tt.SpanByName("missing"))
}

func TestTestTelemetry_InstallSetsGlobals(t *testing.T) {
	tt := NewTestTelemetry()
	tt.Install(t)

	_, span := otel.Tracer("global").Start(context.Background(), "querier.Query")
	span.End()
	tt.AssertSpanExists(t, "querier.Query")

	counter, err := otel.Meter("global").Int64Counter("ragd.test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	rm, err := tt.Collect(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, rm.ScopeMetrics)
	assert.Equal(t, "ragd.test.count", rm.ScopeMetrics[0].Metrics[0].Name)
}

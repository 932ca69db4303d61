// Package telemetry wires OpenTelemetry export and chat run recording.
//
// # Providers
//
// New builds OTLP trace and metric providers over gRPC (default) or
// http/protobuf and installs them as the otel globals:
//
//	tel, err := telemetry.New(ctx, cfg.Observability, version)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// A provider that fails to build is skipped and Health reports the reason.
// Insecure export is only allowed to loopback collectors.
//
// # Runs
//
// RunRecorder implements chat.RunRecorder. Each turn becomes a JSON file
// under the runs directory, written from a small worker pool. A full pool
// drops the record and counts it in ragd_runs_recorded_total.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	tt.Install(t)
//	// exercise code that starts spans via otel.Tracer
//	tt.AssertSpanExists(t, "querier.Query")
package telemetry

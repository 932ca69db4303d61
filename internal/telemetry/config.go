package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

const (
	protocolGRPC = "grpc"
	protocolHTTP = "http/protobuf"

	exportInterval  = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

// validate checks the observability settings that matter once export is on.
func validate(cfg config.ObservabilityConfig) error {
	if !cfg.EnableTelemetry {
		return nil
	}
	if cfg.Endpoint == "" {
		return errors.New("endpoint is required when telemetry is enabled")
	}
	if cfg.ServiceName == "" {
		return errors.New("service_name is required when telemetry is enabled")
	}
	switch cfg.Protocol {
	case "", protocolGRPC, protocolHTTP:
	default:
		return fmt.Errorf("unknown protocol %q (want %s or %s)", cfg.Protocol, protocolGRPC, protocolHTTP)
	}
	if cfg.Insecure && !isLocalEndpoint(cfg.Endpoint) {
		return fmt.Errorf("insecure export to remote endpoint %q is not allowed; disable insecure or use a local collector", cfg.Endpoint)
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", cfg.SampleRate)
	}
	return nil
}

// isLocalEndpoint reports whether endpoint names a loopback host. Schemes and
// ports are ignored.
func isLocalEndpoint(endpoint string) bool {
	host := stripScheme(endpoint)
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}

	switch {
	case strings.HasPrefix(host, "["):
		if end := strings.IndexByte(host, ']'); end > 0 {
			host = host[1:end]
		}
	case strings.Count(host, ":") == 1:
		host = host[:strings.IndexByte(host, ':')]
	}

	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}

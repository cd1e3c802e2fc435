package instrumentation

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the OpenTelemetry settings.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// ServiceInstanceID defaults to the hostname (the pod name in Kubernetes).
	ServiceInstanceID string

	K8sNamespace string
	K8sPodName   string

	// Enabled turns metrics and tracing on (INSTRUMENTATION_ENABLED, default: true).
	Enabled bool

	// MetricsExporter is one of prometheus, otlp or stdout (default: prometheus).
	MetricsExporter string

	// TracingExporter is one of otlp, stdout or none (default: none).
	TracingExporter string

	// OTLPEndpoint is the collector address without scheme, e.g. "localhost:4318".
	OTLPEndpoint string

	// OTLPInsecure disables TLS towards the collector. Development only.
	OTLPInsecure bool

	// TraceSamplingRate is the ratio of sampled root traces (default: 0.1).
	TraceSamplingRate float64

	// DetailedLabels adds the user domain to OAuth metrics.
	// Keep disabled in production to bound label cardinality.
	DetailedLabels bool

	// Registerer receives the Prometheus collector. Defaults to the
	// process-wide registry served by the metrics server.
	Registerer prometheus.Registerer

	AuditLogging AuditLoggingConfig
}

// AuditLoggingConfig controls the audit trail of authorization events.
type AuditLoggingConfig struct {
	// Enabled turns audit events on (default: true).
	Enabled bool

	// IncludePII logs full email addresses instead of hashed identifiers.
	// Route such logs to access-controlled storage.
	IncludePII bool
}

// DefaultConfig returns the instrumentation defaults: metrics exported
// through Prometheus, tracing off, audit logging on with hashed emails.
// Environment overrides are applied by the config package.
func DefaultConfig() Config {
	return Config{
		ServiceName:       "inboxrelay",
		ServiceVersion:    "unknown",
		Enabled:           true,
		MetricsExporter:   ExporterPrometheus,
		TracingExporter:   ExporterNone,
		TraceSamplingRate: 0.1,
		AuditLogging: AuditLoggingConfig{
			Enabled: true,
		},
	}
}

// Validate checks exporter names, the sampling rate and OTLP requirements.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}

	switch c.MetricsExporter {
	case "", ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter)
	}

	switch c.TracingExporter {
	case "", ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}

	if c.OTLPEndpoint == "" && (c.TracingExporter == ExporterOTLP || c.MetricsExporter == ExporterOTLP) {
		return fmt.Errorf("OTLP endpoint is required when using an OTLP exporter")
	}
	return nil
}

// Constants for metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	OAuthResultSuccess = "success"
	OAuthResultFailure = "failure"
	OAuthResultExpired = "expired"

	ServiceGmail = "gmail"

	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

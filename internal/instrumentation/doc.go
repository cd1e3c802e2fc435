// Package instrumentation provides OpenTelemetry metrics, tracing and the
// audit trail for inboxrelay.
//
// # Metrics
//
//   - http_requests_total, http_request_duration_seconds: by method, route and status
//   - google_api_operations_total, google_api_operation_duration_seconds: by service, operation and status
//   - oauth_auth_total: authorization callbacks by result
//   - oauth_token_refresh_total: refresh attempts by result
//   - inbox_messages_returned: summaries per inbox read
//
// Metrics are exported to Prometheus (served by the metrics server), OTLP or
// stdout. Tracing is off unless TRACING_EXPORTER is otlp or stdout.
//
// # Configuration
//
// DefaultConfig holds the defaults; config.Load applies these variables:
//
//   - INSTRUMENTATION_ENABLED (default: true)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE
//   - OTEL_TRACES_SAMPLER_ARG (default: 0.1)
//   - OTEL_SERVICE_NAME (default: inboxrelay)
//   - AUDIT_LOGGING_ENABLED, AUDIT_LOGGING_INCLUDE_PII
//
// # Example
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordInboxMessages(ctx, len(summaries))
package instrumentation

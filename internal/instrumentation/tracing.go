package instrumentation

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every span created here.
const TracerName = "github.com/teemow/inboxrelay"

// Span attribute keys.
const (
	SpanAttrService    = "google.service"
	SpanAttrOperation  = "google.operation"
	SpanAttrUserHash   = "relay.user_hash"
	SpanAttrMaxResults = "relay.max_results"
	SpanAttrMessages   = "relay.messages"
	SpanAttrRefreshed  = "relay.refreshed"
	SpanAttrHTTPMethod = "http.request.method"
	SpanAttrHTTPRoute  = "http.route"
	SpanAttrHTTPStatus = "http.response.status_code"
)

// StartSpan starts an internal span. The caller must End it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartGoogleAPISpan starts a client span named google.<service>.<operation>.
func StartGoogleAPISpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{
		attribute.String(SpanAttrService, service),
		attribute.String(SpanAttrOperation, operation),
	}, attrs...)

	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "google."+service+"."+operation,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartServerSpan starts the span of an inbound HTTP request. The route is
// not known yet; EndServerSpan names the span once it is.
func StartServerSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, method,
		trace.WithAttributes(attribute.String(SpanAttrHTTPMethod, method)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// EndServerSpan names span after the matched route pattern (which carries
// the method, e.g. "GET /auth") and records the status. 5xx responses mark
// the span failed.
func EndServerSpan(span trace.Span, route string, status int) {
	span.SetName(route)
	span.SetAttributes(
		attribute.String(SpanAttrHTTPRoute, route),
		attribute.Int(SpanAttrHTTPStatus, status),
	)
	if status >= 500 {
		span.SetStatus(codes.Error, "")
	}
}

// SetSpanError records err on the span and marks it failed. A nil err is ignored.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks the span OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID of the span in ctx, or "".
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID of the span in ctx, or "".
func GetSpanID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		return sc.SpanID().String()
	}
	return ""
}

// TraceAttrs returns trace_id and span_id log attributes for the span in
// ctx, or nothing when ctx carries no valid span.
func TraceAttrs(ctx context.Context) []slog.Attr {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		return nil
	}
	return []slog.Attr{
		slog.String("trace_id", traceID),
		slog.String("span_id", GetSpanID(ctx)),
	}
}

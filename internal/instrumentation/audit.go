package instrumentation

import (
	"context"
	"log/slog"

	"github.com/teemow/inboxrelay/internal/logging"
)

// Audit actions.
const (
	AuditAuthorized   = "oauth_authorized"
	AuditAuthFailed   = "oauth_failed"
	AuditTokenRefresh = "token_refreshed"
	AuditRefreshFail  = "token_refresh_failed"
	AuditAccessDenied = "access_denied"
)

// AuditEvent is one security relevant event.
type AuditEvent struct {
	Action    string
	UserEmail string
	Success   bool
	Reason    string
	ClientIP  string
}

// AuditLogger writes the audit trail of authorization events.
// Email addresses are hashed unless IncludePII is configured.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLoggerWithConfig creates an audit logger from configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With(slog.String("component", "audit")),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// Log writes ev. Safe on a nil AuditLogger.
func (al *AuditLogger) Log(ctx context.Context, ev AuditEvent) {
	if al == nil || !al.enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("action", ev.Action),
		slog.Bool("success", ev.Success),
	}
	if ev.UserEmail != "" {
		if al.includePII {
			attrs = append(attrs, slog.String("user", ev.UserEmail))
		} else {
			attrs = append(attrs, logging.UserHash(ev.UserEmail), logging.Domain(ev.UserEmail))
		}
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	if ev.ClientIP != "" {
		attrs = append(attrs, slog.String("client_ip", ev.ClientIP))
	}
	attrs = append(attrs, TraceAttrs(ctx)...)

	level := slog.LevelInfo
	if !ev.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

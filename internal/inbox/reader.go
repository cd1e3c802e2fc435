package inbox

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxrelay/internal/credstore"
	"github.com/teemow/inboxrelay/internal/gmail"
	"github.com/teemow/inboxrelay/internal/google"
	"github.com/teemow/inboxrelay/internal/instrumentation"
	"github.com/teemow/inboxrelay/internal/logging"
	"github.com/teemow/inboxrelay/internal/relayerr"
)

// Bounds for the number of messages returned by one read.
const (
	DefaultMax = 10
	MaxLimit   = 50
)

// ClampMax maps a requested count to the range [1, MaxLimit].
// Non-positive values select DefaultMax.
func ClampMax(n int) int {
	switch {
	case n <= 0:
		return DefaultMax
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}

// MailClient lists messages and fetches their metadata.
type MailClient interface {
	ListMessageIDs(ctx context.Context, accessToken string, maxResults int64) gmail.ListResult
	GetMetadata(ctx context.Context, accessToken, id string) (gmail.Metadata, error)
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Reader serves inbox reads.
type Reader struct {
	store     credstore.Store
	mail      MailClient
	refresher Refresher
	metrics   *instrumentation.Metrics
	audit     *instrumentation.AuditLogger
	logger    *slog.Logger
	now       func() time.Time
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMetrics sets the metrics recorder.
func WithMetrics(m *instrumentation.Metrics) ReaderOption {
	return func(r *Reader) { r.metrics = m }
}

// WithAuditLogger sets the audit logger for refresh events.
func WithAuditLogger(a *instrumentation.AuditLogger) ReaderOption {
	return func(r *Reader) { r.audit = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ReaderOption {
	return func(r *Reader) { r.logger = l }
}

// WithClock overrides the time source used for savedAt.
func WithClock(now func() time.Time) ReaderOption {
	return func(r *Reader) { r.now = now }
}

// NewReader creates a Reader.
func NewReader(store credstore.Store, mail MailClient, refresher Refresher, opts ...ReaderOption) *Reader {
	r := &Reader{
		store:     store,
		mail:      mail,
		refresher: refresher,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListRecent returns up to ClampMax(maxResults) summaries of the newest messages
// for email. The result is never nil on success.
//
// Errors carry the relayerr kinds NotAuthenticated, Fetch or Storage.
func (r *Reader) ListRecent(ctx context.Context, email string, maxResults int) ([]Summary, error) {
	const op = "inbox.list"
	email = credstore.NormalizeEmail(email)
	limit := ClampMax(maxResults)

	ctx, span := instrumentation.StartSpan(ctx, op,
		attribute.String(instrumentation.SpanAttrUserHash, logging.AnonymizeEmail(email)),
		attribute.Int(instrumentation.SpanAttrMaxResults, limit))
	defer span.End()

	logger := logging.WithOperation(r.logger, op).With(logging.UserHash(email))

	summaries, refreshed, err := r.listRecent(ctx, logger, email, limit)
	span.SetAttributes(attribute.Bool(instrumentation.SpanAttrRefreshed, refreshed))
	if err != nil {
		instrumentation.SetSpanError(span, err)
		logger.Info("inbox read failed", logging.Status(logging.StatusError), logging.Err(err))
		return nil, err
	}

	span.SetAttributes(attribute.Int(instrumentation.SpanAttrMessages, len(summaries)))
	instrumentation.SetSpanSuccess(span)
	r.metrics.RecordInboxMessages(ctx, len(summaries))
	logger.Debug("inbox read", logging.Status(logging.StatusSuccess), slog.Int("messages", len(summaries)))
	return summaries, nil
}

func (r *Reader) listRecent(ctx context.Context, logger *slog.Logger, email string, limit int) ([]Summary, bool, error) {
	const op = "inbox.list"

	rec, ok, err := r.store.Get(ctx, email)
	if err != nil {
		return nil, false, relayerr.New(relayerr.KindStorage, op, err)
	}
	if !ok || !rec.Usable() {
		return nil, false, relayerr.Newf(relayerr.KindNotAuthenticated, op, "no credentials stored")
	}

	accessToken := rec.AccessToken
	res := r.mail.ListMessageIDs(ctx, accessToken, int64(limit))
	refreshed := false

	if res.Status == gmail.ListUnauthorized {
		accessToken, err = r.refresh(ctx, logger, email, rec)
		if err != nil {
			return nil, false, err
		}
		refreshed = true

		res = r.mail.ListMessageIDs(ctx, accessToken, int64(limit))
		if res.Status == gmail.ListUnauthorized {
			return nil, refreshed, relayerr.New(relayerr.KindNotAuthenticated, op, res.Err)
		}
	}

	if res.Status != gmail.ListOK {
		return nil, refreshed, relayerr.New(relayerr.KindFetch, op, res.Err)
	}

	summaries := make([]Summary, 0, len(res.IDs))
	for _, id := range res.IDs {
		md, err := r.mail.GetMetadata(ctx, accessToken, id)
		if err != nil {
			logger.Debug("skipping message", slog.String("message_id", id), logging.Err(err))
			continue
		}
		summaries = append(summaries, Summarize(md))
	}
	return summaries, refreshed, nil
}

// refresh replaces the access token of rec and persists the result.
// Any failure leaves the store untouched and reports NotAuthenticated.
func (r *Reader) refresh(ctx context.Context, logger *slog.Logger, email string, rec credstore.Record) (string, error) {
	const op = "inbox.refresh"

	if rec.RefreshToken == "" {
		r.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultExpired)
		return "", relayerr.Newf(relayerr.KindNotAuthenticated, op, "access token rejected and no refresh token stored")
	}

	tok, err := r.refresher.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		r.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		r.audit.Log(ctx, instrumentation.AuditEvent{
			Action:    instrumentation.AuditRefreshFail,
			UserEmail: email,
			Reason:    err.Error(),
		})
		return "", relayerr.New(relayerr.KindNotAuthenticated, op, err)
	}

	next := google.RecordFromToken(tok, r.now())
	if next.RefreshToken == "" {
		next.RefreshToken = rec.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = rec.Scope
	}

	// A failed write is logged; the new token still serves this request.
	if err := r.store.Put(ctx, email, next); err != nil {
		logger.Warn("failed to persist refreshed credentials", logging.Err(err))
	}

	r.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
	r.audit.Log(ctx, instrumentation.AuditEvent{
		Action:    instrumentation.AuditTokenRefresh,
		UserEmail: email,
		Success:   true,
	})
	logger.Info("access token refreshed", slog.String("access_token", logging.SanitizeToken(next.AccessToken)))
	return next.AccessToken, nil
}

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/inboxrelay/internal/credstore"
	"github.com/teemow/inboxrelay/internal/google"
	"github.com/teemow/inboxrelay/internal/inbox"
	"github.com/teemow/inboxrelay/internal/instrumentation"
)

// HTTP server timeouts.
const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
)

// OAuthFlow starts and completes the authorization code flow.
type OAuthFlow interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// ProfileResolver maps an access token to the email address that owns it.
type ProfileResolver interface {
	ResolveEmail(ctx context.Context, accessToken string) (string, error)
}

// InboxReader lists summaries of recent messages.
type InboxReader interface {
	ListRecent(ctx context.Context, email string, maxResults int) ([]inbox.Summary, error)
}

// Config wires the server to its collaborators.
type Config struct {
	OAuth    OAuthFlow
	Profiles ProfileResolver
	Store    credstore.Store
	Inbox    InboxReader

	// AccessKey gates the message routes when non-empty.
	AccessKey string

	// StateSigner enables signed state on the consent flow when set.
	StateSigner *google.StateSigner

	// RateLimitRPS enables per-client rate limiting when positive.
	RateLimitRPS   float64
	RateLimitBurst int
	TrustProxy     bool

	// CORSOrigins defaults to allowing every origin.
	CORSOrigins []string

	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Health  *HealthChecker
	Logger  *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Server is the relay's HTTP front end.
type Server struct {
	oauth    OAuthFlow
	profiles ProfileResolver
	store    credstore.Store
	inbox    InboxReader

	accessKey  string
	signer     *google.StateSigner
	limiter    *ipRateLimiter
	trustProxy bool

	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	health  *HealthChecker
	logger  *slog.Logger
	now     func() time.Time

	handler    http.Handler
	httpServer *http.Server
}

// New validates cfg and builds the route table.
func New(cfg Config) (*Server, error) {
	if cfg.OAuth == nil {
		return nil, errors.New("oauth flow is required")
	}
	if cfg.Profiles == nil {
		return nil, errors.New("profile resolver is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("credential store is required")
	}
	if cfg.Inbox == nil {
		return nil, errors.New("inbox reader is required")
	}

	s := &Server{
		oauth:      cfg.OAuth,
		profiles:   cfg.Profiles,
		store:      cfg.Store,
		inbox:      cfg.Inbox,
		accessKey:  cfg.AccessKey,
		signer:     cfg.StateSigner,
		trustProxy: cfg.TrustProxy,
		metrics:    cfg.Metrics,
		audit:      cfg.Audit,
		health:     cfg.Health,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.health == nil {
		s.health = NewHealthChecker()
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = newIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	s.handler = s.routes(cfg.CORSOrigins)
	return s, nil
}

func (s *Server) routes(corsOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)

	mux.Handle("GET /auth", s.rateLimit(http.HandlerFunc(s.handleAuthRedirect)))
	mux.Handle("GET /auth/url", s.rateLimit(http.HandlerFunc(s.handleAuthURL)))
	mux.Handle("GET /auth/callback", s.rateLimit(http.HandlerFunc(s.handleCallback)))

	checkAuth := s.rateLimit(http.HandlerFunc(s.handleCheckAuth))
	messages := s.rateLimit(s.requireAccessKey(http.HandlerFunc(s.handleMessages)))
	for _, path := range []string{"/api/check-auth", "/check"} {
		mux.Handle("GET "+path, checkAuth)
		mux.Handle("POST "+path, checkAuth)
	}
	for _, path := range []string{"/api/messages", "/inbox"} {
		mux.Handle("GET "+path, messages)
	}

	s.health.RegisterHealthEndpoints(mux)

	return newCORS(corsOrigins).Handler(s.instrument(mux))
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves until Shutdown. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	s.logger.Info("starting relay server", slog.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetShuttingDown()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down relay server")
	return s.httpServer.Shutdown(ctx)
}

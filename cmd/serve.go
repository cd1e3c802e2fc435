package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxrelay/internal/config"
	"github.com/teemow/inboxrelay/internal/credstore"
	"github.com/teemow/inboxrelay/internal/gmail"
	"github.com/teemow/inboxrelay/internal/google"
	"github.com/teemow/inboxrelay/internal/inbox"
	"github.com/teemow/inboxrelay/internal/instrumentation"
	"github.com/teemow/inboxrelay/internal/logging"
	"github.com/teemow/inboxrelay/internal/server"
)

// serveFlags holds the command-line overrides for config.Config.
// A flag only takes effect when it was set explicitly.
type serveFlags struct {
	debug          bool
	port           int
	logLevel       string
	logFormat      string
	storeType      string
	storePath      string
	valkeyURL      string
	valkeyDB       int
	valkeyTLS      bool
	valkeyPrefix   string
	requestTimeout time.Duration
	rateLimitRPS   float64
	rateLimitBurst int
	trustProxy     bool
	corsOrigins    []string
	metricsEnabled bool
	metricsAddr    string
}

func (f *serveFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging (same as --log-level=debug)")
	fs.IntVar(&f.port, "port", config.DefaultPort, "HTTP listen port. Can also use PORT env var.")
	fs.StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn or error. Can also use LOG_LEVEL env var.")
	fs.StringVar(&f.logFormat, "log-format", logging.FormatText, "Log format: text or json. Can also use LOG_FORMAT env var.")

	fs.StringVar(&f.storeType, "token-store-type", "", "Credential store: memory, file, sqlite or valkey. Can also use TOKEN_STORE_TYPE env var.")
	fs.StringVar(&f.storePath, "token-store", "", "Path of the file or sqlite credential store. Can also use TOKEN_STORE env var.")
	fs.StringVar(&f.valkeyURL, "valkey-url", "", "Valkey server address (e.g., valkey.namespace.svc:6379). Can also use VALKEY_URL env var.")
	fs.IntVar(&f.valkeyDB, "valkey-db", 0, "Valkey database number. Can also use VALKEY_DB env var.")
	fs.BoolVar(&f.valkeyTLS, "valkey-tls", false, "Enable TLS for Valkey connections. Can also use VALKEY_TLS_ENABLED env var.")
	fs.StringVar(&f.valkeyPrefix, "valkey-key-prefix", credstore.DefaultValkeyKeyPrefix, "Prefix for credential keys in Valkey. Can also use VALKEY_KEY_PREFIX env var.")

	fs.DurationVar(&f.requestTimeout, "request-timeout", config.DefaultRequestTimeout, "Timeout for each call to Google. Can also use REQUEST_TIMEOUT env var.")
	fs.Float64Var(&f.rateLimitRPS, "rate-limit-rps", 0, "Per-client request rate limit, 0 disables. Can also use RATE_LIMIT_RPS env var.")
	fs.IntVar(&f.rateLimitBurst, "rate-limit-burst", 0, "Per-client burst, defaults to twice the rate. Can also use RATE_LIMIT_BURST env var.")
	fs.BoolVar(&f.trustProxy, "trust-proxy", false, "Key the rate limit on X-Forwarded-For / X-Real-IP. Can also use TRUST_PROXY env var.")
	fs.StringSliceVar(&f.corsOrigins, "cors-allowed-origins", nil, "Allowed CORS origins (comma-separated). Can also use CORS_ALLOWED_ORIGINS env var.")

	fs.BoolVar(&f.metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	fs.StringVar(&f.metricsAddr, "metrics-addr", config.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")
}

// apply overrides cfg with every flag the user set.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("port") {
		cfg.Port = f.port
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if f.debug {
		cfg.LogLevel = "debug"
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("token-store-type") {
		cfg.Store.Type = f.storeType
	}
	if changed("token-store") {
		cfg.Store.Path = f.storePath
	}
	if changed("valkey-url") {
		cfg.Store.Valkey.URL = f.valkeyURL
	}
	if changed("valkey-db") {
		cfg.Store.Valkey.DB = f.valkeyDB
	}
	if changed("valkey-tls") {
		cfg.Store.Valkey.TLSEnabled = f.valkeyTLS
	}
	if changed("valkey-key-prefix") {
		cfg.Store.Valkey.KeyPrefix = f.valkeyPrefix
	}
	if changed("request-timeout") {
		cfg.RequestTimeout = f.requestTimeout
	}
	if changed("rate-limit-rps") {
		cfg.RateLimitRPS = f.rateLimitRPS
	}
	if changed("rate-limit-burst") {
		cfg.RateLimitBurst = f.rateLimitBurst
	}
	if changed("trust-proxy") {
		cfg.TrustProxy = f.trustProxy
	}
	if changed("cors-allowed-origins") {
		cfg.CORSOrigins = f.corsOrigins
	}
	if changed("metrics-enabled") {
		cfg.MetricsEnabled = f.metricsEnabled
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay HTTP server",
		Long: `Start the relay HTTP server.

Routes:
  GET  /auth, /auth/url         start Google authorization
  GET  /auth/callback           complete authorization and store credentials
  GET|POST /api/check-auth      {"authenticated": bool} for ?email= or {"email": ...}
  GET  /api/messages?email=&max= recent message summaries (alias /inbox)
  GET  /healthz, /readyz        health probes

Required settings:
  GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, OAUTH_REDIRECT_URI

Credential storage:
  --token-store-type memory|file|sqlite|valkey (TOKEN_STORE_TYPE)
  Set TOKEN_ENCRYPTION_KEY (see "inboxrelay generate-key") to encrypt tokens at rest.

Security:
  ACCESS_KEY requires the x-access-key header on the message routes.
  OAUTH_STATE_SECRET enables signed OAuth state values.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			flags.apply(cmd, &cfg)

			logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runServe(ctx, cfg, logger)
		},
	}

	flags.register(cmd)
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	instrConfig := cfg.Instrumentation
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	metrics := provider.Metrics()
	audit := instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)

	store, err := credstore.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("credential store close failed", logging.Err(err))
		}
	}()

	oauth, err := google.NewOAuth(google.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Timeout:      cfg.RequestTimeout,
	})
	if err != nil {
		return err
	}

	var signer *google.StateSigner
	if cfg.StateSecret != "" {
		signer, err = google.NewStateSigner(cfg.StateSecret, google.DefaultStateMaxAge)
		if err != nil {
			return err
		}
	}

	mail := gmail.NewClient(
		gmail.WithTimeout(cfg.RequestTimeout),
		gmail.WithRecorder(metrics),
		gmail.WithBreaker(gmail.DefaultMaxFailures, gmail.DefaultOpenTimeout),
	)

	reader := inbox.NewReader(store, mail, oauth,
		inbox.WithMetrics(metrics),
		inbox.WithAuditLogger(audit),
		inbox.WithLogger(logger),
	)

	srv, err := server.New(server.Config{
		OAuth:          oauth,
		Profiles:       mail,
		Store:          store,
		Inbox:          reader,
		AccessKey:      cfg.AccessKey,
		StateSigner:    signer,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.Burst(),
		TrustProxy:     cfg.TrustProxy,
		CORSOrigins:    cfg.CORSOrigins,
		Metrics:        metrics,
		Audit:          audit,
		Health:         server.NewHealthChecker(server.WithBreakerState(mail.BreakerState)),
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	metricsServer, err := startMetricsServer(cfg, instrConfig, provider, logger)
	if err != nil {
		return err
	}
	if metricsServer != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", logging.Err(err))
			}
		}()
	}

	logger.Info("inboxrelay starting",
		slog.String("version", version),
		slog.String("addr", cfg.Addr()),
		logging.Backend(cfg.Store.ResolvedType()),
		slog.Bool("access_key", cfg.AccessKey != ""),
		slog.Bool("signed_state", signer != nil),
		slog.Float64("rate_limit_rps", cfg.RateLimitRPS))

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := srv.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	logger.Info("HTTP server gracefully stopped")
	return nil
}

// startMetricsServer starts the Prometheus endpoint when metrics are enabled
// and exported through Prometheus. It returns nil when there is nothing to serve.
func startMetricsServer(cfg config.Config, instrConfig instrumentation.Config, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, error) {
	if !cfg.MetricsEnabled || !provider.Enabled() {
		return nil, nil
	}
	if instrConfig.MetricsExporter != "" && instrConfig.MetricsExporter != instrumentation.ExporterPrometheus {
		return nil, nil
	}

	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    cfg.MetricsAddr,
		InstrumentationProvider: provider,
		Logger:                  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	metricsErr := make(chan error, 1)
	go func() {
		if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErr <- err
		}
		close(metricsErr)
	}()

	// A bind failure surfaces immediately.
	select {
	case err := <-metricsErr:
		if err != nil {
			return nil, fmt.Errorf("metrics server failed to start: %w", err)
		}
	case <-time.After(200 * time.Millisecond):
	}
	return metricsServer, nil
}

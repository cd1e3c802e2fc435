package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxrelay/internal/credstore"
	"github.com/teemow/inboxrelay/internal/instrumentation"
)

var configEnvKeys = []string{
	"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "OAUTH_REDIRECT_URI", "REDIRECT_URI",
	"PORT", "ACCESS_KEY", "TOKEN_STORE_TYPE", "TOKEN_STORE", "TOKEN_ENCRYPTION_KEY",
	"VALKEY_URL", "VALKEY_PASSWORD", "VALKEY_DB", "VALKEY_TLS_ENABLED", "VALKEY_KEY_PREFIX",
	"OAUTH_STATE_SECRET", "REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "TRUST_PROXY",
	"CORS_ALLOWED_ORIGINS",
	"METRICS_ENABLED", "METRICS_ADDR", "LOG_LEVEL", "LOG_FORMAT",
	"OTEL_SERVICE_NAME", "INSTRUMENTATION_ENABLED", "METRICS_EXPORTER", "TRACING_EXPORTER",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_TRACES_SAMPLER_ARG", "AUDIT_LOGGING_ENABLED", "AUDIT_LOGGING_INCLUDE_PII",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, DefaultMetricsAddr, cfg.MetricsAddr)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, credstore.TypeMemory, cfg.Store.ResolvedType())
	assert.Equal(t, credstore.DefaultValkeyKeyPrefix, cfg.Store.Valkey.KeyPrefix)
	assert.Empty(t, cfg.AccessKey)
	assert.Zero(t, cfg.RateLimitRPS)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")
	t.Setenv("OAUTH_REDIRECT_URI", "http://localhost:4000/auth/callback")
	t.Setenv("PORT", "8080")
	t.Setenv("ACCESS_KEY", " key ")
	t.Setenv("TOKEN_STORE", "/tmp/tokens.json")
	t.Setenv("VALKEY_DB", "3")
	t.Setenv("VALKEY_TLS_ENABLED", "true")
	t.Setenv("REQUEST_TIMEOUT", "20")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, ,http://localhost:3000")

	cfg := Load()

	assert.Equal(t, "client-id", cfg.ClientID)
	assert.Equal(t, "client-secret", cfg.ClientSecret)
	assert.Equal(t, "http://localhost:4000/auth/callback", cfg.RedirectURL)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "key", cfg.AccessKey)
	assert.Equal(t, credstore.TypeFile, cfg.Store.ResolvedType())
	assert.Equal(t, 3, cfg.Store.Valkey.DB)
	assert.True(t, cfg.Store.Valkey.TLSEnabled)
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 5, cfg.Burst())
	assert.False(t, cfg.MetricsEnabled)
	assert.True(t, cfg.TrustProxy)
	assert.Equal(t, []string{"https://app.example.com", "http://localhost:3000"}, cfg.CORSOrigins)
}

func TestLoad_Instrumentation(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	assert.Equal(t, instrumentation.DefaultConfig().ServiceName, cfg.Instrumentation.ServiceName)
	assert.True(t, cfg.Instrumentation.Enabled)
	assert.Equal(t, instrumentation.ExporterPrometheus, cfg.Instrumentation.MetricsExporter)
	assert.Equal(t, instrumentation.ExporterNone, cfg.Instrumentation.TracingExporter)
	assert.Equal(t, 0.1, cfg.Instrumentation.TraceSamplingRate)
	assert.True(t, cfg.Instrumentation.AuditLogging.Enabled)

	t.Setenv("OTEL_SERVICE_NAME", "relay-eu")
	t.Setenv("INSTRUMENTATION_ENABLED", "false")
	t.Setenv("TRACING_EXPORTER", "stdout")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")
	t.Setenv("AUDIT_LOGGING_INCLUDE_PII", "true")

	cfg = Load()
	assert.Equal(t, "relay-eu", cfg.Instrumentation.ServiceName)
	assert.False(t, cfg.Instrumentation.Enabled)
	assert.Equal(t, instrumentation.ExporterStdout, cfg.Instrumentation.TracingExporter)
	assert.Equal(t, 0.5, cfg.Instrumentation.TraceSamplingRate)
	assert.True(t, cfg.Instrumentation.AuditLogging.IncludePII)
}

func TestLoad_RedirectAlias(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIRECT_URI", "https://relay.example.com/auth/callback")

	assert.Equal(t, "https://relay.example.com/auth/callback", Load().RedirectURL)

	t.Setenv("OAUTH_REDIRECT_URI", "https://primary.example.com/auth/callback")
	assert.Equal(t, "https://primary.example.com/auth/callback", Load().RedirectURL)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-port")
	t.Setenv("REQUEST_TIMEOUT", "soon")
	t.Setenv("METRICS_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoad_DurationFormat(t *testing.T) {
	clearEnv(t)
	t.Setenv("REQUEST_TIMEOUT", "1500ms")
	assert.Equal(t, 1500*time.Millisecond, Load().RequestTimeout)
}

func TestBurst(t *testing.T) {
	assert.Equal(t, 1, Config{RateLimitRPS: 0.2}.Burst())
	assert.Equal(t, 7, Config{RateLimitRPS: 1, RateLimitBurst: 7}.Burst())
	assert.Equal(t, 20, Config{RateLimitRPS: 10}.Burst())
}

func validConfig() Config {
	return Config{
		ClientID:       "id",
		ClientSecret:   "secret",
		RedirectURL:    "http://localhost:4000/auth/callback",
		Port:           DefaultPort,
		RequestTimeout: DefaultRequestTimeout,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing client id", func(c *Config) { c.ClientID = "" }, "GOOGLE_CLIENT_ID"},
		{"missing secret and redirect", func(c *Config) { c.ClientSecret = ""; c.RedirectURL = "" }, "GOOGLE_CLIENT_SECRET, OAUTH_REDIRECT_URI"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "invalid port"},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, "request timeout"},
		{"negative rate", func(c *Config) { c.RateLimitRPS = -1 }, "rate limit"},
		{"bad store", func(c *Config) { c.Store.Type = "etcd" }, "token store"},
		{"bad key", func(c *Config) { c.Store.EncryptionKey = "abc" }, "token store"},
		{"otlp without endpoint", func(c *Config) { c.Instrumentation.TracingExporter = instrumentation.ExporterOTLP }, "instrumentation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

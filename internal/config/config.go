// Package config loads inboxrelay settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/teemow/inboxrelay/internal/credstore"
	"github.com/teemow/inboxrelay/internal/instrumentation"
)

// Config holds the runtime settings of the relay server.
type Config struct {
	// OAuth client registration.
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Port is the HTTP listen port (default: 4000).
	Port int

	// AccessKey gates the message routes when set.
	AccessKey string

	// Store configures the credential backend.
	Store credstore.Config

	// StateSecret enables signed OAuth state values when set.
	StateSecret string

	// RequestTimeout bounds every call to Google (default: 15s).
	RequestTimeout time.Duration

	// RateLimitRPS enables per-client rate limiting when positive.
	RateLimitRPS float64
	// RateLimitBurst defaults to twice RateLimitRPS.
	RateLimitBurst int
	// TrustProxy keys rate limiting on X-Forwarded-For / X-Real-IP.
	TrustProxy bool

	// CORSOrigins lists the browser origins allowed to call the API (default: "*").
	CORSOrigins []string

	MetricsEnabled bool
	MetricsAddr    string

	LogLevel  string
	LogFormat string

	// Instrumentation configures metrics, tracing and audit logging.
	Instrumentation instrumentation.Config
}

// Default values.
const (
	DefaultPort           = 4000
	DefaultRequestTimeout = 15 * time.Second
	DefaultMetricsAddr    = ":9090"
)

// Load reads the configuration from environment variables.
func Load() Config {
	cfg := Config{
		ClientID:     getEnvOrDefault("GOOGLE_CLIENT_ID", ""),
		ClientSecret: getEnvOrDefault("GOOGLE_CLIENT_SECRET", ""),
		RedirectURL:  getEnvOrDefault("OAUTH_REDIRECT_URI", getEnvOrDefault("REDIRECT_URI", "")),
		Port:         getEnvIntOrDefault("PORT", DefaultPort),
		AccessKey:    getEnvOrDefault("ACCESS_KEY", ""),
		Store: credstore.Config{
			Type:          getEnvOrDefault("TOKEN_STORE_TYPE", ""),
			Path:          getEnvOrDefault("TOKEN_STORE", ""),
			EncryptionKey: getEnvOrDefault("TOKEN_ENCRYPTION_KEY", ""),
			Valkey: credstore.ValkeyConfig{
				URL:        getEnvOrDefault("VALKEY_URL", ""),
				Password:   getEnvOrDefault("VALKEY_PASSWORD", ""),
				DB:         getEnvIntOrDefault("VALKEY_DB", 0),
				TLSEnabled: getEnvBoolOrDefault("VALKEY_TLS_ENABLED", false),
				KeyPrefix:  getEnvOrDefault("VALKEY_KEY_PREFIX", credstore.DefaultValkeyKeyPrefix),
			},
		},
		StateSecret:    getEnvOrDefault("OAUTH_STATE_SECRET", ""),
		RequestTimeout: getEnvDurationOrDefault("REQUEST_TIMEOUT", DefaultRequestTimeout),
		RateLimitRPS:   getEnvFloatOrDefault("RATE_LIMIT_RPS", 0),
		RateLimitBurst: getEnvIntOrDefault("RATE_LIMIT_BURST", 0),
		TrustProxy:     getEnvBoolOrDefault("TRUST_PROXY", false),
		CORSOrigins:    getEnvListOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),
		MetricsEnabled: getEnvBoolOrDefault("METRICS_ENABLED", true),
		MetricsAddr:    getEnvOrDefault("METRICS_ADDR", DefaultMetricsAddr),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "text"),

		Instrumentation: loadInstrumentation(),
	}
	return cfg
}

// loadInstrumentation applies the telemetry environment variables to
// instrumentation.DefaultConfig.
func loadInstrumentation() instrumentation.Config {
	def := instrumentation.DefaultConfig()
	return instrumentation.Config{
		ServiceName:       getEnvOrDefault("OTEL_SERVICE_NAME", def.ServiceName),
		ServiceVersion:    def.ServiceVersion,
		ServiceInstanceID: getEnvOrDefault("OTEL_SERVICE_INSTANCE_ID", ""),
		K8sNamespace:      getEnvOrDefault("K8S_NAMESPACE", getEnvOrDefault("POD_NAMESPACE", "")),
		K8sPodName:        getEnvOrDefault("K8S_POD_NAME", getEnvOrDefault("HOSTNAME", "")),
		Enabled:           getEnvBoolOrDefault("INSTRUMENTATION_ENABLED", def.Enabled),
		MetricsExporter:   getEnvOrDefault("METRICS_EXPORTER", def.MetricsExporter),
		TracingExporter:   getEnvOrDefault("TRACING_EXPORTER", def.TracingExporter),
		OTLPEndpoint:      getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:      getEnvBoolOrDefault("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSamplingRate: getEnvFloatOrDefault("OTEL_TRACES_SAMPLER_ARG", def.TraceSamplingRate),
		DetailedLabels:    getEnvBoolOrDefault("METRICS_DETAILED_LABELS", false),
		AuditLogging: instrumentation.AuditLoggingConfig{
			Enabled:    getEnvBoolOrDefault("AUDIT_LOGGING_ENABLED", def.AuditLogging.Enabled),
			IncludePII: getEnvBoolOrDefault("AUDIT_LOGGING_INCLUDE_PII", def.AuditLogging.IncludePII),
		},
	}
}

// Burst returns the effective rate limit burst.
func (c Config) Burst() int {
	if c.RateLimitBurst > 0 {
		return c.RateLimitBurst
	}
	b := int(2 * c.RateLimitRPS)
	if b < 1 {
		b = 1
	}
	return b
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate reports missing or inconsistent settings.
func (c Config) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if c.RedirectURL == "" {
		missing = append(missing, "OAUTH_REDIRECT_URI")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit must not be negative, got %v", c.RateLimitRPS)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("token store: %w", err)
	}
	if err := c.Instrumentation.Validate(); err != nil {
		return fmt.Errorf("instrumentation: %w", err)
	}
	return nil
}

// getEnvOrDefault returns the trimmed value of an environment variable or a default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// getEnvDurationOrDefault accepts Go durations ("20s") or plain seconds ("20").
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvListOrDefault splits a comma separated environment variable, dropping empty items.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

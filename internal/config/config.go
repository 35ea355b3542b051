// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, broker connectivity, presence timing, authentication,
// rate limiting and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "presence-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// BrokerConfig selects and tunes the message broker. An empty URL runs the
// in-process broker, which only suits a single replica.
type BrokerConfig struct {
	URL             string        // BROKER_URL (nats://host:4222)
	Name            string        // BROKER_NAME, client connection name
	ConnectAttempts int           // BROKER_CONNECT_ATTEMPTS per round
	BackoffInitial  time.Duration // BROKER_BACKOFF_INITIAL
	BackoffMax      time.Duration // BROKER_BACKOFF_MAX
	RetryAfter      time.Duration // BROKER_RETRY_AFTER, pause between rounds
	OpTimeout       time.Duration // BROKER_OP_TIMEOUT
	CacheMaxAge     time.Duration // BROKER_CACHE_MAX_AGE
}

// RealtimeConfig holds presence and streaming timing.
type RealtimeConfig struct {
	PresenceTTL         time.Duration // PRESENCE_TTL
	HeartbeatInterval   time.Duration // HEARTBEAT_INTERVAL, keep-alive + presence refresh
	RecommendedCacheTTL time.Duration // RECOMMENDED_CACHE_TTL
	StreamBuffer        int           // STREAM_BUFFER, frames queued per connection
}

// AuthConfig holds identity settings.
type AuthConfig struct {
	JWTSecret       string // JWT_SECRET_KEY
	Cookie          string // AUTH_COOKIE
	AllowDemoHeader bool   // ALLOW_DEMO_HEADER, trust X-User-ID (development only)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	ShutdownTimeout   time.Duration // graceful drain
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath string // SQLite path

	Broker   BrokerConfig
	Realtime RealtimeConfig
	Auth     AuthConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 10*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv("DB_PATH", "app.db"),

		Broker: BrokerConfig{
			URL:             strings.TrimSpace(getenv("BROKER_URL", "")),
			Name:            getenv("BROKER_NAME", "presence-backend"),
			ConnectAttempts: getint("BROKER_CONNECT_ATTEMPTS", 5),
			BackoffInitial:  getdur("BROKER_BACKOFF_INITIAL", 200*time.Millisecond),
			BackoffMax:      getdur("BROKER_BACKOFF_MAX", 2*time.Second),
			RetryAfter:      getdur("BROKER_RETRY_AFTER", 30*time.Second),
			OpTimeout:       getdur("BROKER_OP_TIMEOUT", 2*time.Second),
			CacheMaxAge:     getdur("BROKER_CACHE_MAX_AGE", 10*time.Minute),
		},
		Realtime: RealtimeConfig{
			PresenceTTL:         getdur("PRESENCE_TTL", 300*time.Second),
			HeartbeatInterval:   getdur("HEARTBEAT_INTERVAL", 30*time.Second),
			RecommendedCacheTTL: getdur("RECOMMENDED_CACHE_TTL", 60*time.Second),
			StreamBuffer:        getint("STREAM_BUFFER", 32),
		},
		Auth: AuthConfig{
			JWTSecret:       getenv("JWT_SECRET_KEY", ""),
			Cookie:          getenv("AUTH_COOKIE", "jwt"),
			AllowDemoHeader: getbool("ALLOW_DEMO_HEADER", false),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "presence-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Broker.ConnectAttempts < 1 {
		return cfg, errors.New("BROKER_CONNECT_ATTEMPTS must be >= 1")
	}
	if cfg.Broker.BackoffInitial <= 0 || cfg.Broker.BackoffMax < cfg.Broker.BackoffInitial {
		return cfg, errors.New("BROKER_BACKOFF_INITIAL must be > 0 and <= BROKER_BACKOFF_MAX")
	}
	if cfg.Broker.RetryAfter <= 0 || cfg.Broker.OpTimeout <= 0 || cfg.Broker.CacheMaxAge <= 0 {
		return cfg, errors.New("broker durations must be positive")
	}
	if cfg.Realtime.PresenceTTL <= 0 {
		return cfg, errors.New("PRESENCE_TTL must be > 0")
	}
	if cfg.Realtime.HeartbeatInterval <= 0 || cfg.Realtime.HeartbeatInterval >= cfg.Realtime.PresenceTTL {
		return cfg, errors.New("HEARTBEAT_INTERVAL must be > 0 and shorter than PRESENCE_TTL")
	}
	if cfg.Realtime.RecommendedCacheTTL <= 0 {
		return cfg, errors.New("RECOMMENDED_CACHE_TTL must be > 0")
	}
	if cfg.Realtime.StreamBuffer < 1 {
		return cfg, errors.New("STREAM_BUFFER must be >= 1")
	}
	if cfg.Auth.JWTSecret == "" && !cfg.Auth.AllowDemoHeader {
		return cfg, errors.New("JWT_SECRET_KEY must be set unless ALLOW_DEMO_HEADER is enabled")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	// if cfg.APIBasePath == "" || cfg.APIBasePath[0] != '/' {
	// 	return cfg, errors.New("API_BASE_PATH must start with '/'")
	// }

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

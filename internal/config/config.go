// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database settings, connector endpoints and schedules, resolver
// thresholds, and observability.
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

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ConnectorConfig holds one upstream feed's endpoint and polling policy.
type ConnectorConfig struct {
	Enabled  bool
	BaseURL  string
	Schedule string  // cron expression
	RateRPS  float64 // outbound request budget against the upstream
	Burst    int
	SeedFrom string // initial window start when no cursor exists (RFC3339 date)
}

// IngestConfig bounds run behaviour shared by every connector.
type IngestConfig struct {
	MaxFetchAttempts int           // per-page fetch retries before the run fails
	BackoffInitial   time.Duration // first retry delay; doubles per attempt
	LockTTL          time.Duration // run-lock lease
	Workers          int           // per-page record parallelism
	MaxPages         int           // 0 = drain the feed
	FetchTimeout     time.Duration // per-request HTTP timeout
}

// ResolverConfig holds the identity-resolution similarity thresholds.
type ResolverConfig struct {
	BindThreshold      float64 // attach as alias at or above this score
	CandidateThreshold float64 // merge-candidate band floor
	TieMargin          float64 // top-two scores closer than this is a tie
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

	// Database
	DatabaseURL string // Postgres DSN; empty selects SQLitePath
	SQLitePath  string // local/dev fallback

	// Document store
	DocstoreRoot string // filesystem root for fetched attachments

	// Connectors
	FTS    ConnectorConfig
	CF     ConnectorConfig
	Awards ConnectorConfig

	// Pipeline
	Ingest   IngestConfig
	Resolver ResolverConfig

	// Web protection
	CORS CORSConfig

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
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Database
		DatabaseURL: getenv("DATABASE_URL", ""),
		SQLitePath:  getenv("SQLITE_PATH", "tenderd.db"),

		// Document store
		DocstoreRoot: getenv("DOCSTORE_ROOT", "data/docs"),

		// Connectors
		FTS: ConnectorConfig{
			Enabled:  getbool("FTS_ENABLED", true),
			BaseURL:  getenv("FTS_BASE_URL", "https://www.find-tender.service.gov.uk/api/1.0/ocdsReleasePackages"),
			Schedule: getenv("FTS_SCHEDULE", "*/30 * * * *"),
			RateRPS:  getfloat("FTS_RATE_RPS", 2.0),
			Burst:    getint("FTS_RATE_BURST", 4),
			SeedFrom: getenv("FTS_SEED_FROM", ""),
		},
		CF: ConnectorConfig{
			Enabled:  getbool("CF_ENABLED", true),
			BaseURL:  getenv("CF_BASE_URL", "https://www.contractsfinder.service.gov.uk/Published/Notices/OCDS/Search"),
			Schedule: getenv("CF_SCHEDULE", "15,45 * * * *"),
			RateRPS:  getfloat("CF_RATE_RPS", 2.0),
			Burst:    getint("CF_RATE_BURST", 4),
			SeedFrom: getenv("CF_SEED_FROM", ""),
		},
		Awards: ConnectorConfig{
			Enabled:  getbool("AWARDS_ENABLED", false),
			BaseURL:  getenv("AWARDS_BASE_URL", ""),
			Schedule: getenv("AWARDS_SCHEDULE", "0 */6 * * *"),
			RateRPS:  getfloat("AWARDS_RATE_RPS", 1.0),
			Burst:    getint("AWARDS_RATE_BURST", 2),
		},

		// Pipeline
		Ingest: IngestConfig{
			MaxFetchAttempts: getint("INGEST_MAX_FETCH_ATTEMPTS", 4),
			BackoffInitial:   getdur("INGEST_BACKOFF_INITIAL", 2*time.Second),
			LockTTL:          getdur("INGEST_LOCK_TTL", 30*time.Minute),
			Workers:          getint("INGEST_WORKERS", 4),
			MaxPages:         getint("INGEST_MAX_PAGES", 0),
			FetchTimeout:     getdur("INGEST_FETCH_TIMEOUT", 30*time.Second),
		},
		Resolver: ResolverConfig{
			BindThreshold:      getfloat("RESOLVER_BIND_THRESHOLD", 0.93),
			CandidateThreshold: getfloat("RESOLVER_CANDIDATE_THRESHOLD", 0.85),
			TieMargin:          getfloat("RESOLVER_TIE_MARGIN", 0.02),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "tenderd"),
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
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.DatabaseURL == "" && strings.TrimSpace(cfg.SQLitePath) == "" {
		return cfg, errors.New("one of DATABASE_URL or SQLITE_PATH must be set")
	}
	if strings.TrimSpace(cfg.DocstoreRoot) == "" {
		return cfg, errors.New("DOCSTORE_ROOT must not be empty")
	}
	if cfg.Ingest.MaxFetchAttempts < 1 {
		return cfg, errors.New("INGEST_MAX_FETCH_ATTEMPTS must be >= 1")
	}
	if cfg.Ingest.Workers < 1 {
		return cfg, errors.New("INGEST_WORKERS must be >= 1")
	}
	if cfg.Ingest.LockTTL <= 0 {
		return cfg, errors.New("INGEST_LOCK_TTL must be > 0")
	}
	if cfg.Ingest.FetchTimeout <= 0 {
		return cfg, errors.New("INGEST_FETCH_TIMEOUT must be > 0")
	}
	for _, c := range []struct {
		name string
		c    ConnectorConfig
	}{{"FTS", cfg.FTS}, {"CF", cfg.CF}, {"AWARDS", cfg.Awards}} {
		if !c.c.Enabled {
			continue
		}
		if strings.TrimSpace(c.c.BaseURL) == "" {
			return cfg, errors.New(c.name + "_BASE_URL must not be empty when enabled")
		}
		if c.c.RateRPS < 0 {
			return cfg, errors.New(c.name + "_RATE_RPS must be >= 0")
		}
		if c.c.Burst < 1 {
			return cfg, errors.New(c.name + "_RATE_BURST must be >= 1")
		}
	}
	r := cfg.Resolver
	if r.BindThreshold <= 0 || r.BindThreshold > 1 {
		return cfg, errors.New("RESOLVER_BIND_THRESHOLD must be in (0,1]")
	}
	if r.CandidateThreshold <= 0 || r.CandidateThreshold > r.BindThreshold {
		return cfg, errors.New("RESOLVER_CANDIDATE_THRESHOLD must be in (0, bind threshold]")
	}
	if r.TieMargin < 0 || r.TieMargin > 0.5 {
		return cfg, errors.New("RESOLVER_TIE_MARGIN must be in [0, 0.5]")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

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

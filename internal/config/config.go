// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, engine defaults, and the
// external collaborator credentials.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLMConfig holds the generation/classification collaborator settings.
type LLMConfig struct {
	APIKey      string        // OPENAI_API_KEY; empty means not configured
	Model       string        // OPENAI_MODEL
	Timeout     time.Duration // per-call deadline
	MaxRetries  int           // bounded retry count for transient failures
	Temperature float64       // generation temperature
}

// EngineConfig holds pipeline-wide engine defaults. Tenant rows override the
// rate limit and confidence threshold per tenant.
type EngineConfig struct {
	DefaultRateLimitPerMin int
	DefaultConfidence      float64
	HistoryWindow          int // turns fed to the classifier/generator
	MaxTrackedTenants      int // rate-limiter LRU bound
	ClarificationCeiling   int // clarifying questions before forced handoff
	PaymentAttemptCeiling  int // payment-link issuances per order
	PaymentLinkExpiry      time.Duration
	OrderExpiry            time.Duration // unconfirmed orders expire on next touch past this
	CollaboratorTimeout    time.Duration // payment + notification deadline
	TestMode               bool          // deterministic payment links, no live calls
	MaxTurnsPerSession     int           // input-policy turn ceiling
	MaxPromptRunes         int
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

	// App
	DBPath string // SQLite path

	Engine EngineConfig
	LLM    LLMConfig
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
		WriteTimeout:      getdur("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath: getenv("DB_PATH", "engine.db"),

		Engine: EngineConfig{
			DefaultRateLimitPerMin: getint("RATE_LIMIT_PER_MIN", 30),
			DefaultConfidence:      getfloat("CONFIDENCE_THRESHOLD", 0.65),
			HistoryWindow:          getint("HISTORY_WINDOW", 5),
			MaxTrackedTenants:      getint("MAX_TRACKED_TENANTS", 10000),
			ClarificationCeiling:   getint("CLARIFICATION_CEILING", 3),
			PaymentAttemptCeiling:  getint("PAYMENT_ATTEMPT_CEILING", 3),
			PaymentLinkExpiry:      getdur("PAYMENT_LINK_EXPIRY", 30*time.Minute),
			OrderExpiry:            getdur("ORDER_EXPIRY", 2*time.Hour),
			CollaboratorTimeout:    getdur("COLLABORATOR_TIMEOUT", 10*time.Second),
			TestMode:               getbool("TEST_MODE", false),
			MaxTurnsPerSession:     getint("MAX_TURNS_PER_SESSION", 200),
			MaxPromptRunes:         getint("MAX_PROMPT_RUNES", 4000),
		},

		LLM: LLMConfig{
			APIKey:      getenv("OPENAI_API_KEY", ""),
			Model:       getenv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout:     getdur("LLM_TIMEOUT", 20*time.Second),
			MaxRetries:  getint("LLM_MAX_RETRIES", 2),
			Temperature: getfloat("LLM_TEMPERATURE", 0.4),
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
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Engine.DefaultConfidence < 0 || cfg.Engine.DefaultConfidence > 1 {
		return cfg, errors.New("CONFIDENCE_THRESHOLD must be between 0 and 1")
	}
	if cfg.Engine.DefaultRateLimitPerMin < 1 {
		return cfg, errors.New("RATE_LIMIT_PER_MIN must be >= 1")
	}
	if cfg.Engine.HistoryWindow < 0 {
		return cfg, errors.New("HISTORY_WINDOW must be >= 0")
	}
	if cfg.Engine.MaxTrackedTenants < 1 {
		return cfg, errors.New("MAX_TRACKED_TENANTS must be >= 1")
	}
	if cfg.Engine.ClarificationCeiling < 1 {
		return cfg, errors.New("CLARIFICATION_CEILING must be >= 1")
	}
	if cfg.Engine.PaymentAttemptCeiling < 1 {
		return cfg, errors.New("PAYMENT_ATTEMPT_CEILING must be >= 1")
	}
	if cfg.Engine.OrderExpiry <= 0 {
		return cfg, errors.New("ORDER_EXPIRY must be > 0")
	}
	if cfg.LLM.Timeout <= 0 {
		return cfg, errors.New("LLM_TIMEOUT must be > 0")
	}
	if cfg.LLM.MaxRetries < 0 {
		return cfg, errors.New("LLM_MAX_RETRIES must be >= 0")
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

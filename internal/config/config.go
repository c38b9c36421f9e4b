package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Storage
	DatabasePath string
	AssetsDir    string

	// Formatting/extraction model
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	// Output cap for the whole-document formatting call. Zero means no cap:
	// the model reproduces the entire paper, so the default per-call cap
	// would truncate it mid-document.
	LLMFormatMaxTokens int

	// Import pipeline
	ImportTimeout time.Duration
	MaxLatexChars int

	// Upload limits
	MaxUploadBytes int64

	// Status stream
	SSEPingInterval time.Duration
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		DatabasePath: envOr("DATABASE_PATH", "lumi.db"),
		AssetsDir:    envOr("ASSETS_DIR", "assets"),

		LLMBaseURL: envOr("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:  os.Getenv("LLM_API_KEY"),
		LLMModel:   envOr("LLM_MODEL", "gpt-4.1"),

		LLMFormatMaxTokens: envInt("LLM_FORMAT_MAX_TOKENS", 0),

		ImportTimeout: envDuration("IMPORT_TIMEOUT", 9*time.Minute),
		MaxLatexChars: envInt("MAX_LATEX_CHARS", 300000),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		SSEPingInterval: envDuration("SSE_PING_INTERVAL", 30*time.Second),
	}

	if cfg.ImportTimeout <= 0 {
		cfg.ImportTimeout = 9 * time.Minute
	}
	if cfg.MaxLatexChars <= 0 {
		cfg.MaxLatexChars = 300000
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.SSEPingInterval <= 0 {
		cfg.SSEPingInterval = 30 * time.Second
	}

	return cfg
}

func (c Config) Validate() error {
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.AssetsDir == "" {
		return fmt.Errorf("ASSETS_DIR is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

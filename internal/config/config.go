package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Auth; empty disables it.
	APIKey string

	// Inference
	OllamaHost       string
	OllamaModel      string
	TargetLanguage   string
	MaxOutputTokens  int
	InferenceRetries int
	ChunkTimeout     time.Duration

	// Chunking
	ChunkSize      int
	ChunkOverlap   int
	ChunkJoinPages bool

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Session state
	SessionTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool
}

// LoadDotEnv loads variables from .env files into the environment without
// overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("API_KEY"),

		OllamaHost:       envOr("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:      envOr("OLLAMA_MODEL", "llama3"),
		TargetLanguage:   envOr("TARGET_LANGUAGE", "English"),
		MaxOutputTokens:  envInt("MAX_OUTPUT_TOKENS", 200),
		InferenceRetries: envInt("INFERENCE_RETRIES", 2),
		ChunkTimeout:     envDuration("CHUNK_TIMEOUT", 5*time.Minute),

		ChunkSize:      envInt("CHUNK_SIZE", 3000),
		ChunkOverlap:   envInt("CHUNK_OVERLAP", 200),
		ChunkJoinPages: envBool("CHUNK_JOIN_PAGES", false),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 32),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		SessionTTL: envDuration("SESSION_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 200
	}
	if cfg.InferenceRetries < 0 {
		cfg.InferenceRetries = 0
	}
	if cfg.ChunkTimeout < 0 {
		cfg.ChunkTimeout = 0
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 3000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 32
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	u, err := url.Parse(c.OllamaHost)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("OLLAMA_HOST %q is not a valid URL", c.OllamaHost)
	}
	if c.OllamaModel == "" {
		return fmt.Errorf("OLLAMA_MODEL is required")
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

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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

// Package config holds global settings for the Bulwark gateway. Everything is
// configurable via environment variables or programmatically; presets cover
// the common deployment shapes.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// PersistBackend selects the durable store for learned phrases.
type PersistBackend string

const (
	BackendMemory   PersistBackend = "memory"   // No persistence, test/dev only
	BackendFile     PersistBackend = "file"     // Local JSON + JSONL state dir (default)
	BackendRedis    PersistBackend = "redis"    // Shared table across instances
	BackendPostgres PersistBackend = "postgres" // Durable relational storage
)

// Config holds global settings for the Bulwark gateway.
type Config struct {
	// === Core Settings ===
	ListenAddr   string // HTTP listen address (default ":8700")
	PolicyPath   string // Path to the YAML policy document
	AuditLogPath string // Path to the JSONL audit log ("" disables auditing)

	// === Evaluation Deadlines ===
	OverallTimeout    time.Duration // Ceiling for one full fan-out (default 5s)
	PatternTimeout    time.Duration // Per-scan bound for the local pattern matcher
	ClassifierTimeout time.Duration // Per-scan bound for local model inference
	RemoteTimeout     time.Duration // Per-scan bound for remote detection services

	// === Scanner Configuration ===
	EnableClassifier bool   // Load the local ONNX classifier when a model is present
	ModelPath        string // Directory holding model.onnx + tokenizer files
	OnnxLibraryPath  string // Directory holding libonnxruntime; "" = Go backend
	RemoteScannerURL string // Optional remote detection endpoint ("" disables)

	// === Learning Settings ===
	ExtractionThreshold float64 // Minimum decision confidence to feed the learner
	PromotionThreshold  int     // Sightings required before promotion
	RequireApproval     bool    // Hold promotions for an external reviewer
	EnableDiversity     bool    // Context-diversity poisoning check (needs an embedder)
	OllamaURL           string  // Embedding service base URL
	EmbeddingModel      string  // Embedding model name

	// === Persistence ===
	Backend       PersistBackend
	StateDir      string // File backend state directory
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string
}

// NewDefaultConfig creates a Config with sensible defaults. Every setting can
// be overridden via BULWARK_* environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr:   GetEnv("BULWARK_LISTEN_ADDR", ":8700"),
		PolicyPath:   GetEnv("BULWARK_POLICY_PATH", "policies.yaml"),
		AuditLogPath: GetEnv("BULWARK_AUDIT_LOG", "audit_events.jsonl"),

		OverallTimeout:    time.Duration(GetEnvInt("BULWARK_OVERALL_TIMEOUT_MS", 5000)) * time.Millisecond,
		PatternTimeout:    time.Duration(GetEnvInt("BULWARK_PATTERN_TIMEOUT_MS", 250)) * time.Millisecond,
		ClassifierTimeout: time.Duration(GetEnvInt("BULWARK_CLASSIFIER_TIMEOUT_MS", 2000)) * time.Millisecond,
		RemoteTimeout:     time.Duration(GetEnvInt("BULWARK_REMOTE_TIMEOUT_MS", 3000)) * time.Millisecond,

		EnableClassifier: GetEnvBool("BULWARK_ENABLE_CLASSIFIER", true),
		ModelPath:        GetEnv("BULWARK_MODEL_PATH", "./models/classifier"),
		OnnxLibraryPath:  GetEnv("BULWARK_ONNX_LIBRARY_PATH", ""),
		RemoteScannerURL: GetEnv("BULWARK_REMOTE_SCANNER_URL", ""),

		ExtractionThreshold: GetEnvFloat("BULWARK_EXTRACTION_THRESHOLD", 0.7),
		PromotionThreshold:  GetEnvInt("BULWARK_PROMOTION_THRESHOLD", 3),
		RequireApproval:     GetEnvBool("BULWARK_REQUIRE_APPROVAL", false),
		EnableDiversity:     GetEnvBool("BULWARK_ENABLE_DIVERSITY", false),
		OllamaURL:           GetEnv("BULWARK_OLLAMA_URL", "http://localhost:11434"),
		EmbeddingModel:      GetEnv("BULWARK_EMBEDDING_MODEL", "nomic-embed-text"),

		Backend:       PersistBackend(GetEnv("BULWARK_BACKEND", string(BackendFile))),
		StateDir:      GetEnv("BULWARK_STATE_DIR", "./state"),
		RedisAddr:     GetEnv("BULWARK_REDIS_ADDR", "localhost:6379"),
		RedisPassword: GetEnv("BULWARK_REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("BULWARK_REDIS_DB", 0),
		PostgresDSN:   GetEnv("BULWARK_POSTGRES_DSN", ""),
	}
}

// NewHighSecurityConfig favors review over throughput: promotions wait for a
// human and the learner is fed more aggressively.
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.ExtractionThreshold = 0.6
	cfg.RequireApproval = true
	return cfg
}

// NewLocalConfig is a memory-only shape for development and air-gapped runs:
// no persistence, no remote scanners.
func NewLocalConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Backend = BackendMemory
	cfg.RemoteScannerURL = ""
	cfg.AuditLogPath = ""
	return cfg
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	var problems []string

	switch c.Backend {
	case BackendMemory, BackendFile, BackendRedis, BackendPostgres:
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q", c.Backend))
	}
	if c.Backend == BackendFile && c.StateDir == "" {
		problems = append(problems, "BULWARK_STATE_DIR required for the file backend")
	}
	if c.Backend == BackendRedis && c.RedisAddr == "" {
		problems = append(problems, "BULWARK_REDIS_ADDR required for the redis backend")
	}
	if c.Backend == BackendPostgres && c.PostgresDSN == "" {
		problems = append(problems, "BULWARK_POSTGRES_DSN required for the postgres backend")
	}
	if c.PolicyPath == "" {
		problems = append(problems, "BULWARK_POLICY_PATH must not be empty")
	}
	if c.ExtractionThreshold < 0 || c.ExtractionThreshold > 1 {
		problems = append(problems, fmt.Sprintf("BULWARK_EXTRACTION_THRESHOLD %v out of [0,1]", c.ExtractionThreshold))
	}
	if c.PromotionThreshold < 1 {
		problems = append(problems, "BULWARK_PROMOTION_THRESHOLD must be at least 1")
	}
	if c.OverallTimeout <= 0 {
		problems = append(problems, "BULWARK_OVERALL_TIMEOUT_MS must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits on failure. Call at startup
// before serving.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	log.Println("[STARTUP] configuration validated")
}

// Helper functions for environment variable parsing.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

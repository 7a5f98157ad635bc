// Package config gathers the environment configuration shared by every
// entry point.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/requirementflow/internal/gcp"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
)

// Backends.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendGCS       = "gcs"
)

// Capability selectors.
const (
	ParserHeading = "heading"
	ParserGemini  = "gemini"

	RuleSetCatalog       = "catalog"
	RuleSetGemini        = "gemini"
	RuleSetCatalogGemini = "catalog+gemini"
)

// Config holds all configuration values.
type Config struct {
	ProjectID string

	// Storage
	StoreBackend        string
	FirestoreCollection string
	ContentBackend      string
	ContentBucket       string
	ExportPrefix        string

	// Pipeline
	AllowedFileTypes []string
	MaxUploadBytes   int64
	StageTimeout     time.Duration
	LockWait         time.Duration
	StuckAfter       time.Duration

	// Capabilities
	Parser         string
	RulesFile      string
	RuleSet        string
	ExportFormat   string
	VertexAIRegion string
	VertexModel    string

	// Stage hand-off; empty WorkflowID disables it.
	WorkflowID       string
	WorkflowLocation string

	// Logging
	LogFile  string
	LogLevel slog.Level

	Port string
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	def := pipeline.DefaultConfig()
	cfg := Config{
		ProjectID: gcp.GetEnv("PROJECT_ID", ""),

		StoreBackend:        strings.ToLower(gcp.GetEnv("STORE_BACKEND", BackendMemory)),
		FirestoreCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		ContentBackend:      strings.ToLower(gcp.GetEnv("CONTENT_BACKEND", BackendMemory)),
		ContentBucket:       gcp.GetEnv("CONTENT_BUCKET", ""),
		ExportPrefix:        gcp.GetEnv("EXPORT_PREFIX", def.ExportPrefix),

		AllowedFileTypes: splitList(gcp.GetEnv("ALLOWED_FILE_TYPES", strings.Join(def.AllowedFileTypes, ","))),

		Parser:         strings.ToLower(gcp.GetEnv("PARSER", ParserHeading)),
		RulesFile:      gcp.GetEnv("RULES_FILE", ""),
		RuleSet:        strings.ToLower(gcp.GetEnv("RULESET", RuleSetCatalog)),
		ExportFormat:   strings.ToLower(gcp.GetEnv("EXPORT_FORMAT", "json")),
		VertexAIRegion: gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		VertexModel:    gcp.GetEnv("VERTEX_MODEL", gcp.DefaultVertexModel),

		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),

		LogFile:  gcp.GetEnv("LOG_FILE", ""),
		LogLevel: ParseLogLevel(gcp.GetEnv("LOG_LEVEL", "INFO")),

		Port: gcp.GetEnv("PORT", "8080"),
	}

	var err error
	if cfg.MaxUploadBytes, err = parseBytes("MAX_UPLOAD_BYTES", def.MaxContentBytes); err != nil {
		return Config{}, err
	}
	if cfg.StageTimeout, err = parseDuration("STAGE_TIMEOUT", def.StageTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LockWait, err = parseDuration("LOCK_WAIT", def.LockWait); err != nil {
		return Config{}, err
	}
	if cfg.StuckAfter, err = parseDuration("STUCK_AFTER", def.StuckAfter); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID must be set for the firestore store backend")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendMemory, BackendFirestore, c.StoreBackend)
	}
	switch c.ContentBackend {
	case BackendMemory:
	case BackendGCS:
		if c.ContentBucket == "" {
			return fmt.Errorf("CONTENT_BUCKET must be set for the gcs content backend")
		}
	default:
		return fmt.Errorf("CONTENT_BACKEND must be %q or %q, got %q", BackendMemory, BackendGCS, c.ContentBackend)
	}
	switch c.Parser {
	case ParserHeading, ParserGemini:
	default:
		return fmt.Errorf("PARSER must be %q or %q, got %q", ParserHeading, ParserGemini, c.Parser)
	}
	switch c.RuleSet {
	case RuleSetCatalog, RuleSetGemini, RuleSetCatalogGemini:
	default:
		return fmt.Errorf("RULESET must be one of %q, %q, %q, got %q", RuleSetCatalog, RuleSetGemini, RuleSetCatalogGemini, c.RuleSet)
	}
	if c.UsesVertex() && c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID must be set to use Vertex AI")
	}
	if c.WorkflowID != "" && c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID must be set to trigger workflows")
	}
	if len(c.AllowedFileTypes) == 0 {
		return fmt.Errorf("ALLOWED_FILE_TYPES must list at least one type")
	}
	return nil
}

// UsesVertex reports whether any capability calls Vertex AI.
func (c Config) UsesVertex() bool {
	return c.Parser == ParserGemini || c.RuleSet == RuleSetGemini || c.RuleSet == RuleSetCatalogGemini
}

// Pipeline returns the engine settings.
func (c Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		AllowedFileTypes: c.AllowedFileTypes,
		StageTimeout:     c.StageTimeout,
		LockWait:         c.LockWait,
		StuckAfter:       c.StuckAfter,
		MaxContentBytes:  c.MaxUploadBytes,
		ExportPrefix:     c.ExportPrefix,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration like 90s, got %q", key, raw)
	}
	return d, nil
}

func parseBytes(key string, fallback int64) (int64, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive byte count, got %q", key, raw)
	}
	return n, nil
}

// ParseLogLevel maps a LOG_LEVEL value onto a slog level, defaulting to INFO.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

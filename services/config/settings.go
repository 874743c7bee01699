// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads DataNexus settings.
//
// Settings come from three layers, later layers winning:
//
//  1. Built-in defaults (Defaults)
//  2. An optional YAML file (--config)
//  3. Environment variables, optionally seeded from a .env file
//
// Environment variable names match the deployment manifests (DB_HOST,
// MISTRAL_API_KEY, SCHEMA_SEARCH_TOP_K, ...). The full table lives in
// env.go. After loading, Validate enforces required fields with
// go-playground/validator tags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Settings is the complete runtime configuration.
type Settings struct {
	Database    DatabaseConfig    `yaml:"database"`
	LLM         LLMConfig         `yaml:"llm"`
	Embeddings  EmbeddingConfig   `yaml:"embeddings"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Agent       AgentConfig       `yaml:"agent"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Server      ServerConfig      `yaml:"server"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Render      RenderConfig      `yaml:"render"`
	Ingest      IngestConfig      `yaml:"ingest"`
}

// DatabaseConfig describes the analytics PostgreSQL database.
type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required_without=URL"`
	Port     int    `yaml:"port" validate:"gte=1,lte=65535"`
	Name     string `yaml:"name" validate:"required_without=URL"`
	User     string `yaml:"user" validate:"required_without=URL"`
	Password string `yaml:"password" validate:"required_without=URL"`
	SSLMode  string `yaml:"ssl_mode" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// Schema is the schema the agent introspects and queries.
	Schema string `yaml:"schema" validate:"required"`

	PoolMin int `yaml:"pool_min" validate:"gte=0"`
	PoolMax int `yaml:"pool_max" validate:"gte=1,gtefield=PoolMin"`

	// QueryTimeoutSeconds bounds both pool acquisition and statement time.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds" validate:"gte=1"`

	// URL, when set, replaces the individual connection fields.
	URL string `yaml:"url"`
}

// QueryTimeout returns QueryTimeoutSeconds as a duration.
func (d DatabaseConfig) QueryTimeout() time.Duration {
	return time.Duration(d.QueryTimeoutSeconds) * time.Second
}

// LLMConfig selects and configures the chat model backend.
type LLMConfig struct {
	Backend string `yaml:"backend" validate:"oneof=mistral openai ollama anthropic"`

	MistralAPIKey  string `yaml:"mistral_api_key" validate:"required_if=Backend mistral"`
	MistralModel   string `yaml:"mistral_model"`
	MistralBaseURL string `yaml:"mistral_base_url" validate:"omitempty,url"`

	OpenAIAPIKey  string `yaml:"openai_api_key" validate:"required_if=Backend openai"`
	OpenAIModel   string `yaml:"openai_model"`
	OpenAIBaseURL string `yaml:"openai_base_url" validate:"omitempty,url"`

	OllamaBaseURL string `yaml:"ollama_base_url" validate:"required_if=Backend ollama"`
	OllamaModel   string `yaml:"ollama_model"`

	AnthropicAPIKey string `yaml:"anthropic_api_key" validate:"required_if=Backend anthropic"`
	AnthropicModel  string `yaml:"anthropic_model"`

	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=1"`

	// Retry policy for transient LLM failures.
	MaxAttempts         int `yaml:"max_attempts" validate:"gte=1"`
	RetryMinWaitSeconds int `yaml:"retry_min_wait_seconds" validate:"gte=0"`
	RetryMaxWaitSeconds int `yaml:"retry_max_wait_seconds" validate:"gtefield=RetryMinWaitSeconds"`
}

// Model returns the model name for the selected backend.
func (l LLMConfig) Model() string {
	switch l.Backend {
	case "openai":
		return l.OpenAIModel
	case "ollama":
		return l.OllamaModel
	case "anthropic":
		return l.AnthropicModel
	default:
		return l.MistralModel
	}
}

// EmbeddingConfig configures the text embedding backend.
type EmbeddingConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=service openai hash"`
	ServiceURL string `yaml:"service_url" validate:"required_if=Backend service"`
	Model      string `yaml:"model"`
	Dimension  int    `yaml:"dimension" validate:"gte=1"`

	// CacheDir enables the on-disk embedding cache when non-empty.
	CacheDir string `yaml:"cache_dir"`
}

// VectorStoreConfig configures where schema, examples and memories live.
type VectorStoreConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=weaviate memory"`
	WeaviateURL string `yaml:"weaviate_url" validate:"required_if=Backend weaviate"`
	APIKey      string `yaml:"api_key"`
}

// RetrievalConfig holds the top-K values for each collection.
type RetrievalConfig struct {
	SchemaTopK  int `yaml:"schema_top_k" validate:"gte=1,lte=50"`
	FewShotTopK int `yaml:"few_shot_top_k" validate:"gte=1,lte=50"`
	MemoryTopK  int `yaml:"memory_top_k" validate:"gte=1,lte=50"`
}

// AgentConfig bounds the agent graph.
type AgentConfig struct {
	MaxCorrectionAttempts int    `yaml:"max_correction_attempts" validate:"gte=0,lte=10"`
	RecursionLimit        int    `yaml:"recursion_limit" validate:"gte=5"`
	DefaultUserID         string `yaml:"default_user_id"`
	ModelID               string `yaml:"model_id" validate:"required"`
}

// CheckpointConfig selects where graph state is persisted.
type CheckpointConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=postgres sqlite memory"`
	SQLitePath string `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`

	// RetentionDays prunes threads idle for longer. Zero keeps them forever.
	RetentionDays        int `yaml:"retention_days" validate:"gte=0"`
	PruneIntervalMinutes int `yaml:"prune_interval_minutes" validate:"gte=1"`
}

// Retention returns RetentionDays as a duration.
func (c CheckpointConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" validate:"gte=1,lte=65535"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int      `yaml:"rate_limit_burst" validate:"gte=0"`
	CORSOrigins    []string `yaml:"cors_origins"`

	// APITokens is "token:user,token:user". Empty disables authentication.
	APITokens string `yaml:"api_tokens"`
}

// TelemetryConfig configures tracing and OpenTelemetry metrics.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// TraceExporter is otlp, stdout or none. Empty means otlp when
	// OTLPEndpoint is set and none otherwise.
	TraceExporter string `yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`

	// MetricExporter is prometheus (served on /metrics), stdout or none.
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`
}

// Traces returns the effective trace exporter.
func (t TelemetryConfig) Traces() string {
	if t.TraceExporter != "" {
		return t.TraceExporter
	}
	if t.OTLPEndpoint != "" {
		return "otlp"
	}
	return "none"
}

// RenderConfig configures server side chart rendering.
type RenderConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BrowserBin string `yaml:"browser_bin"`
	ControlURL string `yaml:"control_url"`

	// PlotlyJS is a local file inlined into the render page, or an http(s)
	// URL the page loads the library from.
	PlotlyJS string `yaml:"plotly_js"`

	Width          int `yaml:"width" validate:"gte=100"`
	Height         int `yaml:"height" validate:"gte=100"`
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=1"`
}

// IngestConfig locates knowledge base files.
type IngestConfig struct {
	KnowledgeBaseDir string `yaml:"knowledge_base_dir"`
	FewShotFile      string `yaml:"few_shot_file"`
}

// Defaults returns the built-in settings.
func Defaults() *Settings {
	return &Settings{
		Database: DatabaseConfig{
			Port:                5432,
			SSLMode:             "prefer",
			Schema:              "public",
			PoolMin:             2,
			PoolMax:             20,
			QueryTimeoutSeconds: 10,
		},
		LLM: LLMConfig{
			Backend:             "mistral",
			MistralModel:        "mistral-large-latest",
			MistralBaseURL:      "https://api.mistral.ai/v1",
			OpenAIModel:         "gpt-4o-mini",
			OllamaModel:         "llama3.1",
			AnthropicModel:      "claude-3-5-sonnet-latest",
			Temperature:         0,
			MaxTokens:           1024,
			MaxAttempts:         4,
			RetryMinWaitSeconds: 2,
			RetryMaxWaitSeconds: 10,
		},
		Embeddings: EmbeddingConfig{
			Backend:    "service",
			ServiceURL: "http://localhost:8000",
			Model:      "all-MiniLM-L6-v2",
			Dimension:  384,
		},
		VectorStore: VectorStoreConfig{
			Backend:     "weaviate",
			WeaviateURL: "http://localhost:8080",
		},
		Retrieval: RetrievalConfig{
			SchemaTopK:  5,
			FewShotTopK: 3,
			MemoryTopK:  5,
		},
		Agent: AgentConfig{
			MaxCorrectionAttempts: 3,
			RecursionLimit:        25,
			DefaultUserID:         "open-webui-user",
			ModelID:               "datanexus-agent",
		},
		Checkpoint: CheckpointConfig{
			Backend:              "postgres",
			SQLitePath:           "datanexus_checkpoints.db",
			PruneIntervalMinutes: 60,
		},
		Server: ServerConfig{
			Port:           8001,
			RateLimitRPS:   0,
			RateLimitBurst: 10,
			CORSOrigins:    []string{"*"},
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "datanexus",
			MetricExporter: "prometheus",
		},
		Render: RenderConfig{
			Width:          800,
			Height:         600,
			TimeoutSeconds: 20,
			PlotlyJS:       "https://cdn.plot.ly/plotly-2.35.2.min.js",
		},
		Ingest: IngestConfig{
			KnowledgeBaseDir: "knowledge_base",
			FewShotFile:      "few_shot_examples.csv",
		},
	}
}

// LoadOptions controls Load.
type LoadOptions struct {
	// ConfigPath is an optional YAML file. A missing file is an error only
	// when the path was given explicitly.
	ConfigPath string

	// EnvFile is an optional .env file. Missing is not an error.
	EnvFile string

	// LookupEnv reads environment variables. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds Settings from defaults, the YAML file and the environment,
// then validates the result.
func Load(opts LoadOptions) (*Settings, error) {
	settings := Defaults()

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if opts.EnvFile != "" {
		fileVars, err := ReadDotEnv(opts.EnvFile)
		if err != nil {
			return nil, err
		}
		lookup = layeredLookup(lookup, fileVars)
	}

	if err := applyEnv(settings, lookup); err != nil {
		return nil, err
	}
	settings.finalize()

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// finalize fills values derived from other fields.
func (s *Settings) finalize() {
	if s.Database.URL != "" {
		if clean, err := SanitizeDSN(s.Database.URL); err == nil {
			s.Database.URL = clean
		}
	}
	if s.Agent.RecursionLimit == 0 {
		s.Agent.RecursionLimit = 25
	}
}

var settingsValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every struct tag rule and wraps failures in
// ErrInvalidConfig.
func (s *Settings) Validate() error {
	if err := settingsValidate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]error, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Errorf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(msgs...))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// DatabaseURL returns the connection string for the analytics database.
func (s *Settings) DatabaseURL() string {
	if s.Database.URL != "" {
		return s.Database.URL
	}
	return BuildDSN(s.Database)
}

// Redacted returns a copy safe to print, with secrets masked.
func (s *Settings) Redacted() Settings {
	out := *s
	if out.Database.Password != "" {
		out.Database.Password = "****"
	}
	out.Database.URL = RedactDSN(out.Database.URL)
	out.LLM.MistralAPIKey = mask(out.LLM.MistralAPIKey)
	out.LLM.OpenAIAPIKey = mask(out.LLM.OpenAIAPIKey)
	out.LLM.AnthropicAPIKey = mask(out.LLM.AnthropicAPIKey)
	out.VectorStore.APIKey = mask(out.VectorStore.APIKey)
	if out.Server.APITokens != "" {
		out.Server.APITokens = "****"
	}
	return out
}

// mask keeps the last four characters of long secrets.
func mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// envBinding maps one environment variable onto a settings field.
type envBinding struct {
	name  string
	apply func(s *Settings, value string) error
}

func str(get func(*Settings) *string) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		*get(s) = v
		return nil
	}
}

func integer(get func(*Settings) *int) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*get(s) = n
		return nil
	}
}

func float(get func(*Settings) *float64) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		*get(s) = f
		return nil
	}
}

func boolean(get func(*Settings) *bool) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*get(s) = b
		return nil
	}
}

func list(get func(*Settings) *[]string) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*get(s) = out
		return nil
	}
}

var envBindings = []envBinding{
	{"DATABASE_URL", str(func(s *Settings) *string { return &s.Database.URL })},
	{"DB_HOST", str(func(s *Settings) *string { return &s.Database.Host })},
	{"DB_PORT", integer(func(s *Settings) *int { return &s.Database.Port })},
	{"DB_NAME", str(func(s *Settings) *string { return &s.Database.Name })},
	{"DB_USER", str(func(s *Settings) *string { return &s.Database.User })},
	{"DB_PASSWORD", str(func(s *Settings) *string { return &s.Database.Password })},
	{"DB_SSL_MODE", str(func(s *Settings) *string { return &s.Database.SSLMode })},
	{"DB_SCHEMA_NAME", str(func(s *Settings) *string { return &s.Database.Schema })},
	{"DB_POOL_MIN", integer(func(s *Settings) *int { return &s.Database.PoolMin })},
	{"DB_POOL_MAX", integer(func(s *Settings) *int { return &s.Database.PoolMax })},
	{"DB_QUERY_TIMEOUT", integer(func(s *Settings) *int { return &s.Database.QueryTimeoutSeconds })},

	{"LLM_BACKEND", str(func(s *Settings) *string { return &s.LLM.Backend })},
	{"MISTRAL_API_KEY", str(func(s *Settings) *string { return &s.LLM.MistralAPIKey })},
	{"MISTRAL_MODEL_NAME", str(func(s *Settings) *string { return &s.LLM.MistralModel })},
	{"MISTRAL_BASE_URL", str(func(s *Settings) *string { return &s.LLM.MistralBaseURL })},
	{"OPENAI_API_KEY", str(func(s *Settings) *string { return &s.LLM.OpenAIAPIKey })},
	{"OPENAI_MODEL", str(func(s *Settings) *string { return &s.LLM.OpenAIModel })},
	{"OPENAI_BASE_URL", str(func(s *Settings) *string { return &s.LLM.OpenAIBaseURL })},
	{"OLLAMA_BASE_URL", str(func(s *Settings) *string { return &s.LLM.OllamaBaseURL })},
	{"OLLAMA_MODEL", str(func(s *Settings) *string { return &s.LLM.OllamaModel })},
	{"ANTHROPIC_API_KEY", str(func(s *Settings) *string { return &s.LLM.AnthropicAPIKey })},
	{"CLAUDE_MODEL", str(func(s *Settings) *string { return &s.LLM.AnthropicModel })},
	{"LLM_MAX_TOKENS", integer(func(s *Settings) *int { return &s.LLM.MaxTokens })},
	{"LLM_MAX_ATTEMPTS", integer(func(s *Settings) *int { return &s.LLM.MaxAttempts })},

	{"EMBEDDING_BACKEND", str(func(s *Settings) *string { return &s.Embeddings.Backend })},
	{"EMBEDDING_SERVICE_URL", str(func(s *Settings) *string { return &s.Embeddings.ServiceURL })},
	{"EMBEDDING_MODEL", str(func(s *Settings) *string { return &s.Embeddings.Model })},
	{"EMBEDDING_DIMENSION", integer(func(s *Settings) *int { return &s.Embeddings.Dimension })},
	{"EMBEDDING_CACHE_DIR", str(func(s *Settings) *string { return &s.Embeddings.CacheDir })},

	{"VECTOR_STORE_BACKEND", str(func(s *Settings) *string { return &s.VectorStore.Backend })},
	{"WEAVIATE_URL", str(func(s *Settings) *string { return &s.VectorStore.WeaviateURL })},
	{"WEAVIATE_API_KEY", str(func(s *Settings) *string { return &s.VectorStore.APIKey })},

	{"SCHEMA_SEARCH_TOP_K", integer(func(s *Settings) *int { return &s.Retrieval.SchemaTopK })},
	{"FEW_SHOT_TOP_K", integer(func(s *Settings) *int { return &s.Retrieval.FewShotTopK })},
	{"MEMORY_SEARCH_TOP_K", integer(func(s *Settings) *int { return &s.Retrieval.MemoryTopK })},

	{"MAX_CORRECTION_ATTEMPTS", integer(func(s *Settings) *int { return &s.Agent.MaxCorrectionAttempts })},
	{"AGENT_RECURSION_LIMIT", integer(func(s *Settings) *int { return &s.Agent.RecursionLimit })},
	{"DEFAULT_USER_ID", str(func(s *Settings) *string { return &s.Agent.DefaultUserID })},
	{"AGENT_MODEL_ID", str(func(s *Settings) *string { return &s.Agent.ModelID })},

	{"CHECKPOINT_BACKEND", str(func(s *Settings) *string { return &s.Checkpoint.Backend })},
	{"CHECKPOINT_SQLITE_PATH", str(func(s *Settings) *string { return &s.Checkpoint.SQLitePath })},
	{"CHECKPOINT_RETENTION_DAYS", integer(func(s *Settings) *int { return &s.Checkpoint.RetentionDays })},

	{"SERVER_PORT", integer(func(s *Settings) *int { return &s.Server.Port })},
	{"RATE_LIMIT_RPS", float(func(s *Settings) *float64 { return &s.Server.RateLimitRPS })},
	{"RATE_LIMIT_BURST", integer(func(s *Settings) *int { return &s.Server.RateLimitBurst })},
	{"CORS_ORIGINS", list(func(s *Settings) *[]string { return &s.Server.CORSOrigins })},
	{"API_TOKENS", str(func(s *Settings) *string { return &s.Server.APITokens })},

	{"OTEL_SERVICE_NAME", str(func(s *Settings) *string { return &s.Telemetry.ServiceName })},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", str(func(s *Settings) *string { return &s.Telemetry.OTLPEndpoint })},
	{"OTEL_TRACES_EXPORTER", str(func(s *Settings) *string { return &s.Telemetry.TraceExporter })},
	{"OTEL_METRICS_EXPORTER", str(func(s *Settings) *string { return &s.Telemetry.MetricExporter })},

	{"RENDER_CHARTS", boolean(func(s *Settings) *bool { return &s.Render.Enabled })},
	{"RENDER_BROWSER_BIN", str(func(s *Settings) *string { return &s.Render.BrowserBin })},
	{"RENDER_CONTROL_URL", str(func(s *Settings) *string { return &s.Render.ControlURL })},
	{"RENDER_PLOTLY_JS", str(func(s *Settings) *string { return &s.Render.PlotlyJS })},

	{"KNOWLEDGE_BASE_DIR", str(func(s *Settings) *string { return &s.Ingest.KnowledgeBaseDir })},
	{"FEW_SHOT_FILE", str(func(s *Settings) *string { return &s.Ingest.FewShotFile })},
}

// EnvNames lists every environment variable Load reads.
func EnvNames() []string {
	names := make([]string, len(envBindings))
	for i, b := range envBindings {
		names[i] = b.name
	}
	return names
}

func applyEnv(s *Settings, lookup func(string) (string, bool)) error {
	var errs []error
	for _, binding := range envBindings {
		value, ok := lookup(binding.name)
		if !ok {
			continue
		}
		if err := binding.apply(s, value); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", binding.name, value, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// layeredLookup consults the process environment first and the .env
// values second, so exported variables win over the file.
func layeredLookup(primary func(string) (string, bool), fallback map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

// ReadDotEnv parses KEY=VALUE lines from path.
//
// Blank lines and lines starting with # are skipped, an optional "export "
// prefix is accepted, and matching single or double quotes around the value
// are removed. A missing file yields an empty map.
func ReadDotEnv(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("No .env file found", "path", path)
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open env file %s: %w", path, err)
	}
	defer f.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", path, lineNum)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			first, last := value[0], value[len(value)-1]
			if (first == '"' || first == '\'') && first == last {
				value = value[1 : len(value)-1]
			}
		}
		vars[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return vars, nil
}

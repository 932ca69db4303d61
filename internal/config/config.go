// Package config provides configuration loading for ragd.
//
// Configuration is read from a YAML file and overridden by RAGD_* environment
// variables. See LoadWithFile for precedence and file validation rules.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete ragd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Qdrant        QdrantConfig        `koanf:"qdrant"`
	Metadata      MetadataConfig      `koanf:"metadata"`
	Models        []ModelConfig       `koanf:"models"`
	Embeddings    []ModelConfig       `koanf:"embeddings"`
	Ingestion     IngestionConfig     `koanf:"ingestion"`
	History       HistoryConfig       `koanf:"history"`
	Chat          ChatConfig          `koanf:"chat"`
	Runs          RunsConfig          `koanf:"runs"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// QdrantConfig holds the vector backend connection settings.
type QdrantConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	UseTLS         bool     `koanf:"use_tls"`
	APIKey         Secret   `koanf:"api_key"`
	RequestTimeout Duration `koanf:"request_timeout"`
	RetryAttempts  int      `koanf:"retry_attempts"`
	Distance       string   `koanf:"distance"`
}

// MetadataConfig points at the service that owns session and data source records.
type MetadataConfig struct {
	BaseURL       string   `koanf:"base_url"`
	Timeout       Duration `koanf:"timeout"`
	RetryAttempts int      `koanf:"retry_attempts"`
}

// ModelConfig declares one named completion or embedding model.
//
// Name is what sessions and data sources refer to; Model is the identifier
// sent to the provider. They are often the same.
type ModelConfig struct {
	Name              string  `koanf:"name"`
	Provider          string  `koanf:"provider"`
	Model             string  `koanf:"model"`
	BaseURL           string  `koanf:"base_url"`
	APIKey            Secret  `koanf:"api_key"`
	Reasoning         bool    `koanf:"reasoning"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	// CacheDir holds downloaded model files for local providers.
	CacheDir string `koanf:"cache_dir"`
}

// IngestionConfig controls the ingestion gate.
type IngestionConfig struct {
	ChunkSize           int    `koanf:"chunk_size"`
	ChunkOverlapPercent int    `koanf:"chunk_overlap_percent"`
	Gitleaks            bool   `koanf:"gitleaks"`
	SecretsAllowlist    string `koanf:"secrets_allowlist"`
	// RequestTimeout bounds each embedding, summarization and store step.
	RequestTimeout Duration `koanf:"request_timeout"`
}

// HistoryConfig holds chat history storage settings.
type HistoryConfig struct {
	Path string `koanf:"path"`
}

// ChatConfig holds chat orchestration timeouts.
type ChatConfig struct {
	QueryTimeout      Duration `koanf:"query_timeout"`
	CompletionTimeout Duration `koanf:"completion_timeout"`
	EvaluationTimeout Duration `koanf:"evaluation_timeout"`
}

// RunsConfig controls run recording.
type RunsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`
	Workers int    `koanf:"workers"`
}

// ObservabilityConfig holds logging and OpenTelemetry settings.
type ObservabilityConfig struct {
	LogLevel        string  `koanf:"log_level"`
	LogFormat       string  `koanf:"log_format"`
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	ServiceName     string  `koanf:"service_name"`
	SampleRate      float64 `koanf:"sample_rate"`
}

var knownProviders = map[string]bool{
	"openai": true,
	"ollama": true,
}

// Local ONNX embedding runs in-process and has no completion counterpart.
var embeddingOnlyProviders = map[string]bool{
	"fastembed": true,
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Qdrant.Host == "" {
		return errors.New("qdrant host is required")
	}
	if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
		return fmt.Errorf("invalid qdrant port: %d (must be 1-65535)", c.Qdrant.Port)
	}

	if c.Ingestion.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Ingestion.ChunkSize)
	}
	if c.Ingestion.ChunkOverlapPercent < 0 || c.Ingestion.ChunkOverlapPercent >= 100 {
		return fmt.Errorf("chunk overlap percent must be in [0, 100), got %d", c.Ingestion.ChunkOverlapPercent)
	}

	if c.History.Path == "" {
		return errors.New("history path is required")
	}
	if c.Chat.QueryTimeout.Duration() <= 0 {
		return errors.New("chat query timeout must be positive")
	}

	if err := validateModels("models", c.Models, knownProviders); err != nil {
		return err
	}
	if err := validateModels("embeddings", c.Embeddings, knownProviders, embeddingOnlyProviders); err != nil {
		return err
	}

	if c.Runs.Enabled && c.Runs.Dir == "" {
		return errors.New("runs dir is required when run recording is enabled")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

func validateModels(section string, models []ModelConfig, providers ...map[string]bool) error {
	seen := make(map[string]bool, len(models))
	for i, m := range models {
		if m.Name == "" {
			return fmt.Errorf("%s[%d]: name is required", section, i)
		}
		if seen[m.Name] {
			return fmt.Errorf("%s[%d]: duplicate name %q", section, i, m.Name)
		}
		seen[m.Name] = true
		if !anyKnows(providers, m.Provider) {
			return fmt.Errorf("%s[%d]: unknown provider %q", section, i, m.Provider)
		}
		if m.RequestsPerSecond < 0 {
			return fmt.Errorf("%s[%d]: requests_per_second cannot be negative", section, i)
		}
	}
	return nil
}

func anyKnows(sets []map[string]bool, provider string) bool {
	for _, set := range sets {
		if set[provider] {
			return true
		}
	}
	return false
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8081
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.RequestTimeout == 0 {
		cfg.Qdrant.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Qdrant.RetryAttempts == 0 {
		cfg.Qdrant.RetryAttempts = 3
	}
	if cfg.Qdrant.Distance == "" {
		cfg.Qdrant.Distance = "cosine"
	}

	if cfg.Metadata.BaseURL == "" {
		cfg.Metadata.BaseURL = "http://localhost:8080"
	}
	if cfg.Metadata.Timeout == 0 {
		cfg.Metadata.Timeout = Duration(10 * time.Second)
	}
	if cfg.Metadata.RetryAttempts == 0 {
		cfg.Metadata.RetryAttempts = 3
	}

	for i := range cfg.Models {
		defaultModel(&cfg.Models[i])
	}
	for i := range cfg.Embeddings {
		defaultModel(&cfg.Embeddings[i])
	}

	if cfg.Ingestion.ChunkSize == 0 {
		cfg.Ingestion.ChunkSize = 512
	}
	if cfg.Ingestion.ChunkOverlapPercent == 0 {
		cfg.Ingestion.ChunkOverlapPercent = 10
	}

	if cfg.History.Path == "" {
		cfg.History.Path = "data/history.db"
	}

	if cfg.Chat.QueryTimeout == 0 {
		cfg.Chat.QueryTimeout = Duration(2 * time.Minute)
	}
	if cfg.Chat.CompletionTimeout == 0 {
		cfg.Chat.CompletionTimeout = Duration(time.Minute)
	}
	if cfg.Chat.EvaluationTimeout == 0 {
		cfg.Chat.EvaluationTimeout = Duration(time.Minute)
	}
	if cfg.Ingestion.RequestTimeout == 0 {
		cfg.Ingestion.RequestTimeout = Duration(2 * time.Minute)
	}

	if cfg.Runs.Dir == "" {
		cfg.Runs.Dir = "data/runs"
	}
	if cfg.Runs.Workers == 0 {
		cfg.Runs.Workers = 4
	}

	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "ragd"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}
}

func defaultModel(m *ModelConfig) {
	if m.Provider == "" {
		m.Provider = "openai"
	}
	if m.Model == "" {
		m.Model = m.Name
	}
}

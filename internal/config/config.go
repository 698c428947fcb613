// Package config loads server configuration from a YAML file with
// environment overrides for secrets and deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// PostgresConfig holds the audit store connection.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// ClickHouseConfig holds the decision event stream connection.
type ClickHouseConfig struct {
	DSN string `yaml:"dsn"`
}

// WeaviateConfig holds the similarity index connection.
type WeaviateConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
}

// OpenAIConfig holds model provider settings.
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RetrievalConfig tunes history retrieval.
type RetrievalConfig struct {
	TopK                int     `yaml:"top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// CatalogConfig tunes the service registry and its health loop.
type CatalogConfig struct {
	MaxServices           int `yaml:"max_services"`
	FailureThreshold      int `yaml:"failure_threshold"`
	BreakerTimeoutSeconds int `yaml:"breaker_timeout_seconds"`
	HealthIntervalSeconds int `yaml:"health_interval_seconds"`
}

// RulesConfig points at the rule and blacklist files.
type RulesConfig struct {
	RulesPath     string `yaml:"rules_path"`
	BlacklistPath string `yaml:"blacklist_path"`
}

// StaticKey is one config-provisioned API key.
type StaticKey struct {
	Key      string `yaml:"key"`
	ClientID string `yaml:"client_id"`
	Role     string `yaml:"role"`
}

// AuthConfig selects and tunes the authenticator.
type AuthConfig struct {
	Mode            string      `yaml:"mode"` // "static" or "postgres"
	CacheTTLSeconds int         `yaml:"cache_ttl_seconds"`
	StaticKeys      []StaticKey `yaml:"static_keys"`
}

// Config is the full server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Weaviate   WeaviateConfig   `yaml:"weaviate"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Rules      RulesConfig      `yaml:"rules"`
	Auth       AuthConfig       `yaml:"auth"`
}

// Load reads the YAML file at path (optional, "" skips the file), applies
// defaults, and then environment overrides. Env always wins so deploy
// secrets never need to live in the file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
	}

	applyEnv(cfg)
	fillDefaults(cfg)
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	fillDefaults(cfg)
	return cfg
}

func fillDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Weaviate.Scheme == "" {
		cfg.Weaviate.Scheme = "http"
	}
	if cfg.OpenAI.TimeoutSeconds == 0 {
		cfg.OpenAI.TimeoutSeconds = 60
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.SimilarityThreshold == 0 {
		cfg.Retrieval.SimilarityThreshold = 0.75
	}
	if cfg.Catalog.MaxServices == 0 {
		cfg.Catalog.MaxServices = 50
	}
	if cfg.Catalog.FailureThreshold == 0 {
		cfg.Catalog.FailureThreshold = 5
	}
	if cfg.Catalog.BreakerTimeoutSeconds == 0 {
		cfg.Catalog.BreakerTimeoutSeconds = 60
	}
	if cfg.Catalog.HealthIntervalSeconds == 0 {
		cfg.Catalog.HealthIntervalSeconds = 30
	}
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = "static"
	}
	if cfg.Auth.CacheTTLSeconds == 0 {
		cfg.Auth.CacheTTLSeconds = 30
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SENTINEL_HTTP_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		cfg.ClickHouse.DSN = v
	}
	if v := os.Getenv("WEAVIATE_HOST"); v != "" {
		cfg.Weaviate.Host = v
	}
	if v := os.Getenv("WEAVIATE_SCHEME"); v != "" {
		cfg.Weaviate.Scheme = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("SENTINEL_MAX_SERVICES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Catalog.MaxServices = n
		}
	}
	if v := os.Getenv("SENTINEL_RULES_PATH"); v != "" {
		cfg.Rules.RulesPath = v
	}
	if v := os.Getenv("SENTINEL_BLACKLIST_PATH"); v != "" {
		cfg.Rules.BlacklistPath = v
	}
}

// OpenAITimeout returns the provider timeout as a duration.
func (c *Config) OpenAITimeout() time.Duration {
	return time.Duration(c.OpenAI.TimeoutSeconds) * time.Second
}

// BreakerTimeout returns the breaker cooldown as a duration.
func (c *Config) BreakerTimeout() time.Duration {
	return time.Duration(c.Catalog.BreakerTimeoutSeconds) * time.Second
}

// HealthInterval returns the probe cadence as a duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Catalog.HealthIntervalSeconds) * time.Second
}

// AuthCacheTTL returns the auth cache TTL as a duration.
func (c *Config) AuthCacheTTL() time.Duration {
	return time.Duration(c.Auth.CacheTTLSeconds) * time.Second
}

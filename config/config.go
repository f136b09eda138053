// Package config loads service configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Store     StoreConfig     `yaml:"store"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Redis     RedisConfig     `yaml:"redis"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// OracleConfig selects and configures the LLM provider.
type OracleConfig struct {
	Provider string `yaml:"provider"` // groq, openai, claude
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// EmbedderConfig selects the embedding backend.
type EmbedderConfig struct {
	Provider  string `yaml:"provider"` // openai, hash
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`
}

// StoreConfig selects the vector store backend.
type StoreConfig struct {
	Backend  string `yaml:"backend"` // inmemory, pg
	Postgres string `yaml:"postgres"`
}

// CorpusConfig lists the documents loaded at startup.
type CorpusConfig struct {
	URLs          []string `yaml:"urls"`
	ChunkTokens   int      `yaml:"chunk_tokens"`
	OverlapTokens int      `yaml:"overlap_tokens"`
	Encoding      string   `yaml:"encoding"`
}

// RetrievalConfig holds retrieval knobs.
type RetrievalConfig struct {
	K            int  `yaml:"k"`
	NumNeighbors int  `yaml:"num_neighbors"`
	WebSearch    bool `yaml:"web_search"`
}

// WebhookConfig configures the fire-and-forget notifier.
type WebhookConfig struct {
	URL     string `yaml:"url"`
	Retries int    `yaml:"retries"`
}

// RedisConfig configures the optional session mirror.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MongoConfig configures the optional durable history store.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Environment string `yaml:"environment"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Oracle: OracleConfig{Provider: "groq"},
		Embedder: EmbedderConfig{
			Provider:  "hash",
			Dimension: 256,
		},
		Store: StoreConfig{Backend: "inmemory"},
		Corpus: CorpusConfig{
			URLs: []string{
				"https://www.assessli.com/",
				"https://www.assessli.com/contactus",
			},
			ChunkTokens:   250,
			OverlapTokens: 0,
			Encoding:      "cl100k_base",
		},
		Retrieval: RetrievalConfig{K: 4, NumNeighbors: 1, WebSearch: true},
		Webhook:   WebhookConfig{Retries: 2},
		Mongo: MongoConfig{
			Database:   "adaptiverag",
			Collection: "history",
		},
	}
}

// Load reads the YAML file at path (if non-empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with ADAPTIVERAG_* environment variables.
func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "ADAPTIVERAG_ADDR")
	setString(&c.Oracle.Provider, "ADAPTIVERAG_ORACLE_PROVIDER")
	setString(&c.Oracle.Model, "ADAPTIVERAG_ORACLE_MODEL")
	setString(&c.Oracle.APIKey, "ADAPTIVERAG_ORACLE_API_KEY")
	setString(&c.Oracle.BaseURL, "ADAPTIVERAG_ORACLE_BASE_URL")
	setString(&c.Embedder.Provider, "ADAPTIVERAG_EMBEDDER_PROVIDER")
	setString(&c.Embedder.Model, "ADAPTIVERAG_EMBEDDER_MODEL")
	setString(&c.Embedder.APIKey, "ADAPTIVERAG_EMBEDDER_API_KEY")
	setInt(&c.Embedder.Dimension, "ADAPTIVERAG_EMBEDDER_DIMENSION")
	setString(&c.Store.Backend, "ADAPTIVERAG_STORE_BACKEND")
	setString(&c.Store.Postgres, "ADAPTIVERAG_STORE_POSTGRES")
	setInt(&c.Retrieval.K, "ADAPTIVERAG_RETRIEVAL_K")
	setInt(&c.Retrieval.NumNeighbors, "ADAPTIVERAG_RETRIEVAL_NEIGHBORS")
	setBool(&c.Retrieval.WebSearch, "ADAPTIVERAG_WEB_SEARCH")
	setString(&c.Webhook.URL, "ADAPTIVERAG_WEBHOOK_URL")
	setString(&c.Redis.Addr, "ADAPTIVERAG_REDIS_ADDR")
	setString(&c.Redis.Password, "ADAPTIVERAG_REDIS_PASSWORD")
	setString(&c.Mongo.URI, "ADAPTIVERAG_MONGO_URI")
	setBool(&c.Telemetry.Enabled, "ADAPTIVERAG_TELEMETRY")

	if urls := os.Getenv("ADAPTIVERAG_CORPUS_URLS"); urls != "" {
		c.Corpus.URLs = splitAndTrim(urls)
	}
}

// Validate checks the configuration for startup-fatal mistakes.
func (c *Config) Validate() error {
	v := NewValidator()
	v.RequireNonEmpty("server.addr", c.Server.Addr)
	v.ValidateOneOf("oracle.provider", c.Oracle.Provider, "groq", "openai", "claude")
	v.ValidateOneOf("embedder.provider", c.Embedder.Provider, "openai", "hash")
	v.ValidateOneOf("store.backend", c.Store.Backend, "inmemory", "pg")
	v.RequirePositive("retrieval.k", c.Retrieval.K)
	v.RequirePositive("retrieval.num_neighbors", c.Retrieval.NumNeighbors)
	v.RequirePositive("corpus.chunk_tokens", c.Corpus.ChunkTokens)
	if c.Store.Backend == "pg" {
		v.RequireNonEmpty("store.postgres", c.Store.Postgres)
	}
	if c.Embedder.Provider == "hash" {
		v.RequirePositive("embedder.dimension", c.Embedder.Dimension)
	}
	if c.Redis.Addr != "" {
		v.ValidateDBNumber("redis.db", c.Redis.DB)
	}
	return v.Error()
}

func setString(dst *string, env string) {
	if val := os.Getenv(env); val != "" {
		*dst = val
	}
}

func setInt(dst *int, env string) {
	if val := os.Getenv(env); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, env string) {
	if val := os.Getenv(env); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Oracle.Provider != "groq" {
		t.Errorf("Oracle.Provider = %q, want groq", cfg.Oracle.Provider)
	}
	if cfg.Embedder.Provider != "hash" || cfg.Embedder.Dimension != 256 {
		t.Errorf("Embedder = %+v, want hash/256", cfg.Embedder)
	}
	if cfg.Retrieval.K != 4 || cfg.Retrieval.NumNeighbors != 1 || !cfg.Retrieval.WebSearch {
		t.Errorf("Retrieval = %+v, want k=4, neighbors=1, web search on", cfg.Retrieval)
	}
	if cfg.Corpus.ChunkTokens != 250 || cfg.Corpus.Encoding != "cl100k_base" {
		t.Errorf("Corpus = %+v, want 250-token cl100k_base chunks", cfg.Corpus)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":9090"
oracle:
  provider: openai
  model: gpt-4o-mini
retrieval:
  k: 6
  web_search: false
corpus:
  urls:
    - https://example.com/a
    - https://example.com/b
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Oracle.Provider != "openai" || cfg.Oracle.Model != "gpt-4o-mini" {
		t.Errorf("Oracle = %+v", cfg.Oracle)
	}
	if cfg.Retrieval.K != 6 || cfg.Retrieval.WebSearch {
		t.Errorf("Retrieval = %+v, want k=6 with web search off", cfg.Retrieval)
	}
	if len(cfg.Corpus.URLs) != 2 {
		t.Errorf("Corpus.URLs = %v, want the two file values", cfg.Corpus.URLs)
	}
	// Untouched sections keep their defaults.
	if cfg.Embedder.Provider != "hash" {
		t.Errorf("Embedder.Provider = %q, want the default hash", cfg.Embedder.Provider)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) error = nil, want read failure")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADAPTIVERAG_ADDR", ":7070")
	t.Setenv("ADAPTIVERAG_ORACLE_PROVIDER", "claude")
	t.Setenv("ADAPTIVERAG_RETRIEVAL_K", "2")
	t.Setenv("ADAPTIVERAG_WEB_SEARCH", "false")
	t.Setenv("ADAPTIVERAG_CORPUS_URLS", " https://a.example.com , https://b.example.com ")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("Server.Addr = %q, want :7070", cfg.Server.Addr)
	}
	if cfg.Oracle.Provider != "claude" {
		t.Errorf("Oracle.Provider = %q, want claude", cfg.Oracle.Provider)
	}
	if cfg.Retrieval.K != 2 || cfg.Retrieval.WebSearch {
		t.Errorf("Retrieval = %+v, want k=2 with web search off", cfg.Retrieval)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.Corpus.URLs) != 2 || cfg.Corpus.URLs[0] != want[0] || cfg.Corpus.URLs[1] != want[1] {
		t.Errorf("Corpus.URLs = %v, want %v", cfg.Corpus.URLs, want)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown provider", func(c *Config) { c.Oracle.Provider = "bard" }, "oracle.provider"},
		{"unknown embedder", func(c *Config) { c.Embedder.Provider = "cohere" }, "embedder.provider"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }, "store.backend"},
		{"pg without dsn", func(c *Config) { c.Store.Backend = "pg" }, "store.postgres"},
		{"zero k", func(c *Config) { c.Retrieval.K = 0 }, "retrieval.k"},
		{"zero chunk tokens", func(c *Config) { c.Corpus.ChunkTokens = 0 }, "corpus.chunk_tokens"},
		{"hash without dimension", func(c *Config) { c.Embedder.Dimension = 0 }, "embedder.dimension"},
		{"redis db out of range", func(c *Config) { c.Redis.Addr = "localhost:6379"; c.Redis.DB = 99 }, "redis.db"},
		{"empty addr", func(c *Config) { c.Server.Addr = "  " }, "server.addr"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Errorf("Validate() = %q, want mention of %s", err, tc.field)
			}
		})
	}
}

func TestValidatorCombinesErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Addr = ""
	cfg.Retrieval.K = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want combined errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "server.addr") || !strings.Contains(msg, "retrieval.k") {
		t.Errorf("Validate() = %q, want both fields reported", msg)
	}
}

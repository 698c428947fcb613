package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "8080" || cfg.Server.LogLevel != "info" {
		t.Fatalf("server defaults = %+v", cfg.Server)
	}
	if cfg.Retrieval.TopK != 5 || cfg.Retrieval.SimilarityThreshold != 0.75 {
		t.Fatalf("retrieval defaults = %+v", cfg.Retrieval)
	}
	if cfg.Catalog.MaxServices != 50 || cfg.Catalog.FailureThreshold != 5 {
		t.Fatalf("catalog defaults = %+v", cfg.Catalog)
	}
	if cfg.Auth.Mode != "static" {
		t.Fatalf("auth mode = %q", cfg.Auth.Mode)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: "9090"
  log_level: debug
retrieval:
  top_k: 3
catalog:
  max_services: 10
auth:
  mode: postgres
  static_keys:
    - key: msk_local_dev
      client_id: dev
      role: admin
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "9090" || cfg.Server.LogLevel != "debug" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Fatalf("top_k = %d", cfg.Retrieval.TopK)
	}
	// Unset fields still get defaults.
	if cfg.Retrieval.SimilarityThreshold != 0.75 {
		t.Fatalf("similarity threshold = %v", cfg.Retrieval.SimilarityThreshold)
	}
	if cfg.Catalog.MaxServices != 10 || cfg.Catalog.FailureThreshold != 5 {
		t.Fatalf("catalog = %+v", cfg.Catalog)
	}
	if len(cfg.Auth.StaticKeys) != 1 || cfg.Auth.StaticKeys[0].ClientID != "dev" {
		t.Fatalf("static keys = %+v", cfg.Auth.StaticKeys)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_HTTP_PORT", "7070")
	t.Setenv("POSTGRES_DSN", "postgres://env")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://env" {
		t.Fatalf("dsn = %q", cfg.Postgres.DSN)
	}
	if cfg.OpenAI.APIKey != "sk-env" {
		t.Fatalf("api key = %q", cfg.OpenAI.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend.Kind != "openai" {
		t.Errorf("expected openai backend, got %q", cfg.Backend.Kind)
	}
	if cfg.Backend.Model != "gpt-5-nano" {
		t.Errorf("unexpected default model %q", cfg.Backend.Model)
	}
	if cfg.Analysis.ConfTh != 0.6 {
		t.Errorf("expected conf_th 0.6, got %f", cfg.Analysis.ConfTh)
	}
	if cfg.Server.QuotaImages != 3000 || cfg.Server.QuotaRuns != 20 {
		t.Errorf("unexpected default quotas: %+v", cfg.Server)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"backend": {"kind": "ollama", "model": "llava:13b", "base_url": "http://localhost:11434"},
		"analysis": {"conf_th": 0.75, "recheck_whitelist": ["付着"]},
		"server": {"addr": ":9000"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}
	if cfg.Backend.Kind != "ollama" || cfg.Backend.Model != "llava:13b" {
		t.Errorf("backend not loaded: %+v", cfg.Backend)
	}
	if cfg.Analysis.ConfTh != 0.75 {
		t.Errorf("expected conf_th 0.75, got %f", cfg.Analysis.ConfTh)
	}
	if len(cfg.Analysis.RecheckWhitelist) != 1 || cfg.Analysis.RecheckWhitelist[0] != "付着" {
		t.Errorf("recheck whitelist not loaded: %v", cfg.Analysis.RecheckWhitelist)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("server addr not loaded: %q", cfg.Server.Addr)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Server.QuotaImages != 3000 {
		t.Errorf("missing fields should keep defaults, got %d", cfg.Server.QuotaImages)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-123")
	t.Setenv("OPENAI_MODEL", " gpt-5-mini ")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("CLEANING_CHECK_API_TOKEN", "tok")

	cfg := Default()
	cfg.Backend.BaseURL = "http://keep-me"
	cfg.ApplyEnv()

	if cfg.Backend.APIKey != "sk-test-123" {
		t.Errorf("api key not applied: %q", cfg.Backend.APIKey)
	}
	if cfg.Backend.Model != "gpt-5-mini" {
		t.Errorf("model should be applied trimmed, got %q", cfg.Backend.Model)
	}
	if cfg.Backend.BaseURL != "http://keep-me" {
		t.Errorf("empty env must not clobber the file value, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Server.APIToken != "tok" {
		t.Errorf("api token not applied: %q", cfg.Server.APIToken)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"ollama backend", func(c *Config) { c.Backend.Kind = "ollama" }, false},
		{"unknown backend", func(c *Config) { c.Backend.Kind = "gemini" }, true},
		{"conf_th too high", func(c *Config) { c.Analysis.ConfTh = 1.5 }, true},
		{"conf_th negative", func(c *Config) { c.Analysis.ConfTh = -0.1 }, true},
		{"empty storage root", func(c *Config) { c.Storage.Root = "" }, true},
		{"negative quota", func(c *Config) { c.Server.QuotaRuns = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

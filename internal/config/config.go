package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the application configuration
type Config struct {
	Backend  BackendConfig  `json:"backend"`
	Analysis AnalysisConfig `json:"analysis"`
	Storage  StorageConfig  `json:"storage"`
	Server   ServerConfig   `json:"server"`
}

// BackendConfig selects and configures the classification backend
type BackendConfig struct {
	// Kind is "openai" or "ollama"
	Kind    string `json:"kind"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url"`
}

// AnalysisConfig holds the verdict defaults shared by all properties
type AnalysisConfig struct {
	ConfTh            float64  `json:"conf_th"`
	OKWhitelistGlobal []string `json:"ok_whitelist_global"`
	RecheckWhitelist  []string `json:"recheck_whitelist"`
}

// StorageConfig holds on-disk layout
type StorageConfig struct {
	Root        string `json:"root"`
	DBPath      string `json:"db_path"`
	LogRoot     string `json:"log_root"`
	ScratchRoot string `json:"scratch_root"`
}

// ServerConfig holds the HTTP API settings
type ServerConfig struct {
	Addr        string `json:"addr"`
	APIToken    string `json:"api_token"`
	QuotaImages int    `json:"quota_images"`
	QuotaRuns   int    `json:"quota_runs"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:  "openai",
			Model: "gpt-5-nano",
		},
		Analysis: AnalysisConfig{
			ConfTh: 0.6,
		},
		Storage: StorageConfig{
			Root:    "storage",
			DBPath:  filepath.Join("storage", "data", "usage.db"),
			LogRoot: filepath.Join("storage", "logs"),
		},
		Server: ServerConfig{
			Addr:        ":8090",
			QuotaImages: 3000,
			QuotaRuns:   20,
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overlays environment variables onto the configuration. The API
// key in particular usually arrives via OPENAI_API_KEY rather than the file.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		c.Backend.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); v != "" {
		c.Backend.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		c.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CLEANING_CHECK_API_TOKEN")); v != "" {
		c.Server.APIToken = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case "openai", "ollama":
	default:
		return fmt.Errorf("backend.kind must be openai or ollama")
	}

	if c.Analysis.ConfTh < 0 || c.Analysis.ConfTh > 1 {
		return fmt.Errorf("analysis.conf_th must be between 0 and 1")
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root cannot be empty")
	}

	if c.Server.QuotaImages < 0 || c.Server.QuotaRuns < 0 {
		return fmt.Errorf("server quotas cannot be negative")
	}

	return nil
}

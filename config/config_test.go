package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty listen address", func(c *Config) { c.ServerPort = "" }, "server_port"},
		{"port out of range", func(c *Config) { c.ServerPort = ":99999" }, "server_port"},
		{"negative max text length", func(c *Config) { c.MaxTextLength = -1 }, "max_text_length"},
		{"threshold above one", func(c *Config) { c.DefaultThreshold = 1.2 }, "default_threshold"},
		{"negative floor", func(c *Config) { c.MinConfidenceFloor = -0.1 }, "min_confidence_floor"},
		{"zero context window", func(c *Config) { c.ContextWindow = 0 }, "context_window"},
		{"zero detector timeout", func(c *Config) { c.DetectorTimeoutSec = 0 }, "detector_timeout_seconds"},
		{"unknown detector", func(c *Config) { c.EnabledDetectors = []string{"magic_detector"} }, "unknown detector"},
		{"ollama enabled without url", func(c *Config) {
			c.Ollama.Enabled = true
			c.Ollama.BaseURL = ""
		}, "ollama.base_url"},
		{"ollama bad scheme", func(c *Config) {
			c.Ollama.Enabled = true
			c.Ollama.BaseURL = "ftp://localhost"
		}, "ollama.base_url"},
		{"ollama enabled without model", func(c *Config) {
			c.Ollama.Enabled = true
			c.Ollama.Model = ""
		}, "ollama.model"},
		{"inference enabled without url", func(c *Config) {
			c.Inference.Enabled = true
			c.Inference.BaseURL = ""
		}, "inference.base_url"},
		{"model enabled without directory", func(c *Config) { c.Model.Directory = "" }, "model.directory"},
		{"database enabled without host", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Host = ""
		}, "database.host"},
		{"database bad port", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Port = 0
		}, "database.port"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q should mention %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"server_port": ":9090",
		"default_threshold": 0.6,
		"ollama": {"enabled": true, "base_url": "http://localhost:11434", "model": "mistral"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.ServerPort != ":9090" {
		t.Errorf("expected overridden port, got %q", cfg.ServerPort)
	}
	if cfg.DefaultThreshold != 0.6 {
		t.Errorf("expected overridden threshold, got %v", cfg.DefaultThreshold)
	}
	if cfg.Ollama.Model != "mistral" {
		t.Errorf("expected overridden model, got %q", cfg.Ollama.Model)
	}
	// Untouched fields keep their defaults.
	if cfg.MaxTextLength != 50000 {
		t.Errorf("expected default max text length, got %d", cfg.MaxTextLength)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("merged config should validate: %v", err)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromFileInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := DefaultConfig().LoadFromFile(path); err == nil {
		t.Error("expected error for invalid json")
	}
}

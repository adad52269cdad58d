package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
)

// OllamaConfig holds the local LLM backend settings
type OllamaConfig struct {
	Enabled           bool    `json:"enabled"`
	BaseURL           string  `json:"base_url"`
	Model             string  `json:"model"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// InferenceConfig holds the hosted inference API settings
type InferenceConfig struct {
	Enabled         bool   `json:"enabled"`
	BaseURL         string `json:"base_url"`
	APIKey          string `json:"api_key"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	ClassifierModel string `json:"classifier_model"`
	BERTModel       string `json:"bert_model"`
	DeBERTaModel    string `json:"deberta_model"`
}

// ModelConfig holds the local ONNX model settings
type ModelConfig struct {
	Enabled   bool   `json:"enabled"`
	Directory string `json:"directory"`
}

// DatabaseConfig holds detection log database configuration
type DatabaseConfig struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Database     string `json:"database"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime_seconds"`
	CleanupHours int    `json:"cleanup_hours"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	LogRequests   bool `json:"log_requests"`   // Log request metadata
	LogDetections bool `json:"log_detections"` // Log per-entity detection outcomes
	DebugMode     bool `json:"debug_mode"`     // Enable debug logging
}

// Config holds all configuration for the detection service
type Config struct {
	ServerPort         string          `json:"server_port"`
	MaxTextLength      int             `json:"max_text_length"`
	DefaultThreshold   float64         `json:"default_threshold"`
	MinConfidenceFloor float64         `json:"min_confidence_floor"`
	ContextWindow      int             `json:"context_window"`
	DetectorTimeoutSec int             `json:"detector_timeout_seconds"`
	EnabledDetectors   []string        `json:"enabled_detectors"`
	PromptFile         string          `json:"prompt_file"`
	Ollama             OllamaConfig    `json:"ollama"`
	Inference          InferenceConfig `json:"inference"`
	Model              ModelConfig     `json:"model"`
	Database           DatabaseConfig  `json:"database"`
	Logging            LoggingConfig   `json:"logging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ServerPort:         ":8080",
		MaxTextLength:      50000,
		DefaultThreshold:   0.7,
		MinConfidenceFloor: 0.4,
		ContextWindow:      300,
		DetectorTimeoutSec: 30,
		EnabledDetectors:   []string{"regex_detector", "ner_detector"},
		Ollama: OllamaConfig{
			Enabled:           false,
			BaseURL:           "http://localhost:11434",
			Model:             "llama3",
			TimeoutSeconds:    60,
			RequestsPerSecond: 2,
		},
		Inference: InferenceConfig{
			Enabled:         false,
			BaseURL:         "https://api-inference.huggingface.co",
			TimeoutSeconds:  30,
			ClassifierModel: "pii-classifier",
			BERTModel:       "dslim/bert-base-NER",
			DeBERTaModel:    "lakshyakh93/deberta_finetuned_pii",
		},
		Model: ModelConfig{
			Enabled:   true,
			Directory: "model/quantized",
		},
		Database: DatabaseConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "deepsearch",
			Username:     "postgres",
			Password:     "",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 25,
			MaxLifetime:  300,
			CleanupHours: 24,
		},
		Logging: LoggingConfig{
			LogRequests:   true,
			LogDetections: false,
		},
	}
}

// LoadFromFile overlays a JSON config file onto the receiver
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the -config flag
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

var knownDetectors = map[string]bool{
	"regex_detector":      true,
	"ner_detector":        true,
	"bert_detector":       true,
	"deberta_detector":    true,
	"llm_detector":        true,
	"classifier_detector": true,
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if err := validatePort(c.ServerPort); err != nil {
		return fmt.Errorf("server_port: %w", err)
	}
	if c.MaxTextLength <= 0 {
		return fmt.Errorf("max_text_length must be positive, got %d", c.MaxTextLength)
	}
	if c.DefaultThreshold < 0 || c.DefaultThreshold > 1 {
		return fmt.Errorf("default_threshold must be in [0, 1], got %v", c.DefaultThreshold)
	}
	if c.MinConfidenceFloor < 0 || c.MinConfidenceFloor > 1 {
		return fmt.Errorf("min_confidence_floor must be in [0, 1], got %v", c.MinConfidenceFloor)
	}
	if c.ContextWindow <= 0 {
		return fmt.Errorf("context_window must be positive, got %d", c.ContextWindow)
	}
	if c.DetectorTimeoutSec <= 0 {
		return fmt.Errorf("detector_timeout_seconds must be positive, got %d", c.DetectorTimeoutSec)
	}

	for _, name := range c.EnabledDetectors {
		if !knownDetectors[name] {
			return fmt.Errorf("enabled_detectors: unknown detector %q", name)
		}
	}

	if c.Ollama.Enabled {
		if err := validateURL(c.Ollama.BaseURL); err != nil {
			return fmt.Errorf("ollama.base_url: %w", err)
		}
		if c.Ollama.Model == "" {
			return fmt.Errorf("ollama.model must be set when ollama is enabled")
		}
	}
	if c.Inference.Enabled {
		if err := validateURL(c.Inference.BaseURL); err != nil {
			return fmt.Errorf("inference.base_url: %w", err)
		}
	}
	if c.Model.Enabled && c.Model.Directory == "" {
		return fmt.Errorf("model.directory must be set when the local model is enabled")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host must be set when the database is enabled")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("database.port must be in (0, 65535], got %d", c.Database.Port)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database must be set when the database is enabled")
		}
	}

	return nil
}

// validatePort accepts ":8080" or "host:8080" listen addresses
func validatePort(addr string) error {
	if addr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q", port)
	}
	if portNum <= 0 || portNum > 65535 {
		return fmt.Errorf("port %d out of range", portNum)
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url must not be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	return nil
}

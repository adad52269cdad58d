package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/hannes/deepsearch/config"
	"github.com/hannes/deepsearch/pii"
	detectors "github.com/hannes/deepsearch/pii/detectors"
	"github.com/hannes/deepsearch/providers"
	"github.com/hannes/deepsearch/server"
)

func main() {
	// Load .env if present; missing file is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	configPath := flag.String("config", "", "path to JSON config file")
	flag.Parse()

	// Load configuration
	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	// Override configuration with environment variables
	loadConfigFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			log.Printf("Warning: failed to initialize sentry: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		log.Fatalf("Failed to build detection engine: %v", err)
	}
	if err := engine.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize detection engine: %v", err)
	}

	// Create and start server
	srv := server.NewServer(cfg, engine)
	defer func() {
		if err := srv.Close(); err != nil {
			log.Printf("Failed to close server: %v", err)
		}
	}()

	// Start server with error handling
	srv.StartWithErrorHandling()
}

// buildEngine wires detectors, analysis backends and the audit store from the
// configuration.
func buildEngine(cfg *config.Config) (*pii.Engine, error) {
	var ollama *providers.OllamaClient
	if cfg.Ollama.Enabled {
		ollama = providers.NewOllamaClient(providers.OllamaConfig{
			BaseURL:           cfg.Ollama.BaseURL,
			Model:             cfg.Ollama.Model,
			Timeout:           time.Duration(cfg.Ollama.TimeoutSeconds) * time.Second,
			RequestsPerSecond: cfg.Ollama.RequestsPerSecond,
		})
	}

	var inference *providers.InferenceClient
	if cfg.Inference.Enabled {
		inference = providers.NewInferenceClient(providers.InferenceConfig{
			BaseURL: cfg.Inference.BaseURL,
			APIKey:  cfg.Inference.APIKey,
			Timeout: time.Duration(cfg.Inference.TimeoutSeconds) * time.Second,
		})
	}

	var modelManager *pii.ModelManager
	if cfg.Model.Enabled {
		mm, err := pii.NewModelManager(cfg.Model.Directory)
		if err != nil {
			return nil, err
		}
		modelManager = mm
	}

	enabled := make([]detectors.Detector, 0, len(cfg.EnabledDetectors))
	modelInfo := make(map[string]string)
	for _, name := range cfg.EnabledDetectors {
		switch name {
		case "regex_detector":
			enabled = append(enabled, detectors.NewRegexDetector(detectors.DefaultPatterns))
			modelInfo[name] = "builtin-patterns"
		case "classifier_detector":
			enabled = append(enabled, detectors.NewClassifierDetector(0.5))
			modelInfo[name] = "builtin-rules"
		case "ner_detector":
			if modelManager == nil || !modelManager.IsHealthy() {
				log.Printf("Skipping ner_detector: local model unavailable")
				continue
			}
			enabled = append(enabled, modelManager.Detector())
			modelInfo[name] = cfg.Model.Directory
		case "llm_detector":
			if ollama == nil {
				log.Printf("Skipping llm_detector: ollama disabled")
				continue
			}
			enabled = append(enabled, detectors.NewLLMDetector(ollama))
			modelInfo[name] = cfg.Ollama.Model
		case "bert_detector":
			if inference == nil {
				log.Printf("Skipping bert_detector: inference api disabled")
				continue
			}
			enabled = append(enabled, detectors.NewBERTDetector(inference, cfg.Inference.BERTModel))
			modelInfo[name] = cfg.Inference.BERTModel
		case "deberta_detector":
			if inference == nil {
				log.Printf("Skipping deberta_detector: inference api disabled")
				continue
			}
			enabled = append(enabled, detectors.NewDeBERTaDetector(inference, cfg.Inference.DeBERTaModel))
			modelInfo[name] = cfg.Inference.DeBERTaModel
		}
	}

	prompts := pii.DefaultPrompts()
	if cfg.PromptFile != "" {
		loaded, err := pii.LoadPrompts(cfg.PromptFile)
		if err != nil {
			log.Printf("Warning: %v, using default prompts", err)
		} else {
			prompts = loaded
		}
	}

	var backends []pii.AnalysisBackend
	var llmBackend *pii.LLMAnalysisBackend
	healthChecks := make(map[string]func(context.Context) bool)
	if ollama != nil {
		llmBackend = pii.NewLLMAnalysisBackend(ollama, prompts)
		backends = append(backends, llmBackend)
		healthChecks["ollama"] = ollama.Health
	}
	if inference != nil {
		backends = append(backends, pii.NewClassifierAnalysisBackend(inference, cfg.Inference.ClassifierModel))
		healthChecks["inference"] = func(ctx context.Context) bool {
			return inference.Health(ctx, cfg.Inference.ClassifierModel)
		}
	}

	var stage *pii.AnalysisStage
	if len(backends) > 0 {
		stage = pii.NewAnalysisStage(backends, cfg.ContextWindow,
			time.Duration(cfg.DetectorTimeoutSec)*time.Second)
	}

	var store pii.DetectionLogDB
	if cfg.Database.Enabled {
		db, err := pii.NewPostgresDetectionLogDB(pii.DatabaseConfig{
			Enabled:      cfg.Database.Enabled,
			Host:         cfg.Database.Host,
			Port:         cfg.Database.Port,
			Database:     cfg.Database.Database,
			Username:     cfg.Database.Username,
			Password:     cfg.Database.Password,
			SSLMode:      cfg.Database.SSLMode,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
			MaxLifetime:  time.Duration(cfg.Database.MaxLifetime) * time.Second,
			CleanupHours: cfg.Database.CleanupHours,
		})
		if err != nil {
			return nil, err
		}
		store = db
		go runCleanupLoop(db, cfg.Database.CleanupHours)
	}

	opts := pii.EngineOptions{
		MaxTextLength:      cfg.MaxTextLength,
		DefaultThreshold:   cfg.DefaultThreshold,
		MinConfidenceFloor: cfg.MinConfidenceFloor,
		DetectorTimeout:    time.Duration(cfg.DetectorTimeoutSec) * time.Second,
		ContextWindow:      cfg.ContextWindow,
	}

	return pii.NewEngine(opts, pii.EngineDeps{
		Detectors:    enabled,
		Analysis:     stage,
		LLMBackend:   llmBackend,
		Store:        store,
		HealthChecks: healthChecks,
		ModelInfo:    modelInfo,
	}), nil
}

// runCleanupLoop periodically deletes old detection log entries.
func runCleanupLoop(store pii.DetectionLogDB, cleanupHours int) {
	if cleanupHours <= 0 {
		return
	}
	retention := time.Duration(cleanupHours) * time.Hour
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		deleted, err := store.CleanupOldLogs(context.Background(), retention)
		if err != nil {
			log.Printf("Failed to clean up detection logs: %v", err)
			continue
		}
		if deleted > 0 {
			log.Printf("Cleaned up %d old detection log entries", deleted)
		}
	}
}

// loadConfigFromEnv loads configuration from environment variables
func loadConfigFromEnv(cfg *config.Config) {
	// Application configuration
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.ServerPort = port
	}

	if threshold := os.Getenv("DEFAULT_THRESHOLD"); threshold != "" {
		if v, err := strconv.ParseFloat(threshold, 64); err == nil {
			cfg.DefaultThreshold = v
		}
	}

	if maxLen := os.Getenv("MAX_TEXT_LENGTH"); maxLen != "" {
		if v, err := strconv.Atoi(maxLen); err == nil {
			cfg.MaxTextLength = v
		}
	}

	// Ollama configuration
	if enabled := os.Getenv("OLLAMA_ENABLED"); enabled != "" {
		cfg.Ollama.Enabled = enabled == "true"
	}

	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		cfg.Ollama.BaseURL = baseURL
	}

	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		cfg.Ollama.Model = model
	}

	// Inference API configuration
	if enabled := os.Getenv("INFERENCE_ENABLED"); enabled != "" {
		cfg.Inference.Enabled = enabled == "true"
	}

	if baseURL := os.Getenv("INFERENCE_BASE_URL"); baseURL != "" {
		cfg.Inference.BaseURL = baseURL
	}

	if apiKey := os.Getenv("INFERENCE_API_KEY"); apiKey != "" {
		cfg.Inference.APIKey = apiKey
	}

	// Local model configuration
	if enabled := os.Getenv("MODEL_ENABLED"); enabled != "" {
		cfg.Model.Enabled = enabled == "true"
	}

	if dir := os.Getenv("MODEL_DIRECTORY"); dir != "" {
		cfg.Model.Directory = dir
	}

	// Database configuration
	if dbEnabled := os.Getenv("DB_ENABLED"); dbEnabled != "" {
		cfg.Database.Enabled = dbEnabled == "true"
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}

	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.Database = dbName
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.Database.Username = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}

	if sslMode := os.Getenv("DB_SSL_MODE"); sslMode != "" {
		cfg.Database.SSLMode = sslMode
	}

	if cleanupHours := os.Getenv("DB_CLEANUP_HOURS"); cleanupHours != "" {
		if hours, err := strconv.Atoi(cleanupHours); err == nil {
			cfg.Database.CleanupHours = hours
		}
	}

	// Logging configuration
	if logRequests := os.Getenv("LOG_REQUESTS"); logRequests != "" {
		cfg.Logging.LogRequests = logRequests == "true"
	}

	if logDetections := os.Getenv("LOG_DETECTIONS"); logDetections != "" {
		cfg.Logging.LogDetections = logDetections == "true"
	}
}

package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hannes/deepsearch/config"
	"github.com/hannes/deepsearch/pii"
)

// Server represents the HTTP server
type Server struct {
	config     *config.Config
	engine     *pii.Engine
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, engine *pii.Engine) *Server {
	return &Server{
		config: cfg,
		engine: engine,
	}
}

// Routes builds the request mux. Exposed for tests.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/api/models", s.handleModels)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/search/validate", s.handleRevalidate)
	mux.HandleFunc("/api/entity/validate", s.handleValidateEntity)
	mux.HandleFunc("/api/entity/false-positive", s.handleFalsePositive)
	return s.recoverPanics(mux)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting PII detection service on %s", s.config.ServerPort)
	log.Printf("Enabled detectors: %v", s.config.EnabledDetectors)

	if s.config.Database.Enabled {
		log.Println("Detection log database enabled")
	}

	// Create server with timeout configuration
	s.httpServer = &http.Server{
		Addr:         s.config.ServerPort,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// StartWithErrorHandling starts the server with proper error handling
func (s *Server) StartWithErrorHandling() {
	if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// Close closes the server and cleans up resources
func (s *Server) Close() error {
	if s.httpServer != nil {
		if err := s.httpServer.Close(); err != nil {
			log.Printf("Failed to close http server: %v", err)
		}
	}
	if s.engine != nil {
		return s.engine.Close()
	}
	return nil
}

// recoverPanics converts handler panics into 500s and reports them.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Recover(rec)
				log.Printf("[Server] Panic handling %s %s: %v", r.Method, r.URL.Path, rec)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsHandler adds CORS headers to the response
func (s *Server) corsHandler(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "false")
	} else {
		// For requests with origin, echo it back (allows credentials)
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// preflight handles OPTIONS and enforces the method; returns false when the
// request was already answered.
func (s *Server) preflight(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == http.MethodOptions {
		s.corsHandler(w, r)
		w.WriteHeader(http.StatusOK)
		return false
	}
	s.corsHandler(w, r)
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[Server] Failed to encode response: %v", err)
	}
}

// writeError maps engine errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pii.ErrEngineNotReady):
		status = http.StatusServiceUnavailable
	case errors.Is(err, pii.ErrEmptyText),
		errors.Is(err, pii.ErrTextTooLong),
		errors.Is(err, pii.ErrNoLanguages),
		errors.Is(err, pii.ErrInvalidThreshold),
		errors.Is(err, pii.ErrNoPreviousDetections):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodGet) {
		return
	}
	status := s.engine.Health(r.Context())
	code := http.StatusOK
	if status.Status == "error" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodGet) {
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	logs, total, err := s.engine.RecentDetections(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// queryInt reads an integer query parameter, falling back on absence or
// garbage.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodGet) {
		return
	}
	status := s.engine.Health(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"models":       s.engine.ModelInfo(),
		"availability": status.Backends,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodPost) {
		return
	}
	var req pii.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodPost) {
		return
	}
	var req pii.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := s.engine.Revalidate(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidateEntity(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodPost) {
		return
	}
	var req pii.ValidateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.engine.ValidateEntity(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFalsePositive(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodPost) {
		return
	}
	var req pii.FalsePositiveCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	verdict, err := s.engine.CheckFalsePositive(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, verdict)
}

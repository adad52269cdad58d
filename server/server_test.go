package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hannes/deepsearch/config"
	"github.com/hannes/deepsearch/pii"
	detectors "github.com/hannes/deepsearch/pii/detectors"
)

type fixedDetector struct {
	name  string
	spans []detectors.Span
}

func (d *fixedDetector) GetName() string { return d.name }

func (d *fixedDetector) Detect(ctx context.Context, input detectors.DetectorInput) (detectors.DetectorOutput, error) {
	return detectors.DetectorOutput{Text: input.Text, Spans: d.spans}, nil
}

func (d *fixedDetector) Close() error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	engine := pii.NewEngine(pii.DefaultEngineOptions(), pii.EngineDeps{
		Detectors: []detectors.Detector{
			&fixedDetector{name: "regex_detector", spans: []detectors.Span{{
				Text: "a@b.co", Type: detectors.TypeEmail, Language: "en",
				Start: 0, End: 6, Probability: 0.95, Sources: []string{"regex_detector"},
			}}},
		},
		ModelInfo: map[string]string{"ner": "local-onnx"},
	})
	if err := engine.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return NewServer(config.DefaultConfig(), engine)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status pii.HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if status.Status != "healthy" {
		t.Errorf("expected healthy, got %s", status.Status)
	}
}

func TestHealthBeforeInitialize(t *testing.T) {
	engine := pii.NewEngine(pii.DefaultEngineOptions(), pii.EngineDeps{})
	srv := NewServer(config.DefaultConfig(), engine)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before initialization, got %d", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv := newTestServer(t)

	body, err := json.Marshal(pii.SearchRequest{
		Text:                "a@b.co",
		Languages:           []string{"en"},
		ConfidenceThreshold: 0.5,
		AnalysisMode:        pii.ModeFast,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp pii.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode search response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Errorf("expected 1 item, got %d", len(resp.Items))
	}
	if resp.ModelInfo["ner"] != "local-onnx" {
		t.Errorf("expected model info in response, got %v", resp.ModelInfo)
	}
}

func TestSearchEndpointValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", "{not json", http.StatusBadRequest},
		{"empty text", `{"text": "", "languages": ["en"]}`, http.StatusBadRequest},
		{"no languages", `{"text": "hi"}`, http.StatusBadRequest},
		{"bad threshold", `{"text": "hi", "languages": ["en"], "confidence_threshold": 2}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(tc.body)))
			if rec.Code != tc.code {
				t.Errorf("expected %d, got %d: %s", tc.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSearchMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected origin echoed back, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected allowed methods header")
	}
}

func TestRevalidateEndpoint(t *testing.T) {
	srv := newTestServer(t)

	body := `{
		"text": "a@b.co",
		"languages": ["en"],
		"confidence_threshold": 0.5,
		"analysis_mode": "fast",
		"previous_detections": [{
			"text": "a@b.co", "type": "email", "language": "en",
			"start": 0, "end": 6, "probability": 0.95, "sources": ["regex_detector"]
		}]
	}`
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/search/validate", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Without previous detections the endpoint must reject the request.
	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/search/validate",
		strings.NewReader(`{"text": "a@b.co", "languages": ["en"]}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without previous detections, got %d", rec.Code)
	}
}

func TestValidateEntityEndpoint(t *testing.T) {
	srv := newTestServer(t)

	body := `{
		"text": "John Smith lives here.",
		"entity": {"text": "John Smith", "type": "name", "language": "en", "start": 0, "end": 10, "probability": 0.8}
	}`
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/entity/validate", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result pii.ContextAnalysisResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	// No analysis backends wired: the conservative default applies.
	if !result.IsGenuinePII || result.Confidence != 0.5 {
		t.Errorf("expected conservative default, got %+v", result)
	}
}

func TestFalsePositiveEndpointWithoutBackend(t *testing.T) {
	srv := newTestServer(t)
	body := `{"text": "x", "entity": {"text": "x", "type": "name", "start": 0, "end": 1}}`
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/entity/false-positive", strings.NewReader(body)))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 without llm backend, got %d", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap pii.StatsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
}

type auditStore struct {
	logs []map[string]interface{}
}

func (s *auditStore) LogDetection(ctx context.Context, record pii.DetectionRecord) error { return nil }

func (s *auditStore) GetRecentLogs(ctx context.Context, limit, offset int) ([]map[string]interface{}, error) {
	if offset >= len(s.logs) {
		return []map[string]interface{}{}, nil
	}
	end := offset + limit
	if end > len(s.logs) {
		end = len(s.logs)
	}
	return s.logs[offset:end], nil
}

func (s *auditStore) GetLogsCount(ctx context.Context) (int, error) { return len(s.logs), nil }

func (s *auditStore) CleanupOldLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (s *auditStore) Close() error { return nil }

func TestLogsEndpoint(t *testing.T) {
	store := &auditStore{logs: []map[string]interface{}{
		{"text_hash": "abc", "language": "en", "entity_count": 2},
		{"text_hash": "def", "language": "fr", "entity_count": 1},
	}}
	engine := pii.NewEngine(pii.DefaultEngineOptions(), pii.EngineDeps{Store: store})
	if err := engine.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	srv := NewServer(config.DefaultConfig(), engine)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Logs   []map[string]interface{} `json:"logs"`
		Total  int                      `json:"total"`
		Limit  int                      `json:"limit"`
		Offset int                      `json:"offset"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode logs response: %v", err)
	}
	if payload.Total != 2 || len(payload.Logs) != 1 {
		t.Errorf("expected total 2 with 1 page entry, got total %d / %d entries", payload.Total, len(payload.Logs))
	}
	if payload.Logs[0]["text_hash"] != "abc" {
		t.Errorf("unexpected first entry: %v", payload.Logs[0])
	}

	// Garbage pagination parameters fall back to the defaults.
	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs?limit=nope&offset=-3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with fallback pagination, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode logs response: %v", err)
	}
	if payload.Limit != 50 || payload.Offset != 0 {
		t.Errorf("expected fallback limit 50 offset 0, got %d / %d", payload.Limit, payload.Offset)
	}
}

func TestLogsEndpointWithoutStore(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Logs  []map[string]interface{} `json:"logs"`
		Total int                      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode logs response: %v", err)
	}
	if payload.Total != 0 || len(payload.Logs) != 0 {
		t.Errorf("expected empty log page, got %+v", payload)
	}
}

func TestModelsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Models       map[string]string `json:"models"`
		Availability map[string]bool   `json:"availability"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode models: %v", err)
	}
	if payload.Models["ner"] != "local-onnx" {
		t.Errorf("unexpected model info: %v", payload.Models)
	}
}

package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInferenceClient_Classify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/pii-bert" {
			t.Errorf("Expected path /models/pii-bert, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Expected bearer token, got '%s'", auth)
		}
		if _, err := w.Write([]byte(`[[{"label":"PII","score":0.92},{"label":"NOT_PII","score":0.08}]]`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer server.Close()

	client := NewInferenceClient(InferenceConfig{BaseURL: server.URL, APIKey: "secret"})
	scores, err := client.Classify(context.Background(), "pii-bert", "some text")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("Expected 2 label scores, got %d", len(scores))
	}
	if scores[0].Label != "PII" || scores[0].Score != 0.92 {
		t.Errorf("Unexpected first score: %+v", scores[0])
	}
}

func TestInferenceClient_Classify_FlatResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte(`[{"label":"PII","score":0.7}]`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer server.Close()

	client := NewInferenceClient(InferenceConfig{BaseURL: server.URL})
	scores, err := client.Classify(context.Background(), "pii-bert", "text")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(scores) != 1 || scores[0].Label != "PII" {
		t.Errorf("Unexpected scores: %+v", scores)
	}
}

func TestInferenceClient_TokenClassify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte(`[{"entity_group":"PER","score":0.98,"word":"John Smith","start":15,"end":25}]`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer server.Close()

	client := NewInferenceClient(InferenceConfig{BaseURL: server.URL})
	entities, err := client.TokenClassify(context.Background(), "ner-model", "Please contact John Smith")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("Expected 1 entity, got %d", len(entities))
	}
	e := entities[0]
	if e.Entity != "PER" || e.Word != "John Smith" || e.Start != 15 || e.End != 25 {
		t.Errorf("Unexpected entity: %+v", e)
	}
}

func TestInferenceClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models/good" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewInferenceClient(InferenceConfig{BaseURL: server.URL})
	if !client.Health(context.Background(), "good") {
		t.Error("Expected healthy model")
	}
	if client.Health(context.Background(), "missing") {
		t.Error("Expected missing model to be unhealthy")
	}
}

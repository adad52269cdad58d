package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// InferenceConfig configures the remote inference API client.
type InferenceConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// InferenceClient talks to a hosted-inference style API: POST the text to
// /models/{model} and get classification results back.
type InferenceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewInferenceClient creates a client for the configured endpoint.
func NewInferenceClient(cfg InferenceConfig) *InferenceClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &InferenceClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *InferenceClient) post(ctx context.Context, model, text string, out any) error {
	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return fmt.Errorf("failed to marshal inference request: %w", err)
	}

	return doWithRetry(ctx, "inference "+model, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/"+model, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				log.Printf("[Inference] Failed to close response body: %v", err)
			}
		}()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		}
		return json.Unmarshal(respBody, out)
	})
}

// Classify runs sequence classification and returns the flattened label
// scores.
func (c *InferenceClient) Classify(ctx context.Context, model, text string) ([]LabelScore, error) {
	var nested [][]LabelScore
	if err := c.post(ctx, model, text, &nested); err != nil {
		// Some deployments return a flat list instead of a batch of one.
		var flat []LabelScore
		if flatErr := c.post(ctx, model, text, &flat); flatErr == nil {
			return flat, nil
		}
		return nil, err
	}
	if len(nested) == 0 {
		return nil, nil
	}
	return nested[0], nil
}

// TokenClassify runs token classification and returns entities with
// character offsets.
func (c *InferenceClient) TokenClassify(ctx context.Context, model, text string) ([]TokenEntity, error) {
	var entities []TokenEntity
	if err := c.post(ctx, model, text, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// Health reports whether the endpoint answers for the given model.
func (c *InferenceClient) Health(ctx context.Context, model string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models/"+model, nil)
	if err != nil {
		return false
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("[Inference] Failed to close response body: %v", err)
		}
	}()
	return resp.StatusCode == http.StatusOK
}

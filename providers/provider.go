package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// LabelScore is one classification result from a sequence-classification
// backend.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// TokenEntity is one entity from a token-classification backend, with
// character offsets into the submitted text.
type TokenEntity struct {
	Entity string  `json:"entity_group"`
	Score  float64 `json:"score"`
	Word   string  `json:"word"`
	Start  int     `json:"start"`
	End    int     `json:"end"`
}

// maxAttempts bounds retries for transient transport failures.
const maxAttempts = 3

// HTTPStatusError is returned when a backend answers with a non-2xx status.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// doWithRetry runs fn up to maxAttempts times with exponential backoff.
// Only transport-level failures are retried; an application-level refusal
// (4xx other than 429) fails immediately.
func doWithRetry(ctx context.Context, op string, fn func() error) error {
	backoff := 500 * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, maxAttempts, lastErr)
}

func isTransient(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == 429
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

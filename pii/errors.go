package pii

import "errors"

// Structural errors surfaced to callers. Everything else (detector failures,
// backend failures, per-entity analysis failures) is contained and converted
// into absence of evidence.
var (
	// ErrEngineNotReady indicates Initialize has not completed. Always
	// surfaced, never retried or swallowed.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrEmptyText indicates the request carried no text.
	ErrEmptyText = errors.New("text must not be empty")

	// ErrTextTooLong indicates the request text exceeds the configured bound.
	ErrTextTooLong = errors.New("text exceeds maximum length")

	// ErrNoLanguages indicates the request carried no language hints.
	ErrNoLanguages = errors.New("languages must not be empty")

	// ErrInvalidThreshold indicates a confidence threshold outside [0,1].
	ErrInvalidThreshold = errors.New("confidence threshold must be between 0 and 1")

	// ErrNoPreviousDetections indicates a revalidation request without spans.
	ErrNoPreviousDetections = errors.New("previous detections must not be empty")
)

package pii

import (
	"context"
)

// Detector is the uniform contract every detection strategy implements.
// Implementations may fail independently; the cascade treats an error from
// one detector as that detector's failure only.
type Detector interface {
	GetName() string
	Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error)
	Close() error
}

func CloseDetector(detector Detector) error {
	return detector.Close()
}

package client

import (
	"context"

	"github.com/menta2k/cleaning-check/pkg/types"
)

// Classifier sends one normalized JPEG to a vision backend and returns the
// structured cleaning-check answer. Available reports whether the backend is
// configured at all; callers must substitute Placeholder output instead of
// calling Classify on an unavailable backend.
type Classifier interface {
	Available() bool
	Classify(ctx context.Context, jpegData []byte) (*types.ClassificationResponse, error)
}

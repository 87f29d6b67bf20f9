package detection

import (
	"context"
	"time"
)

// Classification is the raw outcome produced by a Classifier.
type Classification struct {
	Probabilities Distribution
	Latency       time.Duration
}

// Classifier turns image bytes into a probability distribution over the
// configured labels. Implementations may be slow or remote and must return
// failures as *ClassificationError.
type Classifier interface {
	Classify(ctx context.Context, imageBytes []byte) (*Classification, error)
}

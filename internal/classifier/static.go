package classifier

import (
	"context"
	"time"

	"github.com/example/accident-check/internal/detection"
)

// BackendStatic names the fixed-output backend.
const BackendStatic = "static"

// StaticClassifier returns the same outcome for every image. It is useful as
// a test double and for smoke-testing a deployment without a model.
type StaticClassifier struct {
	Probabilities detection.Distribution
	Latency       time.Duration
	Err           error
}

// Classify returns a copy of the configured distribution or the configured error.
func (s *StaticClassifier) Classify(ctx context.Context, imageBytes []byte) (*detection.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, detection.NewClassificationError(BackendStatic, err)
	}
	if s.Err != nil {
		return nil, detection.NewClassificationError(BackendStatic, s.Err)
	}
	return &detection.Classification{Probabilities: s.Probabilities.Clone(), Latency: s.Latency}, nil
}

package classifier

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/example/accident-check/internal/detection"
)

const (
	// BackendMock names the randomized stand-in backend.
	BackendMock = "mock"

	// DefaultMockDelay simulates model inference time.
	DefaultMockDelay = 100 * time.Millisecond

	mockAccidentRate = 0.25
	mockMinWinner    = 0.7
	mockMaxWinner    = 0.95
)

// MockClassifier produces plausible random distributions without a model.
// About a quarter of calls favor the accident label; the winning label gets
// a probability in [0.7, 0.95) and the remainder is split across the others.
type MockClassifier struct {
	labels   []detection.Label
	accident int
	delay    time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockClassifier builds a mock over labels. The seed makes draws repeatable.
func NewMockClassifier(labels detection.LabelSet, accidentLabel string, delay time.Duration, seed uint64) (*MockClassifier, error) {
	all := labels.Labels()
	accident := -1
	for i, label := range all {
		if label == detection.Label(accidentLabel) {
			accident = i
		}
	}
	if accident < 0 {
		return nil, fmt.Errorf("accident label %q is not one of the configured labels", accidentLabel)
	}
	if len(all) < 2 {
		return nil, fmt.Errorf("mock classifier needs at least two labels, got %d", len(all))
	}
	if delay < 0 {
		delay = 0
	}
	return &MockClassifier{
		labels:   all,
		accident: accident,
		delay:    delay,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Classify waits for the simulated delay and returns a random distribution.
func (m *MockClassifier) Classify(ctx context.Context, imageBytes []byte) (*detection.Classification, error) {
	start := time.Now()
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, detection.NewClassificationError(BackendMock, ctx.Err())
		case <-timer.C:
		}
	}

	winner, p := m.draw()
	dist := make(detection.Distribution, len(m.labels))
	rest := (1 - p) / float64(len(m.labels)-1)
	for i, label := range m.labels {
		if i == winner {
			dist[label] = p
			continue
		}
		dist[label] = rest
	}
	return &detection.Classification{Probabilities: dist, Latency: time.Since(start)}, nil
}

func (m *MockClassifier) draw() (int, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	winner := m.accident
	if m.rng.Float64() >= mockAccidentRate {
		// Pick uniformly among the non-accident labels.
		winner = m.rng.IntN(len(m.labels) - 1)
		if winner >= m.accident {
			winner++
		}
	}
	return winner, mockMinWinner + m.rng.Float64()*(mockMaxWinner-mockMinWinner)
}

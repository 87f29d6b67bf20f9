package detection

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultThreshold is the minimum accident probability counted as a detection.
	DefaultThreshold = 0.7
	// SumTolerance bounds how far a distribution may sum away from 1.0.
	SumTolerance = 1e-4
)

// Engine converts probability distributions into decisions. It holds only
// immutable configuration and is safe for concurrent use.
type Engine struct {
	labels        LabelSet
	accidentLabel Label
	threshold     float64
	now           func() time.Time
	newID         func() string
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides the decision ID source.
func WithIDGenerator(newID func() string) EngineOption {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine validates the policy configuration and returns an Engine.
func NewEngine(labels LabelSet, accidentLabel string, threshold float64, opts ...EngineOption) (*Engine, error) {
	if labels.Len() == 0 {
		return nil, fmt.Errorf("engine requires a non-empty label set")
	}
	if !labels.Contains(Label(accidentLabel)) {
		return nil, fmt.Errorf("accident label %q is not one of the configured labels", accidentLabel)
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold %v outside [0,1]", threshold)
	}
	e := &Engine{
		labels:        labels,
		accidentLabel: Label(accidentLabel),
		threshold:     threshold,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Labels returns the configured label set.
func (e *Engine) Labels() LabelSet { return e.labels }

// AccidentLabel returns the label treated as a positive detection.
func (e *Engine) AccidentLabel() Label { return e.accidentLabel }

// Threshold returns the confidence threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Decide picks the most probable label and applies the accident threshold.
// Ties resolve to the earliest label in configured order. Malformed input is
// rejected with *InvalidDistributionError, never normalized.
func (e *Engine) Decide(dist Distribution, sourceLabel string, latency time.Duration) (Decision, error) {
	if err := e.validate(dist); err != nil {
		return Decision{}, err
	}

	predicted := e.labels.labels[0]
	confidence := dist[predicted]
	for _, label := range e.labels.labels[1:] {
		if p := dist[label]; p > confidence {
			predicted, confidence = label, p
		}
	}

	return Decision{
		ID:             e.newID(),
		PredictedClass: predicted,
		Confidence:     confidence,
		IsAccident:     predicted == e.accidentLabel && confidence >= e.threshold,
		Probabilities:  dist.Clone(),
		Timestamp:      e.now(),
		SourceLabel:    sourceLabel,
		Latency:        latency,
	}, nil
}

func (e *Engine) validate(dist Distribution) error {
	sum := 0.0
	for _, label := range e.labels.labels {
		p, ok := dist[label]
		if !ok {
			return invalidDistribution("missing label %q", label)
		}
		if math.IsNaN(p) || p < 0 || p > 1 {
			return invalidDistribution("probability %v for %q outside [0,1]", p, label)
		}
		sum += p
	}
	if len(dist) != e.labels.Len() {
		for label := range dist {
			if !e.labels.Contains(label) {
				return invalidDistribution("unexpected label %q", label)
			}
		}
	}
	if math.Abs(sum-1) > SumTolerance {
		return invalidDistribution("probabilities sum to %v", sum)
	}
	return nil
}

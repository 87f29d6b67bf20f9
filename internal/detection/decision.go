package detection

import (
	"maps"
	"time"
)

// Distribution maps each label to its probability.
type Distribution map[Label]float64

// Clone returns an independent copy of the distribution.
func (d Distribution) Clone() Distribution {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// Decision is the outcome of classifying one image. Treat it as immutable;
// use Clone before handing it to code that may retain it.
type Decision struct {
	ID             string
	PredictedClass Label
	Confidence     float64
	IsAccident     bool
	Probabilities  Distribution
	Timestamp      time.Time
	SourceLabel    string
	Latency        time.Duration
}

// Clone returns a deep copy of the decision.
func (d Decision) Clone() Decision {
	d.Probabilities = d.Probabilities.Clone()
	return d
}

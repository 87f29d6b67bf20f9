// Package stats aggregates decision history into summary figures.
package stats

import "github.com/example/accident-check/internal/detection"

// Stats summarizes a sequence of decisions.
type Stats struct {
	Total             int     `json:"total_predictions"`
	Accidents         int     `json:"accidents_detected"`
	NoAccidents       int     `json:"no_accidents"`
	AverageConfidence float64 `json:"average_confidence"`
	AccidentRate      float64 `json:"accident_rate"`
}

// Summarize computes totals, mean confidence, and the accident percentage.
// An empty input yields the zero Stats.
func Summarize(entries []detection.Decision) Stats {
	var (
		s   Stats
		sum float64
	)
	for _, d := range entries {
		if d.IsAccident {
			s.Accidents++
		}
		sum += d.Confidence
	}
	s.Total = len(entries)
	s.NoAccidents = s.Total - s.Accidents
	if s.Total > 0 {
		s.AverageConfidence = sum / float64(s.Total)
		s.AccidentRate = 100 * float64(s.Accidents) / float64(s.Total)
	}
	return s
}

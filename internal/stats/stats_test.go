package stats

import (
	"math"
	"testing"

	"github.com/example/accident-check/internal/detection"
)

func TestSummarizeEmpty(t *testing.T) {
	got := Summarize(nil)
	if got != (Stats{}) {
		t.Fatalf("expected zero stats, got %+v", got)
	}
}

func TestSummarizeMixedEntries(t *testing.T) {
	entries := []detection.Decision{
		{ID: "a", Confidence: 0.9, IsAccident: true},
		{ID: "b", Confidence: 0.3},
		{ID: "c", Confidence: 0.6},
	}

	got := Summarize(entries)
	if got.Total != 3 || got.Accidents != 1 || got.NoAccidents != 2 {
		t.Fatalf("unexpected counts: %+v", got)
	}
	if math.Abs(got.AverageConfidence-0.6) > 1e-9 {
		t.Fatalf("expected average confidence 0.6, got %v", got.AverageConfidence)
	}
	if math.Abs(got.AccidentRate-100.0/3) > 1e-9 {
		t.Fatalf("expected accident rate 33.33, got %v", got.AccidentRate)
	}
}

func TestSummarizeDoesNotMutateInput(t *testing.T) {
	entries := []detection.Decision{
		{ID: "a", Confidence: 0.75, IsAccident: true, Probabilities: detection.Distribution{"accident": 0.75, "no_accident": 0.25}},
	}

	first := Summarize(entries)
	second := Summarize(entries)
	if first != second {
		t.Fatalf("expected identical output, got %+v and %+v", first, second)
	}
	if entries[0].Confidence != 0.75 || !entries[0].IsAccident || entries[0].Probabilities["accident"] != 0.75 {
		t.Fatalf("input was mutated: %+v", entries[0])
	}
	if first.AccidentRate != 100 {
		t.Fatalf("expected 100%% accident rate, got %v", first.AccidentRate)
	}
}

package detection

import (
	"errors"
	"fmt"
	"strings"
)

// Label identifies a classifier output class.
type Label string

// Default class labels used by the accident model.
const (
	LabelAccident   Label = "accident"
	LabelNoAccident Label = "no_accident"
)

// LabelSet is the ordered set of labels a classifier produces. It is fixed at
// startup; the order decides ties between equal probabilities.
type LabelSet struct {
	labels []Label
	index  map[Label]int
}

// DefaultLabelSet returns the accident/no_accident pair in model output order.
func DefaultLabelSet() LabelSet {
	set, _ := NewLabelSet(string(LabelAccident), string(LabelNoAccident))
	return set
}

// NewLabelSet builds a label set preserving the given order.
func NewLabelSet(names ...string) (LabelSet, error) {
	if len(names) == 0 {
		return LabelSet{}, errors.New("label set must not be empty")
	}
	set := LabelSet{
		labels: make([]Label, 0, len(names)),
		index:  make(map[Label]int, len(names)),
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return LabelSet{}, errors.New("label names must not be blank")
		}
		label := Label(name)
		if _, dup := set.index[label]; dup {
			return LabelSet{}, fmt.Errorf("duplicate label %q", name)
		}
		set.index[label] = len(set.labels)
		set.labels = append(set.labels, label)
	}
	return set, nil
}

// Labels returns a copy of the labels in configured order.
func (s LabelSet) Labels() []Label {
	out := make([]Label, len(s.labels))
	copy(out, s.labels)
	return out
}

// Contains reports whether label belongs to the set.
func (s LabelSet) Contains(label Label) bool {
	_, ok := s.index[label]
	return ok
}

// Len returns the number of labels.
func (s LabelSet) Len() int {
	return len(s.labels)
}

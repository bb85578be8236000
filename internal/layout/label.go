// Package layout defines the page-layout data model shared by the normalizer,
// the fusion engine and the layout heuristics.
package layout

import (
	"errors"
	"fmt"
)

// Label is a page-element class emitted by the detector. The numeric values
// match the detector's class indices.
type Label int

const (
	LabelTable Label = iota
	LabelChart
	LabelTitle
)

// NumLabels is the number of known labels.
const NumLabels = 3

// ErrUnknownLabel is returned when a label name or class index is not recognized.
var ErrUnknownLabel = errors.New("unknown label")

// Labels returns all labels in class-index order.
func Labels() []Label {
	return []Label{LabelTable, LabelChart, LabelTitle}
}

// String returns the wire name of the label.
func (l Label) String() string {
	switch l {
	case LabelTable:
		return "table"
	case LabelChart:
		return "chart"
	case LabelTitle:
		return "title"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	switch l {
	case LabelTable, LabelChart, LabelTitle:
		return true
	default:
		return false
	}
}

// LabelFromClass maps a detector class index to its label.
func LabelFromClass(class int) (Label, error) {
	l := Label(class)
	if !l.Valid() {
		return 0, fmt.Errorf("%w: class index %d", ErrUnknownLabel, class)
	}
	return l, nil
}

// ParseLabel maps a wire name ("table", "chart", "title") to its label.
func ParseLabel(name string) (Label, error) {
	switch name {
	case "table":
		return LabelTable, nil
	case "chart":
		return LabelChart, nil
	case "title":
		return LabelTitle, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, name)
	}
}

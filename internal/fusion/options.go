package fusion

import (
	"errors"
	"fmt"
	"log/slog"
)

// ConfType selects how member confidences combine into a cluster confidence.
type ConfType string

// MergeType selects how member boxes combine into a cluster box.
type MergeType string

const (
	ConfAvg ConfType = "avg"
	ConfMax ConfType = "max"

	// MergeWeighted averages coordinates weighted by confidence.
	MergeWeighted MergeType = "weighted"
	// MergeBiggest takes the envelope of all member boxes.
	MergeBiggest MergeType = "biggest"
)

var (
	ErrInvalidConfType  = errors.New(`conf type must be "avg" or "max"`)
	ErrInvalidMergeType = errors.New(`merge type must be "weighted" or "biggest"`)
)

// ParseConfType validates a confidence merge name.
func ParseConfType(s string) (ConfType, error) {
	switch ConfType(s) {
	case ConfAvg, ConfMax:
		return ConfType(s), nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrInvalidConfType, s)
	}
}

// ParseMergeType validates a box merge name.
func ParseMergeType(s string) (MergeType, error) {
	switch MergeType(s) {
	case MergeWeighted, MergeBiggest:
		return MergeType(s), nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrInvalidMergeType, s)
	}
}

// Options controls a fusion run.
type Options struct {
	IoUThreshold  float64   // boxes match when IoU is strictly above this
	SkipThreshold float64   // boxes scoring below this are dropped
	ConfType      ConfType  // "avg" or "max"
	MergeType     MergeType // "weighted" or "biggest"
	ClassAgnostic bool      // cluster across labels
	Logger        *slog.Logger
}

// DefaultOptions returns the classic WBF defaults.
func DefaultOptions() Options {
	return Options{
		IoUThreshold:  0.5,
		SkipThreshold: 0.0,
		ConfType:      ConfAvg,
		MergeType:     MergeWeighted,
		ClassAgnostic: false,
	}
}

func (o Options) validate() error {
	if _, err := ParseConfType(string(o.ConfType)); err != nil {
		return err
	}
	if _, err := ParseMergeType(string(o.MergeType)); err != nil {
		return err
	}
	return nil
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

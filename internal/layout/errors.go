package layout

import "fmt"

// ShapeMismatchError reports a raw detector tensor whose dimensions do not
// match the configured class count. It is scoped to a single image.
type ShapeMismatchError struct {
	ImageIndex int
	Got        int
	Want       int
	Reason     string
}

func (e *ShapeMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("shape mismatch for image %d: %s", e.ImageIndex, e.Reason)
	}
	return fmt.Sprintf("shape mismatch for image %d: got row width %d, want %d", e.ImageIndex, e.Got, e.Want)
}

// PrecomputedDataMismatchError reports parallel input sequences whose lengths
// disagree. It is fatal for the whole call.
type PrecomputedDataMismatchError struct {
	Field string
	Got   int
	Want  int
}

func (e *PrecomputedDataMismatchError) Error() string {
	return fmt.Sprintf("precomputed data mismatch: %s has length %d, want %d", e.Field, e.Got, e.Want)
}

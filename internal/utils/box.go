package utils

import "math"

// Box represents an axis-aligned bounding box in corner form (x1, y1, x2, y2).
// Normalized boxes live in the unit square.
type Box struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// NewBox constructs a Box from min/max coordinates ensuring ordering.
func NewBox(x1, y1, x2, y2 float64) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{MinX: x1, MinY: y1, MaxX: x2, MaxY: y2}
}

// BoxFromCenter converts a center-form (cx, cy, w, h) box to corner form.
func BoxFromCenter(cx, cy, w, h float64) Box {
	return Box{MinX: cx - w/2, MinY: cy - h/2, MaxX: cx + w/2, MaxY: cy + h/2}
}

// Width returns the box width.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Height returns the box height.
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Area returns the box area. Inverted boxes report a non-positive area.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Coords returns the box as a [x1, y1, x2, y2] array.
func (b Box) Coords() [4]float64 { return [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY} }

// IsFinite reports whether all four coordinates are finite numbers.
func (b Box) IsFinite() bool {
	for _, v := range b.Coords() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// IsNormalized reports whether the box is ordered and inside [0,1]^4.
func (b Box) IsNormalized() bool {
	return 0 <= b.MinX && b.MinX <= b.MaxX && b.MaxX <= 1 &&
		0 <= b.MinY && b.MinY <= b.MaxY && b.MaxY <= 1
}

// ClipUnit clamps every coordinate to [0,1].
func (b Box) ClipUnit() Box {
	return Box{
		MinX: clampFloat(b.MinX, 0, 1),
		MinY: clampFloat(b.MinY, 0, 1),
		MaxX: clampFloat(b.MaxX, 0, 1),
		MaxY: clampFloat(b.MaxY, 0, 1),
	}
}

// Scale divides x coordinates by sx and y coordinates by sy.
func (b Box) Scale(sx, sy float64) Box {
	return Box{MinX: b.MinX / sx, MinY: b.MinY / sy, MaxX: b.MaxX / sx, MaxY: b.MaxY / sy}
}

// Round rounds every coordinate to the given number of decimal places.
func (b Box) Round(places int) Box {
	return Box{
		MinX: RoundTo(b.MinX, places),
		MinY: RoundTo(b.MinY, places),
		MaxX: RoundTo(b.MaxX, places),
		MaxY: RoundTo(b.MaxY, places),
	}
}

// IoU computes Intersection over Union of two boxes. Non-overlapping boxes
// and boxes with an empty union yield 0.
func IoU(a, b Box) float64 {
	iw := math.Max(math.Min(a.MaxX, b.MaxX)-math.Max(a.MinX, b.MinX), 0)
	ih := math.Max(math.Min(a.MaxY, b.MaxY)-math.Max(a.MinY, b.MinY), 0)
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if inter <= 0 || union <= 0 {
		return 0
	}
	return inter / union
}

// IoUBatch computes the IoU of every box in boxes against b.
func IoUBatch(boxes []Box, b Box) []float64 {
	out := make([]float64, len(boxes))
	for i, a := range boxes {
		out[i] = IoU(a, b)
	}
	return out
}

// MergeEnvelope returns the smallest box containing both a and b.
func MergeEnvelope(a, b Box) Box {
	return Box{
		MinX: math.Min(a.MinX, b.MinX),
		MinY: math.Min(a.MinY, b.MinY),
		MaxX: math.Max(a.MaxX, b.MaxX),
		MaxY: math.Max(a.MaxY, b.MaxY),
	}
}

// Expand scales the box width by rx and height by ry about its center and
// clips the result to the unit square.
func Expand(b Box, rx, ry float64) Box {
	dw := b.Width() / 2 * (rx - 1)
	dh := b.Height() / 2 * (ry - 1)
	return Box{
		MinX: b.MinX - dw,
		MinY: b.MinY - dh,
		MaxX: b.MaxX + dw,
		MaxY: b.MaxY + dh,
	}.ClipUnit()
}

// RoundTo rounds v to the given number of decimal places (half away from zero).
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

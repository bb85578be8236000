package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBox_OrdersCoordinates(t *testing.T) {
	b := NewBox(0.6, 0.4, 0.2, 0.1)
	assert.Equal(t, Box{MinX: 0.2, MinY: 0.1, MaxX: 0.6, MaxY: 0.4}, b)
}

func TestBoxFromCenter(t *testing.T) {
	b := BoxFromCenter(50, 40, 20, 10)
	assert.Equal(t, Box{MinX: 40, MinY: 35, MaxX: 60, MaxY: 45}, b)
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float64
	}{
		{"identical", NewBox(0, 0, 1, 1), NewBox(0, 0, 1, 1), 1},
		{"disjoint", NewBox(0, 0, 0.2, 0.2), NewBox(0.5, 0.5, 0.7, 0.7), 0},
		{"touching edge", NewBox(0, 0, 0.5, 0.5), NewBox(0.5, 0, 1, 0.5), 0},
		{"half overlap", NewBox(0, 0, 0.2, 0.1), NewBox(0.1, 0, 0.3, 0.1), 1.0 / 3.0},
		{"contained", NewBox(0, 0, 1, 1), NewBox(0.25, 0.25, 0.75, 0.75), 0.25},
		{"degenerate pair", NewBox(0.3, 0.3, 0.3, 0.3), NewBox(0.3, 0.3, 0.3, 0.3), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, IoU(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, IoU(tt.b, tt.a), 1e-9)
		})
	}
}

func TestIoU_NeverNegativeForSeparatedBoxes(t *testing.T) {
	// Both intersection extents are negative here; the product would be positive without clamping.
	a := NewBox(0, 0, 0.1, 0.1)
	b := NewBox(0.5, 0.5, 0.9, 0.9)
	assert.Zero(t, IoU(a, b))
}

func TestIoUBatch(t *testing.T) {
	ref := NewBox(0, 0, 0.2, 0.1)
	got := IoUBatch([]Box{ref, NewBox(0.1, 0, 0.3, 0.1), NewBox(0.5, 0.5, 0.6, 0.6)}, ref)
	assert.Len(t, got, 3)
	assert.InDelta(t, 1.0, got[0], 1e-9)
	assert.InDelta(t, 1.0/3.0, got[1], 1e-9)
	assert.Zero(t, got[2])
	assert.Empty(t, IoUBatch(nil, ref))
}

func TestMergeEnvelope(t *testing.T) {
	got := MergeEnvelope(NewBox(0.2, 0.2, 0.6, 0.4), NewBox(0.2, 0.05, 0.6, 0.18))
	assert.Equal(t, NewBox(0.2, 0.05, 0.6, 0.4), got)
}

func TestExpand(t *testing.T) {
	t.Run("about center", func(t *testing.T) {
		got := Expand(NewBox(0.4, 0.4, 0.6, 0.6), 1.5, 2)
		assert.InDelta(t, 0.35, got.MinX, 1e-9)
		assert.InDelta(t, 0.65, got.MaxX, 1e-9)
		assert.InDelta(t, 0.3, got.MinY, 1e-9)
		assert.InDelta(t, 0.7, got.MaxY, 1e-9)
	})
	t.Run("clipped to unit square", func(t *testing.T) {
		got := Expand(NewBox(0, 0.9, 0.5, 1), 1.5, 3)
		assert.True(t, got.IsNormalized())
		assert.Zero(t, got.MinX)
		assert.Equal(t, 1.0, got.MaxY)
	})
	t.Run("identity ratios", func(t *testing.T) {
		b := NewBox(0.1, 0.2, 0.3, 0.4)
		assert.Equal(t, b, Expand(b, 1, 1))
	})
}

func TestBox_ClipUnitAndFinite(t *testing.T) {
	b := Box{MinX: -0.5, MinY: math.Inf(-1), MaxX: 1.5, MaxY: 0.5}
	assert.False(t, b.IsFinite())
	c := b.ClipUnit()
	assert.Equal(t, Box{MinX: 0, MinY: 0, MaxX: 1, MaxY: 0.5}, c)
	assert.True(t, c.IsFinite())
	assert.False(t, Box{MinX: math.NaN()}.IsFinite())
}

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 0.1235, RoundTo(0.12345678, 4))
	assert.Equal(t, 0.26, RoundTo(0.26000000000000001, 4))
	assert.Equal(t, NewBox(0.1, 0.2, 0.3333, 0.6667), NewBox(0.1, 0.2, 1.0/3.0, 2.0/3.0).Round(4))
}

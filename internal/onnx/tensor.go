package onnx

import (
	"errors"
	"fmt"
)

// Tensor represents a simple float32 tensor in row-major order.
type Tensor struct {
	Data  []float32
	Shape []int64 // e.g. [N, C, H, W] for images, [N, candidates, values] for detections
}

// NewBatchImageTensor stacks images into an [N, C, H, W] tensor. All images
// must share the same (C, H, W) and be in CHW order.
func NewBatchImageTensor(images [][]float32, c, h, w int) (Tensor, error) {
	if len(images) == 0 {
		return Tensor{}, errors.New("empty batch")
	}
	per := c * h * w
	out := make([]float32, per*len(images))
	for i, d := range images {
		if len(d) != per {
			return Tensor{}, fmt.Errorf("image %d has length %d, want %d", i, len(d), per)
		}
		copy(out[i*per:(i+1)*per], d)
	}
	return Tensor{Data: out, Shape: []int64{int64(len(images)), int64(c), int64(h), int64(w)}}, nil
}

// Validate checks that Shape has the given rank, positive dimensions and
// matches the data length.
func (t Tensor) Validate(rank int) error {
	if len(t.Shape) != rank {
		return fmt.Errorf("shape rank %d != %d", len(t.Shape), rank)
	}
	n := int64(1)
	for i, v := range t.Shape {
		if v < 0 {
			return fmt.Errorf("dimension %d must be >= 0, got %d", i, v)
		}
		n *= v
	}
	if int64(len(t.Data)) != n {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), n, t.Shape)
	}
	return nil
}

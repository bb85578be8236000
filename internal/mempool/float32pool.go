// Package mempool pools the float32 buffers that back model input tensors.
// A letterboxed 1024x1024 RGB image needs three million floats, so batches
// reuse buffers instead of allocating per image.
package mempool

import (
	"sync"
)

const step = 1024

var float32Pools sync.Map // size class (int) -> *sync.Pool

// sizeClass rounds n up to the next multiple of 1024.
func sizeClass(n int) int {
	if n <= step {
		return step
	}
	return (n + step - 1) / step * step
}

func poolFor(cls int) *sync.Pool {
	pAny, _ := float32Pools.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]float32, cls) }})
	return pAny.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool values are stored
}

// GetFloat32 retrieves a []float32 buffer of length n from the pool.
// Contents are not zeroed. The caller must return it via PutFloat32.
func GetFloat32(n int) []float32 {
	cls := sizeClass(n)
	buf, ok := poolFor(cls).Get().([]float32)
	if !ok || cap(buf) < cls {
		buf = make([]float32, cls)
	}
	return buf[:n]
}

// PutFloat32 returns a buffer to the pool. It is safe to pass a nil slice.
// Buffers whose capacity is not a size class are dropped.
func PutFloat32(buf []float32) {
	if buf == nil || cap(buf) != sizeClass(cap(buf)) {
		return
	}
	poolFor(cap(buf)).Put(buf[:cap(buf)]) //nolint:staticcheck
}

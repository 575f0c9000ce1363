package tensor

import (
	"errors"
	"fmt"
	"sync"
)

// DType is the element type of a tensor
type DType string

const (
	Int32   DType = "int32"
	Float32 DType = "float32"
)

// ErrDisposed is returned when an operation reads a released tensor
var ErrDisposed = errors.New("tensor already disposed")

// Tensor is a dense row-major array owned by a Backend. Values are stored as
// float32 and truncated on cast to Int32.
type Tensor struct {
	id      uint64
	backend *Backend
	shape   []int
	dtype   DType
	data    []float32

	mu       sync.Mutex
	disposed bool
}

// Shape returns a copy of the dimensions
func (t *Tensor) Shape() []int {
	out := make([]int, len(t.shape))
	copy(out, t.shape)
	return out
}

// DType returns the element type
func (t *Tensor) DType() DType { return t.dtype }

// Size is the number of elements
func (t *Tensor) Size() int { return len(t.data) }

// Disposed reports whether Dispose has run
func (t *Tensor) Disposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// Dispose releases the tensor. Calling it again is a no-op.
func (t *Tensor) Dispose() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	t.data = nil
	t.mu.Unlock()

	t.backend.release(t.id)
}

// Float32s copies the values out
func (t *Tensor) Float32s() ([]float32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return nil, ErrDisposed
	}
	out := make([]float32, len(t.data))
	copy(out, t.data)
	return out, nil
}

// Int32s copies the values out truncated to int32
func (t *Tensor) Int32s() ([]int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return nil, ErrDisposed
	}
	out := make([]int32, len(t.data))
	for i, v := range t.data {
		out[i] = int32(v)
	}
	return out, nil
}

// Backend allocates tensors and tracks which ones are still live
type Backend struct {
	mu     sync.Mutex
	live   map[uint64]struct{}
	nextID uint64
}

// NewBackend returns an empty backend
func NewBackend() *Backend {
	return &Backend{live: make(map[uint64]struct{})}
}

// NumTensors counts tensors allocated and not yet disposed
func (b *Backend) NumTensors() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

func (b *Backend) release(id uint64) {
	b.mu.Lock()
	delete(b.live, id)
	b.mu.Unlock()
}

func (b *Backend) alloc(shape []int, dtype DType, data []float32) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension in shape %v", shape)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(data))
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.live[id] = struct{}{}
	b.mu.Unlock()

	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{id: id, backend: b, shape: s, dtype: dtype, data: data}, nil
}

package tensor

import (
	"fmt"
	"image"
	"math"
	"sync"

	"golang.org/x/image/draw"
)

// Scope records every tensor created through it and disposes them all when
// the enclosing Tidy returns, panics included.
type Scope struct {
	b *Backend

	mu      sync.Mutex
	tracked []*Tensor
}

// Tidy runs fn with a fresh scope and releases everything it allocated.
// A panic in fn is re-raised after the release.
func (b *Backend) Tidy(fn func(s *Scope) error) error {
	s := &Scope{b: b}
	defer s.releaseAll()
	return fn(s)
}

func (s *Scope) track(t *Tensor) *Tensor {
	s.mu.Lock()
	s.tracked = append(s.tracked, t)
	s.mu.Unlock()
	return t
}

func (s *Scope) releaseAll() {
	s.mu.Lock()
	tracked := s.tracked
	s.tracked = nil
	s.mu.Unlock()

	for _, t := range tracked {
		t.Dispose()
	}
}

// Len counts tensors the scope will release
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// FromValues wraps data in a tensor of the given shape
func (s *Scope) FromValues(shape []int, dtype DType, data []float32) (*Tensor, error) {
	t, err := s.b.alloc(shape, dtype, data)
	if err != nil {
		return nil, err
	}
	return s.track(t), nil
}

// FromPixels reads an image into an int32 [height, width, 3] tensor
func (s *Scope) FromPixels(img image.Image) (*Tensor, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty frame %dx%d", w, h)
	}

	data := make([]float32, 0, w*h*3)
	if rgba, ok := img.(*image.RGBA); ok {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			off := rgba.PixOffset(bounds.Min.X, y)
			row := rgba.Pix[off : off+w*4]
			for x := 0; x < w; x++ {
				data = append(data, float32(row[x*4]), float32(row[x*4+1]), float32(row[x*4+2]))
			}
		}
	} else {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				data = append(data, float32(r>>8), float32(g>>8), float32(b>>8))
			}
		}
	}
	return s.FromValues([]int{h, w, 3}, Int32, data)
}

// ResizeBilinear scales a [height, width, 3] pixel tensor to the given size.
// The result is float32.
func (s *Scope) ResizeBilinear(t *Tensor, height, width int) (*Tensor, error) {
	shape := t.Shape()
	if len(shape) != 3 || shape[2] != 3 {
		return nil, fmt.Errorf("resize needs [h, w, 3], got %v", shape)
	}
	values, err := t.Float32s()
	if err != nil {
		return nil, err
	}

	src := image.NewRGBA(image.Rect(0, 0, shape[1], shape[0]))
	for i := 0; i < shape[0]*shape[1]; i++ {
		src.Pix[i*4] = clampByte(values[i*3])
		src.Pix[i*4+1] = clampByte(values[i*3+1])
		src.Pix[i*4+2] = clampByte(values[i*3+2])
		src.Pix[i*4+3] = 0xff
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	if shape[0] == height && shape[1] == width {
		draw.Copy(dst, image.Point{}, src, src.Bounds(), draw.Src, nil)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}

	out := make([]float32, 0, width*height*3)
	for i := 0; i < width*height; i++ {
		out = append(out, float32(dst.Pix[i*4]), float32(dst.Pix[i*4+1]), float32(dst.Pix[i*4+2]))
	}
	return s.FromValues([]int{height, width, 3}, Float32, out)
}

// Cast converts to dtype, truncating toward zero for Int32
func (s *Scope) Cast(t *Tensor, dtype DType) (*Tensor, error) {
	values, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	if dtype == Int32 {
		for i, v := range values {
			values[i] = float32(math.Trunc(float64(v)))
		}
	}
	return s.FromValues(t.shape, dtype, values)
}

// ExpandDims inserts a dimension of size 1 at axis
func (s *Scope) ExpandDims(t *Tensor, axis int) (*Tensor, error) {
	if axis < 0 || axis > len(t.shape) {
		return nil, fmt.Errorf("axis %d out of range for rank %d", axis, len(t.shape))
	}
	values, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	shape := make([]int, 0, len(t.shape)+1)
	shape = append(shape, t.shape[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, t.shape[axis:]...)
	return s.FromValues(shape, t.dtype, values)
}

func clampByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

package overlay

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrCanvasDisposed is returned when drawing on a canvas torn down by camera off
var ErrCanvasDisposed = errors.New("overlay canvas disposed")

// Detections is the per-frame model output. Boxes are normalized
// [ymin, xmin, ymax, xmax]; the three slices are index-aligned.
type Detections struct {
	Boxes   [][4]float32
	Classes []int
	Scores  []float32
}

// Len is the number of candidate detections
func (d Detections) Len() int {
	n := len(d.Boxes)
	if len(d.Classes) < n {
		n = len(d.Classes)
	}
	if len(d.Scores) < n {
		n = len(d.Scores)
	}
	return n
}

// Box is one rectangle in canvas pixels
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Class  int     `json:"class"`
	Label  string  `json:"label"`
	Score  float32 `json:"score"`
	Text   string  `json:"text"`
}

// Frame is everything drawn for one result. An empty Boxes clears the overlay.
type Frame struct {
	Width  int   `json:"width"`
	Height int   `json:"height"`
	Boxes  []Box `json:"boxes"`
}

// Canvas is the overlay drawing surface
type Canvas interface {
	Size() (width, height int)
	Draw(f Frame) error
}

// Labels maps model class ids to display names
type Labels struct {
	mu   sync.RWMutex
	byID map[int]string
}

// NewLabels copies m
func NewLabels(m map[int]string) *Labels {
	l := &Labels{}
	l.Set(m)
	return l
}

// Set replaces the whole table
func (l *Labels) Set(m map[int]string) {
	c := make(map[int]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	l.mu.Lock()
	l.byID = c
	l.mu.Unlock()
}

// Name returns the label for class, or "class N" when unknown
func (l *Labels) Name(class int) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if name, ok := l.byID[class]; ok {
		return name
	}
	return fmt.Sprintf("class %d", class)
}

// Layout keeps detections scoring above threshold with a non-zero class and
// scales their boxes to a width x height canvas. Output is ordered by score,
// highest first.
func Layout(d Detections, threshold float32, width, height int, labels *Labels) []Box {
	var boxes []Box
	for i := 0; i < d.Len(); i++ {
		if d.Scores[i] <= threshold || d.Classes[i] == 0 {
			continue
		}
		b := d.Boxes[i]
		ymin, xmin := clamp01(b[0]), clamp01(b[1])
		ymax, xmax := clamp01(b[2]), clamp01(b[3])
		if ymax <= ymin || xmax <= xmin {
			continue
		}

		label := labels.Name(d.Classes[i])
		boxes = append(boxes, Box{
			X:      float64(xmin) * float64(width),
			Y:      float64(ymin) * float64(height),
			Width:  float64(xmax-xmin) * float64(width),
			Height: float64(ymax-ymin) * float64(height),
			Class:  d.Classes[i],
			Label:  label,
			Score:  d.Scores[i],
			Text:   fmt.Sprintf("%s - %.2f", label, math.Round(float64(d.Scores[i])*100)/100),
		})
	}
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Score > boxes[j].Score })
	return boxes
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Renderer draws detections on the overlay canvas
type Renderer struct {
	canvas Canvas
	labels *Labels
}

// NewRenderer creates a renderer for canvas
func NewRenderer(canvas Canvas, labels *Labels) *Renderer {
	return &Renderer{canvas: canvas, labels: labels}
}

// Labels exposes the label table for hot reload
func (r *Renderer) Labels() *Labels {
	return r.labels
}

// Render replaces the overlay contents with the detections above threshold.
// It returns ErrCanvasDisposed when the canvas was torn down meanwhile.
func (r *Renderer) Render(d Detections, threshold float32) (int, error) {
	w, h := r.canvas.Size()
	if w == 0 || h == 0 {
		return 0, ErrCanvasDisposed
	}
	boxes := Layout(d, threshold, w, h, r.labels)
	if err := r.canvas.Draw(Frame{Width: w, Height: h, Boxes: boxes}); err != nil {
		return 0, fmt.Errorf("draw overlay: %w", err)
	}
	return len(boxes), nil
}

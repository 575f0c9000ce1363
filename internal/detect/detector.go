package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"easytalking/internal/camera"
	"easytalking/internal/logging"
	"easytalking/internal/overlay"
	"easytalking/internal/tensor"
)

// Model runs inference on a batched input tensor
type Model interface {
	ExecuteAsync(ctx context.Context, s *tensor.Scope, input *tensor.Tensor) ([]*tensor.Tensor, error)
}

// FrameSource is the video surface the loop reads from
type FrameSource interface {
	ReadyState() camera.ReadyState
	CurrentFrame() (camera.Frame, error)
	Generation() uint64
}

// Renderer draws a frame result on the overlay
type Renderer interface {
	Render(d overlay.Detections, threshold float32) (int, error)
}

// Options configures the frame loop
type Options struct {
	InputWidth  int
	InputHeight int
	Interval    time.Duration
	Threshold   float32
	Outputs     OutputIndices
}

// Stats counts what happened to each tick
type Stats struct {
	Ticks     int64 `json:"ticks"`
	NotReady  int64 `json:"notReady"`
	Skipped   int64 `json:"skipped"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Drawn     int64 `json:"drawn"`
}

// Detector is the fixed-interval frame loop. At most one frame is in flight;
// ticks arriving meanwhile are skipped.
type Detector struct {
	backend  *tensor.Backend
	source   FrameSource
	renderer Renderer
	opts     Options

	mu        sync.RWMutex
	model     Model
	threshold float32

	busy atomic.Bool
	wg   sync.WaitGroup

	ticks, notReady, skipped, processed, failed, dropped, drawn atomic.Int64
}

// NewDetector creates a loop; it does nothing until a model is set
func NewDetector(backend *tensor.Backend, source FrameSource, renderer Renderer, opts Options) *Detector {
	if opts.Interval <= 0 {
		opts.Interval = time.Second / 60
	}
	return &Detector{
		backend:   backend,
		source:    source,
		renderer:  renderer,
		opts:      opts,
		threshold: opts.Threshold,
	}
}

// SetModel installs the loaded model
func (d *Detector) SetModel(m Model) {
	d.mu.Lock()
	d.model = m
	d.mu.Unlock()
}

// SetThreshold changes the confidence threshold for later frames
func (d *Detector) SetThreshold(t float32) {
	d.mu.Lock()
	d.threshold = t
	d.mu.Unlock()
}

func (d *Detector) current() (Model, float32) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.model, d.threshold
}

// Run ticks until ctx is done, then waits for the frame in flight
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()
	logging.Info("Frame loop started", "interval", d.opts.Interval.String())

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			logging.Info("Frame loop stopped", "stats", d.Stats())
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick starts processing the current frame when the model and the video are
// ready and no frame is in flight. It reports whether a frame was started.
func (d *Detector) Tick(ctx context.Context) bool {
	d.ticks.Add(1)

	if m, _ := d.current(); m == nil {
		return false
	}
	if d.source.ReadyState() < camera.HaveCurrentData {
		d.notReady.Add(1)
		return false
	}
	if !d.busy.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.busy.Store(false)
		if err := d.ProcessFrame(ctx); err != nil {
			logging.Debug("Frame failed", "error", err)
		}
	}()
	return true
}

// Wait blocks until the frame in flight, if any, has finished
func (d *Detector) Wait() {
	d.wg.Wait()
}

// ProcessFrame runs one frame synchronously. Results that arrive after the
// stream changed or the canvas was torn down are dropped without error.
func (d *Detector) ProcessFrame(ctx context.Context) (err error) {
	model, threshold := d.current()
	if model == nil {
		return ErrModelNotLoaded
	}

	frame, err := d.source.CurrentFrame()
	if err != nil {
		d.notReady.Add(1)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("frame panicked: %v", r)
		}
		if err != nil {
			d.failed.Add(1)
		}
	}()

	var result overlay.Detections
	err = d.backend.Tidy(func(s *tensor.Scope) error {
		pixels, err := s.FromPixels(frame.Image)
		if err != nil {
			return err
		}
		resized, err := s.ResizeBilinear(pixels, d.opts.InputHeight, d.opts.InputWidth)
		if err != nil {
			return err
		}
		cast, err := s.Cast(resized, tensor.Int32)
		if err != nil {
			return err
		}
		batched, err := s.ExpandDims(cast, 0)
		if err != nil {
			return err
		}

		outputs, err := model.ExecuteAsync(ctx, s, batched)
		if err != nil {
			return err
		}
		result, err = Extract(outputs, d.opts.Outputs)
		return err
	})
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	d.processed.Add(1)

	if d.source.Generation() != frame.Generation {
		d.dropped.Add(1)
		return nil
	}
	n, err := d.renderer.Render(result, threshold)
	if errors.Is(err, overlay.ErrCanvasDisposed) {
		d.dropped.Add(1)
		return nil
	}
	if err != nil {
		return err
	}
	d.drawn.Add(int64(n))
	return nil
}

// Stats returns a snapshot of the counters
func (d *Detector) Stats() Stats {
	return Stats{
		Ticks:     d.ticks.Load(),
		NotReady:  d.notReady.Load(),
		Skipped:   d.skipped.Load(),
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Drawn:     d.drawn.Load(),
	}
}

package detect

import (
	"context"
	"fmt"
	"time"

	"easytalking/internal/logging"
	"easytalking/internal/state"
)

// ServingRuntime starts and stops the inference server
type ServingRuntime interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Readiness reports when the served model can take requests
type Readiness interface {
	WaitReady(ctx context.Context, poll time.Duration) error
}

// Fetcher makes the model available on disk
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// StatusSink receives model lifecycle changes
type StatusSink interface {
	SetDetector(state.DetectorStatus)
}

// Loader takes the model from a remote URL to a running server and hands it
// to the frame loop. A failure only disables detection.
type Loader struct {
	fetcher  Fetcher
	runtime  ServingRuntime
	ready    Readiness
	model    Model
	detector *Detector
	sink     StatusSink
	poll     time.Duration
}

// NewLoader wires the model lifecycle together
func NewLoader(fetcher Fetcher, runtime ServingRuntime, ready Readiness, model Model, detector *Detector, sink StatusSink) *Loader {
	return &Loader{
		fetcher:  fetcher,
		runtime:  runtime,
		ready:    ready,
		model:    model,
		detector: detector,
		sink:     sink,
		poll:     500 * time.Millisecond,
	}
}

// Load runs once at startup. Errors are returned for logging; the caller
// must not treat them as fatal.
func (l *Loader) Load(ctx context.Context) error {
	l.sink.SetDetector(state.DetectorLoading)

	if err := l.load(ctx); err != nil {
		l.sink.SetDetector(state.DetectorFailed)
		logging.Error("Detection disabled", "error", err)
		return err
	}

	l.detector.SetModel(l.model)
	l.sink.SetDetector(state.DetectorReady)
	return nil
}

func (l *Loader) load(ctx context.Context) error {
	path, err := l.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch model: %w", err)
	}
	logging.Info("Model on disk", "path", path)

	if err := l.runtime.Start(ctx); err != nil {
		return fmt.Errorf("start model server: %w", err)
	}
	if err := l.ready.WaitReady(ctx, l.poll); err != nil {
		l.runtime.Stop(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

// Shutdown stops the model server
func (l *Loader) Shutdown(ctx context.Context) error {
	l.detector.SetModel(nil)
	return l.runtime.Stop(ctx)
}

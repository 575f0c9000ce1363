package camera

import (
	"context"
	"fmt"
	"sync"

	"easytalking/internal/logging"
	"easytalking/internal/state"
)

// StateSink receives the camera flag for the UI
type StateSink interface {
	SetCamera(state.CameraState)
}

// Session is the Off/On camera state machine. It exclusively owns the stream.
type Session struct {
	media   MediaDevices
	surface VideoSurface
	canvas  Canvas
	sink    StateSink

	mu     sync.Mutex
	stream Stream
}

// NewSession wires the camera ports together
func NewSession(media MediaDevices, surface VideoSurface, canvas Canvas, sink StateSink) *Session {
	return &Session{media: media, surface: surface, canvas: canvas, sink: sink}
}

// IsOn reports whether a stream is active
func (s *Session) IsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Toggle turns the camera on when it is off and off when it is on.
// A failed permission request leaves the camera off and returns the error;
// the error is informational and the caller may simply log it.
func (s *Session) Toggle(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		s.turnOff()
		return false, nil
	}
	if err := s.turnOn(ctx); err != nil {
		logging.Warn("Camera unavailable", "error", err)
		return false, err
	}
	return true, nil
}

// Close turns the camera off if it is on
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		s.turnOff()
	}
}

func (s *Session) turnOn(ctx context.Context) error {
	stream, err := s.media.GetUserMedia(ctx, Constraints{Video: true})
	if err != nil {
		return fmt.Errorf("request camera: %w", err)
	}

	s.surface.Attach(stream)
	if err := s.canvas.Resize(stream.Width(), stream.Height()); err != nil {
		// not fatal: the overlay catches up on the next resize
		logging.Warn("Failed to size overlay canvas", "error", err)
	}
	s.stream = stream

	s.sink.SetCamera(state.CameraState{
		On:       true,
		StreamID: stream.ID(),
		Width:    stream.Width(),
		Height:   stream.Height(),
	})
	logging.Info("Camera on", "stream", stream.ID(), "width", stream.Width(), "height", stream.Height())
	return nil
}

func (s *Session) turnOff() {
	id := s.stream.ID()
	s.stream.Stop()
	s.surface.Detach()
	s.canvas.Dispose()
	s.stream = nil

	s.sink.SetCamera(state.CameraState{})
	logging.Info("Camera off", "stream", id)
}

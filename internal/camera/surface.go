package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
)

// ErrNoFrame is returned when no decoded frame is available
var ErrNoFrame = errors.New("no video frame available")

// Frame is one decoded video frame tagged with the surface generation it
// was captured under
type Frame struct {
	Image      image.Image
	Generation uint64
}

// FrameSurface is the video surface on the Go side. The webview attaches the
// stream to its <video> element and pushes encoded frames back; the surface
// keeps the latest one.
type FrameSurface struct {
	mu       sync.RWMutex
	streamID string
	ready    ReadyState
	frame    image.Image
	gen      uint64
	pushed   int64
	rejected int64
}

// NewFrameSurface returns an empty surface
func NewFrameSurface() *FrameSurface {
	return &FrameSurface{}
}

// Attach binds a stream. Metadata is known from the stream, frames are not yet.
func (f *FrameSurface) Attach(s Stream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamID = s.ID()
	f.ready = HaveMetadata
	f.frame = nil
	f.gen++
}

// Detach unbinds the stream and drops the last frame
func (f *FrameSurface) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamID = ""
	f.ready = HaveNothing
	f.frame = nil
	f.gen++
}

// ReadyState reports how much of the stream is decoded
func (f *FrameSurface) ReadyState() ReadyState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ready
}

// Generation changes every time a stream is attached or detached
func (f *FrameSurface) Generation() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.gen
}

// PushFrame decodes a JPEG or PNG frame for streamID. Frames from a stream
// that is no longer attached are rejected.
func (f *FrameSurface) PushFrame(streamID string, data []byte) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		f.mu.Lock()
		f.rejected++
		f.mu.Unlock()
		return fmt.Errorf("decode frame: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if streamID == "" || streamID != f.streamID {
		f.rejected++
		return fmt.Errorf("frame for stream %q, attached %q", streamID, f.streamID)
	}
	f.frame = img
	f.ready = HaveEnoughData
	f.pushed++
	return nil
}

// CurrentFrame returns the latest frame with the generation it belongs to
func (f *FrameSurface) CurrentFrame() (Frame, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.frame == nil || f.ready < HaveCurrentData {
		return Frame{}, ErrNoFrame
	}
	return Frame{Image: f.frame, Generation: f.gen}, nil
}

// Counts reports pushed and rejected frames
func (f *FrameSurface) Counts() (pushed, rejected int64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pushed, f.rejected
}

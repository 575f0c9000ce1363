package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"easytalking/internal/state"
)

type fakeStream struct {
	id      string
	stopped int
}

func (s *fakeStream) ID() string  { return s.id }
func (s *fakeStream) Width() int  { return 640 }
func (s *fakeStream) Height() int { return 480 }
func (s *fakeStream) Stop()       { s.stopped++ }

type fakeMedia struct {
	err      error
	requests []Constraints
	streams  []*fakeStream
}

func (m *fakeMedia) GetUserMedia(_ context.Context, c Constraints) (Stream, error) {
	m.requests = append(m.requests, c)
	if m.err != nil {
		return nil, m.err
	}
	s := &fakeStream{id: "stream-" + string(rune('a'+len(m.streams)))}
	m.streams = append(m.streams, s)
	return s, nil
}

type fakeCanvas struct {
	width, height int
	disposed      int
}

func (c *fakeCanvas) Resize(w, h int) error {
	c.width, c.height = w, h
	return nil
}

func (c *fakeCanvas) Dispose() { c.disposed++ }

type cameraSink struct {
	states []state.CameraState
}

func (c *cameraSink) SetCamera(s state.CameraState) { c.states = append(c.states, s) }

func TestToggleOnThenOffReleasesStream(t *testing.T) {
	media := &fakeMedia{}
	surface := NewFrameSurface()
	canvas := &fakeCanvas{}
	sink := &cameraSink{}
	s := NewSession(media, surface, canvas, sink)

	on, err := s.Toggle(context.Background())
	if err != nil || !on {
		t.Fatalf("first Toggle = %v, %v; want true, nil", on, err)
	}
	if len(media.requests) != 1 || !media.requests[0].Video || media.requests[0].Audio {
		t.Errorf("requests = %+v, want one video-only request", media.requests)
	}
	if canvas.width != 640 || canvas.height != 480 {
		t.Errorf("canvas = %dx%d, want 640x480", canvas.width, canvas.height)
	}
	if surface.ReadyState() != HaveMetadata {
		t.Errorf("ready state = %v, want metadata", surface.ReadyState())
	}

	on, err = s.Toggle(context.Background())
	if err != nil || on {
		t.Fatalf("second Toggle = %v, %v; want false, nil", on, err)
	}
	if s.IsOn() {
		t.Error("session still on")
	}
	if media.streams[0].stopped != 1 {
		t.Errorf("stream stopped %d times, want 1", media.streams[0].stopped)
	}
	if surface.ReadyState() != HaveNothing {
		t.Error("surface still attached")
	}
	if canvas.disposed != 1 {
		t.Errorf("canvas disposed %d times, want 1", canvas.disposed)
	}
	if len(media.requests) != 1 {
		t.Error("turning off requested the camera again")
	}

	if len(sink.states) != 2 || !sink.states[0].On || sink.states[1].On {
		t.Errorf("camera states = %+v", sink.states)
	}
	if sink.states[1].StreamID != "" {
		t.Error("off state still carries a stream handle")
	}
}

func TestToggleDeniedStaysOff(t *testing.T) {
	media := &fakeMedia{err: ErrPermissionDenied}
	canvas := &fakeCanvas{}
	sink := &cameraSink{}
	s := NewSession(media, NewFrameSurface(), canvas, sink)

	on, err := s.Toggle(context.Background())
	if on {
		t.Error("Toggle reported on after denial")
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
	if s.IsOn() || len(sink.states) != 0 || canvas.width != 0 {
		t.Error("denied request changed camera state")
	}

	// manual retry asks again
	media.err = nil
	if on, _ := s.Toggle(context.Background()); !on {
		t.Error("retry after denial did not turn the camera on")
	}
}

func TestCloseTurnsCameraOff(t *testing.T) {
	media := &fakeMedia{}
	s := NewSession(media, NewFrameSurface(), &fakeCanvas{}, &cameraSink{})
	s.Close()
	if len(media.requests) != 0 {
		t.Error("Close on an off camera requested media")
	}

	s.Toggle(context.Background())
	s.Close()
	if s.IsOn() || media.streams[0].stopped != 1 {
		t.Error("Close left the stream running")
	}
}

func pngFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFrameSurfaceReadiness(t *testing.T) {
	f := NewFrameSurface()
	if _, err := f.CurrentFrame(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("CurrentFrame on empty surface err = %v", err)
	}

	stream := &fakeStream{id: "s1"}
	f.Attach(stream)
	gen := f.Generation()
	if _, err := f.CurrentFrame(); !errors.Is(err, ErrNoFrame) {
		t.Error("frame available before any push")
	}

	if err := f.PushFrame("s1", pngFrame(t)); err != nil {
		t.Fatalf("PushFrame: %v", err)
	}
	if f.ReadyState() < HaveCurrentData {
		t.Errorf("ready state = %v after push", f.ReadyState())
	}
	frame, err := f.CurrentFrame()
	if err != nil {
		t.Fatalf("CurrentFrame: %v", err)
	}
	if frame.Generation != gen || frame.Image.Bounds().Dx() != 4 {
		t.Errorf("frame = gen %d, %v", frame.Generation, frame.Image.Bounds())
	}

	f.Detach()
	if f.Generation() == gen {
		t.Error("generation unchanged after detach")
	}
	if _, err := f.CurrentFrame(); !errors.Is(err, ErrNoFrame) {
		t.Error("frame still available after detach")
	}
}

func TestFrameSurfaceRejectsStaleAndGarbage(t *testing.T) {
	f := NewFrameSurface()
	f.Attach(&fakeStream{id: "new"})

	if err := f.PushFrame("old", pngFrame(t)); err == nil {
		t.Error("frame from a detached stream accepted")
	}
	if err := f.PushFrame("new", []byte("not an image")); err == nil {
		t.Error("garbage frame accepted")
	}
	if f.ReadyState() != HaveMetadata {
		t.Errorf("ready state = %v, want metadata", f.ReadyState())
	}
	pushed, rejected := f.Counts()
	if pushed != 0 || rejected != 2 {
		t.Errorf("counts = %d pushed, %d rejected", pushed, rejected)
	}
}

func TestReadyStateString(t *testing.T) {
	if HaveCurrentData.String() != "current-data" || ReadyState(9).String() != "unknown" {
		t.Error("unexpected ReadyState names")
	}
}

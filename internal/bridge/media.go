package bridge

import (
	"context"
	"fmt"
	"sync"

	"easytalking/internal/camera"
	"easytalking/internal/logging"
	"easytalking/internal/overlay"
)

// MediaRequest is the payload of media:request
type MediaRequest struct {
	ID          string             `json:"id"`
	Constraints camera.Constraints `json:"constraints"`
}

// MediaGrant is what the frontend reports once getUserMedia resolved and the
// video metadata loaded
type MediaGrant struct {
	StreamID string `json:"streamId"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// MediaDevices requests streams from the webview getUserMedia
type MediaDevices struct {
	em      Emitter
	pending *Pending[MediaGrant]
}

// NewMediaDevices creates the webview camera port
func NewMediaDevices(em Emitter) *MediaDevices {
	return &MediaDevices{em: em, pending: NewPending[MediaGrant]()}
}

// GetUserMedia implements camera.MediaDevices
func (m *MediaDevices) GetUserMedia(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	req, err := m.pending.Open()
	if err != nil {
		return nil, err
	}
	m.em.Emit(EventMediaRequest, MediaRequest{ID: req.ID, Constraints: c})

	grant, err := req.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &webviewStream{em: m.em, grant: grant}, nil
}

// Resolve is called by the frontend with the grant or the DOMException name
func (m *MediaDevices) Resolve(id string, grant MediaGrant, errName string) error {
	return m.pending.Resolve(id, grant, mediaError(errName, grant))
}

// Close fails any request still waiting on the permission prompt
func (m *MediaDevices) Close() {
	m.pending.Close()
}

func mediaError(name string, grant MediaGrant) error {
	switch name {
	case "":
		if grant.StreamID == "" {
			return fmt.Errorf("getUserMedia returned no stream")
		}
		return nil
	case "NotAllowedError", "PermissionDeniedError", "SecurityError":
		return fmt.Errorf("%w: %s", camera.ErrPermissionDenied, name)
	case "NotFoundError", "DevicesNotFoundError", "OverconstrainedError":
		return fmt.Errorf("%w: %s", camera.ErrNoDevice, name)
	}
	return fmt.Errorf("getUserMedia: %s", name)
}

type webviewStream struct {
	em    Emitter
	grant MediaGrant
	once  sync.Once
}

func (s *webviewStream) ID() string  { return s.grant.StreamID }
func (s *webviewStream) Width() int  { return s.grant.Width }
func (s *webviewStream) Height() int { return s.grant.Height }

// Stop asks the frontend to stop every track and clear the video element
func (s *webviewStream) Stop() {
	s.once.Do(func() {
		s.em.Emit(EventMediaStop, map[string]string{"streamId": s.grant.StreamID})
	})
}

// Canvas is the overlay canvas in the webview. Between Dispose and the next
// Resize every draw fails with overlay.ErrCanvasDisposed.
type Canvas struct {
	em Emitter

	mu            sync.Mutex
	width, height int
	draws         int64
}

// NewCanvas creates a disposed canvas; the first Resize brings it up
func NewCanvas(em Emitter) *Canvas {
	return &Canvas{em: em}
}

// Resize implements camera.Canvas
func (c *Canvas) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid canvas size %dx%d", width, height)
	}
	c.mu.Lock()
	c.width, c.height = width, height
	c.mu.Unlock()
	c.em.Emit(EventOverlaySize, map[string]int{"width": width, "height": height})
	return nil
}

// Dispose implements camera.Canvas
func (c *Canvas) Dispose() {
	c.mu.Lock()
	c.width, c.height = 0, 0
	c.mu.Unlock()
	c.em.Emit(EventOverlayClear)
}

// Size implements overlay.Canvas
func (c *Canvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Draw implements overlay.Canvas. The frontend paints on its next animation frame.
func (c *Canvas) Draw(f overlay.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// the frame was laid out for a canvas that has since been torn down or resized
	if c.width == 0 || f.Width != c.width || f.Height != c.height {
		return overlay.ErrCanvasDisposed
	}
	c.draws++
	c.em.Emit(EventOverlayDraw, f)
	if c.draws%600 == 0 {
		logging.Debug("Overlay draws", "count", c.draws)
	}
	return nil
}

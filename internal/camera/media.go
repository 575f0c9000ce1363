package camera

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned when the user or the OS refuses camera access
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoDevice is returned when no camera is available
	ErrNoDevice = errors.New("no camera available")
)

// Constraints selects the tracks requested from the platform
type Constraints struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

// Stream is an active media stream. Its lifetime is exactly one On period.
type Stream interface {
	ID() string
	// Width and Height are the native video resolution
	Width() int
	Height() int
	// Stop ends every track of the stream
	Stop()
}

// MediaDevices requests camera streams from the platform
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
}

// ReadyState mirrors HTMLMediaElement.readyState
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

func (r ReadyState) String() string {
	switch r {
	case HaveNothing:
		return "nothing"
	case HaveMetadata:
		return "metadata"
	case HaveCurrentData:
		return "current-data"
	case HaveFutureData:
		return "future-data"
	case HaveEnoughData:
		return "enough-data"
	}
	return "unknown"
}

// VideoSurface displays a stream
type VideoSurface interface {
	Attach(s Stream)
	Detach()
}

// Canvas is the overlay drawing surface layered over the video
type Canvas interface {
	Resize(width, height int) error
	// Dispose tears the surface down; later draws must fail until the next Resize
	Dispose()
}

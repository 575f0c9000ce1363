package bridge

import (
	"context"

	"easytalking/internal/state"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// Events emitted to the webview
const (
	EventStateChanged = "state:changed"
	EventSpeak        = "speech:speak"
	EventListen       = "speech:listen"
	EventSpeechState  = "speech:state"
	EventMediaRequest = "media:request"
	EventMediaStop    = "media:stop"
	EventOverlaySize  = "overlay:resize"
	EventOverlayDraw  = "overlay:draw"
	EventOverlayClear = "overlay:clear"
)

// Emitter sends one event to the frontend
type Emitter interface {
	Emit(event string, data ...interface{})
}

// WailsEmitter emits through the wails runtime of a started app
type WailsEmitter struct {
	ctx context.Context
}

// NewWailsEmitter wraps the context passed to OnStartup
func NewWailsEmitter(ctx context.Context) *WailsEmitter {
	return &WailsEmitter{ctx: ctx}
}

// Emit implements Emitter
func (w *WailsEmitter) Emit(event string, data ...interface{}) {
	runtime.EventsEmit(w.ctx, event, data...)
}

// StateChange is the payload of state:changed
type StateChange struct {
	Change state.Change   `json:"change"`
	State  state.AppState `json:"state"`
}

// ForwardState pushes every store change to the frontend and returns the
// unsubscribe function
func ForwardState(store *state.Manager, em Emitter) func() {
	return store.Subscribe(func(change state.Change, snap state.AppState) {
		em.Emit(EventStateChanged, StateChange{Change: change, State: snap})
		if change == state.ChangeListening {
			em.Emit(EventSpeechState, snap.Listening)
		}
	})
}

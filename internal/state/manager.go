package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Change names what part of the state moved, so observers can skip work
type Change string

const (
	ChangeMessages  Change = "messages"
	ChangeLanguage  Change = "language"
	ChangeInput     Change = "input"
	ChangeListening Change = "listening"
	ChangeCamera    Change = "camera"
	ChangeDetector  Change = "detector"
)

// Observer receives a snapshot after every mutation, in mutation order.
// Observers must not mutate the state.
type Observer func(change Change, snapshot AppState)

// Manager owns the application state. Every adapter reads and writes through it.
type Manager struct {
	state *AppState
	mu    sync.RWMutex

	// serializes mutate+notify so observers see changes in order
	notifyMu sync.Mutex

	obsMu     sync.RWMutex
	observers []subscription
	nextObsID int

	now   func() time.Time
	newID func() string
}

// NewManager creates a manager holding a fresh session
func NewManager() *Manager {
	m := &Manager{
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	m.state = NewAppState(m.now(), m.newID())
	return m
}

// Subscribe registers an observer and returns a function removing it.
// Observers are called in the order they subscribed.
func (m *Manager) Subscribe(o Observer) func() {
	m.obsMu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers = append(m.observers, subscription{id: id, o: o})
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		for i, sub := range m.observers {
			if sub.id == id {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

type subscription struct {
	id int
	o  Observer
}

func (m *Manager) notify(change Change, snap AppState) {
	m.obsMu.RLock()
	obs := make([]Observer, 0, len(m.observers))
	for _, sub := range m.observers {
		obs = append(obs, sub.o)
	}
	m.obsMu.RUnlock()

	for _, o := range obs {
		o(change, snap)
	}
}

// update applies fn under the write lock and notifies observers afterwards
func (m *Manager) update(change Change, fn func(s *AppState) bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	changed := fn(m.state)
	snap := m.state.clone()
	m.mu.Unlock()

	if changed {
		m.notify(change, snap)
	}
}

// Snapshot returns a copy of the current state
func (m *Manager) Snapshot() AppState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// Messages returns the chat history in insertion order
func (m *Manager) Messages() []ChatMessage {
	return m.Snapshot().Messages
}

// AppendMessages appends msgs in order, stamping IDs and times.
// Observers see one notification for the whole batch.
func (m *Manager) AppendMessages(msgs ...ChatMessage) []ChatMessage {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]ChatMessage, len(msgs))
	m.update(ChangeMessages, func(s *AppState) bool {
		for i, msg := range msgs {
			msg.ID = m.newID()
			msg.CreatedAt = m.now()
			s.Messages = append(s.Messages, msg)
			out[i] = msg
		}
		return true
	})
	return out
}

// Language returns the active language
func (m *Manager) Language() Language {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Language
}

// ToggleLanguage flips between English and Korean and returns the new value
func (m *Manager) ToggleLanguage() Language {
	var lang Language
	m.update(ChangeLanguage, func(s *AppState) bool {
		s.Language = s.Language.Other()
		s.Locale = s.Language.Locale()
		lang = s.Language
		return true
	})
	return lang
}

// Input returns the text box contents
func (m *Manager) Input() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Input
}

// SetInput replaces the text box contents
func (m *Manager) SetInput(text string) {
	m.update(ChangeInput, func(s *AppState) bool {
		if s.Input == text {
			return false
		}
		s.Input = text
		return true
	})
}

// SetListening updates the microphone affordance
func (m *Manager) SetListening(l ListeningState) {
	m.update(ChangeListening, func(s *AppState) bool {
		if s.Listening == l {
			return false
		}
		s.Listening = l
		return true
	})
}

// Camera returns the camera flag
func (m *Manager) Camera() CameraState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Camera
}

// SetCamera records the camera session state
func (m *Manager) SetCamera(c CameraState) {
	m.update(ChangeCamera, func(s *AppState) bool {
		if s.Camera == c {
			return false
		}
		s.Camera = c
		return true
	})
}

// SetDetector records the model lifecycle state
func (m *Manager) SetDetector(d DetectorStatus) {
	m.update(ChangeDetector, func(s *AppState) bool {
		if s.Detector == d {
			return false
		}
		s.Detector = d
		return true
	})
}

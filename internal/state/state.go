package state

import "time"

// Sender identifies who a chat bubble belongs to
type Sender string

const (
	SenderUser     Sender = "user"
	SenderResponse Sender = "response"
)

// GreetingText is the response bubble every session starts with
const GreetingText = "수화를 말자막"

// ChatMessage is one bubble in the chat window. Messages are never edited.
type ChatMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// Language is one of the two supported spoken languages
type Language string

const (
	English Language = "English"
	Korean  Language = "한국어"
)

// Locale returns the speech locale tag for the language
func (l Language) Locale() string {
	if l == Korean {
		return "ko-KR"
	}
	return "en-US"
}

// Other returns the language the toggle switches to
func (l Language) Other() Language {
	if l == English {
		return Korean
	}
	return English
}

// ListeningState is the microphone affordance shown in the header
type ListeningState string

const (
	Idle      ListeningState = "idle"
	Listening ListeningState = "listening"
)

// CameraState mirrors the camera session for the UI
type CameraState struct {
	On       bool   `json:"on"`
	StreamID string `json:"streamId,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// DetectorStatus tracks the model lifecycle
type DetectorStatus string

const (
	DetectorLoading  DetectorStatus = "loading"
	DetectorReady    DetectorStatus = "ready"
	DetectorFailed   DetectorStatus = "failed"
	DetectorDisabled DetectorStatus = "disabled"
)

// AppState is the whole UI state
type AppState struct {
	Messages  []ChatMessage  `json:"messages"`
	Language  Language       `json:"language"`
	Locale    string         `json:"locale"`
	Input     string         `json:"input"`
	Listening ListeningState `json:"listening"`
	Camera    CameraState    `json:"camera"`
	Detector  DetectorStatus `json:"detector"`
}

// NewAppState returns the state a fresh session starts with
func NewAppState(now time.Time, greetingID string) *AppState {
	return &AppState{
		Messages: []ChatMessage{{
			ID:        greetingID,
			Text:      GreetingText,
			Sender:    SenderResponse,
			CreatedAt: now,
		}},
		Language:  English,
		Locale:    English.Locale(),
		Listening: Idle,
		Detector:  DetectorLoading,
	}
}

// clone deep-copies the message slice so snapshots never alias the store
func (s *AppState) clone() AppState {
	c := *s
	c.Messages = make([]ChatMessage, len(s.Messages))
	copy(c.Messages, s.Messages)
	return c
}

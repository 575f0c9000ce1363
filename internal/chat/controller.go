package chat

import (
	"context"
	"strings"

	"easytalking/internal/logging"
	"easytalking/internal/speech"
	"easytalking/internal/state"
)

// SpeechOutput is the part of speech.Speaker the controller needs
type SpeechOutput interface {
	Speak(ctx context.Context, text string, lang state.Language) speech.Utterance
}

// Controller appends chat messages and drives speech output for typed text.
// History and language live in the state store; the controller holds no copy.
type Controller struct {
	store   *state.Manager
	speaker SpeechOutput
}

// NewController creates a controller over store
func NewController(store *state.Manager, speaker SpeechOutput) *Controller {
	return &Controller{store: store, speaker: speaker}
}

// SubmitTyped appends the typed text and its echo, speaks it once and clears
// the input box. Blank text is ignored and reported as false.
func (c *Controller) SubmitTyped(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	lang := c.store.Language()
	c.store.AppendMessages(
		state.ChatMessage{Text: text, Sender: state.SenderUser},
		state.ChatMessage{Text: text, Sender: state.SenderResponse},
	)
	c.speaker.Speak(ctx, text, lang)
	c.store.SetInput("")

	logging.Debug("Typed message submitted", "length", len(text), "language", string(lang))
	return true
}

// SubmitRecognized appends a transcript as a single user message. It is not
// echoed or spoken.
func (c *Controller) SubmitRecognized(text string) {
	c.store.AppendMessages(state.ChatMessage{Text: text, Sender: state.SenderUser})
	logging.Debug("Recognized message submitted", "length", len(text))
}

// ToggleLanguage switches English and Korean and returns the new language
func (c *Controller) ToggleLanguage() state.Language {
	lang := c.store.ToggleLanguage()
	logging.Info("Language toggled", "language", string(lang), "locale", lang.Locale())
	return lang
}

// Messages returns the chat history in insertion order
func (c *Controller) Messages() []state.ChatMessage {
	return c.store.Messages()
}

// Language returns the active language
func (c *Controller) Language() state.Language {
	return c.store.Language()
}

// Input returns the pending text in the input box
func (c *Controller) Input() string {
	return c.store.Input()
}

// SetInput mirrors the input box from the frontend
func (c *Controller) SetInput(text string) {
	c.store.SetInput(text)
}

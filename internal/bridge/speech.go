package bridge

import (
	"context"
	"errors"

	"easytalking/internal/speech"
)

// Synthesizer speaks through the webview speechSynthesis API
type Synthesizer struct {
	em Emitter
}

// NewSynthesizer creates a synthesizer emitting speech:speak
func NewSynthesizer(em Emitter) *Synthesizer {
	return &Synthesizer{em: em}
}

// Speak hands the utterance to the frontend and returns immediately
func (s *Synthesizer) Speak(_ context.Context, u speech.Utterance) error {
	s.em.Emit(EventSpeak, u)
	return nil
}

// ListenRequest is the payload of speech:listen
type ListenRequest struct {
	ID     string `json:"id"`
	Locale string `json:"locale"`
}

// Recognizer runs single-utterance sessions in the webview recognizer
type Recognizer struct {
	em      Emitter
	pending *Pending[string]
}

// NewRecognizer creates a recognizer emitting speech:listen
func NewRecognizer(em Emitter) *Recognizer {
	return &Recognizer{em: em, pending: NewPending[string]()}
}

// Recognize asks the frontend for one transcript in locale
func (r *Recognizer) Recognize(ctx context.Context, locale string) (string, error) {
	req, err := r.pending.Open()
	if err != nil {
		return "", err
	}
	r.em.Emit(EventListen, ListenRequest{ID: req.ID, Locale: locale})
	return req.Wait(ctx)
}

// Resolve is called by the frontend with the transcript or the
// SpeechRecognitionErrorEvent error code
func (r *Recognizer) Resolve(id, transcript, errCode string) error {
	var err error
	switch {
	case errCode == "no-speech":
		err = speech.ErrNoSpeech
	case errCode != "":
		err = errors.New("speech recognition: " + errCode)
	case transcript == "":
		err = speech.ErrNoSpeech
	}
	return r.pending.Resolve(id, transcript, err)
}

// Close fails any session still waiting on the frontend
func (r *Recognizer) Close() {
	r.pending.Close()
}

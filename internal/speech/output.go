package speech

import (
	"context"

	"easytalking/internal/logging"
	"easytalking/internal/state"
)

// Utterance is one synthesis request
type Utterance struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
	// Voice is nil when no catalog voice matched Lang; the platform picks one.
	Voice *Voice `json:"voice,omitempty"`
}

// Synthesizer plays utterances. Speak must return once playback is queued,
// not when it finishes.
type Synthesizer interface {
	Speak(ctx context.Context, u Utterance) error
}

// Speaker is the speech output adapter
type Speaker struct {
	synth   Synthesizer
	catalog *VoiceCatalog
}

// NewSpeaker creates a speaker reading voices from catalog at call time
func NewSpeaker(synth Synthesizer, catalog *VoiceCatalog) *Speaker {
	return &Speaker{synth: synth, catalog: catalog}
}

// Speak requests playback of text in lang. Failures are logged; speech output
// is fire-and-forget and never fails the caller.
func (s *Speaker) Speak(ctx context.Context, text string, lang state.Language) Utterance {
	u := Utterance{Text: text, Lang: lang.Locale()}
	if v, ok := s.catalog.Match(u.Lang); ok {
		u.Voice = &v
	} else {
		logging.Debug("No voice for locale, using platform default", "locale", u.Lang)
	}

	if err := s.synth.Speak(ctx, u); err != nil {
		logging.Warn("Speech synthesis failed", "locale", u.Lang, "error", err)
	}
	return u
}

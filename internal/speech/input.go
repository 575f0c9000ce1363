package speech

import (
	"context"
	"errors"
	"sync"

	"easytalking/internal/logging"
	"easytalking/internal/state"
)

var (
	// ErrNoSpeech is returned when a session ends without a final transcript
	ErrNoSpeech = errors.New("no speech recognized")
)

// Recognizer runs one single-utterance recognition session
type Recognizer interface {
	Recognize(ctx context.Context, locale string) (string, error)
}

// LanguageSource supplies the language a session should use
type LanguageSource interface {
	Language() state.Language
}

// ListeningSink receives the idle/listening affordance
type ListeningSink interface {
	SetListening(state.ListeningState)
}

// Listener is the speech input adapter. At most one session runs at a time.
type Listener struct {
	rec      Recognizer
	lang     LanguageSource
	sink     ListeningSink
	onResult func(transcript string)

	mu        sync.Mutex
	listening bool
	version   uint64
	wg        sync.WaitGroup
}

// NewListener wires a recognizer to the transcript callback
func NewListener(rec Recognizer, lang LanguageSource, sink ListeningSink, onResult func(string)) *Listener {
	return &Listener{
		rec:      rec,
		lang:     lang,
		sink:     sink,
		onResult: onResult,
	}
}

// IsListening reports whether a session is active
func (l *Listener) IsListening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening
}

// State returns the UI affordance for the current session
func (l *Listener) State() state.ListeningState {
	if l.IsListening() {
		return state.Listening
	}
	return state.Idle
}

// StartListening begins a session and returns immediately. It returns false
// without doing anything when a session is already running.
func (l *Listener) StartListening(ctx context.Context) bool {
	l.mu.Lock()
	if l.listening {
		l.mu.Unlock()
		return false
	}
	l.listening = true
	l.version++
	l.wg.Add(1)
	l.mu.Unlock()

	// locale is fixed for the whole session even if the user toggles mid-way
	locale := l.lang.Language().Locale()
	l.publish()

	go func() {
		defer l.wg.Done()
		defer l.finish()

		transcript, err := l.rec.Recognize(ctx, locale)
		if err != nil {
			logging.Error("Speech recognition error", "locale", locale, "error", err)
			return
		}
		logging.Info("Speech recognized", "locale", locale, "length", len(transcript))
		l.onResult(transcript)
	}()
	return true
}

func (l *Listener) finish() {
	l.mu.Lock()
	l.listening = false
	l.version++
	l.mu.Unlock()
	l.publish()
}

// publish pushes the current affordance to the sink and repeats until no
// transition happened while the sink was being called, so the last value
// the sink sees always matches IsListening.
func (l *Listener) publish() {
	for {
		l.mu.Lock()
		v := l.version
		s := state.Idle
		if l.listening {
			s = state.Listening
		}
		l.mu.Unlock()

		l.sink.SetListening(s)

		l.mu.Lock()
		settled := l.version == v
		l.mu.Unlock()
		if settled {
			return
		}
	}
}

// Wait blocks until the running session, if any, has finished
func (l *Listener) Wait() {
	l.wg.Wait()
}

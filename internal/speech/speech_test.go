package speech

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"easytalking/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSynth struct {
	mu    sync.Mutex
	calls []Utterance
	err   error
}

func (r *recordingSynth) Speak(_ context.Context, u Utterance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, u)
	return r.err
}

func TestSpeakerPicksFirstExactLocaleMatch(t *testing.T) {
	catalog := NewVoiceCatalog()
	catalog.Update([]Voice{
		{Name: "Samantha", Lang: "en-GB"},
		{Name: "Alex", Lang: "en-US"},
		{Name: "Fred", Lang: "en-US"},
		{Name: "Yuna", Lang: "ko-KR"},
	})
	synth := &recordingSynth{}
	speaker := NewSpeaker(synth, catalog)

	u := speaker.Speak(context.Background(), "Hello", state.English)
	require.NotNil(t, u.Voice)
	assert.Equal(t, "Alex", u.Voice.Name)
	assert.Equal(t, "en-US", u.Lang)

	u = speaker.Speak(context.Background(), "안녕하세요", state.Korean)
	require.NotNil(t, u.Voice)
	assert.Equal(t, "Yuna", u.Voice.Name)
	assert.Equal(t, "ko-KR", u.Lang)

	assert.Len(t, synth.calls, 2)
}

func TestSpeakerFallsBackToPlatformDefault(t *testing.T) {
	catalog := NewVoiceCatalog()
	catalog.Update([]Voice{{Name: "Alex", Lang: "en-US"}})
	synth := &recordingSynth{}

	u := NewSpeaker(synth, catalog).Speak(context.Background(), "안녕", state.Korean)
	assert.Nil(t, u.Voice)
	assert.Equal(t, "ko-KR", u.Lang)
	require.Len(t, synth.calls, 1)
	assert.Equal(t, "안녕", synth.calls[0].Text)
}

func TestSpeakerReadsLatestCatalogAtCallTime(t *testing.T) {
	catalog := NewVoiceCatalog()
	synth := &recordingSynth{}
	speaker := NewSpeaker(synth, catalog)

	assert.Nil(t, speaker.Speak(context.Background(), "a", state.English).Voice)

	catalog.Update([]Voice{{Name: "Alex", Lang: "en-US"}})
	u := speaker.Speak(context.Background(), "b", state.English)
	require.NotNil(t, u.Voice)
	assert.Equal(t, "Alex", u.Voice.Name)
	assert.Len(t, catalog.Voices(), 1)
}

func TestSpeakerSwallowsSynthesisErrors(t *testing.T) {
	synth := &recordingSynth{err: errors.New("audio device busy")}
	u := NewSpeaker(synth, NewVoiceCatalog()).Speak(context.Background(), "Hello", state.English)
	assert.Equal(t, "Hello", u.Text)
}

func TestNormalizeTag(t *testing.T) {
	tests := map[string]string{
		"en-us": "en-US",
		"en_US": "en-US",
		"KO-kr": "ko-KR",
		"ko":    "ko",
		" fr ":  "fr",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeTag(in), "NormalizeTag(%q)", in)
	}
}

func TestParseEspeakVoices(t *testing.T) {
	out := `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
 5  ko              --/M      Korean             ko
 bogus
`
	voices := parseEspeakVoices([]byte(out))
	require.Len(t, voices, 2)
	assert.Equal(t, Voice{Name: "English_(America)", Lang: "en-US", URI: "en-us"}, voices[0])
	assert.Equal(t, "ko", voices[1].Lang)
}

func TestEspeakVoiceArgument(t *testing.T) {
	assert.Equal(t, "en-us", espeakVoice(Utterance{Lang: "en-US", Voice: &Voice{URI: "en-us"}}))
	assert.Equal(t, "ko", espeakVoice(Utterance{Lang: "ko-KR"}))
}

func TestEspeakSpeaksDashLeadingTextVerbatim(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a true binary")
	}
	e := NewEspeakSynthesizer("")
	var argv []string
	e.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		argv = append([]string{name}, args...)
		return exec.CommandContext(ctx, "true")
	}

	require.NoError(t, e.Speak(context.Background(), Utterance{Text: "-w /tmp/out.wav", Lang: "en-US", Voice: &Voice{URI: "en"}}))
	assert.Equal(t, []string{"espeak-ng", "-v", "en", "--", "-w /tmp/out.wav"}, argv)
}

type scriptedRecognizer struct {
	mu      sync.Mutex
	locales []string
	release chan struct{}
	text    string
	err     error
}

func (s *scriptedRecognizer) Recognize(ctx context.Context, locale string) (string, error) {
	s.mu.Lock()
	s.locales = append(s.locales, locale)
	s.mu.Unlock()
	if s.release != nil {
		<-s.release
	}
	return s.text, s.err
}

type listeningRecorder struct {
	mu     sync.Mutex
	states []state.ListeningState
}

func (l *listeningRecorder) SetListening(s state.ListeningState) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

type fixedLanguage state.Language

func (f fixedLanguage) Language() state.Language { return state.Language(f) }

func TestListenerReportsTranscriptThenResets(t *testing.T) {
	rec := &scriptedRecognizer{text: "반갑습니다"}
	sink := &listeningRecorder{}
	var got []string
	l := NewListener(rec, fixedLanguage(state.Korean), sink, func(s string) { got = append(got, s) })

	require.True(t, l.StartListening(context.Background()))
	l.Wait()

	assert.Equal(t, []string{"반갑습니다"}, got)
	assert.Equal(t, []string{"ko-KR"}, rec.locales)
	assert.Equal(t, []state.ListeningState{state.Listening, state.Idle}, sink.states)
	assert.False(t, l.IsListening())
	assert.Equal(t, state.Idle, l.State())
}

func TestListenerIgnoresStartWhileListening(t *testing.T) {
	rec := &scriptedRecognizer{text: "hi", release: make(chan struct{})}
	calls := 0
	l := NewListener(rec, fixedLanguage(state.English), &listeningRecorder{}, func(string) { calls++ })

	require.True(t, l.StartListening(context.Background()))
	assert.True(t, l.IsListening())
	assert.Equal(t, state.Listening, l.State())
	assert.False(t, l.StartListening(context.Background()))

	close(rec.release)
	l.Wait()

	assert.Equal(t, 1, calls)
	assert.Len(t, rec.locales, 1)
}

func TestListenerErrorResetsWithoutCallback(t *testing.T) {
	rec := &scriptedRecognizer{err: errors.New("not-allowed")}
	sink := &listeningRecorder{}
	called := false
	l := NewListener(rec, fixedLanguage(state.English), sink, func(string) { called = true })

	require.True(t, l.StartListening(context.Background()))
	l.Wait()

	assert.False(t, called)
	assert.False(t, l.IsListening())
	assert.Equal(t, []state.ListeningState{state.Listening, state.Idle}, sink.states)

	// manual retry is allowed after a failure
	rec.err = nil
	rec.text = "again"
	require.True(t, l.StartListening(context.Background()))
	l.Wait()
	assert.True(t, called)
}

// heldRecognizer returns at once for the first session and blocks the rest
// until hold is closed
type heldRecognizer struct {
	mu    sync.Mutex
	calls int
	hold  chan struct{}
}

func (h *heldRecognizer) Recognize(ctx context.Context, locale string) (string, error) {
	h.mu.Lock()
	h.calls++
	n := h.calls
	h.mu.Unlock()
	if n > 1 {
		<-h.hold
	}
	return "ok", nil
}

// restartingSink starts a new session from inside the first Idle update and
// only records that Idle afterwards, so it lands after the new Listening
type restartingSink struct {
	l *Listener

	mu        sync.Mutex
	states    []state.ListeningState
	restarted bool
}

func (r *restartingSink) SetListening(s state.ListeningState) {
	r.mu.Lock()
	restart := s == state.Idle && !r.restarted
	if restart {
		r.restarted = true
	}
	r.mu.Unlock()

	if restart {
		r.l.StartListening(context.Background())
	}

	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *restartingSink) snapshot() []state.ListeningState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]state.ListeningState(nil), r.states...)
}

func TestListenerLastPublishedStateMatchesSession(t *testing.T) {
	rec := &heldRecognizer{hold: make(chan struct{})}
	sink := &restartingSink{}
	l := NewListener(rec, fixedLanguage(state.English), sink, func(string) {})
	sink.l = l

	require.True(t, l.StartListening(context.Background()))
	require.Eventually(t, func() bool { return len(sink.snapshot()) >= 4 }, 2*time.Second, 5*time.Millisecond)

	states := sink.snapshot()
	assert.True(t, l.IsListening())
	assert.Equal(t, state.Listening, states[len(states)-1], "states = %v", states)

	close(rec.hold)
	l.Wait()

	states = sink.snapshot()
	assert.False(t, l.IsListening())
	assert.Equal(t, state.Idle, states[len(states)-1], "states = %v", states)
}

func TestReadTranscript(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr error
	}{
		{
			name:   "final after partials",
			output: "en-US\r\n{\"type\":\"partial\",\"text\":\"hel\"}\r\n{\"type\":\"final\",\"text\":\"hello\"}\r\n",
			want:   "hello",
		},
		{
			name:    "no final",
			output:  "{\"type\":\"partial\",\"text\":\"hel\"}\n",
			wantErr: ErrNoSpeech,
		},
		{
			name:   "malformed lines skipped",
			output: "{oops\n{\"type\":\"final\",\"text\":\"ok\"}\n",
			want:   "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readTranscript(strings.NewReader(tt.output))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := readTranscript(strings.NewReader("{\"type\":\"error\",\"message\":\"denied\"}\n"))
	assert.ErrorContains(t, err, "denied")
}

func TestHelperRecognizerUnderPty(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pty not supported")
	}
	script := filepath.Join(t.TempDir(), "voice_input")
	body := "#!/bin/sh\n" +
		"echo '{\"type\":\"partial\",\"text\":\"hel\"}'\n" +
		"echo \"{\\\"type\\\":\\\"final\\\",\\\"text\\\":\\\"hello $1\\\"}\"\n" +
		"read line\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))

	text, err := NewHelperRecognizer(script).Recognize(context.Background(), "en-US")
	require.NoError(t, err)
	assert.Equal(t, "hello en-US", text)
}

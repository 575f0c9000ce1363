package speech

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"easytalking/internal/logging"
)

// EspeakSynthesizer speaks through a local espeak-ng (or espeak) binary
type EspeakSynthesizer struct {
	binary string
	// command builds the process; swapped in tests
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewEspeakSynthesizer uses binary, defaulting to espeak-ng
func NewEspeakSynthesizer(binary string) *EspeakSynthesizer {
	if binary == "" {
		binary = "espeak-ng"
	}
	return &EspeakSynthesizer{binary: binary, command: exec.CommandContext}
}

// espeakVoice picks the -v argument: the matched voice identifier, else the
// primary language subtag so espeak chooses its own default for it.
func espeakVoice(u Utterance) string {
	if u.Voice != nil && u.Voice.URI != "" {
		return u.Voice.URI
	}
	lang, _, _ := strings.Cut(u.Lang, "-")
	return strings.ToLower(lang)
}

// Speak starts playback and returns without waiting for it to end
func (e *EspeakSynthesizer) Speak(ctx context.Context, u Utterance) error {
	// playback outlives the request context; "--" keeps text starting with
	// a dash from being parsed as options
	cmd := e.command(context.WithoutCancel(ctx), e.binary, "-v", espeakVoice(u), "--", u.Text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logging.Debug("Starting espeak", "binary", e.binary, "voice", espeakVoice(u))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", e.binary, err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			logging.Warn("espeak exited with error", "error", err, "stderr", strings.TrimSpace(stderr.String()))
		}
	}()
	return nil
}

// Voices lists the installed espeak voices with normalized locale tags
func (e *EspeakSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	out, err := e.command(ctx, e.binary, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("list %s voices: %w", e.binary, err)
	}
	return parseEspeakVoices(out), nil
}

// parseEspeakVoices reads the table printed by `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
func parseEspeakVoices(out []byte) []Voice {
	var voices []Voice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		voices = append(voices, Voice{
			Name: fields[3],
			Lang: NormalizeTag(fields[1]),
			URI:  fields[1],
		})
	}
	return voices
}

package speech

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"easytalking/internal/logging"

	"github.com/creack/pty"
)

// helperEvent is one JSON line printed by the recognizer helper
type helperEvent struct {
	Type    string `json:"type"` // partial, final or error
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// HelperRecognizer runs a native recognizer helper binary once per session.
// The helper takes the locale as its only argument, prints JSON lines and
// exits after "stop" on stdin. It runs under a pseudo terminal so its output
// is line buffered.
type HelperRecognizer struct {
	binary string
}

// NewHelperRecognizer resolves binary next to the executable when it is not
// an absolute path or on $PATH
func NewHelperRecognizer(binary string) *HelperRecognizer {
	return &HelperRecognizer{binary: resolveHelper(binary)}
}

func resolveHelper(binary string) string {
	if filepath.IsAbs(binary) {
		return binary
	}
	if p, err := exec.LookPath(binary); err == nil {
		return p
	}
	execPath, err := os.Executable()
	if err != nil {
		return binary
	}
	baseDir := filepath.Dir(execPath)
	candidates := []string{
		filepath.Join(baseDir, binary),
		filepath.Join(baseDir, "scripts", binary),
		filepath.Join(baseDir, "..", "..", "scripts", binary),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return binary
}

// Recognize returns the first final transcript the helper prints
func (h *HelperRecognizer) Recognize(ctx context.Context, locale string) (string, error) {
	cmd := exec.CommandContext(ctx, h.binary, locale)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return "", fmt.Errorf("start recognizer helper: %w", err)
	}
	logging.Info("Recognizer helper started", "binary", h.binary, "locale", locale, "pid", cmd.Process.Pid)

	defer func() {
		// ask politely, then make sure it is gone
		io.WriteString(ptmx, "stop\n")
		ptmx.Close()
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			logging.Debug("Recognizer helper exited", "error", err)
		}
	}()

	return readTranscript(ptmx)
}

// readTranscript scans helper output until a final transcript or an error
func readTranscript(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			// echoed input or helper chatter
			continue
		}

		var ev helperEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logging.Debug("Ignoring malformed helper line", "error", err)
			continue
		}

		switch ev.Type {
		case "final":
			return ev.Text, nil
		case "error":
			return "", fmt.Errorf("recognizer helper: %s", ev.Message)
		}
	}

	// a pty returns EIO once the child exits
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, syscall.EIO) {
		return "", fmt.Errorf("read recognizer helper: %w", err)
	}
	return "", ErrNoSpeech
}

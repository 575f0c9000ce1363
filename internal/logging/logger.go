package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxAge is how long dated log files are kept (3 days)
	DefaultMaxAge = 3 * 24 * time.Hour

	DirPermissions  = 0755
	FilePermissions = 0644

	// MaxMessageLength caps frontend log messages
	MaxMessageLength = 10000

	// MaxDataSize caps the number of keys accepted from a frontend entry
	MaxDataSize = 50

	// MaxDataValueLength caps individual string values from the frontend
	MaxDataValueLength = 1000

	logPrefix = "app"
)

// SensitiveKeys are redacted when they appear in frontend log data
var SensitiveKeys = []string{
	"password", "token", "secret",
	"api_key", "apikey", "authorization",
	"credential", "cookie", "session",
}

var validLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

var (
	defaultLogger *slog.Logger
	loggerMu      sync.RWMutex
	fileHandler   *RotatingFileHandler
)

// Config holds logger configuration
type Config struct {
	LogDir     string        // Directory for log files
	MaxAge     time.Duration // Retention for dated log files
	JSONOutput bool          // JSON instead of text records
	DevMode    bool          // Mirror records to stdout
}

// DefaultConfig logs JSON to ~/.easytalking/logs
func DefaultConfig() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		LogDir:     filepath.Join(homeDir, ".easytalking", "logs"),
		MaxAge:     DefaultMaxAge,
		JSONOutput: true,
	}
}

// RotatingFileHandler writes to one file per day and prunes old ones
type RotatingFileHandler struct {
	dir            string
	prefix         string
	maxAge         time.Duration
	now            func() time.Time
	currentFile    *os.File
	currentDate    string
	mu             sync.Mutex
	cleanupRunning atomic.Bool
}

// NewRotatingFileHandler creates the log directory and opens today's file
func NewRotatingFileHandler(dir, prefix string, maxAge time.Duration) (*RotatingFileHandler, error) {
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return nil, err
	}

	h := &RotatingFileHandler{
		dir:    dir,
		prefix: prefix,
		maxAge: maxAge,
		now:    time.Now,
	}
	if err := h.rotate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Write implements io.Writer, switching files when the date changes
func (h *RotatingFileHandler) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.now().Format("2006-01-02") != h.currentDate {
		if err := h.rotate(); err != nil {
			return 0, err
		}
		if h.cleanupRunning.CompareAndSwap(false, true) {
			go func() {
				defer h.cleanupRunning.Store(false)
				h.cleanup()
			}()
		}
	}

	return h.currentFile.Write(p)
}

func (h *RotatingFileHandler) rotate() error {
	if h.currentFile != nil {
		h.currentFile.Close()
	}

	today := h.now().Format("2006-01-02")
	filename := filepath.Join(h.dir, h.prefix+"."+today+".log")

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, FilePermissions)
	if err != nil {
		return err
	}

	h.currentFile = file
	h.currentDate = today

	// app.log always points at the current file
	link := filepath.Join(h.dir, h.prefix+".log")
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove old symlink", "path", link, "error", err)
	}
	if err := os.Symlink(filename, link); err != nil {
		slog.Warn("Failed to create symlink", "path", link, "error", err)
	}
	return nil
}

func (h *RotatingFileHandler) cleanup() {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		slog.Warn("Failed to read log directory for cleanup", "dir", h.dir, "error", err)
		return
	}

	cutoff := h.now().Add(-h.maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !isLogFile(entry.Name(), h.prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(h.dir, entry.Name())
			if err := os.Remove(path); err != nil {
				slog.Warn("Failed to remove old log file", "path", path, "error", err)
			}
		}
	}
}

// isLogFile matches prefix.YYYY-MM-DD.log but not the prefix.log symlink
func isLogFile(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix+".") || !strings.HasSuffix(name, ".log") {
		return false
	}
	date := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"."), ".log")
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

// Close closes the current file
func (h *RotatingFileHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.currentFile != nil {
		return h.currentFile.Close()
	}
	return nil
}

// Init replaces the global logger
func Init(cfg Config) error {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	fh, err := NewRotatingFileHandler(cfg.LogDir, logPrefix, cfg.MaxAge)
	if err != nil {
		return err
	}

	var out io.Writer = fh
	if cfg.DevMode {
		out = io.MultiWriter(fh, os.Stdout)
	}

	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.JSONOutput {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	if fileHandler != nil {
		fileHandler.Close()
	}
	fileHandler = fh
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	return nil
}

// InitDefault initializes the logger with DefaultConfig
func InitDefault() error {
	return Init(DefaultConfig())
}

// Close flushes and closes the log file
func Close() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if fileHandler == nil {
		return nil
	}
	err := fileHandler.Close()
	fileHandler = nil
	return err
}

// Logger returns the configured logger, or slog's default before Init
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if defaultLogger == nil {
		return slog.Default()
	}
	return defaultLogger
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// With returns a logger carrying extra attributes
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// LogEntry is a log record sent by the webview
type LogEntry struct {
	Level   string                 `json:"level"`
	Module  string                 `json:"module"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func sanitizeData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}

	result := make(map[string]interface{}, len(data))
	count := 0
	for key, value := range data {
		if count >= MaxDataSize {
			result["_truncated"] = true
			break
		}
		count++

		if isSensitiveKey(key) {
			result[key] = "[REDACTED]"
			continue
		}
		if s, ok := value.(string); ok && len(s) > MaxDataValueLength {
			result[key] = s[:MaxDataValueLength] + "...[truncated]"
			continue
		}
		result[key] = value
	}
	return result
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range SensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func truncateMessage(msg string) string {
	if len(msg) > MaxMessageLength {
		return msg[:MaxMessageLength] + "...[truncated]"
	}
	return msg
}

func parseLevel(level string) slog.Level {
	if l, ok := validLevels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l
	}
	Logger().Warn("Invalid log level from frontend, defaulting to info", "providedLevel", level)
	return slog.LevelInfo
}

// LogFromFrontend records a sanitized webview log entry
func LogFromFrontend(entry LogEntry) {
	logger := Logger().With("source", "frontend", "module", entry.Module)
	if data := sanitizeData(entry.Data); len(data) > 0 {
		logger = logger.With("data", data)
	}
	logger.Log(context.Background(), parseLevel(entry.Level), truncateMessage(entry.Message))
}

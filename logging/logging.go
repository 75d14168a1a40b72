// Package logging provides leveled, component-scoped logging for both sides
// of a frame transport. Output is console text by default and JSON when
// configured for collection.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Format selects the output encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

var zerologLevels = map[Level]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// ParseLevel maps a case-insensitive level name to a Level.
// Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes structured log entries.
// Loggers derived with WithComponent share output and level with their parent.
type Logger struct {
	shared    *sink
	component string
}

type sink struct {
	mu       sync.Mutex
	output   io.Writer
	format   Format
	minLevel Level
	zl       zerolog.Logger
	disabled bool
}

func (s *sink) rebuild() {
	var w io.Writer = s.output
	if s.format != FormatJSON {
		w = zerolog.ConsoleWriter{
			Out:        s.output,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		}
	}
	s.zl = zerolog.New(w).Level(zerologLevels[s.minLevel]).With().Timestamp().Logger()
}

// New creates a new Logger writing console text to stdout at INFO.
func New() *Logger {
	s := &sink{output: os.Stdout, format: FormatConsole, minLevel: LevelInfo}
	s.rebuild()
	return &Logger{shared: s}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	s := &sink{output: io.Discard, format: FormatJSON, minLevel: LevelError, disabled: true}
	s.zl = zerolog.Nop()
	return &Logger{shared: s}
}

// WithComponent returns a logger that tags entries with the component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{shared: l.shared, component: component}
}

// Component returns the component name, if any.
func (l *Logger) Component() string {
	return l.component
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	if _, ok := zerologLevels[level]; !ok {
		level = LevelInfo
	}
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	if l.shared.disabled {
		return
	}
	l.shared.minLevel = level
	l.shared.rebuild()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	if l.shared.disabled {
		return
	}
	l.shared.output = w
	l.shared.rebuild()
}

// SetFormat switches between console and JSON output.
func (l *Logger) SetFormat(f Format) {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	if l.shared.disabled {
		return
	}
	l.shared.format = f
	l.shared.rebuild()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()

	ev := l.shared.zl.WithLevel(zerologLevels[level])
	if ev == nil {
		return
	}
	if l.component != "" {
		ev = ev.Str("component", l.component)
	}
	for _, f := range fields {
		if f != nil {
			ev = ev.Fields(f)
		}
	}
	ev.Msg(msg)
}

// --- Protocol logging helpers ---

// MessageDropped logs an inbound message that was discarded before dispatch.
func (l *Logger) MessageDropped(reason, origin string, err error) {
	fields := map[string]interface{}{
		"reason": reason,
		"origin": origin,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Warn("message_dropped", fields)
}

// CallExpired logs a pending call that failed without a reply.
func (l *Logger) CallExpired(clientType, method string, id int, err error) {
	fields := map[string]interface{}{
		"type":        clientType,
		"method":      method,
		"callback_id": id,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Warn("call_expired", fields)
}

// HandlerFailed logs a local method or event handler that returned an error.
func (l *Logger) HandlerFailed(clientType, name string, err error) {
	fields := map[string]interface{}{
		"type": clientType,
		"name": name,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error("handler_failed", fields)
}

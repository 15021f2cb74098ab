// ABOUTME: Structured logging wrapper: package-level Debug/Info/Warn/
// ABOUTME: Error/SetLevel, backed by github.com/rs/zerolog writing JSON
// ABOUTME: to stderr.

package obslog

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	logger  zerolog.Logger
	level   atomic.Int32
	started atomic.Bool
)

func ensureInit() {
	if started.CompareAndSwap(false, true) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		level.Store(int32(zerolog.InfoLevel))
	}
}

// SetLevel sets the global log level (zerolog.DebugLevel ... zerolog.ErrorLevel).
func SetLevel(l zerolog.Level) {
	ensureInit()
	level.Store(int32(l))
}

// GetLevel returns the current log level.
func GetLevel() zerolog.Level {
	ensureInit()
	return zerolog.Level(level.Load())
}

// Debug logs a structured debug event with the given message and
// key-value fields (must be supplied in pairs).
func Debug(msg string, kv ...any) { logAt(zerolog.DebugLevel, msg, kv) }

// Info logs a structured info event.
func Info(msg string, kv ...any) { logAt(zerolog.InfoLevel, msg, kv) }

// Warn logs a structured warning event.
func Warn(msg string, kv ...any) { logAt(zerolog.WarnLevel, msg, kv) }

// Error logs a structured error event. It is always emitted regardless
// of the configured level.
func Error(msg string, kv ...any) {
	ensureInit()
	event := logger.Error()
	withFields(event, kv).Msg(msg)
}

func logAt(l zerolog.Level, msg string, kv []any) {
	ensureInit()
	if l < GetLevel() {
		return
	}
	event := logger.WithLevel(l)
	withFields(event, kv).Msg(msg)
}

// withFields attaches kv (key, value, key, value, ...) pairs to event,
// skipping any pair whose key is not a string and dropping a trailing
// unpaired key.
func withFields(event *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, kv[i+1])
	}
	return event
}

// ABOUTME: Tests for the structured logging wrapper.
// ABOUTME: Validates level filtering and that every call site is panic-free.

package obslog

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLevel(t *testing.T) {
	savedLevel := GetLevel()
	defer SetLevel(savedLevel)

	SetLevel(zerolog.DebugLevel)
	if GetLevel() != zerolog.DebugLevel {
		t.Errorf("expected DebugLevel, got %v", GetLevel())
	}

	SetLevel(zerolog.ErrorLevel)
	if GetLevel() != zerolog.ErrorLevel {
		t.Errorf("expected ErrorLevel, got %v", GetLevel())
	}
}

func TestDebugSuppressedAtInfoLevel(t *testing.T) {
	savedLevel := GetLevel()
	defer SetLevel(savedLevel)

	SetLevel(zerolog.InfoLevel)

	// Debug should be suppressed at Info level; no panic is enough.
	Debug("this should be suppressed", "key", "value")
}

func TestAllLevelsWithFields(t *testing.T) {
	savedLevel := GetLevel()
	defer SetLevel(savedLevel)

	SetLevel(zerolog.DebugLevel)

	// These should all succeed without panic, including an odd trailing
	// key with no paired value.
	Debug("debug", "n", 1)
	Info("info", "n", 2)
	Warn("warn", "n", 3)
	Error("error", "n", 4, "trailing")
}

func TestErrorAlwaysEmitsRegardlessOfLevel(t *testing.T) {
	savedLevel := GetLevel()
	defer SetLevel(savedLevel)

	SetLevel(zerolog.PanicLevel) // highest level; everything else suppressed

	// Error should still emit without panicking.
	Error("always emitted")
}

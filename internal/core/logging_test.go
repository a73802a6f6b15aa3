package core

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNoopLogger(t *testing.T) {
	logger := noopLogger{}

	t.Run("Debug does not panic", func(t *testing.T) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Debug method panicked: %v", r)
			}
		}()
		logger.Debug("test message", "arg1", "arg2")
	})

	t.Run("Info does not panic", func(t *testing.T) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Info method panicked: %v", r)
			}
		}()
		logger.Info("test message", "arg1", "arg2")
	})

	t.Run("Warn does not panic", func(t *testing.T) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Warn method panicked: %v", r)
			}
		}()
		logger.Warn("test message", "arg1", "arg2")
	})

	t.Run("Error does not panic", func(t *testing.T) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Error method panicked: %v", r)
			}
		}()
		logger.Error("test message", "arg1", "arg2")
	})
}

func TestSlogSatisfiesLogger(t *testing.T) {
	var buf bytes.Buffer
	var logger Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger.Debug("session ready", "driver", "memory")
	if !strings.Contains(buf.String(), "session ready") || !strings.Contains(buf.String(), "driver=memory") {
		t.Fatalf("slog output %q missing the structured record", buf.String())
	}
}

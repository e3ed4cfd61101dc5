package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("normalizes error key and tags records", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, slog.LevelInfo)

		logger.Warn("tool failed", "error", errors.New("socket closed"))

		out := buf.String()
		assert.Contains(t, out, "err=")
		assert.NotContains(t, out, "error=")
		assert.Contains(t, out, "app=nexus")
		assert.Contains(t, out, "socket closed")
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, slog.LevelWarn)

		logger.Info("quiet")
		assert.Empty(t, buf.String())

		logger.Warn("loud")
		assert.Contains(t, buf.String(), "loud")
	})
}

func TestNewNopDiscards(t *testing.T) {
	// Must not panic and must stay silent regardless of level.
	NewNop().Error("ignored", "error", errors.New("x"))
}

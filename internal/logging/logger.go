package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates the assistant's structured logger. Output goes to stderr so
// stdout stays clean for the chat surface.
func New(level slog.Level) *slog.Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter is New with an explicit sink, for tests and embedders.
// Error values logged under "error" are normalized to "err", the key the
// rest of the codebase uses, and every record carries an app attribute so
// host processes can tell nexus lines from their own.
func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	})
	return slog.New(handler).With("app", "nexus")
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Package logsink adapts this daemon's five-way log classification
// (debug, info, notice, warning, error) onto the standard library's
// log/slog, the same logging package the rest of this codebase's lineage
// uses for structured, leveled output.
package logsink

import (
	"context"
	"log/slog"
	"os"
)

// LevelNotice sits between Info and Warn. slog only defines four standard
// levels, but custom integer levels are an explicit, supported extension
// point; Notice is for conditions worth a human's attention that are not
// yet a problem (a config default applied, a swapfile adopted from the
// wild), distinct from Warning's "this will probably cause trouble."
const LevelNotice = slog.Level(2)

// Sink wraps a *slog.Logger with the daemon's classification methods. It
// satisfies swapfs.Logger and any other package-local minimal logging
// interface via structural typing; only cmd/swapspaced, which constructs
// it, refers to Sink as a concrete type.
type Sink struct {
	logger *slog.Logger
}

// New wraps logger. A nil logger is replaced with slog.Default().
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger}
}

// NewText builds a Sink writing leveled text records to w at the given
// minimum level, matching the plain text handler most CLI daemons in
// this lineage default to.
func NewText(w *os.File, minLevel slog.Level) *Sink {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: minLevel})
	return New(slog.New(h))
}

func (s *Sink) Debug(msg string, args ...any)  { s.logger.Debug(msg, args...) }
func (s *Sink) Info(msg string, args ...any)   { s.logger.Info(msg, args...) }
func (s *Sink) Warn(msg string, args ...any)   { s.logger.Warn(msg, args...) }
func (s *Sink) Error(msg string, args ...any)  { s.logger.Error(msg, args...) }

// Notice logs at LevelNotice, between Info and Warn.
func (s *Sink) Notice(msg string, args ...any) {
	s.logger.Log(context.Background(), LevelNotice, msg, args...)
}

// With returns a Sink whose methods always include the given key/value
// pairs, mirroring slog.Logger.With.
func (s *Sink) With(args ...any) *Sink {
	return New(s.logger.With(args...))
}

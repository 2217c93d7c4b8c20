package logging

import (
	"context"
	"errors"
	"log/slog"
)

// teeHandler duplicates records to several handlers, typically stdout plus
// the systemd journal. Each sink keeps its own level gate, so the journal
// can run quieter than the console.
type teeHandler struct {
	sinks []slog.Handler
}

func newTeeHandler(sinks ...slog.Handler) *teeHandler {
	return &teeHandler{sinks: sinks}
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range t.sinks {
		if s.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range t.sinks {
		if !s.Enabled(ctx, r.Level) {
			continue
		}
		if err := s.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.fork(func(s slog.Handler) slog.Handler { return s.WithAttrs(attrs) })
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	return t.fork(func(s slog.Handler) slog.Handler { return s.WithGroup(name) })
}

func (t *teeHandler) fork(wrap func(slog.Handler) slog.Handler) *teeHandler {
	sinks := make([]slog.Handler, len(t.sinks))
	for i, s := range t.sinks {
		sinks[i] = wrap(s)
	}
	return &teeHandler{sinks: sinks}
}

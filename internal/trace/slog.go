package trace

import (
	"context"
	"log/slog"
)

// SlogSink adapts a *slog.Logger into a Sink, structuring each Event
// into the logger's attribute set — the "build one structured record
// per request lifecycle event" idea the retrieval pack's rivaas router
// applies per-request with its own *slog.Logger, generalized here to
// the engine's fixed Event shape. It is the engine's default Sink:
// every lifecycle event reaches log/slog at Debug level unless the
// embedder calls Server.SetSink with something else (or in addition,
// via Multi).
type SlogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

// NewSlogSink wraps logger (or slog.Default() if nil) as a Sink,
// logging at Debug level.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{Logger: logger, Level: slog.LevelDebug}
}

// Emit implements Sink.
func (s *SlogSink) Emit(e Event) {
	attrs := make([]any, 0, 8+2*len(e.Fields))
	attrs = append(attrs,
		slog.String("request_id", e.RequestID),
		slog.String("name", e.Name),
		slog.Duration("duration", e.Duration),
	)
	for k, v := range e.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.Logger.Log(context.Background(), s.Level, string(e.Kind), attrs...)
}

var _ Sink = (*SlogSink)(nil)

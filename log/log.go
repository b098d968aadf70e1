// Package log provides the pipeline's shared structured logger: a
// log/slog logger whose handler mirrors every record onto the active
// OpenTelemetry span, so a line logged inside a traced calculation shows
// up as a span event and error-level records are also recorded on the
// span as errors (span.RecordError; the span status is left unchanged).
package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fujialign/fujialign/observability"
)

var logger = slog.New(&spanHandler{next: newSink(slog.LevelInfo, false)})

// Logger returns the process-wide logger. Components capture this once at
// package init; Configure swaps the sink underneath without invalidating
// those references.
func Logger() *slog.Logger {
	return logger
}

// Configure replaces the output sink: level is one of debug/info/warn/
// error (anything else keeps info), and jsonFormat selects the JSON
// handler for environments that ingest logs centrally. Safe to call once
// at process start, after config is loaded.
func Configure(level string, jsonFormat bool) {
	if h, ok := logger.Handler().(*spanHandler); ok {
		h.setNext(newSink(parseLevel(level), jsonFormat))
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newSink(level slog.Level, jsonFormat bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

// spanHandler forwards each record to the wrapped sink and, when the
// context carries a recording span, re-emits the record as a span event.
type spanHandler struct {
	mu   sync.RWMutex
	next slog.Handler
}

func (h *spanHandler) setNext(next slog.Handler) {
	h.mu.Lock()
	h.next = next
	h.mu.Unlock()
}

func (h *spanHandler) sink() slog.Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.next
}

func (h *spanHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.sink().Enabled(ctx, level)
}

func (h *spanHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if span := observability.SpanFromContext(ctx); span != nil && span.IsRecording() {
			attrs := make([]attribute.KeyValue, 0, r.NumAttrs()+1)
			r.Attrs(func(a slog.Attr) bool {
				attrs = append(attrs, spanAttr(a.Key, a.Value))
				return true
			})
			attrs = append(attrs, attribute.String("log.level", r.Level.String()))
			span.AddEvent("log."+r.Level.String(), observability.WithAttributes(attrs...))

			if r.Level >= slog.LevelError {
				span.RecordError(recordError(r))
			}
		}
	}
	return h.sink().Handle(ctx, r)
}

func (h *spanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &spanHandler{next: h.sink().WithAttrs(attrs)}
}

func (h *spanHandler) WithGroup(name string) slog.Handler {
	return &spanHandler{next: h.sink().WithGroup(name)}
}

// recordError extracts the error to attach to the span: the record's
// "error" attribute if one was logged, otherwise a synthetic error from
// the message itself.
func recordError(r slog.Record) error {
	var cause error
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "error" {
			return true
		}
		if err, ok := a.Value.Any().(error); ok {
			cause = err
		} else {
			cause = fmt.Errorf("%v", a.Value.Any())
		}
		return false
	})
	if cause != nil {
		return cause
	}
	return fmt.Errorf("%s", r.Message)
}

// spanAttr maps one slog attribute onto the closest OTel attribute type,
// stringifying anything without a direct counterpart.
func spanAttr(key string, v slog.Value) attribute.KeyValue {
	switch v.Kind() {
	case slog.KindString:
		return attribute.String(key, v.String())
	case slog.KindBool:
		return attribute.Bool(key, v.Bool())
	case slog.KindInt64:
		return attribute.Int64(key, v.Int64())
	case slog.KindUint64:
		return attribute.Int64(key, int64(v.Uint64()))
	case slog.KindFloat64:
		return attribute.Float64(key, v.Float64())
	case slog.KindDuration:
		return attribute.String(key, v.Duration().String())
	case slog.KindTime:
		return attribute.String(key, v.Time().Format(time.RFC3339Nano))
	default:
		return attribute.String(key, fmt.Sprint(v.Any()))
	}
}

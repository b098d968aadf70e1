package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujialign/fujialign/observability"
)

func TestLoggerSingleton(t *testing.T) {
	assert.NotNil(t, Logger())
	assert.Same(t, Logger(), Logger())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{" info ", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "level %q", tt.input)
	}
}

func TestConfigureKeepsLoggerReference(t *testing.T) {
	before := Logger()
	Configure("debug", true)
	defer Configure("info", false)

	assert.Same(t, before, Logger())
	assert.True(t, Logger().Enabled(context.Background(), slog.LevelDebug))
}

func TestHandleForwardsToSink(t *testing.T) {
	var buf bytes.Buffer
	h := &spanHandler{next: slog.NewTextHandler(&buf, nil)}
	l := slog.New(h)

	l.Info("processing day", "location_id", int64(7), "date", "2025-03-10")

	out := buf.String()
	assert.Contains(t, out, "processing day")
	assert.Contains(t, out, "location_id=7")
}

func TestHandleWithRecordingSpan(t *testing.T) {
	observability.NewLocalObserver()
	ctx, span := observability.Observer().CreateSpan(context.Background(), "test-span")
	defer span.End()

	var buf bytes.Buffer
	l := slog.New(&spanHandler{next: slog.NewTextHandler(&buf, nil)})

	l.InfoContext(ctx, "alignment found", "kind", "diamond_sunset", "quality", 0.84)
	l.ErrorContext(ctx, "replace day failed", "error", errors.New("connection reset"))

	assert.Contains(t, buf.String(), "alignment found")
	assert.Contains(t, buf.String(), "replace day failed")
	assert.True(t, span.IsRecording())
}

func TestWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(&spanHandler{next: slog.NewTextHandler(&buf, nil)})

	base.With("job_id", "abc").WithGroup("queue").Info("leased", "kind", "daily")

	out := buf.String()
	assert.Contains(t, out, "job_id=abc")
	assert.Contains(t, out, "queue.kind=daily")
}

func TestRecordErrorPrefersErrorAttr(t *testing.T) {
	cause := errors.New("pg timeout")

	r := slog.NewRecord(time.Now(), slog.LevelError, "storage failed", 0)
	r.AddAttrs(slog.Any("error", cause))
	require.ErrorIs(t, recordError(r), cause)

	r = slog.NewRecord(time.Now(), slog.LevelError, "storage failed", 0)
	r.AddAttrs(slog.String("error", "some text"))
	assert.EqualError(t, recordError(r), "some text")

	r = slog.NewRecord(time.Now(), slog.LevelError, "storage failed", 0)
	assert.EqualError(t, recordError(r), "storage failed")
}

func TestSpanAttrConversions(t *testing.T) {
	tests := []struct {
		name string
		in   slog.Value
		want string
	}{
		{"string", slog.StringValue("diamond_sunset"), "diamond_sunset"},
		{"bool", slog.BoolValue(true), ""},
		{"int", slog.Int64Value(42), ""},
		{"uint", slog.Uint64Value(42), ""},
		{"float", slog.Float64Value(0.84), ""},
		{"duration", slog.DurationValue(5 * time.Second), "5s"},
		{"any", slog.AnyValue([]int{1, 2}), "[1 2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := spanAttr("k", tt.in)
			assert.True(t, kv.Valid())
			assert.Equal(t, "k", string(kv.Key))
			if tt.want != "" {
				assert.Equal(t, tt.want, kv.Value.Emit())
			}
		})
	}
}

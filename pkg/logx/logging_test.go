package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn").With(String("comp", "dispatch"))

	log.Info("batch assigned", Int("seq", 1))
	assert.Zero(t, buf.Len(), "info is below warn")
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))

	log.Warn("message failed", Int("worker", 2), Err(errors.New("not on the network")), Err(nil))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "message failed", line["message"])
	assert.Equal(t, "dispatch", line["comp"])
	assert.EqualValues(t, 2, line["worker"])
	assert.Equal(t, "not on the network", line["err"])
	caller, _ := line["caller"].(string)
	assert.True(t, strings.HasPrefix(caller, "logging_test.go:"), caller)
}

func TestWithDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriter(&buf, "debug")
	_ = parent.With(String("run", "abc"))

	parent.Info("plain")
	assert.NotContains(t, buf.String(), `"run"`)
}

func TestZeroAndNopLoggers(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	assert.False(t, Nop().IsZero())
	assert.NotPanics(t, func() {
		zero.Error("dropped")
		Nop().With(String("k", "v")).Warn("dropped")
	})
}

func TestFormatOperatorLine(t *testing.T) {
	raw := `{"level":"warn","time":"2026-01-02T03:04:05Z","message":"restart failed","worker":3,"err":"pairing timed out"}` + "\n"
	assert.Equal(t, "[WARN] restart failed\n- err=pairing timed out\n- worker=3", formatOperatorLine([]byte(raw)))

	assert.Equal(t, "not json", formatOperatorLine([]byte("  not json \n")))

	long := `{"level":"error","message":"x","body":"` + strings.Repeat("a", 1000) + `"}`
	out := formatOperatorLine([]byte(long))
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Len(t, out, len("[ERROR] x\n- body=")+600)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{in: "short", max: 10, want: "short"},
		{in: "abcdefghijklmnop", max: 12, want: "abcdefghi..."},
		{in: "abcdef", max: 4, want: "abcd"},
		{in: "untouched", max: 0, want: "untouched"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.max), tt.in)
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel(" debug ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARNING", zerolog.InfoLevel))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("error", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("loud", zerolog.InfoLevel))
}

type sinkRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *sinkRecorder) Notify(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	return nil
}

func (r *sinkRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestServiceForwardsWarningsToSink(t *testing.T) {
	cfg := Config{
		Level:    "info",
		Operator: OperatorConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}
	svc, log := New(cfg)
	defer svc.Close()

	sink := &sinkRecorder{}
	svc.SetSink(sink)
	svc.Apply(cfg)

	log.Info("contacts loaded")
	log.Warn("continuing on stale session", String("worker", "client-2"))

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := sink.all()[0]
	assert.True(t, strings.HasPrefix(msg, "[WARN] continuing on stale session"), msg)
	assert.Contains(t, msg, "\n- worker=client-2")

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.all(), 1, "info stays below the operator threshold")
}

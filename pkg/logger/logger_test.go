package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		" warn ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNew(t *testing.T) {
	l := New("warn")
	require.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestNewWithFormat(t *testing.T) {
	for _, format := range []string{"", "json", "console", "unknown"} {
		l := NewWithFormat("debug", format)
		require.NotNil(t, l, "format %q", format)
		assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	}
}

func TestContextLoggerAddsIdentifiers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithConnectionID(context.Background(), "conn-1")
	ctx = WithRoomID(ctx, "lobby")
	ctx = WithRequestID(ctx, "req-9")

	cl.WithContext(ctx).Info("hello")
	cl.LogError(ctx, errors.New("boom"), "failed")

	entries := logs.All()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "conn-1", fields["connection_id"])
	assert.Equal(t, "lobby", fields["room_id"])
	assert.Equal(t, "req-9", fields["request_id"])
	assert.NotContains(t, fields, "user_id")

	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
	assert.Equal(t, "req-9", RequestIDFrom(ctx))
}

func TestContextLoggerWithoutIdentifiers(t *testing.T) {
	base := zap.NewNop()
	cl := NewContextLogger(base)
	assert.Same(t, base, cl.WithContext(context.Background()))
}

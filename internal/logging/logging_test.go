package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	assert.True(t, New("debug", "text").Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, New("error", "text").Enabled(context.Background(), slog.LevelInfo))
	// Unknown level falls back to info.
	l := New("verbose", "json")
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestID(ctx))

	ctx = WithRequestID(ctx, "req-456")
	assert.Equal(t, "req-456", RequestID(ctx))
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	require.NotNil(t, FromContext(context.Background()))

	custom := New("debug", "json")
	ctx := WithLogger(context.Background(), custom)
	assert.Same(t, custom, FromContext(ctx))
}

func TestLAnnotatesRequestID(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))
	require.NotNil(t, L(ctx))

	ctx = WithRequestID(ctx, "req-789")
	require.NotNil(t, L(ctx))
}

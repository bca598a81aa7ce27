package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		lvl, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, lvl, tt.in)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = &Config{Level: "verbose", Format: "json"}
	assert.Error(t, cfg.Validate())
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithTaskID(ctx, "task-1")
	ctx = WithRequestID(ctx, "req-9")

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "task.id", fields[0].Key)
	assert.Equal(t, "task-1", fields[0].String)
	assert.Equal(t, "request.id", fields[1].Key)
	assert.Equal(t, "req-9", fields[1].String)
}

func TestTaskIDRoundTrip(t *testing.T) {
	assert.Empty(t, TaskIDFromContext(context.Background()))

	ctx := WithTaskID(context.Background(), "abc")
	assert.Equal(t, "abc", TaskIDFromContext(ctx))
}

func TestFromContextFallsBackToNop(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)

	named := NewNop().Named("sub")
	ctx := WithLogger(context.Background(), named)
	assert.Same(t, named, FromContext(ctx))
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	_, err := NewLogger(&Config{Level: "info", Format: "xml"})
	assert.Error(t, err)

	logger, err := NewLogger(NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info(context.Background(), "started")
}

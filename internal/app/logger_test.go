package app

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})

	require.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	logger.Warn("closure failed", slog.String("day", "04112025"))
	require.Contains(t, buf.String(), `"msg":"closure failed"`)
	require.Contains(t, buf.String(), `"day":"04112025"`)
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	require.Equal(t, slog.LevelInfo, parseLevel(nil))
	require.Equal(t, slog.LevelDebug, parseLevel(&Config{LogLevel: "DEBUG"}))
	require.Equal(t, slog.LevelInfo, parseLevel(&Config{LogLevel: "verbose"}))
}

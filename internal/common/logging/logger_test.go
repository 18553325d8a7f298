package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	return lines
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel("Error"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, ConsoleFormat, ParseFormat("CONSOLE"))
	assert.Equal(t, JSONFormat, ParseFormat("json"))
	assert.Equal(t, JSONFormat, ParseFormat(""))
}

func TestZapAdapter_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Format: JSONFormat, Output: &buf, Name: "router"})
	require.NoError(t, err)

	logger.Debug("debug message", String("inputQueue", "in"))
	logger.Info("info message", Joined("outputQueues", []string{"a", "b"}))
	logger.Warn("warn message", Int("count", 3))
	logger.Error("error message", errors.New("boom"), String("outputQueue", "a"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 4)

	assert.Equal(t, "DEBUG", lines[0]["level"])
	assert.Equal(t, "in", lines[0]["inputQueue"])
	assert.Equal(t, "router", lines[0]["logger_name"])

	assert.Equal(t, "info message", lines[1]["message"])
	assert.Equal(t, "a, b", lines[1]["outputQueues"])

	assert.Equal(t, float64(3), lines[2]["count"])

	assert.Equal(t, "ERROR", lines[3]["level"])
	assert.Equal(t, "boom", lines[3]["error"])
	assert.Equal(t, "a", lines[3]["outputQueue"])
}

func TestZapAdapter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: WarnLevel, Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestZapAdapter_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)

	scoped := logger.WithFields(String("inputQueue", "in"), Int("worker", 2))
	scoped.Info("scoped")
	logger.Info("unscoped")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "in", lines[0]["inputQueue"])
	assert.Equal(t, float64(2), lines[0]["worker"])
	assert.NotContains(t, lines[1], "inputQueue")

	assert.Same(t, logger, logger.WithFields())
}

func TestZapAdapter_WithContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), MessageIDKey, "msg-1")
	logger.WithContext(ctx).Info("with id")
	logger.WithContext(context.Background()).Info("without id")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "msg-1", lines[0]["message_id"])
	assert.NotContains(t, lines[1], "message_id")
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Format: ConsoleFormat, Output: &buf})
	require.NoError(t, err)

	logger.Info("console line", String("inputQueue", "in"))
	assert.Contains(t, buf.String(), "console line")
	assert.Contains(t, buf.String(), `"inputQueue": "in"`)
}

func TestGlobalLogger(t *testing.T) {
	previous := GetGlobalLogger()
	defer SetGlobalLogger(previous)

	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)
	SetGlobalLogger(logger)

	Info("global info")
	Error("global error", errors.New("x"))
	WithFields(String("k", "v")).Warn("global warn", Err(errors.New("closed")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "v", lines[2]["k"])
	assert.Equal(t, "closed", lines[2]["error"])
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.Info("nothing")
		logger.WithFields(String("a", "b")).Error("nothing", errors.New("x"))
	})
}

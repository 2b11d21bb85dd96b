package logger

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, "BTCUSDT", "1h")

	l.Info("loaded %d candles", 3)
	l.Debug("hidden")
	l.LogError("depth refresh", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "[INFO] loaded 3 candles")
	assert.Contains(t, out, "[ERROR] depth refresh: boom")
	assert.NotContains(t, out, "hidden")

	l.SetDebug(true)
	l.Debug("visible")
	assert.Contains(t, buf.String(), "[DEBUG] visible")
}

func TestNilLogger_DoesNotPanic(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("x")
		l.LogOrderExecution("BUY", "MARKET", "id", "BTCUSDT", "1", "2", "2", "0", "10")
	})
}

func TestFileLogger_WritesHeaderAndFooter(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, "ETHUSDT", "15m")
	require.NoError(t, err)

	l.LogOrderExecution("SELL", "MARKET", "abc", "ETHUSDT", "0.5", "2000", "1000", "1", "11000")
	path := l.GetLogPath()
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.Contains(content, "SESSION STARTED"))
	assert.Contains(t, content, "Order ID: abc")
	assert.Contains(t, content, "SESSION ENDED")
}

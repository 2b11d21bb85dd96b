package common

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCommonFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := RegisterCommonFlags(fs)

	require.NoError(t, fs.Parse([]string{"-config", "terminal.yaml", "-verbose", "-console-only"}))
	assert.Equal(t, "terminal.yaml", *flags.ConfigFile)
	assert.Equal(t, ".env", *flags.EnvFile)
	assert.True(t, *flags.Verbose)
	assert.True(t, *flags.ConsoleOnly)
	assert.False(t, *flags.Version)
}

func TestFlagValidator(t *testing.T) {
	v := NewFlagValidator().
		ValidateChoice("exchange", "BYBIT", []string{"binance", "bybit"}).
		ValidateChoice("exchange", "", []string{"binance"})
	assert.False(t, v.HasErrors())
	assert.NoError(t, v.GetError())

	v.ValidateChoice("exchange", "kraken", []string{"binance", "bybit"})
	require.Error(t, v.GetError())
	assert.Contains(t, v.GetError().Error(), "kraken")

	v.ValidateFile("config", filepath.Join(t.TempDir(), "missing.yaml"), false)
	assert.Contains(t, v.GetError().Error(), "validation errors")
}

func TestLoadEnvFile(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsole(&buf)

	assert.NoError(t, LoadEnvFile(console, filepath.Join(t.TempDir(), "absent.env")))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TERMINAL_COMMON_TEST=loaded\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("TERMINAL_COMMON_TEST") })

	require.NoError(t, LoadEnvFile(console, path))
	assert.Equal(t, "loaded", os.Getenv("TERMINAL_COMMON_TEST"))
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsole(&buf)
	console.ShowColors = false

	console.Info("price %d", 42)
	console.Debug("hidden")
	console.Verbose = true
	console.Debug("shown")

	out := buf.String()
	assert.Contains(t, out, "[INFO] price 42")
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[DEBUG] shown")
}

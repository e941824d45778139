package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/glowlink/internal/config"
)

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LogConfig{Level: "info", Format: "json"}))

	log.Info("[BLE] connected", "device", "SIM:E8:31:CD:12:34:56")
	log.Debug("[BLE] hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "[BLE] connected", entry["msg"])
	assert.Equal(t, "SIM:E8:31:CD:12:34:56", entry["device"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestTextHandlerIsDefault(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LogConfig{Level: "debug"}))

	log.Debug("[API] request", "status", 200)
	out := buf.String()
	assert.Contains(t, out, `msg="[API] request"`)
	assert.Contains(t, out, "status=200")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "ParseLevel(%q)", tt.input)
	}
}

func TestOpenOutputStandardStreams(t *testing.T) {
	for output, want := range map[string]*os.File{"": os.Stderr, "stderr": os.Stderr, "stdout": os.Stdout} {
		w, closer, err := openOutput(output)
		require.NoError(t, err)
		assert.Same(t, want, w, "output %q", output)
		assert.NoError(t, closer())
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glowlink.log")

	log, closer, err := New(config.LogConfig{Level: "info", Format: "text", Output: path})
	require.NoError(t, err)
	log.Info("[CAPTURE] upload complete", "user_id", "alice")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "user_id=alice"), string(data))
}

func TestNewBadPath(t *testing.T) {
	_, _, err := New(config.LogConfig{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

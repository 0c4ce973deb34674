package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesKeys(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := Setup("defilab", "test", Options{Output: &buf})
	logger.Info("unit committed", "seq", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "unit committed", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "defilab", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 3, line["seq"])
}

func TestSetupHonoursLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := Setup("defilab", "", Options{Output: &buf, Level: "warn"})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestSetupWritesRotatedFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "lab.log")
	logger := Setup("defilab", "", Options{Output: &buf, File: path, MaxSizeMB: 1})
	logger.Info("hello")
	require.FileExists(t, path)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("api_key", "secret").Value.String())
	require.Equal(t, "A", MaskField("asset", "A").Value.String())
	require.Equal(t, " ", MaskField("api_key", " ").Value.String())
	require.Equal(t, ParseLevel("DEBUG"), slog.LevelDebug)
	require.Contains(t, RedactionAllowlist(), "seq")
}

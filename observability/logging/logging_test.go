package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("escrowd", "test", WithWriter(&buf), WithLevel("debug"))
	logger.Debug("listed", "asset_id", 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "listed", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "escrowd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestSetupWritesRotatingFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "escrowd.log")
	logger := Setup("escrowd", "", WithWriter(&buf), WithFile(path, 1, 1))
	logger.Info("hello")
	require.FileExists(t, path)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, slog.String("jwt_secret", RedactedValue), MaskField("jwt_secret", "hunter2"))
	require.Equal(t, slog.String("caller", "deed1abc"), MaskField("caller", "deed1abc"))
	require.Equal(t, slog.String("jwt_secret", ""), MaskField("jwt_secret", ""))
	require.Equal(t, ParseLevel("nonsense"), slog.LevelInfo)
	require.Contains(t, RedactionAllowlist(), "asset_id")
}

package logger_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dungeon-server/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("File sink with rotation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dungeon.log")
		log, err := logger.New(logger.Config{Level: "debug", OutputPath: path, FileMaxSizeMB: 1})
		require.NoError(t, err)

		log.Named("Test").Debug("Floor balanced")
		require.NoError(t, log.Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
		assert.Equal(t, "DEBUG", entry["level"])
		assert.Equal(t, "Floor balanced", entry["msg"])
		assert.Equal(t, "Test", entry["logger"])
		assert.Contains(t, entry, "timestamp")
	})

	t.Run("Level filter", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "warn.log")
		log, err := logger.New(logger.Config{Level: "WARN", OutputPath: path})
		require.NoError(t, err)
		log.Info("hidden")
		log.Warn("shown")
		require.NoError(t, log.Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "hidden")
		assert.Contains(t, string(data), "shown")
	})

	t.Run("Unknown level falls back to info", func(t *testing.T) {
		log, err := logger.New(logger.Config{Level: "verbose", Encoding: "console"})
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(-1))
		assert.True(t, log.Core().Enabled(0))
	})

	t.Run("Negative rotation settings", func(t *testing.T) {
		_, err := logger.New(logger.Config{OutputPath: filepath.Join(t.TempDir(), "x.log"), FileMaxBackups: -1})
		assert.Error(t, err)
	})
}

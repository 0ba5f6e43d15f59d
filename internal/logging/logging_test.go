package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFileLogging restores the package to its no-file-logging state.
func resetFileLogging(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		_ = CloseFileLoggers()
		InitFileLogging("", slog.LevelInfo)
	})
}

func readLogLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []map[string]any
	for _, line := range splitLines(data) {
		var record map[string]any
		require.NoError(t, json.Unmarshal(line, &record))
		records = append(records, record)
	}
	return records
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func TestForServiceWithoutFileLogging(t *testing.T) {
	resetFileLogging(t)

	logger := ForService("detector")
	require.NotNil(t, logger)
	logger.Info("still works without init")
}

func TestForServiceWritesRotatedFile(t *testing.T) {
	resetFileLogging(t)
	dir := t.TempDir()
	InitFileLogging(dir, slog.LevelInfo)

	logger := ForService("engine")
	logger.Info("run completed", "detections", 3)
	require.NoError(t, CloseFileLoggers())

	records := readLogLines(t, filepath.Join(dir, "engine.log"))
	require.Len(t, records, 1)
	assert.Equal(t, "run completed", records[0]["msg"])
	assert.Equal(t, "engine", records[0]["service"])
	assert.EqualValues(t, 3, records[0]["detections"])
}

func TestForServiceReusesLoggerPerService(t *testing.T) {
	resetFileLogging(t)
	dir := t.TempDir()
	InitFileLogging(dir, slog.LevelInfo)

	first := ForService("api")
	second := ForService("api")
	assert.Same(t, first, second)

	first.Info("one")
	second.Info("two")
	require.NoError(t, CloseFileLoggers())

	records := readLogLines(t, filepath.Join(dir, "api.log"))
	assert.Len(t, records, 2, "both calls must land in the same file")
}

func TestNewFileLoggerCreatesDirectories(t *testing.T) {
	resetFileLogging(t)
	path := filepath.Join(t.TempDir(), "nested", "logs", "svc.log")

	logger, closeFn, err := NewFileLogger(path, "svc", slog.LevelDebug)
	require.NoError(t, err)
	logger.Debug("created")
	require.NoError(t, closeFn())

	records := readLogLines(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, "svc", records[0]["service"])
	assert.Equal(t, "DEBUG", records[0]["level"])
}

func TestFileLevelFiltersRecords(t *testing.T) {
	resetFileLogging(t)
	dir := t.TempDir()
	InitFileLogging(dir, slog.LevelWarn)

	logger := ForService("quiet")
	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, CloseFileLoggers())

	records := readLogLines(t, filepath.Join(dir, "quiet.log"))
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0]["msg"])
}

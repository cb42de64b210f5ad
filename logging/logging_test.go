package logging

import (
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "escrowd.log")
	logger, closer := Setup("escrowd", "test", path)
	logger.Debug("batch committed", "height", 3)
	log.Print("from std log")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := splitLines(data)
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "batch committed", entry["message"])
	assert.Equal(t, "DEBUG", entry["severity"])
	assert.Equal(t, "escrowd", entry["service"])
	assert.Equal(t, "test", entry["env"])
	assert.EqualValues(t, 3, entry["height"])
	assert.Contains(t, entry, "timestamp")

	require.NoError(t, json.Unmarshal(lines[1], &entry))
	assert.Equal(t, "from std log", entry["message"])
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, levelFor("dev"))
	assert.Equal(t, slog.LevelDebug, levelFor(" Test "))
	assert.Equal(t, slog.LevelInfo, levelFor("prod"))
	assert.Equal(t, slog.LevelInfo, levelFor(""))
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				out = append(out, data[start:i])
			}
			start = i + 1
		}
	}
	return out
}

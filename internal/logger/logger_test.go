// internal/logger/logger_test.go - Logger construction tests
package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/valpere/tilecutter/internal/config"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")

	log, err := New(config.LoggingConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	log.Debug("tile fetched", zap.String("tile", "7/29/77"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"tile fetched"`)
	assert.Contains(t, string(data), `"tile":"7/29/77"`)
}

func TestNewRespectsLevel(t *testing.T) {
	log, err := New(config.LoggingConfig{Level: "warn", Format: "console", Output: "stderr"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))
	assert.True(t, log.Core().Enabled(zap.WarnLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "chatty", Format: "json"})
	assert.Error(t, err)
}

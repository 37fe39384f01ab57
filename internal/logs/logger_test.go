package logs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetupLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultLogConfig()
	cfg.EnableConsole = false
	cfg.EnableFile = true
	cfg.LogDir = dir
	cfg.Filename = "test.log"

	logger, err := SetupLogger(cfg)
	require.NoError(t, err)
	logger.Info("hello", zap.String("server", "weather"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "weather")
}

func TestSetupLoggerNoOutputs(t *testing.T) {
	cfg := DefaultLogConfig()
	cfg.EnableConsole = false
	cfg.EnableFile = false

	_, err := SetupLogger(cfg)
	assert.Error(t, err)
}

func TestSetupCommandLoggerLevels(t *testing.T) {
	base := DefaultLogConfig()
	base.EnableConsole = false
	base.EnableFile = true
	base.LogDir = t.TempDir()

	oneShot, _, err := SetupCommandLogger(base, false, "")
	require.NoError(t, err)
	assert.False(t, oneShot.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, oneShot.Core().Enabled(zapcore.WarnLevel))

	server, _, err := SetupCommandLogger(base, true, "")
	require.NoError(t, err)
	assert.True(t, server.Core().Enabled(zapcore.InfoLevel))

	explicit, _, err := SetupCommandLogger(base, false, "debug")
	require.NoError(t, err)
	assert.True(t, explicit.Core().Enabled(zapcore.DebugLevel))
	assert.Equal(t, LogLevelInfo, base.Level, "the base config is not modified")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("trace"))
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestSecretSanitizer(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sanitizer := NewSecretSanitizer(core)
	logger := zap.New(sanitizer)

	sanitizer.RegisterResolvedSecret("super-secret-api-key")
	logger.Info("using super-secret-api-key",
		zap.String("header", "Bearer abcdefghijklmnop"),
		zap.Error(errors.New("rejected super-secret-api-key")))

	entries := logs.All()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.NotContains(t, entry.Message, "super-secret-api-key")

	fields := entry.ContextMap()
	assert.Equal(t, "Bearer abc***op", fields["header"])
	assert.False(t, strings.Contains(fields["error"].(string), "super-secret-api-key"))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("abc"))
	assert.Equal(t, "ab****", MaskToken("abcdefg"))
	assert.Equal(t, "abc***yz", MaskToken("abcdefghijklmnopqrstuvwxyz"))
}

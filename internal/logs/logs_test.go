package logs

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"consolebot-go/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("trace"))
	assert.Equal(t, zap.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zap.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zap.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zap.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zap.InfoLevel, ParseLevel("verbose"))
}

func TestSetupLogger_FileOutput(t *testing.T) {
	tempDir := t.TempDir()
	logConfig := config.DefaultLogConfig()
	logConfig.EnableConsole = false
	logConfig.EnableFile = true
	logConfig.LogDir = tempDir
	logConfig.Filename = "test.log"
	logConfig.JSONFormat = true

	logger, level, err := SetupLogger(logConfig)
	require.NoError(t, err)

	logger.Info("hello", zap.Int("server_id", 42))
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(tempDir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"server_id":42`)
	assert.NotContains(t, string(data), "hidden")

	level.SetLevel(zap.DebugLevel)
	logger.Debug("visible now")
	_ = logger.Sync()

	data, err = os.ReadFile(filepath.Join(tempDir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible now")
}

func TestSetupLogger_NoOutputs(t *testing.T) {
	logConfig := config.DefaultLogConfig()
	logConfig.EnableConsole = false

	logger, _, err := SetupLogger(logConfig)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewTrafficLogger_Disabled(t *testing.T) {
	tl, err := NewTrafficLogger(&config.LogConfig{Traffic: &config.TrafficLogConfig{Enabled: false}})
	require.NoError(t, err)
	assert.False(t, tl.IsEnabled())

	// no-op, must not panic
	tl.RecordFrame(1, DirectionIncoming, []byte(`{}`))
	assert.NoError(t, tl.Close())

	var nilLogger *TrafficLogger
	nilLogger.RecordFrame(1, DirectionIncoming, []byte(`{}`))
	assert.False(t, nilLogger.IsEnabled())
}

func TestNewTrafficLogger_WritesFile(t *testing.T) {
	tempDir := t.TempDir()
	logConfig := config.DefaultLogConfig()
	logConfig.LogDir = tempDir
	logConfig.Traffic.Enabled = true
	logConfig.Traffic.Filename = "traffic-test.log"

	tl, err := NewTrafficLogger(logConfig)
	require.NoError(t, err)
	require.True(t, tl.IsEnabled())

	tl.RecordFrame(7, DirectionOutgoing, []byte(`{"id":1,"content":"player list"}`))
	require.NoError(t, tl.Close())

	data, err := os.ReadFile(filepath.Join(tempDir, "traffic-test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "console_frame")
	assert.Contains(t, string(data), "player list")
}

func observedTrafficLogger(cfg *config.TrafficLogConfig) (*TrafficLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	sensitive := regexp.MustCompile(`(?i)(token|secret)`)
	return newTrafficLogger(zap.New(core), cfg, sensitive), logs
}

func TestTrafficLogger_FiltersSensitive(t *testing.T) {
	cfg := config.DefaultTrafficLogConfig()
	tl, logs := observedTrafficLogger(cfg)

	tl.RecordFrame(3, DirectionIncoming, []byte(`{"type":"x","data":{"token":"abc","name":"bob"}}`))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	payload, ok := entry.ContextMap()["payload"].(map[string]interface{})
	require.True(t, ok)
	data := payload["data"].(map[string]interface{})
	assert.Equal(t, "[FILTERED]", data["token"])
	assert.Equal(t, "bob", data["name"])
	assert.Equal(t, int64(3), entry.ContextMap()["server_id"])
}

func TestTrafficLogger_TruncatesAndFiltersDirection(t *testing.T) {
	cfg := config.DefaultTrafficLogConfig()
	cfg.MaxPayloadSize = 8
	cfg.LogOutgoing = false
	tl, logs := observedTrafficLogger(cfg)

	tl.RecordFrame(1, DirectionOutgoing, []byte(`{"id":1,"content":"skipped"}`))
	assert.Equal(t, 0, logs.Len())

	tl.RecordFrame(1, DirectionIncoming, []byte(`{"type":"SystemMessage"}`))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, true, fields["truncated"])
	assert.Equal(t, `truncated_payload: {"type":...`, fields["payload"])
}

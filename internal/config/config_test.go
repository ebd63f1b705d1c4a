package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_JSON(t *testing.T) {
	d := Duration(90 * time.Second)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var parsed Duration
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, d, parsed)

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &parsed))
}

func TestValidate_FillsDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, DefaultHeartbeatTimeout, cfg.HeartbeatTimeout.Duration())
	assert.Equal(t, DefaultStatusSweepWorkers, cfg.StatusSweepWorkers)
	require.NotNil(t, cfg.Console)
	assert.Equal(t, ConsoleWriteWait, cfg.Console.WriteWait.Duration())
	require.NotNil(t, cfg.Logging)
	require.NotNil(t, cfg.Logging.Traffic)
	require.NotNil(t, cfg.StatusFeed)
	assert.Equal(t, defaultStatusFeedListen, cfg.StatusFeed.Listen)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad url", func(c *Config) { c.APIURL = "ftp://example" }, "api_url"},
		{"negative user", func(c *Config) { c.UserID = -1 }, "user_id"},
		{"zero group", func(c *Config) { c.Groups = []int{0} }, "invalid group id"},
		{"duplicate group", func(c *Config) { c.Groups = []int{3, 3} }, "duplicate group id"},
		{"ping after pong", func(c *Config) {
			c.Console.PingPeriod = Duration(2 * time.Minute)
			c.Console.PongWait = Duration(time.Minute)
		}, "ping_period"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_DisablesNegativeIntervals(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StatusPollInterval = Duration(-time.Second)
	cfg.Console.PingPeriod = Duration(-time.Second)

	require.NoError(t, cfg.Validate())
	assert.Zero(t, cfg.StatusPollInterval)
	assert.Zero(t, cfg.Console.PingPeriod)
}

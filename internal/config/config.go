package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultStatusFeedListen = "127.0.0.1:8089"
)

// Duration is a wrapper around time.Duration that can be marshaled to/from JSON
// and decoded from config strings such as "90s"
type Duration time.Duration

// MarshalJSON implements json.Marshaler interface
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler interface
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler, used by viper decoding
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration format: %w", err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config represents the main configuration structure
type Config struct {
	// Metadata service
	APIURL      string `json:"api_url" mapstructure:"api_url"`
	AccessToken string `json:"access_token,omitempty" mapstructure:"access_token"`
	UserID      int    `json:"user_id" mapstructure:"user_id"`

	// Directory holding the instance lock; defaults to ~/.consolebot
	DataDir string `json:"data_dir,omitempty" mapstructure:"data_dir"`

	// Groups whose servers are managed, one lifecycle manager each
	Groups []int `json:"groups" mapstructure:"groups"`

	// A server whose last heartbeat is older than this is considered offline
	HeartbeatTimeout Duration `json:"heartbeat_timeout" mapstructure:"heartbeat_timeout"`

	// How often server status is polled when no push transport feeds the bus (0 = disabled)
	StatusPollInterval Duration `json:"status_poll_interval" mapstructure:"status_poll_interval"`

	// Maximum concurrent status fetches during a manager's initial pass
	StatusSweepWorkers int `json:"status_sweep_workers" mapstructure:"status_sweep_workers"`

	Console    *ConsoleConfig    `json:"console,omitempty" mapstructure:"console"`
	StatusFeed *StatusFeedConfig `json:"status_feed,omitempty" mapstructure:"status_feed"`
	Logging    *LogConfig        `json:"logging,omitempty" mapstructure:"logging"`
}

// ConsoleConfig represents console socket settings
type ConsoleConfig struct {
	HandshakeTimeout Duration `json:"handshake_timeout" mapstructure:"handshake_timeout"`
	WriteWait        Duration `json:"write_wait" mapstructure:"write_wait"`
	PongWait         Duration `json:"pong_wait" mapstructure:"pong_wait"`
	PingPeriod       Duration `json:"ping_period" mapstructure:"ping_period"` // 0 disables client pings
	MaxMessageSize   int64    `json:"max_message_size" mapstructure:"max_message_size"`

	// Events subscribed on every console once it is connected
	Subscriptions []string `json:"subscriptions,omitempty" mapstructure:"subscriptions"`
}

// StatusFeedConfig represents the local websocket status feed
type StatusFeedConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string            `json:"level" mapstructure:"level"`
	EnableFile    bool              `json:"enable_file" mapstructure:"enable_file"`
	EnableConsole bool              `json:"enable_console" mapstructure:"enable_console"`
	Filename      string            `json:"filename" mapstructure:"filename"`
	LogDir        string            `json:"log_dir,omitempty" mapstructure:"log_dir"` // Custom log directory
	MaxSize       int               `json:"max_size" mapstructure:"max_size"`         // MB
	MaxBackups    int               `json:"max_backups" mapstructure:"max_backups"`   // number of backup files
	MaxAge        int               `json:"max_age" mapstructure:"max_age"`           // days
	Compress      bool              `json:"compress" mapstructure:"compress"`
	JSONFormat    bool              `json:"json_format" mapstructure:"json_format"`
	Traffic       *TrafficLogConfig `json:"traffic,omitempty" mapstructure:"traffic"` // Console frame logging
}

// TrafficLogConfig represents console traffic logging configuration
type TrafficLogConfig struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled"`
	Filename        string `json:"filename" mapstructure:"filename"`
	LogIncoming     bool   `json:"log_incoming" mapstructure:"log_incoming"`
	LogOutgoing     bool   `json:"log_outgoing" mapstructure:"log_outgoing"`
	MaxPayloadSize  int    `json:"max_payload_size" mapstructure:"max_payload_size"` // bytes, 0 = unlimited
	FilterSensitive bool   `json:"filter_sensitive" mapstructure:"filter_sensitive"`
}

// DefaultTrafficLogConfig returns default traffic logging configuration
func DefaultTrafficLogConfig() *TrafficLogConfig {
	return &TrafficLogConfig{
		Enabled:         false, // Disabled by default to avoid excessive logging
		Filename:        "traffic.log",
		LogIncoming:     true,
		LogOutgoing:     true,
		MaxPayloadSize:  10240,
		FilterSensitive: true,
	}
}

// DefaultConsoleConfig returns default console socket settings
func DefaultConsoleConfig() *ConsoleConfig {
	return &ConsoleConfig{
		HandshakeTimeout: Duration(ConsoleHandshakeTimeout),
		WriteWait:        Duration(ConsoleWriteWait),
		PongWait:         Duration(ConsolePongWait),
		PingPeriod:       Duration(ConsolePingPeriod),
		MaxMessageSize:   ConsoleMaxMessageSize,
	}
}

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:         "info",
		EnableFile:    false,
		EnableConsole: true,
		Filename:      "consolebot.log",
		MaxSize:       10,
		MaxBackups:    5,
		MaxAge:        30,
		Compress:      true,
		JSONFormat:    false,
		Traffic:       DefaultTrafficLogConfig(),
	}
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		APIURL:             DefaultAPIURL,
		Groups:             []int{},
		HeartbeatTimeout:   Duration(DefaultHeartbeatTimeout),
		StatusPollInterval: Duration(DefaultStatusPollInterval),
		StatusSweepWorkers: DefaultStatusSweepWorkers,
		Console:            DefaultConsoleConfig(),
		StatusFeed: &StatusFeedConfig{
			Enabled: false,
			Listen:  defaultStatusFeedListen,
		},
		Logging: DefaultLogConfig(),
	}
}

// Validate fills zero values with defaults and reports unusable settings
func (c *Config) Validate() error {
	var errs []error

	c.APIURL = strings.TrimSpace(c.APIURL)
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		errs = append(errs, fmt.Errorf("api_url must be an http(s) URL: %q", c.APIURL))
	}
	if c.UserID < 0 {
		errs = append(errs, fmt.Errorf("user_id must not be negative: %d", c.UserID))
	}
	seen := make(map[int]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g <= 0 {
			errs = append(errs, fmt.Errorf("invalid group id: %d", g))
		}
		if seen[g] {
			errs = append(errs, fmt.Errorf("duplicate group id: %d", g))
		}
		seen[g] = true
	}

	if c.HeartbeatTimeout.Duration() <= 0 {
		c.HeartbeatTimeout = Duration(DefaultHeartbeatTimeout)
	}
	if c.StatusPollInterval.Duration() < 0 {
		c.StatusPollInterval = 0
	}
	if c.StatusSweepWorkers <= 0 {
		c.StatusSweepWorkers = DefaultStatusSweepWorkers
	}

	// Ensure Console config is not nil
	if c.Console == nil {
		c.Console = DefaultConsoleConfig()
	}
	if c.Console.HandshakeTimeout.Duration() <= 0 {
		c.Console.HandshakeTimeout = Duration(ConsoleHandshakeTimeout)
	}
	if c.Console.WriteWait.Duration() <= 0 {
		c.Console.WriteWait = Duration(ConsoleWriteWait)
	}
	if c.Console.PongWait.Duration() <= 0 {
		c.Console.PongWait = Duration(ConsolePongWait)
	}
	if c.Console.PingPeriod.Duration() < 0 {
		c.Console.PingPeriod = 0
	}
	if c.Console.PingPeriod > 0 && c.Console.PingPeriod >= c.Console.PongWait {
		errs = append(errs, fmt.Errorf("console.ping_period (%s) must be shorter than console.pong_wait (%s)",
			c.Console.PingPeriod.Duration(), c.Console.PongWait.Duration()))
	}
	if c.Console.MaxMessageSize <= 0 {
		c.Console.MaxMessageSize = ConsoleMaxMessageSize
	}

	if c.StatusFeed == nil {
		c.StatusFeed = &StatusFeedConfig{Listen: defaultStatusFeedListen}
	}
	if c.StatusFeed.Listen == "" {
		c.StatusFeed.Listen = defaultStatusFeedListen
	}

	// Ensure Logging config is not nil
	if c.Logging == nil {
		c.Logging = DefaultLogConfig()
	}
	if c.Logging.Traffic == nil {
		c.Logging.Traffic = DefaultTrafficLogConfig()
	}

	return errors.Join(errs...)
}

package logs

import (
	"encoding/json"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"consolebot-go/internal/config"
)

// Frame directions
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// TrafficLogger writes console frames to a dedicated rotated JSON log
type TrafficLogger struct {
	logger    *zap.Logger
	config    *config.TrafficLogConfig
	enabled   bool
	sensitive *regexp.Regexp
}

// NewTrafficLogger creates a traffic logger. A nil or disabled traffic config
// yields a logger whose methods do nothing.
func NewTrafficLogger(logConfig *config.LogConfig) (*TrafficLogger, error) {
	if logConfig == nil || logConfig.Traffic == nil || !logConfig.Traffic.Enabled {
		return &TrafficLogger{enabled: false}, nil
	}

	trafficConfig := logConfig.Traffic

	fileLogConfig := &config.LogConfig{
		Level:      logConfig.Level,
		EnableFile: true,
		Filename:   trafficConfig.Filename,
		LogDir:     logConfig.LogDir,
		MaxSize:    logConfig.MaxSize,
		MaxBackups: logConfig.MaxBackups,
		MaxAge:     logConfig.MaxAge,
		Compress:   logConfig.Compress,
		JSONFormat: true, // Always use JSON format for traffic logs
	}

	fileCore, err := createFileCore(fileLogConfig, zap.DebugLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create traffic log file core: %w", err)
	}

	var sensitiveRegex *regexp.Regexp
	if trafficConfig.FilterSensitive {
		sensitiveRegex = regexp.MustCompile(`(?i)(password|secret|token|authorization|credential|api_key|api-key|bearer|jwt)`)
	}

	return newTrafficLogger(zap.New(fileCore), trafficConfig, sensitiveRegex), nil
}

func newTrafficLogger(logger *zap.Logger, cfg *config.TrafficLogConfig, sensitive *regexp.Regexp) *TrafficLogger {
	return &TrafficLogger{
		logger:    logger,
		config:    cfg,
		enabled:   true,
		sensitive: sensitive,
	}
}

// RecordFrame logs one console frame. It is safe for concurrent use.
func (tl *TrafficLogger) RecordFrame(serverID int, direction string, payload []byte) {
	if tl == nil || !tl.enabled {
		return
	}
	if direction == DirectionIncoming && !tl.config.LogIncoming {
		return
	}
	if direction == DirectionOutgoing && !tl.config.LogOutgoing {
		return
	}

	body, truncated := tl.preparePayload(payload)
	tl.logger.Info("console_frame",
		zap.Int("server_id", serverID),
		zap.String("direction", direction),
		zap.Int("payload_size", len(payload)),
		zap.Bool("truncated", truncated),
		zap.Any("payload", body),
	)
}

// preparePayload decodes, filters and truncates a frame for logging
func (tl *TrafficLogger) preparePayload(payload []byte) (interface{}, bool) {
	if tl.config.MaxPayloadSize > 0 && len(payload) > tl.config.MaxPayloadSize {
		return fmt.Sprintf("truncated_payload: %s...", string(payload[:tl.config.MaxPayloadSize])), true
	}

	var decoded interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return string(payload), false
	}

	if tl.sensitive != nil {
		decoded = tl.filterRecursive(decoded)
	}
	return decoded, false
}

// filterRecursive replaces values of sensitive keys in nested structures
func (tl *TrafficLogger) filterRecursive(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		filtered := make(map[string]interface{}, len(v))
		for key, value := range v {
			if tl.sensitive.MatchString(key) {
				filtered[key] = "[FILTERED]"
			} else {
				filtered[key] = tl.filterRecursive(value)
			}
		}
		return filtered
	case []interface{}:
		filtered := make([]interface{}, len(v))
		for i, item := range v {
			filtered[i] = tl.filterRecursive(item)
		}
		return filtered
	default:
		return v
	}
}

// Close flushes the traffic logger
func (tl *TrafficLogger) Close() error {
	if tl != nil && tl.logger != nil {
		return tl.logger.Sync()
	}
	return nil
}

// IsEnabled returns whether traffic logging is enabled
func (tl *TrafficLogger) IsEnabled() bool {
	return tl != nil && tl.enabled
}

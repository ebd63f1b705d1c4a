// Package logs builds the zap loggers used across consolebot.
package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"consolebot-go/internal/config"
)

// Log level names accepted in configuration
const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// ParseLevel maps a configured level name to a zap level. Unknown names map to info.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case LogLevelTrace, LogLevelDebug:
		return zap.DebugLevel
	case LogLevelInfo:
		return zap.InfoLevel
	case LogLevelWarn:
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetupLogger creates the main logger from logConfig. The returned level can
// be changed at runtime, e.g. on configuration reload.
func SetupLogger(logConfig *config.LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	if logConfig == nil {
		logConfig = config.DefaultLogConfig()
	}

	level := zap.NewAtomicLevelAt(ParseLevel(logConfig.Level))

	var cores []zapcore.Core
	if logConfig.EnableConsole {
		cores = append(cores, zapcore.NewCore(newEncoder(logConfig.JSONFormat, true), zapcore.Lock(os.Stderr), level))
	}

	if logConfig.EnableFile {
		fileCore, err := createFileCore(logConfig, level)
		if err != nil {
			return nil, level, err
		}
		cores = append(cores, fileCore)
	}

	if len(cores) == 0 {
		return zap.NewNop(), level, nil
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return logger, level, nil
}

// createFileCore creates a core writing to a lumberjack-rotated file
func createFileCore(logConfig *config.LogConfig, level zapcore.LevelEnabler) (zapcore.Core, error) {
	logPath, err := resolveLogPath(logConfig)
	if err != nil {
		return nil, err
	}

	writer := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logConfig.MaxSize,
		MaxBackups: logConfig.MaxBackups,
		MaxAge:     logConfig.MaxAge,
		Compress:   logConfig.Compress,
	}

	return zapcore.NewCore(newEncoder(logConfig.JSONFormat, false), zapcore.AddSync(writer), level), nil
}

// resolveLogPath returns the absolute log file path, creating its directory
func resolveLogPath(logConfig *config.LogConfig) (string, error) {
	dir := logConfig.LogDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".consolebot", "logs")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := logConfig.Filename
	if filename == "" {
		filename = "consolebot.log"
	}
	return filepath.Join(dir, filename), nil
}

func newEncoder(jsonFormat, color bool) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if jsonFormat {
		return zapcore.NewJSONEncoder(encCfg)
	}
	if color {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encCfg)
}

package logs

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
)

// Log level constants
const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig() *config.LogConfig {
	return &config.LogConfig{
		Level:         LogLevelInfo,
		EnableFile:    false,
		EnableConsole: true,
		Filename:      "main.log",
		MaxSize:       10,
		MaxBackups:    5,
		MaxAge:        30,
		Compress:      true,
		JSONFormat:    false,
	}
}

// SetupLogger creates a logger with file and console outputs based on configuration
func SetupLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	logger, _, err := SetupLoggerWithSanitizer(cfg)
	return logger, err
}

// SetupLoggerWithSanitizer is SetupLogger plus access to the sanitizer so callers
// can register secret values resolved at runtime.
func SetupLoggerWithSanitizer(cfg *config.LogConfig) (*zap.Logger, *SecretSanitizer, error) {
	if cfg == nil {
		cfg = DefaultLogConfig()
	}

	level := parseLevel(cfg.Level)

	var cores []zapcore.Core

	if cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(
			getConsoleEncoder(),
			zapcore.AddSync(os.Stderr),
			level,
		))
	}

	if cfg.EnableFile {
		fileCore, err := createFileCore(cfg, level)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create file core: %w", err)
		}
		cores = append(cores, fileCore)
	}

	if len(cores) == 0 {
		return nil, nil, fmt.Errorf("no log outputs configured")
	}

	sanitizer := NewSecretSanitizer(zapcore.NewTee(cores...))
	logger := zap.New(sanitizer, zap.AddCaller())

	return logger, sanitizer, nil
}

// SetupCommandLogger creates a logger for CLI commands from the configured
// outputs. Long-running commands use the configured level (INFO if unset),
// one-shot commands WARN. An explicit logLevel wins.
func SetupCommandLogger(base *config.LogConfig, serverCommand bool, logLevel string) (*zap.Logger, *SecretSanitizer, error) {
	cfg := DefaultLogConfig()
	if base != nil {
		copied := *base
		cfg = &copied
	}

	switch {
	case !serverCommand:
		cfg.Level = LogLevelWarn
	case cfg.Level == "":
		cfg.Level = LogLevelInfo
	}
	if logLevel != "" {
		cfg.Level = logLevel
	}

	return SetupLoggerWithSanitizer(cfg)
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case LogLevelTrace, LogLevelDebug:
		return zap.DebugLevel
	case LogLevelWarn:
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// createFileCore creates a rotating file core
func createFileCore(cfg *config.LogConfig, level zapcore.Level) (zapcore.Core, error) {
	logFilePath, err := GetLogFilePathWithDir(cfg.LogDir, cfg.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to get log file path: %w", err)
	}

	lumberjackLogger := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	encoder := getFileEncoder()
	if cfg.JSONFormat {
		encoder = getJSONEncoder()
	}

	return zapcore.NewCore(encoder, zapcore.AddSync(lumberjackLogger), level), nil
}

func getConsoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getFileEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoderConfig.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getJSONEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// Package logger provides structured logging for airsync workers
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/airsync/pkg/models"
)

// Config represents logger configuration
type Config struct {
	Level       string   `mapstructure:"level" yaml:"level" json:"level"`
	Development bool     `mapstructure:"development" yaml:"development" json:"development"`
	Encoding    string   `mapstructure:"encoding" yaml:"encoding" json:"encoding"` // json or console
	OutputPaths []string `mapstructure:"output_paths" yaml:"output_paths" json:"output_paths"`
}

// DefaultConfig returns the production logging defaults
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Encoding: "json",
	}
}

// New creates a zap logger from the configuration
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "json"
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         cfg.Encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if cfg.Development {
		logger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return logger, nil
}

// ForEvent returns a child logger tagged with the event context of an invocation
func ForEvent(l *zap.Logger, event *models.Event) *zap.Logger {
	if event == nil {
		return l
	}
	ec := event.Payload.EventContext
	fields := []zap.Field{
		zap.String("event_type", string(event.Payload.EventType)),
		zap.String("request_id", ec.UUID),
		zap.String("sync_run_id", ec.SyncRunID),
		zap.String("dev_org_id", ec.DevOrgID),
		zap.String("mode", string(ec.Mode)),
	}
	if ec.SyncUnitID != "" {
		fields = append(fields, zap.String("sync_unit_id", ec.SyncUnitID))
	}
	if ec.ExternalSyncUnitID != "" {
		fields = append(fields, zap.String("external_sync_unit_id", ec.ExternalSyncUnitID))
	}
	if ec.ExternalSystemType != "" {
		fields = append(fields, zap.String("external_system_type", ec.ExternalSystemType))
	}
	if event.Context.SnapInVersionID != "" {
		fields = append(fields, zap.String("snap_in_version_id", event.Context.SnapInVersionID))
	}
	return l.With(fields...)
}

// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the logger flavour and an optional rotating log file.
type Config struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// New builds a zap.Logger configured for development or production. When
// File is set, JSON entries are also written to a lumberjack-rotated file.
func New(cfg Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.DisableStacktrace = false
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.EncoderConfig.TimeKey = "ts"

	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	var opts []zap.Option
	if cfg.File != "" {
		fileCore := newFileCore(cfg, zcfg.Level)
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	logger, err := zcfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func newFileCore(cfg Config, level zapcore.LevelEnabler) zapcore.Core {
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    orDefault(cfg.MaxSizeMB, 50),
		MaxBackups: orDefault(cfg.MaxBackups, 3),
		MaxAge:     orDefault(cfg.MaxAgeDays, 14),
		Compress:   cfg.Compress,
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

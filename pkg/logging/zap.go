package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapConfig controls the zap backend used by the CLI.
type ZapConfig struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string

	// FilePath, when set, additionally writes JSON-encoded log lines to a
	// size-rotated file. Console output is always enabled.
	FilePath string

	// Rotation settings for the log file; zero values fall back to
	// 10 MB / 3 backups / 28 days.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// zapAdapter hides zap types behind the Logger interface.
type zapAdapter struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger creates a zap-backed Logger. Console output uses a
// human-readable encoder; the optional file sink uses JSON and rotates via
// lumberjack.
func NewZapLogger(config ZapConfig) (Logger, error) {
	level := zapcore.InfoLevel
	switch config.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stderr),
			level,
		),
	}

	if config.FilePath != "" {
		maxSize := config.MaxSizeMB
		if maxSize == 0 {
			maxSize = 10
		}
		maxBackups := config.MaxBackups
		if maxBackups == 0 {
			maxBackups = 3
		}
		maxAge := config.MaxAgeDays
		if maxAge == 0 {
			maxAge = 28
		}
		writer := &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(writer),
			level,
		))
	}

	zapLogger := zap.New(zapcore.NewTee(cores...))
	return &zapAdapter{sugar: zapLogger.Sugar()}, nil
}

func (z *zapAdapter) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *zapAdapter) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *zapAdapter) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *zapAdapter) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

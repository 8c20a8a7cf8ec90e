// Package logging builds the process logger.
package logging

import (
	"os"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/tokenledger/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a JSON logger at cfg.Level. Output goes to stderr, or to a rotated file when cfg.File is set.
func New(cfg config.Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "parse log level %q", cfg.Level)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), writer(cfg), level)

	return zap.New(core, zap.AddCaller()), nil
}

func writer(cfg config.Log) zapcore.WriteSyncer {
	if cfg.File == "" {
		return zapcore.Lock(os.Stderr)
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

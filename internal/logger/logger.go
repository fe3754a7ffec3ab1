package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config содержит настройки для логгера.
type Config struct {
	Level      string // Уровень логирования (debug, info, warn, error)
	Encoding   string // Формат вывода (json или console)
	OutputPath string // stdout, stderr или путь к файлу с ротацией

	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
}

// New создает новый экземпляр zap.Logger на основе конфигурации.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	logLevel := strings.ToLower(cfg.Level)
	if logLevel == "" {
		logLevel = "info"
	}
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		// Логгер еще не создан
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', using 'info'. Error: %v\n", cfg.Level, err)
		level.SetLevel(zap.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Encoding) == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sink, err := newSink(cfg)
	if err != nil {
		return nil, err
	}
	return zap.New(zapcore.NewCore(encoder, sink, level), zap.ErrorOutput(zapcore.Lock(os.Stderr))), nil
}

func newSink(cfg Config) (zapcore.WriteSyncer, error) {
	switch path := strings.TrimSpace(cfg.OutputPath); path {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	default:
		if cfg.FileMaxSizeMB < 0 || cfg.FileMaxBackups < 0 || cfg.FileMaxAgeDays < 0 {
			return nil, fmt.Errorf("invalid log rotation settings for %s", path)
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.FileMaxSizeMB,
			MaxBackups: cfg.FileMaxBackups,
			MaxAge:     cfg.FileMaxAgeDays,
		}), nil
	}
}

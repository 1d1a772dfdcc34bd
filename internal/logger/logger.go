// internal/logger/logger.go
package logger

import (
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log rotation and which sinks are active.
type Config struct {
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`    // megabytes
	MaxAge     int    `mapstructure:"max_age"`     // days
	MaxBackups int    `mapstructure:"max_backups"` // files
	Compress   bool   `mapstructure:"compress"`
	Debug      bool   `mapstructure:"-"`
	// Quiet drops the console sink so the terminal dashboard owns stdout.
	Quiet bool `mapstructure:"-"`
}

// DefaultConfig rotates katz.log at 100MB and keeps 3 compressed backups for a week.
func DefaultConfig() Config {
	return Config{
		File:       "logs/katz.log",
		MaxSize:    100,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
	}
}

// Logger wraps zap.Logger with the context helpers used across the bot.
type Logger struct {
	*zap.Logger
	rotator *lumberjack.Logger
}

// New builds a logger writing JSON to the rotated file, pretty lines to
// stdout and, when buffer is set, JSON entries into buffer.
func New(cfg Config, buffer *Buffer) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var (
		cores   []zapcore.Core
		rotator *lumberjack.Logger
	)
	if cfg.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level))
	}
	if !cfg.Quiet {
		cores = append(cores, zapcore.NewCore(PrettyEncoder(), zapcore.Lock(os.Stdout), level))
	}
	if buffer != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(bufferEncoderConfig()), buffer, level))
	}
	if len(cores) == 0 {
		return nil, errors.New("logger has no sinks: set a file, a buffer or disable quiet mode")
	}

	return &Logger{
		Logger: zap.New(zapcore.NewTee(cores...),
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		),
		rotator: rotator,
	}, nil
}

// WithTransaction adds the queue transaction id.
func (l *Logger) WithTransaction(txID string) *zap.Logger {
	return l.With(
		zap.String("tx_id", txID),
		zap.Time("tx_time", time.Now().UTC()),
	)
}

// WithOperation tags a logger with a fresh correlation id.
func (l *Logger) WithOperation(operation string) *zap.Logger {
	return l.With(
		zap.String("operation", operation),
		zap.String("correlation_id", uuid.NewString()),
	)
}

func (l *Logger) WithComponent(component string) *zap.Logger {
	return l.Named(component)
}

func (l *Logger) WithUser(userID string) *zap.Logger {
	return l.With(zap.String("user_id", userID))
}

// TrackPerformance logs the duration of operation when the returned func runs.
func (l *Logger) TrackPerformance(operation string) (end func()) {
	start := time.Now()
	opLogger := l.WithOperation(operation)
	opLogger.Debug("Starting operation")

	return func() {
		duration := time.Since(start)
		opLogger.Debug("Operation completed",
			zap.Duration("duration", duration),
			zap.Float64("duration_ms", float64(duration.Microseconds())/1000),
		)
	}
}

// Sync flushes every sink, ignoring the errors terminals return for stdout.
func (l *Logger) Sync() error {
	err := l.Logger.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}

// Close syncs and releases the rotated file.
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Package logging builds the zap logger used by the cimon commands.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level and encoding. Output defaults to stderr.
type Config struct {
	Level  string
	Format string // json or console
	Output io.Writer
}

// New creates a logger from config.
func New(cfg Config) (*zap.Logger, error) {
	level, err := LevelFromString(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var out zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if cfg.Output != nil {
		out = zapcore.AddSync(cfg.Output)
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), out, level)
	return zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// LevelFromString parses a level name. Empty means info.
func LevelFromString(level string) (zapcore.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if strings.EqualFold(format, "console") {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// Redacted logs that a secret is set without logging its value.
func Redacted(key, val string) zap.Field {
	if val == "" {
		return zap.String(key, "")
	}
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// Sync flushes the logger, ignoring the harmless errors returned when
// stderr is a terminal.
func Sync(log *zap.Logger) error {
	err := log.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}

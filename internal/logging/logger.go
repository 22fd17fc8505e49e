package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is debug, info, warn or error.
	Level string
	// File is the rotating log base path; empty logs to stderr only.
	File     string
	MaxBytes int64
	// Console mirrors file output to stderr.
	Console bool
}

// New builds a zap logger writing JSON to the rotating file sink and, when
// requested or when no file is configured, to stderr. The returned closer
// releases the file sink after the logger has been synced.
func New(opts Options) (*zap.Logger, io.Closer, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if level == zapcore.DebugLevel {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}

	var (
		cores  []zapcore.Core
		closer io.Closer = discard{}
	)
	if strings.TrimSpace(opts.File) != "" {
		w, err := NewRotatingWriter(opts.File, opts.MaxBytes)
		if err != nil {
			return nil, nil, err
		}
		closer = w
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level))
	}
	if opts.Console || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, closer, nil
}

func parseLevel(v string) (zapcore.Level, error) {
	if strings.TrimSpace(v) == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(v)))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", v, err)
	}
	return level, nil
}

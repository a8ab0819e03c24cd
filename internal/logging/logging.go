// Package logging is the frontier's structured-logging setup: kept
// close to the teacher's log/default.go and log/toml_log.go, with
// NewStdoutPlugin/NewFilePlugin/NewLogger written fresh since the
// teacher's own files call them but never defined them in the
// retrieved pack.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/awaketai/urlfrontier/internal/config"
)

// DefaultEncoderConfig is the base zapcore encoder configuration
// shared by every frontier logging sink.
func DefaultEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return encoderConfig
}

// DefaultEncoder builds a JSON encoder over DefaultEncoderConfig.
func DefaultEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(DefaultEncoderConfig())
}

// DefaultOption is the zap.Option set applied to every logger this
// package builds.
func DefaultOption() []zap.Option {
	var stackTraceLevel zap.LevelEnablerFunc = func(l zapcore.Level) bool {
		return l >= zapcore.DPanicLevel
	}
	return []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(stackTraceLevel),
	}
}

// DefaultLumberjackLogger returns the rotation policy applied to every
// file sink: 200MB per file, local time stamps, gzip on rotate.
func DefaultLumberjackLogger() *lumberjack.Logger {
	return &lumberjack.Logger{
		MaxSize:   200,
		LocalTime: true,
		Compress:  true,
	}
}

// NewStdoutPlugin builds a core writing JSON-encoded records to
// stdout at or above level.
func NewStdoutPlugin(level zapcore.Level) zapcore.Core {
	return zapcore.NewCore(DefaultEncoder(), zapcore.Lock(os.Stdout), level)
}

// NewFilePlugin builds a core writing JSON-encoded records to a
// rotated log file at or above level. The returned io.Closer must be
// closed on shutdown to flush lumberjack's rotation state.
func NewFilePlugin(filename string, level zapcore.Level) (zapcore.Core, io.Closer) {
	lj := DefaultLumberjackLogger()
	lj.Filename = filename
	core := zapcore.NewCore(DefaultEncoder(), zapcore.AddSync(lj), level)
	return core, lj
}

// NewLogger builds a *zap.Logger over one or more cores, teeing
// output to all of them.
func NewLogger(cores ...zapcore.Core) *zap.Logger {
	return zap.New(zapcore.NewTee(cores...), DefaultOption()...)
}

// FromServerConfig builds the process logger from ServerConfig: always
// a stdout sink, plus a rotated file sink when LogFile is set. It
// mirrors the teacher's TomLog, generalized to read the already-parsed
// ServerConfig instead of re-reading the raw config.Config, and to
// return the io.Closer callers must close on shutdown to flush the
// file sink.
func FromServerConfig(cfg config.ServerConfig) (*zap.Logger, io.Closer, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	cores := []zapcore.Core{NewStdoutPlugin(level)}
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		fileCore, fileCloser := NewFilePlugin(cfg.LogFile, level)
		cores = append(cores, fileCore)
		closer = fileCloser
	}

	logger := NewLogger(cores...)
	zap.ReplaceGlobals(logger)
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

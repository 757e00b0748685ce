// Package logger owns the process-wide structured logger.
//
// The daemon logs to three sinks at once: the console, a bounded in-memory
// ring served by the HTTP log endpoints, and a daily JSON file under the
// state root. All three hang off a single zap tee so a log line can never
// appear in one sink and not another.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance.
	Logger *zap.SugaredLogger

	ring *Ring
)

func init() {
	// Safe no-op logger at package load time so early use never panics.
	Logger = zap.NewNop().Sugar()
	ring = NewRing(DefaultRingSize)
}

// Options configures logger initialization.
type Options struct {
	JSON  bool   // JSON console output instead of human-readable
	Dir   string // directory for daily log files; empty disables the file sink
	Debug bool   // lower the level to debug
}

// Initialize sets up the global logger. Must be called once at startup;
// calling again replaces the global logger (used by tests).
func Initialize(opts Options) error {
	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}

	var consoleEnc zapcore.Encoder
	if opts.JSON {
		consoleEnc = zapcore.NewJSONEncoder(jsonEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEnc = zapcore.NewConsoleEncoder(cfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.AddSync(os.Stdout), level),
		ring.Core(level),
	}

	if opts.Dir != "" {
		sink, err := newDailySink(opts.Dir)
		if err != nil {
			return err
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(jsonEncoderConfig()), sink, level))
	}

	Logger = zap.New(zapcore.NewTee(cores...)).Sugar()
	return nil
}

// jsonEncoderConfig matches the on-disk log line shape:
// {timestamp, level, category, message, ...fields}.
func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.NameKey = "category"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// Named returns a child of the global logger with the given category.
func Named(category string) *zap.SugaredLogger {
	return Logger.Named(category)
}

// Tail returns the most recent ring entries, newest last.
func Tail(limit int, level, category string) []Entry {
	return ring.Tail(limit, level, category)
}

// Subscribe registers a live consumer of new log entries.
// The returned cancel func must be called to release the subscription.
func Subscribe() (<-chan Entry, func()) {
	return ring.Subscribe()
}

// Cleanup flushes any buffered log entries.
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Package-level convenience wrappers over the global logger.

func Infow(msg string, keysAndValues ...interface{})  { Logger.Infow(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...interface{})  { Logger.Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...interface{}) { Logger.Errorw(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...interface{}) { Logger.Debugw(msg, keysAndValues...) }
func Infof(format string, args ...interface{})        { Logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})        { Logger.Warnf(format, args...) }
func Errorf(format string, args ...interface{})       { Logger.Errorf(format, args...) }

// Package logging wraps go.uber.org/zap with the small set of helpers the
// rest of the engine needs, instantiated per-Logger so an embedding program
// can run more than one crawl concurrently without sharing log state.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a *zap.Logger for the lifetime of one crawl run.
type Logger struct {
	z *zap.Logger
}

// New builds a Logger. debug selects zap's development config (console
// encoding, debug level); otherwise production config (JSON, info level) is
// used.
func New(debug bool) (*Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// Nop returns a Logger that discards everything, used by callers of the
// programmatic API that never configured logging.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Sync flushes any buffered log entries. Errors from Sync on stderr/stdout
// are expected on some platforms and are not surfaced as fatal.
func (l *Logger) Sync() {
	_ = l.z.Sync()
}

// NewField builds a zap.Field from an arbitrary value, for call sites that
// don't know their value's static type ahead of time.
func NewField(key string, value interface{}) zap.Field {
	switch v := value.(type) {
	case string:
		return zap.String(key, v)
	case int:
		return zap.Int(key, v)
	case int64:
		return zap.Int64(key, v)
	case bool:
		return zap.Bool(key, v)
	case zapcore.Field:
		return v
	default:
		return zap.Any(key, value)
	}
}

// global is the package-level convenience Logger for the CLI's
// single-crawl-per-process use; programmatic callers
// that embed the engine should prefer constructing their own Logger with
// New and threading it through explicitly.
var global = Nop()

// Init replaces the package-level convenience Logger. Called once by
// cmd/hatchcrawl at startup.
func Init(debug bool) error {
	l, err := New(debug)
	if err != nil {
		return err
	}
	global = l
	return nil
}

func Info(msg string, fields ...zap.Field)  { global.Info(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { global.Debug(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { global.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { global.Error(msg, fields...) }
func Sync()                                 { global.Sync() }

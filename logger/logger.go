package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Field struct {
	Key   string
	Value interface{}
}

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = newLogger(zapcore.Lock(os.Stderr))
)

func newLogger(ws zapcore.WriteSyncer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "msg"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	if os.Getenv("DEBUG") == "1" {
		level.SetLevel(zapcore.DebugLevel)
	}
	return zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, level))
}

// SetOutput redirects log lines; used by tests to capture output.
func SetOutput(ws zapcore.WriteSyncer) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(ws)
}

// SetLevel accepts debug, info, warn or error. Unknown values keep the current level.
func SetLevel(name string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return
	}
	level.SetLevel(l)
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func Info(msg string, fields ...Field) {
	get().Info(msg, zapFields(fields)...)
}

func Warn(msg string, err error, fields ...Field) {
	zf := zapFields(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	get().Warn(msg, zf...)
}

func Error(msg string, err error, fields ...Field) {
	zf := zapFields(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	get().Error(msg, zf...)
}

func Debug(msg string, fields ...Field) {
	get().Debug(msg, zapFields(fields)...)
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	_ = get().Sync()
}

func FieldKV(key string, value interface{}) Field { return Field{Key: key, Value: value} }

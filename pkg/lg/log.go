package lg

import (
	"bytes"
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log field, aliasing zapcore.Field for flexibility.
type Field = zapcore.Field

func Any(key string, value any) Field                { return zap.Any(key, value) }
func String(key, value string) Field                 { return zap.String(key, value) }
func Strings(key string, value []string) Field       { return zap.Strings(key, value) }
func Int(key string, value int) Field                { return zap.Int(key, value) }
func Int32(key string, value int32) Field            { return zap.Int32(key, value) }
func Bool(key string, value bool) Field              { return zap.Bool(key, value) }
func Float64(key string, value float64) Field        { return zap.Float64(key, value) }
func Time(key string, value time.Time) Field         { return zap.Time(key, value) }
func Duration(key string, value time.Duration) Field { return zap.Duration(key, value) }
func Err(err error) Field                            { return zap.Error(err) }

// Logger defines the minimal interface for structured logging.
type Logger interface {
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Sync() error
	Debug(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
}

// Config holds logging configuration options.
type Config struct {
	ServiceName string
	Debug       bool
	Format      string // "json" or "console"
}

// NewConfigFromFlags parses standard flags: -debug, -log-format and -config.
// The remaining value of -config is returned so callers can locate the node
// settings file without a second flag set.
func NewConfigFromFlags(serviceName string) (*Config, string) {
	fs := flag.NewFlagSet(serviceName, flag.ExitOnError)
	debug := fs.Bool("debug", false, "enable debug logging")
	format := fs.String("log-format", "json", "json or console")
	settings := fs.String("config", "", "optional node settings file (yaml)")
	fs.Parse(os.Args[1:])
	return &Config{ServiceName: serviceName, Debug: *debug, Format: *format}, *settings
}

// New builds a zap-based Logger based on cfg.
// It configures encoding, level, sampling, and initial fields.
func New(cfg *Config) Logger {
	var baseCfg zap.Config
	if cfg.Debug {
		baseCfg = zap.NewDevelopmentConfig()
		baseCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		baseCfg = zap.NewProductionConfig()
	}

	// Allow console or JSON output
	baseCfg.Encoding = cfg.Format
	baseCfg.EncoderConfig.TimeKey = "timestamp"
	baseCfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	baseCfg.InitialFields = map[string]any{"service": cfg.ServiceName}

	baseCfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}

	logger, err := baseCfg.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		log.Printf("[FATAL] cannot initialize zap logger: %v", err)
		return defaultLogger{}
	}

	return &zapLogger{l: logger}
}

// zapLogger wraps a *zap.Logger to implement Logger.
type zapLogger struct{ l *zap.Logger }

func (z *zapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Sync() error                       { return z.l.Sync() }

func (z *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z.l.With(fields...)}
}

// defaultLogger falls back to the standard log package.
type defaultLogger struct {
	fields []Field
}

func (d defaultLogger) Info(msg string, fields ...Field)  { d.print("INFO:", msg, fields) }
func (d defaultLogger) Error(msg string, fields ...Field) { d.print("ERROR:", msg, fields) }
func (d defaultLogger) Warn(msg string, fields ...Field)  { d.print("WARN:", msg, fields) }
func (d defaultLogger) Debug(msg string, fields ...Field) {}
func (d defaultLogger) Sync() error                       { return nil }

func (d defaultLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(d.fields)+len(fields))
	merged = append(merged, d.fields...)
	return defaultLogger{fields: append(merged, fields...)}
}

func (d defaultLogger) print(level, msg string, fields []Field) {
	all := append(append([]Field{}, d.fields...), fields...)
	log.Println(level, msg, flatten(all...))
}

// flatten converts a list of zap log fields into a space-separated string of
// key-value pairs ("key1=value1 key2=value2"), using zap's console encoder so
// durations, errors and nested objects are rendered consistently.
func flatten(fields ...Field) string {
	if len(fields) == 0 {
		return ""
	}
	buf := new(bytes.Buffer)
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{LineEnding: " "})
	buffer, err := enc.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return ""
	}
	defer buffer.Free()
	buf.Write(buffer.Bytes())
	return strings.TrimSpace(buf.String())
}

// unexported to avoid collisions
type ctxKey struct{}

// Attach returns a new context with the provided Logger.
func Attach(ctx context.Context, lg Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, lg)
}

// FromContext retrieves the Logger from ctx, or falls back to defaultLogger.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return defaultLogger{}
	}
	if lg, ok := ctx.Value(ctxKey{}).(Logger); ok && lg != nil {
		return lg
	}
	return defaultLogger{}
}

// noopLogger does absolutely nothing. For test only
type noopLogger struct{}

func (noopLogger) Info(msg string, _ ...Field)  {}
func (noopLogger) Debug(msg string, _ ...Field) {}
func (noopLogger) Error(msg string, _ ...Field) {}
func (noopLogger) Warn(msg string, _ ...Field)  {}
func (noopLogger) With(_ ...Field) Logger       { return noopLogger{} }
func (noopLogger) Sync() error                  { return nil }

var Discard Logger = noopLogger{}

// Wrap adapts an already built *zap.Logger, e.g. one backed by
// zaptest/observer in tests.
func Wrap(l *zap.Logger) Logger {
	return &zapLogger{l: l}
}

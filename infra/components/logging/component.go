package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/core"
)

// helper -> Logger method -> log -> zap
const callerSkip = 3

// Logger 日志接口
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...zap.Field)
	Info(ctx context.Context, msg string, fields ...zap.Field)
	Warn(ctx context.Context, msg string, fields ...zap.Field)
	Error(ctx context.Context, msg string, fields ...zap.Field)
	Fatal(ctx context.Context, msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
	Sync() error
}

type LoggerComponent struct {
	*core.BaseComponent
	config *LoggingConfig
	zl     *zap.Logger
}

func NewLoggerComponent(cfg *LoggingConfig) *LoggerComponent {
	return &LoggerComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_LOGGING),
		config:        cfg,
	}
}

func (lc *LoggerComponent) Start(ctx context.Context) error {
	ws, err := lc.buildWriteSyncer()
	if err != nil {
		return fmt.Errorf("failed to create write syncer: %w", err)
	}
	zl := zap.New(
		zapcore.NewCore(lc.buildEncoder(), ws, ParseLevel(lc.config.Level)),
		zap.AddCaller(),
		zap.AddCallerSkip(callerSkip),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	lc.zl = zl.With(staticFields(lc.config.StaticFields)...)
	SetGlobalLogger(lc)
	if err := lc.BaseComponent.Start(ctx); err != nil {
		return err
	}
	Info(ctx, "logger started",
		zap.String("level", lc.config.Level),
		zap.String("format", lc.config.Format),
		zap.String("output", lc.config.Output),
	)
	return nil
}

func (lc *LoggerComponent) Stop(ctx context.Context) error {
	if lc.zl != nil {
		Info(ctx, "logger stopping")
		_ = lc.zl.Sync()
	}
	return lc.BaseComponent.Stop(ctx)
}

func (lc *LoggerComponent) HealthCheck() error {
	if err := lc.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	if lc.zl == nil {
		return fmt.Errorf("zap logger is not initialized")
	}
	return nil
}

func (lc *LoggerComponent) buildEncoder() zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if strings.EqualFold(lc.config.Format, "json") {
		return zapcore.NewJSONEncoder(ec)
	}
	return zapcore.NewConsoleEncoder(ec)
}

func (lc *LoggerComponent) buildWriteSyncer() (zapcore.WriteSyncer, error) {
	switch strings.ToLower(lc.config.Output) {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	case "file":
		return lc.buildFileWriteSyncer()
	default:
		f, err := os.OpenFile(lc.config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return zapcore.AddSync(f), nil
	}
}

func (lc *LoggerComponent) buildFileWriteSyncer() (zapcore.WriteSyncer, error) {
	fc := lc.config.FileConfig
	if fc == nil {
		return nil, fmt.Errorf("file_config is required when output is 'file'")
	}
	if err := os.MkdirAll(fc.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rc := lc.config.RotateConfig
	if rc != nil && rc.Enabled {
		if rc.Mode == "interval" {
			w, err := newIntervalRotatingWriter(fc.Dir, fc.Filename, rc)
			if err != nil {
				return nil, err
			}
			return zapcore.AddSync(w), nil
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(fc.Dir, fc.Filename+".log"),
			MaxSize:    rc.MaxSizeMB,
			MaxBackups: rc.MaxBackups,
			MaxAge:     int(rc.MaxAge.Hours() / 24),
			Compress:   true,
			LocalTime:  true,
		}), nil
	}
	f, err := os.OpenFile(filepath.Join(fc.Dir, fc.Filename+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.AddSync(f), nil
}

// ParseLevel maps a config level name to a zap level, defaulting to INFO.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "FATAL":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func (lc *LoggerComponent) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	lc.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (lc *LoggerComponent) Info(ctx context.Context, msg string, fields ...zap.Field) {
	lc.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (lc *LoggerComponent) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	lc.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (lc *LoggerComponent) Error(ctx context.Context, msg string, fields ...zap.Field) {
	lc.log(ctx, zapcore.ErrorLevel, msg, fields)
}

func (lc *LoggerComponent) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	lc.log(ctx, zapcore.FatalLevel, msg, fields)
}

func (lc *LoggerComponent) With(fields ...zap.Field) Logger {
	if lc.zl == nil {
		return lc
	}
	return &LoggerComponent{BaseComponent: lc.BaseComponent, config: lc.config, zl: lc.zl.With(fields...)}
}

func (lc *LoggerComponent) Sync() error {
	if lc.zl == nil {
		return nil
	}
	return lc.zl.Sync()
}

// Zap exposes the underlying logger.
func (lc *LoggerComponent) Zap() *zap.Logger { return lc.zl }

func (lc *LoggerComponent) log(ctx context.Context, level zapcore.Level, msg string, fields []zap.Field) {
	if lc.zl == nil {
		return
	}
	if ce := lc.zl.Check(level, msg); ce != nil {
		ce.Write(append(contextFields(ctx), fields...)...)
	}
}

// NewZapLogger wraps an existing zap logger, mainly for tests using zaptest/observer.
func NewZapLogger(zl *zap.Logger) Logger {
	return &LoggerComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_LOGGING),
		config:        &LoggingConfig{},
		zl:            zl,
	}
}

func contextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var out []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out = append(out, zap.String("trace_id", sc.TraceID().String()), zap.String("span_id", sc.SpanID().String()))
	} else if id := TraceIDFromContext(ctx); id != "" {
		out = append(out, zap.String(consts.KEY_TraceID, id))
	}
	return out
}

func staticFields(m map[string]string) []zap.Field {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.String(k, m[k]))
	}
	return out
}

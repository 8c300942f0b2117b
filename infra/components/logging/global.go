package logging

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	mu           sync.RWMutex
	globalLogger Logger = noopLogger{}
)

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...zap.Field) {}
func (noopLogger) Info(context.Context, string, ...zap.Field)  {}
func (noopLogger) Warn(context.Context, string, ...zap.Field)  {}
func (noopLogger) Error(context.Context, string, ...zap.Field) {}
func (noopLogger) Fatal(context.Context, string, ...zap.Field) {}
func (n noopLogger) With(...zap.Field) Logger                  { return n }
func (noopLogger) Sync() error                                 { return nil }

// SetGlobalLogger 替换全局 logger, nil 被忽略
func SetGlobalLogger(l Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	globalLogger = l
	mu.Unlock()
}

// L returns the current global logger; a no-op logger until the component starts.
func L() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) { L().Debug(ctx, msg, fields...) }
func Info(ctx context.Context, msg string, fields ...zap.Field)  { L().Info(ctx, msg, fields...) }
func Warn(ctx context.Context, msg string, fields ...zap.Field)  { L().Warn(ctx, msg, fields...) }
func Error(ctx context.Context, msg string, fields ...zap.Field) { L().Error(ctx, msg, fields...) }
func Fatal(ctx context.Context, msg string, fields ...zap.Field) { L().Fatal(ctx, msg, fields...) }

func Debugf(ctx context.Context, format string, args ...any) {
	L().Debug(ctx, fmt.Sprintf(format, args...))
}

func Infof(ctx context.Context, format string, args ...any) {
	L().Info(ctx, fmt.Sprintf(format, args...))
}

func Warnf(ctx context.Context, format string, args ...any) {
	L().Warn(ctx, fmt.Sprintf(format, args...))
}

func Errorf(ctx context.Context, format string, args ...any) {
	L().Error(ctx, fmt.Sprintf(format, args...))
}

type traceIDKey struct{}

// ContextWithTraceID 将 trace id 放入 context, 供没有 otel span 的调用链使用
func ContextWithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

package grpcserver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/consts"
)

// chain order: recovery -> trace id -> access log
func unaryInterceptors() []grpc.UnaryServerInterceptor {
	return []grpc.UnaryServerInterceptor{
		recoveryInterceptor,
		traceIDInterceptor,
		accessLogInterceptor,
	}
}

func recoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(ctx, "panic recovered", zap.Any("panic", r), zap.String("method", info.FullMethod))
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

// traceIDInterceptor reuses the caller's trace_id metadata or mints one, and
// echoes the active otel trace id as a response header.
func traceIDInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(consts.KEY_TraceID); len(vals) > 0 {
			id = vals[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	ctx = logging.ContextWithTraceID(ctx, id)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		_ = grpc.SetHeader(ctx, metadata.Pairs(consts.KEY_TraceID, sc.TraceID().String()))
	}
	return handler(ctx, req)
}

func accessLogInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("dur", time.Since(start)),
		zap.String("grpc_status", status.Code(err).String()),
	}
	if err != nil {
		logging.Warn(ctx, "grpc_access", append(fields, zap.Error(err))...)
	} else {
		logging.Debug(ctx, "grpc_access", fields...)
	}
	return resp, err
}

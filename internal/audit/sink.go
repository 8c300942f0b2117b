package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/infra/core"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

// Sink 审计事件的去处. 事件的持久化格式不在本仓库范围内
type Sink interface {
	Log(ctx context.Context, ev model.AuditEvent) error
	LogBatch(ctx context.Context, evs []model.AuditEvent) error
}

// LoggingSink writes every event as one structured log line.
type LoggingSink struct {
	*core.BaseComponent
}

func NewLoggingSink() *LoggingSink {
	return &LoggingSink{BaseComponent: core.NewBaseComponent(consts.COMP_AUDIT_SINK)}
}

func (s *LoggingSink) Log(ctx context.Context, ev model.AuditEvent) error {
	fields := []zap.Field{
		zap.String("audit_id", ev.ID),
		zap.String("type", ev.Type),
		zap.String("action", ev.Action),
		zap.String("outcome", ev.Outcome),
		zap.String("agent", ev.Agent),
		zap.Time("recorded", ev.Recorded),
	}
	if ev.Entity != "" {
		fields = append(fields, zap.String("entity", ev.Entity))
	}
	if len(ev.Detail) > 0 {
		fields = append(fields, zap.Any("detail", ev.Detail))
	}
	logging.Info(ctx, "audit event", fields...)
	return nil
}

func (s *LoggingSink) LogBatch(ctx context.Context, evs []model.AuditEvent) error {
	for _, ev := range evs {
		if err := s.Log(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

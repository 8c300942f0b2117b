package distribution

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

// 客户端 stub: 任何失败都变成 Successful=false 的响应, 关联 id 与请求一致, 从不返回 error.

func invoke[Req, Resp any](ctx context.Context, m *Manager, service, method, contentType string, content *Req) *model.Response[Resp] {
	req := model.NewRequest(contentType, content, &m.identity)
	address, ok := m.deps.RPC.CandidateAddress(ctx, service)
	if !ok {
		logging.Debug(ctx, "rpc target unresolvable", zap.String("method", method), zap.String("service", service))
		return model.FailedResponse[Resp](req.CorrelationID, fmt.Errorf("%w: %q", ErrUnresolvable, service))
	}
	return call[Req, Resp](ctx, m, address, method, req)
}

func call[Req, Resp any](ctx context.Context, m *Manager, address, method string, req *model.Request[Req]) *model.Response[Resp] {
	var resp model.Response[Resp]
	if err := m.deps.RPC.Call(ctx, address, method, req, &resp, m.callTimeout); err != nil {
		return model.FailedResponse[Resp](req.CorrelationID, err)
	}
	if resp.CorrelationID != req.CorrelationID {
		logging.Warn(ctx, "response correlation id mismatch", zap.String("method", method),
			zap.String("sent", req.CorrelationID), zap.String("got", resp.CorrelationID))
		resp.CorrelationID = req.CorrelationID
	}
	return &resp
}

func (m *Manager) RegisterTask(ctx context.Context, service string, task *model.ActionableTask) *model.Response[model.ActionableTask] {
	return invoke[model.ActionableTask, model.ActionableTask](ctx, m, service, consts.METHOD_REGISTER_TASK, consts.CT_ACTIONABLE_TASK, task)
}

func (m *Manager) UpdateTask(ctx context.Context, service string, task *model.ActionableTask) *model.Response[model.ActionableTask] {
	return invoke[model.ActionableTask, model.ActionableTask](ctx, m, service, consts.METHOD_UPDATE_TASK, consts.CT_ACTIONABLE_TASK, task)
}

func (m *Manager) FulfillTask(ctx context.Context, service string, task *model.ActionableTask) *model.Response[model.ActionableTask] {
	return invoke[model.ActionableTask, model.ActionableTask](ctx, m, service, consts.METHOD_FULFILL_TASK, consts.CT_ACTIONABLE_TASK, task)
}

func (m *Manager) RetrievePending(ctx context.Context, service, participant string) *model.Response[model.TaskList] {
	return invoke[model.PendingQuery, model.TaskList](ctx, m, service, consts.METHOD_RETRIEVE_PENDING, consts.CT_PENDING_QUERY,
		&model.PendingQuery{Participant: participant})
}

func (m *Manager) LogAuditEvent(ctx context.Context, service string, ev model.AuditEvent) *model.Response[model.AuditAck] {
	return invoke[model.AuditEvent, model.AuditAck](ctx, m, service, consts.METHOD_LOG_AUDIT_EVENT, consts.CT_AUDIT_EVENT, &ev)
}

func (m *Manager) LogAuditEvents(ctx context.Context, service string, evs []model.AuditEvent) *model.Response[model.AuditAck] {
	return invoke[model.AuditBatch, model.AuditAck](ctx, m, service, consts.METHOD_LOG_AUDIT_EVENTS, consts.CT_AUDIT_EVENT_BATCH,
		&model.AuditBatch{Events: evs})
}

// ExecuteAt 能力调用直接指向目录里的投递节点地址
func (m *Manager) ExecuteAt(ctx context.Context, address string, in model.TaskExecutionRequest) *model.Response[model.TaskExecutionResult] {
	req := model.NewRequest(consts.CT_TASK_EXECUTION, &in, &m.identity)
	return call[model.TaskExecutionRequest, model.TaskExecutionResult](ctx, m, address, consts.METHOD_EXECUTE_TASK, req)
}

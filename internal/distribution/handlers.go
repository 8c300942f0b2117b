package distribution

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/taskmesh/infra/components/logging"
	"github.com/grand-thief-cash/taskmesh/internal/consts"
	"github.com/grand-thief-cash/taskmesh/internal/model"
)

// unwrap 统一的信封检查: 内容和请求端点缺一不可
func unwrap[T any](ctx context.Context, method string, req *model.Request[T]) (*T, string, error) {
	if req == nil {
		return nil, "", ErrMissingContent
	}
	if req.Content == nil {
		logging.Debug(ctx, "rejecting request without content", zap.String("method", method), zap.String("correlation_id", req.CorrelationID))
		return nil, req.CorrelationID, ErrMissingContent
	}
	if req.RequestingEndpoint == nil {
		logging.Debug(ctx, "rejecting request without endpoint", zap.String("method", method), zap.String("correlation_id", req.CorrelationID))
		return nil, req.CorrelationID, ErrMissingEndpoint
	}
	return req.Content, req.CorrelationID, nil
}

func (m *Manager) handleRegister(ctx context.Context, req *model.Request[model.ActionableTask]) (*model.Response[model.ActionableTask], error) {
	task, corr, err := unwrap(ctx, consts.METHOD_REGISTER_TASK, req)
	if err != nil {
		return model.FailedResponse[model.ActionableTask](corr, err), nil
	}
	out := m.deps.Cache.RegisterTask(task)
	if !out.Registered {
		return model.FailedResponse[model.ActionableTask](corr, ErrNotRegistered), nil
	}
	logging.Debug(ctx, "task registered", zap.String("task", out.Task.ID.String()),
		zap.String("from", req.RequestingEndpoint.Name), zap.Bool("replaced", out.Replaced))
	return model.SuccessResponse(corr, consts.CT_ACTIONABLE_TASK, out.Task), nil
}

// handleUpdate 返回缓存里的最新状态而不是调用方传入的对象
func (m *Manager) handleUpdate(ctx context.Context, req *model.Request[model.ActionableTask]) (*model.Response[model.ActionableTask], error) {
	task, corr, err := unwrap(ctx, consts.METHOD_UPDATE_TASK, req)
	if err != nil {
		return model.FailedResponse[model.ActionableTask](corr, err), nil
	}
	m.deps.Cache.UpdateTask(task)
	current, ok := m.deps.Cache.GetTask(task.ID)
	if !ok {
		return model.FailedResponse[model.ActionableTask](corr, ErrNotRegistered), nil
	}
	return model.SuccessResponse(corr, consts.CT_ACTIONABLE_TASK, current), nil
}

func (m *Manager) handleFulfill(ctx context.Context, req *model.Request[model.ActionableTask]) (*model.Response[model.ActionableTask], error) {
	task, corr, err := unwrap(ctx, consts.METHOD_FULFILL_TASK, req)
	if err != nil {
		return model.FailedResponse[model.ActionableTask](corr, err), nil
	}
	if m.deps.Fulfiller == nil {
		return model.FailedResponse[model.ActionableTask](corr, errors.New("no fulfiller configured")), nil
	}
	current, ok := m.deps.Cache.GetTask(task.ID)
	if !ok {
		out := m.deps.Cache.RegisterTask(task)
		if !out.Registered {
			return model.FailedResponse[model.ActionableTask](corr, ErrNotRegistered), nil
		}
		current = out.Task
	}

	card, _ := m.deps.Cache.OpenJobCard(current.ID)
	attempt := card.Attempt
	// 并发的另一次执行可能已经换上了新卡, 只收回自己的
	defer m.deps.Cache.CloseJobCard(current.ID, attempt)

	current.Status = consts.TaskActive
	m.deps.Cache.UpdateTask(current)

	result, ferr := m.deps.Fulfiller.Fulfill(ctx, current)
	if ferr != nil {
		current.Status = consts.TaskFailed
		m.deps.Cache.UpdateTask(current)
		logging.Warn(ctx, "task fulfilment failed", zap.String("task", current.ID.String()),
			zap.Int("attempt", attempt), zap.Error(ferr))
		return model.FailedResponse[model.ActionableTask](corr, fmt.Errorf("fulfil %s: %w", current.ID, ferr)), nil
	}
	current.Status = consts.TaskFinished
	current.Result = &result
	m.deps.Cache.UpdateTask(current)
	m.deps.Cache.AppendTraceability(current.ID, model.TraceabilityHop{Fulfiller: m.identity.Name, FulfillerTaskID: current.ID})

	done, ok := m.deps.Cache.GetTask(current.ID)
	if !ok {
		return model.FailedResponse[model.ActionableTask](corr, ErrNotRegistered), nil
	}
	return model.SuccessResponse(corr, consts.CT_ACTIONABLE_TASK, done), nil
}

// handleRetrievePending 参与者为空时返回空列表, 不算失败
func (m *Manager) handleRetrievePending(ctx context.Context, req *model.Request[model.PendingQuery]) (*model.Response[model.TaskList], error) {
	if req == nil || req.RequestingEndpoint == nil {
		corr := ""
		if req != nil {
			corr = req.CorrelationID
		}
		return model.FailedResponse[model.TaskList](corr, ErrMissingEndpoint), nil
	}
	list := &model.TaskList{Tasks: []*model.ActionableTask{}}
	if req.Content != nil && req.Content.Participant != "" {
		if pending := m.deps.Cache.PendingFor(req.Content.Participant); len(pending) > 0 {
			list.Tasks = pending
		}
	}
	return model.SuccessResponse(req.CorrelationID, consts.CT_TASK_LIST, list), nil
}

func (m *Manager) handleExecute(ctx context.Context, req *model.Request[model.TaskExecutionRequest]) (*model.Response[model.TaskExecutionResult], error) {
	in, corr, err := unwrap(ctx, consts.METHOD_EXECUTE_TASK, req)
	if err != nil {
		return model.FailedResponse[model.TaskExecutionResult](corr, err), nil
	}
	res := m.deps.Capabilities.ExecuteLocal(ctx, *in)
	if !res.Successful {
		return model.FailedResponse[model.TaskExecutionResult](corr, errors.New(res.Error)), nil
	}
	return model.SuccessResponse(corr, consts.CT_TASK_EXECUTION, &res), nil
}

func (m *Manager) handleAuditEvent(ctx context.Context, req *model.Request[model.AuditEvent]) (*model.Response[model.AuditAck], error) {
	ev, corr, err := unwrap(ctx, consts.METHOD_LOG_AUDIT_EVENT, req)
	if err != nil {
		return model.FailedResponse[model.AuditAck](corr, err), nil
	}
	if err := m.deps.Audit.Log(ctx, *ev); err != nil {
		return model.FailedResponse[model.AuditAck](corr, err), nil
	}
	return model.SuccessResponse(corr, consts.CT_AUDIT_ACK, &model.AuditAck{Accepted: 1}), nil
}

func (m *Manager) handleAuditEvents(ctx context.Context, req *model.Request[model.AuditBatch]) (*model.Response[model.AuditAck], error) {
	batch, corr, err := unwrap(ctx, consts.METHOD_LOG_AUDIT_EVENTS, req)
	if err != nil {
		return model.FailedResponse[model.AuditAck](corr, err), nil
	}
	if err := m.deps.Audit.LogBatch(ctx, batch.Events); err != nil {
		return model.FailedResponse[model.AuditAck](corr, err), nil
	}
	return model.SuccessResponse(corr, consts.CT_AUDIT_ACK, &model.AuditAck{Accepted: len(batch.Events)}), nil
}

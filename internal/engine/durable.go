package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/telemetry"
	"github.com/shaiso/Cascade/internal/throttle"
)

// DurableEngine — durable режим выполнения flow поверх внешней
// очереди с at-least-once доставкой.
//
// Запуск разбит на две фазы: Enqueue создаёт execution в статусе
// queued и публикует событие flow.execute; HandleExecute вызывается
// консьюмером очереди и доводит запуск до терминального состояния.
// HandleExecute обязан переживать повторный вызов: состояние
// восстанавливается из step logs, записи шагов — идемпотентные
// upsert'ы по ключу (execution_id, step_id).
type DurableEngine struct {
	flows      FlowStore
	executions ExecutionLogStore
	bus        EventBus
	progress   ProgressPublisher
	runner     StepRunner
	gate       *ConditionGate
	resolver   *TemplateResolver
	metrics    *telemetry.Metrics
	log        *slog.Logger
}

// NewDurable создаёт движок durable режима.
func NewDurable(cfg Config) *DurableEngine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewTemplateResolver()
	}
	gate := cfg.Gate
	if gate == nil {
		gate = NewConditionGate(resolver, nil, log)
	}
	return &DurableEngine{
		flows:      cfg.Flows,
		executions: cfg.Executions,
		bus:        cfg.Bus,
		progress:   cfg.Progress,
		runner:     cfg.Runner,
		gate:       gate,
		resolver:   resolver,
		metrics:    cfg.Metrics,
		log:        log,
	}
}

// Enqueue создаёт execution и ставит его в очередь на выполнение.
// Возвращает executionID сразу, не дожидаясь результата.
func (e *DurableEngine) Enqueue(ctx context.Context, flowID, orgID, userID string, variables map[string]any) (string, error) {
	flow, err := e.flows.GetFlow(ctx, flowID, orgID)
	if err != nil {
		return "", err
	}
	if flow == nil {
		return "", ErrFlowNotFound
	}
	if err := ValidateSteps(flow.Steps); err != nil {
		return "", err
	}

	executionID := uuid.NewString()
	execLog := &domain.ExecutionLog{
		ID:        executionID,
		FlowID:    flowID,
		OrgID:     orgID,
		UserID:    userID,
		Status:    domain.ExecutionStatusQueued,
		Inputs:    variables,
		CreatedAt: time.Now(),
	}
	if err := e.executions.CreateExecution(ctx, execLog); err != nil {
		return "", err
	}

	req := &ExecuteRequest{
		ExecutionID: executionID,
		FlowID:      flowID,
		OrgID:       orgID,
		UserID:      userID,
		Variables:   variables,
	}
	if err := e.bus.Send(ctx, EventNameFlowExecute, req); err != nil {
		return "", fmt.Errorf("enqueue flow.execute: %w", err)
	}

	if e.metrics != nil {
		e.metrics.ExecutionsStarted.WithLabelValues("durable").Inc()
	}
	e.log.Info("flow enqueued",
		"execution_id", executionID,
		"flow_id", flowID,
		"org_id", orgID,
	)
	return executionID, nil
}

// Cancel кооперативно отменяет queued/running execution.
// Выполняющиеся внешние вызовы не прерываются; их поздние результаты
// отбрасываются при попытке записи.
func (e *DurableEngine) Cancel(ctx context.Context, executionID string) error {
	execLog, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if execLog == nil {
		return ErrExecutionNotFound
	}
	if execLog.IsFinished() {
		return ErrExecutionFinished
	}

	execLog.MarkCancelled()
	if err := e.executions.UpdateExecution(ctx, execLog); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.ExecutionsFinished.WithLabelValues(string(domain.ExecutionStatusCancelled)).Inc()
	}
	e.publishProgress(ctx, &ProgressEvent{
		Type:        ProgressExecutionFinished,
		ExecutionID: executionID,
		FlowID:      execLog.FlowID,
		OrgID:       execLog.OrgID,
		Status:      string(domain.ExecutionStatusCancelled),
		Timestamp:   time.Now(),
	})
	e.dispatchWebhook(ctx, execLog.OrgID, domain.EventFlowCancelled, map[string]any{
		"executionId": executionID,
		"flowId":      execLog.FlowID,
	})

	e.log.Info("execution cancelled",
		"execution_id", executionID,
	)
	return nil
}

// HandleExecute обрабатывает событие flow.execute.
//
// Возврат ошибки означает, что обработку нужно повторить (nack с
// requeue); nil — событие обработано и может быть подтверждено.
// Повторный вызов для уже завершённого execution — no-op.
func (e *DurableEngine) HandleExecute(ctx context.Context, req *ExecuteRequest) error {
	execLog, err := e.executions.GetExecution(ctx, req.ExecutionID)
	if err != nil {
		return fmt.Errorf("get execution %s: %w", req.ExecutionID, err)
	}
	if execLog == nil {
		// Повтор не поможет: записи нет и не появится.
		e.log.Error("flow.execute event for unknown execution",
			"execution_id", req.ExecutionID,
		)
		return nil
	}
	if execLog.IsFinished() {
		return nil
	}

	log := telemetry.WithExecutionID(e.log, req.ExecutionID)

	fresh, err := e.executions.TryMarkRunning(ctx, req.ExecutionID)
	if err != nil {
		return fmt.Errorf("mark execution running: %w", err)
	}
	if !fresh {
		// Уже running: продолжаем после сбоя, восстановив состояние
		// из step logs ниже.
		log.Info("resuming execution after redelivery")
	}

	flow, err := e.flows.GetFlow(ctx, req.FlowID, req.OrgID)
	if err != nil {
		return fmt.Errorf("get flow %s: %w", req.FlowID, err)
	}
	if flow == nil {
		return e.finalizeFailed(ctx, execLog, nil, ErrFlowNotFound.Error(), nil)
	}
	if err := ValidateSteps(flow.Steps); err != nil {
		return e.finalizeFailed(ctx, execLog, flow, err.Error(), nil)
	}

	ec := domain.NewExecutionContext(execLog.ID, req.FlowID, req.OrgID, req.UserID, req.Variables)
	done, err := e.restore(ctx, flow, ec)
	if err != nil {
		return err
	}

	if fresh {
		e.publishProgress(ctx, &ProgressEvent{
			Type:        ProgressExecutionStarted,
			ExecutionID: execLog.ID,
			FlowID:      req.FlowID,
			OrgID:       req.OrgID,
			Status:      string(domain.ExecutionStatusRunning),
			Timestamp:   time.Now(),
		})
		e.dispatchWebhook(ctx, req.OrgID, domain.EventFlowStarted, map[string]any{
			"executionId": execLog.ID,
			"flowId":      req.FlowID,
			"flowName":    flow.Name,
		})
	}

	for i := range flow.Steps {
		step := &flow.Steps[i]
		if _, already := done[step.ID]; already {
			continue
		}

		cancelled, err := e.isCancelled(ctx, execLog.ID)
		if err != nil {
			return err
		}
		if cancelled {
			log.Info("execution cancelled, stopping", "step_id", step.ID)
			return nil
		}

		sr, err := e.runDurableStep(ctx, step, ec)
		if err != nil {
			return err
		}
		if sr == nil {
			// Отмена обнаружена после выполнения шага: поздний
			// результат отброшен.
			return nil
		}

		if sr.Success {
			if !sr.Skipped {
				ec.RecordOutput(step.ID, sr.Output)
			}
			continue
		}
		if step.Critical() {
			return e.finalizeFailed(ctx, execLog, flow, sr.Error.Error(), ec.StepOutputs)
		}
		log.Warn("non-critical step failed, continuing",
			"step_id", step.ID,
			"error", sr.Error,
		)
	}

	execLog.MarkCompleted(ec.StepOutputs)
	if err := e.executions.UpdateExecution(ctx, execLog); err != nil {
		return fmt.Errorf("write terminal state: %w", err)
	}
	e.emitFinished(ctx, execLog, flow, "")
	return nil
}

// restore восстанавливает контекст из step logs после повторной
// доставки. Возвращает множество ID завершённых шагов.
func (e *DurableEngine) restore(ctx context.Context, flow *domain.Flow, ec *domain.ExecutionContext) (map[string]struct{}, error) {
	logs, err := e.executions.ListStepLogs(ctx, ec.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("list step logs: %w", err)
	}
	done := make(map[string]struct{}, len(logs))
	for _, sl := range logs {
		if !sl.State.IsTerminal() {
			continue
		}
		done[sl.StepID] = struct{}{}
		if sl.State == domain.StepStateSucceeded {
			ec.RecordOutput(sl.StepID, sl.Output)
		}
	}
	if len(done) > 0 {
		e.log.Info("state restored from step logs",
			"execution_id", ec.ExecutionID,
			"completed_steps", len(done),
			"total_steps", len(flow.Steps),
		)
	}
	return done, nil
}

// runDurableStep выполняет один шаг с персистентным журналом.
// Возвращает (nil, nil), если результат отброшен из-за отмены.
func (e *DurableEngine) runDurableStep(ctx context.Context, step *domain.Step, ec *domain.ExecutionContext) (*domain.StepResult, error) {
	ok, reason := e.gate.ShouldExecute(step, ec)
	if !ok {
		sr := domain.SkippedResult(reason)
		if err := e.upsertStepLog(ctx, step, ec, sr); err != nil {
			return nil, err
		}
		observeStep(e.metrics, step, sr)
		e.dispatchWebhook(ctx, ec.OrgID, domain.EventStepSkipped, e.stepPayload(ec, step, sr))
		return sr, nil
	}

	if err := e.executions.UpsertStepLog(ctx, &domain.StepLog{
		ExecutionID: ec.ExecutionID,
		StepID:      step.ID,
		StepName:    step.DisplayName(),
		State:       domain.StepStateRunning,
		UpdatedAt:   time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("upsert step log (running): %w", err)
	}
	e.publishProgress(ctx, &ProgressEvent{
		Type:        ProgressStepStarted,
		ExecutionID: ec.ExecutionID,
		FlowID:      ec.FlowID,
		OrgID:       ec.OrgID,
		StepID:      step.ID,
		StepName:    step.DisplayName(),
		Timestamp:   time.Now(),
	})

	resolved := *step
	resolved.Config = e.resolver.ResolveConfig(step.Config, ec)

	policy := step.RetryPolicy
	if policy == nil {
		policy = throttle.ForStep(step.Type, step.Critical()).Retry.AsRetryPolicy()
	}
	sr := RunWithRetry(ctx, e.runner, &resolved, ec, policy)
	observeStep(e.metrics, step, sr)

	// Политика поздних результатов: если запуск отменили, пока шаг
	// выполнялся, результат не записывается.
	cancelled, err := e.isCancelled(ctx, ec.ExecutionID)
	if err != nil {
		return nil, err
	}
	if cancelled {
		return nil, nil
	}

	if err := e.upsertStepLog(ctx, step, ec, sr); err != nil {
		return nil, err
	}

	ev := &ProgressEvent{
		Type:        ProgressStepFinished,
		ExecutionID: ec.ExecutionID,
		FlowID:      ec.FlowID,
		OrgID:       ec.OrgID,
		StepID:      step.ID,
		StepName:    step.DisplayName(),
		Timestamp:   time.Now(),
	}
	if sr.Success {
		ev.Status = string(domain.StepStateSucceeded)
		e.dispatchWebhook(ctx, ec.OrgID, domain.EventStepCompleted, e.stepPayload(ec, step, sr))
	} else {
		ev.Status = string(domain.StepStateFailed)
		ev.Error = sr.Error.Error()
		e.dispatchWebhook(ctx, ec.OrgID, domain.EventStepFailed, e.stepPayload(ec, step, sr))
	}
	e.publishProgress(ctx, ev)
	return sr, nil
}

// upsertStepLog записывает терминальное состояние шага.
func (e *DurableEngine) upsertStepLog(ctx context.Context, step *domain.Step, ec *domain.ExecutionContext, sr *domain.StepResult) error {
	sl := &domain.StepLog{
		ExecutionID: ec.ExecutionID,
		StepID:      step.ID,
		StepName:    step.DisplayName(),
		Attempt:     sr.Metadata.Attempt,
		DurationMs:  sr.Metadata.DurationMs,
		UpdatedAt:   time.Now(),
	}
	switch {
	case sr.Skipped:
		sl.State = domain.StepStateSkipped
		sl.Error = sr.SkipReason
	case sr.Success:
		sl.State = domain.StepStateSucceeded
		sl.Output = sr.Output
	default:
		sl.State = domain.StepStateFailed
		sl.Error = sr.Error.Error()
	}
	if err := e.executions.UpsertStepLog(ctx, sl); err != nil {
		return fmt.Errorf("upsert step log (%s): %w", sl.State, err)
	}
	return nil
}

// isCancelled перечитывает статус execution из хранилища.
func (e *DurableEngine) isCancelled(ctx context.Context, executionID string) (bool, error) {
	execLog, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return false, fmt.Errorf("check cancellation: %w", err)
	}
	if execLog == nil {
		return false, ErrExecutionNotFound
	}
	return execLog.Status == domain.ExecutionStatusCancelled, nil
}

// finalizeFailed переводит execution в failed с первой критичной
// ошибкой и рассылает события.
func (e *DurableEngine) finalizeFailed(ctx context.Context, execLog *domain.ExecutionLog, flow *domain.Flow, errMsg string, outputs map[string]any) error {
	execLog.MarkFailed(errMsg, outputs)
	if err := e.executions.UpdateExecution(ctx, execLog); err != nil {
		return fmt.Errorf("write terminal state: %w", err)
	}
	e.emitFinished(ctx, execLog, flow, errMsg)
	return nil
}

// emitFinished рассылает терминальные события запуска.
func (e *DurableEngine) emitFinished(ctx context.Context, execLog *domain.ExecutionLog, flow *domain.Flow, errMsg string) {
	if e.metrics != nil {
		e.metrics.ExecutionsFinished.WithLabelValues(string(execLog.Status)).Inc()
	}
	e.publishProgress(ctx, &ProgressEvent{
		Type:        ProgressExecutionFinished,
		ExecutionID: execLog.ID,
		FlowID:      execLog.FlowID,
		OrgID:       execLog.OrgID,
		Status:      string(execLog.Status),
		Error:       errMsg,
		Timestamp:   time.Now(),
	})

	event := domain.EventFlowCompleted
	if execLog.Status == domain.ExecutionStatusFailed {
		event = domain.EventFlowFailed
	}
	payload := map[string]any{
		"executionId": execLog.ID,
		"flowId":      execLog.FlowID,
		"status":      string(execLog.Status),
	}
	if flow != nil {
		payload["flowName"] = flow.Name
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	e.dispatchWebhook(ctx, execLog.OrgID, event, payload)

	e.log.Info("flow finished (durable)",
		"execution_id", execLog.ID,
		"status", execLog.Status,
	)
}

// stepPayload собирает полезную нагрузку step.* событий.
func (e *DurableEngine) stepPayload(ec *domain.ExecutionContext, step *domain.Step, sr *domain.StepResult) map[string]any {
	p := map[string]any{
		"executionId": ec.ExecutionID,
		"flowId":      ec.FlowID,
		"stepId":      step.ID,
		"stepName":    step.DisplayName(),
		"stepType":    string(step.Type),
	}
	if sr.Skipped {
		p["skipReason"] = sr.SkipReason
	}
	if sr.Error != nil {
		p["error"] = sr.Error.Message
		p["errorCode"] = sr.Error.Code
	}
	return p
}

// dispatchWebhook ставит рассылку webhooks в очередь. Ошибки шины
// логируются и никогда не влияют на статус запуска.
func (e *DurableEngine) dispatchWebhook(ctx context.Context, orgID, eventType string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	req := &domain.WebhookDispatchRequest{
		OrgID:     orgID,
		EventType: eventType,
		Payload:   payload,
	}
	if err := e.bus.Send(ctx, EventNameWebhookDispatch, req); err != nil {
		e.log.Warn("failed to enqueue webhook.dispatch",
			"org_id", orgID,
			"event_type", eventType,
			"error", err,
		)
	}
}

// publishProgress публикует событие прогресса best-effort.
func (e *DurableEngine) publishProgress(ctx context.Context, ev *ProgressEvent) {
	if e.progress == nil {
		return
	}
	if err := publishWithRetry(ctx, e.progress, ev); err != nil {
		e.log.Debug("progress event lost",
			"execution_id", ev.ExecutionID,
			"type", ev.Type,
			"error", err,
		)
	}
}

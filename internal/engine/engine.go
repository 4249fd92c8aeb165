package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/telemetry"
	"github.com/shaiso/Cascade/internal/throttle"
)

// Engine — direct режим выполнения flow: последовательный,
// блокирующий, в одном процессе.
//
// Хранилище затрагивается ровно два раза: одна запись при старте
// и одно обновление в терминальном состоянии. Per-step записи
// ведёт только durable режим.
type Engine struct {
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

// Config — зависимости движка.
type Config struct {
	Flows      FlowStore
	Executions ExecutionLogStore
	Bus        EventBus
	Progress   ProgressPublisher
	Runner     StepRunner
	Gate       *ConditionGate
	Resolver   *TemplateResolver

	// Metrics — счётчики запусков и шагов. Nil отключает запись.
	Metrics *telemetry.Metrics

	Logger *slog.Logger
}

// New создаёт движок direct режима.
func New(cfg Config) *Engine {
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
	return &Engine{
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

// ExecutionResult — итог direct запуска.
//
// Инвариант при критичном падении: CompletedSteps + FailedSteps
// равно порядковому номеру (с 1) упавшего шага; шаги после него
// не выполняются и не считаются.
type ExecutionResult struct {
	// ExecutionID — идентификатор запуска.
	ExecutionID string `json:"executionId"`

	// Status — терминальный статус запуска.
	Status domain.ExecutionStatus `json:"status"`

	// Outputs — снимок stepOutputs на момент завершения.
	Outputs map[string]any `json:"outputs,omitempty"`

	// Error — первая критичная ошибка для failed запусков.
	Error string `json:"error,omitempty"`

	// TotalSteps — количество шагов в определении flow.
	TotalSteps int `json:"totalSteps"`

	// CompletedSteps — успешно пройденные шаги, включая пропущенные.
	CompletedSteps int `json:"completedSteps"`

	// FailedSteps — упавшие шаги, критичные и некритичные.
	FailedSteps int `json:"failedSteps"`

	// SkippedSteps — шаги, пропущенные условием executeIf.
	SkippedSteps int `json:"skippedSteps"`

	// StepResults — результаты шагов по ID.
	StepResults map[string]*domain.StepResult `json:"stepResults,omitempty"`
}

// Execute выполняет flow в direct режиме и блокируется до
// терминального состояния.
func (e *Engine) Execute(ctx context.Context, flowID, orgID, userID string, variables map[string]any) (*ExecutionResult, error) {
	flow, err := e.flows.GetFlow(ctx, flowID, orgID)
	if err != nil {
		return nil, err
	}
	if flow == nil {
		return nil, ErrFlowNotFound
	}
	if err := ValidateSteps(flow.Steps); err != nil {
		return nil, err
	}

	executionID := uuid.NewString()
	ec := domain.NewExecutionContext(executionID, flowID, orgID, userID, variables)

	execLog := &domain.ExecutionLog{
		ID:        executionID,
		FlowID:    flowID,
		OrgID:     orgID,
		UserID:    userID,
		Status:    domain.ExecutionStatusRunning,
		Inputs:    ec.Variables,
		CreatedAt: time.Now(),
	}
	execLog.MarkRunning()
	if err := e.executions.CreateExecution(ctx, execLog); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ExecutionsStarted.WithLabelValues("direct").Inc()
	}
	log := telemetry.WithFlowID(telemetry.WithExecutionID(e.log, executionID), flowID)
	log.Info("executing flow (direct)",
		"org_id", orgID,
		"steps", len(flow.Steps),
	)

	e.publishProgress(ctx, &ProgressEvent{
		Type:        ProgressExecutionStarted,
		ExecutionID: executionID,
		FlowID:      flowID,
		OrgID:       orgID,
		Status:      string(domain.ExecutionStatusRunning),
		Timestamp:   time.Now(),
	})
	e.dispatchWebhook(ctx, orgID, domain.EventFlowStarted, map[string]any{
		"executionId": executionID,
		"flowId":      flowID,
		"flowName":    flow.Name,
	})

	result := &ExecutionResult{
		ExecutionID: executionID,
		TotalSteps:  len(flow.Steps),
		StepResults: make(map[string]*domain.StepResult, len(flow.Steps)),
	}

	for i := range flow.Steps {
		step := &flow.Steps[i]

		if err := ctx.Err(); err != nil {
			execLog.MarkCancelled()
			result.Status = domain.ExecutionStatusCancelled
			result.Outputs = ec.StepOutputs
			e.finalize(execLog, result, flow)
			return result, nil
		}

		sr := e.runStep(ctx, step, ec)
		result.StepResults[step.ID] = sr

		if sr.Skipped {
			result.CompletedSteps++
			result.SkippedSteps++
			e.dispatchWebhook(ctx, orgID, domain.EventStepSkipped, e.stepPayload(ec, step, sr))
			continue
		}
		if sr.Success {
			ec.RecordOutput(step.ID, sr.Output)
			result.CompletedSteps++
			e.dispatchWebhook(ctx, orgID, domain.EventStepCompleted, e.stepPayload(ec, step, sr))
			continue
		}

		result.FailedSteps++
		e.dispatchWebhook(ctx, orgID, domain.EventStepFailed, e.stepPayload(ec, step, sr))
		if step.Critical() {
			result.Error = sr.Error.Error()
			result.Status = domain.ExecutionStatusFailed
			result.Outputs = ec.StepOutputs
			execLog.MarkFailed(result.Error, ec.StepOutputs)
			e.finalize(execLog, result, flow)
			return result, nil
		}
		// Некритичное падение логируется, flow идёт дальше.
		log.Warn("non-critical step failed, continuing",
			"step_id", step.ID,
			"error", sr.Error,
		)
	}

	result.Status = domain.ExecutionStatusCompleted
	result.Outputs = ec.StepOutputs
	execLog.MarkCompleted(ec.StepOutputs)
	e.finalize(execLog, result, flow)
	return result, nil
}

// runStep прогоняет один шаг: гейт условия, подстановка шаблонов,
// запуск с повторами по явной retryPolicy шага.
func (e *Engine) runStep(ctx context.Context, step *domain.Step, ec *domain.ExecutionContext) *domain.StepResult {
	ok, reason := e.gate.ShouldExecute(step, ec)
	if !ok {
		e.log.Info("step skipped",
			"execution_id", ec.ExecutionID,
			"step_id", step.ID,
			"reason", reason,
		)
		sr := domain.SkippedResult(reason)
		observeStep(e.metrics, step, sr)
		return sr
	}

	resolved := *step
	resolved.Config = e.resolver.ResolveConfig(step.Config, ec)

	e.publishProgress(ctx, &ProgressEvent{
		Type:        ProgressStepStarted,
		ExecutionID: ec.ExecutionID,
		FlowID:      ec.FlowID,
		OrgID:       ec.OrgID,
		StepID:      step.ID,
		StepName:    step.DisplayName(),
		Timestamp:   time.Now(),
	})

	sr := RunWithRetry(ctx, e.runner, &resolved, ec, step.RetryPolicy)
	observeStep(e.metrics, step, sr)

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
	} else {
		ev.Status = string(domain.StepStateFailed)
		ev.Error = sr.Error.Error()
	}
	e.publishProgress(ctx, ev)
	return sr
}

// RunWithRetry выполняет шаг с повторами по политике.
// Политика nil — ровно одна попытка.
func RunWithRetry(ctx context.Context, runner StepRunner, step *domain.Step, ec *domain.ExecutionContext, policy *domain.RetryPolicy) *domain.StepResult {
	attempts := 1
	if policy != nil && policy.MaxRetries > 0 {
		attempts += policy.MaxRetries
	}

	var sr *domain.StepResult
	for attempt := 1; attempt <= attempts; attempt++ {
		sr = runner.Run(ctx, step, ec)
		sr.Metadata.Attempt = attempt
		if sr.Success || attempt == attempts {
			return sr
		}
		select {
		case <-ctx.Done():
			return sr
		case <-time.After(retryDelay(policy, attempt)):
		}
	}
	return sr
}

// retryDelay вычисляет паузу перед попыткой attempt+1.
func retryDelay(policy *domain.RetryPolicy, attempt int) time.Duration {
	base := time.Duration(policy.DelayMs) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}
	if policy.BackoffStrategy == domain.BackoffExponential {
		return base << (attempt - 1)
	}
	return base
}

// observeStep записывает метрики одного выполненного шага.
func observeStep(m *telemetry.Metrics, step *domain.Step, sr *domain.StepResult) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	switch {
	case sr.Skipped:
		outcome = "skipped"
	case !sr.Success:
		outcome = "failed"
	}
	m.StepsExecuted.WithLabelValues(string(step.Type), outcome).Inc()
	if !sr.Skipped {
		m.StepDuration.WithLabelValues(string(step.Type)).Observe(float64(sr.Metadata.DurationMs) / 1000)
	}
}

// finalize записывает терминальное состояние и рассылает события.
func (e *Engine) finalize(execLog *domain.ExecutionLog, result *ExecutionResult, flow *domain.Flow) {
	ctx := context.Background()
	if e.metrics != nil {
		e.metrics.ExecutionsFinished.WithLabelValues(string(result.Status)).Inc()
	}
	if err := e.executions.UpdateExecution(ctx, execLog); err != nil {
		e.log.Error("failed to write terminal state",
			"execution_id", execLog.ID,
			"error", err,
		)
	}

	e.publishProgress(ctx, &ProgressEvent{
		Type:        ProgressExecutionFinished,
		ExecutionID: execLog.ID,
		FlowID:      execLog.FlowID,
		OrgID:       execLog.OrgID,
		Status:      string(result.Status),
		Error:       result.Error,
		Timestamp:   time.Now(),
	})

	var event string
	switch result.Status {
	case domain.ExecutionStatusCompleted:
		event = domain.EventFlowCompleted
	case domain.ExecutionStatusCancelled:
		event = domain.EventFlowCancelled
	default:
		event = domain.EventFlowFailed
	}
	payload := map[string]any{
		"executionId":    execLog.ID,
		"flowId":         execLog.FlowID,
		"flowName":       flow.Name,
		"status":         string(result.Status),
		"completedSteps": result.CompletedSteps,
		"failedSteps":    result.FailedSteps,
		"skippedSteps":   result.SkippedSteps,
		"totalSteps":     result.TotalSteps,
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	e.dispatchWebhook(ctx, execLog.OrgID, event, payload)

	e.log.Info("flow finished (direct)",
		"execution_id", execLog.ID,
		"status", result.Status,
		"completed_steps", result.CompletedSteps,
		"failed_steps", result.FailedSteps,
	)
}

// stepPayload собирает полезную нагрузку step.* событий.
func (e *Engine) stepPayload(ec *domain.ExecutionContext, step *domain.Step, sr *domain.StepResult) map[string]any {
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
func (e *Engine) dispatchWebhook(ctx context.Context, orgID, eventType string, payload map[string]any) {
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
func (e *Engine) publishProgress(ctx context.Context, ev *ProgressEvent) {
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

// publishWithRetry публикует событие по плану повторов для
// progress-событий. Возвращает последнюю ошибку, когда попытки
// исчерпаны; потеря события не влияет на статус запуска.
func publishWithRetry(ctx context.Context, pub ProgressPublisher, ev *ProgressEvent) error {
	retry := throttle.ForProgressEvents().Retry

	var err error
	for attempt := 1; ; attempt++ {
		if err = pub.PublishProgress(ctx, ev); err == nil {
			return nil
		}
		if attempt >= retry.MaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(retry.Delay(attempt)):
		}
	}
}

package engine

import (
	"context"

	"github.com/shaiso/Cascade/internal/domain"
)

// FlowStore — хранилище определений flows.
type FlowStore interface {
	// GetFlow возвращает flow по ID в рамках организации.
	// Несовпадение организации неотличимо от отсутствия flow.
	GetFlow(ctx context.Context, flowID, orgID string) (*domain.Flow, error)
}

// ExecutionLogStore — хранилище execution logs и step logs.
//
// UpsertStepLog обязан быть идемпотентным по ключу
// (execution_id, step_id): durable-подсистема доставляет события
// at-least-once, и повторная запись не должна создавать дубликат.
type ExecutionLogStore interface {
	CreateExecution(ctx context.Context, log *domain.ExecutionLog) error

	// GetExecution возвращает nil, nil, если записи нет.
	GetExecution(ctx context.Context, executionID string) (*domain.ExecutionLog, error)

	UpdateExecution(ctx context.Context, log *domain.ExecutionLog) error

	// TryMarkRunning атомарно переводит queued → running.
	// Возвращает false, если execution уже не в queued.
	TryMarkRunning(ctx context.Context, executionID string) (bool, error)

	UpsertStepLog(ctx context.Context, log *domain.StepLog) error
	ListStepLogs(ctx context.Context, executionID string) ([]domain.StepLog, error)
}

// EventBus — durable-шина событий, fire-and-forget.
//
// Движок использует два имени событий: EventNameFlowExecute для
// старта durable запуска и EventNameWebhookDispatch для запроса
// рассылки webhooks.
type EventBus interface {
	Send(ctx context.Context, eventName string, data any) error
}

// ProgressPublisher — best-effort публикация событий прогресса.
// Не является авторитетным состоянием: потеря события не влияет
// на результат запуска.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, event any) error
}

// ConditionEvaluator — внешний интерпретатор булевых выражений.
// Может вернуть ошибку; гейт в этом случае действует fail-open.
type ConditionEvaluator interface {
	Evaluate(expression string, context map[string]any) (bool, error)
}

// StepRunner — диспетчер выполнения одного шага.
// Реализация (executor.Runner) никогда не возвращает Go error:
// все падения шага выражаются через StepResult.
type StepRunner interface {
	Run(ctx context.Context, step *domain.Step, ec *domain.ExecutionContext) *domain.StepResult
}

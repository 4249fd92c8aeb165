package engine

import "time"

// Имена событий durable-шины.
const (
	// EventNameFlowExecute — запрос на durable выполнение flow.
	EventNameFlowExecute = "flow.execute"

	// EventNameWebhookDispatch — запрос на рассылку webhooks.
	EventNameWebhookDispatch = "webhook.dispatch"
)

// ExecuteRequest — полезная нагрузка события flow.execute.
type ExecuteRequest struct {
	// ExecutionID — заранее созданный идентификатор запуска.
	ExecutionID string `json:"executionId"`

	// FlowID — flow, который нужно выполнить.
	FlowID string `json:"flowId"`

	// OrgID — организация.
	OrgID string `json:"orgId"`

	// UserID — инициатор запуска.
	UserID string `json:"userId,omitempty"`

	// Variables — входные переменные запуска.
	Variables map[string]any `json:"variables,omitempty"`
}

// ProgressEvent — событие прогресса для живых подписчиков (UI).
// Публикуется best-effort и не является источником истины.
type ProgressEvent struct {
	// Type — вид события: execution.started, step.started,
	// step.finished, execution.finished.
	Type string `json:"type"`

	// ExecutionID — идентификатор запуска.
	ExecutionID string `json:"executionId"`

	// FlowID — идентификатор flow.
	FlowID string `json:"flowId"`

	// OrgID — организация.
	OrgID string `json:"orgId"`

	// StepID — идентификатор шага для step.* событий.
	StepID string `json:"stepId,omitempty"`

	// StepName — имя шага для step.* событий.
	StepName string `json:"stepName,omitempty"`

	// Status — статус запуска или состояние шага.
	Status string `json:"status,omitempty"`

	// Error — текст ошибки для упавших шагов и запусков.
	Error string `json:"error,omitempty"`

	// Timestamp — время события.
	Timestamp time.Time `json:"timestamp"`
}

// Виды событий прогресса.
const (
	ProgressExecutionStarted  = "execution.started"
	ProgressExecutionFinished = "execution.finished"
	ProgressStepStarted       = "step.started"
	ProgressStepFinished      = "step.finished"
)

package domain

import (
	"time"
)

// ExecutionContext — контекст одного запуска flow.
//
// Variables — неизменяемый снимок входных параметров запуска.
// StepOutputs — append-only карта step.ID → output: запись получают
// только успешно выполненные (не пропущенные) шаги.
type ExecutionContext struct {
	// ExecutionID — уникальный идентификатор запуска.
	ExecutionID string `json:"executionId"`

	// FlowID — идентификатор выполняемого flow.
	FlowID string `json:"flowId"`

	// OrgID — организация-владелец запуска.
	OrgID string `json:"orgId"`

	// UserID — пользователь, инициировавший запуск.
	UserID string `json:"userId"`

	// StartTime — время начала выполнения.
	StartTime time.Time `json:"startTime"`

	// Variables — входные параметры запуска.
	Variables map[string]any `json:"variables"`

	// StepOutputs — накопленные результаты успешных шагов.
	StepOutputs map[string]any `json:"stepOutputs"`
}

// NewExecutionContext создаёт контекст запуска с пустым StepOutputs.
func NewExecutionContext(executionID, flowID, orgID, userID string, variables map[string]any) *ExecutionContext {
	if variables == nil {
		variables = make(map[string]any)
	}
	return &ExecutionContext{
		ExecutionID: executionID,
		FlowID:      flowID,
		OrgID:       orgID,
		UserID:      userID,
		StartTime:   time.Now(),
		Variables:   variables,
		StepOutputs: make(map[string]any),
	}
}

// RecordOutput добавляет результат успешного шага в StepOutputs.
func (c *ExecutionContext) RecordOutput(stepID string, output any) {
	c.StepOutputs[stepID] = output
}

// Коды ошибок шагов (см. StepError.Code).
const (
	ErrCodeValidation      = "VALIDATION"
	ErrCodeNetwork         = "NETWORK_ERROR"
	ErrCodeHTTP            = "HTTP_ERROR"
	ErrCodeCondition       = "CONDITION_ERROR"
	ErrCodeUnknownStepType = "UNKNOWN_STEP_TYPE"
	ErrCodeExecution       = "EXECUTION_ERROR"
	ErrCodeSandbox         = "SANDBOX_ERROR"
	ErrCodeSandboxTimeout  = "SANDBOX_TIMEOUT"
	ErrCodeOAuth           = "OAUTH_ERROR"
)

// StepError — описание ошибки шага.
// Это значение, а не Go error: логические падения шага не
// распространяются как ошибки движка.
type StepError struct {
	// Message — текст ошибки.
	Message string `json:"message"`

	// Code — машинный код из таксономии ошибок.
	Code string `json:"code,omitempty"`

	// Stack — stack trace для EXECUTION_ERROR (panic в executor'е).
	Stack string `json:"stack,omitempty"`
}

// Error реализует интерфейс error для удобства логирования.
func (e *StepError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// StepMetadata — метаданные выполнения шага.
type StepMetadata struct {
	// DurationMs — продолжительность выполнения в миллисекундах.
	DurationMs int64 `json:"durationMs"`

	// Attempt — номер последней попытки (с 1).
	Attempt int `json:"attempt,omitempty"`
}

// StepResult — результат выполнения одного шага.
//
// Инвариант: Skipped=true влечёт Success=true и Output=nil —
// пропуск никогда не считается ошибкой и не добавляет output.
type StepResult struct {
	// Success — шаг завершился успешно (включая пропуск).
	Success bool `json:"success"`

	// Skipped — шаг пропущен условием executeIf.
	Skipped bool `json:"skipped,omitempty"`

	// SkipReason — причина пропуска.
	SkipReason string `json:"skipReason,omitempty"`

	// Output — результат шага; только для успешных непропущенных шагов.
	Output any `json:"output,omitempty"`

	// Error — описание ошибки для упавших шагов.
	Error *StepError `json:"error,omitempty"`

	// Metadata — длительность и прочие метаданные.
	Metadata StepMetadata `json:"metadata"`
}

// SkippedResult создаёт результат пропущенного шага.
func SkippedResult(reason string) *StepResult {
	return &StepResult{
		Success:    true,
		Skipped:    true,
		SkipReason: reason,
	}
}

// FailedResult создаёт результат упавшего шага.
func FailedResult(code, message string) *StepResult {
	return &StepResult{
		Success: false,
		Error:   &StepError{Code: code, Message: message},
	}
}

// SucceededResult создаёт успешный результат с output.
func SucceededResult(output any) *StepResult {
	return &StepResult{
		Success: true,
		Output:  output,
	}
}

// ExecutionLog — персистентная запись о запуске flow.
//
// В direct режиме создаётся один раз при старте и обновляется
// один раз в терминальном состоянии. В durable режиме дополнительно
// ведутся записи StepLog по каждому шагу.
type ExecutionLog struct {
	// ID — executionID запуска.
	ID string `json:"id"`

	// FlowID — идентификатор flow.
	FlowID string `json:"flow_id"`

	// OrgID — организация.
	OrgID string `json:"org_id"`

	// UserID — инициатор.
	UserID string `json:"user_id"`

	// Status — текущий статус запуска.
	Status ExecutionStatus `json:"status"`

	// Inputs — входные переменные запуска.
	Inputs map[string]any `json:"inputs,omitempty"`

	// Outputs — снимок stepOutputs в терминальном состоянии.
	Outputs map[string]any `json:"outputs,omitempty"`

	// Error — первая критичная ошибка для failed запусков.
	Error string `json:"error,omitempty"`

	// StartedAt — время перехода в running.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения терминального состояния.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если запуск завершён.
func (e *ExecutionLog) IsFinished() bool {
	return e.Status.IsTerminal()
}

// MarkRunning переводит запись в running.
func (e *ExecutionLog) MarkRunning() {
	now := time.Now()
	e.Status = ExecutionStatusRunning
	e.StartedAt = &now
}

// MarkCompleted переводит запись в completed со снимком outputs.
func (e *ExecutionLog) MarkCompleted(outputs map[string]any) {
	now := time.Now()
	e.Status = ExecutionStatusCompleted
	e.Outputs = outputs
	e.FinishedAt = &now
}

// MarkFailed переводит запись в failed с первой критичной ошибкой.
func (e *ExecutionLog) MarkFailed(errMsg string, outputs map[string]any) {
	now := time.Now()
	e.Status = ExecutionStatusFailed
	e.Error = errMsg
	e.Outputs = outputs
	e.FinishedAt = &now
}

// MarkCancelled переводит запись в cancelled.
func (e *ExecutionLog) MarkCancelled() {
	now := time.Now()
	e.Status = ExecutionStatusCancelled
	e.FinishedAt = &now
}

// StepLog — персистентная запись о шаге (только durable режим).
//
// Ключ идемпотентности: (execution_id, step_id). Повторная доставка
// события выполнения перезаписывает запись, а не создаёт дубликат.
type StepLog struct {
	// ExecutionID — запуск, которому принадлежит шаг.
	ExecutionID string `json:"execution_id"`

	// StepID — идентификатор шага из определения flow.
	StepID string `json:"step_id"`

	// StepName — имя шага на момент выполнения.
	StepName string `json:"step_name,omitempty"`

	// State — состояние шага.
	State StepState `json:"state"`

	// Output — результат успешного шага.
	Output any `json:"output,omitempty"`

	// Error — текст ошибки упавшего шага.
	Error string `json:"error,omitempty"`

	// Attempt — номер последней попытки.
	Attempt int `json:"attempt,omitempty"`

	// DurationMs — продолжительность последней попытки.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// UpdatedAt — время последнего обновления записи.
	UpdatedAt time.Time `json:"updated_at"`
}

package domain

// ExecutionStatus — статус выполнения execution.
//
// Жизненный цикл:
//
//	queued → running → completed
//	                 ↘ failed
//	        (или) → cancelled (из queued или running, только durable режим)
type ExecutionStatus string

const (
	// ExecutionStatusQueued — execution создан и ожидает durable-подсистему.
	ExecutionStatusQueued ExecutionStatus = "queued"

	// ExecutionStatusRunning — execution в процессе выполнения.
	ExecutionStatusRunning ExecutionStatus = "running"

	// ExecutionStatusCompleted — все шаги выполнены (или упали только некритичные).
	ExecutionStatusCompleted ExecutionStatus = "completed"

	// ExecutionStatusFailed — первый критичный шаг упал, остальные не запускались.
	ExecutionStatusFailed ExecutionStatus = "failed"

	// ExecutionStatusCancelled — execution отменён пользователем.
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal возвращает true, если статус финальный.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// StepState — состояние шага внутри execution.
//
// Жизненный цикл:
//
//	pending → (условие executeIf) → skipped
//	        ↘ running → succeeded
//	                  ↘ failed
type StepState string

const (
	// StepStatePending — шаг ещё не запускался.
	StepStatePending StepState = "pending"

	// StepStateRunning — шаг выполняется.
	StepStateRunning StepState = "running"

	// StepStateSucceeded — шаг успешно завершён.
	StepStateSucceeded StepState = "succeeded"

	// StepStateFailed — шаг завершился с ошибкой (после всех retry).
	StepStateFailed StepState = "failed"

	// StepStateSkipped — условие executeIf вернуло false, шаг пропущен.
	StepStateSkipped StepState = "skipped"
)

// IsTerminal возвращает true, если состояние шага финальное.
func (s StepState) IsTerminal() bool {
	switch s {
	case StepStateSucceeded, StepStateFailed, StepStateSkipped:
		return true
	default:
		return false
	}
}

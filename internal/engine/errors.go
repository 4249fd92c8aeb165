package engine

import "errors"

// Ошибки инициации запуска. Возникают до создания execution log
// и потому фатальны для вызова.
var (
	// ErrFlowNotFound — flow не найден или принадлежит другой организации.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrExecutionNotFound — execution log отсутствует в хранилище.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionFinished — execution уже в терминальном состоянии.
	ErrExecutionFinished = errors.New("execution already finished")
)

// Ошибки валидации списка шагов.
var (
	// ErrEmptySteps — flow не содержит шагов.
	ErrEmptySteps = errors.New("flow has no steps")

	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrInvalidStepsJSON — список шагов не парсится из JSON.
	ErrInvalidStepsJSON = errors.New("invalid steps JSON")
)

// ValidationError — ошибка валидации с контекстом шага.
type ValidationError struct {
	StepID  string // ID шага, где произошла ошибка
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

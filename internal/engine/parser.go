package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/Cascade/internal/domain"
)

// ParseSteps разбирает JSON-список шагов из хранилища.
//
// Валидация минимальна: непустой список, непустые и уникальные ID.
// Неизвестный тип шага и содержимое dependsOn ошибками не считаются:
// первый даёт UNKNOWN_STEP_TYPE в момент выполнения, второе
// декларативно и сохраняется как есть.
func ParseSteps(raw []byte) ([]domain.Step, error) {
	var steps []domain.Step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStepsJSON, err)
	}
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// ValidateSteps проверяет инварианты списка шагов.
func ValidateSteps(steps []domain.Step) error {
	if len(steps) == 0 {
		return ErrEmptySteps
	}
	seen := make(map[string]struct{}, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			return &ValidationError{
				Message: fmt.Sprintf("step #%d has no ID", i+1),
				Err:     ErrEmptyStepID,
			}
		}
		if _, dup := seen[s.ID]; dup {
			return &ValidationError{
				StepID:  s.ID,
				Message: "duplicate step ID",
				Err:     ErrDuplicateStepID,
			}
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

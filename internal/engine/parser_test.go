package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Cascade/internal/domain"
)

func TestParseSteps_Valid(t *testing.T) {
	raw := []byte(`[
		{"id": "fetch", "type": "http_request", "config": {"url": "https://example.com"}},
		{"id": "wait", "type": "delay", "config": {"delayMs": 500}, "dependsOn": ["fetch"]},
		{"id": "custom", "type": "something_new"}
	]`)

	steps, err := ParseSteps(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	if steps[0].Type != domain.StepTypeHTTPRequest {
		t.Errorf("expected http_request, got %s", steps[0].Type)
	}
	// dependsOn сохраняется как есть.
	if len(steps[1].DependsOn) != 1 || steps[1].DependsOn[0] != "fetch" {
		t.Errorf("dependsOn should be preserved, got %v", steps[1].DependsOn)
	}
	// Неизвестный тип парсится без ошибки.
	if steps[2].Type.IsKnown() {
		t.Error("something_new should not be a known type")
	}
}

func TestParseSteps_DependsOnNeverValidated(t *testing.T) {
	// Ссылка на несуществующий шаг и самозависимость не ошибки.
	raw := []byte(`[
		{"id": "a", "type": "delay", "dependsOn": ["ghost", "a"]}
	]`)

	steps, err := ParseSteps(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(steps[0].DependsOn) != 2 {
		t.Errorf("dependsOn must be preserved literally, got %v", steps[0].DependsOn)
	}
}

func TestParseSteps_InvalidJSON(t *testing.T) {
	_, err := ParseSteps([]byte(`{not json`))
	if !errors.Is(err, ErrInvalidStepsJSON) {
		t.Errorf("expected ErrInvalidStepsJSON, got %v", err)
	}
}

func TestValidateSteps_Empty(t *testing.T) {
	if err := ValidateSteps(nil); !errors.Is(err, ErrEmptySteps) {
		t.Errorf("expected ErrEmptySteps, got %v", err)
	}
}

func TestValidateSteps_EmptyID(t *testing.T) {
	err := ValidateSteps([]domain.Step{{Type: domain.StepTypeDelay}})
	if !errors.Is(err, ErrEmptyStepID) {
		t.Errorf("expected ErrEmptyStepID, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Error("expected ValidationError")
	}
}

func TestValidateSteps_DuplicateID(t *testing.T) {
	err := ValidateSteps([]domain.Step{
		{ID: "a", Type: domain.StepTypeDelay},
		{ID: "a", Type: domain.StepTypeDelay},
	})
	if !errors.Is(err, ErrDuplicateStepID) {
		t.Errorf("expected ErrDuplicateStepID, got %v", err)
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		if verr.StepID != "a" {
			t.Errorf("expected step a, got %s", verr.StepID)
		}
	} else {
		t.Error("expected ValidationError")
	}
}

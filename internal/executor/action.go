package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/shaiso/Cascade/internal/domain"
)

// Ключи конфигурации action-шага.
const (
	configActionID = "actionId"
	configInputs   = "inputs"
)

// ActionRegistry — каталог преднастроенных actions.
type ActionRegistry interface {
	GetAction(ctx context.Context, actionID, orgID string) (*domain.ActionDefinition, error)
}

// ActionExecutor — шаг типа action: вызов endpoint'а из каталога.
//
// Конфигурация:
//
//	{
//	    "actionId": "…",
//	    "inputs": {"channel": "{{variables.channel}}"}
//	}
//
// Endpoint, метод и базовые заголовки берутся из определения action;
// inputs уходят телом запроса.
type ActionExecutor struct {
	actions ActionRegistry
	http    *HTTPExecutor
}

// NewActionExecutor создаёт executor.
func NewActionExecutor(actions ActionRegistry, httpEx *HTTPExecutor) *ActionExecutor {
	return &ActionExecutor{actions: actions, http: httpEx}
}

// Execute выполняет action-шаг.
func (e *ActionExecutor) Execute(ctx context.Context, step *domain.Step, ec *domain.ExecutionContext) *domain.StepResult {
	actionID := ConfigString(step.Config, configActionID)
	if actionID == "" {
		return domain.FailedResult(domain.ErrCodeValidation, "config.actionId is required")
	}
	if e.actions == nil {
		return domain.FailedResult(domain.ErrCodeValidation, "action catalog not configured")
	}

	action, err := e.actions.GetAction(ctx, actionID, ec.OrgID)
	if err != nil {
		return domain.FailedResult(domain.ErrCodeValidation,
			fmt.Sprintf("get action %s: %v", actionID, err))
	}
	if action == nil {
		return domain.FailedResult(domain.ErrCodeValidation,
			fmt.Sprintf("action %s not found", actionID))
	}

	url := strings.TrimSuffix(action.Tool.BaseURL, "/") + "/" + strings.TrimPrefix(action.Endpoint, "/")

	headers := make(map[string]string, len(action.Headers))
	for k, v := range action.Headers {
		headers[k] = v
	}

	var body any
	if inputs := ConfigMap(step.Config, configInputs); inputs != nil {
		body = inputs
	}

	sr := e.http.do(ctx, request{
		Method:     action.Method,
		URL:        url,
		Headers:    headers,
		Body:       body,
		TimeoutSec: ConfigInt(step.Config, configTimeoutSec),
	})
	if sr.Success {
		// Имя action добавляется к output для трассировки.
		if out, ok := sr.Output.(map[string]any); ok {
			out["action"] = action.Name
		}
	}
	return sr
}

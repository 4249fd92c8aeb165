package executor

import (
	"context"
	"log/slog"

	"github.com/shaiso/Cascade/internal/domain"
)

// Ключи конфигурации transform/conditional шагов.
const (
	configExpression = "expression"
	configScript     = "script"
)

// LocalEvaluator — выполнение выражений в процессе.
// Используется только как fallback при AllowLocalEval.
type LocalEvaluator interface {
	Run(script string, context map[string]any) (any, error)
}

// TransformExecutor — шаги data_transform и conditional.
//
// Скрипт предпочтительно выполняется в sandbox. Локальный fallback
// существует для окружений без sandbox и включается явно:
// выполнение пользовательского кода в процессе движка небезопасно.
type TransformExecutor struct {
	sandbox        SandboxRuntime
	local          LocalEvaluator
	allowLocalEval bool
	log            *slog.Logger
}

// NewTransformExecutor создаёт executor.
func NewTransformExecutor(sandbox SandboxRuntime, local LocalEvaluator, allowLocalEval bool, log *slog.Logger) *TransformExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &TransformExecutor{
		sandbox:        sandbox,
		local:          local,
		allowLocalEval: allowLocalEval,
		log:            log,
	}
}

// Execute выполняет transform-шаг.
func (e *TransformExecutor) Execute(ctx context.Context, step *domain.Step, ec *domain.ExecutionContext) *domain.StepResult {
	script := ConfigString(step.Config, configScript)
	if script == "" {
		script = ConfigString(step.Config, configExpression)
	}
	if script == "" {
		script = ConfigString(step.Config, configCode)
	}
	if script == "" {
		return domain.FailedResult(domain.ErrCodeValidation,
			"config.script, config.expression or config.code is required")
	}

	if e.sandbox != nil {
		res, err := e.sandbox.RunSync(ctx, script, ec)
		if err == nil {
			if !res.Success {
				return domain.FailedResult(domain.ErrCodeSandbox, res.Error)
			}
			return domain.SucceededResult(map[string]any{"result": res.Output})
		}
		if !e.allowLocalEval || e.local == nil {
			return domain.FailedResult(domain.ErrCodeSandbox, err.Error())
		}
		e.log.Warn("sandbox unavailable, falling back to local eval",
			"execution_id", ec.ExecutionID,
			"step_id", step.ID,
			"error", err,
		)
	}

	if !e.allowLocalEval || e.local == nil {
		return domain.FailedResult(domain.ErrCodeSandbox,
			"sandbox not configured and local eval is disabled")
	}

	out, err := e.local.Run(script, map[string]any{
		"variables":   ec.Variables,
		"stepOutputs": ec.StepOutputs,
		"orgId":       ec.OrgID,
		"userId":      ec.UserID,
	})
	if err != nil {
		return domain.FailedResult(domain.ErrCodeExecution, err.Error())
	}
	return domain.SucceededResult(map[string]any{"result": out})
}

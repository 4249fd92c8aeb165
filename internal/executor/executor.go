package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/telemetry"
)

// Executor — выполнение одного типа шага.
//
// Config шага приходит уже с подставленными шаблонами. Executor
// возвращает StepResult и никогда не использует Go error для
// логических падений шага.
type Executor interface {
	Execute(ctx context.Context, step *domain.Step, ec *domain.ExecutionContext) *domain.StepResult
}

// Registry — реестр executor'ов по типу шага.
type Registry struct {
	executors map[domain.StepType]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.StepType]Executor)}
}

// Register добавляет executor для типа шага.
func (r *Registry) Register(stepType domain.StepType, ex Executor) {
	r.executors[stepType] = ex
}

// Get возвращает executor для типа шага.
func (r *Registry) Get(stepType domain.StepType) (Executor, bool) {
	ex, ok := r.executors[stepType]
	return ex, ok
}

// Types возвращает зарегистрированные типы.
func (r *Registry) Types() []domain.StepType {
	types := make([]domain.StepType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}

// RegistryConfig — внешние сервисы для стандартного набора
// executor'ов. Nil-поля допустимы: соответствующие шаги будут
// падать с понятной ошибкой вместо паники.
type RegistryConfig struct {
	Actions   ActionRegistry
	Tokens    TokenProvider
	Sandbox   SandboxRuntime
	LocalEval LocalEvaluator

	// AllowLocalEval разрешает выполнение transform/conditional
	// шагов в процессе, когда sandbox недоступен. По умолчанию
	// выключено: локальное выполнение кода небезопасно.
	AllowLocalEval bool

	HTTPClient HTTPDoer
	Logger     *slog.Logger
}

// DefaultRegistry создаёт реестр со всеми стандартными типами шагов.
func DefaultRegistry(cfg RegistryConfig) *Registry {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	httpEx := NewHTTPExecutor(cfg.HTTPClient)
	sandboxEx := NewSandboxExecutor(cfg.Sandbox)

	r := NewRegistry()
	r.Register(domain.StepTypeHTTPRequest, httpEx)
	r.Register(domain.StepTypeWebhook, httpEx)
	r.Register(domain.StepTypeAction, NewActionExecutor(cfg.Actions, httpEx))
	r.Register(domain.StepTypeOAuthAPICall, NewOAuthExecutor(cfg.Tokens, httpEx))
	r.Register(domain.StepTypeSandboxSync, sandboxEx)
	r.Register(domain.StepTypeSandboxAsync, sandboxEx)
	r.Register(domain.StepTypeCodeExecution, sandboxEx)
	r.Register(domain.StepTypeDataTransform, NewTransformExecutor(cfg.Sandbox, cfg.LocalEval, cfg.AllowLocalEval, log))
	r.Register(domain.StepTypeConditional, NewTransformExecutor(cfg.Sandbox, cfg.LocalEval, cfg.AllowLocalEval, log))
	r.Register(domain.StepTypeDelay, NewDelayExecutor())
	return r
}

// Runner — диспетчер шагов поверх реестра.
//
// Меряет длительность, перехватывает panic внутри executor'а
// (EXECUTION_ERROR со stack trace) и превращает неизвестный тип
// шага в UNKNOWN_STEP_TYPE.
type Runner struct {
	registry *Registry
	log      *slog.Logger
}

// NewRunner создаёт Runner.
func NewRunner(registry *Registry, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{registry: registry, log: log}
}

// Run выполняет один шаг и возвращает результат.
func (r *Runner) Run(ctx context.Context, step *domain.Step, ec *domain.ExecutionContext) (result *domain.StepResult) {
	log := telemetry.WithStepID(telemetry.WithExecutionID(r.log, ec.ExecutionID), step.ID)

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = &domain.StepResult{
				Success: false,
				Error: &domain.StepError{
					Code:    domain.ErrCodeExecution,
					Message: fmt.Sprintf("panic: %v", rec),
					Stack:   string(debug.Stack()),
				},
			}
			log.Error("panic in step executor", "panic", rec)
		}
		result.Metadata.DurationMs = time.Since(start).Milliseconds()
	}()

	ex, ok := r.registry.Get(step.Type)
	if !ok {
		return domain.FailedResult(domain.ErrCodeUnknownStepType,
			fmt.Sprintf("unknown step type: %s", step.Type))
	}

	log.Debug("executing step", "type", step.Type)

	return ex.Execute(ctx, step, ec)
}

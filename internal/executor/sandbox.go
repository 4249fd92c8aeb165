package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
)

// Ключи конфигурации sandbox-шагов.
const (
	configCode           = "code"
	configPollIntervalMs = "pollIntervalMs"
	configMaxPollAttempt = "maxPollAttempts"
	configWaitForResult  = "waitForResult"
)

// Значения по умолчанию для опроса async-результата.
const (
	defaultPollInterval    = 2 * time.Second
	defaultMaxPollAttempts = 30
)

// Статусы async-сессии sandbox.
const (
	SandboxStatusRunning   = "running"
	SandboxStatusCompleted = "completed"
	SandboxStatusFailed    = "failed"
)

// SandboxResult — результат синхронного выполнения кода.
type SandboxResult struct {
	Success       bool   `json:"success"`
	Output        any    `json:"output,omitempty"`
	Error         string `json:"error,omitempty"`
	ExecutionTime int64  `json:"executionTime,omitempty"`
}

// AsyncResult — состояние async-сессии.
type AsyncResult struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SandboxRuntime — удалённый сервис выполнения кода.
type SandboxRuntime interface {
	RunSync(ctx context.Context, code string, ec *domain.ExecutionContext) (*SandboxResult, error)
	RunAsync(ctx context.Context, code string, ec *domain.ExecutionContext) (string, error)
	GetAsyncResult(ctx context.Context, sessionID string) (*AsyncResult, error)
}

// SandboxExecutor — шаги sandbox_sync, sandbox_async и code_execution.
//
// sandbox_sync и code_execution блокируются до результата.
// sandbox_async возвращает sessionId сразу; с waitForResult=true
// опрашивает getAsyncResult каждые pollIntervalMs до maxPollAttempts
// и падает с SANDBOX_TIMEOUT при исчерпании.
type SandboxExecutor struct {
	runtime SandboxRuntime
}

// NewSandboxExecutor создаёт executor.
func NewSandboxExecutor(runtime SandboxRuntime) *SandboxExecutor {
	return &SandboxExecutor{runtime: runtime}
}

// Execute выполняет sandbox-шаг.
func (e *SandboxExecutor) Execute(ctx context.Context, step *domain.Step, ec *domain.ExecutionContext) *domain.StepResult {
	code := ConfigString(step.Config, configCode)
	if code == "" {
		return domain.FailedResult(domain.ErrCodeValidation, "config.code is required")
	}
	if e.runtime == nil {
		return domain.FailedResult(domain.ErrCodeSandbox, "sandbox not configured")
	}

	if step.Type == domain.StepTypeSandboxAsync {
		return e.runAsync(ctx, code, step, ec)
	}
	return e.runSync(ctx, code, ec)
}

func (e *SandboxExecutor) runSync(ctx context.Context, code string, ec *domain.ExecutionContext) *domain.StepResult {
	res, err := e.runtime.RunSync(ctx, code, ec)
	if err != nil {
		return domain.FailedResult(domain.ErrCodeSandbox, err.Error())
	}
	if !res.Success {
		return domain.FailedResult(domain.ErrCodeSandbox, res.Error)
	}
	return domain.SucceededResult(map[string]any{
		"output":        res.Output,
		"executionTime": res.ExecutionTime,
	})
}

func (e *SandboxExecutor) runAsync(ctx context.Context, code string, step *domain.Step, ec *domain.ExecutionContext) *domain.StepResult {
	sessionID, err := e.runtime.RunAsync(ctx, code, ec)
	if err != nil {
		return domain.FailedResult(domain.ErrCodeSandbox, err.Error())
	}

	if !ConfigBool(step.Config, configWaitForResult, false) {
		return domain.SucceededResult(map[string]any{"sessionId": sessionID})
	}

	interval := defaultPollInterval
	if ms := ConfigInt(step.Config, configPollIntervalMs); ms > 0 {
		interval = time.Duration(ms) * time.Millisecond
	}
	maxAttempts := ConfigInt(step.Config, configMaxPollAttempt)
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxPollAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return domain.FailedResult(domain.ErrCodeSandbox,
				fmt.Sprintf("wait for result interrupted: %v", ctx.Err()))
		case <-time.After(interval):
		}

		res, err := e.runtime.GetAsyncResult(ctx, sessionID)
		if err != nil {
			return domain.FailedResult(domain.ErrCodeSandbox, err.Error())
		}
		switch res.Status {
		case SandboxStatusCompleted:
			return domain.SucceededResult(map[string]any{
				"sessionId": sessionID,
				"output":    res.Result,
			})
		case SandboxStatusFailed:
			return domain.FailedResult(domain.ErrCodeSandbox, res.Error)
		}
		// running: продолжаем опрос
	}

	return domain.FailedResult(domain.ErrCodeSandboxTimeout,
		fmt.Sprintf("session %s result not ready after %d attempts", sessionID, maxAttempts))
}

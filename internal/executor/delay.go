package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
)

const (
	configDelayMs  = "delayMs"
	defaultDelayMs = 1000
)

// DelayExecutor — шаг delay: пауза на delayMs миллисекунд.
// Output — фактическая длительность паузы.
type DelayExecutor struct{}

// NewDelayExecutor создаёт executor.
func NewDelayExecutor() *DelayExecutor {
	return &DelayExecutor{}
}

// Execute выполняет паузу.
func (e *DelayExecutor) Execute(ctx context.Context, step *domain.Step, _ *domain.ExecutionContext) *domain.StepResult {
	delayMs := ConfigInt(step.Config, configDelayMs)
	if delayMs <= 0 {
		delayMs = defaultDelayMs
	}

	timer := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return domain.FailedResult(domain.ErrCodeExecution,
			fmt.Sprintf("delay interrupted: %v", ctx.Err()))
	case <-timer.C:
		return domain.SucceededResult(map[string]any{"delayMs": delayMs})
	}
}

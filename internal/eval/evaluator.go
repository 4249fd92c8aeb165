package eval

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// defaultTimeout ограничивает время выполнения одного выражения.
const defaultTimeout = 5 * time.Second

// Evaluator выполняет JavaScript-выражения в изолированной VM.
//
// Контекст выражения передаётся глобальными переменными:
// выражение условия видит inputs, variables, stepOutputs и т.д.
// как обычные идентификаторы.
type Evaluator struct {
	timeout time.Duration
}

// New создаёт Evaluator с таймаутом по умолчанию.
func New() *Evaluator {
	return &Evaluator{timeout: defaultTimeout}
}

// NewWithTimeout создаёт Evaluator с заданным таймаутом.
func NewWithTimeout(timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Evaluator{timeout: timeout}
}

// Evaluate вычисляет булево выражение.
// Результат приводится к bool по правилам JavaScript truthiness.
func (e *Evaluator) Evaluate(expression string, context map[string]any) (bool, error) {
	val, err := e.run(expression, context)
	if err != nil {
		return false, err
	}
	return val.ToBoolean(), nil
}

// Run вычисляет выражение и возвращает его значение.
func (e *Evaluator) Run(expression string, context map[string]any) (any, error) {
	val, err := e.run(expression, context)
	if err != nil {
		return nil, err
	}
	return val.Export(), nil
}

func (e *Evaluator) run(expression string, context map[string]any) (goja.Value, error) {
	vm := goja.New()
	for k, v := range context {
		if err := vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("set context key %q: %w", k, err)
		}
	}

	// Interrupt по таймеру защищает от бесконечных циклов.
	timer := time.AfterFunc(e.timeout, func() {
		vm.Interrupt("expression timeout")
	})
	defer timer.Stop()

	val, err := vm.RunString(expression)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	return val, nil
}

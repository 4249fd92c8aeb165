package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shaiso/Cascade/internal/domain"
)

// ConditionGate решает, выполнять шаг или пропустить, по полю
// executeIf шага.
//
// Строковое выражение отдаётся внешнему evaluator'у; объектная
// форма {field, operator, value} сравнивается локально. Ошибка
// evaluator'а действует fail-open: шаг выполняется, ошибка
// логируется с кодом CONDITION_ERROR.
type ConditionGate struct {
	resolver  *TemplateResolver
	evaluator ConditionEvaluator
	log       *slog.Logger
}

// NewConditionGate создаёт гейт. Evaluator может быть nil: тогда
// строковые выражения не вычисляются и действуют fail-open.
func NewConditionGate(resolver *TemplateResolver, evaluator ConditionEvaluator, log *slog.Logger) *ConditionGate {
	return &ConditionGate{
		resolver:  resolver,
		evaluator: evaluator,
		log:       log,
	}
}

// ShouldExecute возвращает true, если шаг нужно выполнять.
// Второе значение — причина пропуска для skipped шагов.
func (g *ConditionGate) ShouldExecute(step *domain.Step, ec *domain.ExecutionContext) (bool, string) {
	if step.ExecuteIf == nil {
		return true, ""
	}

	switch cond := step.ExecuteIf.(type) {
	case string:
		if strings.TrimSpace(cond) == "" {
			return true, ""
		}
		return g.evalExpression(cond, step, ec)
	case map[string]any:
		if len(cond) == 0 {
			return true, ""
		}
		return g.evalObject(cond, step, ec)
	default:
		// Неожиданная форма условия не блокирует шаг.
		g.log.Warn("executeIf has unknown shape, running step",
			"step_id", step.ID,
			"code", domain.ErrCodeCondition,
		)
		return true, ""
	}
}

func (g *ConditionGate) evalExpression(expr string, step *domain.Step, ec *domain.ExecutionContext) (bool, string) {
	if g.evaluator == nil {
		g.log.Warn("condition evaluator not configured, running step",
			"step_id", step.ID,
			"code", domain.ErrCodeCondition,
		)
		return true, ""
	}

	ok, err := g.evaluator.Evaluate(expr, g.evalContext(step, ec))
	if err != nil {
		// Fail-open: сомнение трактуется в пользу выполнения.
		g.log.Warn("executeIf evaluation failed, running step",
			"step_id", step.ID,
			"code", domain.ErrCodeCondition,
			"error", err,
		)
		return true, ""
	}
	if !ok {
		return false, fmt.Sprintf("condition not met: %s", expr)
	}
	return true, ""
}

// evalContext собирает контекст для evaluator'а строковых выражений.
func (g *ConditionGate) evalContext(step *domain.Step, ec *domain.ExecutionContext) map[string]any {
	return map[string]any{
		"inputs":      ec.Variables,
		"variables":   ec.Variables,
		"stepOutputs": ec.StepOutputs,
		"currentStep": step.ID,
		"orgId":       ec.OrgID,
		"userId":      ec.UserID,
		"meta": map[string]any{
			"flowId":      ec.FlowID,
			"executionId": ec.ExecutionID,
			"stepId":      step.ID,
		},
	}
}

func (g *ConditionGate) evalObject(cond map[string]any, step *domain.Step, ec *domain.ExecutionContext) (bool, string) {
	field, _ := cond["field"].(string)
	operator, _ := cond["operator"].(string)
	expected := cond["value"]

	if field == "" || operator == "" {
		g.log.Warn("incomplete object condition, running step",
			"step_id", step.ID,
			"code", domain.ErrCodeCondition,
		)
		return true, ""
	}

	actual := g.resolver.ResolveString("{{"+field+"}}", ec)
	// Неразрешённый путь возвращается дословно: значение отсутствует.
	resolved := actual != "{{"+field+"}}"

	ok, err := compare(operator, actual, expected, resolved)
	if err != nil {
		g.log.Warn("executeIf comparison failed, running step",
			"step_id", step.ID,
			"code", domain.ErrCodeCondition,
			"error", err,
		)
		return true, ""
	}
	if !ok {
		return false, fmt.Sprintf("condition not met: %s %s %v", field, operator, expected)
	}
	return true, ""
}

// compare выполняет сравнение объектной формы условия.
func compare(operator string, actual, expected any, resolved bool) (bool, error) {
	switch operator {
	case "exists":
		return resolved && actual != nil, nil
	case "not_exists":
		return !resolved || actual == nil, nil
	case "eq":
		return looseEqual(actual, expected), nil
	case "neq":
		return !looseEqual(actual, expected), nil
	case "gt", "gte", "lt", "lte":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false, fmt.Errorf("operator %s requires numeric operands", operator)
		}
		switch operator {
		case "gt":
			return a > b, nil
		case "gte":
			return a >= b, nil
		case "lt":
			return a < b, nil
		default:
			return a <= b, nil
		}
	case "contains":
		switch a := actual.(type) {
		case string:
			s, ok := expected.(string)
			if !ok {
				return false, fmt.Errorf("contains on a string requires a string operand")
			}
			return strings.Contains(a, s), nil
		case []any:
			for _, item := range a {
				if looseEqual(item, expected) {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, fmt.Errorf("contains does not apply to %T", actual)
		}
	default:
		return false, fmt.Errorf("unknown operator: %s", operator)
	}
}

// looseEqual сравнивает значения с нормализацией чисел: после
// JSON-раунд-трипа int становится float64, и 3 должно равняться 3.0.
func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

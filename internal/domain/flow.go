package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepType — тип шага. Закрытое множество: неизвестные типы
// не отбрасываются при загрузке, а дают failure UNKNOWN_STEP_TYPE
// в момент выполнения.
type StepType string

const (
	StepTypeAction        StepType = "action"
	StepTypeHTTPRequest   StepType = "http_request"
	StepTypeOAuthAPICall  StepType = "oauth_api_call"
	StepTypeWebhook       StepType = "webhook"
	StepTypeDataTransform StepType = "data_transform"
	StepTypeConditional   StepType = "conditional"
	StepTypeDelay         StepType = "delay"
	StepTypeSandboxSync   StepType = "sandbox_sync"
	StepTypeSandboxAsync  StepType = "sandbox_async"
	StepTypeCodeExecution StepType = "code_execution"
)

// KnownStepTypes — все поддерживаемые типы шагов.
var KnownStepTypes = []StepType{
	StepTypeAction,
	StepTypeHTTPRequest,
	StepTypeOAuthAPICall,
	StepTypeWebhook,
	StepTypeDataTransform,
	StepTypeConditional,
	StepTypeDelay,
	StepTypeSandboxSync,
	StepTypeSandboxAsync,
	StepTypeCodeExecution,
}

// IsKnown возвращает true, если тип шага входит в закрытое множество.
func (t StepType) IsKnown() bool {
	for _, known := range KnownStepTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Flow — определение рабочего процесса.
//
// Flow принадлежит организации и хранит упорядоченный список шагов.
// Шаги выполняются строго в порядке списка; поле depends_on
// декларативное и на порядок выполнения не влияет.
type Flow struct {
	// ID — уникальный идентификатор flow.
	ID uuid.UUID `json:"id"`

	// OrgID — организация-владелец.
	OrgID string `json:"org_id"`

	// Name — имя flow для удобной идентификации.
	Name string `json:"name"`

	// Version — номер версии определения.
	Version int `json:"version"`

	// Steps — упорядоченный список шагов.
	Steps []Step `json:"steps"`

	// IsActive — неактивные flows не запускаются по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// Step — один типизированный шаг внутри flow.
type Step struct {
	// ID — уникальный идентификатор шага в рамках flow.
	// Используется как ключ в stepOutputs и в шаблонах {{steps.<id>...}}.
	ID string `json:"id"`

	// Type — тип шага (см. StepType).
	Type StepType `json:"type"`

	// Name — человекочитаемое имя шага.
	Name string `json:"name,omitempty"`

	// Config — непрозрачная конфигурация шага, зависящая от типа.
	// Для http_request: method, url, headers, body.
	// Для delay: delayMs. Для sandbox_*: code.
	// Поле critical=false делает шаг некритичным.
	Config map[string]any `json:"config,omitempty"`

	// ExecuteIf — условие выполнения: строковое выражение либо
	// объект {field, operator, value}. Пустое значение — шаг
	// выполняется всегда.
	ExecuteIf any `json:"executeIf,omitempty"`

	// DependsOn — декларативный список зависимостей.
	// Никогда не валидируется и не влияет на порядок выполнения.
	DependsOn []string `json:"dependsOn,omitempty"`

	// RetryPolicy — политика повторных попыток этого шага.
	// Переопределяет значения по умолчанию из throttle-политики.
	RetryPolicy *RetryPolicy `json:"retryPolicy,omitempty"`
}

// Critical возвращает true, если падение шага должно прервать flow.
// Шаг критичен по умолчанию; некритичным его делает только
// явное config.critical == false.
func (s *Step) Critical() bool {
	if s.Config == nil {
		return true
	}
	v, ok := s.Config["critical"]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	if !ok {
		return true
	}
	return b
}

// DisplayName возвращает имя шага для логов: Name, либо ID.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Стратегии backoff для RetryPolicy.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// RetryPolicy — политика повторных попыток шага.
type RetryPolicy struct {
	// MaxRetries — количество повторов после первой попытки.
	MaxRetries int `json:"maxRetries,omitempty"`

	// BackoffStrategy — "fixed" или "exponential".
	BackoffStrategy string `json:"backoffStrategy,omitempty"`

	// DelayMs — базовая задержка между попытками в миллисекундах.
	DelayMs int `json:"delayMs,omitempty"`
}

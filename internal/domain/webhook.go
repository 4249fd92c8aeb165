package domain

import (
	"time"

	"github.com/google/uuid"
)

// Типы событий жизненного цикла, на которые можно подписать webhook.
const (
	EventFlowStarted   = "flow.started"
	EventFlowCompleted = "flow.completed"
	EventFlowFailed    = "flow.failed"
	EventFlowCancelled = "flow.cancelled"
	EventStepCompleted = "step.completed"
	EventStepFailed    = "step.failed"
	EventStepSkipped   = "step.skipped"
)

// WebhookRegistration — зарегистрированный организацией endpoint.
//
// Принадлежит организации; dispatcher читает регистрации,
// но никогда их не изменяет.
type WebhookRegistration struct {
	// ID — уникальный идентификатор webhook.
	ID uuid.UUID `json:"id"`

	// OrgID — организация-владелец.
	OrgID string `json:"org_id"`

	// URL — endpoint для доставки.
	URL string `json:"url"`

	// Secret — секрет для HMAC-подписи. Пустой — доставка без подписи.
	Secret string `json:"secret,omitempty"`

	// EventTypes — типы событий, на которые подписан webhook.
	EventTypes []string `json:"event_types"`

	// Enabled — выключенные webhooks не получают доставок.
	Enabled bool `json:"enabled"`

	// CreatedAt — время регистрации.
	CreatedAt time.Time `json:"created_at"`
}

// SubscribedTo возвращает true, если webhook подписан на событие.
func (w *WebhookRegistration) SubscribedTo(eventType string) bool {
	for _, et := range w.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// Статусы доставки webhook.
const (
	DispatchStatusSuccess = "success"
	DispatchStatusFailure = "failure"
)

// WebhookDispatchLog — запись о финальном исходе одной доставки.
//
// Append-only: ровно одна запись на webhook на dispatch-запрос,
// отражающая терминальный исход, а не каждую retry-попытку.
type WebhookDispatchLog struct {
	// ID — идентификатор записи.
	ID uuid.UUID `json:"id"`

	// WebhookID — webhook, которому доставляли.
	WebhookID uuid.UUID `json:"webhook_id"`

	// OrgID — организация.
	OrgID string `json:"org_id"`

	// EventType — тип доставленного события.
	EventType string `json:"event_type"`

	// URL — endpoint на момент доставки.
	URL string `json:"url"`

	// Status — success или failure.
	Status string `json:"status"`

	// StatusCode — HTTP-код ответа; nil при сетевой ошибке.
	StatusCode *int `json:"status_code,omitempty"`

	// DurationMs — продолжительность попытки.
	DurationMs int64 `json:"duration_ms"`

	// Error — текст ошибки для failure.
	Error string `json:"error,omitempty"`

	// DeliveryID — уникальный идентификатор доставки (whd_...).
	DeliveryID string `json:"delivery_id"`

	// CreatedAt — время записи.
	CreatedAt time.Time `json:"created_at"`
}

// WebhookDispatchRequest — запрос на рассылку события жизненного цикла.
// Формируется движком и передаётся dispatcher'у через событие
// webhook.dispatch.
type WebhookDispatchRequest struct {
	// OrgID — организация, чьи webhooks получат событие.
	OrgID string `json:"orgId"`

	// EventType — тип события (flow.*, step.*).
	EventType string `json:"eventType"`

	// Payload — полезная нагрузка события.
	Payload map[string]any `json:"payload"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tool — внешний инструмент, к которому привязаны actions.
type Tool struct {
	// Name — имя инструмента (используется как ключ OAuth-токенов).
	Name string `json:"name"`

	// BaseURL — базовый URL API инструмента.
	BaseURL string `json:"baseUrl"`
}

// ActionDefinition — преднастроенный API-вызов из каталога actions.
//
// Шаг типа "action" ссылается на определение по actionId;
// шаг знает только входные данные, endpoint и метод приходят отсюда.
type ActionDefinition struct {
	// ID — идентификатор action.
	ID uuid.UUID `json:"id"`

	// OrgID — организация-владелец.
	OrgID string `json:"org_id"`

	// Name — имя action.
	Name string `json:"name"`

	// Tool — инструмент, которому принадлежит endpoint.
	Tool Tool `json:"tool"`

	// Endpoint — путь относительно Tool.BaseURL.
	Endpoint string `json:"endpoint"`

	// Method — HTTP-метод вызова.
	Method string `json:"method"`

	// Headers — дополнительные заголовки запроса.
	Headers map[string]string `json:"headers,omitempty"`

	// InputSchema — JSON-схема входных данных (информационно).
	InputSchema map[string]any `json:"input_schema,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

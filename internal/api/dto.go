package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
)

// Flow DTOs

// CreateFlowRequest — запрос на создание flow.
type CreateFlowRequest struct {
	Name     string        `json:"name"`
	Steps    []domain.Step `json:"steps"`
	IsActive bool          `json:"is_active"`
}

// UpdateFlowRequest — запрос на обновление flow.
type UpdateFlowRequest struct {
	Name     *string       `json:"name,omitempty"`
	Steps    []domain.Step `json:"steps,omitempty"`
	IsActive *bool         `json:"is_active,omitempty"`
}

// FlowResponse — ответ с flow.
type FlowResponse struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	Version   int           `json:"version"`
	Steps     []domain.Step `json:"steps"`
	IsActive  bool          `json:"is_active"`
	CreatedAt time.Time     `json:"created_at"`
}

// FlowFromDomain конвертирует domain.Flow в FlowResponse.
func FlowFromDomain(f domain.Flow) FlowResponse {
	return FlowResponse{
		ID:        f.ID,
		Name:      f.Name,
		Version:   f.Version,
		Steps:     f.Steps,
		IsActive:  f.IsActive,
		CreatedAt: f.CreatedAt,
	}
}

// Execution DTOs

// ExecuteFlowRequest — запрос на запуск flow.
//
// durable=true ставит запуск в очередь и сразу возвращает 202;
// иначе запуск выполняется синхронно в рамках HTTP-запроса.
type ExecuteFlowRequest struct {
	Variables map[string]any `json:"variables,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Durable   bool           `json:"durable,omitempty"`
}

// EnqueuedResponse — ответ на durable-запуск.
type EnqueuedResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

// ExecutionResponse — ответ с execution log.
type ExecutionResponse struct {
	ID         string         `json:"id"`
	FlowID     string         `json:"flow_id"`
	UserID     string         `json:"user_id,omitempty"`
	Status     string         `json:"status"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ExecutionFromDomain конвертирует domain.ExecutionLog в ExecutionResponse.
func ExecutionFromDomain(e domain.ExecutionLog) ExecutionResponse {
	return ExecutionResponse{
		ID:         e.ID,
		FlowID:     e.FlowID,
		UserID:     e.UserID,
		Status:     string(e.Status),
		Inputs:     e.Inputs,
		Outputs:    e.Outputs,
		Error:      e.Error,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
		CreatedAt:  e.CreatedAt,
	}
}

// StepLogResponse — ответ с записью шага.
type StepLogResponse struct {
	StepID     string    `json:"step_id"`
	StepName   string    `json:"step_name,omitempty"`
	State      string    `json:"state"`
	Output     any       `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StepLogFromDomain конвертирует domain.StepLog в StepLogResponse.
func StepLogFromDomain(s domain.StepLog) StepLogResponse {
	return StepLogResponse{
		StepID:     s.StepID,
		StepName:   s.StepName,
		State:      string(s.State),
		Output:     s.Output,
		Error:      s.Error,
		Attempt:    s.Attempt,
		DurationMs: s.DurationMs,
		UpdatedAt:  s.UpdatedAt,
	}
}

// Webhook DTOs

// CreateWebhookRequest — запрос на регистрацию webhook.
type CreateWebhookRequest struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret,omitempty"`
	EventTypes []string `json:"event_types"`
	Enabled    bool     `json:"enabled"`
}

// WebhookResponse — ответ с webhook. Секрет наружу не отдаётся.
type WebhookResponse struct {
	ID         uuid.UUID `json:"id"`
	URL        string    `json:"url"`
	HasSecret  bool      `json:"has_secret"`
	EventTypes []string  `json:"event_types"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// WebhookFromDomain конвертирует domain.WebhookRegistration в WebhookResponse.
func WebhookFromDomain(h domain.WebhookRegistration) WebhookResponse {
	return WebhookResponse{
		ID:         h.ID,
		URL:        h.URL,
		HasSecret:  h.Secret != "",
		EventTypes: h.EventTypes,
		Enabled:    h.Enabled,
		CreatedAt:  h.CreatedAt,
	}
}

// DispatchLogResponse — запись журнала доставок webhook.
type DispatchLogResponse struct {
	ID         uuid.UUID `json:"id"`
	EventType  string    `json:"event_type"`
	URL        string    `json:"url"`
	Status     string    `json:"status"`
	StatusCode *int      `json:"status_code,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	DeliveryID string    `json:"delivery_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// DispatchLogFromDomain конвертирует domain.WebhookDispatchLog.
func DispatchLogFromDomain(l domain.WebhookDispatchLog) DispatchLogResponse {
	return DispatchLogResponse{
		ID:         l.ID,
		EventType:  l.EventType,
		URL:        l.URL,
		Status:     l.Status,
		StatusCode: l.StatusCode,
		DurationMs: l.DurationMs,
		Error:      l.Error,
		DeliveryID: l.DeliveryID,
		CreatedAt:  l.CreatedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string         `json:"name,omitempty"`
	CronExpr    *string         `json:"cron_expr,omitempty"`
	IntervalSec *int            `json:"interval_sec,omitempty"`
	Timezone    *string         `json:"timezone,omitempty"`
	Variables   *map[string]any `json:"variables,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID              uuid.UUID      `json:"id"`
	FlowID          uuid.UUID      `json:"flow_id"`
	Name            string         `json:"name"`
	CronExpr        string         `json:"cron_expr,omitempty"`
	IntervalSec     int            `json:"interval_sec,omitempty"`
	Timezone        string         `json:"timezone"`
	Enabled         bool           `json:"enabled"`
	NextDueAt       *time.Time     `json:"next_due_at,omitempty"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	LastExecutionID string         `json:"last_execution_id,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:              s.ID,
		FlowID:          s.FlowID,
		Name:            s.Name,
		CronExpr:        s.CronExpr,
		IntervalSec:     s.IntervalSec,
		Timezone:        s.Timezone,
		Enabled:         s.Enabled,
		NextDueAt:       s.NextDueAt,
		LastRunAt:       s.LastRunAt,
		LastExecutionID: s.LastExecutionID,
		Variables:       s.Variables,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

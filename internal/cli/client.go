package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// FlowResponse — flow из API.
type FlowResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Version   int             `json:"version"`
	Steps     json.RawMessage `json:"steps"`
	IsActive  bool            `json:"is_active"`
	CreatedAt string          `json:"created_at"`
}

// ExecutionResponse — execution из API.
type ExecutionResponse struct {
	ID         string         `json:"id"`
	FlowID     string         `json:"flow_id"`
	UserID     string         `json:"user_id,omitempty"`
	Status     string         `json:"status"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  string         `json:"started_at,omitempty"`
	FinishedAt string         `json:"finished_at,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// EnqueuedResponse — ответ на durable-запуск.
type EnqueuedResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

// ExecutionResultResponse — итог синхронного запуска.
// Формат отличается от ExecutionResponse: это результат движка,
// а не запись execution log.
type ExecutionResultResponse struct {
	ExecutionID    string         `json:"executionId"`
	Status         string         `json:"status"`
	Outputs        map[string]any `json:"outputs,omitempty"`
	Error          string         `json:"error,omitempty"`
	TotalSteps     int            `json:"totalSteps"`
	CompletedSteps int            `json:"completedSteps"`
	FailedSteps    int            `json:"failedSteps"`
	SkippedSteps   int            `json:"skippedSteps"`
}

// StepLogResponse — запись шага из API.
type StepLogResponse struct {
	StepID     string `json:"step_id"`
	StepName   string `json:"step_name,omitempty"`
	State      string `json:"state"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

// WebhookResponse — webhook из API.
type WebhookResponse struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	HasSecret  bool     `json:"has_secret"`
	EventTypes []string `json:"event_types"`
	Enabled    bool     `json:"enabled"`
	CreatedAt  string   `json:"created_at"`
}

// DispatchLogResponse — запись журнала доставок из API.
type DispatchLogResponse struct {
	ID         string `json:"id"`
	EventType  string `json:"event_type"`
	URL        string `json:"url"`
	Status     string `json:"status"`
	StatusCode *int   `json:"status_code,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	DeliveryID string `json:"delivery_id"`
	CreatedAt  string `json:"created_at"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID              string         `json:"id"`
	FlowID          string         `json:"flow_id"`
	Name            string         `json:"name"`
	CronExpr        string         `json:"cron_expr,omitempty"`
	IntervalSec     int            `json:"interval_sec,omitempty"`
	Timezone        string         `json:"timezone"`
	Enabled         bool           `json:"enabled"`
	NextDueAt       string         `json:"next_due_at,omitempty"`
	LastRunAt       string         `json:"last_run_at,omitempty"`
	LastExecutionID string         `json:"last_execution_id,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

// --- Request types ---

// CreateFlowRequest — создание flow.
type CreateFlowRequest struct {
	Name     string          `json:"name"`
	Steps    json.RawMessage `json:"steps"`
	IsActive bool            `json:"is_active"`
}

// UpdateFlowRequest — обновление flow.
type UpdateFlowRequest struct {
	Name     *string         `json:"name,omitempty"`
	Steps    json.RawMessage `json:"steps,omitempty"`
	IsActive *bool           `json:"is_active,omitempty"`
}

// ExecuteFlowRequest — запуск flow.
type ExecuteFlowRequest struct {
	Variables map[string]any `json:"variables,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Durable   bool           `json:"durable,omitempty"`
}

// CreateWebhookRequest — регистрация webhook.
type CreateWebhookRequest struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret,omitempty"`
	EventTypes []string `json:"event_types"`
	Enabled    bool     `json:"enabled"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// ListExecutionsOpts — параметры фильтрации executions.
type ListExecutionsOpts struct {
	FlowID string
	Status string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Cascade API.
type Client struct {
	baseURL    string
	orgID      string
	httpClient *http.Client
}

// NewClient создаёт клиент для API. orgID передаётся
// в заголовке X-Org-ID каждого запроса.
func NewClient(baseURL, orgID string) *Client {
	return &Client{
		baseURL: baseURL,
		orgID:   orgID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Flows ---

// ListFlows возвращает все flows организации.
func (c *Client) ListFlows() ([]FlowResponse, error) {
	var flows []FlowResponse
	err := c.list("/api/v1/flows", nil, &flows)
	return flows, err
}

// CreateFlow создаёт новый flow.
func (c *Client) CreateFlow(req CreateFlowRequest) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.post("/api/v1/flows", req, &flow)
	return &flow, err
}

// GetFlow возвращает flow по ID.
func (c *Client) GetFlow(id string) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.get("/api/v1/flows/"+id, &flow)
	return &flow, err
}

// UpdateFlow обновляет flow.
func (c *Client) UpdateFlow(id string, req UpdateFlowRequest) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.put("/api/v1/flows/"+id, req, &flow)
	return &flow, err
}

// DeleteFlow удаляет flow.
func (c *Client) DeleteFlow(id string) error {
	return c.delete("/api/v1/flows/" + id)
}

// --- Executions ---

// ListExecutions возвращает список executions с фильтрацией.
func (c *Client) ListExecutions(opts ListExecutionsOpts) ([]ExecutionResponse, error) {
	params := url.Values{}
	if opts.FlowID != "" {
		params.Set("flow_id", opts.FlowID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var executions []ExecutionResponse
	err := c.list("/api/v1/executions", params, &executions)
	return executions, err
}

// ExecuteFlow запускает flow синхронно и возвращает итог запуска.
func (c *Client) ExecuteFlow(flowID string, req ExecuteFlowRequest) (*ExecutionResultResponse, error) {
	req.Durable = false
	var result ExecutionResultResponse
	err := c.post("/api/v1/flows/"+flowID+"/executions", req, &result)
	return &result, err
}

// EnqueueFlow ставит durable-запуск flow в очередь.
func (c *Client) EnqueueFlow(flowID string, req ExecuteFlowRequest) (*EnqueuedResponse, error) {
	req.Durable = true
	var enqueued EnqueuedResponse
	err := c.post("/api/v1/flows/"+flowID+"/executions", req, &enqueued)
	return &enqueued, err
}

// GetExecution возвращает execution по ID.
func (c *Client) GetExecution(id string) (*ExecutionResponse, error) {
	var execution ExecutionResponse
	err := c.get("/api/v1/executions/"+id, &execution)
	return &execution, err
}

// CancelExecution отменяет durable-запуск.
func (c *Client) CancelExecution(id string) (*ExecutionResponse, error) {
	var execution ExecutionResponse
	err := c.post("/api/v1/executions/"+id+"/cancel", nil, &execution)
	return &execution, err
}

// ListExecutionSteps возвращает записи шагов execution.
func (c *Client) ListExecutionSteps(executionID string) ([]StepLogResponse, error) {
	var steps []StepLogResponse
	err := c.list("/api/v1/executions/"+executionID+"/steps", nil, &steps)
	return steps, err
}

// --- Webhooks ---

// ListWebhooks возвращает webhooks организации.
func (c *Client) ListWebhooks() ([]WebhookResponse, error) {
	var webhooks []WebhookResponse
	err := c.list("/api/v1/webhooks", nil, &webhooks)
	return webhooks, err
}

// CreateWebhook регистрирует webhook.
func (c *Client) CreateWebhook(req CreateWebhookRequest) (*WebhookResponse, error) {
	var webhook WebhookResponse
	err := c.post("/api/v1/webhooks", req, &webhook)
	return &webhook, err
}

// GetWebhook возвращает webhook по ID.
func (c *Client) GetWebhook(id string) (*WebhookResponse, error) {
	var webhook WebhookResponse
	err := c.get("/api/v1/webhooks/"+id, &webhook)
	return &webhook, err
}

// SetWebhookEnabled включает или выключает webhook.
func (c *Client) SetWebhookEnabled(id string, enabled bool) (*WebhookResponse, error) {
	var webhook WebhookResponse
	body := map[string]bool{"enabled": enabled}
	err := c.put("/api/v1/webhooks/"+id+"/enabled", body, &webhook)
	return &webhook, err
}

// DeleteWebhook удаляет webhook.
func (c *Client) DeleteWebhook(id string) error {
	return c.delete("/api/v1/webhooks/" + id)
}

// ListWebhookDeliveries возвращает журнал доставок webhook.
func (c *Client) ListWebhookDeliveries(webhookID string, limit int) ([]DispatchLogResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var deliveries []DispatchLogResponse
	err := c.list("/api/v1/webhooks/"+webhookID+"/deliveries", params, &deliveries)
	return deliveries, err
}

// --- Schedules ---

// ListSchedules возвращает schedules организации.
func (c *Client) ListSchedules() ([]ScheduleResponse, error) {
	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", nil, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule для flow.
func (c *Client) CreateSchedule(flowID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/flows/"+flowID+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// SetScheduleEnabled включает или выключает schedule.
func (c *Client) SetScheduleEnabled(id string, enabled bool) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": enabled}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Org-ID", c.orgID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}

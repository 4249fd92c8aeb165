package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/executor"
)

// defaultTimeout — таймаут одного запроса к сервису.
// Синхронное выполнение кода может занимать десятки секунд.
const defaultTimeout = 60 * time.Second

// Client — клиент сервиса sandbox.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config — параметры клиента.
type Config struct {
	// BaseURL — адрес сервиса, например http://sandbox:8090.
	BaseURL string

	// APIKey — ключ авторизации, опционален.
	APIKey string

	// HTTPClient подменяется в тестах; nil — клиент по умолчанию.
	HTTPClient *http.Client
}

// NewClient создаёт клиент сервиса sandbox.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: hc,
	}
}

// executeRequest — тело запросов /execute/sync и /execute/async.
type executeRequest struct {
	Code    string         `json:"code"`
	Context map[string]any `json:"context,omitempty"`
}

type asyncStartResponse struct {
	SessionID string `json:"sessionId"`
}

// RunSync выполняет код и блокируется до результата.
func (c *Client) RunSync(ctx context.Context, code string, ec *domain.ExecutionContext) (*executor.SandboxResult, error) {
	var result executor.SandboxResult
	if err := c.post(ctx, "/execute/sync", executeRequest{Code: code, Context: runContext(ec)}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RunAsync запускает async-сессию и возвращает её идентификатор.
func (c *Client) RunAsync(ctx context.Context, code string, ec *domain.ExecutionContext) (string, error) {
	var resp asyncStartResponse
	if err := c.post(ctx, "/execute/async", executeRequest{Code: code, Context: runContext(ec)}, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("sandbox: empty sessionId in response")
	}
	return resp.SessionID, nil
}

// GetAsyncResult возвращает текущее состояние async-сессии.
func (c *Client) GetAsyncResult(ctx context.Context, sessionID string) (*executor.AsyncResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/execute/async/"+sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("sandbox: build request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox: get session result: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result executor.AsyncResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("sandbox: decode response: %w", err)
	}
	return &result, nil
}

// runContext собирает контекст выполнения для пользовательского кода.
func runContext(ec *domain.ExecutionContext) map[string]any {
	if ec == nil {
		return nil
	}
	return map[string]any{
		"variables":   ec.Variables,
		"stepOutputs": ec.StepOutputs,
		"orgId":       ec.OrgID,
		"userId":      ec.UserID,
		"executionId": ec.ExecutionID,
		"flowId":      ec.FlowID,
	}
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sandbox: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("sandbox: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("sandbox: decode response: %w", err)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("sandbox: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

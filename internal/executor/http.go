package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// Ключи конфигурации HTTP-шагов.
const (
	configMethod     = "method"
	configURL        = "url"
	configHeaders    = "headers"
	configBody       = "body"
	configQuery      = "query"
	configTimeoutSec = "timeoutSec"
)

// HTTPDoer — минимальный интерфейс HTTP-клиента.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPExecutor — шаги http_request и webhook.
//
// Конфигурация:
//
//	{
//	    "method": "POST",
//	    "url": "https://api.example.com/data",
//	    "query": {"limit": "10"},
//	    "headers": {"Authorization": "Bearer {{variables.token}}"},
//	    "body": {"items": "{{steps.fetch.body.items}}"},
//	    "timeoutSec": 30
//	}
//
// Output: {statusCode, headers, body}; body парсится как JSON с
// откатом к сырому тексту. Не-2xx ответ — падение шага с кодом
// HTTP_ERROR, сетевая ошибка — NETWORK_ERROR. Go error наружу не
// выходит ни в одном из этих случаев.
type HTTPExecutor struct {
	client HTTPDoer
}

// NewHTTPExecutor создаёт executor. Nil client — клиент по
// умолчанию с таймаутом 30s.
func NewHTTPExecutor(client HTTPDoer) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPExecutor{client: client}
}

// Execute выполняет HTTP-запрос из конфигурации шага.
func (e *HTTPExecutor) Execute(ctx context.Context, step *domain.Step, _ *domain.ExecutionContext) *domain.StepResult {
	target := ConfigString(step.Config, configURL)
	if target == "" {
		return domain.FailedResult(domain.ErrCodeValidation, "config.url is required")
	}

	if query := ConfigMapString(step.Config, configQuery); len(query) > 0 {
		withQuery, err := appendQuery(target, query)
		if err != nil {
			return domain.FailedResult(domain.ErrCodeValidation, err.Error())
		}
		target = withQuery
	}

	method := strings.ToUpper(ConfigString(step.Config, configMethod))
	if method == "" {
		method = http.MethodGet
	}

	return e.do(ctx, request{
		Method:     method,
		URL:        target,
		Headers:    ConfigMapString(step.Config, configHeaders),
		Body:       step.Config[configBody],
		TimeoutSec: ConfigInt(step.Config, configTimeoutSec),
	})
}

// appendQuery добавляет параметры из config.query к URL, сохраняя
// уже присутствующие в нём.
func appendQuery(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("config.url: %v", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// request — подготовленный HTTP-вызов.
// Используется также action- и oauth-executor'ами.
type request struct {
	Method     string
	URL        string
	Headers    map[string]string
	Body       any
	TimeoutSec int
}

// do выполняет вызов и сводит исход к StepResult.
func (e *HTTPExecutor) do(ctx context.Context, r request) *domain.StepResult {
	if r.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.TimeoutSec)*time.Second)
		defer cancel()
	}

	req, err := e.buildRequest(ctx, r)
	if err != nil {
		return domain.FailedResult(domain.ErrCodeValidation, err.Error())
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.FailedResult(domain.ErrCodeNetwork, err.Error())
	}
	defer resp.Body.Close()

	body, err := parseBody(resp)
	if err != nil {
		return domain.FailedResult(domain.ErrCodeNetwork, fmt.Sprintf("read response body: %v", err))
	}

	output := map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    flattenHeaders(resp.Header),
		"body":       body,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sr := domain.FailedResult(domain.ErrCodeHTTP,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status))
		// Тело ошибки сохраняется для диагностики.
		sr.Output = output
		return sr
	}
	return domain.SucceededResult(output)
}

func (e *HTTPExecutor) buildRequest(ctx context.Context, r request) (*http.Request, error) {
	headers := r.Headers
	if headers == nil {
		headers = make(map[string]string)
	}

	var bodyReader io.Reader
	if r.Body != nil {
		bodyBytes, err := serializeBody(r.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %v", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
		if _, has := headers["Content-Type"]; !has {
			headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// parseBody читает тело с лимитом размера и парсит JSON с откатом
// к сырому тексту.
func parseBody(resp *http.Response) (any, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") || looksLikeJSON(raw) {
		var body any
		if err := json.Unmarshal(raw, &body); err == nil {
			return body, nil
		}
	}
	return string(raw), nil
}

func looksLikeJSON(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

package executor

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shaiso/Cascade/internal/domain"
)

// Ключи конфигурации oauth_api_call шага.
const (
	configToolName = "toolName"
)

// TokenProvider — поставщик действующих OAuth-токенов.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context, toolName, orgID string) (string, error)
}

// OAuthExecutor — шаг oauth_api_call: HTTP-вызов с bearer-токеном.
//
// Конфигурация — как у http_request плюс "toolName" для выбора
// токена. Неудача получения токена — падение шага с кодом
// OAUTH_ERROR, не ошибка движка.
type OAuthExecutor struct {
	tokens TokenProvider
	http   *HTTPExecutor
}

// NewOAuthExecutor создаёт executor.
func NewOAuthExecutor(tokens TokenProvider, httpEx *HTTPExecutor) *OAuthExecutor {
	return &OAuthExecutor{tokens: tokens, http: httpEx}
}

// Execute выполняет oauth_api_call шаг.
func (e *OAuthExecutor) Execute(ctx context.Context, step *domain.Step, ec *domain.ExecutionContext) *domain.StepResult {
	toolName := ConfigString(step.Config, configToolName)
	if toolName == "" {
		return domain.FailedResult(domain.ErrCodeValidation, "config.toolName is required")
	}
	url := ConfigString(step.Config, configURL)
	if url == "" {
		return domain.FailedResult(domain.ErrCodeValidation, "config.url is required")
	}
	if e.tokens == nil {
		return domain.FailedResult(domain.ErrCodeOAuth, "token provider not configured")
	}

	token, err := e.tokens.GetValidAccessToken(ctx, toolName, ec.OrgID)
	if err != nil {
		return domain.FailedResult(domain.ErrCodeOAuth,
			fmt.Sprintf("get token %s: %v", toolName, err))
	}

	headers := ConfigMapString(step.Config, configHeaders)
	if headers == nil {
		headers = make(map[string]string)
	}
	headers["Authorization"] = "Bearer " + token

	method := strings.ToUpper(ConfigString(step.Config, configMethod))
	if method == "" {
		method = http.MethodGet
	}

	return e.http.do(ctx, request{
		Method:     method,
		URL:        url,
		Headers:    headers,
		Body:       step.Config[configBody],
		TimeoutSec: ConfigInt(step.Config, configTimeoutSec),
	})
}

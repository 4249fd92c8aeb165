package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Ошибки выдачи токена.
var (
	// ErrTokenNotFound — для пары (tool, org) нет сохранённого токена.
	ErrTokenNotFound = errors.New("oauth: token not found")

	// ErrTokenExpired — токен найден, но срок действия истёк.
	ErrTokenExpired = errors.New("oauth: token expired")
)

// expiryLeeway — запас до истечения: токен, живущий меньше этого,
// считается истёкшим, чтобы запрос не упал посреди выполнения.
const expiryLeeway = 30 * time.Second

// Token — сохранённый access-токен подключения.
type Token struct {
	ToolName    string
	OrgID       string
	AccessToken string
	ExpiresAt   time.Time
	UpdatedAt   time.Time
}

// Expired сообщает, истечёт ли токен в ближайшие expiryLeeway.
// Нулевой ExpiresAt означает токен без срока действия.
func (t *Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(expiryLeeway).Before(t.ExpiresAt)
}

// TokenStore — хранилище токенов.
type TokenStore interface {
	// GetToken возвращает токен пары (toolName, orgID);
	// (nil, nil) — токена нет.
	GetToken(ctx context.Context, toolName, orgID string) (*Token, error)
}

// Provider выдаёт действующие access-токены шагам.
type Provider struct {
	store TokenStore
	log   *slog.Logger
	now   func() time.Time
}

// NewProvider создаёт Provider поверх хранилища токенов.
func NewProvider(store TokenStore, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{store: store, log: log, now: time.Now}
}

// GetValidAccessToken возвращает действующий access-токен или ошибку,
// если токена нет либо он истёк. Обновление токенов не выполняется.
func (p *Provider) GetValidAccessToken(ctx context.Context, toolName, orgID string) (string, error) {
	token, err := p.store.GetToken(ctx, toolName, orgID)
	if err != nil {
		return "", fmt.Errorf("oauth: get token %s/%s: %w", toolName, orgID, err)
	}
	if token == nil {
		return "", fmt.Errorf("%w: %s/%s", ErrTokenNotFound, toolName, orgID)
	}
	if token.Expired(p.now()) {
		p.log.Warn("oauth token expired",
			"tool", toolName,
			"org_id", orgID,
			"expires_at", token.ExpiresAt,
		)
		return "", fmt.Errorf("%w: %s/%s", ErrTokenExpired, toolName, orgID)
	}
	return token.AccessToken, nil
}

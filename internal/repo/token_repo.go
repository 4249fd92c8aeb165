package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cascade/internal/oauth"
)

// TokenRepo — репозиторий oauth_tokens.
// Реализует oauth.TokenStore.
type TokenRepo struct {
	pool *pgxpool.Pool
}

// NewTokenRepo создаёт новый TokenRepo.
func NewTokenRepo(pool *pgxpool.Pool) *TokenRepo {
	return &TokenRepo{pool: pool}
}

// GetToken возвращает токен пары (toolName, orgID); (nil, nil) —
// токена нет.
func (r *TokenRepo) GetToken(ctx context.Context, toolName, orgID string) (*oauth.Token, error) {
	query := `
		SELECT tool_name, org_id, access_token, expires_at, updated_at
		FROM oauth_tokens
		WHERE tool_name = $1 AND org_id = $2
	`
	var token oauth.Token
	err := r.pool.QueryRow(ctx, query, toolName, orgID).Scan(
		&token.ToolName,
		&token.OrgID,
		&token.AccessToken,
		&token.ExpiresAt,
		&token.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth token: %w", err)
	}
	return &token, nil
}

// UpsertToken сохраняет токен, перезаписывая предыдущий для пары
// (tool_name, org_id). Вызывается сервисом подключений.
func (r *TokenRepo) UpsertToken(ctx context.Context, token *oauth.Token) error {
	query := `
		INSERT INTO oauth_tokens (tool_name, org_id, access_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (tool_name, org_id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()
	`
	_, err := r.pool.Exec(ctx, query,
		token.ToolName,
		token.OrgID,
		token.AccessToken,
		token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert oauth token: %w", err)
	}
	return nil
}

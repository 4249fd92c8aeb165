package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cascade/internal/domain"
)

// WebhookRepo — репозиторий webhook-регистраций и журнала доставок.
// Реализует webhook.Registry и webhook.DispatchLogStore.
type WebhookRepo struct {
	pool *pgxpool.Pool
}

// NewWebhookRepo создаёт новый WebhookRepo.
func NewWebhookRepo(pool *pgxpool.Pool) *WebhookRepo {
	return &WebhookRepo{pool: pool}
}

// --- Registrations ---

// Create регистрирует webhook.
func (r *WebhookRepo) Create(ctx context.Context, hook *domain.WebhookRegistration) error {
	query := `
		INSERT INTO webhooks (id, org_id, url, secret, event_types, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		hook.ID,
		hook.OrgID,
		hook.URL,
		nullString(hook.Secret),
		hook.EventTypes,
		hook.Enabled,
		hook.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

// GetByID возвращает webhook по ID в рамках организации.
func (r *WebhookRepo) GetByID(ctx context.Context, id uuid.UUID, orgID string) (*domain.WebhookRegistration, error) {
	query := `
		SELECT id, org_id, url, secret, event_types, enabled, created_at
		FROM webhooks
		WHERE id = $1 AND org_id = $2
	`
	return r.scanWebhook(r.pool.QueryRow(ctx, query, id, orgID))
}

// List возвращает webhooks организации.
func (r *WebhookRepo) List(ctx context.Context, orgID string) ([]domain.WebhookRegistration, error) {
	query := `
		SELECT id, org_id, url, secret, event_types, enabled, created_at
		FROM webhooks
		WHERE org_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []domain.WebhookRegistration
	for rows.Next() {
		hook, err := r.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, *hook)
	}
	return hooks, rows.Err()
}

// ListEnabled реализует webhook.Registry: включённые webhooks
// организации, подписанные на событие.
func (r *WebhookRepo) ListEnabled(ctx context.Context, orgID, eventType string) ([]domain.WebhookRegistration, error) {
	query := `
		SELECT id, org_id, url, secret, event_types, enabled, created_at
		FROM webhooks
		WHERE org_id = $1 AND enabled = true AND $2 = ANY(event_types)
	`
	rows, err := r.pool.Query(ctx, query, orgID, eventType)
	if err != nil {
		return nil, fmt.Errorf("list enabled webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []domain.WebhookRegistration
	for rows.Next() {
		hook, err := r.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, *hook)
	}
	return hooks, rows.Err()
}

// SetEnabled включает/выключает webhook.
func (r *WebhookRepo) SetEnabled(ctx context.Context, id uuid.UUID, orgID string, enabled bool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE webhooks SET enabled = $3 WHERE id = $1 AND org_id = $2
	`, id, orgID, enabled)
	if err != nil {
		return fmt.Errorf("set webhook enabled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет webhook.
func (r *WebhookRepo) Delete(ctx context.Context, id uuid.UUID, orgID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Dispatch logs ---

// CreateDispatchLog записывает финальный исход доставки. Append-only.
func (r *WebhookRepo) CreateDispatchLog(ctx context.Context, log *domain.WebhookDispatchLog) error {
	query := `
		INSERT INTO webhook_dispatch_logs (id, webhook_id, org_id, event_type, url,
		                                   status, status_code, duration_ms, error,
		                                   delivery_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`
	_, err := r.pool.Exec(ctx, query,
		log.ID,
		log.WebhookID,
		log.OrgID,
		log.EventType,
		log.URL,
		log.Status,
		log.StatusCode,
		log.DurationMs,
		nullString(log.Error),
		log.DeliveryID,
	)
	if err != nil {
		return fmt.Errorf("insert dispatch log: %w", err)
	}
	return nil
}

// ListDispatchLogs возвращает журнал доставок webhook, новые первыми.
func (r *WebhookRepo) ListDispatchLogs(ctx context.Context, webhookID uuid.UUID, limit int) ([]domain.WebhookDispatchLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, webhook_id, org_id, event_type, url, status,
		       status_code, duration_ms, error, delivery_id, created_at
		FROM webhook_dispatch_logs
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatch logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.WebhookDispatchLog
	for rows.Next() {
		var log domain.WebhookDispatchLog
		var errText *string

		if err := rows.Scan(
			&log.ID,
			&log.WebhookID,
			&log.OrgID,
			&log.EventType,
			&log.URL,
			&log.Status,
			&log.StatusCode,
			&log.DurationMs,
			&errText,
			&log.DeliveryID,
			&log.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dispatch log: %w", err)
		}
		if errText != nil {
			log.Error = *errText
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (r *WebhookRepo) scanWebhook(row pgx.Row) (*domain.WebhookRegistration, error) {
	var hook domain.WebhookRegistration
	var secret *string

	err := row.Scan(
		&hook.ID,
		&hook.OrgID,
		&hook.URL,
		&secret,
		&hook.EventTypes,
		&hook.Enabled,
		&hook.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan webhook: %w", err)
	}

	if secret != nil {
		hook.Secret = *secret
	}
	return &hook, nil
}

package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cascade/internal/domain"
)

// ActionRepo — репозиторий каталога actions.
// Реализует executor.ActionRegistry.
type ActionRepo struct {
	pool *pgxpool.Pool
}

// NewActionRepo создаёт новый ActionRepo.
func NewActionRepo(pool *pgxpool.Pool) *ActionRepo {
	return &ActionRepo{pool: pool}
}

// GetAction возвращает определение action по ID в рамках организации.
func (r *ActionRepo) GetAction(ctx context.Context, actionID, orgID string) (*domain.ActionDefinition, error) {
	id, err := uuid.Parse(actionID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid actionId %q", ErrNotFound, actionID)
	}

	query := `
		SELECT id, org_id, name, tool_name, tool_base_url, endpoint,
		       method, headers, input_schema, created_at
		FROM actions
		WHERE id = $1 AND org_id = $2
	`
	var action domain.ActionDefinition
	var headersJSON, schemaJSON []byte

	err = r.pool.QueryRow(ctx, query, id, orgID).Scan(
		&action.ID,
		&action.OrgID,
		&action.Name,
		&action.Tool.Name,
		&action.Tool.BaseURL,
		&action.Endpoint,
		&action.Method,
		&headersJSON,
		&schemaJSON,
		&action.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}

	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &action.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal action headers: %w", err)
		}
	}
	if len(schemaJSON) > 0 {
		if err := json.Unmarshal(schemaJSON, &action.InputSchema); err != nil {
			return nil, fmt.Errorf("unmarshal input schema: %w", err)
		}
	}
	return &action, nil
}

// List возвращает actions организации.
func (r *ActionRepo) List(ctx context.Context, orgID string) ([]domain.ActionDefinition, error) {
	query := `
		SELECT id, org_id, name, tool_name, tool_base_url, endpoint,
		       method, headers, input_schema, created_at
		FROM actions
		WHERE org_id = $1
		ORDER BY name ASC
	`
	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.ActionDefinition
	for rows.Next() {
		var action domain.ActionDefinition
		var headersJSON, schemaJSON []byte

		if err := rows.Scan(
			&action.ID,
			&action.OrgID,
			&action.Name,
			&action.Tool.Name,
			&action.Tool.BaseURL,
			&action.Endpoint,
			&action.Method,
			&headersJSON,
			&schemaJSON,
			&action.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}

		if len(headersJSON) > 0 {
			if err := json.Unmarshal(headersJSON, &action.Headers); err != nil {
				return nil, fmt.Errorf("unmarshal action headers: %w", err)
			}
		}
		if len(schemaJSON) > 0 {
			if err := json.Unmarshal(schemaJSON, &action.InputSchema); err != nil {
				return nil, fmt.Errorf("unmarshal input schema: %w", err)
			}
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

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
	"github.com/shaiso/Cascade/internal/engine"
)

// FlowRepo — репозиторий для работы с flows.
//
// Шаги хранятся в JSONB-колонке steps в том виде, в каком их
// прислал клиент. Неизвестные типы шагов при чтении не отбрасываются.
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// Create создаёт новый flow.
func (r *FlowRepo) Create(ctx context.Context, flow *domain.Flow) error {
	stepsJSON, err := json.Marshal(flow.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	query := `
		INSERT INTO flows (id, org_id, name, version, steps, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		flow.ID,
		flow.OrgID,
		flow.Name,
		flow.Version,
		stepsJSON,
		flow.IsActive,
		flow.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

// GetByID возвращает flow по ID в рамках организации.
func (r *FlowRepo) GetByID(ctx context.Context, id uuid.UUID, orgID string) (*domain.Flow, error) {
	query := `
		SELECT id, org_id, name, version, steps, is_active, created_at
		FROM flows
		WHERE id = $1 AND org_id = $2
	`
	return r.scanFlow(r.pool.QueryRow(ctx, query, id, orgID))
}

// GetFlow реализует engine.FlowStore: (nil, nil) — flow не найден
// либо принадлежит другой организации.
func (r *FlowRepo) GetFlow(ctx context.Context, flowID, orgID string) (*domain.Flow, error) {
	id, err := uuid.Parse(flowID)
	if err != nil {
		return nil, nil
	}
	flow, err := r.GetByID(ctx, id, orgID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return flow, err
}

// List возвращает flows организации.
func (r *FlowRepo) List(ctx context.Context, orgID string) ([]domain.Flow, error) {
	query := `
		SELECT id, org_id, name, version, steps, is_active, created_at
		FROM flows
		WHERE org_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.Flow
	for rows.Next() {
		flow, err := r.scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *flow)
	}
	return flows, rows.Err()
}

// Update обновляет flow и инкрементирует версию.
func (r *FlowRepo) Update(ctx context.Context, flow *domain.Flow) error {
	stepsJSON, err := json.Marshal(flow.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	query := `
		UPDATE flows
		SET name = $3, steps = $4, is_active = $5, version = version + 1
		WHERE id = $1 AND org_id = $2
	`
	result, err := r.pool.Exec(ctx, query,
		flow.ID,
		flow.OrgID,
		flow.Name,
		stepsJSON,
		flow.IsActive,
	)
	if err != nil {
		return fmt.Errorf("update flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет flow.
func (r *FlowRepo) Delete(ctx context.Context, id uuid.UUID, orgID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM flows WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *FlowRepo) scanFlow(row pgx.Row) (*domain.Flow, error) {
	var flow domain.Flow
	var stepsJSON []byte

	err := row.Scan(
		&flow.ID,
		&flow.OrgID,
		&flow.Name,
		&flow.Version,
		&stepsJSON,
		&flow.IsActive,
		&flow.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan flow: %w", err)
	}

	if len(stepsJSON) > 0 {
		steps, err := engine.ParseSteps(stepsJSON)
		if err != nil {
			return nil, fmt.Errorf("parse steps: %w", err)
		}
		flow.Steps = steps
	}
	return &flow, nil
}

package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cascade/internal/domain"
)

// ExecutionRepo — репозиторий execution_logs и step_logs.
// Реализует engine.ExecutionLogStore.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// CreateExecution создаёт запись о запуске.
func (r *ExecutionRepo) CreateExecution(ctx context.Context, log *domain.ExecutionLog) error {
	inputsJSON, err := json.Marshal(log.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	query := `
		INSERT INTO execution_logs (id, flow_id, org_id, user_id, status,
		                            inputs, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		log.ID,
		log.FlowID,
		log.OrgID,
		log.UserID,
		log.Status,
		inputsJSON,
		log.StartedAt,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution log: %w", err)
	}
	return nil
}

// GetExecution возвращает запись о запуске.
func (r *ExecutionRepo) GetExecution(ctx context.Context, executionID string) (*domain.ExecutionLog, error) {
	query := `
		SELECT id, flow_id, org_id, user_id, status, inputs, outputs,
		       error, started_at, finished_at, created_at
		FROM execution_logs
		WHERE id = $1
	`
	return r.scanExecution(r.pool.QueryRow(ctx, query, executionID))
}

// UpdateExecution записывает терминальное (или промежуточное) состояние.
func (r *ExecutionRepo) UpdateExecution(ctx context.Context, log *domain.ExecutionLog) error {
	outputsJSON, err := json.Marshal(log.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}

	query := `
		UPDATE execution_logs
		SET status = $2, outputs = $3, error = $4,
		    started_at = $5, finished_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		log.ID,
		log.Status,
		outputsJSON,
		nullString(log.Error),
		log.StartedAt,
		log.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update execution log: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TryMarkRunning атомарно переводит queued → running.
// false без ошибки означает, что запуск уже не в queued:
// повторная доставка события или гонка двух консьюмеров.
func (r *ExecutionRepo) TryMarkRunning(ctx context.Context, executionID string) (bool, error) {
	query := `
		UPDATE execution_logs
		SET status = $2, started_at = NOW()
		WHERE id = $1 AND status = $3
	`
	result, err := r.pool.Exec(ctx, query,
		executionID,
		domain.ExecutionStatusRunning,
		domain.ExecutionStatusQueued,
	)
	if err != nil {
		return false, fmt.Errorf("mark execution running: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListExecutions возвращает запуски организации, новые первыми.
func (r *ExecutionRepo) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]domain.ExecutionLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, flow_id, org_id, user_id, status, inputs, outputs,
		       error, started_at, finished_at, created_at
		FROM execution_logs
		WHERE org_id = $1
		  AND ($2::text IS NULL OR flow_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query,
		filter.OrgID,
		nullString(filter.FlowID),
		nullString(filter.Status),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.ExecutionLog
	for rows.Next() {
		log, err := r.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}

// --- Step logs ---

// UpsertStepLog записывает состояние шага.
// Идемпотентна по (execution_id, step_id): повторная доставка
// события выполнения перезаписывает строку.
func (r *ExecutionRepo) UpsertStepLog(ctx context.Context, log *domain.StepLog) error {
	outputJSON, err := json.Marshal(log.Output)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}

	query := `
		INSERT INTO step_logs (execution_id, step_id, step_name, state,
		                       output, error, attempt, duration_ms, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (execution_id, step_id) DO UPDATE
		SET state = EXCLUDED.state,
		    step_name = EXCLUDED.step_name,
		    output = EXCLUDED.output,
		    error = EXCLUDED.error,
		    attempt = EXCLUDED.attempt,
		    duration_ms = EXCLUDED.duration_ms,
		    updated_at = NOW()
	`
	_, err = r.pool.Exec(ctx, query,
		log.ExecutionID,
		log.StepID,
		nullString(log.StepName),
		log.State,
		outputJSON,
		nullString(log.Error),
		log.Attempt,
		log.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("upsert step log: %w", err)
	}
	return nil
}

// ListStepLogs возвращает записи шагов запуска.
func (r *ExecutionRepo) ListStepLogs(ctx context.Context, executionID string) ([]domain.StepLog, error) {
	query := `
		SELECT execution_id, step_id, step_name, state, output,
		       error, attempt, duration_ms, updated_at
		FROM step_logs
		WHERE execution_id = $1
		ORDER BY updated_at ASC
	`
	rows, err := r.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("list step logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.StepLog
	for rows.Next() {
		var log domain.StepLog
		var stepName, errText *string
		var outputJSON []byte

		if err := rows.Scan(
			&log.ExecutionID,
			&log.StepID,
			&stepName,
			&log.State,
			&outputJSON,
			&errText,
			&log.Attempt,
			&log.DurationMs,
			&log.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step log: %w", err)
		}

		if stepName != nil {
			log.StepName = *stepName
		}
		if errText != nil {
			log.Error = *errText
		}
		if len(outputJSON) > 0 {
			if err := json.Unmarshal(outputJSON, &log.Output); err != nil {
				return nil, fmt.Errorf("unmarshal step output: %w", err)
			}
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// --- Helpers ---

// ExecutionFilter — параметры фильтрации запусков.
type ExecutionFilter struct {
	OrgID  string
	FlowID string
	Status string
	Limit  int
	Offset int
}

func (r *ExecutionRepo) scanExecution(row pgx.Row) (*domain.ExecutionLog, error) {
	var log domain.ExecutionLog
	var errText *string
	var inputsJSON, outputsJSON []byte

	err := row.Scan(
		&log.ID,
		&log.FlowID,
		&log.OrgID,
		&log.UserID,
		&log.Status,
		&inputsJSON,
		&outputsJSON,
		&errText,
		&log.StartedAt,
		&log.FinishedAt,
		&log.CreatedAt,
	)
	// Отсутствие записи для движка не ошибка: nil, nil.
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution log: %w", err)
	}

	if errText != nil {
		log.Error = *errText
	}
	if len(inputsJSON) > 0 {
		if err := json.Unmarshal(inputsJSON, &log.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if len(outputsJSON) > 0 {
		if err := json.Unmarshal(outputsJSON, &log.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	return &log, nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

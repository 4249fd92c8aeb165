package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/engine"
	"github.com/shaiso/Cascade/internal/repo"
)

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	scheduleRepo *repo.ScheduleRepo
	flowRepo     *repo.FlowRepo
	durable      *engine.DurableEngine
	logger       *slog.Logger
	batchSize    int
}

// Config — конфигурация Scheduler.
type Config struct {
	ScheduleRepo *repo.ScheduleRepo
	FlowRepo     *repo.FlowRepo

	// Durable — движок, ставящий запуски в очередь.
	Durable *engine.DurableEngine

	Logger    *slog.Logger
	BatchSize int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Scheduler{
		scheduleRepo: cfg.ScheduleRepo,
		flowRepo:     cfg.FlowRepo,
		durable:      cfg.Durable,
		logger:       cfg.Logger,
		batchSize:    batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого ставит durable-запуск в очередь
// 3. Обновляет next_due_at
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	schedules, err := s.scheduleRepo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, enqueued int
	for i := range schedules {
		sched := &schedules[i]

		created, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}

		processed++
		if created {
			enqueued++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"executions_enqueued", enqueued,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если запуск был поставлен в очередь.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	// 1. Проверяем flow: удалённый или неактивный не запускается,
	// но next_due_at продвигается, чтобы schedule не зависал в due.
	flow, err := s.flowRepo.GetByID(ctx, sched.FlowID, sched.OrgID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("get flow: %w", err)
	}

	runnable := flow != nil && flow.IsActive
	if !runnable {
		s.logger.Warn("flow missing or inactive, skipping run",
			"schedule_id", sched.ID,
			"flow_id", sched.FlowID,
		)
	}

	// 2. Ставим запуск в очередь.
	var executionID string
	if runnable {
		executionID, err = s.durable.Enqueue(ctx, sched.FlowID.String(), sched.OrgID, "scheduler", sched.Variables)
		if err != nil {
			return false, fmt.Errorf("enqueue execution: %w", err)
		}

		s.logger.Info("enqueued execution from schedule",
			"execution_id", executionID,
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
			"flow_id", sched.FlowID,
		)
	}

	// 3. Вычисляем следующее время выполнения.
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.logger.Error("failed to calculate next due",
			"schedule_id", sched.ID,
			"error", err,
		)
		// Schedule некорректный — next_due_at не трогаем
		return executionID != "", nil
	}

	// 4. Обновляем schedule. Если запись не удалась, следующий тик
	// может продублировать запуск: расписания работают at-least-once.
	sched.RecordRun(executionID, nextDue)
	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return executionID != "", fmt.Errorf("update schedule: %w", err)
	}

	return executionID != "", nil
}

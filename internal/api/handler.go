package api

import (
	"log/slog"

	"github.com/shaiso/Cascade/internal/engine"
	"github.com/shaiso/Cascade/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	flowRepo      *repo.FlowRepo
	executionRepo *repo.ExecutionRepo
	webhookRepo   *repo.WebhookRepo
	scheduleRepo  *repo.ScheduleRepo
	engine        *engine.Engine
	durable       *engine.DurableEngine
	logger        *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	FlowRepo      *repo.FlowRepo
	ExecutionRepo *repo.ExecutionRepo
	WebhookRepo   *repo.WebhookRepo
	ScheduleRepo  *repo.ScheduleRepo

	// Engine — синхронный движок для direct-запусков.
	Engine *engine.Engine

	// Durable — движок постановки durable-запусков в очередь.
	Durable *engine.DurableEngine

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		flowRepo:      cfg.FlowRepo,
		executionRepo: cfg.ExecutionRepo,
		webhookRepo:   cfg.WebhookRepo,
		scheduleRepo:  cfg.ScheduleRepo,
		engine:        cfg.Engine,
		durable:       cfg.Durable,
		logger:        cfg.Logger,
	}
}

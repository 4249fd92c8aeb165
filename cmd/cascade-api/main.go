// Cascade API — HTTP-сервер управления flows, executions,
// webhooks и schedules.
//
// Direct запуски выполняются прямо в обработчике запроса;
// durable запуски ставятся в очередь RabbitMQ и выполняются
// cascade-engine.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/Cascade/internal/api"
	"github.com/shaiso/Cascade/internal/engine"
	"github.com/shaiso/Cascade/internal/eval"
	"github.com/shaiso/Cascade/internal/executor"
	"github.com/shaiso/Cascade/internal/mq"
	"github.com/shaiso/Cascade/internal/oauth"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/sandbox"
	"github.com/shaiso/Cascade/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting cascade-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Создаём репозитории
	flowRepo := repo.NewFlowRepo(pool)
	executionRepo := repo.NewExecutionRepo(pool)
	webhookRepo := repo.NewWebhookRepo(pool)
	scheduleRepo := repo.NewScheduleRepo(pool)
	actionRepo := repo.NewActionRepo(pool)
	tokenRepo := repo.NewTokenRepo(pool)

	// RabbitMQ: без него работает только direct режим.
	var publisher *mq.Publisher
	mqURL := mq.URLFromEnv()
	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, durable executions disabled", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Метрики
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	// Sandbox для transform/code шагов
	var sandboxRuntime executor.SandboxRuntime
	if baseURL := os.Getenv("SANDBOX_URL"); baseURL != "" {
		sandboxRuntime = sandbox.NewClient(sandbox.Config{
			BaseURL: baseURL,
			APIKey:  os.Getenv("SANDBOX_API_KEY"),
		})
	}

	evaluator := eval.New()
	runner := executor.NewRunner(executor.DefaultRegistry(executor.RegistryConfig{
		Actions:        actionRepo,
		Tokens:         oauth.NewProvider(tokenRepo, logger),
		Sandbox:        sandboxRuntime,
		LocalEval:      evaluator,
		AllowLocalEval: os.Getenv("ALLOW_LOCAL_EVAL") == "true",
		Logger:         logger,
	}), logger)

	resolver := engine.NewTemplateResolver()
	gate := engine.NewConditionGate(resolver, evaluator, logger)

	engineCfg := engine.Config{
		Flows:      flowRepo,
		Executions: executionRepo,
		Runner:     runner,
		Gate:       gate,
		Resolver:   resolver,
		Metrics:    metrics,
		Logger:     logger,
	}
	if publisher != nil {
		engineCfg.Bus = publisher
		engineCfg.Progress = publisher
	}

	directEngine := engine.New(engineCfg)
	var durableEngine *engine.DurableEngine
	if publisher != nil {
		durableEngine = engine.NewDurable(engineCfg)
	}

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		FlowRepo:      flowRepo,
		ExecutionRepo: executionRepo,
		WebhookRepo:   webhookRepo,
		ScheduleRepo:  scheduleRepo,
		Engine:        directEngine,
		Durable:       durableEngine,
		Logger:        logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", telemetry.Handler(registry))

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}

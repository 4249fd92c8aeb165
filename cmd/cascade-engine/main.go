// Cascade Engine — durable-исполнитель flows.
//
// Engine:
//   - Потребляет события flow.execute из RabbitMQ
//   - Доводит executions до терминального состояния
//   - Переживает повторные доставки и падения процесса:
//     состояние восстанавливается из step logs
//
// Экземпляры масштабируются горизонтально.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/Cascade/internal/engine"
	"github.com/shaiso/Cascade/internal/eval"
	"github.com/shaiso/Cascade/internal/executor"
	"github.com/shaiso/Cascade/internal/mq"
	"github.com/shaiso/Cascade/internal/oauth"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/sandbox"
	"github.com/shaiso/Cascade/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting cascade-engine")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	flowRepo := repo.NewFlowRepo(pool)
	executionRepo := repo.NewExecutionRepo(pool)
	actionRepo := repo.NewActionRepo(pool)
	tokenRepo := repo.NewTokenRepo(pool)

	// RabbitMQ обязателен: без очереди durable-исполнителю нечего делать.
	mqURL := mq.URLFromEnv()
	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	publisher := mq.NewPublisher(mqConn, logger)

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
	durable := engine.NewDurable(engine.Config{
		Flows:      flowRepo,
		Executions: executionRepo,
		Bus:        publisher,
		Progress:   publisher,
		Runner:     runner,
		Gate:       engine.NewConditionGate(resolver, evaluator, logger),
		Resolver:   resolver,
		Metrics:    metrics,
		Logger:     logger,
	})

	prefetch := 1
	if v := os.Getenv("ENGINE_PREFETCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			prefetch = n
		}
	}

	consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
		Queue:    mq.QueueFlowsExecute,
		Prefetch: prefetch,
		Handler: func(ctx context.Context, d *mq.Delivery) error {
			req, err := mq.ParsePayload[engine.ExecuteRequest](&d.Message)
			if err != nil {
				// Повтор не поможет: payload не станет корректным.
				logger.Error("invalid flow.execute payload",
					"message_id", d.Message.ID, "error", err)
				d.Nack(false)
				return nil
			}
			return durable.HandleExecute(ctx, &req)
		},
	})

	// Start блокируется до остановки: запускаем в горутине.
	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("consumer stopped", "error", err)
			cancel()
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", telemetry.Handler(registry))

	port := ":8082"
	if v := os.Getenv("ENGINE_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	consumer.Stop()
	logger.Info("cascade-engine stopped")
}

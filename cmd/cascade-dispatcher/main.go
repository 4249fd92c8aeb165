// Cascade Dispatcher — доставляет события webhooks.
//
// Dispatcher:
//   - Потребляет события webhook.dispatch из RabbitMQ
//   - Разворачивает каждое в доставки по подписанным webhooks
//   - Подписывает конверт HMAC-SHA256 при наличии секрета
//   - Пишет исход каждой доставки в журнал
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

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/mq"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/telemetry"
	"github.com/shaiso/Cascade/internal/webhook"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting cascade-dispatcher")

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

	webhookRepo := repo.NewWebhookRepo(pool)

	// RabbitMQ
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

	// Метрики
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	dispatcher := webhook.NewDispatcher(webhook.DispatcherConfig{
		Registry: webhookRepo,
		Logs:     webhookRepo,
		Metrics:  metrics,
		Logger:   logger,
	})

	prefetch := 10
	if v := os.Getenv("DISPATCHER_PREFETCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			prefetch = n
		}
	}

	consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
		Queue:    mq.QueueWebhooksDispatch,
		Prefetch: prefetch,
		Handler: func(ctx context.Context, d *mq.Delivery) error {
			req, err := mq.ParsePayload[domain.WebhookDispatchRequest](&d.Message)
			if err != nil {
				// Повтор не поможет: payload не станет корректным.
				logger.Error("invalid webhook.dispatch payload",
					"message_id", d.Message.ID, "error", err)
				d.Nack(false)
				return nil
			}
			_, err = dispatcher.Dispatch(ctx, &req)
			return err
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

	port := ":8083"
	if v := os.Getenv("DISPATCHER_PORT"); v != "" {
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
	logger.Info("cascade-dispatcher stopped")
}

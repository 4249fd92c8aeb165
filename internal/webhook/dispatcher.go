package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/telemetry"
)

const (
	// deliveryTimeout — таймаут одной POST-доставки.
	deliveryTimeout = 30 * time.Second

	// maxRedirects — максимум редиректов при доставке.
	maxRedirects = 3

	// maxDeliveryAttempts — всего попыток при сетевых ошибках.
	maxDeliveryAttempts = 5

	// initialRetryDelay — начальная задержка exponential backoff.
	initialRetryDelay = time.Second
)

// Registry — читающий доступ к регистрациям webhooks.
type Registry interface {
	ListEnabled(ctx context.Context, orgID, eventType string) ([]domain.WebhookRegistration, error)
}

// DispatchLogStore — append-only журнал исходов доставок.
type DispatchLogStore interface {
	CreateDispatchLog(ctx context.Context, log *domain.WebhookDispatchLog) error
}

// Envelope — тело POST-запроса доставки.
type Envelope struct {
	EventType string           `json:"eventType"`
	Timestamp int64            `json:"timestamp"`
	Data      map[string]any   `json:"data"`
	Metadata  EnvelopeMetadata `json:"metadata"`
}

// EnvelopeMetadata — служебные поля конверта.
type EnvelopeMetadata struct {
	OrgID      string `json:"orgId"`
	WebhookID  string `json:"webhookId"`
	DeliveryID string `json:"deliveryId"`
}

// Dispatcher разворачивает dispatch-запрос в доставки по всем
// подписанным webhook'ам организации.
//
// Любой HTTP-ответ, включая 4xx/5xx, считается завершённой
// попыткой и фиксируется с кодом ответа. Сетевая ошибка
// повторяется до maxDeliveryAttempts раз с exponential backoff и
// фиксируется с пустым кодом. На каждый webhook пишется ровно одна
// запись журнала на dispatch-запрос.
type Dispatcher struct {
	registry Registry
	logs     DispatchLogStore
	client   *http.Client
	metrics  *telemetry.Metrics
	log      *slog.Logger
}

// DispatcherConfig — зависимости Dispatcher.
type DispatcherConfig struct {
	Registry Registry
	Logs     DispatchLogStore

	// Client — HTTP-клиент доставки. Nil — клиент по умолчанию
	// с таймаутом 30s и лимитом редиректов.
	Client *http.Client

	// Metrics — счётчики доставок. Nil отключает запись.
	Metrics *telemetry.Metrics

	Logger *slog.Logger
}

// NewDispatcher создаёт Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: deliveryTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (%d)", maxRedirects)
				}
				return nil
			},
		}
	}
	return &Dispatcher{
		registry: cfg.Registry,
		logs:     cfg.Logs,
		client:   client,
		metrics:  cfg.Metrics,
		log:      log,
	}
}

// Dispatch доставляет событие всем подписанным webhook'ам.
// Возвращает количество выполненных доставок.
func (d *Dispatcher) Dispatch(ctx context.Context, req *domain.WebhookDispatchRequest) (int, error) {
	hooks, err := d.registry.ListEnabled(ctx, req.OrgID, req.EventType)
	if err != nil {
		return 0, fmt.Errorf("list webhook registrations: %w", err)
	}
	if len(hooks) == 0 {
		return 0, nil
	}

	dispatched := 0
	for i := range hooks {
		// Доставки независимы: падение одной не мешает остальным.
		d.deliver(ctx, &hooks[i], req.EventType, req.Payload)
		dispatched++
	}

	d.log.Info("event dispatched",
		"org_id", req.OrgID,
		"event_type", req.EventType,
		"dispatched", dispatched,
	)
	return dispatched, nil
}

// deliver выполняет одну доставку и пишет терминальный исход.
func (d *Dispatcher) deliver(ctx context.Context, hook *domain.WebhookRegistration, eventType string, payload map[string]any) {
	deliveryID := GenerateDeliveryID()
	timestamp := time.Now().UnixMilli()

	env := Envelope{
		EventType: eventType,
		Timestamp: timestamp,
		Data:      payload,
		Metadata: EnvelopeMetadata{
			OrgID:      hook.OrgID,
			WebhookID:  hook.ID.String(),
			DeliveryID: deliveryID,
		},
	}

	entry := &domain.WebhookDispatchLog{
		ID:         uuid.New(),
		WebhookID:  hook.ID,
		OrgID:      hook.OrgID,
		EventType:  eventType,
		URL:        hook.URL,
		DeliveryID: deliveryID,
		CreatedAt:  time.Now(),
	}

	start := time.Now()
	statusCode, err := d.post(ctx, hook, &env)
	entry.DurationMs = time.Since(start).Milliseconds()

	switch {
	case err != nil:
		// Сетевая ошибка после всех попыток: код ответа отсутствует.
		entry.Status = domain.DispatchStatusFailure
		entry.Error = err.Error()
		d.log.Warn("webhook delivery failed",
			"webhook_id", hook.ID,
			"delivery_id", deliveryID,
			"url", hook.URL,
			"error", err,
		)
	case statusCode >= 200 && statusCode < 300:
		entry.Status = domain.DispatchStatusSuccess
		entry.StatusCode = &statusCode
	default:
		// HTTP-ответ получен: попытка завершена, не повторяется.
		entry.Status = domain.DispatchStatusFailure
		entry.StatusCode = &statusCode
		entry.Error = fmt.Sprintf("HTTP %d", statusCode)
	}

	if d.metrics != nil {
		d.metrics.WebhookDeliveries.WithLabelValues(entry.Status).Inc()
		d.metrics.WebhookDuration.Observe(float64(entry.DurationMs) / 1000)
	}

	if logErr := d.logs.CreateDispatchLog(ctx, entry); logErr != nil {
		d.log.Error("failed to write dispatch log",
			"delivery_id", deliveryID,
			"error", logErr,
		)
	}
}

// post выполняет POST с повторами при сетевых ошибках.
// Любой HTTP-ответ терминален и повтора не вызывает.
func (d *Dispatcher) post(ctx context.Context, hook *domain.WebhookRegistration, env *Envelope) (int, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}

	var signature string
	if hook.Secret != "" {
		signature, err = Sign(hook.Secret, env.Timestamp, env.Data)
		if err != nil {
			return 0, err
		}
	}

	var statusCode int
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderEvent, env.EventType)
		req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", env.Timestamp))
		req.Header.Set(HeaderDelivery, env.Metadata.DeliveryID)
		if signature != "" {
			req.Header.Set(HeaderSignature, signature)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		statusCode = resp.StatusCode
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.RandomizationFactor = 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, maxDeliveryAttempts-1), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return 0, err
	}
	return statusCode, nil
}

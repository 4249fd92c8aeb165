package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
)

type fakeRegistry struct {
	hooks []domain.WebhookRegistration
}

func (f *fakeRegistry) ListEnabled(_ context.Context, orgID, eventType string) ([]domain.WebhookRegistration, error) {
	var out []domain.WebhookRegistration
	for _, h := range f.hooks {
		if h.OrgID == orgID && h.Enabled && h.SubscribedTo(eventType) {
			out = append(out, h)
		}
	}
	return out, nil
}

type fakeLogStore struct {
	mu      sync.Mutex
	entries []domain.WebhookDispatchLog
}

func (f *fakeLogStore) CreateDispatchLog(_ context.Context, log *domain.WebhookDispatchLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *log)
	return nil
}

func testDispatcher(registry Registry, logs DispatchLogStore) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Registry: registry,
		Logs:     logs,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func registration(url, secret string, events ...string) domain.WebhookRegistration {
	return domain.WebhookRegistration{
		ID:         uuid.New(),
		OrgID:      "org-1",
		URL:        url,
		Secret:     secret,
		EventTypes: events,
		Enabled:    true,
	}
}

func TestDispatch_SignedDelivery(t *testing.T) {
	// Сценарий: webhook с секретом получает POST с подписью,
	// проверяемой по заголовкам; 200 фиксируется как success.
	var gotHeaders http.Header
	var gotEnv Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotEnv)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := registration(srv.URL, "s3cret", domain.EventStepCompleted)
	logs := &fakeLogStore{}
	d := testDispatcher(&fakeRegistry{hooks: []domain.WebhookRegistration{hook}}, logs)

	payload := map[string]any{"executionId": "e1", "stepId": "s1"}
	n, err := d.Dispatch(context.Background(), &domain.WebhookDispatchRequest{
		OrgID:     "org-1",
		EventType: domain.EventStepCompleted,
		Payload:   payload,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 dispatched, got %d", n)
	}

	// Заголовки доставки.
	if gotHeaders.Get(HeaderEvent) != domain.EventStepCompleted {
		t.Errorf("unexpected event header: %s", gotHeaders.Get(HeaderEvent))
	}
	if gotHeaders.Get(HeaderDelivery) == "" {
		t.Error("delivery header must be set")
	}
	sig := gotHeaders.Get(HeaderSignature)
	if sig == "" {
		t.Fatal("signature header must be set when a secret is configured")
	}

	// Подпись считается над {timestamp, ...payload} и проверяется
	// секретом получателя.
	ts, err := strconv.ParseInt(gotHeaders.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		t.Fatalf("timestamp header: %v", err)
	}
	if err := VerifyAt("s3cret", gotEnv.Data, sig, ts, time.Now()); err != nil {
		t.Errorf("delivered signature must verify: %v", err)
	}

	// Конверт.
	if gotEnv.EventType != domain.EventStepCompleted {
		t.Errorf("unexpected envelope eventType: %s", gotEnv.EventType)
	}
	if gotEnv.Data["executionId"] != "e1" {
		t.Errorf("unexpected envelope data: %v", gotEnv.Data)
	}
	if gotEnv.Metadata.WebhookID != hook.ID.String() {
		t.Error("envelope metadata must carry webhookId")
	}
	if gotEnv.Metadata.DeliveryID != gotHeaders.Get(HeaderDelivery) {
		t.Error("envelope deliveryId must match the header")
	}

	// Ровно одна запись журнала со статусом success и кодом 200.
	if len(logs.entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logs.entries))
	}
	entry := logs.entries[0]
	if entry.Status != domain.DispatchStatusSuccess {
		t.Errorf("expected success, got %s", entry.Status)
	}
	if entry.StatusCode == nil || *entry.StatusCode != http.StatusOK {
		t.Errorf("expected statusCode 200, got %v", entry.StatusCode)
	}
	if entry.DeliveryID != gotEnv.Metadata.DeliveryID {
		t.Error("log entry must carry the delivery id")
	}
}

func TestDispatch_NoSecret_NoSignature(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := registration(srv.URL, "", domain.EventFlowCompleted)
	d := testDispatcher(&fakeRegistry{hooks: []domain.WebhookRegistration{hook}}, &fakeLogStore{})

	_, err := d.Dispatch(context.Background(), &domain.WebhookDispatchRequest{
		OrgID:     "org-1",
		EventType: domain.EventFlowCompleted,
		Payload:   map[string]any{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSig != "" {
		t.Error("signature must be absent without a secret")
	}
}

func TestDispatch_NoMatch(t *testing.T) {
	hook := registration("http://example.com", "", domain.EventFlowCompleted)
	logs := &fakeLogStore{}
	d := testDispatcher(&fakeRegistry{hooks: []domain.WebhookRegistration{hook}}, logs)

	// Нет подписчиков на событие: no-op, dispatched=0.
	n, err := d.Dispatch(context.Background(), &domain.WebhookDispatchRequest{
		OrgID:     "org-1",
		EventType: domain.EventFlowFailed,
		Payload:   map[string]any{},
	})
	if err != nil || n != 0 {
		t.Errorf("expected 0 dispatched without error, got %d %v", n, err)
	}
	if len(logs.entries) != 0 {
		t.Error("no-op dispatch must not log")
	}
}

func TestDispatch_HTTPErrorIsTerminal(t *testing.T) {
	// 4xx/5xx — завершённая попытка: фиксируется с кодом, не повторяется.
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hook := registration(srv.URL, "", domain.EventFlowFailed)
	logs := &fakeLogStore{}
	d := testDispatcher(&fakeRegistry{hooks: []domain.WebhookRegistration{hook}}, logs)

	n, err := d.Dispatch(context.Background(), &domain.WebhookDispatchRequest{
		OrgID:     "org-1",
		EventType: domain.EventFlowFailed,
		Payload:   map[string]any{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 dispatched, got %d", n)
	}
	if calls != 1 {
		t.Errorf("HTTP response must not be retried, got %d calls", calls)
	}

	entry := logs.entries[0]
	if entry.Status != domain.DispatchStatusFailure {
		t.Errorf("expected failure, got %s", entry.Status)
	}
	if entry.StatusCode == nil || *entry.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected statusCode 500, got %v", entry.StatusCode)
	}
}

func TestDispatch_NetworkErrorRetriesThenLogs(t *testing.T) {
	// Сценарий: сетевая ошибка повторяется до 5 раз с exponential
	// backoff и фиксируется без кода ответа.
	if testing.Short() {
		t.Skip("retry backoff takes tens of seconds")
	}

	hook := registration("http://127.0.0.1:1", "", domain.EventFlowFailed)
	logs := &fakeLogStore{}
	d := testDispatcher(&fakeRegistry{hooks: []domain.WebhookRegistration{hook}}, logs)

	start := time.Now()
	n, err := d.Dispatch(context.Background(), &domain.WebhookDispatchRequest{
		OrgID:     "org-1",
		EventType: domain.EventFlowFailed,
		Payload:   map[string]any{},
	})
	if err != nil {
		t.Fatalf("delivery failures must not surface: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 dispatched, got %d", n)
	}
	// 4 паузы backoff: 1s + 1.5s + 2.25s + 3.375s.
	if elapsed := time.Since(start); elapsed < 8*time.Second {
		t.Errorf("expected exponential backoff between attempts, elapsed %v", elapsed)
	}

	entry := logs.entries[0]
	if entry.Status != domain.DispatchStatusFailure {
		t.Errorf("expected failure, got %s", entry.Status)
	}
	if entry.StatusCode != nil {
		t.Errorf("network failure must log a null status code, got %v", *entry.StatusCode)
	}
	if entry.Error == "" {
		t.Error("network failure must log the error text")
	}
}

func TestDispatch_FailuresAreIsolated(t *testing.T) {
	// Падение одной доставки не мешает остальным.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer badSrv.Close()

	bad := registration(badSrv.URL, "", domain.EventFlowCompleted)
	good := registration(srv.URL, "", domain.EventFlowCompleted)

	logs := &fakeLogStore{}
	d := testDispatcher(&fakeRegistry{hooks: []domain.WebhookRegistration{bad, good}}, logs)

	n, err := d.Dispatch(context.Background(), &domain.WebhookDispatchRequest{
		OrgID:     "org-1",
		EventType: domain.EventFlowCompleted,
		Payload:   map[string]any{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected both deliveries attempted, got %d", n)
	}
	if len(logs.entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs.entries))
	}

	statuses := map[string]int{}
	for _, e := range logs.entries {
		statuses[e.Status]++
	}
	if statuses[domain.DispatchStatusSuccess] != 1 || statuses[domain.DispatchStatusFailure] != 1 {
		t.Errorf("expected one success and one failure, got %v", statuses)
	}
}

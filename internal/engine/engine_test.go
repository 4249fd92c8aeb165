package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
)

// --- Фейки для тестов обоих движков ---

type fakeFlowStore struct {
	flows map[string]*domain.Flow
}

func (f *fakeFlowStore) GetFlow(_ context.Context, flowID, orgID string) (*domain.Flow, error) {
	flow, ok := f.flows[flowID]
	if !ok || flow.OrgID != orgID {
		return nil, nil
	}
	return flow, nil
}

type fakeExecStore struct {
	mu         sync.Mutex
	executions map[string]*domain.ExecutionLog
	stepLogs   map[string]map[string]*domain.StepLog
	updates    int
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{
		executions: make(map[string]*domain.ExecutionLog),
		stepLogs:   make(map[string]map[string]*domain.StepLog),
	}
}

func (f *fakeExecStore) CreateExecution(_ context.Context, log *domain.ExecutionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *log
	f.executions[log.ID] = &cp
	return nil
}

func (f *fakeExecStore) GetExecution(_ context.Context, executionID string) (*domain.ExecutionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	log, ok := f.executions[executionID]
	if !ok {
		return nil, nil
	}
	cp := *log
	return &cp, nil
}

func (f *fakeExecStore) UpdateExecution(_ context.Context, log *domain.ExecutionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *log
	f.executions[log.ID] = &cp
	f.updates++
	return nil
}

func (f *fakeExecStore) TryMarkRunning(_ context.Context, executionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	log, ok := f.executions[executionID]
	if !ok || log.Status != domain.ExecutionStatusQueued {
		return false, nil
	}
	log.MarkRunning()
	return true, nil
}

func (f *fakeExecStore) UpsertStepLog(_ context.Context, log *domain.StepLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	byStep, ok := f.stepLogs[log.ExecutionID]
	if !ok {
		byStep = make(map[string]*domain.StepLog)
		f.stepLogs[log.ExecutionID] = byStep
	}
	cp := *log
	byStep[log.StepID] = &cp
	return nil
}

func (f *fakeExecStore) ListStepLogs(_ context.Context, executionID string) ([]domain.StepLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StepLog
	for _, sl := range f.stepLogs[executionID] {
		out = append(out, *sl)
	}
	return out, nil
}

type busEvent struct {
	name string
	data any
}

type fakeBus struct {
	mu     sync.Mutex
	events []busEvent
}

func (f *fakeBus) Send(_ context.Context, eventName string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, busEvent{name: eventName, data: data})
	return nil
}

// webhookEvents возвращает типы событий из webhook.dispatch запросов.
func (f *fakeBus) webhookEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.events {
		if ev.name != EventNameWebhookDispatch {
			continue
		}
		req, ok := ev.data.(*domain.WebhookDispatchRequest)
		if !ok {
			continue
		}
		out = append(out, req.EventType)
	}
	return out
}

type fakeRunner struct {
	mu    sync.Mutex
	fn    func(step *domain.Step, ec *domain.ExecutionContext) *domain.StepResult
	calls []string
}

func (f *fakeRunner) Run(_ context.Context, step *domain.Step, ec *domain.ExecutionContext) *domain.StepResult {
	f.mu.Lock()
	f.calls = append(f.calls, step.ID)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(step, ec)
	}
	return domain.SucceededResult(map[string]any{"step": step.ID})
}

func (f *fakeRunner) callCount(stepID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.calls {
		if id == stepID {
			n++
		}
	}
	return n
}

func testFlow(steps ...domain.Step) (*fakeFlowStore, string) {
	id := uuid.New()
	flow := &domain.Flow{
		ID:      id,
		OrgID:   "org-1",
		Name:    "test flow",
		Version: 1,
		Steps:   steps,
	}
	return &fakeFlowStore{flows: map[string]*domain.Flow{id.String(): flow}}, id.String()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(flows FlowStore, execs ExecutionLogStore, bus EventBus, runner StepRunner) *Engine {
	return New(Config{
		Flows:      flows,
		Executions: execs,
		Bus:        bus,
		Runner:     runner,
		Logger:     testLogger(),
	})
}

// --- Direct режим ---

func TestExecute_AllStepsSucceed(t *testing.T) {
	flows, flowID := testFlow(
		domain.Step{ID: "a", Type: domain.StepTypeHTTPRequest},
		domain.Step{ID: "b", Type: domain.StepTypeDataTransform},
	)
	execs := newFakeExecStore()
	bus := &fakeBus{}
	runner := &fakeRunner{}
	eng := newTestEngine(flows, execs, bus, runner)

	res, err := eng.Execute(context.Background(), flowID, "org-1", "user-1", map[string]any{"in": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != domain.ExecutionStatusCompleted {
		t.Errorf("expected completed, got %s", res.Status)
	}
	if res.CompletedSteps != 2 || res.FailedSteps != 0 {
		t.Errorf("expected 2 completed 0 failed, got %d/%d", res.CompletedSteps, res.FailedSteps)
	}
	if len(res.Outputs) != 2 {
		t.Errorf("expected outputs for both steps, got %v", res.Outputs)
	}

	// Ровно одна запись и одно терминальное обновление.
	if execs.updates != 1 {
		t.Errorf("direct mode must persist exactly one terminal update, got %d", execs.updates)
	}
	stored, _ := execs.GetExecution(context.Background(), res.ExecutionID)
	if stored == nil || stored.Status != domain.ExecutionStatusCompleted {
		t.Error("stored execution must be completed")
	}
}

func TestExecute_CriticalFailureHalts(t *testing.T) {
	// Сценарий: [stepA(critical, падает), stepB] →
	// failed, completedSteps=0, failedSteps=1, stepB не вызывается.
	flows, flowID := testFlow(
		domain.Step{ID: "a", Type: domain.StepTypeHTTPRequest},
		domain.Step{ID: "b", Type: domain.StepTypeHTTPRequest},
	)
	execs := newFakeExecStore()
	bus := &fakeBus{}
	runner := &fakeRunner{fn: func(step *domain.Step, _ *domain.ExecutionContext) *domain.StepResult {
		if step.ID == "a" {
			return domain.FailedResult(domain.ErrCodeHTTP, "boom")
		}
		return domain.SucceededResult(nil)
	}}
	eng := newTestEngine(flows, execs, bus, runner)

	res, err := eng.Execute(context.Background(), flowID, "org-1", "u", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != domain.ExecutionStatusFailed {
		t.Errorf("expected failed, got %s", res.Status)
	}
	if res.CompletedSteps != 0 || res.FailedSteps != 1 {
		t.Errorf("expected 0 completed 1 failed, got %d/%d", res.CompletedSteps, res.FailedSteps)
	}
	if res.CompletedSteps+res.FailedSteps != 1 {
		t.Error("completed+failed must equal 1-based index of failing step")
	}
	if runner.callCount("b") != 0 {
		t.Error("steps after the critical failure must never run")
	}
	if _, ok := res.Outputs["a"]; ok {
		t.Error("failed step must not contribute to outputs")
	}
	if res.Error != "HTTP_ERROR: boom" {
		t.Errorf("execution error must be the first critical failure, got %q", res.Error)
	}
}

func TestExecute_NonCriticalFailureContinues(t *testing.T) {
	// Сценарий: [stepA(critical=false, падает), stepB(успех)] →
	// completed, failedSteps=1, completedSteps=1.
	flows, flowID := testFlow(
		domain.Step{
			ID:     "a",
			Type:   domain.StepTypeHTTPRequest,
			Config: map[string]any{"critical": false},
		},
		domain.Step{ID: "b", Type: domain.StepTypeHTTPRequest},
	)
	execs := newFakeExecStore()
	bus := &fakeBus{}
	runner := &fakeRunner{fn: func(step *domain.Step, _ *domain.ExecutionContext) *domain.StepResult {
		if step.ID == "a" {
			return domain.FailedResult(domain.ErrCodeHTTP, "boom")
		}
		return domain.SucceededResult(map[string]any{"ok": true})
	}}
	eng := newTestEngine(flows, execs, bus, runner)

	res, err := eng.Execute(context.Background(), flowID, "org-1", "u", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != domain.ExecutionStatusCompleted {
		t.Errorf("expected completed, got %s", res.Status)
	}
	if res.FailedSteps != 1 || res.CompletedSteps != 1 {
		t.Errorf("expected failed=1 completed=1, got %d/%d", res.FailedSteps, res.CompletedSteps)
	}
	if res.Error != "" {
		t.Errorf("non-critical failure must not set execution error, got %q", res.Error)
	}
}

func TestExecute_SkippedStep(t *testing.T) {
	// Сценарий: executeIf=false → skippedSteps=1, completed,
	// без output для пропущенного шага.
	flows, flowID := testFlow(
		domain.Step{ID: "a", Type: domain.StepTypeHTTPRequest, ExecuteIf: map[string]any{
			"field": "variables.missing", "operator": "exists",
		}},
		domain.Step{ID: "b", Type: domain.StepTypeHTTPRequest},
	)
	execs := newFakeExecStore()
	bus := &fakeBus{}
	runner := &fakeRunner{}
	eng := newTestEngine(flows, execs, bus, runner)

	res, err := eng.Execute(context.Background(), flowID, "org-1", "u", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != domain.ExecutionStatusCompleted {
		t.Errorf("expected completed, got %s", res.Status)
	}
	if res.SkippedSteps != 1 {
		t.Errorf("expected 1 skipped, got %d", res.SkippedSteps)
	}
	if runner.callCount("a") != 0 {
		t.Error("skipped step must never reach the runner")
	}
	if _, ok := res.Outputs["a"]; ok {
		t.Error("skipped step must not contribute to outputs")
	}
	sr := res.StepResults["a"]
	if sr == nil || !sr.Skipped || !sr.Success {
		t.Errorf("skip implies success, got %+v", sr)
	}
}

func TestExecute_TemplateChaining(t *testing.T) {
	// Output шага a доступен шагу b через {{steps.a...}}.
	flows, flowID := testFlow(
		domain.Step{ID: "a", Type: domain.StepTypeHTTPRequest},
		domain.Step{
			ID:     "b",
			Type:   domain.StepTypeHTTPRequest,
			Config: map[string]any{"url": "https://example.com/{{steps.a.token}}"},
		},
	)
	var seenURL string
	runner := &fakeRunner{fn: func(step *domain.Step, _ *domain.ExecutionContext) *domain.StepResult {
		if step.ID == "a" {
			return domain.SucceededResult(map[string]any{"token": "abc123"})
		}
		seenURL, _ = step.Config["url"].(string)
		return domain.SucceededResult(nil)
	}}
	eng := newTestEngine(flows, newFakeExecStore(), &fakeBus{}, runner)

	if _, err := eng.Execute(context.Background(), flowID, "org-1", "u", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenURL != "https://example.com/abc123" {
		t.Errorf("expected resolved url, got %q", seenURL)
	}
}

func TestExecute_FlowNotFound(t *testing.T) {
	flows, flowID := testFlow(domain.Step{ID: "a", Type: domain.StepTypeDelay})
	eng := newTestEngine(flows, newFakeExecStore(), &fakeBus{}, &fakeRunner{})

	// Чужая организация неотличима от отсутствия flow.
	if _, err := eng.Execute(context.Background(), flowID, "other-org", "u", nil); err != ErrFlowNotFound {
		t.Errorf("expected ErrFlowNotFound, got %v", err)
	}
	if _, err := eng.Execute(context.Background(), "missing", "org-1", "u", nil); err != ErrFlowNotFound {
		t.Errorf("expected ErrFlowNotFound, got %v", err)
	}
}

func TestExecute_WebhookEvents(t *testing.T) {
	flows, flowID := testFlow(
		domain.Step{ID: "a", Type: domain.StepTypeHTTPRequest},
	)
	bus := &fakeBus{}
	eng := newTestEngine(flows, newFakeExecStore(), bus, &fakeRunner{})

	if _, err := eng.Execute(context.Background(), flowID, "org-1", "u", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := bus.webhookEvents()
	want := []string{domain.EventFlowStarted, domain.EventStepCompleted, domain.EventFlowCompleted}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], events[i])
		}
	}
}

func TestExecute_RetryPolicy(t *testing.T) {
	flows, flowID := testFlow(
		domain.Step{
			ID:   "a",
			Type: domain.StepTypeHTTPRequest,
			RetryPolicy: &domain.RetryPolicy{
				MaxRetries:      2,
				BackoffStrategy: domain.BackoffFixed,
				DelayMs:         1,
			},
		},
	)
	attempts := 0
	runner := &fakeRunner{fn: func(_ *domain.Step, _ *domain.ExecutionContext) *domain.StepResult {
		attempts++
		if attempts < 3 {
			return domain.FailedResult(domain.ErrCodeNetwork, "transient")
		}
		return domain.SucceededResult(nil)
	}}
	eng := newTestEngine(flows, newFakeExecStore(), &fakeBus{}, runner)

	res, err := eng.Execute(context.Background(), flowID, "org-1", "u", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.ExecutionStatusCompleted {
		t.Errorf("expected completed after retries, got %s", res.Status)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if res.StepResults["a"].Metadata.Attempt != 3 {
		t.Errorf("expected attempt=3 in metadata, got %d", res.StepResults["a"].Metadata.Attempt)
	}
}

func TestExecute_EmptySteps(t *testing.T) {
	flows, flowID := testFlow()
	eng := newTestEngine(flows, newFakeExecStore(), &fakeBus{}, &fakeRunner{})

	if _, err := eng.Execute(context.Background(), flowID, "org-1", "u", nil); err != ErrEmptySteps {
		t.Errorf("expected ErrEmptySteps, got %v", err)
	}
}

// flakyProgress падает на первых failures публикациях, затем
// принимает события.
type flakyProgress struct {
	failures int
	calls    int
	events   []*ProgressEvent
}

func (f *flakyProgress) PublishProgress(_ context.Context, event any) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	f.events = append(f.events, event.(*ProgressEvent))
	return nil
}

func TestPublishWithRetry_RecoversAfterTransientFailure(t *testing.T) {
	pub := &flakyProgress{failures: 1}

	err := publishWithRetry(context.Background(), pub, &ProgressEvent{ExecutionID: "e1"})
	if err != nil {
		t.Fatalf("retry must absorb a single transient failure, got %v", err)
	}
	if pub.calls != 2 {
		t.Errorf("expected 2 publish attempts, got %d", pub.calls)
	}
	if len(pub.events) != 1 || pub.events[0].ExecutionID != "e1" {
		t.Errorf("event not delivered after retry: %+v", pub.events)
	}
}

func TestPublishWithRetry_GivesUpAfterSchedule(t *testing.T) {
	pub := &flakyProgress{failures: 100}

	err := publishWithRetry(context.Background(), pub, &ProgressEvent{ExecutionID: "e1"})
	if err == nil {
		t.Fatal("exhausted retries must surface the last error")
	}
	// План повторов progress-событий: две попытки.
	if pub.calls != 2 {
		t.Errorf("expected 2 publish attempts, got %d", pub.calls)
	}
}

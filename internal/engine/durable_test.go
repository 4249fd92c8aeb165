package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
)

func newTestDurable(flows FlowStore, execs ExecutionLogStore, bus EventBus, runner StepRunner) *DurableEngine {
	return NewDurable(Config{
		Flows:      flows,
		Executions: execs,
		Bus:        bus,
		Runner:     runner,
		Logger:     testLogger(),
	})
}

func TestEnqueue(t *testing.T) {
	flows, flowID := testFlow(domain.Step{ID: "a", Type: domain.StepTypeDelay})
	execs := newFakeExecStore()
	bus := &fakeBus{}
	eng := newTestDurable(flows, execs, bus, &fakeRunner{})

	executionID, err := eng.Enqueue(context.Background(), flowID, "org-1", "user-1", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if executionID == "" {
		t.Fatal("executionID must not be empty")
	}

	stored, _ := execs.GetExecution(context.Background(), executionID)
	if stored == nil {
		t.Fatal("execution must be persisted")
	}
	if stored.Status != domain.ExecutionStatusQueued {
		t.Errorf("expected queued, got %s", stored.Status)
	}
	if stored.Inputs["k"] != "v" {
		t.Error("inputs must be persisted")
	}

	if len(bus.events) != 1 || bus.events[0].name != EventNameFlowExecute {
		t.Fatalf("expected one flow.execute event, got %v", bus.events)
	}
	req, ok := bus.events[0].data.(*ExecuteRequest)
	if !ok {
		t.Fatalf("expected *ExecuteRequest payload, got %T", bus.events[0].data)
	}
	if req.ExecutionID != executionID || req.FlowID != flowID {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestEnqueue_FlowNotFound(t *testing.T) {
	flows, flowID := testFlow(domain.Step{ID: "a", Type: domain.StepTypeDelay})
	eng := newTestDurable(flows, newFakeExecStore(), &fakeBus{}, &fakeRunner{})

	if _, err := eng.Enqueue(context.Background(), flowID, "other-org", "u", nil); err != ErrFlowNotFound {
		t.Errorf("expected ErrFlowNotFound, got %v", err)
	}
}

// enqueueAndHandle — общий каркас durable тестов.
func enqueueAndHandle(t *testing.T, flows *fakeFlowStore, flowID string, execs *fakeExecStore, bus *fakeBus, runner *fakeRunner) string {
	t.Helper()
	eng := newTestDurable(flows, execs, bus, runner)
	executionID, err := eng.Enqueue(context.Background(), flowID, "org-1", "u", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	req := bus.events[0].data.(*ExecuteRequest)
	if err := eng.HandleExecute(context.Background(), req); err != nil {
		t.Fatalf("handle: %v", err)
	}
	return executionID
}

func TestHandleExecute_Completes(t *testing.T) {
	flows, flowID := testFlow(
		domain.Step{ID: "a", Type: domain.StepTypeHTTPRequest},
		domain.Step{ID: "b", Type: domain.StepTypeDataTransform},
	)
	execs := newFakeExecStore()
	bus := &fakeBus{}
	runner := &fakeRunner{}

	executionID := enqueueAndHandle(t, flows, flowID, execs, bus, runner)

	stored, _ := execs.GetExecution(context.Background(), executionID)
	if stored.Status != domain.ExecutionStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
	if len(stored.Outputs) != 2 {
		t.Errorf("expected 2 outputs, got %v", stored.Outputs)
	}

	// Durable режим ведёт per-step журнал.
	logs, _ := execs.ListStepLogs(context.Background(), executionID)
	if len(logs) != 2 {
		t.Fatalf("expected 2 step logs, got %d", len(logs))
	}
	for _, sl := range logs {
		if sl.State != domain.StepStateSucceeded {
			t.Errorf("step %s: expected succeeded, got %s", sl.StepID, sl.State)
		}
	}
}

func TestHandleExecute_CriticalFailure(t *testing.T) {
	flows, flowID := testFlow(
		domain.Step{ID: "a", Type: domain.StepTypeHTTPRequest, RetryPolicy: &domain.RetryPolicy{MaxRetries: 0}},
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

	executionID := enqueueAndHandle(t, flows, flowID, execs, bus, runner)

	stored, _ := execs.GetExecution(context.Background(), executionID)
	if stored.Status != domain.ExecutionStatusFailed {
		t.Errorf("expected failed, got %s", stored.Status)
	}
	if stored.Error != "HTTP_ERROR: boom" {
		t.Errorf("execution error must be the first critical failure, got %q", stored.Error)
	}
	if runner.callCount("b") != 0 {
		t.Error("steps after the critical failure must never run")
	}

	logs, _ := execs.ListStepLogs(context.Background(), executionID)
	if len(logs) != 1 || logs[0].State != domain.StepStateFailed {
		t.Errorf("expected one failed step log, got %v", logs)
	}
}

func TestHandleExecute_DefaultRetryFromThrottle(t *testing.T) {
	// Некритичный transform-шаг без retryPolicy получает план из
	// throttle-политики: 2 попытки, fixed 1s.
	flows, flowID := testFlow(
		domain.Step{ID: "a", Type: domain.StepTypeDataTransform, Config: map[string]any{"critical": false}},
	)
	attempts := 0
	runner := &fakeRunner{fn: func(_ *domain.Step, _ *domain.ExecutionContext) *domain.StepResult {
		attempts++
		return domain.FailedResult(domain.ErrCodeExecution, "still broken")
	}}
	execs := newFakeExecStore()
	bus := &fakeBus{}
	eng := newTestDurable(flows, execs, bus, runner)

	executionID, err := eng.Enqueue(context.Background(), flowID, "org-1", "u", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	req := bus.events[0].data.(*ExecuteRequest)

	start := time.Now()
	if err := eng.HandleExecute(context.Background(), req); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts per throttle policy, got %d", attempts)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("expected fixed 1s backoff between attempts, elapsed %v", elapsed)
	}

	stored, _ := execs.GetExecution(context.Background(), executionID)
	if stored.Status != domain.ExecutionStatusCompleted {
		t.Errorf("non-critical failure must not fail the flow, got %s", stored.Status)
	}
}

func TestHandleExecute_ResumeSkipsFinishedSteps(t *testing.T) {
	flows, flowID := testFlow(
		domain.Step{ID: "a", Type: domain.StepTypeHTTPRequest},
		domain.Step{ID: "b", Type: domain.StepTypeHTTPRequest, Config: map[string]any{
			"url": "https://example.com/{{steps.a.token}}",
		}},
	)
	execs := newFakeExecStore()
	bus := &fakeBus{}
	eng := newTestDurable(flows, execs, bus, &fakeRunner{})

	executionID, err := eng.Enqueue(context.Background(), flowID, "org-1", "u", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Имитация сбоя после шага a: он уже running и записан в журнал.
	_, _ = execs.TryMarkRunning(context.Background(), executionID)
	_ = execs.UpsertStepLog(context.Background(), &domain.StepLog{
		ExecutionID: executionID,
		StepID:      "a",
		State:       domain.StepStateSucceeded,
		Output:      map[string]any{"token": "restored"},
		UpdatedAt:   time.Now(),
	})

	var seenURL string
	runner := &fakeRunner{fn: func(step *domain.Step, _ *domain.ExecutionContext) *domain.StepResult {
		seenURL, _ = step.Config["url"].(string)
		return domain.SucceededResult(nil)
	}}
	eng = newTestDurable(flows, execs, bus, runner)

	req := bus.events[0].data.(*ExecuteRequest)
	if err := eng.HandleExecute(context.Background(), req); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if runner.callCount("a") != 0 {
		t.Error("finished step must not run again on resume")
	}
	if runner.callCount("b") != 1 {
		t.Errorf("pending step must run exactly once, got %d", runner.callCount("b"))
	}
	// Output восстановлен из журнала и доступен шаблонам.
	if seenURL != "https://example.com/restored" {
		t.Errorf("expected restored output in template, got %q", seenURL)
	}

	stored, _ := execs.GetExecution(context.Background(), executionID)
	if stored.Status != domain.ExecutionStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
}

func TestHandleExecute_RedeliveryAfterTerminal(t *testing.T) {
	flows, flowID := testFlow(domain.Step{ID: "a", Type: domain.StepTypeDelay})
	execs := newFakeExecStore()
	bus := &fakeBus{}
	runner := &fakeRunner{}
	eng := newTestDurable(flows, execs, bus, runner)

	executionID, err := eng.Enqueue(context.Background(), flowID, "org-1", "u", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	req := bus.events[0].data.(*ExecuteRequest)

	if err := eng.HandleExecute(context.Background(), req); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Повторная доставка завершённого execution — no-op.
	if err := eng.HandleExecute(context.Background(), req); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if runner.callCount("a") != 1 {
		t.Errorf("step must run exactly once across redeliveries, got %d", runner.callCount("a"))
	}

	stored, _ := execs.GetExecution(context.Background(), executionID)
	if stored.Status != domain.ExecutionStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
}

func TestCancel(t *testing.T) {
	flows, flowID := testFlow(domain.Step{ID: "a", Type: domain.StepTypeDelay})
	execs := newFakeExecStore()
	bus := &fakeBus{}
	eng := newTestDurable(flows, execs, bus, &fakeRunner{})

	executionID, err := eng.Enqueue(context.Background(), flowID, "org-1", "u", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := eng.Cancel(context.Background(), executionID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stored, _ := execs.GetExecution(context.Background(), executionID)
	if stored.Status != domain.ExecutionStatusCancelled {
		t.Errorf("expected cancelled, got %s", stored.Status)
	}

	// Повторная отмена завершённого execution — ошибка.
	if err := eng.Cancel(context.Background(), executionID); err != ErrExecutionFinished {
		t.Errorf("expected ErrExecutionFinished, got %v", err)
	}

	// Доставка события после отмены не выполняет шаги.
	runner := &fakeRunner{}
	eng = newTestDurable(flows, execs, bus, runner)
	req := bus.events[0].data.(*ExecuteRequest)
	if err := eng.HandleExecute(context.Background(), req); err != nil {
		t.Fatalf("handle after cancel: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Error("cancelled execution must not run steps")
	}
}

func TestCancel_DiscardsLateResult(t *testing.T) {
	flows, flowID := testFlow(
		domain.Step{ID: "a", Type: domain.StepTypeHTTPRequest},
	)
	execs := newFakeExecStore()
	bus := &fakeBus{}

	var eng *DurableEngine
	var executionID string
	// Отмена приходит, пока шаг выполняется.
	runner := &fakeRunner{fn: func(_ *domain.Step, _ *domain.ExecutionContext) *domain.StepResult {
		if err := eng.Cancel(context.Background(), executionID); err != nil {
			t.Errorf("cancel during step: %v", err)
		}
		return domain.SucceededResult(map[string]any{"late": true})
	}}
	eng = newTestDurable(flows, execs, bus, runner)

	var err error
	executionID, err = eng.Enqueue(context.Background(), flowID, "org-1", "u", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	req := bus.events[0].data.(*ExecuteRequest)
	if err := eng.HandleExecute(context.Background(), req); err != nil {
		t.Fatalf("handle: %v", err)
	}

	stored, _ := execs.GetExecution(context.Background(), executionID)
	if stored.Status != domain.ExecutionStatusCancelled {
		t.Errorf("expected cancelled, got %s", stored.Status)
	}
	// Поздний результат отброшен: терминальной записи шага нет.
	logs, _ := execs.ListStepLogs(context.Background(), executionID)
	for _, sl := range logs {
		if sl.StepID == "a" && sl.State.IsTerminal() {
			t.Errorf("late result must be discarded, got state %s", sl.State)
		}
	}
}

func TestHandleExecute_UnknownExecution(t *testing.T) {
	flows, _ := testFlow(domain.Step{ID: "a", Type: domain.StepTypeDelay})
	eng := newTestDurable(flows, newFakeExecStore(), &fakeBus{}, &fakeRunner{})

	// Повтор не поможет: событие подтверждается без ошибки.
	err := eng.HandleExecute(context.Background(), &ExecuteRequest{ExecutionID: "ghost"})
	if err != nil {
		t.Errorf("unknown execution must be acked, got %v", err)
	}
}

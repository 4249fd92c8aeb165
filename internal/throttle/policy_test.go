package throttle

import (
	"testing"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
)

func TestForStep_HTTPTypes(t *testing.T) {
	for _, st := range []domain.StepType{
		domain.StepTypeAction,
		domain.StepTypeHTTPRequest,
		domain.StepTypeOAuthAPICall,
		domain.StepTypeWebhook,
	} {
		// Некритичный вариант.
		l := ForStep(st, false)
		if l.Concurrency != 5 {
			t.Errorf("%s: expected concurrency 5, got %d", st, l.Concurrency)
		}
		if l.Rate.Limit != 10 || l.Rate.Per != 10*time.Second {
			t.Errorf("%s: expected rate 10/10s, got %d/%v", st, l.Rate.Limit, l.Rate.Per)
		}
		if l.Retry.MaxAttempts != 3 {
			t.Errorf("%s: expected 3 attempts, got %d", st, l.Retry.MaxAttempts)
		}
		if l.Retry.Backoff != domain.BackoffExponential || l.Retry.InitialDelay != 3*time.Second {
			t.Errorf("%s: expected exponential from 3s", st)
		}

		// Критичный: меньше конкуррентности, больше попыток.
		l = ForStep(st, true)
		if l.Concurrency != 2 {
			t.Errorf("%s critical: expected concurrency 2, got %d", st, l.Concurrency)
		}
		if l.Retry.MaxAttempts != 5 {
			t.Errorf("%s critical: expected 5 attempts, got %d", st, l.Retry.MaxAttempts)
		}
	}
}

func TestForStep_SandboxTypes(t *testing.T) {
	for _, st := range []domain.StepType{
		domain.StepTypeSandboxSync,
		domain.StepTypeSandboxAsync,
		domain.StepTypeCodeExecution,
	} {
		l := ForStep(st, true)
		if l.Concurrency != 3 {
			t.Errorf("%s: expected concurrency 3, got %d", st, l.Concurrency)
		}
		if l.Rate.Limit != 20 || l.Rate.Per != 30*time.Second {
			t.Errorf("%s: expected rate 20/30s", st)
		}
		if l.Retry.MaxAttempts != 2 || l.Retry.Backoff != domain.BackoffFixed || l.Retry.InitialDelay != 5*time.Second {
			t.Errorf("%s: expected 2 attempts fixed 5s", st)
		}
	}
}

func TestForStep_TransformTypes(t *testing.T) {
	for _, st := range []domain.StepType{
		domain.StepTypeDataTransform,
		domain.StepTypeConditional,
	} {
		l := ForStep(st, false)
		if l.Concurrency != 15 {
			t.Errorf("%s: expected concurrency 15, got %d", st, l.Concurrency)
		}
		if l.Rate.Limit != 50 || l.Rate.Per != 30*time.Second {
			t.Errorf("%s: expected rate 50/30s", st)
		}
		if l.Retry.MaxAttempts != 2 || l.Retry.Backoff != domain.BackoffFixed || l.Retry.InitialDelay != time.Second {
			t.Errorf("%s: expected 2 attempts fixed 1s", st)
		}
	}
}

func TestForStep_Delay(t *testing.T) {
	l := ForStep(domain.StepTypeDelay, true)
	if l.Throttled {
		t.Error("delay steps must not be throttled")
	}
	if l.Retry.MaxAttempts != 1 {
		t.Errorf("delay steps get a single attempt, got %d", l.Retry.MaxAttempts)
	}
}

func TestForStep_Unknown(t *testing.T) {
	l := ForStep(domain.StepType("mystery"), true)
	if l.Concurrency != 2 {
		t.Errorf("expected concurrency 2, got %d", l.Concurrency)
	}
	if l.Rate.Limit != 5 || l.Rate.Per != 30*time.Second {
		t.Errorf("expected rate 5/30s, got %d/%v", l.Rate.Limit, l.Rate.Per)
	}
	if l.Retry.MaxAttempts != 1 || l.Retry.Backoff != domain.BackoffFixed || l.Retry.InitialDelay != 5*time.Second {
		t.Errorf("expected 1 attempt fixed 5s, got %+v", l.Retry)
	}
}

func TestForProgressEvents(t *testing.T) {
	l := ForProgressEvents()
	if l.Concurrency != 20 {
		t.Errorf("expected concurrency 20, got %d", l.Concurrency)
	}
	if l.Rate.Limit != 200 || l.Rate.Per != 60*time.Second {
		t.Errorf("expected rate 200/60s, got %d/%v", l.Rate.Limit, l.Rate.Per)
	}
	if l.Retry.MaxAttempts != 2 || l.Retry.InitialDelay != 500*time.Millisecond {
		t.Errorf("expected 2 attempts fixed 500ms, got %+v", l.Retry)
	}
}

func TestRetry_Delay(t *testing.T) {
	fixed := Retry{MaxAttempts: 3, Backoff: domain.BackoffFixed, InitialDelay: time.Second}
	if fixed.Delay(1) != time.Second || fixed.Delay(3) != time.Second {
		t.Error("fixed backoff must not grow")
	}

	exp := Retry{MaxAttempts: 5, Backoff: domain.BackoffExponential, InitialDelay: 3 * time.Second}
	if exp.Delay(1) != 3*time.Second {
		t.Errorf("expected 3s, got %v", exp.Delay(1))
	}
	if exp.Delay(2) != 6*time.Second {
		t.Errorf("expected 6s, got %v", exp.Delay(2))
	}
	if exp.Delay(3) != 12*time.Second {
		t.Errorf("expected 12s, got %v", exp.Delay(3))
	}
}

func TestRetry_AsRetryPolicy(t *testing.T) {
	r := Retry{MaxAttempts: 5, Backoff: domain.BackoffExponential, InitialDelay: 3 * time.Second}
	p := r.AsRetryPolicy()
	if p.MaxRetries != 4 {
		t.Errorf("expected 4 retries, got %d", p.MaxRetries)
	}
	if p.BackoffStrategy != domain.BackoffExponential {
		t.Errorf("expected exponential, got %s", p.BackoffStrategy)
	}
	if p.DelayMs != 3000 {
		t.Errorf("expected 3000ms, got %d", p.DelayMs)
	}
}

package throttle

import (
	"time"

	"github.com/shaiso/Cascade/internal/domain"
)

// Rate — лимит скорости: не более Limit запусков за окно Per.
type Rate struct {
	Limit int
	Per   time.Duration
}

// Retry — план повторных попыток.
type Retry struct {
	// MaxAttempts — общее число попыток, включая первую.
	MaxAttempts int

	// Backoff — "fixed" или "exponential".
	Backoff string

	// InitialDelay — задержка перед второй попыткой.
	InitialDelay time.Duration
}

// Limits — полный набор ограничений для одного типа шага.
type Limits struct {
	// Concurrency — максимум одновременных запусков.
	Concurrency int

	// Rate — лимит скорости.
	Rate Rate

	// Retry — план повторов.
	Retry Retry

	// Throttled — false для типов без ограничений (delay).
	Throttled bool
}

// ForStep возвращает лимиты для типа шага с учётом критичности.
func ForStep(stepType domain.StepType, critical bool) Limits {
	switch stepType {
	case domain.StepTypeAction, domain.StepTypeHTTPRequest,
		domain.StepTypeOAuthAPICall, domain.StepTypeWebhook:
		l := Limits{
			Concurrency: 5,
			Rate:        Rate{Limit: 10, Per: 10 * time.Second},
			Retry: Retry{
				MaxAttempts:  3,
				Backoff:      domain.BackoffExponential,
				InitialDelay: 3 * time.Second,
			},
			Throttled: true,
		}
		// Критичные HTTP-шаги душатся сильнее, но получают больше попыток.
		if critical {
			l.Concurrency = 2
			l.Retry.MaxAttempts = 5
		}
		return l

	case domain.StepTypeSandboxSync, domain.StepTypeSandboxAsync,
		domain.StepTypeCodeExecution:
		return Limits{
			Concurrency: 3,
			Rate:        Rate{Limit: 20, Per: 30 * time.Second},
			Retry: Retry{
				MaxAttempts:  2,
				Backoff:      domain.BackoffFixed,
				InitialDelay: 5 * time.Second,
			},
			Throttled: true,
		}

	case domain.StepTypeDataTransform, domain.StepTypeConditional:
		return Limits{
			Concurrency: 15,
			Rate:        Rate{Limit: 50, Per: 30 * time.Second},
			Retry: Retry{
				MaxAttempts:  2,
				Backoff:      domain.BackoffFixed,
				InitialDelay: time.Second,
			},
			Throttled: true,
		}

	case domain.StepTypeDelay:
		return Limits{
			Retry:     Retry{MaxAttempts: 1},
			Throttled: false,
		}

	default:
		return Limits{
			Concurrency: 2,
			Rate:        Rate{Limit: 5, Per: 30 * time.Second},
			Retry: Retry{
				MaxAttempts:  1,
				Backoff:      domain.BackoffFixed,
				InitialDelay: 5 * time.Second,
			},
			Throttled: true,
		}
	}
}

// ForProgressEvents возвращает лимиты публикации событий прогресса.
func ForProgressEvents() Limits {
	return Limits{
		Concurrency: 20,
		Rate:        Rate{Limit: 200, Per: 60 * time.Second},
		Retry: Retry{
			MaxAttempts:  2,
			Backoff:      domain.BackoffFixed,
			InitialDelay: 500 * time.Millisecond,
		},
		Throttled: true,
	}
}

// Delay возвращает паузу перед попыткой с номером attempt+1
// (attempt считается с 1).
func (r Retry) Delay(attempt int) time.Duration {
	if r.InitialDelay <= 0 {
		return 0
	}
	if r.Backoff == domain.BackoffExponential {
		return r.InitialDelay << (attempt - 1)
	}
	return r.InitialDelay
}

// AsRetryPolicy переводит план повторов в доменную retryPolicy,
// которой оперирует движок.
func (r Retry) AsRetryPolicy() *domain.RetryPolicy {
	return &domain.RetryPolicy{
		MaxRetries:      r.MaxAttempts - 1,
		BackoffStrategy: r.Backoff,
		DelayMs:         int(r.InitialDelay / time.Millisecond),
	}
}

package eval

import (
	"testing"
	"time"
)

func TestEvaluate(t *testing.T) {
	e := New()
	ctx := map[string]any{
		"variables": map[string]any{"count": 5, "status": "active"},
		"stepOutputs": map[string]any{
			"fetch": map[string]any{"ok": true},
		},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{
			name: "comparison true",
			expr: "variables.count > 3",
			want: true,
		},
		{
			name: "comparison false",
			expr: "variables.count > 10",
			want: false,
		},
		{
			name: "string equality",
			expr: "variables.status === 'active'",
			want: true,
		},
		{
			name: "step output access",
			expr: "stepOutputs.fetch.ok",
			want: true,
		},
		{
			name: "boolean logic",
			expr: "variables.count > 3 && variables.status === 'active'",
			want: true,
		},
		{
			name: "truthiness of string",
			expr: "variables.status",
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluate_SyntaxError(t *testing.T) {
	e := New()
	if _, err := e.Evaluate("broken((", nil); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestEvaluate_UndefinedReference(t *testing.T) {
	e := New()
	// Обращение к несуществующему идентификатору — ошибка, не false.
	if _, err := e.Evaluate("nosuchthing.value > 1", nil); err == nil {
		t.Error("expected error for undefined reference")
	}
}

func TestRun(t *testing.T) {
	e := New()
	out, err := e.Run("variables.items.map(function(x) { return x * 2 })", map[string]any{
		"variables": map[string]any{"items": []any{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr, ok := out.([]any)
	if !ok {
		t.Fatalf("expected array, got %T", out)
	}
	if len(arr) != 3 || arr[0] != int64(2) {
		t.Errorf("unexpected result: %v", arr)
	}
}

func TestRun_Timeout(t *testing.T) {
	e := NewWithTimeout(50 * time.Millisecond)
	if _, err := e.Run("while(true){}", nil); err == nil {
		t.Error("expected timeout error for infinite loop")
	}
}

func TestEvaluate_Isolation(t *testing.T) {
	e := New()
	// Состояние VM не переживает вызов.
	if _, err := e.Run("globalThis.leak = 42", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := e.Run("typeof leak", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "undefined" {
		t.Errorf("VM state must not leak between calls, got %v", out)
	}
}

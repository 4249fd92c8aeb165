package engine

import (
	"reflect"
	"testing"

	"github.com/shaiso/Cascade/internal/domain"
)

func testContext() *domain.ExecutionContext {
	ec := domain.NewExecutionContext("exec-1", "flow-1", "org-1", "user-1", map[string]any{
		"name":  "test",
		"count": 42,
		"nested": map[string]any{
			"city": "Berlin",
		},
	})
	ec.RecordOutput("fetch", map[string]any{
		"status": float64(200),
		"body": map[string]any{
			"items": []any{"a", "b", "c"},
		},
	})
	return ec
}

func TestResolveString_Variables(t *testing.T) {
	r := NewTemplateResolver()
	ec := testContext()

	tests := []struct {
		name     string
		input    string
		expected any
	}{
		{
			name:     "bare variable name",
			input:    "{{name}}",
			expected: "test",
		},
		{
			name:     "variables prefix",
			input:    "{{variables.name}}",
			expected: "test",
		},
		{
			name:     "nested variable path",
			input:    "{{variables.nested.city}}",
			expected: "Berlin",
		},
		{
			name:     "interpolation in text",
			input:    "Hello, {{name}}!",
			expected: "Hello, test!",
		},
		{
			name:     "number interpolated as text",
			input:    "count={{variables.count}}",
			expected: "count=42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ResolveString(tt.input, ec)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestResolveString_StepOutputs(t *testing.T) {
	r := NewTemplateResolver()
	ec := testContext()

	got := r.ResolveString("{{steps.fetch.status}}", ec)
	if got != float64(200) {
		t.Errorf("expected 200, got %v (%T)", got, got)
	}

	got = r.ResolveString("{{steps.fetch.body.items.1}}", ec)
	if got != "b" {
		t.Errorf("expected b, got %v", got)
	}
}

func TestResolveString_TypePreservation(t *testing.T) {
	r := NewTemplateResolver()
	ec := testContext()

	// Строка из одного плейсхолдера сохраняет тип значения.
	got := r.ResolveString("{{variables.count}}", ec)
	if _, ok := got.(float64); !ok {
		if _, ok := got.(int); !ok {
			t.Fatalf("expected numeric value, got %T", got)
		}
	}

	got = r.ResolveString("{{steps.fetch.body}}", ec)
	if _, ok := got.(map[string]any); !ok {
		t.Errorf("expected map value, got %T", got)
	}
}

func TestResolveString_Unresolvable(t *testing.T) {
	r := NewTemplateResolver()
	ec := testContext()

	// Неразрешимый путь остаётся дословно.
	got := r.ResolveString("{{steps.missing.value}}", ec)
	if got != "{{steps.missing.value}}" {
		t.Errorf("unresolvable placeholder should stay verbatim, got %v", got)
	}

	got = r.ResolveString("prefix {{nope}} suffix", ec)
	if got != "prefix {{nope}} suffix" {
		t.Errorf("expected verbatim text, got %v", got)
	}
}

func TestResolveString_NoPlaceholders(t *testing.T) {
	r := NewTemplateResolver()
	ec := testContext()

	// Идемпотентность: строка без {{ возвращается байт в байт.
	inputs := []string{"plain text", "", "single { brace", "}} reversed {{"}
	for _, s := range inputs {
		if got := r.ResolveString(s, ec); got != s {
			t.Errorf("expected %q unchanged, got %v", s, got)
		}
	}
}

func TestResolveConfig(t *testing.T) {
	r := NewTemplateResolver()
	ec := testContext()

	config := map[string]any{
		"method": "POST",
		"url":    "https://api.example.com/{{name}}",
		"body": map[string]any{
			"items": "{{steps.fetch.body.items}}",
			"tags":  []any{"{{name}}", 7},
		},
		"timeout": 30,
	}

	got := r.ResolveConfig(config, ec)

	if got["url"] != "https://api.example.com/test" {
		t.Errorf("expected rendered url, got %v", got["url"])
	}
	if got["timeout"] != 30 {
		t.Errorf("non-string values should pass through, got %v", got["timeout"])
	}

	body, ok := got["body"].(map[string]any)
	if !ok {
		t.Fatalf("expected body map, got %T", got["body"])
	}
	items, ok := body["items"].([]any)
	if !ok {
		t.Fatalf("expected items slice, got %T", body["items"])
	}
	if len(items) != 3 || items[0] != "a" {
		t.Errorf("expected resolved items, got %v", items)
	}
	tags, ok := body["tags"].([]any)
	if !ok {
		t.Fatalf("expected tags slice, got %T", body["tags"])
	}
	if tags[0] != "test" || tags[1] != 7 {
		t.Errorf("expected resolved tags, got %v", tags)
	}

	// Исходная карта не изменяется.
	if config["url"] != "https://api.example.com/{{name}}" {
		t.Error("source config must not be mutated")
	}
}

func TestResolveConfig_Nil(t *testing.T) {
	r := NewTemplateResolver()
	if got := r.ResolveConfig(nil, testContext()); got != nil {
		t.Errorf("expected nil for nil config, got %v", got)
	}
}

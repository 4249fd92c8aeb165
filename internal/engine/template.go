package engine

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/shaiso/Cascade/internal/domain"
)

// placeholderRe находит {{ ... }} плейсхолдеры. Вложенные скобки
// внутри пути не поддерживаются.
var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// TemplateResolver подставляет значения из контекста запуска в
// конфигурацию шага.
//
// Пути с префиксом "steps." и "variables." разрешаются по
// соответствующим картам контекста; путь без префикса трактуется
// как имя переменной. Неразрешимый плейсхолдер остаётся в тексте
// как есть. Строка, целиком состоящая из одного плейсхолдера,
// сохраняет тип подставляемого значения.
type TemplateResolver struct{}

// NewTemplateResolver создаёт resolver.
func NewTemplateResolver() *TemplateResolver {
	return &TemplateResolver{}
}

// resolveDoc — JSON-снимки контекста для gjson-путей.
// Собираются один раз на вызов ResolveConfig.
type resolveDoc struct {
	steps     []byte
	variables []byte
	ec        *domain.ExecutionContext
}

func newResolveDoc(ec *domain.ExecutionContext) *resolveDoc {
	d := &resolveDoc{ec: ec}
	if b, err := json.Marshal(ec.StepOutputs); err == nil {
		d.steps = b
	}
	if b, err := json.Marshal(ec.Variables); err == nil {
		d.variables = b
	}
	return d
}

// lookup разрешает путь плейсхолдера. Второе значение false,
// если путь не разрешился.
func (d *resolveDoc) lookup(path string) (any, bool) {
	switch {
	case strings.HasPrefix(path, "steps."):
		res := gjson.GetBytes(d.steps, strings.TrimPrefix(path, "steps."))
		if !res.Exists() {
			return nil, false
		}
		return res.Value(), true
	case strings.HasPrefix(path, "variables."):
		res := gjson.GetBytes(d.variables, strings.TrimPrefix(path, "variables."))
		if !res.Exists() {
			return nil, false
		}
		return res.Value(), true
	default:
		// Имя без префикса — переменная верхнего уровня.
		if !strings.Contains(path, ".") {
			v, ok := d.ec.Variables[path]
			return v, ok
		}
		res := gjson.GetBytes(d.variables, path)
		if !res.Exists() {
			return nil, false
		}
		return res.Value(), true
	}
}

// ResolveConfig возвращает копию config с подставленными значениями.
// Исходная карта не изменяется.
func (r *TemplateResolver) ResolveConfig(config map[string]any, ec *domain.ExecutionContext) map[string]any {
	if config == nil {
		return nil
	}
	doc := newResolveDoc(ec)
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = r.resolveValue(v, doc)
	}
	return out
}

// ResolveString подставляет плейсхолдеры в одной строке.
// Возвращаемое значение может быть не строкой, если вся строка —
// один плейсхолдер.
func (r *TemplateResolver) ResolveString(s string, ec *domain.ExecutionContext) any {
	return r.resolveString(s, newResolveDoc(ec))
}

func (r *TemplateResolver) resolveValue(v any, doc *resolveDoc) any {
	switch val := v.(type) {
	case string:
		return r.resolveString(val, doc)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.resolveValue(item, doc)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.resolveValue(item, doc)
		}
		return out
	default:
		return v
	}
}

func (r *TemplateResolver) resolveString(s string, doc *resolveDoc) any {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	// Строка целиком из одного плейсхолдера: тип значения сохраняется.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		if v, ok := doc.lookup(path); ok {
			return v
		}
		return s
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		path := s[m[2]:m[3]]
		v, ok := doc.lookup(path)
		if !ok {
			// Неразрешимый плейсхолдер остаётся дословно.
			b.WriteString(s[m[0]:m[1]])
		} else {
			b.WriteString(stringify(v))
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// stringify приводит подставляемое значение к строке для интерполяции.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shaiso/Cascade/internal/domain"
)

func TestHTTPExecutor_Success(t *testing.T) {
	var gotMethod, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id": 7, "ok": true}`))
	}))
	defer srv.Close()

	ex := NewHTTPExecutor(nil)
	step := &domain.Step{
		ID:   "s1",
		Type: domain.StepTypeHTTPRequest,
		Config: map[string]any{
			"method":  "POST",
			"url":     srv.URL,
			"headers": map[string]any{"Authorization": "Bearer token"},
			"body":    map[string]any{"key": "value"},
		},
	}

	sr := ex.Execute(context.Background(), step, testEC())
	if !sr.Success {
		t.Fatalf("unexpected failure: %+v", sr.Error)
	}
	if gotMethod != http.MethodPost || gotAuth != "Bearer token" {
		t.Errorf("request not built from config: %s %s", gotMethod, gotAuth)
	}
	if gotBody["key"] != "value" {
		t.Errorf("body not serialized, got %v", gotBody)
	}

	out := sr.Output.(map[string]any)
	if out["statusCode"] != 200 {
		t.Errorf("expected statusCode 200, got %v", out["statusCode"])
	}
	body, ok := out["body"].(map[string]any)
	if !ok {
		t.Fatalf("JSON body must be parsed, got %T", out["body"])
	}
	if body["id"] != float64(7) {
		t.Errorf("expected id 7, got %v", body["id"])
	}
}

func TestHTTPExecutor_QueryParams(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ex := NewHTTPExecutor(nil)
	step := &domain.Step{
		ID:   "s1",
		Type: domain.StepTypeHTTPRequest,
		Config: map[string]any{
			"url":   srv.URL + "/search?page=2",
			"query": map[string]any{"q": "alpha beta", "limit": "10"},
		},
	}

	sr := ex.Execute(context.Background(), step, testEC())
	if !sr.Success {
		t.Fatalf("unexpected failure: %+v", sr.Error)
	}
	if gotQuery.Get("q") != "alpha beta" || gotQuery.Get("limit") != "10" {
		t.Errorf("config.query not applied, got %v", gotQuery)
	}
	// Параметры из самого URL сохраняются.
	if gotQuery.Get("page") != "2" {
		t.Errorf("existing query params must survive, got %v", gotQuery)
	}
}

func TestHTTPExecutor_RawTextFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain response"))
	}))
	defer srv.Close()

	ex := NewHTTPExecutor(nil)
	step := &domain.Step{ID: "s1", Type: domain.StepTypeHTTPRequest, Config: map[string]any{"url": srv.URL}}

	sr := ex.Execute(context.Background(), step, testEC())
	if !sr.Success {
		t.Fatalf("unexpected failure: %+v", sr.Error)
	}
	out := sr.Output.(map[string]any)
	if out["body"] != "plain response" {
		t.Errorf("expected raw text body, got %v", out["body"])
	}
}

func TestHTTPExecutor_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": "down"}`))
	}))
	defer srv.Close()

	ex := NewHTTPExecutor(nil)
	step := &domain.Step{ID: "s1", Type: domain.StepTypeHTTPRequest, Config: map[string]any{"url": srv.URL}}

	sr := ex.Execute(context.Background(), step, testEC())
	if sr.Success {
		t.Fatal("non-2xx must fail the step")
	}
	if sr.Error.Code != domain.ErrCodeHTTP {
		t.Errorf("expected HTTP_ERROR, got %s", sr.Error.Code)
	}
	// Тело ошибки сохраняется для диагностики.
	out, ok := sr.Output.(map[string]any)
	if !ok || out["statusCode"] != 503 {
		t.Errorf("expected error output with statusCode, got %v", sr.Output)
	}
}

func TestHTTPExecutor_NetworkError(t *testing.T) {
	ex := NewHTTPExecutor(nil)
	step := &domain.Step{
		ID:     "s1",
		Type:   domain.StepTypeHTTPRequest,
		Config: map[string]any{"url": "http://127.0.0.1:1"},
	}

	sr := ex.Execute(context.Background(), step, testEC())
	if sr.Success {
		t.Fatal("network error must fail the step")
	}
	if sr.Error.Code != domain.ErrCodeNetwork {
		t.Errorf("expected NETWORK_ERROR, got %s", sr.Error.Code)
	}
}

func TestHTTPExecutor_MissingURL(t *testing.T) {
	ex := NewHTTPExecutor(nil)
	sr := ex.Execute(context.Background(), &domain.Step{ID: "s1", Type: domain.StepTypeHTTPRequest}, testEC())
	if sr.Success || sr.Error.Code != domain.ErrCodeValidation {
		t.Errorf("expected VALIDATION failure, got %+v", sr)
	}
}

func TestActionExecutor(t *testing.T) {
	var gotPath, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sent": true}`))
	}))
	defer srv.Close()

	actions := &fakeActionRegistry{action: &domain.ActionDefinition{
		Name:     "send-message",
		Tool:     domain.Tool{Name: "chat", BaseURL: srv.URL},
		Endpoint: "/v1/messages",
		Method:   http.MethodPost,
		Headers:  map[string]string{"X-Api-Key": "k1"},
	}}
	ex := NewActionExecutor(actions, NewHTTPExecutor(nil))

	step := &domain.Step{
		ID:   "s1",
		Type: domain.StepTypeAction,
		Config: map[string]any{
			"actionId": "act-1",
			"inputs":   map[string]any{"text": "hi"},
		},
	}
	sr := ex.Execute(context.Background(), step, testEC())
	if !sr.Success {
		t.Fatalf("unexpected failure: %+v", sr.Error)
	}
	if gotPath != "/v1/messages" || gotHeader != "k1" {
		t.Errorf("request not built from action definition: %s %s", gotPath, gotHeader)
	}
	out := sr.Output.(map[string]any)
	if out["action"] != "send-message" {
		t.Errorf("expected action name in output, got %v", out["action"])
	}
}

func TestActionExecutor_MissingActionID(t *testing.T) {
	ex := NewActionExecutor(&fakeActionRegistry{}, NewHTTPExecutor(nil))
	sr := ex.Execute(context.Background(), &domain.Step{ID: "s1", Type: domain.StepTypeAction}, testEC())
	if sr.Success || sr.Error.Code != domain.ErrCodeValidation {
		t.Errorf("expected VALIDATION failure, got %+v", sr)
	}
}

func TestActionExecutor_ActionNotFound(t *testing.T) {
	ex := NewActionExecutor(&fakeActionRegistry{}, NewHTTPExecutor(nil))
	step := &domain.Step{ID: "s1", Type: domain.StepTypeAction, Config: map[string]any{"actionId": "ghost"}}
	sr := ex.Execute(context.Background(), step, testEC())
	if sr.Success || sr.Error.Code != domain.ErrCodeValidation {
		t.Errorf("expected VALIDATION failure, got %+v", sr)
	}
}

type fakeActionRegistry struct {
	action *domain.ActionDefinition
}

func (f *fakeActionRegistry) GetAction(_ context.Context, _, _ string) (*domain.ActionDefinition, error) {
	return f.action, nil
}

type fakeTokenProvider struct {
	token string
	err   error
}

func (f *fakeTokenProvider) GetValidAccessToken(context.Context, string, string) (string, error) {
	return f.token, f.err
}

func TestOAuthExecutor(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	ex := NewOAuthExecutor(&fakeTokenProvider{token: "tok-123"}, NewHTTPExecutor(nil))
	step := &domain.Step{
		ID:   "s1",
		Type: domain.StepTypeOAuthAPICall,
		Config: map[string]any{
			"toolName": "crm",
			"url":      srv.URL,
		},
	}
	sr := ex.Execute(context.Background(), step, testEC())
	if !sr.Success {
		t.Fatalf("unexpected failure: %+v", sr.Error)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
}

func TestOAuthExecutor_TokenFailure(t *testing.T) {
	ex := NewOAuthExecutor(&fakeTokenProvider{err: context.DeadlineExceeded}, NewHTTPExecutor(nil))
	step := &domain.Step{
		ID:     "s1",
		Type:   domain.StepTypeOAuthAPICall,
		Config: map[string]any{"toolName": "crm", "url": "https://example.com"},
	}
	sr := ex.Execute(context.Background(), step, testEC())
	if sr.Success {
		t.Fatal("token failure must fail the step")
	}
	if sr.Error.Code != domain.ErrCodeOAuth {
		t.Errorf("expected OAUTH_ERROR, got %s", sr.Error.Code)
	}
}

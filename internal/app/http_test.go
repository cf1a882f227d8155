package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"paperai/api/internal/ai"
	"paperai/api/internal/aicache"
	"paperai/api/internal/auth"
	"paperai/api/internal/kv"
	"paperai/api/internal/llm"
	"paperai/api/internal/monitor"
	"paperai/api/internal/ratelimit"
)

const grammarJSON = `{"improvedText":"The cat sat.","corrections":[{"original":"Teh","correction":"The","explanation":"typo"}],"readabilityScore":80}`

// fakeProvider returns a canned response, or an error when failing is set.
type fakeProvider struct {
	calls   int
	failing bool
	content string
	tokens  int64
}

func (f *fakeProvider) ChatCompletion(context.Context, llm.ChatRequest) (llm.ChatResponse, error) {
	f.calls++
	if f.failing {
		return llm.ChatResponse{}, errors.New("provider unavailable")
	}
	return llm.ChatResponse{
		Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: f.content}}},
		Usage:   llm.Usage{TotalTokens: f.tokens},
	}, nil
}

func newTestServer(provider ai.Provider, jwtSecret string) (*HTTPServer, *kv.MemoryStore) {
	store := kv.NewMemoryStore()
	now := time.Date(2025, 6, 10, 15, 0, 30, 0, time.UTC)
	store.SetNow(func() time.Time { return now })

	limiter := ratelimit.New(store, 20, 100000)
	limiter.SetNow(func() time.Time { return now })
	mon := monitor.New(store)
	mon.SetNow(func() time.Time { return now })

	svc := ai.New(limiter, aicache.New(store, time.Hour), mon, provider, ai.Config{
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   2000,
		MaxAttempts: 3,
	})
	return NewHTTPServer(svc, store, jwtSecret, "*"), store
}

func doJSON(t *testing.T, server *HTTPServer, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var response map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("response is not JSON: %v (%s)", err, rr.Body.String())
		}
	}
	return rr, response
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(&fakeProvider{content: "{}"}, "")

	rr, response := doJSON(t, server, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", response)
	}
}

func TestReadyEndpoint(t *testing.T) {
	server, _ := newTestServer(&fakeProvider{content: "{}"}, "")

	rr, response := doJSON(t, server, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if response["status"] != "ready" {
		t.Errorf("expected ready, got %v", response)
	}
}

func TestGrammarEndpoint(t *testing.T) {
	provider := &fakeProvider{content: grammarJSON, tokens: 42}
	server, _ := newTestServer(provider, "")

	rr, response := doJSON(t, server, http.MethodPost, "/api/ai/grammar",
		`{"text":"Teh cat sat.","userId":"u1"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if response["content"] != "The cat sat." {
		t.Errorf("unexpected content: %v", response["content"])
	}
	structured, ok := response["structuredResponse"].(map[string]any)
	if !ok {
		t.Fatalf("missing structuredResponse: %v", response)
	}
	if structured["improvedText"] != "The cat sat." {
		t.Errorf("unexpected improvedText: %v", structured["improvedText"])
	}
	if _, ok := response["analysis"].(map[string]any); !ok {
		t.Errorf("missing analysis: %v", response)
	}

	// Identical request hits the cache: the provider stays at one call.
	rr, response = doJSON(t, server, http.MethodPost, "/api/ai/grammar",
		`{"text":"Teh cat sat.","userId":"u1"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if response["cached"] != true {
		t.Errorf("expected cached response, got %v", response["cached"])
	}
	if provider.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.calls)
	}
}

func TestMissingTextIs400(t *testing.T) {
	server, _ := newTestServer(&fakeProvider{content: "{}"}, "")

	rr, response := doJSON(t, server, http.MethodPost, "/api/ai/grammar", `{"userId":"u1"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
	if response["code"] != "MISSING_TEXT" {
		t.Errorf("unexpected error code: %v", response["code"])
	}
}

func TestMissingUserIDIs400(t *testing.T) {
	server, _ := newTestServer(&fakeProvider{content: "{}"}, "")

	rr, response := doJSON(t, server, http.MethodPost, "/api/ai/grammar", `{"text":"hello"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
	if response["code"] != "MISSING_USER_ID" {
		t.Errorf("unexpected error code: %v", response["code"])
	}
}

func TestRateLimitedIs429WithRetryAfter(t *testing.T) {
	provider := &fakeProvider{content: `{"summary":"s"}`, tokens: 5}
	server, _ := newTestServer(provider, "")

	var rr *httptest.ResponseRecorder
	var response map[string]any
	for i := 0; i < 21; i++ {
		rr, response = doJSON(t, server, http.MethodPost, "/api/ai/summarize",
			`{"text":"doc","userId":"u2"}`, nil)
	}

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on 21st request, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	details, ok := response["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected details, got %v", response)
	}
	if retryAfter, ok := details["retryAfterSeconds"].(float64); !ok || retryAfter <= 0 {
		t.Errorf("expected positive retryAfterSeconds, got %v", details["retryAfterSeconds"])
	}
	if provider.calls != 20 {
		t.Errorf("expected exactly 20 provider calls, got %d", provider.calls)
	}
}

func TestProviderFailureIs500Generic(t *testing.T) {
	server, _ := newTestServer(&fakeProvider{failing: true}, "")

	rr, response := doJSON(t, server, http.MethodPost, "/api/ai/expand",
		`{"text":"draft","userId":"u3"}`, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
	if response["code"] != "AI_REQUEST_FAILED" {
		t.Errorf("unexpected error code: %v", response["code"])
	}
	// Internal detail must not leak to the caller.
	if strings.Contains(rr.Body.String(), "provider unavailable") {
		t.Error("provider error detail leaked to the response")
	}
}

func TestTemplateEndpoint(t *testing.T) {
	provider := &fakeProvider{
		content: `{"template":{"name":"Proposal","sections":[{"title":"Problem","placeholder":"Describe it"}]}}`,
		tokens:  30,
	}
	server, _ := newTestServer(provider, "")

	rr, response := doJSON(t, server, http.MethodPost, "/api/ai/template",
		`{"type":"proposal","userId":"u4"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	template, ok := response["template"].(map[string]any)
	if !ok {
		t.Fatalf("missing template: %v", response)
	}
	if template["name"] != "Proposal" {
		t.Errorf("unexpected template name: %v", template["name"])
	}
}

func TestTemplateMissingTypeIs400(t *testing.T) {
	server, _ := newTestServer(&fakeProvider{content: "{}"}, "")

	rr, response := doJSON(t, server, http.MethodPost, "/api/ai/template", `{"userId":"u4"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
	if response["code"] != "MISSING_TYPE" {
		t.Errorf("unexpected error code: %v", response["code"])
	}
}

func TestUsageEndpoint(t *testing.T) {
	provider := &fakeProvider{content: `{"summary":"s"}`, tokens: 500}
	server, _ := newTestServer(provider, "")

	if rr, _ := doJSON(t, server, http.MethodPost, "/api/ai/summarize",
		`{"text":"doc","userId":"u5"}`, nil); rr.Code != http.StatusOK {
		t.Fatalf("summarize failed: %d", rr.Code)
	}

	rr, response := doJSON(t, server, http.MethodGet, "/api/ai/usage?userId=u5", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if tokens, _ := response["dailyTokens"].(float64); tokens != 500 {
		t.Errorf("expected 500 daily tokens, got %v", response["dailyTokens"])
	}
	if maxTokens, _ := response["maxTokensPerDay"].(float64); maxTokens != 100000 {
		t.Errorf("expected cap 100000, got %v", response["maxTokensPerDay"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	provider := &fakeProvider{content: grammarJSON, tokens: 42}
	server, _ := newTestServer(provider, "")

	if rr, _ := doJSON(t, server, http.MethodPost, "/api/ai/grammar",
		`{"text":"Teh cat sat.","userId":"u6"}`, nil); rr.Code != http.StatusOK {
		t.Fatalf("grammar failed: %d", rr.Code)
	}

	rr, response := doJSON(t, server, http.MethodGet, "/api/ai/metrics?endpoint=grammar-check&days=7", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	metrics, ok := response["metrics"].([]any)
	if !ok || len(metrics) != 1 {
		t.Fatalf("expected 1 day of metrics, got %v", response["metrics"])
	}
	day := metrics[0].(map[string]any)
	if calls, _ := day["totalCalls"].(float64); calls != 1 {
		t.Errorf("expected 1 call, got %v", day["totalCalls"])
	}
}

func TestMetricsEndpointValidatesDays(t *testing.T) {
	server, _ := newTestServer(&fakeProvider{content: "{}"}, "")

	rr, _ := doJSON(t, server, http.MethodGet, "/api/ai/metrics?endpoint=grammar-check&days=99", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for days=99, got %d", rr.Code)
	}
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	provider := &fakeProvider{content: grammarJSON, tokens: 10}
	server, _ := newTestServer(provider, "test-secret")

	rr, response := doJSON(t, server, http.MethodPost, "/api/ai/grammar",
		`{"text":"Teh cat sat.","userId":"spoofed"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if response["code"] != "UNAUTHORIZED" {
		t.Errorf("unexpected error code: %v", response["code"])
	}

	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  "real-user",
		Name: "Ada",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/ai/grammar",
		`{"text":"Teh cat sat.","userId":"spoofed"}`,
		map[string]string{"Authorization": "Bearer " + token})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestInvalidTokenIs401(t *testing.T) {
	server, _ := newTestServer(&fakeProvider{content: "{}"}, "test-secret")

	rr, _ := doJSON(t, server, http.MethodPost, "/api/ai/grammar",
		`{"text":"hello"}`,
		map[string]string{"Authorization": "Bearer not-a-token"})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestUnknownOperationIs404(t *testing.T) {
	server, _ := newTestServer(&fakeProvider{content: "{}"}, "")

	rr, _ := doJSON(t, server, http.MethodPost, "/api/ai/translate",
		`{"text":"hello","userId":"u1"}`, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestRequestIDHeaderSet(t *testing.T) {
	server, _ := newTestServer(&fakeProvider{content: "{}"}, "")

	rr, _ := doJSON(t, server, http.MethodGet, "/api/health", "", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

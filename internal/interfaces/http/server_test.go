package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/pipeline"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/httpclient"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/monitoring"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/persistence"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/redisstore"
	"github.com/halcyonai/halcyon/gateway/internal/service/drive"
	"github.com/halcyonai/halcyon/gateway/internal/service/feeling"
	"github.com/halcyonai/halcyon/gateway/internal/service/intent"
	"github.com/halcyonai/halcyon/gateway/internal/service/memory"
	"github.com/halcyonai/halcyon/gateway/internal/service/policy"
	"github.com/halcyonai/halcyon/gateway/internal/service/telemetry"
	apperrors "github.com/halcyonai/halcyon/gateway/pkg/errors"
)

func upstreamErr() error {
	return apperrors.NewUpstreamError("all providers failed", nil)
}

type fakeChat struct {
	resp   *pipeline.Response
	err    error
	deltas []string
}

func (f *fakeChat) ProcessChat(_ context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.resp
	return &r, nil
}

func (f *fakeChat) ProcessChatStream(_ context.Context, _ *pipeline.Request, deltas chan<- string) (*pipeline.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, d := range f.deltas {
		deltas <- d
	}
	r := *f.resp
	return &r, nil
}

type serverOpts struct {
	burst  int
	secret string
	chat   *fakeChat
}

func newTestServer(t *testing.T, opts serverOpts) *Server {
	t.Helper()
	logger := zap.NewNop()

	if opts.chat == nil {
		opts.chat = &fakeChat{
			resp: &pipeline.Response{
				ID:       "chatcmpl-test",
				Provider: "local",
				Model:    "q4_7b.gguf",
				Content:  "hello from the model",
				Intent:   "OPEN_ENDED",
			},
			deltas: []string{"hello ", "from ", "the model"},
		}
	}
	if opts.burst == 0 {
		opts.burst = 100
	}

	policyEngine, err := policy.NewEngine(logger)
	if err != nil {
		t.Fatalf("policy engine: %v", err)
	}

	deps := Deps{
		Chat:      opts.chat,
		Intent:    intent.NewEngine(nil, false, logger),
		Feeling:   feeling.NewEngine(logger),
		Memory:    memory.NewEngine(persistence.NewMemoryTraitRepository(), persistence.NewMemoryEpisodeRepository(), logger),
		Drive:     drive.NewEngine(logger),
		Policy:    policyEngine,
		Telemetry: telemetry.NewEngine(redisstore.NewLocalCache(), monitoring.NewMonitor(logger), logger),
		Limiter:   redisstore.NewLocalLimiter(60, opts.burst, time.Minute),
		Monitor:   monitoring.NewMonitor(logger),
		Logger:    logger,
	}

	return NewServer(Config{
		Mode:         "release",
		Version:      "test",
		SharedSecret: opts.secret,
		RatePerMin:   60,
		RateBurst:    opts.burst,
		Models:       []string{"q4_7b.gguf", "openai/gpt-4o-mini"},
	}, deps)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestChatCompletions(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	w := doJSON(t, s, http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "Hello there"}},
		"user":     "test",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Object  string `json:"object"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	decodeBody(t, w, &resp)
	if resp.Object != "chat.completion" {
		t.Fatalf("object = %q", resp.Object)
	}
	if resp.Model != "q4_7b.gguf" {
		t.Fatalf("model = %q", resp.Model)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Role != "assistant" {
		t.Fatalf("choices = %+v", resp.Choices)
	}
	if resp.Choices[0].Message.Content != "hello from the model" {
		t.Fatalf("content = %q", resp.Choices[0].Message.Content)
	}
}

func TestChatCompletionsEmptyMessages(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	w := doJSON(t, s, http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"messages": []map[string]string{},
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	decodeBody(t, w, &resp)
	if resp.Error.Type != "invalid_request_error" {
		t.Fatalf("error type = %q", resp.Error.Type)
	}
}

func TestChatStreamFraming(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	w := doJSON(t, s, http.MethodPost, "/v1/chat/completions/stream", map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %v", lines)
	}
	var assembled strings.Builder
	for _, line := range lines[:3] {
		var frame struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		assembled.WriteString(frame.Delta)
	}
	if assembled.String() != "hello from the model" {
		t.Fatalf("assembled = %q", assembled.String())
	}
	if lines[3] != "[DONE]" {
		t.Fatalf("terminator = %q", lines[3])
	}
}

func TestRateLimitBurstOne(t *testing.T) {
	s := newTestServer(t, serverOpts{burst: 1})

	body := map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	}
	headers := map[string]string{"X-User-Id": "u1"}

	if w := doJSON(t, s, http.MethodPost, "/v1/chat/completions", body, headers); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/v1/chat/completions", body, headers); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
}

func TestSignatureVerification(t *testing.T) {
	s := newTestServer(t, serverOpts{secret: "s3cret"})

	payload := map[string]interface{}{"text": "How do I fix this Python error?"}
	raw, _ := json.Marshal(payload)
	raw = append(raw, '\n') // json.Encoder appends a newline

	w := doJSON(t, s, http.MethodPost, "/classify", payload, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned POST status = %d, want 401", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/classify", payload, map[string]string{
		httpclient.SignatureHeader: httpclient.Sign("s3cret", raw),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("signed POST status = %d, body = %s", w.Code, w.Body.String())
	}

	// GETs pass unsigned.
	if w := doJSON(t, s, http.MethodGet, "/health", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
}

func TestRouteFamilies(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	cases := []struct {
		text     string
		family   string
		template string
		provider string
		tag      string
	}{
		{"How do I fix this Python error?", "TECH", "none", "openrouter", "no_emotion"},
		{"I'm feeling anxious about therapy", "PSYCHOTHERAPY", "empathy_therapist", "openrouter", "psychotherapy"},
	}
	for _, tc := range cases {
		w := doJSON(t, s, http.MethodPost, "/route", map[string]interface{}{"user_text": tc.text}, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var resp struct {
			Family     string   `json:"family"`
			TemplateID string   `json:"emotion_template_id"`
			Provider   string   `json:"provider"`
			Tags       []string `json:"tags"`
		}
		decodeBody(t, w, &resp)
		if resp.Family != tc.family || resp.TemplateID != tc.template || resp.Provider != tc.provider {
			t.Fatalf("%q routed to %+v", tc.text, resp)
		}
		found := false
		for _, tag := range resp.Tags {
			if tag == tc.tag {
				found = true
			}
		}
		if !found {
			t.Fatalf("%q tags = %v, want %q", tc.text, resp.Tags, tc.tag)
		}
	}
}

func TestPolicyValidateEval(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	w := doJSON(t, s, http.MethodPost, "/policy/validate", map[string]interface{}{
		"lane": "technical",
		"text": "Here's some code: eval(user_input)",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		OK      bool `json:"ok"`
		Repairs []struct {
			Type  string `json:"type"`
			Issue string `json:"issue"`
		} `json:"repairs"`
	}
	decodeBody(t, w, &resp)
	if resp.OK {
		t.Fatal("eval( must fail validation")
	}
	found := false
	for _, r := range resp.Repairs {
		if r.Type == "filter" && strings.Contains(r.Issue, "Security") {
			found = true
		}
	}
	if !found {
		t.Fatalf("repairs = %+v", resp.Repairs)
	}
}

func TestAugmentNoneIdentity(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	w := doJSON(t, s, http.MethodPost, "/augment", map[string]interface{}{
		"system_prompt":       "You are X.",
		"emotion_template_id": "none",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		SystemPrompt  string `json:"system_prompt"`
		TemplateID    string `json:"template_id"`
		TemplateLabel string `json:"template_label"`
	}
	decodeBody(t, w, &resp)
	if resp.SystemPrompt != "You are X." {
		t.Fatalf("system_prompt = %q", resp.SystemPrompt)
	}
	if resp.TemplateID != "none" {
		t.Fatalf("template_id = %q", resp.TemplateID)
	}
}

func TestMemoryCandidateRoundTrip(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	w := doJSON(t, s, http.MethodPost, "/mem/candidates", map[string]interface{}{
		"user_id": "u1",
		"content": "I am a software engineer and I live in Berlin.",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var stored struct {
		Success         bool `json:"success"`
		TraitsExtracted int  `json:"traits_extracted"`
		EpisodeCreated  bool `json:"episode_created"`
		PIIFiltered     bool `json:"pii_filtered"`
	}
	decodeBody(t, w, &stored)
	if !stored.Success || stored.TraitsExtracted < 2 || !stored.EpisodeCreated || stored.PIIFiltered {
		t.Fatalf("candidate result = %+v", stored)
	}

	w = doJSON(t, s, http.MethodGet, "/mem/retrieve?user_id=u1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retrieve status = %d", w.Code)
	}
	var retrieved struct {
		Traits []struct {
			Key string `json:"key"`
		} `json:"traits"`
	}
	decodeBody(t, w, &retrieved)
	keys := map[string]bool{}
	for _, tr := range retrieved.Traits {
		keys[tr.Key] = true
	}
	if !keys["occupation"] || !keys["location"] {
		t.Fatalf("trait keys = %v", keys)
	}
}

func TestHealthShape(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	w := doJSON(t, s, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Status     string                 `json:"status"`
		Version    string                 `json:"version"`
		Metrics    map[string]interface{} `json:"metrics"`
		RateLimit  map[string]interface{} `json:"rate_limit"`
		TaskWorker map[string]interface{} `json:"task_worker"`
	}
	decodeBody(t, w, &resp)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Fatalf("health = %+v", resp)
	}
	if resp.Metrics == nil || resp.RateLimit == nil || resp.TaskWorker == nil {
		t.Fatalf("health sections missing: %s", w.Body.String())
	}
}

func TestMetricsExposition(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	w := doJSON(t, s, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "halcyon_requests_total") || !strings.Contains(body, "# TYPE") {
		t.Fatalf("metrics body = %q", body[:min(len(body), 200)])
	}
}

func TestUpstreamFailureMapsTo502(t *testing.T) {
	s := newTestServer(t, serverOpts{chat: &fakeChat{err: upstreamErr()}})

	w := doJSON(t, s, http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	}, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

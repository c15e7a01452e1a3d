package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
	"github.com/halcyonai/halcyon/gateway/internal/domain/routing"
	llm "github.com/halcyonai/halcyon/gateway/internal/infrastructure/llm"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/monitoring"
	"github.com/halcyonai/halcyon/gateway/internal/service/drive"
	"github.com/halcyonai/halcyon/gateway/internal/service/feeling"
	"github.com/halcyonai/halcyon/gateway/internal/service/intent"
	"github.com/halcyonai/halcyon/gateway/internal/service/memory"
	"github.com/halcyonai/halcyon/gateway/internal/service/policy"
)

// --- stubs ---

type stubIntent struct {
	classification intent.Classification
	route          intent.Route
	err            error
}

func (s *stubIntent) Classify(_ context.Context, _ intent.ClassifyRequest) (*intent.Classification, error) {
	if s.err != nil {
		return nil, s.err
	}
	c := s.classification
	return &c, nil
}

func (s *stubIntent) Route(_ context.Context, _ string) (*intent.Route, error) {
	if s.err != nil {
		return nil, s.err
	}
	r := s.route
	return &r, nil
}

type candidate struct {
	userID     string
	content    string
	confidence float64
}

type stubMemory struct {
	mu         sync.Mutex
	summary    string
	episodes   []memory.Episode
	err        error
	candidates []candidate
	stored     chan candidate
}

func (s *stubMemory) Retrieve(_ context.Context, userID, _ string, _ int, _ float64) (*memory.RetrieveResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &memory.RetrieveResult{UserID: userID, Episodes: s.episodes}, nil
}

func (s *stubMemory) Summary(_ context.Context, userID string) (*memory.SummaryResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &memory.SummaryResult{UserID: userID, Summary: s.summary}, nil
}

func (s *stubMemory) StoreCandidate(_ context.Context, userID, content string, confidence float64) error {
	c := candidate{userID: userID, content: content, confidence: confidence}
	s.mu.Lock()
	s.candidates = append(s.candidates, c)
	s.mu.Unlock()
	if s.stored != nil {
		s.stored <- c
	}
	return nil
}

type stubFeeling struct {
	affect      feeling.Affect
	tone        feeling.TonePolicy
	err         error
	critiqueCap int
}

func (s *stubFeeling) Analyze(_ context.Context, _ string) (*feeling.Affect, error) {
	if s.err != nil {
		return nil, s.err
	}
	a := s.affect
	return &a, nil
}

func (s *stubFeeling) Tone(_ context.Context, _, _ string) (*feeling.TonePolicy, error) {
	if s.err != nil {
		return nil, s.err
	}
	t := s.tone
	return &t, nil
}

// Critique enforces the word cap like the real engine, so a too-small cap
// would visibly truncate the draft.
func (s *stubFeeling) Critique(_ context.Context, text string, maxTokens int) (string, error) {
	s.critiqueCap = maxTokens
	words := strings.Fields(text)
	if len(words) > maxTokens {
		words = words[:maxTokens]
	}
	return strings.Join(words, " "), nil
}

func (s *stubFeeling) Augment(_ context.Context, systemPrompt, _ string) (string, error) {
	return systemPrompt, nil
}

type stubDrive struct {
	state  drive.State
	policy drive.Policy
	err    error
}

func (s *stubDrive) State(_ context.Context, _ string) (*drive.State, error) {
	if s.err != nil {
		return nil, s.err
	}
	st := s.state
	return &st, nil
}

func (s *stubDrive) StylePolicy(_ context.Context, _ string) (*drive.Policy, error) {
	if s.err != nil {
		return nil, s.err
	}
	p := s.policy
	return &p, nil
}

type stubPolicy struct {
	applied   policy.Applied
	validated policy.Validated
	applyErr  error

	mu            sync.Mutex
	validatedText string
}

func (s *stubPolicy) Apply(_ context.Context, _ string, _ policy.Affect, _ policy.Drive) (*policy.Applied, error) {
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	a := s.applied
	return &a, nil
}

func (s *stubPolicy) Validate(_ context.Context, _, text string) (*policy.Validated, error) {
	s.mu.Lock()
	s.validatedText = text
	s.mu.Unlock()
	v := s.validated
	return &v, nil
}

type stubTelemetry struct {
	mu     sync.Mutex
	events []string
}

func (s *stubTelemetry) Log(_ context.Context, event string, _ map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubTelemetry) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

type stubProvider struct {
	name      string
	available bool
	chatErr   error
	content   string
	deltas    []string

	mu       sync.Mutex
	requests []*llm.ChatRequest
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return s.available }

func (s *stubProvider) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return &llm.ChatResponse{Content: s.content, Model: req.Model, TokensUsed: 7}, nil
}

func (s *stubProvider) ChatStream(_ context.Context, req *llm.ChatRequest, deltaCh chan<- llm.StreamChunk) (*llm.ChatResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	var b strings.Builder
	for _, d := range s.deltas {
		b.WriteString(d)
		deltaCh <- llm.StreamChunk{DeltaText: d}
	}
	deltaCh <- llm.StreamChunk{FinishReason: "stop"}
	return &llm.ChatResponse{Content: b.String(), Model: req.Model, TokensUsed: 5}, nil
}

type testEnv struct {
	pipeline  *Pipeline
	intent    *stubIntent
	memory    *stubMemory
	feeling   *stubFeeling
	drive     *stubDrive
	policy    *stubPolicy
	telemetry *stubTelemetry
	remote    *stubProvider
	local     *stubProvider
}

func newTestEnv() *testEnv {
	env := &testEnv{
		intent: &stubIntent{
			classification: intent.Classification{Intent: "technical", Confidence: 0.9},
			route: intent.Route{
				Family:            "TECH",
				EmotionTemplateID: "none",
				Provider:          routing.ProviderRemote,
				ModelPriority:     []string{"backup-model"},
			},
		},
		memory: &stubMemory{
			summary: "Key traits: name: Kim",
			episodes: []memory.Episode{
				{ID: "e1", Summary: "Asked about harbor walks"},
			},
		},
		feeling: &stubFeeling{
			affect: feeling.Affect{Sentiment: "positive", Emotions: []string{"joy"}, DialogAct: "question", Urgency: "low", Confidence: 0.8},
			tone:   feeling.TonePolicy{TonePolicies: []string{"use precise terminology", "provide examples"}, PrimaryTone: "technical", Confidence: 0.8},
		},
		drive: &stubDrive{
			state:  drive.State{UserID: "u1", Energy: 0.6, Curiosity: 0.5, EmpathyReserve: 0.5},
			policy: drive.Policy{EnergyLevel: "moderate", StyleHints: []string{"balanced, adaptive approach"}, Focus: 0.5},
		},
		policy: &stubPolicy{
			applied:   policy.Applied{SystemFinal: "POLICY PROMPT"},
			validated: policy.Validated{OK: true},
		},
		telemetry: &stubTelemetry{},
		remote:    &stubProvider{name: routing.ProviderRemote, available: true, content: "remote answer"},
		local:     &stubProvider{name: routing.ProviderLocal, available: true, content: "local answer"},
	}

	failover := llm.NewFailover(zap.NewNop())
	failover.SetRetryPolicy(1, time.Millisecond)

	route := routing.NewPolicy(routing.Models{
		Vision:       "vision-model",
		Explicit:     "explicit-model",
		Coder:        "coder-model",
		ToolCall:     "toolcall-model",
		DefaultLocal: "q4_7b.gguf",
	}, func() bool { return env.remote.available }, func() bool { return env.local.available }, zap.NewNop())

	env.pipeline = New(Deps{
		Intent:    env.intent,
		Memory:    env.memory,
		Feeling:   env.feeling,
		Drive:     env.drive,
		Policy:    env.policy,
		Telemetry: env.telemetry,
		Providers: map[string]llm.Provider{
			routing.ProviderRemote: env.remote,
			routing.ProviderLocal:  env.local,
		},
		Failover: failover,
		Routing:  route,
		Monitor:  monitoring.NewMonitor(zap.NewNop()),
		Logger:   zap.NewNop(),
	}, Config{
		BaseSystem:        "You are Halcyon.",
		MaxToolIters:      3,
		Temperature:       0.3,
		DefaultLocalModel: "q4_7b.gguf",
	})
	return env
}

func userRequest(text string) *Request {
	return &Request{UserID: "u1", Messages: []chat.Message{chat.User(text)}}
}

// --- tests ---

func TestProcessChatAddendaOrder(t *testing.T) {
	env := newTestEnv()

	resp, err := env.pipeline.ProcessChat(context.Background(), userRequest("good morning friend"))
	if err != nil {
		t.Fatalf("ProcessChat() error = %v", err)
	}
	if resp.Content != "remote answer" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.Provider != routing.ProviderRemote || resp.Model != "toolcall-model" {
		t.Fatalf("routed to %s/%s", resp.Provider, resp.Model)
	}

	req := env.remote.requests[0]
	prefixes := []string{
		"POLICY PROMPT",
		"You are Halcyon.",
		"[MEMORY SUMMARY]",
		"[RELEVANT EPISODES]",
		"[AFFECT] ",
		"[TONE_POLICY] ",
		"[DRIVE_HINTS] ",
	}
	if len(req.Messages) != len(prefixes)+1 {
		t.Fatalf("message count = %d", len(req.Messages))
	}
	for i, prefix := range prefixes {
		if req.Messages[i].Role != "system" {
			t.Fatalf("message %d role = %q", i, req.Messages[i].Role)
		}
		if !strings.HasPrefix(req.Messages[i].Content, prefix) {
			t.Fatalf("message %d = %q, want prefix %q", i, req.Messages[i].Content, prefix)
		}
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || last.Content != "good morning friend" {
		t.Fatalf("last message = %+v", last)
	}
}

func TestProcessChatBranchFailureDefaults(t *testing.T) {
	env := newTestEnv()
	env.memory.err = errors.New("store down")

	resp, err := env.pipeline.ProcessChat(context.Background(), userRequest("good morning friend"))
	if err != nil {
		t.Fatalf("branch failure must not abort the request: %v", err)
	}
	if resp.Content != "remote answer" {
		t.Fatalf("content = %q", resp.Content)
	}

	for _, m := range env.remote.requests[0].Messages {
		if strings.HasPrefix(m.Content, "[MEMORY SUMMARY]") || strings.HasPrefix(m.Content, "[RELEVANT EPISODES]") {
			t.Fatalf("memory addendum present despite failure: %q", m.Content)
		}
	}
	if env.telemetry.count("enrichment_failure") < 2 {
		t.Fatalf("enrichment failures not reported: %v", env.telemetry.events)
	}
}

func TestProcessChatRepairSubstitution(t *testing.T) {
	env := newTestEnv()
	env.policy.validated = policy.Validated{
		OK:       false,
		Repairs:  []policy.Repair{{Type: "filter", Issue: "Security vulnerability detected"}},
		Repaired: "repaired answer",
	}

	resp, err := env.pipeline.ProcessChat(context.Background(), userRequest("good morning friend"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "repaired answer" {
		t.Fatalf("content = %q", resp.Content)
	}

	env.policy.mu.Lock()
	validated := env.policy.validatedText
	env.policy.mu.Unlock()
	if validated != "remote answer" {
		t.Fatalf("validated text = %q", validated)
	}
}

func TestProcessChatLongDraftSurvivesCritic(t *testing.T) {
	env := newTestEnv()

	words := make([]string, 150)
	for i := range words {
		words[i] = "word" + strconv.Itoa(i)
	}
	long := strings.Join(words, " ")
	env.remote.content = long

	resp, err := env.pipeline.ProcessChat(context.Background(), userRequest("good morning friend"))
	if err != nil {
		t.Fatalf("ProcessChat() error = %v", err)
	}
	if resp.Content != long {
		t.Fatalf("cleanup cut the draft: %d words, want %d", len(strings.Fields(resp.Content)), len(words))
	}
	if env.feeling.critiqueCap != len(words) {
		t.Fatalf("critique cap = %d, want the draft length %d", env.feeling.critiqueCap, len(words))
	}
}

func TestProcessChatEmptyMessages(t *testing.T) {
	env := newTestEnv()
	if _, err := env.pipeline.ProcessChat(context.Background(), &Request{UserID: "u1"}); err == nil {
		t.Fatal("empty messages must error")
	}
}

func TestProcessChatKeepsLocalForLocalFamilies(t *testing.T) {
	env := newTestEnv()
	env.intent.classification = intent.Classification{Intent: "general", Confidence: 0.9}
	env.intent.route = intent.Route{
		Family:            "OPEN_ENDED",
		EmotionTemplateID: "stakes",
		Provider:          routing.ProviderLocal,
	}

	resp, err := env.pipeline.ProcessChat(context.Background(), userRequest("good morning friend"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != routing.ProviderLocal || resp.Model != "q4_7b.gguf" {
		t.Fatalf("routed to %s/%s, want local default", resp.Provider, resp.Model)
	}
	if resp.Content != "local answer" {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestProcessChatEscalationOverridesLocalFamily(t *testing.T) {
	env := newTestEnv()
	env.intent.route = intent.Route{
		Family:            "OPEN_ENDED",
		EmotionTemplateID: "stakes",
		Provider:          routing.ProviderLocal,
	}

	// The escalation heuristic trips on the length bound.
	resp, err := env.pipeline.ProcessChat(context.Background(), userRequest(strings.Repeat("a", escalationLength)))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != routing.ProviderRemote {
		t.Fatalf("provider = %s, want remote", resp.Provider)
	}
}

func TestProcessChatFallsBackToLocal(t *testing.T) {
	env := newTestEnv()
	env.remote.chatErr = &llm.APIError{StatusCode: 500, Body: "upstream down"}

	resp, err := env.pipeline.ProcessChat(context.Background(), userRequest("good morning friend"))
	if err != nil {
		t.Fatalf("fallback should recover: %v", err)
	}
	if resp.Provider != routing.ProviderLocal {
		t.Fatalf("provider = %s, want local fallback", resp.Provider)
	}
	if resp.Content != "local answer" {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestProcessChatMemoryCandidates(t *testing.T) {
	env := newTestEnv()
	env.memory.stored = make(chan candidate, 4)

	if _, err := env.pipeline.ProcessChat(context.Background(), userRequest("good morning friend")); err != nil {
		t.Fatal(err)
	}

	got := map[string]float64{}
	for i := 0; i < 2; i++ {
		select {
		case c := <-env.memory.stored:
			got[c.content] = c.confidence
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for candidates, got %v", got)
		}
	}
	if got["good morning friend"] != 0.7 {
		t.Fatalf("user candidate confidence = %v", got["good morning friend"])
	}
	if got["remote answer"] != 0.6 {
		t.Fatalf("assistant candidate confidence = %v", got["remote answer"])
	}
}

func TestProcessChatStreamRelaysDeltas(t *testing.T) {
	env := newTestEnv()
	env.remote.deltas = []string{"hel", "lo ", "there"}

	deltas := make(chan string, 16)
	resp, err := env.pipeline.ProcessChatStream(context.Background(), userRequest("good morning friend"), deltas)
	if err != nil {
		t.Fatalf("ProcessChatStream() error = %v", err)
	}
	close(deltas)

	var relayed []string
	for d := range deltas {
		relayed = append(relayed, d)
	}
	if strings.Join(relayed, "") != "hello there" {
		t.Fatalf("relayed = %v", relayed)
	}
	if resp.Content != "hello there" {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestEscalationHeuristic(t *testing.T) {
	cases := []struct {
		name string
		text string
		want bool
	}{
		{"plain greeting", "hello there", false},
		{"code fence", "look at this:\n```\nx = 1\n```", true},
		{"language keyword", "what does def do in this snippet", true},
		{"include directive", `why is #include <stdio.h> needed`, true},
		{"complexity keyword", "please optimize this query", true},
		{"upscale signal", "use gpt-4 for this one", true},
		{"boundary below", strings.Repeat("a", escalationLength-1), false},
		{"boundary at", strings.Repeat("a", escalationLength), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := escalate(tc.text); got != tc.want {
				t.Fatalf("escalate(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

package toolloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
	llm "github.com/halcyonai/halcyon/gateway/internal/infrastructure/llm"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/monitoring"
)

type scriptedCaller struct {
	responses []*llm.ChatResponse
	calls     int
	requests  []*llm.ChatRequest
}

func (s *scriptedCaller) call(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	s.requests = append(s.requests, req)
	if s.calls >= len(s.responses) {
		return nil, errors.New("no scripted response left")
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

type fakeExecutor struct {
	results map[string]interface{}
	errs    map[string]error
	calls   []string
}

func (f *fakeExecutor) Exec(_ context.Context, name string, args map[string]interface{}) (interface{}, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if res, ok := f.results[name]; ok {
		return res, nil
	}
	return map[string]interface{}{"ok": true}, nil
}

func newTestLoop(caller *scriptedCaller, exec ToolExecutor, maxIters int) *Loop {
	return New(caller.call, exec, monitoring.NewMonitor(zap.NewNop()), zap.NewNop(), maxIters, 0.3)
}

func TestRunNoToolCalls(t *testing.T) {
	caller := &scriptedCaller{responses: []*llm.ChatResponse{
		{Content: "plain answer", TokensUsed: 12},
	}}
	loop := newTestLoop(caller, &fakeExecutor{}, 3)

	res, err := loop.Run(context.Background(), "m", []chat.Message{chat.User("hi")}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Draft != "plain answer" {
		t.Fatalf("Draft = %q", res.Draft)
	}
	if caller.calls != 1 {
		t.Fatalf("expected 1 model call, got %d", caller.calls)
	}
	if res.TokensUsed != 12 {
		t.Fatalf("TokensUsed = %d", res.TokensUsed)
	}
}

func TestRunExecutesToolsSequentially(t *testing.T) {
	caller := &scriptedCaller{responses: []*llm.ChatResponse{
		{
			Content: "checking",
			ToolCalls: []chat.ToolCall{
				{ID: "1", Name: "weather", Arguments: map[string]interface{}{"city": "oslo"}},
				{ID: "2", Name: "clock", Arguments: map[string]interface{}{}},
			},
		},
		{Content: "final answer"},
	}}
	exec := &fakeExecutor{results: map[string]interface{}{
		"weather": map[string]interface{}{"temp": 8},
	}}
	loop := newTestLoop(caller, exec, 3)

	res, err := loop.Run(context.Background(), "m", []chat.Message{chat.User("weather?")}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Draft != "final answer" {
		t.Fatalf("Draft = %q", res.Draft)
	}
	if len(exec.calls) != 2 || exec.calls[0] != "weather" || exec.calls[1] != "clock" {
		t.Fatalf("tool execution order wrong: %v", exec.calls)
	}
	if res.Iterations != 1 {
		t.Fatalf("Iterations = %d", res.Iterations)
	}

	// Second round must see the assistant turn plus two tool results.
	second := caller.requests[1].Messages
	if len(second) != 4 {
		t.Fatalf("second round message count = %d", len(second))
	}
	if second[1].Role != "assistant" || second[1].Content != "checking" {
		t.Fatalf("assistant turn not preserved: %+v", second[1])
	}
	if second[2].Role != "tool" || second[2].Name != "weather" {
		t.Fatalf("tool result missing: %+v", second[2])
	}
	if !strings.Contains(second[2].Content, `"temp":8`) {
		t.Fatalf("tool result not JSON-encoded: %q", second[2].Content)
	}
}

func TestRunToolErrorBecomesContent(t *testing.T) {
	caller := &scriptedCaller{responses: []*llm.ChatResponse{
		{ToolCalls: []chat.ToolCall{{ID: "1", Name: "broken"}}},
		{Content: "recovered"},
	}}
	exec := &fakeExecutor{errs: map[string]error{"broken": fmt.Errorf("upstream 500")}}
	loop := newTestLoop(caller, exec, 3)

	res, err := loop.Run(context.Background(), "m", []chat.Message{chat.User("x")}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Draft != "recovered" {
		t.Fatalf("Draft = %q", res.Draft)
	}
	toolMsg := caller.requests[1].Messages[2]
	if !strings.Contains(toolMsg.Content, "upstream 500") {
		t.Fatalf("tool error not surfaced as content: %q", toolMsg.Content)
	}
}

func TestRunZeroItersReturnsFirstResponse(t *testing.T) {
	caller := &scriptedCaller{responses: []*llm.ChatResponse{
		{Content: "raw", ToolCalls: []chat.ToolCall{{ID: "1", Name: "never"}}},
	}}
	exec := &fakeExecutor{}
	loop := newTestLoop(caller, exec, 0)

	res, err := loop.Run(context.Background(), "m", []chat.Message{chat.User("x")}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Draft != "raw" {
		t.Fatalf("Draft = %q", res.Draft)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("tools must not run with a zero budget, ran %v", exec.calls)
	}
	if caller.calls != 1 {
		t.Fatalf("model calls = %d", caller.calls)
	}
}

func TestRunBudgetExhaustedKeepsLastText(t *testing.T) {
	// Model keeps asking for tools every round.
	loopResp := &llm.ChatResponse{
		Content:   "still working",
		ToolCalls: []chat.ToolCall{{ID: "1", Name: "t"}},
	}
	caller := &scriptedCaller{responses: []*llm.ChatResponse{loopResp, loopResp, loopResp, loopResp}}
	loop := newTestLoop(caller, &fakeExecutor{}, 3)

	res, err := loop.Run(context.Background(), "m", []chat.Message{chat.User("x")}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if caller.calls != 4 {
		t.Fatalf("expected 1 + 3 model calls, got %d", caller.calls)
	}
	if res.Draft != "still working" {
		t.Fatalf("Draft = %q", res.Draft)
	}
}

package toolloop

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
	llm "github.com/halcyonai/halcyon/gateway/internal/infrastructure/llm"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/monitoring"
)

// Defaults for the loop.
const (
	DefaultMaxIters    = 3
	DefaultTemperature = 0.3
)

// ChatFunc issues one completion round. The pipeline binds this to the
// selected provider wrapped in failover.
type ChatFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

// ToolExecutor runs one named tool with parsed arguments.
type ToolExecutor interface {
	Exec(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
}

// Result is the outcome of a full loop run.
type Result struct {
	Draft      string
	Messages   []chat.Message
	TokensUsed int
	Iterations int
	ToolsUsed  []string
}

// Loop drives the bounded tool-call conversation with a model.
//
// Each round sends the running message list plus the tool schema; when the
// model answers with tool_calls they run sequentially and their results are
// appended as tool messages before the next round. The loop ends when the
// model returns plain text or the iteration budget runs out, in which case
// the last text stands even if empty. With a zero budget the first response
// is returned as-is, tool calls and all.
type Loop struct {
	call        ChatFunc
	executor    ToolExecutor
	monitor     *monitoring.Monitor
	logger      *zap.Logger
	maxIters    int
	temperature float64
}

// New creates a tool loop. maxIters < 0 selects the default.
func New(call ChatFunc, executor ToolExecutor, monitor *monitoring.Monitor, logger *zap.Logger, maxIters int, temperature float64) *Loop {
	if maxIters < 0 {
		maxIters = DefaultMaxIters
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	return &Loop{
		call:        call,
		executor:    executor,
		monitor:     monitor,
		logger:      logger,
		maxIters:    maxIters,
		temperature: temperature,
	}
}

// Run executes the loop and returns the final draft.
func (l *Loop) Run(ctx context.Context, model string, messages []chat.Message, tools []chat.ToolDefinition) (*Result, error) {
	working := make([]chat.Message, len(messages))
	copy(working, messages)

	result := &Result{}

	resp, err := l.round(ctx, model, working, tools)
	if err != nil {
		return nil, err
	}
	result.TokensUsed += resp.TokensUsed

	for iter := 0; iter < l.maxIters; iter++ {
		if len(resp.ToolCalls) == 0 {
			break
		}
		result.Iterations = iter + 1

		working = l.appendAssistantTurn(working, resp)

		for _, tc := range resp.ToolCalls {
			working = append(working, l.executeTool(ctx, tc))
			result.ToolsUsed = append(result.ToolsUsed, tc.Name)
		}

		resp, err = l.round(ctx, model, working, tools)
		if err != nil {
			return nil, err
		}
		result.TokensUsed += resp.TokensUsed
	}

	result.Draft = resp.Content
	result.Messages = working
	return result, nil
}

func (l *Loop) round(ctx context.Context, model string, messages []chat.Message, tools []chat.ToolDefinition) (*llm.ChatResponse, error) {
	l.monitor.IncModelCall()
	resp, err := l.call(ctx, &llm.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: l.temperature,
		Tools:       tools,
	})
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	return resp, nil
}

// appendAssistantTurn records the assistant message that carried the tool
// calls. Assistant text alongside tool_calls stays in the transcript for
// context continuity.
func (l *Loop) appendAssistantTurn(messages []chat.Message, resp *llm.ChatResponse) []chat.Message {
	return append(messages, chat.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
}

// executeTool runs one tool call and returns its tool message. Execution
// errors become tool content so the model can react instead of the request
// failing.
func (l *Loop) executeTool(ctx context.Context, tc chat.ToolCall) chat.Message {
	l.monitor.IncToolCall()

	args := tc.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	out, err := l.executor.Exec(ctx, tc.Name, args)
	if err != nil {
		l.monitor.IncToolCallFailed()
		l.logger.Warn("Tool execution failed",
			zap.String("tool", tc.Name),
			zap.Error(err),
		)
		return chat.ToolResult(tc.ID, tc.Name, fmt.Sprintf(`{"error":%q}`, err.Error()))
	}

	content, err := json.Marshal(out)
	if err != nil {
		l.monitor.IncToolCallFailed()
		return chat.ToolResult(tc.ID, tc.Name, fmt.Sprintf(`{"error":%q}`, "unencodable tool result"))
	}

	l.logger.Debug("Tool executed",
		zap.String("tool", tc.Name),
		zap.Int("result_bytes", len(content)),
	)
	return chat.ToolResult(tc.ID, tc.Name, string(content))
}

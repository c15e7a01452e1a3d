package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
	"github.com/halcyonai/halcyon/gateway/internal/domain/pipeline"
	apperrors "github.com/halcyonai/halcyon/gateway/pkg/errors"
)

// handlers carries the route implementations.
type handlers struct {
	cfg  Config
	deps Deps
}

// chatCompletionRequest mirrors the OpenAI request format. Message content
// may be a plain string or a multimodal parts array.
type chatCompletionRequest struct {
	Model       string         `json:"model"`
	Messages    []chat.Message `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
	Stream      bool           `json:"stream"`
	User        string         `json:"user"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      chat.Message `json:"message"`
	FinishReason string       `json:"finish_reason"`
}

type chatUsage struct {
	TotalTokens int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	ID       string       `json:"id"`
	Object   string       `json:"object"`
	Created  int64        `json:"created"`
	Model    string       `json:"model"`
	Provider string       `json:"provider,omitempty"`
	Intent   string       `json:"intent,omitempty"`
	Choices  []chatChoice `json:"choices"`
	Usage    *chatUsage   `json:"usage,omitempty"`
}

// chatCompletions handles POST /v1/chat/completions.
func (h *handlers) chatCompletions(c *gin.Context) {
	var req chatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeChatError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		writeChatError(c, apperrors.NewInvalidRequestError("messages array must not be empty"))
		return
	}

	if req.Stream {
		h.streamResponse(c, &req)
		return
	}

	resp, err := h.deps.Chat.ProcessChat(c.Request.Context(), &pipeline.Request{
		RequestID:   c.GetString(requestIDKey),
		UserID:      userOf(c, &req),
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		h.writeChatFailure(c, err)
		return
	}

	c.JSON(http.StatusOK, chatCompletionResponse{
		ID:       resp.ID,
		Object:   "chat.completion",
		Created:  resp.Created,
		Model:    resp.Model,
		Provider: resp.Provider,
		Intent:   resp.Intent,
		Choices: []chatChoice{
			{
				Index:        0,
				Message:      chat.Assistant(resp.Content),
				FinishReason: "stop",
			},
		},
		Usage: &chatUsage{TotalTokens: resp.TokensUsed},
	})
}

// chatStream handles POST /v1/chat/completions/stream: newline-delimited
// JSON {"delta":"…"} frames terminated by a literal [DONE] line.
func (h *handlers) chatStream(c *gin.Context) {
	var req chatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeChatError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		writeChatError(c, apperrors.NewInvalidRequestError("messages array must not be empty"))
		return
	}
	h.streamResponse(c, &req)
}

type streamOutcome struct {
	resp *pipeline.Response
	err  error
}

func (h *handlers) streamResponse(c *gin.Context, req *chatCompletionRequest) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	deltas := make(chan string, 32)
	outcome := make(chan streamOutcome, 1)

	go func() {
		resp, err := h.deps.Chat.ProcessChatStream(c.Request.Context(), &pipeline.Request{
			RequestID:   c.GetString(requestIDKey),
			UserID:      userOf(c, req),
			Model:       req.Model,
			Messages:    req.Messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}, deltas)
		close(deltas)
		outcome <- streamOutcome{resp: resp, err: err}
	}()

	for delta := range deltas {
		writeStreamLine(c.Writer, map[string]string{"delta": delta})
		c.Writer.Flush()
	}

	result := <-outcome
	if result.err != nil {
		h.deps.Logger.Warn("Stream ended with error",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(result.err),
		)
		writeStreamLine(c.Writer, map[string]string{"error": result.err.Error()})
	}
	io.WriteString(c.Writer, "[DONE]\n")
	c.Writer.Flush()
}

func writeStreamLine(w io.Writer, frame map[string]string) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "%s\n", data)
}

// listModels handles GET /v1/models.
func (h *handlers) listModels(c *gin.Context) {
	type model struct {
		ID     string `json:"id"`
		Object string `json:"object"`
	}
	data := make([]model, 0, len(h.cfg.Models))
	for _, id := range h.cfg.Models {
		data = append(data, model{ID: id, Object: "model"})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// listTools handles GET /v1/tools, proxying the tool hub schema.
func (h *handlers) listTools(c *gin.Context) {
	if h.deps.Tools == nil {
		c.JSON(http.StatusOK, gin.H{"tools": []chat.ToolDefinition{}})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	defs, err := h.deps.Tools.Definitions(ctx)
	if err != nil {
		writeEngineError(c, apperrors.NewUpstreamError("tool hub unreachable", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": defs})
}

// writeChatFailure maps pipeline errors onto the error table, counting
// timeouts separately.
func (h *handlers) writeChatFailure(c *gin.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) || apperrors.IsTimeout(err) {
		h.deps.Monitor.IncTimeout()
		writeChatError(c, apperrors.NewTimeoutError("pipeline timeout exceeded"))
		return
	}
	writeChatError(c, err)
}

func writeChatError(c *gin.Context, err error) {
	status := apperrors.StatusOf(err)
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": err.Error(),
			"type":    errorType(status),
		},
	})
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusBadGateway:
		return "upstream_error"
	case http.StatusServiceUnavailable:
		return "no_provider_available"
	default:
		return "server_error"
	}
}

func userOf(c *gin.Context, req *chatCompletionRequest) string {
	if req.User != "" {
		return req.User
	}
	return c.GetHeader("X-User-Id")
}

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	llm "github.com/halcyonai/halcyon/gateway/internal/infrastructure/llm"
)

func init() {
	llm.RegisterFactory("ollama", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider is the local inference backend speaking the Ollama chat API.
// Tool definitions are not forwarded; local lanes run without tools.
type Provider struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// New creates a local provider.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          5,
	}

	return &Provider{
		name:    cfg.Name,
		baseURL: baseURL,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "ollama")),
	}
}

// Compile-time interface check
var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }

func (p *Provider) Available() bool { return p.baseURL != "" }

type apiRequest struct {
	Model    string       `json:"model"`
	Messages []apiMessage `json:"messages"`
	Stream   bool         `json:"stream"`
	Options  apiOptions   `json:"options"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiOptions struct {
	Temperature float64 `json:"temperature"`
}

type apiResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	EvalCount       int  `json:"eval_count"`
	PromptEvalCount int  `json:"prompt_eval_count"`
}

func (p *Provider) buildRequest(req *llm.ChatRequest, stream bool) *apiRequest {
	apiReq := &apiRequest{
		Model:   req.Model,
		Stream:  stream,
		Options: apiOptions{Temperature: req.Temperature},
	}
	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, apiMessage{
			Role:    msg.Role,
			Content: msg.Text(),
		})
	}
	return apiReq
}

// Chat performs a blocking completion against /api/chat.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &llm.APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	tokens := apiResp.EvalCount + apiResp.PromptEvalCount
	if tokens == 0 {
		tokens = len(apiResp.Message.Content) / 4
	}

	return &llm.ChatResponse{
		Content:    apiResp.Message.Content,
		Model:      req.Model,
		TokensUsed: tokens,
	}, nil
}

// ChatStream streams newline-delimited JSON chunks from /api/chat.
func (p *Provider) ChatStream(ctx context.Context, req *llm.ChatRequest, deltaCh chan<- llm.StreamChunk) (*llm.ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &llm.APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	var tokens int

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		var chunk apiResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			p.logger.Debug("Skip unparseable stream chunk", zap.Error(err))
			continue
		}

		if chunk.Message.Content != "" {
			contentBuilder.WriteString(chunk.Message.Content)
			deltaCh <- llm.StreamChunk{DeltaText: chunk.Message.Content}
		}

		if chunk.Done {
			tokens = chunk.EvalCount + chunk.PromptEvalCount
			deltaCh <- llm.StreamChunk{FinishReason: "stop"}
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream scan error: %w", err)
	}

	content := contentBuilder.String()
	if tokens == 0 {
		tokens = len(content) / 4
	}

	return &llm.ChatResponse{
		Content:    content,
		Model:      req.Model,
		TokensUsed: tokens,
	}, nil
}

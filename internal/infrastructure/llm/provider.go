package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
)

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []chat.Message
	Temperature float64
	MaxTokens   int
	Tools       []chat.ToolDefinition
}

// ChatResponse is the provider's reply.
type ChatResponse struct {
	Content    string
	ToolCalls  []chat.ToolCall
	Model      string
	TokensUsed int
}

// StreamChunk is one delta from a streaming completion.
type StreamChunk struct {
	DeltaText    string
	FinishReason string
}

// Provider is a chat completion backend.
type Provider interface {
	// Name returns the provider identifier ("openrouter", "local").
	Name() string

	// Available reports whether the provider is configured and reachable.
	Available() bool

	// Chat performs a blocking completion.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatStream streams deltas to deltaCh and returns the accumulated
	// response. The caller must drain deltaCh.
	ChatStream(ctx context.Context, req *ChatRequest, deltaCh chan<- StreamChunk) (*ChatResponse, error)
}

// ProviderConfig holds configuration for a provider instance.
type ProviderConfig struct {
	Name    string
	Type    string // "openai" (default) | "ollama"
	BaseURL string
	APIKey  string
}

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error %d: %s", e.StatusCode, e.Body)
}

// retryableStatuses are provider statuses worth a backoff-and-retry.
var retryableStatuses = map[int]bool{
	402: true, 408: true, 409: true, 429: true,
	500: true, 502: true, 503: true, 504: true,
}

// IsRetryable reports whether a provider error should trigger a retry or a
// failover to the next model. Network errors are retryable; non-2xx
// statuses only when listed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return retryableStatuses[apiErr.StatusCode]
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Transport-level failures arrive as url.Error wrapping net errors.
	return errors.Is(err, context.DeadlineExceeded)
}

// --- Provider Factory Registry ---
// Providers register themselves via init() in their own package.

// ProviderFactory creates a Provider from config.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider creates a Provider using the registered factory for cfg.Type.
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "openai"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}

	return factory(cfg, logger), nil
}

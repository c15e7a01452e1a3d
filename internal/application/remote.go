package application

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
	"github.com/halcyonai/halcyon/gateway/internal/domain/pipeline"
	"github.com/halcyonai/halcyon/gateway/internal/domain/toolloop"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/httpclient"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/monitoring"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/redisstore"
	"github.com/halcyonai/halcyon/gateway/internal/service/drive"
	"github.com/halcyonai/halcyon/gateway/internal/service/feeling"
	"github.com/halcyonai/halcyon/gateway/internal/service/intent"
	"github.com/halcyonai/halcyon/gateway/internal/service/memory"
	"github.com/halcyonai/halcyon/gateway/internal/service/policy"
)

// Remote adapters. When services.json maps a service to a base URL, the
// orchestrator talks to it over signed JSON instead of the in-process engine.

type remoteIntent struct {
	client *httpclient.Client
	base   string
}

var _ pipeline.IntentService = (*remoteIntent)(nil)

func (s *remoteIntent) Classify(ctx context.Context, req intent.ClassifyRequest) (*intent.Classification, error) {
	var out intent.Classification
	if err := s.client.PostJSON(ctx, s.base+"/classify", req, &out); err != nil {
		return nil, fmt.Errorf("intent classify: %w", err)
	}
	return &out, nil
}

func (s *remoteIntent) Route(ctx context.Context, text string) (*intent.Route, error) {
	var out intent.Route
	body := map[string]interface{}{"user_text": text}
	if err := s.client.PostJSON(ctx, s.base+"/route", body, &out); err != nil {
		return nil, fmt.Errorf("intent route: %w", err)
	}
	return &out, nil
}

type remoteMemory struct {
	client *httpclient.Client
	base   string
}

var _ pipeline.MemoryService = (*remoteMemory)(nil)

func (s *remoteMemory) Retrieve(ctx context.Context, userID, query string, limit int, minConfidence float64) (*memory.RetrieveResult, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("intent", query)
	q.Set("k", strconv.Itoa(limit))
	q.Set("min_confidence", strconv.FormatFloat(minConfidence, 'f', -1, 64))

	var out memory.RetrieveResult
	if err := s.client.GetJSON(ctx, s.base+"/mem/retrieve?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("memory retrieve: %w", err)
	}
	return &out, nil
}

func (s *remoteMemory) Summary(ctx context.Context, userID string) (*memory.SummaryResult, error) {
	var out memory.SummaryResult
	if err := s.client.GetJSON(ctx, s.base+"/mem/summary?user_id="+url.QueryEscape(userID), &out); err != nil {
		return nil, fmt.Errorf("memory summary: %w", err)
	}
	return &out, nil
}

func (s *remoteMemory) StoreCandidate(ctx context.Context, userID, content string, confidence float64) error {
	body := map[string]interface{}{
		"user_id":    userID,
		"content":    content,
		"confidence": confidence,
	}
	if err := s.client.PostJSON(ctx, s.base+"/mem/candidates", body, nil); err != nil {
		return fmt.Errorf("memory candidate: %w", err)
	}
	return nil
}

type remoteFeeling struct {
	client *httpclient.Client
	base   string
}

var _ pipeline.FeelingService = (*remoteFeeling)(nil)

func (s *remoteFeeling) Analyze(ctx context.Context, text string) (*feeling.Affect, error) {
	var out feeling.Affect
	if err := s.client.PostJSON(ctx, s.base+"/affect/analyze", map[string]string{"text": text}, &out); err != nil {
		return nil, fmt.Errorf("affect analyze: %w", err)
	}
	return &out, nil
}

func (s *remoteFeeling) Tone(ctx context.Context, text, targetAudience string) (*feeling.TonePolicy, error) {
	var out feeling.TonePolicy
	body := map[string]string{"text": text, "target_audience": targetAudience}
	if err := s.client.PostJSON(ctx, s.base+"/affect/tone", body, &out); err != nil {
		return nil, fmt.Errorf("affect tone: %w", err)
	}
	return &out, nil
}

func (s *remoteFeeling) Critique(ctx context.Context, text string, maxTokens int) (string, error) {
	var out feeling.Critique
	body := map[string]interface{}{"text": text, "max_tokens": maxTokens}
	if err := s.client.PostJSON(ctx, s.base+"/critic", body, &out); err != nil {
		return "", fmt.Errorf("critic: %w", err)
	}
	return out.CleanedText, nil
}

func (s *remoteFeeling) Augment(ctx context.Context, systemPrompt, templateID string) (string, error) {
	var out feeling.Augmented
	body := map[string]string{"system_prompt": systemPrompt, "emotion_template_id": templateID}
	if err := s.client.PostJSON(ctx, s.base+"/augment", body, &out); err != nil {
		return "", fmt.Errorf("augment: %w", err)
	}
	return out.SystemPrompt, nil
}

type remoteDrive struct {
	client *httpclient.Client
	base   string
}

var _ pipeline.DriveService = (*remoteDrive)(nil)

func (s *remoteDrive) State(ctx context.Context, userID string) (*drive.State, error) {
	var out drive.State
	if err := s.client.GetJSON(ctx, s.base+"/drive/get?user_id="+url.QueryEscape(userID), &out); err != nil {
		return nil, fmt.Errorf("drive get: %w", err)
	}
	return &out, nil
}

func (s *remoteDrive) StylePolicy(ctx context.Context, userID string) (*drive.Policy, error) {
	var out drive.Policy
	if err := s.client.PostJSON(ctx, s.base+"/drive/policy?user_id="+url.QueryEscape(userID), map[string]string{}, &out); err != nil {
		return nil, fmt.Errorf("drive policy: %w", err)
	}
	return &out, nil
}

type remotePolicy struct {
	client *httpclient.Client
	base   string
}

var _ pipeline.PolicyService = (*remotePolicy)(nil)

func (s *remotePolicy) Apply(ctx context.Context, lane string, affect policy.Affect, drv policy.Drive) (*policy.Applied, error) {
	var out policy.Applied
	body := map[string]interface{}{"lane": lane, "affect": affect, "drive": drv}
	if err := s.client.PostJSON(ctx, s.base+"/policy/apply", body, &out); err != nil {
		return nil, fmt.Errorf("policy apply: %w", err)
	}
	return &out, nil
}

func (s *remotePolicy) Validate(ctx context.Context, lane, text string) (*policy.Validated, error) {
	var out policy.Validated
	body := map[string]string{"lane": lane, "text": text}
	if err := s.client.PostJSON(ctx, s.base+"/policy/validate", body, &out); err != nil {
		return nil, fmt.Errorf("policy validate: %w", err)
	}
	return &out, nil
}

type remoteTelemetry struct {
	client *httpclient.Client
	base   string
}

var _ pipeline.TelemetryService = (*remoteTelemetry)(nil)

func (s *remoteTelemetry) Log(ctx context.Context, event string, payload map[string]interface{}) error {
	body := map[string]interface{}{"event": event, "payload": payload}
	if err := s.client.PostJSON(ctx, s.base+"/log", body, nil); err != nil {
		return fmt.Errorf("telemetry log: %w", err)
	}
	return nil
}

// ToolClient talks to the tool hub: schema fetch for the model, execution
// for the tool loop. Results are cached under the normalized key when a
// cache store is configured.
type ToolClient struct {
	client  *httpclient.Client
	base    string
	cache   redisstore.CacheStore
	monitor *monitoring.Monitor
	logger  *zap.Logger
}

var (
	_ pipeline.ToolSource   = (*ToolClient)(nil)
	_ toolloop.ToolExecutor = (*ToolClient)(nil)
)

// NewToolClient creates the tool hub client. cache may be nil.
func NewToolClient(client *httpclient.Client, base string, cache redisstore.CacheStore, monitor *monitoring.Monitor, logger *zap.Logger) *ToolClient {
	return &ToolClient{
		client:  client,
		base:    base,
		cache:   cache,
		monitor: monitor,
		logger:  logger,
	}
}

// Definitions fetches the tool schema offered to the model.
func (t *ToolClient) Definitions(ctx context.Context) ([]chat.ToolDefinition, error) {
	var out struct {
		Tools []chat.ToolDefinition `json:"tools"`
	}
	if err := t.client.GetJSON(ctx, t.base+"/tools", &out); err != nil {
		return nil, fmt.Errorf("tool schema: %w", err)
	}
	return out.Tools, nil
}

type toolExecResponse struct {
	Result  interface{} `json:"result"`
	Error   string      `json:"error"`
	Success bool        `json:"success"`
}

// Exec runs one tool call, consulting the result cache first.
func (t *ToolClient) Exec(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	key := redisstore.NormalizeToolKey(name, args)

	if t.cache != nil {
		if data, ok, err := t.cache.Get(ctx, key); err == nil && ok {
			t.monitor.IncCacheHit()
			var cached interface{}
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		} else {
			t.monitor.IncCacheMiss()
		}
	}

	var out toolExecResponse
	body := map[string]interface{}{"name": name, "arguments": args}
	if err := t.client.PostJSON(ctx, t.base+"/tools/exec", body, &out); err != nil {
		return nil, fmt.Errorf("tool exec %s: %w", name, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("tool %s failed: %s", name, out.Error)
	}

	if t.cache != nil {
		if err := t.cache.Set(ctx, key, out.Result, 0); err != nil {
			t.logger.Debug("Tool result cache write failed", zap.Error(err))
		}
	}
	return out.Result, nil
}

package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
	"github.com/halcyonai/halcyon/gateway/internal/domain/routing"
	"github.com/halcyonai/halcyon/gateway/internal/domain/toolloop"
	llm "github.com/halcyonai/halcyon/gateway/internal/infrastructure/llm"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/monitoring"
	apperrors "github.com/halcyonai/halcyon/gateway/pkg/errors"
	"github.com/halcyonai/halcyon/gateway/pkg/safego"
)

// Per-step budgets. Enrichment never blocks a request longer than these.
const (
	intentTimeout = 2 * time.Second
	enrichTimeout = 2 * time.Second
	policyTimeout = time.Second
	toolsTimeout  = time.Second
	visionTimeout = 10 * time.Second
	postTimeout   = 5 * time.Second
)

// Memory candidate confidences: user turns are trusted more than drafts.
const (
	userCandidateConfidence      = 0.7
	assistantCandidateConfidence = 0.6
)

// Config tunes the pipeline.
type Config struct {
	BaseSystem        string
	MaxToolIters      int
	Temperature       float64
	DefaultLocalModel string
}

// Pipeline is the Pre → Mid → Post chat orchestrator.
type Pipeline struct {
	intent    IntentService
	memory    MemoryService
	feeling   FeelingService
	drive     DriveService
	policy    PolicyService
	telemetry TelemetryService

	vision   VisionObserver        // optional
	tools    ToolSource            // optional
	executor toolloop.ToolExecutor // optional; without it no tools are offered

	providers map[string]llm.Provider
	failover  *llm.Failover
	routing   *routing.Policy

	monitor *monitoring.Monitor
	logger  *zap.Logger
	cfg     Config
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Intent    IntentService
	Memory    MemoryService
	Feeling   FeelingService
	Drive     DriveService
	Policy    PolicyService
	Telemetry TelemetryService
	Vision    VisionObserver
	Tools     ToolSource
	Executor  toolloop.ToolExecutor
	Providers map[string]llm.Provider
	Failover  *llm.Failover
	Routing   *routing.Policy
	Monitor   *monitoring.Monitor
	Logger    *zap.Logger
}

// New creates the pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	if cfg.MaxToolIters < 0 {
		cfg.MaxToolIters = toolloop.DefaultMaxIters
	}
	return &Pipeline{
		intent:    deps.Intent,
		memory:    deps.Memory,
		feeling:   deps.Feeling,
		drive:     deps.Drive,
		policy:    deps.Policy,
		telemetry: deps.Telemetry,
		vision:    deps.Vision,
		tools:     deps.Tools,
		executor:  deps.Executor,
		providers: deps.Providers,
		failover:  deps.Failover,
		routing:   deps.Routing,
		monitor:   deps.Monitor,
		logger:    deps.Logger,
		cfg:       cfg,
	}
}

// ProcessChat runs a full Pre → Mid → Post turn and returns the final text.
func (p *Pipeline) ProcessChat(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	p.monitor.IncRequestTotal()

	if len(req.Messages) == 0 {
		p.monitor.IncRequestFailed()
		return nil, apperrors.NewInvalidRequestError("messages must not be empty")
	}

	pctx := newContext(req)
	logger := p.logger.With(zap.String("request_id", pctx.RequestID))
	logger.Info("Processing chat request",
		zap.String("user_id", pctx.UserID),
		zap.Int("messages", len(pctx.Messages)),
	)

	p.pre(ctx, pctx)

	result, decision, err := p.mid(ctx, pctx, req.Temperature, forceModelOf(req.Model))
	if err != nil {
		p.monitor.IncRequestFailed()
		// Post still runs for its side channels; there is no draft to
		// validate or store.
		p.post(pctx, decision, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	p.post(pctx, decision, nil)

	p.monitor.IncRequestSuccess()
	p.monitor.AddTokensUsed(result.TokensUsed)
	p.monitor.RecordRequestLatency(time.Since(start))

	return &Response{
		ID:         "chatcmpl-" + pctx.RequestID,
		Created:    time.Now().Unix(),
		Provider:   decision.Provider,
		Model:      decision.Model,
		Content:    pctx.FinalText,
		TokensUsed: result.TokensUsed,
		Intent:     pctx.family(),
		ToolsUsed:  result.ToolsUsed,
	}, nil
}

// post runs the always-executed stage: memory candidates (fire-and-forget),
// policy validation with repair substitution, and the chat_turn event.
func (p *Pipeline) post(pctx *Context, decision routing.Decision, extra map[string]interface{}) {
	userText := chat.LastUserText(pctx.Messages)
	finalText := pctx.FinalText
	userID := pctx.UserID

	safego.Go(p.logger, "memory-candidates", func() {
		ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
		defer cancel()
		if userText != "" {
			if err := p.memory.StoreCandidate(ctx, userID, userText, userCandidateConfidence); err != nil {
				p.logger.Warn("User memory candidate failed", zap.Error(err))
			}
		}
		if finalText != "" {
			if err := p.memory.StoreCandidate(ctx, userID, finalText, assistantCandidateConfidence); err != nil {
				p.logger.Warn("Assistant memory candidate failed", zap.Error(err))
			}
		}
	})

	if pctx.FinalText != "" {
		ctx, cancel := context.WithTimeout(context.Background(), policyTimeout)
		validated, err := p.policy.Validate(ctx, pctx.Lane, pctx.FinalText)
		cancel()
		switch {
		case err != nil:
			p.logger.Warn("Policy validation failed", zap.Error(err))
		case !validated.OK && validated.Repaired != "":
			p.logger.Info("Draft repaired by policy",
				zap.String("lane", pctx.Lane),
				zap.Int("issues", len(validated.Repairs)),
			)
			pctx.FinalText = validated.Repaired
		}
	}

	payload := map[string]interface{}{
		"request_id":      pctx.RequestID,
		"user_id":         pctx.UserID,
		"intent":          pctx.family(),
		"provider":        decision.Provider,
		"model":           decision.Model,
		"response_length": len(pctx.FinalText),
	}
	for k, v := range extra {
		payload[k] = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()
	if err := p.telemetry.Log(ctx, "chat_turn", payload); err != nil {
		p.logger.Warn("chat_turn telemetry failed", zap.Error(err))
	}
}

// enrichmentFailed records a recovered enrichment error: counter, log line,
// telemetry event. The request proceeds with defaults.
func (p *Pipeline) enrichmentFailed(pctx *Context, branch string, err error) {
	p.monitor.IncEnrichmentFailure()
	p.logger.Warn("Enrichment branch failed",
		zap.String("request_id", pctx.RequestID),
		zap.String("branch", branch),
		zap.Error(err),
	)

	ctx, cancel := context.WithTimeout(context.Background(), policyTimeout)
	defer cancel()
	_ = p.telemetry.Log(ctx, "enrichment_failure", map[string]interface{}{
		"request_id": pctx.RequestID,
		"branch":     branch,
		"error":      err.Error(),
	})
}

// family returns the classified family, defaulting to OPEN_ENDED.
func (c *Context) family() string {
	if c.Route != nil {
		return c.Route.Family
	}
	return "OPEN_ENDED"
}

// forceModelOf maps the request's model field to a routing force_model.
// "auto" and empty mean no preference.
func forceModelOf(model string) string {
	if model == "" || model == "auto" {
		return ""
	}
	return model
}

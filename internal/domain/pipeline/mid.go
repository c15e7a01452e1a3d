package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
	"github.com/halcyonai/halcyon/gateway/internal/domain/routing"
	"github.com/halcyonai/halcyon/gateway/internal/domain/toolloop"
	llm "github.com/halcyonai/halcyon/gateway/internal/infrastructure/llm"
	apperrors "github.com/halcyonai/halcyon/gateway/pkg/errors"
)

// mid builds the final message sequence, routes to a provider/model and runs
// the tool loop, then lets the critic polish the draft.
func (p *Pipeline) mid(ctx context.Context, pctx *Context, temperature float64, forceModel string) (*toolloop.Result, routing.Decision, error) {
	messages := make([]chat.Message, 0, len(pctx.SystemAddenda)+len(pctx.Messages))
	for _, addendum := range pctx.SystemAddenda {
		messages = append(messages, chat.System(addendum))
	}
	messages = append(messages, pctx.Messages...)

	p.fetchTools(ctx, pctx)

	decision, err := p.routing.Decide(pctx.Messages, len(pctx.Tools) > 0, forceModel)
	if err != nil {
		return nil, routing.Decision{}, err
	}
	decision = p.maybeKeepLocal(pctx, decision, forceModel)

	result, err := p.runLoop(ctx, pctx, decision, messages, temperature)
	if err != nil {
		fallback, ok := p.routing.FallbackOnError(decision.Provider)
		if !ok {
			return nil, decision, apperrors.NewUpstreamError("all providers failed", err)
		}
		p.logger.Warn("Provider failed, falling back to local",
			zap.String("request_id", pctx.RequestID),
			zap.String("failed_provider", decision.Provider),
			zap.Error(err),
		)
		result, err = p.runLoop(ctx, pctx, fallback, messages, temperature)
		if err != nil {
			return nil, decision, apperrors.NewUpstreamError("all providers failed", err)
		}
		decision = fallback
	}

	// The critic cleans up repetition and filler only. Its word budget tracks
	// the draft length so a long response is never cut down to the default cap.
	draft := result.Draft
	if draft != "" {
		cleaned, cerr := p.feeling.Critique(ctx, draft, len(strings.Fields(draft)))
		if cerr != nil {
			p.enrichmentFailed(pctx, "critic", cerr)
		} else if strings.TrimSpace(cleaned) != "" {
			draft = cleaned
		}
	}
	pctx.FinalText = draft

	return result, decision, nil
}

// fetchTools loads the tool schema; failure means no tools this turn.
func (p *Pipeline) fetchTools(ctx context.Context, pctx *Context) {
	if p.tools == nil || p.executor == nil {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, toolsTimeout)
	defer cancel()

	defs, err := p.tools.Definitions(tctx)
	if err != nil {
		p.enrichmentFailed(pctx, "tools", err)
		return
	}
	pctx.Tools = defs
}

// maybeKeepLocal downgrades a default remote decision when the classified
// family prefers the local provider and nothing marked the request for the
// remote tier.
func (p *Pipeline) maybeKeepLocal(pctx *Context, decision routing.Decision, forceModel string) routing.Decision {
	if forceModel != "" || decision.Provider != routing.ProviderRemote {
		return decision
	}
	if pctx.Route == nil || pctx.Route.Provider != routing.ProviderLocal {
		return decision
	}
	if pctx.Intent != nil && pctx.Intent.NeedsRemote {
		return decision
	}
	local, ok := p.providers[routing.ProviderLocal]
	if !ok || !local.Available() {
		return decision
	}
	p.logger.Debug("Keeping request on local provider",
		zap.String("request_id", pctx.RequestID),
		zap.String("family", pctx.family()),
	)
	return routing.Decision{Provider: routing.ProviderLocal, Model: p.cfg.DefaultLocalModel}
}

// runLoop executes the tool loop against one provider with failover across
// the family's model priority list.
func (p *Pipeline) runLoop(ctx context.Context, pctx *Context, decision routing.Decision, messages []chat.Message, temperature float64) (*toolloop.Result, error) {
	provider, ok := p.providers[decision.Provider]
	if !ok {
		return nil, apperrors.NewNoProviderError(fmt.Sprintf("provider %q not configured", decision.Provider))
	}

	var priority []string
	if decision.Provider == routing.ProviderRemote && pctx.Route != nil {
		priority = pctx.Route.ModelPriority
	}

	call := func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return p.failover.Execute(ctx, provider, req, priority)
	}

	tools := pctx.Tools
	executor := p.executor
	if executor == nil {
		tools = nil
	}

	loop := toolloop.New(call, executor, p.monitor, p.logger, p.cfg.MaxToolIters, temperature)
	return loop.Run(ctx, decision.Model, messages, tools)
}

package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
	llm "github.com/halcyonai/halcyon/gateway/internal/infrastructure/llm"
	apperrors "github.com/halcyonai/halcyon/gateway/pkg/errors"
	"github.com/halcyonai/halcyon/gateway/pkg/safego"
)

// ProcessChatStream runs Pre synchronously, then relays provider deltas to
// deltas as they arrive. The tool loop and the critic are skipped; Post runs
// best-effort on the accumulated text after the stream closes. The caller
// owns the channel and closes it after this returns.
func (p *Pipeline) ProcessChatStream(ctx context.Context, req *Request, deltas chan<- string) (*Response, error) {
	p.monitor.IncRequestTotal()
	p.monitor.IncStream()

	if len(req.Messages) == 0 {
		p.monitor.IncRequestFailed()
		return nil, apperrors.NewInvalidRequestError("messages must not be empty")
	}

	pctx := newContext(req)
	p.pre(ctx, pctx)

	messages := make([]chat.Message, 0, len(pctx.SystemAddenda)+len(pctx.Messages))
	for _, addendum := range pctx.SystemAddenda {
		messages = append(messages, chat.System(addendum))
	}
	messages = append(messages, pctx.Messages...)

	decision, err := p.routing.Decide(pctx.Messages, false, forceModelOf(req.Model))
	if err != nil {
		p.monitor.IncRequestFailed()
		return nil, err
	}
	decision = p.maybeKeepLocal(pctx, decision, forceModelOf(req.Model))

	provider, ok := p.providers[decision.Provider]
	if !ok {
		p.monitor.IncRequestFailed()
		return nil, apperrors.NewNoProviderError("provider " + decision.Provider + " not configured")
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = p.cfg.Temperature
	}

	chunkCh := make(chan llm.StreamChunk, 16)
	var accumulated strings.Builder

	done := make(chan struct{})
	safego.Go(p.logger, "stream-relay", func() {
		defer close(done)
		for chunk := range chunkCh {
			if chunk.DeltaText == "" {
				continue
			}
			accumulated.WriteString(chunk.DeltaText)
			select {
			case deltas <- chunk.DeltaText:
			case <-ctx.Done():
				return
			}
		}
	})

	p.monitor.IncModelCall()
	resp, err := provider.ChatStream(ctx, &llm.ChatRequest{
		Model:       decision.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	}, chunkCh)
	close(chunkCh)
	<-done

	if err != nil {
		p.monitor.IncRequestFailed()
		p.logger.Warn("Stream failed",
			zap.String("request_id", pctx.RequestID),
			zap.String("model", decision.Model),
			zap.Error(err),
		)
		return nil, apperrors.NewUpstreamError("stream failed", err)
	}

	pctx.FinalText = resp.Content
	if pctx.FinalText == "" {
		pctx.FinalText = accumulated.String()
	}

	p.post(pctx, decision, map[string]interface{}{"stream": true})

	p.monitor.IncRequestSuccess()
	p.monitor.AddTokensUsed(resp.TokensUsed)

	return &Response{
		ID:         "chatcmpl-" + pctx.RequestID,
		Created:    time.Now().Unix(),
		Provider:   decision.Provider,
		Model:      decision.Model,
		Content:    pctx.FinalText,
		TokensUsed: resp.TokensUsed,
		Intent:     pctx.family(),
	}, nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
	llm "github.com/halcyonai/halcyon/gateway/internal/infrastructure/llm"
)

const visionInstruction = "Describe the attached media factually and concisely. " +
	"List the objects, text and context you can identify. Do not speculate."

// ModelVisionObserver extracts observation text from multimodal turns by
// asking the local VLM first and falling back to the remote vision model.
type ModelVisionObserver struct {
	local       llm.Provider
	remote      llm.Provider
	localModel  string
	remoteModel string
	logger      *zap.Logger
}

var _ VisionObserver = (*ModelVisionObserver)(nil)

// NewModelVisionObserver creates the observer. Either provider may be nil.
func NewModelVisionObserver(local, remote llm.Provider, localModel, remoteModel string, logger *zap.Logger) *ModelVisionObserver {
	return &ModelVisionObserver{
		local:       local,
		remote:      remote,
		localModel:  localModel,
		remoteModel: remoteModel,
		logger:      logger,
	}
}

// Observe asks each configured provider in turn and returns the first
// non-empty observation.
func (o *ModelVisionObserver) Observe(ctx context.Context, messages []chat.Message) (string, error) {
	request := make([]chat.Message, 0, len(messages)+1)
	request = append(request, chat.System(visionInstruction))
	for _, m := range messages {
		if m.HasImage() || m.HasAudio() {
			request = append(request, m)
		}
	}

	var errs []string
	for _, attempt := range []struct {
		provider llm.Provider
		model    string
		tier     string
	}{
		{o.local, o.localModel, "local"},
		{o.remote, o.remoteModel, "remote"},
	} {
		if attempt.provider == nil || !attempt.provider.Available() {
			continue
		}
		resp, err := attempt.provider.Chat(ctx, &llm.ChatRequest{
			Model:    attempt.model,
			Messages: request,
		})
		if err != nil {
			o.logger.Warn("Vision observation failed",
				zap.String("tier", attempt.tier),
				zap.String("model", attempt.model),
				zap.Error(err),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", attempt.tier, err))
			continue
		}
		if text := strings.TrimSpace(resp.Content); text != "" {
			return text, nil
		}
	}

	if len(errs) > 0 {
		return "", errors.New("vision observation failed: " + strings.Join(errs, "; "))
	}
	return "", errors.New("no vision provider available")
}

package application

import (
	"context"

	"github.com/halcyonai/halcyon/gateway/internal/domain/pipeline"
	"github.com/halcyonai/halcyon/gateway/internal/service/drive"
	"github.com/halcyonai/halcyon/gateway/internal/service/feeling"
	"github.com/halcyonai/halcyon/gateway/internal/service/intent"
	"github.com/halcyonai/halcyon/gateway/internal/service/memory"
	"github.com/halcyonai/halcyon/gateway/internal/service/policy"
	"github.com/halcyonai/halcyon/gateway/internal/service/telemetry"
)

// In-process adapters. Each wraps an engine behind the orchestrator's client
// interface so the pipeline never knows whether a service is local or remote.

type localIntent struct{ engine *intent.Engine }

var _ pipeline.IntentService = (*localIntent)(nil)

func (s *localIntent) Classify(_ context.Context, req intent.ClassifyRequest) (*intent.Classification, error) {
	cls := s.engine.Classify(req)
	return &cls, nil
}

func (s *localIntent) Route(_ context.Context, text string) (*intent.Route, error) {
	route := s.engine.Route(text, nil)
	return &route, nil
}

type localMemory struct{ engine *memory.Engine }

var _ pipeline.MemoryService = (*localMemory)(nil)

func (s *localMemory) Retrieve(ctx context.Context, userID, query string, limit int, minConfidence float64) (*memory.RetrieveResult, error) {
	return s.engine.Retrieve(ctx, userID, query, limit, minConfidence)
}

func (s *localMemory) Summary(ctx context.Context, userID string) (*memory.SummaryResult, error) {
	return s.engine.Summary(ctx, userID)
}

func (s *localMemory) StoreCandidate(ctx context.Context, userID, content string, confidence float64) error {
	_, err := s.engine.StoreCandidate(ctx, userID, content, confidence)
	return err
}

type localFeeling struct{ engine *feeling.Engine }

var _ pipeline.FeelingService = (*localFeeling)(nil)

func (s *localFeeling) Analyze(_ context.Context, text string) (*feeling.Affect, error) {
	affect := s.engine.Analyze(text)
	return &affect, nil
}

func (s *localFeeling) Tone(_ context.Context, text, targetAudience string) (*feeling.TonePolicy, error) {
	tone := s.engine.Tone(text, targetAudience)
	return &tone, nil
}

func (s *localFeeling) Critique(_ context.Context, text string, maxTokens int) (string, error) {
	return s.engine.Critique(text, maxTokens).CleanedText, nil
}

func (s *localFeeling) Augment(_ context.Context, systemPrompt, templateID string) (string, error) {
	return s.engine.Augment(systemPrompt, templateID).SystemPrompt, nil
}

type localDrive struct{ engine *drive.Engine }

var _ pipeline.DriveService = (*localDrive)(nil)

func (s *localDrive) State(_ context.Context, userID string) (*drive.State, error) {
	state := s.engine.Get(userID)
	return &state, nil
}

func (s *localDrive) StylePolicy(_ context.Context, userID string) (*drive.Policy, error) {
	pol := s.engine.StylePolicy(userID)
	return &pol, nil
}

type localPolicy struct{ engine *policy.Engine }

var _ pipeline.PolicyService = (*localPolicy)(nil)

func (s *localPolicy) Apply(_ context.Context, lane string, affect policy.Affect, drv policy.Drive) (*policy.Applied, error) {
	return s.engine.Apply(lane, affect, drv)
}

func (s *localPolicy) Validate(_ context.Context, lane, text string) (*policy.Validated, error) {
	return s.engine.Validate(lane, text)
}

type localTelemetry struct{ engine *telemetry.Engine }

var _ pipeline.TelemetryService = (*localTelemetry)(nil)

func (s *localTelemetry) Log(_ context.Context, event string, payload map[string]interface{}) error {
	_, err := s.engine.Log(event, payload)
	return err
}

package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Failover settings.
const (
	DefaultCooldownDuration = 5 * time.Minute
	DefaultMaxRetries       = 3
	DefaultRetryBaseWait    = time.Second
)

// Failover executes a chat request against an ordered model priority list.
// Each model gets up to MaxRetries attempts with exponential backoff on
// retryable errors; when a model's retries are exhausted it enters a
// cooldown and the next model in the list is tried. Non-retryable errors
// surface immediately.
type Failover struct {
	cooldowns   map[string]time.Time
	cooldownDur time.Duration
	maxRetries  int
	baseWait    time.Duration
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewFailover creates a failover executor.
func NewFailover(logger *zap.Logger) *Failover {
	return &Failover{
		cooldowns:   make(map[string]time.Time),
		cooldownDur: DefaultCooldownDuration,
		maxRetries:  DefaultMaxRetries,
		baseWait:    DefaultRetryBaseWait,
		logger:      logger,
	}
}

// SetCooldownDuration overrides the cooldown window.
func (f *Failover) SetCooldownDuration(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldownDur = d
}

// SetRetryPolicy overrides per-model retry count and backoff base.
func (f *Failover) SetRetryPolicy(maxRetries int, baseWait time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if maxRetries > 0 {
		f.maxRetries = maxRetries
	}
	if baseWait > 0 {
		f.baseWait = baseWait
	}
}

// Execute runs req against provider, walking the model priority list.
// req.Model is tried first, then each entry of priority not in cooldown.
func (f *Failover) Execute(ctx context.Context, provider Provider, req *ChatRequest, priority []string) (*ChatResponse, error) {
	models := f.buildModelList(req.Model, priority)
	if len(models) == 0 {
		return nil, fmt.Errorf("all models are in cooldown, try again later")
	}

	var lastErr error
	for _, model := range models {
		attemptReq := *req
		attemptReq.Model = model

		resp, err := f.executeWithRetries(ctx, provider, &attemptReq)
		if err == nil {
			if model != req.Model {
				f.logger.Info("Failover succeeded",
					zap.String("failed_model", req.Model),
					zap.String("success_model", model),
				)
			}
			return resp, nil
		}

		lastErr = err

		if !IsRetryable(err) {
			f.logger.Warn("Non-retryable provider error, not failing over",
				zap.String("model", model),
				zap.Error(err),
			)
			return nil, err
		}

		f.setCooldown(model)
		f.logger.Warn("Model exhausted retries, trying next in priority list",
			zap.String("failed_model", model),
			zap.Error(err),
		)
	}

	return nil, fmt.Errorf("all models failed after failover: %w", lastErr)
}

// executeWithRetries runs one model with exponential backoff on retryable
// errors: baseWait × 2^attempt.
func (f *Failover) executeWithRetries(ctx context.Context, provider Provider, req *ChatRequest) (*ChatResponse, error) {
	f.mu.RLock()
	maxRetries := f.maxRetries
	baseWait := f.baseWait
	f.mu.RUnlock()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			wait := baseWait * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			f.logger.Debug("Retrying model call",
				zap.String("model", req.Model),
				zap.Int("attempt", attempt+1),
				zap.Duration("waited", wait),
			)
		}

		resp, err := provider.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// buildModelList returns the ordered models to try, skipping cooldowns.
func (f *Failover) buildModelList(primary string, priority []string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := time.Now()
	var models []string

	if primary != "" && !f.isInCooldown(primary, now) {
		models = append(models, primary)
	}
	for _, model := range priority {
		if model == primary {
			continue
		}
		if !f.isInCooldown(model, now) {
			models = append(models, model)
		}
	}
	return models
}

func (f *Failover) isInCooldown(model string, now time.Time) bool {
	if end, ok := f.cooldowns[model]; ok {
		return now.Before(end)
	}
	return false
}

func (f *Failover) setCooldown(model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldowns[model] = time.Now().Add(f.cooldownDur)
	f.logger.Info("Model entering cooldown",
		zap.String("model", model),
		zap.Duration("duration", f.cooldownDur),
	)
}

// ClearCooldowns removes all cooldowns.
func (f *Failover) ClearCooldowns() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldowns = make(map[string]time.Time)
}

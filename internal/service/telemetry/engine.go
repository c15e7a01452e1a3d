package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/monitoring"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/redisstore"
	apperrors "github.com/halcyonai/halcyon/gateway/pkg/errors"
)

// LogResult is the /log payload.
type LogResult struct {
	Status         string   `json:"status"`
	EventID        string   `json:"event_id"`
	RedactedFields []string `json:"redacted_fields"`
}

// CacheEntry is the /cache/get payload.
type CacheEntry struct {
	Hit          bool            `json:"hit"`
	Data         json.RawMessage `json:"data,omitempty"`
	TTLRemaining float64         `json:"ttl_remaining"`
}

// CacheStored is the /cache/set payload.
type CacheStored struct {
	Status    string `json:"status"`
	Key       string `json:"key"`
	ExpiresAt string `json:"expires_at"`
}

// Engine handles structured event logging with PII redaction and the shared
// TTL cache for tool results.
type Engine struct {
	cache   redisstore.CacheStore
	monitor *monitoring.Monitor
	logger  *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewEngine builds the telemetry engine over the given cache backend.
func NewEngine(cache redisstore.CacheStore, monitor *monitoring.Monitor, logger *zap.Logger) *Engine {
	return &Engine{
		cache:   cache,
		monitor: monitor,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Log redacts PII from the payload, stamps it with a timestamp when the
// caller did not provide one, and emits the event to the structured log.
func (e *Engine) Log(event string, payload map[string]interface{}) (*LogResult, error) {
	if event == "" {
		return nil, apperrors.NewInvalidRequestError("event name is required")
	}

	redacted, fields, err := RedactPayload(payload)
	if err != nil {
		return nil, apperrors.NewInvalidRequestError("payload is not JSON-serializable")
	}
	if _, ok := redacted["timestamp"]; !ok {
		redacted["timestamp"] = e.now().UTC().Format(time.RFC3339)
	}

	eventID := e.newID()
	e.logger.Info("Telemetry event",
		zap.String("event", event),
		zap.String("event_id", eventID),
		zap.Any("payload", redacted),
	)

	return &LogResult{Status: "logged", EventID: eventID, RedactedFields: fields}, nil
}

// CacheGet looks up a key and reports the remaining TTL on a hit.
func (e *Engine) CacheGet(ctx context.Context, key string) (*CacheEntry, error) {
	if key == "" {
		return nil, apperrors.NewInvalidRequestError("cache key is required")
	}

	data, hit, err := e.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !hit {
		e.monitor.IncCacheMiss()
		return &CacheEntry{Hit: false}, nil
	}
	e.monitor.IncCacheHit()

	ttl, err := e.cache.TTL(ctx, key)
	if err != nil {
		return nil, err
	}
	return &CacheEntry{Hit: true, Data: data, TTLRemaining: ttl.Seconds()}, nil
}

// CacheSet stores a JSON value under key. A non-positive TTL falls back to
// the default.
func (e *Engine) CacheSet(ctx context.Context, key string, data interface{}, ttl time.Duration) (*CacheStored, error) {
	if key == "" {
		return nil, apperrors.NewInvalidRequestError("cache key is required")
	}
	if ttl <= 0 {
		ttl = redisstore.DefaultCacheTTL
	}

	if err := e.cache.Set(ctx, key, data, ttl); err != nil {
		return nil, err
	}
	return &CacheStored{
		Status:    "cached",
		Key:       key,
		ExpiresAt: e.now().UTC().Add(ttl).Format(time.RFC3339),
	}, nil
}

package memory

import (
	"context"
	"time"
)

// Trait is a persisted key→value user attribute with confidence.
type Trait struct {
	UserID     string    `json:"user_id"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Episode is a persisted conversational event.
type Episode struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Content    string    `json:"content"`
	Summary    string    `json:"summary"`
	Confidence float64   `json:"confidence"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"created_at"`
}

// TraitRepository stores traits keyed by (user_id, key).
// Upsert must keep confidence monotonic non-decreasing and replace the value
// atomically.
type TraitRepository interface {
	Upsert(ctx context.Context, trait *Trait) error
	ListByUser(ctx context.Context, userID string, minConfidence float64) ([]Trait, error)
	Search(ctx context.Context, userID, query string, minConfidence float64) ([]Trait, error)
}

// EpisodeRepository stores episodes keyed by id.
type EpisodeRepository interface {
	Save(ctx context.Context, episode *Episode) error
	ListRecent(ctx context.Context, userID string, limit int) ([]Episode, error)
	Search(ctx context.Context, userID, query string, limit int) ([]Episode, error)
}

package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/halcyonai/halcyon/gateway/internal/service/memory"
)

// In-memory trait/episode stores. Used in tests and when the gateway runs
// without a database.

// MemoryTraitRepository keeps traits in a map keyed by user_id+key.
type MemoryTraitRepository struct {
	mu     sync.RWMutex
	traits map[string]memory.Trait
}

// NewMemoryTraitRepository creates an in-memory trait repository.
func NewMemoryTraitRepository() *MemoryTraitRepository {
	return &MemoryTraitRepository{traits: make(map[string]memory.Trait)}
}

var _ memory.TraitRepository = (*MemoryTraitRepository)(nil)

func traitKey(userID, key string) string {
	return userID + "\x00" + key
}

func (r *MemoryTraitRepository) Upsert(ctx context.Context, trait *memory.Trait) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := traitKey(trait.UserID, trait.Key)
	now := time.Now().UTC()

	stored := memory.Trait{
		UserID:     trait.UserID,
		Key:        trait.Key,
		Value:      trait.Value,
		Confidence: trait.Confidence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, ok := r.traits[k]; ok {
		stored.CreatedAt = existing.CreatedAt
		if existing.Confidence > stored.Confidence {
			stored.Confidence = existing.Confidence
		}
	}
	r.traits[k] = stored
	return nil
}

func (r *MemoryTraitRepository) ListByUser(ctx context.Context, userID string, minConfidence float64) ([]memory.Trait, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []memory.Trait
	for _, t := range r.traits {
		if t.UserID == userID && t.Confidence >= minConfidence {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

func (r *MemoryTraitRepository) Search(ctx context.Context, userID, query string, minConfidence float64) ([]memory.Trait, error) {
	all, _ := r.ListByUser(ctx, userID, minConfidence)
	q := strings.ToLower(query)
	var out []memory.Trait
	for _, t := range all {
		if strings.Contains(strings.ToLower(t.Key), q) || strings.Contains(strings.ToLower(t.Value), q) {
			out = append(out, t)
		}
	}
	return out, nil
}

// MemoryEpisodeRepository keeps episodes in a slice per user.
type MemoryEpisodeRepository struct {
	mu       sync.RWMutex
	episodes map[string][]memory.Episode // user_id → episodes, newest last
	seen     map[string]bool             // episode id → stored
}

// NewMemoryEpisodeRepository creates an in-memory episode repository.
func NewMemoryEpisodeRepository() *MemoryEpisodeRepository {
	return &MemoryEpisodeRepository{
		episodes: make(map[string][]memory.Episode),
		seen:     make(map[string]bool),
	}
}

var _ memory.EpisodeRepository = (*MemoryEpisodeRepository)(nil)

func (r *MemoryEpisodeRepository) Save(ctx context.Context, episode *memory.Episode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen[episode.ID] {
		return nil // idempotent on duplicate delivery
	}
	r.seen[episode.ID] = true
	r.episodes[episode.UserID] = append(r.episodes[episode.UserID], *episode)
	return nil
}

func (r *MemoryEpisodeRepository) ListRecent(ctx context.Context, userID string, limit int) ([]memory.Episode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eps := r.episodes[userID]
	var out []memory.Episode
	for i := len(eps) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, eps[i])
	}
	return out, nil
}

func (r *MemoryEpisodeRepository) Search(ctx context.Context, userID, query string, limit int) ([]memory.Episode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	eps := r.episodes[userID]
	var out []memory.Episode
	for i := len(eps) - 1; i >= 0 && len(out) < limit; i-- {
		if strings.Contains(strings.ToLower(eps[i].Content), q) ||
			strings.Contains(strings.ToLower(eps[i].Summary), q) {
			out = append(out, eps[i])
		}
	}
	return out, nil
}

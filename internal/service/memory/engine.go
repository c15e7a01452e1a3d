package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Write-policy thresholds.
const (
	traitStoreThreshold        = 0.7
	defaultCandidateConfidence = 0.8
	episodeMinContentLen       = 20
	summaryMaxTokens           = 200
)

// CandidateResult reports what the write policy did with a candidate.
type CandidateResult struct {
	Success         bool     `json:"success"`
	Stored          bool     `json:"stored"`
	TraitsExtracted int      `json:"traits_extracted"`
	EpisodeCreated  bool     `json:"episode_created"`
	PIIFiltered     bool     `json:"pii_filtered"`
	PIITypes        []string `json:"pii_types"`
}

// RetrieveResult is the /mem/retrieve payload.
type RetrieveResult struct {
	UserID        string    `json:"user_id"`
	Traits        []Trait   `json:"traits"`
	Episodes      []Episode `json:"episodes"`
	TotalTraits   int       `json:"total_traits"`
	TotalEpisodes int       `json:"total_episodes"`
}

// SummaryResult is the /mem/summary payload, bounded at ~200 tokens.
type SummaryResult struct {
	UserID         string    `json:"user_id"`
	TraitCount     int       `json:"trait_count"`
	EpisodeCount   int       `json:"episode_count"`
	RecentTraits   []Trait   `json:"recent_traits"`
	RecentEpisodes []Episode `json:"recent_episodes"`
	Summary        string    `json:"summary"`
}

// Engine applies the memory write policy and serves retrieval.
type Engine struct {
	traits   TraitRepository
	episodes EpisodeRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates the memory engine.
func NewEngine(traits TraitRepository, episodes EpisodeRepository, logger *zap.Logger) *Engine {
	return &Engine{
		traits:   traits,
		episodes: episodes,
		logger:   logger,
		now:      time.Now,
	}
}

// StoreCandidate applies the write policy to one candidate: redact PII,
// extract traits (stored at confidence ≥ 0.7), keep substantial content as
// an episode when the candidate itself is confident enough. A non-positive
// confidence selects the default.
func (e *Engine) StoreCandidate(ctx context.Context, userID, content string, confidence float64) (*CandidateResult, error) {
	if confidence <= 0 {
		confidence = defaultCandidateConfidence
	}
	result := &CandidateResult{Success: true}

	result.PIITypes = DetectPII(content)
	if len(result.PIITypes) > 0 {
		content = RedactPII(content)
		result.PIIFiltered = true
		e.logger.Info("Redacted PII from memory candidate",
			zap.String("user_id", userID),
			zap.Strings("pii_types", result.PIITypes),
		)
	}

	for _, candidate := range ExtractTraits(content) {
		if candidate.Confidence < traitStoreThreshold {
			continue
		}
		trait := &Trait{
			UserID:     userID,
			Key:        candidate.Key,
			Value:      candidate.Value,
			Confidence: candidate.Confidence,
		}
		if err := e.traits.Upsert(ctx, trait); err != nil {
			return nil, fmt.Errorf("upsert trait: %w", err)
		}
		result.TraitsExtracted++
	}

	if len(strings.TrimSpace(content)) > episodeMinContentLen && confidence >= traitStoreThreshold {
		episode := &Episode{
			ID:         e.episodeID(userID, content),
			UserID:     userID,
			Content:    content,
			Summary:    Summarize(content, summaryMaxTokens),
			Confidence: confidence,
			CreatedAt:  e.now().UTC(),
		}
		if err := e.episodes.Save(ctx, episode); err != nil {
			return nil, fmt.Errorf("save episode: %w", err)
		}
		result.EpisodeCreated = true
	}

	result.Stored = result.TraitsExtracted > 0 || result.EpisodeCreated
	return result, nil
}

// Retrieve returns traits and episodes for a user, optionally filtered by a
// substring query over episode content.
func (e *Engine) Retrieve(ctx context.Context, userID, query string, limit int, minConfidence float64) (*RetrieveResult, error) {
	if limit <= 0 {
		limit = 10
	}

	traits, err := e.traits.ListByUser(ctx, userID, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("list traits: %w", err)
	}

	var episodes []Episode
	if query != "" {
		episodes, err = e.episodes.Search(ctx, userID, query, limit)
	} else {
		episodes, err = e.episodes.ListRecent(ctx, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}

	result := &RetrieveResult{
		UserID:        userID,
		Traits:        traits,
		Episodes:      episodes,
		TotalTraits:   len(traits),
		TotalEpisodes: len(episodes),
	}
	if len(result.Traits) > limit {
		result.Traits = result.Traits[:limit]
	}
	if len(result.Episodes) > limit {
		result.Episodes = result.Episodes[:limit]
	}
	return result, nil
}

// Summary builds a compact memory summary: top 5 high-confidence traits and
// 3 recent episodes, flattened to a ≤200-token string.
func (e *Engine) Summary(ctx context.Context, userID string) (*SummaryResult, error) {
	traits, err := e.traits.ListByUser(ctx, userID, traitStoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("list traits: %w", err)
	}
	if len(traits) > 5 {
		traits = traits[:5]
	}

	episodes, err := e.episodes.ListRecent(ctx, userID, 3)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}

	var parts []string
	if len(traits) > 0 {
		kv := make([]string, 0, 3)
		for i, t := range traits {
			if i == 3 {
				break
			}
			kv = append(kv, fmt.Sprintf("%s: %s", t.Key, t.Value))
		}
		parts = append(parts, "Key traits: "+strings.Join(kv, ", "))
	}
	if len(episodes) > 0 {
		summaries := make([]string, 0, 2)
		for i, ep := range episodes {
			if i == 2 {
				break
			}
			summaries = append(summaries, ep.Summary)
		}
		parts = append(parts, "Recent context: "+strings.Join(summaries, ". "))
	}

	summary := strings.Join(parts, ". ")
	if len(summary) > summaryMaxTokens*4 {
		summary = summary[:summaryMaxTokens*4] + "..."
	}

	return &SummaryResult{
		UserID:         userID,
		TraitCount:     len(traits),
		EpisodeCount:   len(episodes),
		RecentTraits:   traits,
		RecentEpisodes: episodes,
		Summary:        summary,
	}, nil
}

var sentenceSplitRx = regexp.MustCompile(`[.!?]+`)

// Summarize packs leading sentences into a token budget (chars/4 estimate).
func Summarize(content string, maxTokens int) string {
	sentences := sentenceSplitRx.Split(content, -1)

	var kept []string
	used := 0
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if len(s) <= 10 {
			continue
		}
		tokens := len(s) / 4
		if used+tokens > maxTokens {
			break
		}
		kept = append(kept, s)
		used += tokens
	}

	summary := strings.Join(kept, ". ")
	if summary != "" && !strings.HasSuffix(summary, ".") {
		summary += "."
	}
	if summary == "" {
		max := maxTokens * 4
		if len(content) < max {
			max = len(content)
		}
		summary = content[:max]
	}
	return summary
}

// episodeID builds a stable id: user, unix timestamp, md5 prefix of content.
func (e *Engine) episodeID(userID, content string) string {
	sum := md5.Sum([]byte(content))
	return fmt.Sprintf("%s_%d_%s", userID, e.now().UTC().Unix(), hex.EncodeToString(sum[:])[:8])
}

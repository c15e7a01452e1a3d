package persistence

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/persistence/models"
	"github.com/halcyonai/halcyon/gateway/internal/service/memory"
	domainErrors "github.com/halcyonai/halcyon/gateway/pkg/errors"
)

// GormEpisodeRepository is the GORM-backed episode store.
type GormEpisodeRepository struct {
	db *gorm.DB
}

// NewGormEpisodeRepository creates a GORM episode repository.
func NewGormEpisodeRepository(db *gorm.DB) memory.EpisodeRepository {
	return &GormEpisodeRepository{db: db}
}

// Save writes an episode. The content-derived ID makes duplicate candidate
// delivery idempotent (ON CONFLICT DO NOTHING).
func (r *GormEpisodeRepository) Save(ctx context.Context, episode *memory.Episode) error {
	tags, _ := json.Marshal(episode.Tags)

	model := models.EpisodeModel{
		ID:         episode.ID,
		UserID:     episode.UserID,
		Content:    episode.Content,
		Summary:    episode.Summary,
		Confidence: episode.Confidence,
		Tags:       string(tags),
		CreatedAt:  episode.CreatedAt,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return domainErrors.NewInternalError("failed to save episode: " + err.Error())
	}
	return nil
}

// ListRecent returns the user's newest episodes.
func (r *GormEpisodeRepository) ListRecent(ctx context.Context, userID string, limit int) ([]memory.Episode, error) {
	var rows []models.EpisodeModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to list episodes: " + err.Error())
	}
	return toEpisodes(rows), nil
}

// Search filters the user's episodes by a LIKE match on content or summary.
func (r *GormEpisodeRepository) Search(ctx context.Context, userID, query string, limit int) ([]memory.Episode, error) {
	like := "%" + query + "%"
	var rows []models.EpisodeModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND (content LIKE ? OR summary LIKE ?)", userID, like, like).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to search episodes: " + err.Error())
	}
	return toEpisodes(rows), nil
}

func toEpisodes(rows []models.EpisodeModel) []memory.Episode {
	episodes := make([]memory.Episode, 0, len(rows))
	for _, row := range rows {
		var tags []string
		if row.Tags != "" {
			_ = json.Unmarshal([]byte(row.Tags), &tags)
		}
		episodes = append(episodes, memory.Episode{
			ID:         row.ID,
			UserID:     row.UserID,
			Content:    row.Content,
			Summary:    row.Summary,
			Confidence: row.Confidence,
			Tags:       tags,
			CreatedAt:  row.CreatedAt,
		})
	}
	return episodes
}

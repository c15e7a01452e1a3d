package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/persistence/models"
	"github.com/halcyonai/halcyon/gateway/internal/service/memory"
	domainErrors "github.com/halcyonai/halcyon/gateway/pkg/errors"
)

// GormTraitRepository is the GORM-backed trait store.
type GormTraitRepository struct {
	db *gorm.DB
}

// NewGormTraitRepository creates a GORM trait repository.
func NewGormTraitRepository(db *gorm.DB) memory.TraitRepository {
	return &GormTraitRepository{db: db}
}

// Upsert writes a trait keyed by (user_id, key). The stored confidence never
// decreases: a re-observation with lower confidence still replaces the value
// but keeps the previous confidence. The read-modify-write runs inside a
// transaction so concurrent candidates for the same key serialize.
func (r *GormTraitRepository) Upsert(ctx context.Context, trait *memory.Trait) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.TraitModel
		res := tx.Where("user_id = ? AND key = ?", trait.UserID, trait.Key).
			Limit(1).
			Find(&existing)
		if res.Error != nil {
			return res.Error
		}

		confidence := trait.Confidence
		if res.RowsAffected > 0 && existing.Confidence > confidence {
			confidence = existing.Confidence
		}

		model := models.TraitModel{
			UserID:     trait.UserID,
			Key:        trait.Key,
			Value:      trait.Value,
			Confidence: confidence,
			CreatedAt:  existing.CreatedAt,
		}
		return tx.Save(&model).Error
	})

	if err != nil {
		return domainErrors.NewInternalError("failed to upsert trait: " + err.Error())
	}
	return nil
}

// ListByUser returns the user's traits at or above minConfidence, strongest
// first.
func (r *GormTraitRepository) ListByUser(ctx context.Context, userID string, minConfidence float64) ([]memory.Trait, error) {
	var rows []models.TraitModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND confidence >= ?", userID, minConfidence).
		Order("confidence desc").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to list traits: " + err.Error())
	}
	return toTraits(rows), nil
}

// Search filters the user's traits by a LIKE match on key or value.
func (r *GormTraitRepository) Search(ctx context.Context, userID, query string, minConfidence float64) ([]memory.Trait, error) {
	like := "%" + query + "%"
	var rows []models.TraitModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND confidence >= ? AND (key LIKE ? OR value LIKE ?)",
			userID, minConfidence, like, like).
		Order("confidence desc").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to search traits: " + err.Error())
	}
	return toTraits(rows), nil
}

func toTraits(rows []models.TraitModel) []memory.Trait {
	traits := make([]memory.Trait, 0, len(rows))
	for _, row := range rows {
		traits = append(traits, memory.Trait{
			UserID:     row.UserID,
			Key:        row.Key,
			Value:      row.Value,
			Confidence: row.Confidence,
			CreatedAt:  row.CreatedAt,
			UpdatedAt:  row.UpdatedAt,
		})
	}
	return traits
}

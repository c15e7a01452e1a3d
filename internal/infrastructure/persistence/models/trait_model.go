package models

import "time"

// TraitModel is the stored user trait row. Primary key is (user_id, key);
// confidence is monotonic non-decreasing across upserts.
type TraitModel struct {
	UserID     string  `gorm:"primaryKey;size:64"`
	Key        string  `gorm:"primaryKey;size:64"`
	Value      string  `gorm:"type:text;not null"`
	Confidence float64 `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName sets the table name.
func (TraitModel) TableName() string {
	return "traits"
}

package models

import "time"

// EpisodeModel is a stored conversational episode. The ID is derived from
// user_id, timestamp and a content hash, so replays of the same candidate
// are idempotent.
type EpisodeModel struct {
	ID         string  `gorm:"primaryKey;size:128"`
	UserID     string  `gorm:"index;size:64;not null"`
	Content    string  `gorm:"type:text;not null"`
	Summary    string  `gorm:"type:text"`
	Confidence float64 `gorm:"not null"`
	Tags       string  `gorm:"type:text"` // JSON encoded list
	CreatedAt  time.Time
}

// TableName sets the table name.
func (EpisodeModel) TableName() string {
	return "episodes"
}

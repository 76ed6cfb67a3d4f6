package models

import "time"

const (
	AttemptStatusSuccess = "success"
	AttemptStatusFailed  = "failed"
)

// AttemptLog is an append-only audit row: one per post per scheduler pass,
// never one per individual retry.
type AttemptLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"not null;index" json:"post_id"`
	Status    string    `gorm:"size:50;not null" json:"status"`
	Message   string    `gorm:"type:text" json:"message"`
	Attempts  int       `gorm:"not null" json:"attempts"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

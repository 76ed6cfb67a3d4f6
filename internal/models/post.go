package models

import (
	"time"
)

// ScheduledPost is a post waiting for (or already past) publication.
// PostKey is the stable identifier assigned at ingestion, derived from the
// archive's creation timestamp where available.
type ScheduledPost struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	PostKey       string      `gorm:"uniqueIndex;size:64" json:"post_key"`
	Title         string      `gorm:"type:text" json:"title"`
	ScheduledTime time.Time   `gorm:"index;not null" json:"scheduled_time"`
	Posted        bool        `gorm:"default:false;index" json:"posted"`
	ClaimedAt     *time.Time  `gorm:"index" json:"-"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
	Images        []PostImage `gorm:"foreignKey:PostID" json:"images"`
}

// PostImage belongs to exactly one post. Rows are read back in insertion
// order (ascending ID), which determines attachment order on the remote post.
type PostImage struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	PostID   uint   `gorm:"not null;index" json:"post_id"`
	ImageURI string `gorm:"not null;type:text" json:"image_uri"`
}

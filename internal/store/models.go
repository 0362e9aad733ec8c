package store

import (
	"time"

	"gorm.io/gorm"
)

// Progress is the last known playback position for one audiobook. One row
// per book, newest write wins.
type Progress struct {
	AudiobookID string    `gorm:"primaryKey" json:"audiobook_id"`
	Title       string    `json:"title"`
	Position    float64   `json:"position"`
	Duration    float64   `json:"duration"`
	Rate        float64   `gorm:"default:1.0" json:"rate"`
	Chapter     string    `json:"chapter"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Bookmark is a user-placed marker inside an audiobook.
type Bookmark struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AudiobookID string    `gorm:"index;not null" json:"audiobook_id"`
	Position    float64   `json:"position"`
	Note        string    `json:"note"`
	CreatedAt   time.Time `json:"created_at"`
}

// BeforeCreate hook for Progress
func (p *Progress) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	return nil
}

// BeforeUpdate hook for Progress
func (p *Progress) BeforeUpdate(tx *gorm.DB) error {
	p.UpdatedAt = time.Now()
	return nil
}

// BeforeCreate hook for Bookmark
func (b *Bookmark) BeforeCreate(tx *gorm.DB) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	return nil
}

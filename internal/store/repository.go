package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fablehaus/tandem/internal/logger"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository provides database operations for progress and bookmarks
type Repository struct {
	db     *Database
	logger *logger.Logger
}

// NewRepository creates a new repository instance
func NewRepository(db *Database, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.Get()
	}
	return &Repository{
		db:     db,
		logger: log,
	}
}

// SaveProgress upserts the playback position for an audiobook.
func (r *Repository) SaveProgress(p Progress) error {
	if p.AudiobookID == "" {
		return fmt.Errorf("save progress: audiobook id is empty")
	}

	err := r.db.GetDB().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "audiobook_id"}},
		UpdateAll: true,
	}).Create(&p).Error
	if err != nil {
		r.logger.Error("Failed to save progress", map[string]interface{}{
			"audiobook_id": p.AudiobookID,
			"error":        err.Error(),
		})
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// GetProgress returns the stored position for an audiobook, or ErrNotFound.
func (r *Repository) GetProgress(audiobookID string) (*Progress, error) {
	var p Progress
	err := r.db.GetDB().First(&p, "audiobook_id = ?", audiobookID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	return &p, nil
}

// ListProgress returns all stored positions, most recently updated first.
func (r *Repository) ListProgress() ([]Progress, error) {
	var out []Progress
	if err := r.db.GetDB().Order("updated_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	return out, nil
}

// AddBookmark stores a marker at the given position.
func (r *Repository) AddBookmark(audiobookID string, position float64, note string) (*Bookmark, error) {
	if audiobookID == "" {
		return nil, fmt.Errorf("add bookmark: audiobook id is empty")
	}

	b := Bookmark{
		AudiobookID: audiobookID,
		Position:    position,
		Note:        note,
	}
	if err := r.db.GetDB().Create(&b).Error; err != nil {
		return nil, fmt.Errorf("failed to add bookmark: %w", err)
	}
	return &b, nil
}

// ListBookmarks returns all markers for an audiobook ordered by position.
func (r *Repository) ListBookmarks(audiobookID string) ([]Bookmark, error) {
	var out []Bookmark
	err := r.db.GetDB().
		Where("audiobook_id = ?", audiobookID).
		Order("position ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	return out, nil
}

// DeleteBookmark removes a marker by id.
func (r *Repository) DeleteBookmark(id uint) error {
	res := r.db.GetDB().Delete(&Bookmark{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete bookmark: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

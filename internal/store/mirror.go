package store

import (
	"sync"
	"time"

	"github.com/fablehaus/tandem/internal/logger"
	"github.com/fablehaus/tandem/internal/playback"
)

// DefaultMirrorInterval rate-limits progress writes; playback positions
// change several times a second and SQLite does not need every one.
const DefaultMirrorInterval = 5 * time.Second

// Mirror persists playback state snapshots as progress rows. Register its
// Observe method as a state observer; writes are throttled, with Flush
// catching whatever is still pending at shutdown.
type Mirror struct {
	repo *Repository
	min  time.Duration
	log  *logger.Logger

	mu         sync.Mutex
	last       time.Time
	pending    *playback.State
	wasPlaying bool
}

// NewMirror creates a mirror writing through repo at most once per interval.
func NewMirror(repo *Repository, interval time.Duration, log *logger.Logger) *Mirror {
	if interval <= 0 {
		interval = DefaultMirrorInterval
	}
	if log == nil {
		log = logger.Get()
	}
	return &Mirror{repo: repo, min: interval, log: log}
}

// Observe records a state snapshot, writing it through when the throttle
// window allows. States without a book loaded are ignored.
func (m *Mirror) Observe(s playback.State) {
	if s.AudiobookID == "" {
		return
	}

	m.mu.Lock()
	// A pause is a natural resting point; write it through regardless of
	// the throttle window.
	paused := m.wasPlaying && !s.IsPlaying
	m.wasPlaying = s.IsPlaying
	if !paused && time.Since(m.last) < m.min {
		snapshot := s
		m.pending = &snapshot
		m.mu.Unlock()
		return
	}
	m.last = time.Now()
	m.pending = nil
	m.mu.Unlock()

	m.write(s)
}

// Flush writes the most recent unwritten snapshot, if any.
func (m *Mirror) Flush() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if pending != nil {
		m.write(*pending)
	}
}

func (m *Mirror) write(s playback.State) {
	err := m.repo.SaveProgress(Progress{
		AudiobookID: s.AudiobookID,
		Title:       s.Title,
		Position:    s.CurrentTime,
		Duration:    s.Duration,
		Rate:        s.PlaybackRate,
		Chapter:     s.CurrentChapter,
	})
	if err != nil {
		m.log.Error("Failed to mirror playback progress", map[string]interface{}{
			"audiobook_id": s.AudiobookID,
			"error":        err.Error(),
		})
	}
}

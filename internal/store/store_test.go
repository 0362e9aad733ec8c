package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablehaus/tandem/internal/playback"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "tandem.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db, nil)
}

func TestSaveAndGetProgress(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.SaveProgress(Progress{
		AudiobookID: "bk-1",
		Title:       "Hyperion",
		Position:    120.5,
		Duration:    3600,
		Rate:        1.25,
		Chapter:     "Chapter 3",
	})
	require.NoError(t, err)

	got, err := repo.GetProgress("bk-1")
	require.NoError(t, err)
	assert.Equal(t, "Hyperion", got.Title)
	assert.Equal(t, 120.5, got.Position)
	assert.Equal(t, 1.25, got.Rate)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSaveProgressUpserts(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.SaveProgress(Progress{AudiobookID: "bk-1", Position: 10}))
	require.NoError(t, repo.SaveProgress(Progress{AudiobookID: "bk-1", Position: 99, Title: "Dune"}))

	got, err := repo.GetProgress("bk-1")
	require.NoError(t, err)
	assert.Equal(t, 99.0, got.Position)
	assert.Equal(t, "Dune", got.Title)

	all, err := repo.ListProgress()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetProgressNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetProgress("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveProgressRequiresBookID(t *testing.T) {
	repo := newTestRepo(t)

	require.Error(t, repo.SaveProgress(Progress{Position: 10}))
}

func TestBookmarkLifecycle(t *testing.T) {
	repo := newTestRepo(t)

	second, err := repo.AddBookmark("bk-1", 200, "great line")
	require.NoError(t, err)
	first, err := repo.AddBookmark("bk-1", 50, "")
	require.NoError(t, err)
	_, err = repo.AddBookmark("bk-2", 10, "other book")
	require.NoError(t, err)

	marks, err := repo.ListBookmarks("bk-1")
	require.NoError(t, err)
	require.Len(t, marks, 2)
	assert.Equal(t, first.ID, marks[0].ID)
	assert.Equal(t, second.ID, marks[1].ID)

	require.NoError(t, repo.DeleteBookmark(first.ID))
	marks, err = repo.ListBookmarks("bk-1")
	require.NoError(t, err)
	assert.Len(t, marks, 1)

	require.ErrorIs(t, repo.DeleteBookmark(first.ID), ErrNotFound)
}

func TestMirrorThrottlesWrites(t *testing.T) {
	repo := newTestRepo(t)
	mirror := NewMirror(repo, time.Hour, nil)

	state := playback.NewState()
	state.AudiobookID = "bk-1"
	state.Title = "Hyperion"
	state.CurrentTime = 10

	mirror.Observe(state)

	// Within the throttle window the second write is held back.
	state.CurrentTime = 20
	mirror.Observe(state)

	got, err := repo.GetProgress("bk-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.Position)

	mirror.Flush()

	got, err = repo.GetProgress("bk-1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.Position)
}

func TestMirrorWritesThroughOnPause(t *testing.T) {
	repo := newTestRepo(t)
	mirror := NewMirror(repo, time.Hour, nil)

	state := playback.NewState()
	state.AudiobookID = "bk-1"
	state.IsPlaying = true
	state.CurrentTime = 10
	mirror.Observe(state)

	state.CurrentTime = 30
	state.IsPlaying = false
	mirror.Observe(state)

	got, err := repo.GetProgress("bk-1")
	require.NoError(t, err)
	assert.Equal(t, 30.0, got.Position)
}

func TestMirrorIgnoresEmptyBook(t *testing.T) {
	repo := newTestRepo(t)
	mirror := NewMirror(repo, time.Millisecond, nil)

	mirror.Observe(playback.NewState())
	mirror.Flush()

	all, err := repo.ListProgress()
	require.NoError(t, err)
	assert.Empty(t, all)
}

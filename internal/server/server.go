package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fablehaus/tandem/internal/logger"
	"github.com/fablehaus/tandem/internal/playback"
	"github.com/fablehaus/tandem/internal/store"
)

// Player is the slice of the playback controller the HTTP surface drives.
type Player interface {
	Snapshot() playback.State
	Play() error
	Pause()
	TogglePlay() error
	Seek(seconds float64)
	SkipForward()
	SkipBack()
	SetRate(rate float64) error
	LoadBook(audiobookID, title, coverImage, audioURL string)
}

// Popout controls the detached player window.
type Popout interface {
	Attached() bool
	Open(initial playback.State) bool
	Close()
}

// Server represents the HTTP control server
type Server struct {
	server *http.Server
	player Player
	popout Popout
	repo   *store.Repository
	logger *logger.Logger
}

// New creates the HTTP control server. repo and popout may be nil; their
// endpoints then report the feature as unavailable.
func New(addr string, player Player, popout Popout, repo *store.Repository, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}

	s := &Server{
		server: &http.Server{
			Addr: addr,
		},
		player: player,
		popout: popout,
		repo:   repo,
		logger: log,
	}

	handler := http.NewServeMux()
	handler.HandleFunc("/healthz", s.handleHealthCheck)
	handler.HandleFunc("/player/status", s.handleStatus)
	handler.HandleFunc("/player/play", s.handlePlay)
	handler.HandleFunc("/player/pause", s.handlePause)
	handler.HandleFunc("/player/toggle", s.handleToggle)
	handler.HandleFunc("/player/seek", s.handleSeek)
	handler.HandleFunc("/player/skip", s.handleSkip)
	handler.HandleFunc("/player/rate", s.handleRate)
	handler.HandleFunc("/player/load", s.handleLoad)
	handler.HandleFunc("/player/popout", s.handlePopout)
	handler.HandleFunc("/player/popout/close", s.handlePopoutClose)
	handler.HandleFunc("/bookmarks", s.handleBookmarks)
	handler.HandleFunc("/bookmarks/", s.handleBookmarkByID)
	handler.HandleFunc("/progress", s.handleProgress)

	s.server.Handler = logger.HTTPMiddleware(handler)

	s.server.ReadTimeout = 10 * time.Second
	s.server.WriteTimeout = 30 * time.Second
	s.server.IdleTimeout = 120 * time.Second

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.server.Addr,
	})

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server", nil)
	return s.server.Shutdown(ctx)
}

// Handler exposes the configured handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(r.Context()).Error("Failed to write response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	logger.FromContext(r.Context()).Debug("Request rejected", map[string]interface{}{
		"status": status,
		"reason": msg,
	})
	s.writeJSON(w, r, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// statusResponse is the full control-surface view of the session.
type statusResponse struct {
	State          playback.State `json:"state"`
	PopoutAttached bool           `json:"popoutAttached"`
	Rates          []float64      `json:"rates"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		State: s.player.Snapshot(),
		Rates: playback.Rates,
	}
	if s.popout != nil {
		resp.PopoutAttached = s.popout.Attached()
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.player.Play(); err != nil {
		s.writeError(w, r, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "playing"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.player.Pause()
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.player.TogglePlay(); err != nil {
		s.writeError(w, r, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "toggled"})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Position float64 `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	s.player.Seek(req.Position)
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "seeked"})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Query().Get("direction") {
	case "back":
		s.player.SkipBack()
	case "forward", "":
		s.player.SkipForward()
	default:
		s.writeError(w, r, http.StatusBadRequest, "direction must be forward or back")
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "skipped"})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Rate float64 `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.player.SetRate(req.Rate); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "rate changed"})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		AudiobookID string `json:"audiobookId"`
		Title       string `json:"title"`
		CoverImage  string `json:"coverImage"`
		AudioURL    string `json:"audioUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AudiobookID == "" || req.AudioURL == "" {
		s.writeError(w, r, http.StatusBadRequest, "audiobookId and audioUrl are required")
		return
	}

	s.player.LoadBook(req.AudiobookID, req.Title, req.CoverImage, req.AudioURL)

	// Resume from mirrored progress when we have it.
	if s.repo != nil {
		if prog, err := s.repo.GetProgress(req.AudiobookID); err == nil && prog.Position > 0 {
			s.player.Seek(prog.Position)
		}
	}

	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "loaded"})
}

func (s *Server) handlePopout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.popout == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "pop-out not available")
		return
	}

	if !s.popout.Open(s.player.Snapshot()) {
		s.writeError(w, r, http.StatusConflict, "pop-out window could not be opened")
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "opened"})
}

func (s *Server) handlePopoutClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.popout == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "pop-out not available")
		return
	}

	s.popout.Close()
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "persistence not available")
		return
	}

	switch r.Method {
	case http.MethodGet:
		bookID := r.URL.Query().Get("audiobookId")
		if bookID == "" {
			bookID = s.player.Snapshot().AudiobookID
		}
		marks, err := s.repo.ListBookmarks(bookID)
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, r, http.StatusOK, marks)

	case http.MethodPost:
		// Body is optional; a bare POST bookmarks the current position.
		var req struct {
			Note string `json:"note"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		snap := s.player.Snapshot()
		if snap.AudiobookID == "" {
			s.writeError(w, r, http.StatusConflict, "no audiobook loaded")
			return
		}
		mark, err := s.repo.AddBookmark(snap.AudiobookID, snap.CurrentTime, req.Note)
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, r, http.StatusCreated, mark)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBookmarkByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.repo == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "persistence not available")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/bookmarks/")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid bookmark id")
		return
	}

	if err := s.repo.DeleteBookmark(uint(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "bookmark not found")
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.repo == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "persistence not available")
		return
	}

	all, err := s.repo.ListProgress()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, r, http.StatusOK, all)
}

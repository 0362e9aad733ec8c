// Package window abstracts the pop-out player window: spawning it, asking it
// to close, and detecting that the user closed it externally. The host
// environment gives the opener no reliable close notification, so the handle
// is poll-only and liveness is established by the Monitor.
package window

import (
	"context"
	"errors"

	"github.com/fablehaus/tandem/internal/logger"
)

// ErrBlocked is returned when the environment refuses to open a new window,
// the way a popup blocker would.
var ErrBlocked = errors.New("window creation blocked")

// Window is a handle on a spawned pop-out window.
type Window interface {
	// Closed reports whether the window has shut down, either through
	// Close or externally. It is the only liveness signal the handle
	// offers; there is no close event.
	Closed() bool

	// Close asks the window to shut down. It does not wait.
	Close()
}

// Spawner opens pop-out windows.
type Spawner interface {
	// Spawn opens a window at the given launch URL. It returns ErrBlocked
	// (or another error) when the environment refuses.
	Spawn(launchURL string) (Window, error)
}

// InProcSpawner hosts the pop-out window in the same process: Run is the
// window's main loop, started on its own goroutine and expected to return
// when its context is cancelled.
type InProcSpawner struct {
	Run func(ctx context.Context, launchURL string) error
}

// Spawn starts the window's run loop. The returned handle reports Closed
// once the loop has returned, for whatever reason.
func (s *InProcSpawner) Spawn(launchURL string) (Window, error) {
	if s == nil || s.Run == nil {
		return nil, ErrBlocked
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &inProcWindow{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(w.done)
		if err := s.Run(ctx, launchURL); err != nil && !errors.Is(err, context.Canceled) {
			logger.Get().Error("Pop-out window exited with error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return w, nil
}

type inProcWindow struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *inProcWindow) Closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *inProcWindow) Close() {
	w.cancel()
}

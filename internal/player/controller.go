package player

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fablehaus/tandem/internal/logger"
	"github.com/fablehaus/tandem/internal/playback"
	"github.com/fablehaus/tandem/internal/protocol"
)

// DefaultSkipSeconds is the skip button step.
const DefaultSkipSeconds = 30.0

// ErrInvalidRate is returned for playback speeds outside the fixed menu.
var ErrInvalidRate = errors.New("playback rate not in menu")

// Broadcaster is the slice of the sync endpoint the controller needs:
// fire-and-forget typed broadcasts. A nil Broadcaster disables sync without
// affecting local playback.
type Broadcaster interface {
	Broadcast(kind protocol.Kind, payload *playback.Patch)
}

// Config wires a controller.
type Config struct {
	Element Element
	Sync    Broadcaster

	// SkipSeconds is the skip step, defaulting to DefaultSkipSeconds.
	SkipSeconds float64

	// GuardMaxAge bounds unconsumed echo-guard tokens.
	GuardMaxAge time.Duration

	// Initial, when set, is applied to the element on startup the same
	// way a remote update would be. A pop-out passes its bootstrap state
	// here so none of the resulting element events echo back out.
	Initial *playback.State

	Logger *logger.Logger
}

// Controller owns one audio element and is the only writer of its playback
// position, rate and play state on its side of the session. Every local
// user action commands the element first; the element's own events then
// drive both the displayed state and the outbound broadcasts, so state
// never runs ahead of what the element actually did.
type Controller struct {
	el    Element
	sync  Broadcaster
	guard *echoGuard
	skip  float64
	log   *logger.Logger

	mu        sync.Mutex
	state     playback.State
	lastSec   int64 // last integer second broadcast as a time-update
	observers []func(playback.State)

	done chan struct{}
}

// New creates a controller and starts consuming element events.
func New(cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	skip := cfg.SkipSeconds
	if skip <= 0 {
		skip = DefaultSkipSeconds
	}

	c := &Controller{
		el:      cfg.Element,
		sync:    cfg.Sync,
		guard:   newEchoGuard(cfg.GuardMaxAge),
		skip:    skip,
		log:     log,
		state:   playback.NewState(),
		lastSec: -1,
		done:    make(chan struct{}),
	}

	go c.consumeEvents()

	if cfg.Initial != nil {
		c.ApplyRemote(cfg.Initial.Snapshot())
	}

	return c
}

// Close stops the event loop and releases the element.
func (c *Controller) Close() {
	c.el.Close()
	<-c.done
}

// Snapshot returns a copy of the current playback state.
func (c *Controller) Snapshot() playback.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnChange registers an observer invoked with a state copy after every
// state mutation, local or remote.
func (c *Controller) OnChange(fn func(playback.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// SetBroadcaster attaches the sync channel after construction, for wiring
// orders where the endpoint needs the controller's callbacks first.
func (c *Controller) SetBroadcaster(b Broadcaster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sync = b
}

// LoadBook points the element at a new audiobook and records its display
// metadata. The duration arrives through the element's metadata event.
func (c *Controller) LoadBook(audiobookID, title, coverImage, audioURL string) {
	c.mu.Lock()
	c.state.AudiobookID = audiobookID
	c.state.Title = title
	c.state.CoverImage = coverImage
	c.state.AudioURL = audioURL
	c.state.CurrentTime = 0
	c.state.Duration = 0
	c.state.IsPlaying = false
	c.lastSec = -1
	c.mu.Unlock()

	c.el.Load(audioURL)
	c.notify()
}

// SetChapter records the chapter label currently displayed.
func (c *Controller) SetChapter(chapter string) {
	c.mu.Lock()
	c.state.CurrentChapter = chapter
	snapshot := c.state
	c.mu.Unlock()

	c.notify()
	c.broadcast(protocol.KindMetadataUpdate, playback.Patch{
		CurrentChapter: &snapshot.CurrentChapter,
	})
}

// Play requests playback. A rejected attempt (the autoplay case) is logged
// and leaves the play state un-toggled; success is reflected when the
// element reports it actually started.
func (c *Controller) Play() error {
	if err := c.el.Play(); err != nil {
		c.log.Warn("Play attempt rejected", map[string]interface{}{
			"error": err.Error(),
		})
		return fmt.Errorf("failed to start playback: %w", err)
	}
	return nil
}

// Pause stops playback.
func (c *Controller) Pause() {
	c.el.Pause()
}

// TogglePlay plays when paused and pauses when playing.
func (c *Controller) TogglePlay() error {
	if c.Snapshot().IsPlaying {
		c.Pause()
		return nil
	}
	return c.Play()
}

// Seek moves to the given position, clamped to [0, duration].
func (c *Controller) Seek(seconds float64) {
	c.mu.Lock()
	target := playback.ClampTime(seconds, c.state.Duration)
	c.mu.Unlock()

	c.el.Seek(target)
}

// SkipForward jumps ahead by the configured skip step.
func (c *Controller) SkipForward() {
	c.skipBy(c.skip)
}

// SkipBack jumps back by the configured skip step.
func (c *Controller) SkipBack() {
	c.skipBy(-c.skip)
}

func (c *Controller) skipBy(delta float64) {
	c.mu.Lock()
	target := playback.ClampTime(c.state.CurrentTime+delta, c.state.Duration)
	c.mu.Unlock()

	c.el.Seek(target)
}

// SetRate changes the playback speed. Rates outside the fixed menu are
// rejected.
func (c *Controller) SetRate(rate float64) error {
	if !playback.ValidRate(rate) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	c.el.SetRate(rate)
	return nil
}

// ApplyRemote applies a peer state update to the element and the displayed
// state. Each element command is armed on the echo guard first, so the
// events it causes settle the guard instead of broadcasting back out.
// Fields absent from the patch are not touched.
func (c *Controller) ApplyRemote(patch playback.Patch) {
	if patch.AudioURL != nil {
		c.mu.Lock()
		changed := c.state.AudioURL != *patch.AudioURL
		c.state.AudioURL = *patch.AudioURL
		c.mu.Unlock()
		if changed {
			c.guard.arm(catMetadata)
			c.el.Load(*patch.AudioURL)
		}
	}

	c.mu.Lock()
	if patch.Duration != nil && *patch.Duration >= 0 {
		c.state.Duration = *patch.Duration
	}
	if patch.Title != nil {
		c.state.Title = *patch.Title
	}
	if patch.CoverImage != nil {
		c.state.CoverImage = *patch.CoverImage
	}
	if patch.CurrentChapter != nil {
		c.state.CurrentChapter = *patch.CurrentChapter
	}
	if patch.AudiobookID != nil {
		c.state.AudiobookID = *patch.AudiobookID
	}
	duration := c.state.Duration
	c.mu.Unlock()

	if target := firstFloat(patch.SeekTime, patch.CurrentTime); target != nil {
		pos := playback.ClampTime(*target, duration)
		c.mu.Lock()
		// Advance the throttle cursor so the applied position is not
		// immediately re-broadcast as a time-update.
		c.lastSec = int64(pos)
		c.mu.Unlock()

		c.guard.arm(catPosition)
		c.el.Seek(pos)
	}

	if patch.PlaybackRate != nil && playback.ValidRate(*patch.PlaybackRate) {
		c.guard.arm(catRate)
		c.el.SetRate(*patch.PlaybackRate)
	}

	if patch.IsPlaying != nil {
		c.mu.Lock()
		playing := c.state.IsPlaying
		c.mu.Unlock()

		// A redundant command is a no-op on the element and emits no
		// event, so an armed token would go stale and swallow the next
		// genuine local transition. Skip both.
		switch {
		case *patch.IsPlaying && !playing:
			id := c.guard.arm(catTransport)
			if err := c.el.Play(); err != nil {
				c.guard.disarm(catTransport, id)
				c.log.Warn("Remote play rejected locally", map[string]interface{}{
					"error": err.Error(),
				})
			}
		case !*patch.IsPlaying && playing:
			c.guard.arm(catTransport)
			c.el.Pause()
		}
	}

	c.notify()
}

// RespondStateRequest broadcasts a full state snapshot; the primary wires
// this to the endpoint's state-request notification.
func (c *Controller) RespondStateRequest() {
	snapshot := c.Snapshot().Snapshot()
	c.broadcast(protocol.KindStateResponse, snapshot)
}

// consumeEvents is the element event loop: the single place displayed state
// changes and broadcasts originate.
func (c *Controller) consumeEvents() {
	defer close(c.done)

	for ev := range c.el.Events() {
		switch ev.Kind {
		case EventStarted:
			c.mu.Lock()
			c.state.IsPlaying = true
			pos := c.state.CurrentTime
			c.mu.Unlock()
			c.notify()

			if !c.guard.consume(catTransport) {
				c.broadcast(protocol.KindPlay, playback.Patch{
					IsPlaying:   playback.Bool(true),
					CurrentTime: &pos,
				})
			}

		case EventPaused:
			c.mu.Lock()
			c.state.IsPlaying = false
			c.state.CurrentTime = ev.Time
			pos := c.state.CurrentTime
			c.mu.Unlock()
			c.notify()

			if !c.guard.consume(catTransport) {
				c.broadcast(protocol.KindPause, playback.Patch{
					IsPlaying:   playback.Bool(false),
					CurrentTime: &pos,
				})
			}

		case EventSeeked:
			c.mu.Lock()
			c.state.CurrentTime = ev.Time
			c.lastSec = int64(ev.Time)
			c.mu.Unlock()
			c.notify()

			if !c.guard.consume(catPosition) {
				c.broadcast(protocol.KindSeek, playback.Patch{
					SeekTime: playback.Float(ev.Time),
				})
			}

		case EventRateChanged:
			c.mu.Lock()
			c.state.PlaybackRate = ev.Rate
			c.mu.Unlock()
			c.notify()

			if !c.guard.consume(catRate) {
				c.broadcast(protocol.KindSpeedChange, playback.Patch{
					PlaybackRate: playback.Float(ev.Rate),
				})
			}

		case EventProgress:
			c.mu.Lock()
			c.state.CurrentTime = ev.Time
			sec := int64(math.Floor(ev.Time))
			tick := sec != c.lastSec
			if tick {
				c.lastSec = sec
			}
			c.mu.Unlock()
			c.notify()

			// At most one time-update per second of playback.
			if tick {
				c.broadcast(protocol.KindTimeUpdate, playback.Patch{
					CurrentTime: playback.Float(ev.Time),
				})
			}

		case EventMetadata:
			c.mu.Lock()
			c.state.Duration = ev.Duration
			snapshot := c.state
			c.mu.Unlock()
			c.notify()

			if !c.guard.consume(catMetadata) {
				c.broadcast(protocol.KindMetadataUpdate, playback.Patch{
					Duration:    &snapshot.Duration,
					AudioURL:    &snapshot.AudioURL,
					Title:       &snapshot.Title,
					CoverImage:  &snapshot.CoverImage,
					AudiobookID: &snapshot.AudiobookID,
				})
			}

		case EventEnded:
			c.mu.Lock()
			c.state.IsPlaying = false
			c.state.CurrentTime = ev.Time
			pos := c.state.CurrentTime
			c.mu.Unlock()
			c.notify()

			c.broadcast(protocol.KindPause, playback.Patch{
				IsPlaying:   playback.Bool(false),
				CurrentTime: &pos,
			})
		}
	}
}

func (c *Controller) broadcast(kind protocol.Kind, patch playback.Patch) {
	c.mu.Lock()
	b := c.sync
	c.mu.Unlock()
	if b == nil {
		return
	}
	b.Broadcast(kind, &patch)
}

func (c *Controller) notify() {
	c.mu.Lock()
	snapshot := c.state
	observers := make([]func(playback.State), len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}

func firstFloat(candidates ...*float64) *float64 {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

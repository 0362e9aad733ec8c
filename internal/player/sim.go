package player

import (
	"sync"
	"time"

	"github.com/fablehaus/tandem/internal/playback"
)

const (
	defaultTick     = 250 * time.Millisecond
	simEventBuffer  = 256
	defaultSimMedia = 3600.0
)

// SimOption configures a SimElement.
type SimOption func(*SimElement)

// WithTick sets the progress event cadence.
func WithTick(d time.Duration) SimOption {
	return func(e *SimElement) { e.tick = d }
}

// WithMediaDuration fixes the duration reported for any loaded media.
func WithMediaDuration(seconds float64) SimOption {
	return func(e *SimElement) { e.resolve = func(string) float64 { return seconds } }
}

// WithResolver sets the duration lookup used on Load.
func WithResolver(fn func(url string) float64) SimOption {
	return func(e *SimElement) { e.resolve = fn }
}

// WithPlayError makes every play attempt fail with err, the way an autoplay
// restriction would.
func WithPlayError(err error) SimOption {
	return func(e *SimElement) { e.playErr = err }
}

// SimElement is a clock-driven audio element: it has no actual audio output
// but advances its position in real time at the configured rate and emits
// the full event stream a media element would.
type SimElement struct {
	tick    time.Duration
	resolve func(url string) float64
	playErr error

	mu       sync.Mutex
	url      string
	duration float64
	pos      float64
	rate     float64
	playing  bool

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSimElement creates a simulated element and starts its clock.
func NewSimElement(opts ...SimOption) *SimElement {
	e := &SimElement{
		tick:    defaultTick,
		resolve: func(string) float64 { return defaultSimMedia },
		rate:    playback.DefaultRate,
		events:  make(chan Event, simEventBuffer),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	go e.run()
	return e
}

func (e *SimElement) run() {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			close(e.events)
			return
		case <-ticker.C:
			e.advance()
		}
	}
}

func (e *SimElement) advance() {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}

	e.pos += e.rate * e.tick.Seconds()
	ended := e.duration > 0 && e.pos >= e.duration
	if ended {
		e.pos = e.duration
		e.playing = false
	}
	pos := e.pos
	e.mu.Unlock()

	e.emit(Event{Kind: EventProgress, Time: pos})
	if ended {
		e.emit(Event{Kind: EventEnded, Time: pos})
	}
}

// emit never blocks; a consumer that stops draining loses events rather
// than freezing the clock.
func (e *SimElement) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}

// Load replaces the media source. The duration resolves immediately and
// EventMetadata follows.
func (e *SimElement) Load(url string) {
	e.mu.Lock()
	e.url = url
	e.pos = 0
	e.playing = false
	e.duration = e.resolve(url)
	dur := e.duration
	e.mu.Unlock()

	e.emit(Event{Kind: EventMetadata, Duration: dur})
}

func (e *SimElement) Play() error {
	if e.playErr != nil {
		return e.playErr
	}

	e.mu.Lock()
	if e.playing {
		e.mu.Unlock()
		return nil
	}
	e.playing = true
	pos := e.pos
	e.mu.Unlock()

	e.emit(Event{Kind: EventStarted, Time: pos})
	return nil
}

func (e *SimElement) Pause() {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = false
	pos := e.pos
	e.mu.Unlock()

	e.emit(Event{Kind: EventPaused, Time: pos})
}

func (e *SimElement) Seek(seconds float64) {
	e.mu.Lock()
	e.pos = playback.ClampTime(seconds, e.duration)
	pos := e.pos
	e.mu.Unlock()

	e.emit(Event{Kind: EventSeeked, Time: pos})
}

func (e *SimElement) SetRate(rate float64) {
	e.mu.Lock()
	e.rate = rate
	e.mu.Unlock()

	e.emit(Event{Kind: EventRateChanged, Rate: rate})
}

func (e *SimElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

func (e *SimElement) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *SimElement) Events() <-chan Event {
	return e.events
}

func (e *SimElement) Close() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
}

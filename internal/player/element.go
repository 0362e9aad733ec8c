// Package player implements the playback controller: the single owner of an
// audio element on its side of the session, translating user actions into
// element commands and sync broadcasts, and applying peer updates under an
// echo guard.
package player

// EventKind identifies an audio element notification.
type EventKind int

const (
	// EventStarted fires when a play attempt has actually begun playback.
	EventStarted EventKind = iota
	// EventPaused fires when playback stops.
	EventPaused
	// EventSeeked fires when a position change has been applied.
	EventSeeked
	// EventRateChanged fires when the playback speed has been applied.
	EventRateChanged
	// EventProgress fires periodically while playing.
	EventProgress
	// EventMetadata fires when the media's duration becomes known.
	EventMetadata
	// EventEnded fires when playback reaches the end of the media.
	EventEnded
)

// Event is an audio element notification. Time, Duration and Rate are only
// meaningful for the kinds that carry them.
type Event struct {
	Kind     EventKind
	Time     float64
	Duration float64
	Rate     float64
}

// Element is the audio device a controller owns. State transitions are
// event-driven: a successful Play is only reflected once EventStarted
// arrives, so a play attempt rejected by the environment never leaves
// phantom state behind.
type Element interface {
	// Load replaces the media source, resetting the position to zero.
	// EventMetadata follows once the duration is known.
	Load(url string)

	// Play requests playback to start. A synchronous rejection (the
	// analog of an autoplay restriction) is returned as an error;
	// success is signaled by EventStarted.
	Play() error

	// Pause stops playback. No-op when already paused.
	Pause()

	// Seek moves the position, clamped to the media bounds.
	Seek(seconds float64)

	// SetRate changes the playback speed.
	SetRate(rate float64)

	// CurrentTime returns the current position in seconds.
	CurrentTime() float64

	// Duration returns the media duration in seconds, 0 until known.
	Duration() float64

	// Events returns the element's notification stream. It is closed by
	// Close.
	Events() <-chan Event

	// Close releases the element.
	Close()
}

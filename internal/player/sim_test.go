package player

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", kind)
		}
	}
}

func TestSimElementAdvancesWhilePlaying(t *testing.T) {
	el := NewSimElement(WithTick(10*time.Millisecond), WithMediaDuration(3600))
	t.Cleanup(el.Close)

	require.NoError(t, el.Play())
	waitEvent(t, el.Events(), EventStarted)
	ev := waitEvent(t, el.Events(), EventProgress)
	assert.Greater(t, ev.Time, 0.0)

	el.Pause()
	waitEvent(t, el.Events(), EventPaused)
	frozen := el.CurrentTime()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, frozen, el.CurrentTime())
}

func TestSimElementSeekAndRate(t *testing.T) {
	el := NewSimElement(WithTick(10*time.Millisecond), WithMediaDuration(600))
	t.Cleanup(el.Close)

	el.Seek(120)
	ev := waitEvent(t, el.Events(), EventSeeked)
	assert.Equal(t, 120.0, ev.Time)
	assert.Equal(t, 120.0, el.CurrentTime())

	el.SetRate(2.0)
	rc := waitEvent(t, el.Events(), EventRateChanged)
	assert.Equal(t, 2.0, rc.Rate)
}

func TestSimElementEndsAtDuration(t *testing.T) {
	el := NewSimElement(WithTick(5*time.Millisecond), WithMediaDuration(600))
	t.Cleanup(el.Close)

	el.Load("https://cdn/short.mp3")
	waitEvent(t, el.Events(), EventMetadata)
	el.Seek(599.99)
	waitEvent(t, el.Events(), EventSeeked)
	require.NoError(t, el.Play())

	waitEvent(t, el.Events(), EventEnded)
	assert.Equal(t, 600.0, el.CurrentTime())
}

func TestSimElementPlayError(t *testing.T) {
	el := NewSimElement(WithPlayError(assert.AnError))
	t.Cleanup(el.Close)

	require.ErrorIs(t, el.Play(), assert.AnError)
}

func TestSimElementLoadEmitsMetadata(t *testing.T) {
	el := NewSimElement(WithResolver(func(url string) float64 { return 1234 }))
	t.Cleanup(el.Close)

	el.Load("https://cdn/book.mp3")
	ev := waitEvent(t, el.Events(), EventMetadata)
	assert.Equal(t, 1234.0, ev.Duration)
	assert.Equal(t, 1234.0, el.Duration())
}

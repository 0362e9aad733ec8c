package endpoint

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablehaus/tandem/internal/bus"
	"github.com/fablehaus/tandem/internal/playback"
	"github.com/fablehaus/tandem/internal/protocol"
	"github.com/fablehaus/tandem/internal/window"
)

const channelName = "audio-player-sync"

// recorder collects endpoint callback invocations for assertions.
type recorder struct {
	states   chan playback.Patch
	attached chan bool
	requests chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		states:   make(chan playback.Patch, 32),
		attached: make(chan bool, 32),
		requests: make(chan struct{}, 32),
	}
}

func (r *recorder) config(role protocol.Role, ch bus.Channel) Config {
	return Config{
		Role:           role,
		Channel:        ch,
		OnState:        func(p playback.Patch) { r.states <- p },
		OnAttached:     func(a bool) { r.attached <- a },
		OnStateRequest: func() { r.requests <- struct{}{} },
	}
}

func waitPatch(t *testing.T, ch <-chan playback.Patch) playback.Patch {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state update")
		return playback.Patch{}
	}
}

func waitAttached(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for attachment notification")
		return false
	}
}

func assertNoPatch(t *testing.T, ch <-chan playback.Patch) {
	t.Helper()
	select {
	case p := <-ch:
		t.Fatalf("unexpected state update: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

// fakeWin is a controllable window handle.
type fakeWin struct {
	closed atomic.Bool
}

func (w *fakeWin) Closed() bool { return w.closed.Load() }
func (w *fakeWin) Close()       { w.closed.Store(true) }

// fakeSpawner hands out a prepared window, or blocks like a popup blocker.
type fakeSpawner struct {
	win       *fakeWin
	blocked   bool
	launchURL string
}

func (s *fakeSpawner) Spawn(launchURL string) (window.Window, error) {
	s.launchURL = launchURL
	if s.blocked {
		return nil, window.ErrBlocked
	}
	return s.win, nil
}

func TestSelfEchoSuppression(t *testing.T) {
	b := bus.NewMemoryBus()
	rec := newRecorder()
	e := New(rec.config(protocol.RolePrimary, b.Open(channelName)))
	defer e.Close()

	// A message tagged with the endpoint's own role must be discarded
	// even though it arrives from the transport.
	tap := b.Open(channelName)
	defer tap.Close()

	for _, kind := range []protocol.Kind{
		protocol.KindPlay, protocol.KindPause, protocol.KindSeek,
		protocol.KindSpeedChange, protocol.KindTimeUpdate,
		protocol.KindMetadataUpdate, protocol.KindStateResponse,
	} {
		raw, err := protocol.Encode(protocol.New(kind, protocol.RolePrimary, &playback.Patch{
			CurrentTime: playback.Float(99),
			SeekTime:    playback.Float(99),
		}))
		require.NoError(t, err)
		require.NoError(t, tap.Publish(raw))
	}

	assertNoPatch(t, rec.states)
}

func TestStateUpdateClassification(t *testing.T) {
	b := bus.NewMemoryBus()
	rec := newRecorder()
	e := New(rec.config(protocol.RolePrimary, b.Open(channelName)))
	defer e.Close()

	tap := b.Open(channelName)
	defer tap.Close()

	raw, err := protocol.Encode(protocol.New(protocol.KindSpeedChange, protocol.RoleSatellite,
		&playback.Patch{PlaybackRate: playback.Float(1.5)}))
	require.NoError(t, err)
	require.NoError(t, tap.Publish(raw))

	p := waitPatch(t, rec.states)
	require.NotNil(t, p.PlaybackRate)
	assert.Equal(t, 1.5, *p.PlaybackRate)
	assert.Nil(t, p.CurrentTime)
	assert.Nil(t, p.IsPlaying)
}

func TestSeekDeliversOnlySeekTarget(t *testing.T) {
	b := bus.NewMemoryBus()
	rec := newRecorder()
	e := New(rec.config(protocol.RolePrimary, b.Open(channelName)))
	defer e.Close()

	tap := b.Open(channelName)
	defer tap.Close()

	raw, err := protocol.Encode(protocol.New(protocol.KindSeek, protocol.RoleSatellite,
		&playback.Patch{
			SeekTime:  playback.Float(120),
			IsPlaying: playback.Bool(true), // must not leak through
		}))
	require.NoError(t, err)
	require.NoError(t, tap.Publish(raw))

	p := waitPatch(t, rec.states)
	require.NotNil(t, p.SeekTime)
	assert.Equal(t, 120.0, *p.SeekTime)
	assert.Nil(t, p.IsPlaying)
	assert.Nil(t, p.CurrentTime)
}

func TestUnknownKindIgnored(t *testing.T) {
	b := bus.NewMemoryBus()
	rec := newRecorder()
	e := New(rec.config(protocol.RolePrimary, b.Open(channelName)))
	defer e.Close()

	tap := b.Open(channelName)
	defer tap.Close()

	require.NoError(t, tap.Publish(map[string]any{
		"type":    "shuffle",
		"source":  "satellite",
		"payload": map[string]any{"currentTime": 10.0},
	}))

	assertNoPatch(t, rec.states)
}

func TestSatelliteAnnouncesOnConstructionAndTeardown(t *testing.T) {
	b := bus.NewMemoryBus()
	prim := newRecorder()
	p := New(prim.config(protocol.RolePrimary, b.Open(channelName)))
	defer p.Close()

	sat := newRecorder()
	s := New(sat.config(protocol.RoleSatellite, b.Open(channelName)))

	assert.True(t, waitAttached(t, prim.attached))
	assert.True(t, p.Attached())

	s.Close()
	assert.False(t, waitAttached(t, prim.attached))
	assert.False(t, p.Attached())
}

func TestAttachNotifiedOncePerTransition(t *testing.T) {
	b := bus.NewMemoryBus()
	rec := newRecorder()
	e := New(rec.config(protocol.RolePrimary, b.Open(channelName)))
	defer e.Close()

	tap := b.Open(channelName)
	defer tap.Close()

	opened, err := protocol.Encode(protocol.New(protocol.KindOpened, protocol.RoleSatellite, nil))
	require.NoError(t, err)
	require.NoError(t, tap.Publish(opened))
	require.NoError(t, tap.Publish(opened))

	assert.True(t, waitAttached(t, rec.attached))
	select {
	case a := <-rec.attached:
		t.Fatalf("duplicate attachment notification: %v", a)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRequestStateReachesPrimaryOnly(t *testing.T) {
	b := bus.NewMemoryBus()
	prim := newRecorder()
	p := New(prim.config(protocol.RolePrimary, b.Open(channelName)))
	defer p.Close()

	sat := newRecorder()
	s := New(sat.config(protocol.RoleSatellite, b.Open(channelName)))
	defer s.Close()

	s.RequestState()

	select {
	case <-prim.requests:
	case <-time.After(2 * time.Second):
		t.Fatal("primary never saw the state request")
	}

	// A request-state from the primary is a protocol no-op on a satellite.
	p.RequestState()
	select {
	case <-sat.requests:
		t.Fatal("satellite must not handle request-state")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStateResponseOnlyMeaningfulToSatellite(t *testing.T) {
	b := bus.NewMemoryBus()
	prim := newRecorder()
	p := New(prim.config(protocol.RolePrimary, b.Open(channelName)))
	defer p.Close()

	sat := newRecorder()
	s := New(sat.config(protocol.RoleSatellite, b.Open(channelName)))
	defer s.Close()

	waitAttached(t, prim.attached) // satellite's opened announcement

	snapshot := playback.State{
		IsPlaying:    true,
		CurrentTime:  42,
		Duration:     3600,
		PlaybackRate: 1.0,
	}.Snapshot()
	p.Broadcast(protocol.KindStateResponse, &snapshot)

	got := waitPatch(t, sat.states)
	require.NotNil(t, got.CurrentTime)
	assert.Equal(t, 42.0, *got.CurrentTime)

	// Reflected back: a state-response from a satellite is ignored by the
	// primary's classifier.
	s.Broadcast(protocol.KindStateResponse, &snapshot)
	assertNoPatch(t, prim.states)
}

func TestOpenSatelliteLifecycle(t *testing.T) {
	b := bus.NewMemoryBus()
	rec := newRecorder()
	sp := &fakeSpawner{win: &fakeWin{}}

	cfg := rec.config(protocol.RolePrimary, b.Open(channelName))
	cfg.Spawner = sp
	cfg.PollInterval = 10 * time.Millisecond
	e := New(cfg)
	defer e.Close()

	state := playback.State{CurrentTime: 42, Duration: 3600, PlaybackRate: 1.0}
	w := e.OpenSatellite(state)
	require.NotNil(t, w)

	// Attached optimistically, before any opened announcement.
	assert.True(t, waitAttached(t, rec.attached))

	// Bootstrap state travels in the launch URL.
	got, ok := protocol.DecodeLaunchURL(sp.launchURL)
	assert.True(t, ok)
	assert.Equal(t, 42.0, got.CurrentTime)
	assert.Equal(t, 3600.0, got.Duration)

	e.CloseSatellite()
	assert.False(t, waitAttached(t, rec.attached))
	assert.True(t, sp.win.Closed())

	// Idempotent.
	e.CloseSatellite()
	select {
	case a := <-rec.attached:
		t.Fatalf("unexpected attachment notification: %v", a)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOpenSatelliteBlocked(t *testing.T) {
	b := bus.NewMemoryBus()
	rec := newRecorder()

	cfg := rec.config(protocol.RolePrimary, b.Open(channelName))
	cfg.Spawner = &fakeSpawner{blocked: true}
	e := New(cfg)
	defer e.Close()

	assert.Nil(t, e.OpenSatellite(playback.NewState()))
	assert.False(t, e.Attached())
}

func TestSatelliteCannotSpawn(t *testing.T) {
	b := bus.NewMemoryBus()
	rec := newRecorder()

	cfg := rec.config(protocol.RoleSatellite, b.Open(channelName))
	cfg.Spawner = &fakeSpawner{win: &fakeWin{}}
	e := New(cfg)
	defer e.Close()

	assert.Nil(t, e.OpenSatellite(playback.NewState()))
}

func TestLivenessDetection(t *testing.T) {
	b := bus.NewMemoryBus()
	rec := newRecorder()
	sp := &fakeSpawner{win: &fakeWin{}}

	cfg := rec.config(protocol.RolePrimary, b.Open(channelName))
	cfg.Spawner = sp
	cfg.PollInterval = 10 * time.Millisecond
	e := New(cfg)
	defer e.Close()

	require.NotNil(t, e.OpenSatellite(playback.NewState()))
	assert.True(t, waitAttached(t, rec.attached))

	// Close the window externally, without a closed announcement.
	sp.win.Close()

	assert.False(t, waitAttached(t, rec.attached))

	// Exactly once.
	select {
	case a := <-rec.attached:
		t.Fatalf("duplicate detach notification: %v", a)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNoTransportDegradation(t *testing.T) {
	rec := newRecorder()
	cfg := rec.config(protocol.RolePrimary, nil)
	cfg.Spawner = &fakeSpawner{win: &fakeWin{}}
	e := New(cfg)
	defer e.Close()

	// None of these may panic without a channel.
	e.Broadcast(protocol.KindPlay, &playback.Patch{IsPlaying: playback.Bool(true)})
	e.RequestState()
	w := e.OpenSatellite(playback.NewState())
	require.NotNil(t, w, "the window itself opens even without sync")
	e.CloseSatellite()
	assertNoPatch(t, rec.states)
}

func TestBroadcastAfterCloseIsNoop(t *testing.T) {
	b := bus.NewMemoryBus()
	rec := newRecorder()
	e := New(rec.config(protocol.RolePrimary, b.Open(channelName)))

	peer := b.Open(channelName)
	defer peer.Close()
	got := make(chan map[string]any, 8)
	peer.Subscribe(func(m map[string]any) { got <- m })

	e.Close()
	e.Close() // idempotent
	e.Broadcast(protocol.KindPlay, nil)

	select {
	case m := <-got:
		t.Fatalf("unexpected message after close: %v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

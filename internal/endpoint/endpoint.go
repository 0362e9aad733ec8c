// Package endpoint implements the player sync protocol layer: one endpoint
// per window, parameterized by role, wrapping a broadcast channel
// subscription with peer filtering, message classification and the pop-out
// attachment lifecycle.
package endpoint

import (
	"sync"
	"time"

	"github.com/fablehaus/tandem/internal/bus"
	"github.com/fablehaus/tandem/internal/logger"
	"github.com/fablehaus/tandem/internal/playback"
	"github.com/fablehaus/tandem/internal/protocol"
	"github.com/fablehaus/tandem/internal/window"
)

// Config wires an endpoint to its collaborators. Channel may be nil when the
// host environment offers no broadcast medium; the endpoint then degrades to
// no-sync mode and every operation becomes a harmless no-op.
type Config struct {
	Role    protocol.Role
	Channel bus.Channel

	// Spawner opens pop-out windows. Only meaningful for the primary.
	Spawner window.Spawner

	// PollInterval is the pop-out liveness poll cadence. Zero selects
	// window.DefaultPollInterval.
	PollInterval time.Duration

	// OnState receives partial playback state from the peer window. Seek
	// instructions arrive with only the SeekTime field set.
	OnState func(playback.Patch)

	// OnAttached is notified when the peer attaches or detaches, at most
	// once per transition.
	OnAttached func(attached bool)

	// OnStateRequest is notified when the peer asks for a full state
	// snapshot. The protocol layer does not answer it; the primary's
	// playback controller is expected to respond with a state-response
	// broadcast.
	OnStateRequest func()

	Logger *logger.Logger
}

// Endpoint is one window's connection to the sync channel.
type Endpoint struct {
	role         protocol.Role
	ch           bus.Channel
	spawner      window.Spawner
	pollInterval time.Duration
	log          *logger.Logger

	onState        func(playback.Patch)
	onAttached     func(bool)
	onStateRequest func()

	mu          sync.Mutex
	attached    bool
	satellite   window.Window
	monitor     *window.Monitor
	unsubscribe func()
	closed      bool
}

// New creates an endpoint and, for a satellite, immediately announces its
// presence on the channel. A satellite assumes it is attached from the
// moment it exists; only the primary tracks a real attachment state.
func New(cfg Config) *Endpoint {
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	e := &Endpoint{
		role:           cfg.Role,
		ch:             cfg.Channel,
		spawner:        cfg.Spawner,
		pollInterval:   cfg.PollInterval,
		log:            log,
		onState:        cfg.OnState,
		onAttached:     cfg.OnAttached,
		onStateRequest: cfg.OnStateRequest,
	}

	if e.ch == nil {
		log.Warn("Broadcast channel unavailable, window sync disabled", map[string]interface{}{
			"role": string(cfg.Role),
		})
		return e
	}

	e.unsubscribe = e.ch.Subscribe(e.handleRaw)

	if e.role == protocol.RoleSatellite {
		e.Broadcast(protocol.KindOpened, nil)
	}

	return e
}

// Role returns the endpoint's role.
func (e *Endpoint) Role() protocol.Role {
	return e.role
}

// Attached reports whether a peer window is currently attached.
func (e *Endpoint) Attached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attached
}

// Broadcast publishes a message of the given kind, stamped with the
// endpoint's role and the current time. It is a no-op without a channel.
func (e *Endpoint) Broadcast(kind protocol.Kind, payload *playback.Patch) {
	e.mu.Lock()
	ch := e.ch
	closed := e.closed
	e.mu.Unlock()
	if ch == nil || closed {
		return
	}

	raw, err := protocol.Encode(protocol.New(kind, e.role, payload))
	if err != nil {
		e.log.Error("Failed to encode sync message", map[string]interface{}{
			"kind":  string(kind),
			"error": err.Error(),
		})
		return
	}
	if err := ch.Publish(raw); err != nil {
		e.log.Debug("Failed to publish sync message", map[string]interface{}{
			"kind":  string(kind),
			"error": err.Error(),
		})
	}
}

// RequestState asks the peer for a full state snapshot. A satellite calls
// this at startup when its bootstrap state is absent or stale.
func (e *Endpoint) RequestState() {
	e.Broadcast(protocol.KindRequestState, nil)
}

// OpenSatellite spawns a pop-out window bootstrapped with the given state
// and starts the liveness monitor for it. The endpoint is marked attached
// optimistically for immediate UI feedback; the satellite's own opened
// announcement later reconciles the state. Returns nil when spawning is
// blocked or when called on a satellite.
func (e *Endpoint) OpenSatellite(initial playback.State) window.Window {
	if e.role != protocol.RolePrimary {
		e.log.Warn("Only the primary window can open a pop-out")
		return nil
	}
	if e.spawner == nil {
		e.log.Warn("No window spawner configured, cannot open pop-out")
		return nil
	}

	launchURL, err := protocol.EncodeLaunchURL(initial)
	if err != nil {
		e.log.Error("Failed to encode pop-out bootstrap state", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	w, err := e.spawner.Spawn(launchURL)
	if err != nil {
		e.log.Warn("Pop-out window was blocked", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	e.mu.Lock()
	if e.monitor != nil {
		e.monitor.Stop()
	}
	e.satellite = w
	e.monitor = window.Watch(w, e.pollInterval, e.satelliteVanished)
	e.mu.Unlock()

	e.log.Info("Pop-out player opened")
	e.setAttached(true)
	return w
}

// CloseSatellite asks the pop-out window to close and immediately marks the
// endpoint detached. Idempotent.
func (e *Endpoint) CloseSatellite() {
	e.mu.Lock()
	w := e.satellite
	m := e.monitor
	e.satellite = nil
	e.monitor = nil
	e.mu.Unlock()

	if m != nil {
		m.Stop()
	}
	if w != nil {
		w.Close()
	}
	e.setAttached(false)
}

// Close tears the endpoint down: a satellite announces its departure, the
// liveness monitor stops, and the channel subscription and handle are
// released before the window handle is dropped.
func (e *Endpoint) Close() {
	if e.role == protocol.RoleSatellite {
		e.Broadcast(protocol.KindClosed, nil)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	m := e.monitor
	e.monitor = nil
	e.satellite = nil
	unsub := e.unsubscribe
	e.unsubscribe = nil
	ch := e.ch
	e.ch = nil
	e.mu.Unlock()

	if m != nil {
		m.Stop()
	}
	if unsub != nil {
		unsub()
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			e.log.Debug("Failed to close sync channel", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// handleRaw is the channel subscription entry point. Messages originating
// from this endpoint's own role are discarded here, at the transport-wrapper
// boundary, so the classifier only ever sees peer traffic.
func (e *Endpoint) handleRaw(raw map[string]any) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		e.log.Debug("Ignoring malformed sync message", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if msg.Source == e.role {
		return
	}
	e.classify(msg)
}

func (e *Endpoint) classify(msg protocol.Message) {
	switch msg.Type {
	case protocol.KindPlay, protocol.KindPause, protocol.KindSpeedChange,
		protocol.KindTimeUpdate, protocol.KindMetadataUpdate:
		if msg.Payload != nil {
			e.deliverState(*msg.Payload)
		}

	case protocol.KindSeek:
		// Seek is an instruction, not a state snapshot: only the seek
		// target is forwarded.
		if msg.Payload != nil && msg.Payload.SeekTime != nil {
			e.deliverState(playback.Patch{SeekTime: msg.Payload.SeekTime})
		}

	case protocol.KindOpened:
		e.setAttached(true)

	case protocol.KindClosed:
		e.mu.Lock()
		m := e.monitor
		e.monitor = nil
		e.satellite = nil
		e.mu.Unlock()
		if m != nil {
			m.Stop()
		}
		e.setAttached(false)

	case protocol.KindRequestState:
		// Answering is the playback controller's contract, not ours.
		if e.role == protocol.RolePrimary && e.onStateRequest != nil {
			e.onStateRequest()
		}

	case protocol.KindStateResponse:
		if e.role == protocol.RoleSatellite && msg.Payload != nil {
			e.deliverState(*msg.Payload)
		}

	default:
		e.log.Debug("Ignoring unknown sync message kind", map[string]interface{}{
			"kind": string(msg.Type),
		})
	}
}

func (e *Endpoint) deliverState(patch playback.Patch) {
	if patch.IsZero() || e.onState == nil {
		return
	}
	e.onState(patch)
}

// satelliteVanished is the liveness monitor's callback: the pop-out was
// closed externally, without a closed announcement.
func (e *Endpoint) satelliteVanished() {
	e.mu.Lock()
	e.satellite = nil
	e.monitor = nil
	e.mu.Unlock()

	e.log.Info("Pop-out player window closed externally")
	e.setAttached(false)
}

// setAttached transitions the attachment state, notifying the listener at
// most once per transition.
func (e *Endpoint) setAttached(attached bool) {
	e.mu.Lock()
	if e.attached == attached {
		e.mu.Unlock()
		return
	}
	e.attached = attached
	cb := e.onAttached
	e.mu.Unlock()

	if cb != nil {
		cb(attached)
	}
}

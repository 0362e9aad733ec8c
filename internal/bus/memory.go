package bus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/teivah/broadcast"
)

// listenerBuffer is the per-subscriber buffer. Publishing blocks when a
// subscriber falls this far behind.
const listenerBuffer = 64

// envelope tags a message with the handle that published it, so a handle's
// own subscribers can be skipped.
type envelope struct {
	origin uuid.UUID
	msg    map[string]any
}

// MemoryBus is an in-process broadcast medium: a registry of named channels
// whose handles fan messages out to every other handle on the same channel.
type MemoryBus struct {
	mu       sync.Mutex
	channels map[string]*memChannel
}

type memChannel struct {
	relay *broadcast.Relay[envelope]
	refs  int
}

// NewMemoryBus creates an empty channel registry.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{channels: make(map[string]*memChannel)}
}

// Open returns a new handle on the named channel, creating the channel if no
// handle is currently open on it.
func (b *MemoryBus) Open(name string) Channel {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[name]
	if !ok {
		ch = &memChannel{relay: broadcast.NewRelay[envelope]()}
		b.channels[name] = ch
	}
	ch.refs++

	return &memHandle{
		bus:  b,
		name: name,
		ch:   ch,
		id:   uuid.New(),
	}
}

func (b *MemoryBus) release(name string, ch *memChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch.refs--
	if ch.refs <= 0 {
		ch.relay.Close()
		delete(b.channels, name)
	}
}

type memHandle struct {
	bus  *MemoryBus
	name string
	ch   *memChannel
	id   uuid.UUID

	mu     sync.Mutex
	closed bool
	subs   []*memSub
}

// memSub guards a relay listener against double close, which can otherwise
// happen when an unsubscribe races the handle's own Close.
type memSub struct {
	l    *broadcast.Listener[envelope]
	once sync.Once
}

func (s *memSub) close() {
	s.once.Do(s.l.Close)
}

func (h *memHandle) Publish(msg map[string]any) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.mu.Unlock()

	h.ch.relay.Notify(envelope{origin: h.id, msg: msg})
	return nil
}

func (h *memHandle) Subscribe(fn func(msg map[string]any)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return func() {}
	}

	sub := &memSub{l: h.ch.relay.Listener(listenerBuffer)}
	h.subs = append(h.subs, sub)

	go func() {
		for env := range sub.l.Ch() {
			if env.origin == h.id {
				continue
			}
			fn(env.msg)
		}
	}()

	return sub.close
}

func (h *memHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	h.bus.release(h.name, h.ch)
	return nil
}

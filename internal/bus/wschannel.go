package bus

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// wsChannel is a Channel backed by a relay hub connection. The hub never
// echoes a frame back to its sender, so no origin filtering is needed on
// this side.
type wsChannel struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	nextID int
	subs   map[int]func(map[string]any)

	done chan struct{}
}

// DialRelay connects a channel handle to a relay hub. rawURL is the hub's
// base URL (http, https, ws or wss); name selects the channel.
func DialRelay(ctx context.Context, rawURL, name string) (Channel, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if !strings.HasPrefix(u.Scheme, "ws") {
		return nil, fmt.Errorf("invalid relay scheme: %s", u.Scheme)
	}
	q := u.Query()
	q.Set("channel", name)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	ch := &wsChannel{
		conn: conn,
		subs: make(map[int]func(map[string]any)),
		done: make(chan struct{}),
	}
	go ch.readPump()
	return ch, nil
}

func (c *wsChannel) readPump() {
	defer close(c.done)
	for {
		var msg map[string]any
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		c.mu.Lock()
		handlers := make([]func(map[string]any), 0, len(c.subs))
		for _, fn := range c.subs {
			handlers = append(handlers, fn)
		}
		c.mu.Unlock()

		for _, fn := range handlers {
			fn(msg)
		}
	}
}

func (c *wsChannel) Publish(msg map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to publish to relay: %w", err)
	}
	return nil
}

func (c *wsChannel) Subscribe(fn func(msg map[string]any)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}

	id := c.nextID
	c.nextID++
	c.subs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *wsChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = make(map[int]func(map[string]any))
	c.mu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

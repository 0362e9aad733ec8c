// Package bus provides the broadcast channel medium the player sync protocol
// runs on: a named channel delivering every published message to all other
// subscribers of that channel, never back to the publishing handle.
//
// Two media are provided. The in-memory bus connects endpoints living in the
// same process; the websocket relay bridges endpoints across processes with
// the same fan-out semantics. Both carry plain JSON-able maps only, so
// receivers never share memory with the sender's copy of a message.
package bus

import "errors"

// ErrClosed is returned when publishing on a closed channel handle.
var ErrClosed = errors.New("channel closed")

// Channel is one endpoint's handle on a named broadcast channel.
//
// Publish is fire-and-forget: there is no acknowledgement, and messages
// published while no peer is subscribed are dropped, not queued. Messages
// from one handle reach each subscriber in publish order. Subscribers are
// invoked asynchronously relative to the publish call and never receive
// messages published through their own handle.
type Channel interface {
	// Publish sends a message to every other subscriber of the channel.
	Publish(msg map[string]any) error

	// Subscribe registers a handler for inbound messages. The returned
	// function unsubscribes the handler.
	Subscribe(fn func(msg map[string]any)) (unsubscribe func())

	// Close releases the handle. No messages are sent or received after
	// Close returns.
	Close() error
}

// Package protocol defines the wire format exchanged over the player sync
// channel and the bootstrap handoff for a freshly spawned pop-out window.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/fablehaus/tandem/internal/playback"
)

// Kind identifies a sync message. The set is closed; receivers ignore
// anything else.
type Kind string

const (
	KindPlay           Kind = "play"
	KindPause          Kind = "pause"
	KindSeek           Kind = "seek"
	KindSpeedChange    Kind = "speed-change"
	KindTimeUpdate     Kind = "time-update"
	KindMetadataUpdate Kind = "metadata-update"
	KindOpened         Kind = "opened"
	KindClosed         Kind = "closed"
	KindRequestState   Kind = "request-state"
	KindStateResponse  Kind = "state-response"
)

// Known reports whether k is part of the closed message set.
func (k Kind) Known() bool {
	switch k {
	case KindPlay, KindPause, KindSeek, KindSpeedChange, KindTimeUpdate,
		KindMetadataUpdate, KindOpened, KindClosed, KindRequestState,
		KindStateResponse:
		return true
	}
	return false
}

// Role identifies which side of the session emitted a message.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSatellite Role = "satellite"
)

// Message is the unit of exchange on the sync channel. Timestamps are unix
// milliseconds, kept for ordering and debugging only; replication is
// last-write-wins.
type Message struct {
	Type      Kind            `json:"type" mapstructure:"type"`
	Payload   *playback.Patch `json:"payload,omitempty" mapstructure:"payload"`
	Source    Role            `json:"source" mapstructure:"source"`
	Timestamp int64           `json:"timestamp" mapstructure:"timestamp"`
}

// New builds a message stamped with the given source role and the current
// time.
func New(kind Kind, source Role, payload *playback.Patch) Message {
	return Message{
		Type:      kind,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Encode flattens the message into a plain JSON-able map, the only shape
// allowed to cross the channel. Receivers never share memory with the
// sender's copy.
func Encode(m Message) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync message: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to flatten sync message: %w", err)
	}
	return raw, nil
}

// Decode reconstructs a typed message from a raw channel value. Fields
// absent from the value are simply left unset; an unknown type is returned
// as-is for the caller to ignore.
func Decode(raw any) (Message, error) {
	var m Message
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &m,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to build message decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return Message{}, fmt.Errorf("failed to decode sync message: %w", err)
	}
	return m, nil
}

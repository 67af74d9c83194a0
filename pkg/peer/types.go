package peer

import (
	"encoding/json"
	"errors"
)

// Lifecycle event types emitted to the joining caller.
const (
	EventConnecting   = "onConnecting"
	EventConnected    = "onConnected"
	EventDisconnected = "onDisconnected"
	EventMessage      = "onEvent"
)

// Kinds of messages exchanged on a group subject.
const (
	kindJoin  = "join"
	kindHello = "hello"
	kindLeave = "leave"
	kindEvent = "event"
)

// ErrUnavailable is returned when the session has no transport.
var ErrUnavailable = errors.New("peer transport unavailable")

// Event is one lifecycle or message event delivered to the group listener.
type Event struct {
	Type   string          `json:"type"`
	PeerID string          `json:"peerId"`
	Event  string          `json:"event,omitempty"`
	Object json.RawMessage `json:"object,omitempty"`
}

// Message is the wire form of traffic on a group subject.
type Message struct {
	Kind   string          `json:"kind"`
	PeerID string          `json:"peerId"`
	Event  string          `json:"event,omitempty"`
	Object json.RawMessage `json:"object,omitempty"`
}

// Handlers receive a group's events. OnLeave runs once when the group is left.
type Handlers struct {
	OnEvent func(Event)
	OnLeave func()
}

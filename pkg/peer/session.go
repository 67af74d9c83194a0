// Package peer implements peer groups over COMMS subjects.
//
// Members of a group share the subject rainbowbridge.peer.<group>. A joining
// peer announces itself and existing members answer with hello. Members
// repeat hello every heartbeat interval; a peer silent for longer than the
// expiry, or one that sends leave, is disconnected. A join from a peer that
// is already known is a reconnect. Events are broadcast on the same subject.
package peer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"

	"github.com/morezero/rainbow-bridge/pkg/commsutil"
)

const logPrefix = "peer:session"

// Heartbeat defaults.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultPeerExpiry        = 30 * time.Second
)

// Option configures a Session.
type Option func(*Session)

// WithHeartbeat sets how often this host announces itself and how long a
// silent peer stays connected. Non-positive values keep the defaults.
func WithHeartbeat(interval, expiry time.Duration) Option {
	return func(s *Session) {
		if interval > 0 {
			s.interval = interval
		}
		if expiry > 0 {
			s.expiry = expiry
		}
	}
}

// Session is this host's membership in at most one peer group.
type Session struct {
	nc       *comms.Conn
	peerID   string
	interval time.Duration
	expiry   time.Duration

	mu    sync.Mutex
	group *group
}

type group struct {
	name     string
	subject  string
	sub      *comms.Subscription
	handlers Handlers

	mu     sync.Mutex
	peers  map[string]time.Time // last seen
	closed bool
	done   chan struct{}
}

// NewSession creates a session. An empty peerID gets a generated one.
// A nil connection yields a session whose operations fail with ErrUnavailable.
func NewSession(nc *comms.Conn, peerID string, opts ...Option) *Session {
	if peerID == "" {
		peerID = nuid.Next()
	}
	s := &Session{
		nc:       nc,
		peerID:   peerID,
		interval: DefaultHeartbeatInterval,
		expiry:   DefaultPeerExpiry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PeerID returns this host's identifier in every group.
func (s *Session) PeerID() string { return s.peerID }

// Group returns the joined group name, or "".
func (s *Session) Group() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group == nil {
		return ""
	}
	return s.group.name
}

// Join leaves any current group and joins name. The handlers receive
// onConnecting and onConnected for this host immediately, then peer events.
func (s *Session) Join(name string, handlers Handlers) error {
	if s.nc == nil {
		return ErrUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.group != nil {
		s.leaveLocked()
	}

	g := &group{
		name:     name,
		subject:  commsutil.BuildPeerGroupSubject(name),
		handlers: handlers,
		peers:    make(map[string]time.Time),
		done:     make(chan struct{}),
	}
	g.emit(Event{Type: EventConnecting, PeerID: s.peerID})

	sub, err := s.nc.Subscribe(g.subject, func(msg *comms.Msg) {
		s.onMessage(g, msg)
	})
	if err != nil {
		g.emit(Event{Type: EventDisconnected, PeerID: s.peerID})
		g.close()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, g.subject, err)
	}
	g.sub = sub

	if err := s.publish(g.subject, Message{Kind: kindJoin, PeerID: s.peerID}); err != nil {
		_ = sub.Unsubscribe()
		g.emit(Event{Type: EventDisconnected, PeerID: s.peerID})
		g.close()
		return err
	}
	if err := s.nc.Flush(); err != nil {
		slog.Warn(fmt.Sprintf("%s - flush after join failed: %v", logPrefix, err))
	}

	s.group = g
	g.emit(Event{Type: EventConnected, PeerID: s.peerID})
	go s.heartbeat(g)
	slog.Info(fmt.Sprintf("%s - %s joined peer group %s", logPrefix, s.peerID, name))
	return nil
}

// Send broadcasts event with an optional payload to the group and returns
// the peers it was sent to. Not being in a group returns an empty list.
func (s *Session) Send(event string, object any) ([]string, error) {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return []string{}, nil
	}

	msg := Message{Kind: kindEvent, PeerID: s.peerID, Event: event}
	if object != nil {
		raw, err := json.Marshal(object)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to encode event payload: %w", logPrefix, err)
		}
		msg.Object = raw
	}

	peers := g.peerList()
	if err := s.publish(g.subject, msg); err != nil {
		return nil, err
	}
	return peers, nil
}

// Leave announces departure, unsubscribes and runs the group's OnLeave.
// Leaving when not in a group is a no-op.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group != nil {
		s.leaveLocked()
	}
}

// Peers returns the connected peers of the current group.
func (s *Session) Peers() []string {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return []string{}
	}
	return g.peerList()
}

func (s *Session) leaveLocked() {
	g := s.group
	s.group = nil

	if err := s.publish(g.subject, Message{Kind: kindLeave, PeerID: s.peerID}); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to announce leave of %s: %v", logPrefix, g.name, err))
	}
	if g.sub != nil {
		if err := g.sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to unsubscribe from %s: %v", logPrefix, g.subject, err))
		}
	}
	g.emit(Event{Type: EventDisconnected, PeerID: s.peerID})
	g.close()
	slog.Info(fmt.Sprintf("%s - %s left peer group %s", logPrefix, s.peerID, g.name))
}

func (s *Session) publish(subject string, msg Message) error {
	data, err := commsutil.EncodePayload(msg)
	if err != nil {
		return fmt.Errorf("%s - failed to encode %s message: %w", logPrefix, msg.Kind, err)
	}
	if err := s.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("%s - failed to publish %s message: %w", logPrefix, msg.Kind, err)
	}
	return nil
}

func (s *Session) onMessage(g *group, raw *comms.Msg) {
	var msg Message
	if err := commsutil.DecodePayload(raw.Data, &msg); err != nil {
		slog.Warn(fmt.Sprintf("%s - invalid message on %s: %v", logPrefix, g.subject, err))
		return
	}
	if msg.PeerID == "" || msg.PeerID == s.peerID {
		return
	}

	switch msg.Kind {
	case kindJoin:
		if !g.connect(msg.PeerID) {
			g.reconnect(msg.PeerID)
		}
		if err := s.publish(g.subject, Message{Kind: kindHello, PeerID: s.peerID}); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to greet %s: %v", logPrefix, msg.PeerID, err))
		}
	case kindHello:
		g.connect(msg.PeerID)
	case kindLeave:
		g.disconnect(msg.PeerID)
	case kindEvent:
		g.connect(msg.PeerID)
		g.emit(Event{Type: EventMessage, PeerID: msg.PeerID, Event: msg.Event, Object: msg.Object})
	default:
		slog.Debug(fmt.Sprintf("%s - ignoring message kind %q", logPrefix, msg.Kind))
	}
}

// heartbeat announces this host and expires silent peers until g is closed.
func (s *Session) heartbeat(g *group) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.done:
			return
		case now := <-ticker.C:
			if err := s.publish(g.subject, Message{Kind: kindHello, PeerID: s.peerID}); err != nil {
				slog.Debug(fmt.Sprintf("%s - heartbeat on %s failed: %v", logPrefix, g.subject, err))
			}
			for _, id := range g.expire(now.Add(-s.expiry)) {
				slog.Info(fmt.Sprintf("%s - peer %s expired from %s", logPrefix, id, g.name))
			}
		}
	}
}

// connect records peerID as seen now, emitting its lifecycle events when new.
func (g *group) connect(peerID string) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	_, known := g.peers[peerID]
	g.peers[peerID] = time.Now()
	g.mu.Unlock()
	if known {
		return false
	}

	g.emit(Event{Type: EventConnecting, PeerID: peerID})
	g.emit(Event{Type: EventConnected, PeerID: peerID})
	return true
}

// reconnect replays the lifecycle of a known peer that joined again.
func (g *group) reconnect(peerID string) {
	g.emit(Event{Type: EventDisconnected, PeerID: peerID})
	g.emit(Event{Type: EventConnecting, PeerID: peerID})
	g.emit(Event{Type: EventConnected, PeerID: peerID})
}

// expire disconnects peers last seen before cutoff and returns them.
func (g *group) expire(cutoff time.Time) []string {
	g.mu.Lock()
	var gone []string
	for id, seen := range g.peers {
		if seen.Before(cutoff) {
			gone = append(gone, id)
			delete(g.peers, id)
		}
	}
	g.mu.Unlock()
	sort.Strings(gone)
	for _, id := range gone {
		g.emit(Event{Type: EventDisconnected, PeerID: id})
	}
	return gone
}

func (g *group) disconnect(peerID string) {
	g.mu.Lock()
	_, ok := g.peers[peerID]
	delete(g.peers, peerID)
	g.mu.Unlock()
	if ok {
		g.emit(Event{Type: EventDisconnected, PeerID: peerID})
	}
}

func (g *group) peerList() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	peers := make([]string, 0, len(g.peers))
	for id := range g.peers {
		peers = append(peers, id)
	}
	sort.Strings(peers)
	return peers
}

func (g *group) emit(e Event) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed || g.handlers.OnEvent == nil {
		return
	}
	g.handlers.OnEvent(e)
}

func (g *group) close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.done)
	g.mu.Unlock()
	if g.handlers.OnLeave != nil {
		g.handlers.OnLeave()
	}
}

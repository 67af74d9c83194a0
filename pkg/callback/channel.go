// Package callback delivers emitted values to web-side callers by evaluating
// a script against the rendered surface.
package callback

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const logPrefix = "callback:channel"

// DefaultEntryPoint is the web-side function invoked with (callbackId, value).
const DefaultEntryPoint = "window.rainbowBridge.executeCallback"

var (
	// ErrDuplicateCallback is returned by Open when the id is still pending.
	ErrDuplicateCallback = errors.New("callback id already pending")
	// ErrClosed is returned when delivering through a closed registration.
	ErrClosed = errors.New("callback registration closed")
)

// Evaluator submits a script for execution in the rendered surface.
type Evaluator interface {
	EvaluateScript(script string) error
}

// Channel owns the pending callback registrations, keyed by callback id.
type Channel struct {
	evaluator  Evaluator
	entryPoint string

	mu      sync.Mutex
	pending map[string]*Registration

	// deliverMu keeps script submissions in emission order.
	deliverMu sync.Mutex
}

// NewChannel creates a Channel. An empty entryPoint uses DefaultEntryPoint.
func NewChannel(evaluator Evaluator, entryPoint string) *Channel {
	if entryPoint == "" {
		entryPoint = DefaultEntryPoint
	}
	return &Channel{
		evaluator:  evaluator,
		entryPoint: entryPoint,
		pending:    make(map[string]*Registration),
	}
}

// Open creates a pending registration for id.
func (c *Channel) Open(id string) (*Registration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("%s - %w: %s", logPrefix, ErrDuplicateCallback, id)
	}
	reg := &Registration{id: id, channel: c}
	c.pending[id] = reg
	return reg, nil
}

// Deliver builds the callback script for (id, encoded) and submits it.
// Delivery is best-effort: the surface gives no acknowledgment.
func (c *Channel) Deliver(id, encoded string) error {
	script := BuildScript(c.entryPoint, id, encoded)

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if err := c.evaluator.EvaluateScript(script); err != nil {
		slog.Warn(fmt.Sprintf("%s - delivery failed for callback %s: %v", logPrefix, id, err))
		return fmt.Errorf("%s - delivery failed: %w", logPrefix, err)
	}
	slog.Debug(fmt.Sprintf("%s - delivered callback %s", logPrefix, id))
	return nil
}

// Close closes the registration for id, if pending.
func (c *Channel) Close(id string) {
	c.mu.Lock()
	reg := c.pending[id]
	c.mu.Unlock()
	if reg != nil {
		reg.Close()
	}
}

// CloseAll closes every pending registration.
func (c *Channel) CloseAll() {
	c.mu.Lock()
	regs := make([]*Registration, 0, len(c.pending))
	for _, reg := range c.pending {
		regs = append(regs, reg)
	}
	c.mu.Unlock()

	for _, reg := range regs {
		reg.Close()
	}
}

// Pending returns the number of open registrations.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Channel) remove(reg *Registration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[reg.id] == reg {
		delete(c.pending, reg.id)
	}
}

// BuildScript returns the script invoking entryPoint(id, encoded). The id is
// JSON-quoted; encoded must already be JSON produced by codec.Encode.
func BuildScript(entryPoint, id, encoded string) string {
	quoted, _ := json.Marshal(id)
	return fmt.Sprintf("%s(%s, %s);", entryPoint, quoted, encoded)
}

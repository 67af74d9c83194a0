package callback

import (
	"fmt"
	"sync"
)

// Registration is the open channel back to one web-side caller.
type Registration struct {
	id      string
	channel *Channel

	mu     sync.Mutex
	closed bool
}

// ID returns the callback id.
func (r *Registration) ID() string { return r.id }

// Deliver sends an encoded value to the caller.
func (r *Registration) Deliver(encoded string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("%s - %w: %s", logPrefix, ErrClosed, r.id)
	}
	return r.channel.Deliver(r.id, encoded)
}

// Close releases the callback id. Further deliveries fail with ErrClosed.
func (r *Registration) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.channel.remove(r)
}

// Closed reports whether the registration was closed.
func (r *Registration) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

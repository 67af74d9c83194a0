package dispatcher

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/rainbow-bridge/pkg/callback"
	"github.com/morezero/rainbow-bridge/pkg/codec"
	"github.com/morezero/rainbow-bridge/pkg/registry"
)

const emitterLogPrefix = "dispatcher:emitter"

// emitter is the registry.Emitter handed to a handler. A nil registration
// means fire-and-forget: values are encoded and discarded.
type emitter struct {
	capability string
	mode       registry.Mode
	reg        *callback.Registration

	mu      sync.Mutex
	emitted bool
}

func newEmitter(capability string, mode registry.Mode, reg *callback.Registration) *emitter {
	return &emitter{capability: capability, mode: mode, reg: reg}
}

// Emit encodes v and delivers it. Single-shot registrations close after the first value.
func (e *emitter) Emit(v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitLocked(v)
	if e.mode == registry.SingleShot {
		e.closeLocked()
	}
}

// Close ends the registration.
func (e *emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
}

// fail resolves the caller with a failure value unless something was already emitted.
func (e *emitter) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.emitted {
		slog.Debug(fmt.Sprintf("%s - %s failed after emitting: %v", emitterLogPrefix, e.capability, err))
		return
	}
	e.emitLocked(registry.AsFailure(err))
	e.closeLocked()
}

func (e *emitter) emitLocked(v any) {
	encoded, err := codec.Encode(v)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %s emitted an unencodable value: %v", emitterLogPrefix, e.capability, err))
		encoded, _ = codec.Encode(codec.NewFailure(registry.CodeInternal, "result could not be encoded"))
	}
	e.emitted = true

	if e.reg == nil {
		slog.Debug(fmt.Sprintf("%s - %s result discarded (no callback)", emitterLogPrefix, e.capability))
		return
	}
	if err := e.reg.Deliver(encoded); err != nil && errors.Is(err, callback.ErrClosed) {
		slog.Debug(fmt.Sprintf("%s - %s value dropped, callback %s closed", emitterLogPrefix, e.capability, e.reg.ID()))
	}
}

func (e *emitter) closeLocked() {
	if e.reg != nil {
		e.reg.Close()
	}
}

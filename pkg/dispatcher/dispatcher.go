// Package dispatcher routes decoded bridge envelopes to capability handlers
// and wires their emitted values to the callback channel.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/rainbow-bridge/pkg/callback"
	"github.com/morezero/rainbow-bridge/pkg/codec"
	"github.com/morezero/rainbow-bridge/pkg/events"
	"github.com/morezero/rainbow-bridge/pkg/registry"
	"github.com/morezero/rainbow-bridge/pkg/semver"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher routes envelopes to registry handlers.
type Dispatcher struct {
	registry  *registry.Registry
	callbacks *callback.Channel
	publisher events.EventPublisher
	version   string
}

// NewDispatcherParams holds parameters for NewDispatcher.
type NewDispatcherParams struct {
	Registry  *registry.Registry
	Callbacks *callback.Channel
	Publisher events.EventPublisher
	// Version is the host bridge version checked against an envelope's
	// bridgeVersion constraint. Empty disables the check.
	Version string
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	pub := params.Publisher
	if pub == nil {
		pub = events.Discard
	}
	return &Dispatcher{
		registry:  params.Registry,
		callbacks: params.Callbacks,
		publisher: pub,
		version:   params.Version,
	}
}

// Dispatch runs the handler registered for env.Capability.
//
// Unknown capabilities and duplicate pending callback ids are logged and
// dropped without a callback. Every other failure resolves the callback with
// a failure value. Dispatch never panics and never returns an error to the
// web side.
func (d *Dispatcher) Dispatch(ctx context.Context, env *codec.Envelope) {
	if env == nil || env.Capability == "" {
		slog.Debug(fmt.Sprintf("%s - envelope without capability ignored", logPrefix))
		return
	}
	slog.Debug(fmt.Sprintf("%s - capability=%s callbackId=%s", logPrefix, env.Capability, env.CallbackID))

	entry, err := d.registry.Resolve(env.Capability)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - unknown capability %s dropped", logPrefix, env.Capability))
		d.publish(ctx, env, events.OutcomeUnknown, "", "")
		return
	}

	var reg *callback.Registration
	if env.HasCallback {
		reg, err = d.callbacks.Open(env.CallbackID)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - %s rejected: %v", logPrefix, env.Capability, err))
			d.publish(ctx, env, events.OutcomeRejected, "", err.Error())
			return
		}
	}
	em := newEmitter(env.Capability, entry.Mode, reg)

	if env.BridgeVersion != "" && d.version != "" {
		if err := semver.Check(d.version, env.BridgeVersion); err != nil {
			d.fail(ctx, env, em, registry.Wrap(registry.CodeUnsupportedVersion, err))
			return
		}
	}

	if err := d.invoke(ctx, entry, env.Params, em); err != nil {
		d.fail(ctx, env, em, err)
		return
	}
	d.publish(ctx, env, events.OutcomeDispatched, "", "")
}

func (d *Dispatcher) invoke(ctx context.Context, entry *registry.Entry, params codec.Params, em *emitter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - handler %s panicked: %v", logPrefix, entry.Name, r))
			err = registry.Errorf(registry.CodeInternal, "handler %s panicked", entry.Name)
		}
	}()
	return entry.Handler(ctx, params, em)
}

func (d *Dispatcher) fail(ctx context.Context, env *codec.Envelope, em *emitter, err error) {
	slog.Warn(fmt.Sprintf("%s - %s failed: %v", logPrefix, env.Capability, err))
	em.fail(err)

	code := registry.CodeInternal
	var regErr *registry.Error
	if errors.As(err, &regErr) {
		code = regErr.Code
	}
	d.publish(ctx, env, events.OutcomeFailed, code, err.Error())
}

func (d *Dispatcher) publish(ctx context.Context, env *codec.Envelope, outcome, code, detail string) {
	event := &events.DispatchEvent{
		Capability: env.Capability,
		CallbackID: env.CallbackID,
		Outcome:    outcome,
		Code:       code,
		Detail:     detail,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := d.publisher.PublishDispatch(ctx, event); err != nil {
		slog.Debug(fmt.Sprintf("%s - failed to publish dispatch event: %v", logPrefix, err))
	}
}

// Package bridge is the outward-facing bridge host: it owns the rendered
// surface and wires codec, registry, dispatcher and callback channel.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morezero/rainbow-bridge/pkg/builtin"
	"github.com/morezero/rainbow-bridge/pkg/cache"
	"github.com/morezero/rainbow-bridge/pkg/callback"
	"github.com/morezero/rainbow-bridge/pkg/codec"
	"github.com/morezero/rainbow-bridge/pkg/device"
	"github.com/morezero/rainbow-bridge/pkg/dispatcher"
	"github.com/morezero/rainbow-bridge/pkg/events"
	"github.com/morezero/rainbow-bridge/pkg/manifest"
	"github.com/morezero/rainbow-bridge/pkg/peer"
	"github.com/morezero/rainbow-bridge/pkg/registry"
	"github.com/morezero/rainbow-bridge/pkg/scan"
	"github.com/morezero/rainbow-bridge/pkg/surface"
)

const logPrefix = "bridge:host"

// Version is the bridge protocol version checked against bridgeVersion.
const Version = "1.0.0"

// HandlerName is the script message handler name the page posts to.
const HandlerName = surface.HandlerName

// ErrClosed is returned by PostMessage after Close.
var ErrClosed = errors.New("bridge closed")

// Options configures a Host. The zero value gives a host whose device
// capabilities all report unavailable.
type Options struct {
	Devices device.Providers
	// Peers is the peer group session; nil disables peer groups.
	Peers *peer.Session
	// Cache is the download cache; nil disables it.
	Cache             *cache.Store
	StrictCacheErrors bool
	// Manifest enables and describes capabilities; nil enables all.
	Manifest *manifest.Manifest
	// EntryPoint overrides the manifest and default callback entry point.
	EntryPoint string
	Publisher  events.EventPublisher
	// InboxSize bounds messages queued by PostMessage. Default 64.
	InboxSize int
}

// Host is a bridge bound to one rendered surface.
type Host struct {
	surface    surface.Surface
	registry   *registry.Registry
	callbacks  *callback.Channel
	dispatcher *dispatcher.Dispatcher
	publisher  events.EventPublisher
	scans      *scan.Slot
	peers      *peer.Session

	inbox     chan string
	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a host for s and registers the built-in capabilities.
func New(s surface.Surface, opts Options) (*Host, error) {
	if s == nil {
		return nil, fmt.Errorf("%s - surface is required", logPrefix)
	}

	pub := opts.Publisher
	if pub == nil {
		pub = events.Discard
	}
	entryPoint := opts.EntryPoint
	if entryPoint == "" && opts.Manifest != nil {
		entryPoint = opts.Manifest.EntryPoint
	}
	inboxSize := opts.InboxSize
	if inboxSize <= 0 {
		inboxSize = 64
	}

	h := &Host{
		surface:   s,
		registry:  registry.NewRegistry(),
		callbacks: callback.NewChannel(s, entryPoint),
		publisher: pub,
		scans:     scan.NewSlot(),
		peers:     opts.Peers,
		inbox:     make(chan string, inboxSize),
		closed:    make(chan struct{}),
	}

	caps := builtin.Capabilities(builtin.Deps{
		Devices:           opts.Devices,
		Scans:             h.scans,
		Peers:             opts.Peers,
		Cache:             opts.Cache,
		StrictCacheErrors: opts.StrictCacheErrors,
	})
	if err := registerCapabilities(h.registry, caps, opts.Manifest); err != nil {
		return nil, err
	}

	h.dispatcher = dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Registry:  h.registry,
		Callbacks: h.callbacks,
		Publisher: pub,
		Version:   Version,
	})

	slog.Info(fmt.Sprintf("%s - Bridge ready with %d capabilities", logPrefix, len(h.registry.Names())))
	return h, nil
}

func registerCapabilities(r *registry.Registry, caps []builtin.Capability, m *manifest.Manifest) error {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.Name
	}
	if err := m.Validate(names); err != nil {
		return fmt.Errorf("%s - invalid manifest: %w", logPrefix, err)
	}

	for _, c := range caps {
		if !m.Enabled(c.Name) {
			slog.Info(fmt.Sprintf("%s - capability %s disabled by manifest", logPrefix, c.Name))
			continue
		}
		c.Description = m.Description(c.Name, c.Description)
		r.Register(c.Name, c.Handler, c.Options()...)
		for _, alias := range m.AliasesFor(c.Name) {
			r.Register(alias, c.Handler, c.Options()...)
		}
	}
	return nil
}

// Registry returns the capability registry.
func (h *Host) Registry() *registry.Registry { return h.registry }

// Pending returns the number of open callback registrations.
func (h *Host) Pending() int { return h.callbacks.Pending() }

// PostMessage queues a raw page message for Run. It blocks while the inbox
// is full.
func (h *Host) PostMessage(raw string) error {
	select {
	case <-h.closed:
		return ErrClosed
	default:
	}
	select {
	case h.inbox <- raw:
		return nil
	case <-h.closed:
		return ErrClosed
	}
}

// Run processes queued messages one at a time until ctx is done or the host
// is closed. Handlers' asynchronous work runs under ctx.
func (h *Host) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.closed:
			return nil
		case raw := <-h.inbox:
			h.HandleMessage(ctx, raw)
		}
	}
}

// HandleMessage decodes and dispatches one raw page message synchronously.
// Decode errors are logged and dropped.
func (h *Host) HandleMessage(ctx context.Context, raw string) {
	select {
	case <-h.closed:
		slog.Debug(fmt.Sprintf("%s - message after close dropped", logPrefix))
		return
	default:
	}

	env, err := codec.Decode(raw)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - dropping undecodable message: %v", logPrefix, err))
		event := &events.DispatchEvent{
			Outcome:   events.OutcomeDecodeError,
			Detail:    err.Error(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if pubErr := h.publisher.PublishDispatch(ctx, event); pubErr != nil {
			slog.Debug(fmt.Sprintf("%s - failed to publish decode error: %v", logPrefix, pubErr))
		}
		return
	}
	h.dispatcher.Dispatch(ctx, env)
}

// Close tears the bridge down: the active scan is stopped, the peer group
// left and every pending callback registration closed. Idempotent.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.scans.Stop()
		if h.peers != nil {
			h.peers.Leave()
		}
		h.callbacks.CloseAll()
		slog.Info(fmt.Sprintf("%s - Bridge closed", logPrefix))
	})
}

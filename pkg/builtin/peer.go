package builtin

import (
	"context"
	"errors"

	"github.com/morezero/rainbow-bridge/pkg/codec"
	"github.com/morezero/rainbow-bridge/pkg/peer"
	"github.com/morezero/rainbow-bridge/pkg/registry"
)

var errNoPeerTransport = errors.New("no peer transport configured")

func (h *handlers) joinPeerGroup(_ context.Context, p JoinPeerGroupParams, emit registry.Emitter) error {
	if h.deps.Peers == nil {
		return registry.Wrap(registry.CodePeerUnavailable, errNoPeerTransport)
	}
	err := h.deps.Peers.Join(p.PeerGroupName, peer.Handlers{
		OnEvent: func(e peer.Event) { emit.Emit(e) },
		OnLeave: emit.Close,
	})
	if err != nil {
		return registry.Wrap(registry.CodePeerUnavailable, err)
	}
	return nil
}

func (h *handlers) sendEventToPeerGroup(_ context.Context, p SendEventParams, emit registry.Emitter) error {
	if h.deps.Peers == nil {
		emit.Emit([]string{})
		return nil
	}
	sentTo, err := h.deps.Peers.Send(p.Event, p.Object)
	if err != nil {
		return registry.Wrap(registry.CodePeerUnavailable, err)
	}
	emit.Emit(sentTo)
	return nil
}

func (h *handlers) leavePeerGroup(_ context.Context, _ codec.Params, emit registry.Emitter) error {
	if h.deps.Peers != nil {
		h.deps.Peers.Leave()
	}
	emit.Emit(true)
	return nil
}

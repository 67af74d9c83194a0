package events

import "context"

// EventPublisher receives one DispatchEvent for every inbound bridge message,
// after the reply (if any) has been queued. A returned error is logged by the
// caller and never changes the reply sent to the web content.
type EventPublisher interface {
	PublishDispatch(ctx context.Context, event *DispatchEvent) error
}

// PublisherFunc adapts a plain function to EventPublisher.
type PublisherFunc func(ctx context.Context, event *DispatchEvent) error

func (f PublisherFunc) PublishDispatch(ctx context.Context, event *DispatchEvent) error {
	return f(ctx, event)
}

// Discard drops dispatch telemetry. Hosts running without COMMS use it.
var Discard EventPublisher = PublisherFunc(func(context.Context, *DispatchEvent) error { return nil })

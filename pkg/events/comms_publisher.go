package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rainbow-bridge/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// Subject overrides the global dispatch event subject.
	Subject string
}

// CommsPublisher publishes dispatch events to COMMS subjects.
type CommsPublisher struct {
	nc      *comms.Conn
	subject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	subject := commsutil.SubjectDispatchEvents
	if opts != nil && opts.Subject != "" {
		subject = opts.Subject
	}
	return &CommsPublisher{nc: nc, subject: subject}
}

// PublishDispatch publishes a DispatchEvent to the global subject and, when
// the event names a capability, to the per-capability subject.
func (p *CommsPublisher) PublishDispatch(_ context.Context, event *DispatchEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	if event.Capability != "" {
		granular := commsutil.BuildDispatchSubject(event.Capability)
		if err := p.nc.Publish(granular, data); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, granular, err))
			return err
		}
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event for %s", commsPublisherLogPrefix, event.Outcome, event.Capability))
	return nil
}

package surface

import (
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rainbow-bridge/pkg/commsutil"
)

const logPrefix = "surface:comms"

// Comms is a surface reached over COMMS. Scripts are published to
// rainbowbridge.<id>.eval; the native shell forwards page messages to
// rainbowbridge.<id>.messages.
type Comms struct {
	nc              *comms.Conn
	surfaceID       string
	evalSubject     string
	messagesSubject string
}

// NewComms creates a COMMS surface for surfaceID.
func NewComms(nc *comms.Conn, surfaceID string) *Comms {
	return &Comms{
		nc:              nc,
		surfaceID:       surfaceID,
		evalSubject:     commsutil.BuildEvalSubject(surfaceID),
		messagesSubject: commsutil.BuildMessagesSubject(surfaceID),
	}
}

// EvaluateScript publishes script for the native shell to evaluate.
func (c *Comms) EvaluateScript(script string) error {
	if err := c.nc.Publish(c.evalSubject, []byte(script)); err != nil {
		return fmt.Errorf("%s - failed to publish script to %s: %w", logPrefix, c.evalSubject, err)
	}
	return nil
}

// Subscribe calls fn with every raw page message. Messages arrive on the
// subscription's goroutine in publish order.
func (c *Comms) Subscribe(fn func(raw string)) (*comms.Subscription, error) {
	sub, err := c.nc.Subscribe(c.messagesSubject, func(msg *comms.Msg) {
		fn(string(msg.Data))
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, c.messagesSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Listening for page messages on %s", logPrefix, c.messagesSubject))
	return sub, nil
}

// EvalSubject returns the subject scripts are published to.
func (c *Comms) EvalSubject() string { return c.evalSubject }

// MessagesSubject returns the subject page messages arrive on.
func (c *Comms) MessagesSubject() string { return c.messagesSubject }

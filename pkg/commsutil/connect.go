// Package commsutil provides COMMS (NATS) connection helpers and subject naming.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// Connect creates a COMMS connection to the given URL.
func Connect(url, name string, extra ...comms.Option) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, url, name))

	opts := []comms.Option{
		comms.Name(name),
		comms.Timeout(10 * time.Second),
		comms.ReconnectWait(2 * time.Second),
		comms.MaxReconnects(60),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
		}),
	}
	nc, err := comms.Connect(url, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

// StartEmbedded runs an in-process COMMS server, used as a local hub for the
// surface, device providers and peer groups when no external server exists.
func StartEmbedded(host string, port int) (*commsserver.Server, error) {
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create embedded COMMS server: %w", logPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("%s - embedded COMMS server not ready on %s:%d", logPrefix, host, port)
	}
	slog.Info(fmt.Sprintf("%s - Embedded COMMS server listening at %s", logPrefix, ns.ClientURL()))
	return ns, nil
}

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*comms.Conn, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to create server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("events:comms_publisher_integration_test - server failed to start")
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("events:comms_publisher_integration_test - failed to connect: %v", err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nc, cleanup
}

func subscribeEvents(t *testing.T, nc *comms.Conn, subject string) (chan *DispatchEvent, *comms.Subscription) {
	t.Helper()
	received := make(chan *DispatchEvent, 4)
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var event DispatchEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("events:comms_publisher_integration_test - failed to unmarshal: %v", err)
			return
		}
		received <- &event
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to subscribe: %v", err)
	}
	return received, sub
}

func TestCommsPublisher_PublishDispatch_BothSubjects(t *testing.T) {
	nc, cleanup := startTestServer(t, 14230)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)

	granular, sub1 := subscribeEvents(t, nc, "rainbowbridge.events.dispatch.playVibration")
	defer sub1.Unsubscribe()
	global, sub2 := subscribeEvents(t, nc, "rainbowbridge.events.dispatch")
	defer sub2.Unsubscribe()

	event := &DispatchEvent{
		Capability: "playVibration",
		CallbackID: "42",
		Outcome:    OutcomeDispatched,
		Timestamp:  "2025-01-01T00:00:00Z",
	}
	if err := publisher.PublishDispatch(context.Background(), event); err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishDispatch failed: %v", err)
	}
	nc.Flush()

	for _, ch := range []struct {
		name string
		ch   chan *DispatchEvent
	}{
		{"granular", granular},
		{"global", global},
	} {
		select {
		case got := <-ch.ch:
			if got.CallbackID != "42" {
				t.Errorf("events:comms_publisher_integration_test - %s CallbackID = %q, want 42", ch.name, got.CallbackID)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("events:comms_publisher_integration_test - timeout waiting for %s event", ch.name)
		}
	}
}

func TestCommsPublisher_DecodeErrorOnlyGlobal(t *testing.T) {
	nc, cleanup := startTestServer(t, 14231)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)
	global, sub := subscribeEvents(t, nc, "rainbowbridge.events.dispatch")
	defer sub.Unsubscribe()

	err := publisher.PublishDispatch(context.Background(), &DispatchEvent{
		Outcome: OutcomeDecodeError,
		Detail:  "ParseFailure",
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishDispatch failed: %v", err)
	}
	nc.Flush()

	select {
	case got := <-global:
		if got.Outcome != OutcomeDecodeError {
			t.Errorf("events:comms_publisher_integration_test - Outcome = %q", got.Outcome)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events:comms_publisher_integration_test - timeout waiting for global event")
	}
}

func TestCommsPublisher_CustomSubject(t *testing.T) {
	nc, cleanup := startTestServer(t, 14233)
	defer cleanup()

	customSubject := "custom.bridge.dispatch"
	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{Subject: customSubject})
	received, sub := subscribeEvents(t, nc, customSubject)
	defer sub.Unsubscribe()

	err := publisher.PublishDispatch(context.Background(), &DispatchEvent{
		Capability: "clearCache",
		Outcome:    OutcomeDispatched,
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishDispatch failed: %v", err)
	}
	nc.Flush()

	select {
	case got := <-received:
		if got.Capability != "clearCache" {
			t.Errorf("events:comms_publisher_integration_test - Capability = %q, want clearCache", got.Capability)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events:comms_publisher_integration_test - timeout waiting for custom subject event")
	}
}

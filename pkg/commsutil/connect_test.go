package commsutil

import (
	"testing"
	"time"

	comms "github.com/nats-io/nats.go"
)

const connectTestPrefix = "commsutil:connect_test"

func TestConnect_InvalidURL(t *testing.T) {
	nc, err := Connect("invalid://not-a-nats-server", "test-client")
	if err == nil {
		if nc != nil {
			nc.Close()
		}
		t.Fatalf("%s - expected error for invalid URL", connectTestPrefix)
	}
	if nc != nil {
		t.Errorf("%s - expected nil connection on error", connectTestPrefix)
	}
}

func TestStartEmbedded_ConnectAndRespond(t *testing.T) {
	ns, err := StartEmbedded("127.0.0.1", 14250)
	if err != nil {
		t.Fatalf("%s - StartEmbedded: %v", connectTestPrefix, err)
	}
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}()

	nc, err := Connect(ns.ClientURL(), "test-client")
	if err != nil {
		t.Fatalf("%s - Connect: %v", connectTestPrefix, err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe("rainbowbridge.test.echo", func(msg *comms.Msg) {
		var in map[string]string
		if err := DecodePayload(msg.Data, &in); err != nil {
			t.Errorf("%s - decode: %v", connectTestPrefix, err)
			return
		}
		if err := RespondJSON(msg, map[string]string{"echo": in["say"]}); err != nil {
			t.Errorf("%s - respond: %v", connectTestPrefix, err)
		}
	})
	if err != nil {
		t.Fatalf("%s - Subscribe: %v", connectTestPrefix, err)
	}
	defer sub.Unsubscribe()

	reply, err := nc.Request("rainbowbridge.test.echo", []byte(`{"say":"hi"}`), 5*time.Second)
	if err != nil {
		t.Fatalf("%s - Request: %v", connectTestPrefix, err)
	}
	if string(reply.Data) != `{"echo":"hi"}` {
		t.Errorf("%s - reply = %s", connectTestPrefix, reply.Data)
	}
}

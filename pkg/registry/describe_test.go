package registry

import (
	"context"
	"testing"

	"github.com/morezero/rainbow-bridge/pkg/codec"
)

const describeTestPrefix = "registry:describe_test"

func TestDescribe_Empty(t *testing.T) {
	desc := NewRegistry().Describe()
	if desc == nil || len(desc) != 0 {
		t.Fatalf("%s - Describe() = %v, want empty non-nil slice", describeTestPrefix, desc)
	}
}

func TestDescribe_ModesAndOrder(t *testing.T) {
	reg := NewRegistry()
	noop := func(context.Context, codec.Params, Emitter) error { return nil }
	reg.Register("joinPeerGroup", noop, WithMode(Streaming), WithDescription("Join a peer group"))
	reg.Register("clearCache", noop)

	desc := reg.Describe()
	if len(desc) != 2 {
		t.Fatalf("%s - got %d descriptions, want 2", describeTestPrefix, len(desc))
	}
	if desc[0].Name != "clearCache" || desc[0].Mode != "single" || desc[0].ParamsSchema != nil {
		t.Errorf("%s - desc[0] = %+v", describeTestPrefix, desc[0])
	}
	if desc[1].Name != "joinPeerGroup" || desc[1].Mode != "streaming" || desc[1].Description != "Join a peer group" {
		t.Errorf("%s - desc[1] = %+v", describeTestPrefix, desc[1])
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaycrew/gatewaycore/pkg/protocol"
)

func TestNegotiateProtocolIntersectsRanges(t *testing.T) {
	cases := []struct {
		clientMin, clientMax int
		wantProtocol         int
		wantOK               bool
	}{
		{0, 0, protocol.ProtocolMax, true},        // client omits window entirely
		{1, 2, 2, true},                            // narrower client window picks its max
		{2, 3, 3, true},
		{5, 9, 0, false},                           // no overlap with server's [1,3]
	}
	for _, tc := range cases {
		got, ok := negotiateProtocol(tc.clientMin, tc.clientMax)
		if ok != tc.wantOK || (ok && got != tc.wantProtocol) {
			t.Errorf("negotiateProtocol(%d, %d) = (%d, %v), want (%d, %v)",
				tc.clientMin, tc.clientMax, got, ok, tc.wantProtocol, tc.wantOK)
		}
	}
}

func TestMethodRegistryLookup(t *testing.T) {
	r := NewMethodRegistry()
	called := false
	r.register(&methodEntry{
		name: "test.method",
		execute: func(ctx context.Context, c *Client, params json.RawMessage) (any, *protocol.WireError) {
			called = true
			return nil, nil
		},
	})

	entry, ok := r.lookup("test.method")
	if !ok {
		t.Fatal("expected registered method to be found")
	}
	entry.execute(context.Background(), nil, nil)
	if !called {
		t.Fatal("expected execute to invoke the registered handler")
	}

	if _, ok := r.lookup("nonexistent"); ok {
		t.Fatal("expected unregistered method lookup to fail")
	}
}

func TestMethodRegistryRequiresOwnerFlag(t *testing.T) {
	r := NewMethodRegistry()
	r.register(&methodEntry{name: "owner.only", requiresOwner: true})
	entry, ok := r.lookup("owner.only")
	if !ok || !entry.requiresOwner {
		t.Fatal("expected requiresOwner to survive registration")
	}
}

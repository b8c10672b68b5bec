package gateway

import (
	"testing"

	"github.com/relaycrew/gatewaycore/internal/config"
	"github.com/relaycrew/gatewaycore/pkg/protocol"
)

func newTestServer(gw config.GatewayConfig) *Server {
	return &Server{cfg: &config.Config{Gateway: gw}}
}

func TestAuthenticateNoneModeAlwaysPasses(t *testing.T) {
	s := newTestServer(config.GatewayConfig{AuthMode: "none"})
	c := &Client{remoteAddr: "203.0.113.5:1234"}
	owner, werr := s.authenticate(c, protocol.ConnectParams{})
	if werr != nil {
		t.Fatalf("unexpected error: %v", werr)
	}
	if !owner {
		t.Fatal("expected none-mode auth to grant owner status")
	}
}

func TestAuthenticateLoopbackExemption(t *testing.T) {
	s := newTestServer(config.GatewayConfig{AuthMode: "token", Token: "secret", Mode: "local", Bind: "loopback"})
	c := &Client{remoteAddr: "127.0.0.1:54321"}
	owner, werr := s.authenticate(c, protocol.ConnectParams{})
	if werr != nil {
		t.Fatalf("unexpected error for loopback connection: %v", werr)
	}
	if !owner {
		t.Fatal("expected loopback exemption to grant owner status")
	}
}

func TestAuthenticateLoopbackExemptionDoesNotApplyOverLAN(t *testing.T) {
	s := newTestServer(config.GatewayConfig{AuthMode: "token", Token: "secret", Mode: "local", Bind: "loopback"})
	c := &Client{remoteAddr: "10.0.0.5:54321"}
	_, werr := s.authenticate(c, protocol.ConnectParams{})
	if werr == nil {
		t.Fatal("expected non-loopback connection to require a token")
	}
}

func TestAuthenticateTokenMode(t *testing.T) {
	s := newTestServer(config.GatewayConfig{AuthMode: "token", Token: "correct-token"})
	c := &Client{remoteAddr: "203.0.113.5:1234"}

	if _, werr := s.authenticate(c, protocol.ConnectParams{Token: "wrong"}); werr == nil {
		t.Fatal("expected wrong token to be rejected")
	}
	owner, werr := s.authenticate(c, protocol.ConnectParams{Token: "correct-token"})
	if werr != nil {
		t.Fatalf("expected correct token to be accepted, got %v", werr)
	}
	if !owner {
		t.Fatal("token auth with no owner_ids configured should grant owner status")
	}
}

func TestAuthenticatePasswordMode(t *testing.T) {
	s := newTestServer(config.GatewayConfig{AuthMode: "password", Password: "hunter2"})
	c := &Client{remoteAddr: "203.0.113.5:1234"}

	if _, werr := s.authenticate(c, protocol.ConnectParams{Password: "wrong"}); werr == nil {
		t.Fatal("expected wrong password to be rejected")
	}
	if _, werr := s.authenticate(c, protocol.ConnectParams{Password: "hunter2"}); werr != nil {
		t.Fatalf("expected correct password to be accepted, got %v", werr)
	}
}

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:1234":    true,
		"[::1]:1234":        true,
		"localhost:1234":    true,
		"10.0.0.5:1234":     false,
		"203.0.113.5:1234":  false,
	}
	for addr, want := range cases {
		if got := isLoopback(addr); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestSecureEqual(t *testing.T) {
	if !secureEqual("abc", "abc") {
		t.Fatal("expected equal strings to match")
	}
	if secureEqual("abc", "abd") {
		t.Fatal("expected differing strings not to match")
	}
}

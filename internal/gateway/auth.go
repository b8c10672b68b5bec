package gateway

import (
	"crypto/subtle"
	"net"
	"strings"

	"github.com/relaycrew/gatewaycore/pkg/protocol"
)

// authenticate resolves a connect attempt against the server's configured
// auth mode (spec §4.11): loopback exemption, shared token, password, or
// device identity. It returns the client's owner status (full control)
// on success.
func (s *Server) authenticate(c *Client, params protocol.ConnectParams) (isOwner bool, werr *protocol.WireError) {
	gw := s.cfg.Gateway

	if gw.AuthMode == "none" {
		return true, nil
	}

	if gw.Mode == "local" && gw.Bind == "loopback" && isLoopback(c.remoteAddr) {
		return true, nil
	}

	switch {
	case params.Device != nil:
		return s.authenticateDevice(c, params.Device)

	case gw.AuthMode == "password":
		if gw.Password == "" || !secureEqual(params.Password, gw.Password) {
			return false, protocol.NewWireError(protocol.ErrAuthFailed, "invalid password", nil)
		}
		return true, nil

	default: // "token" is the default auth mode
		if gw.Token == "" || !secureEqual(params.Token, gw.Token) {
			return false, protocol.NewWireError(protocol.ErrAuthFailed, "invalid token", nil)
		}
		return true, nil
	}
}

func (s *Server) authenticateDevice(c *Client, d *protocol.DeviceConnect) (bool, *protocol.WireError) {
	if s.devices == nil {
		return false, protocol.NewWireError(protocol.ErrAuthFailed, "device-identity auth is not configured", nil)
	}
	nonce, issuedAt, ok := s.consumeChallenge(c.id)
	if !ok || nonce != d.Nonce {
		return false, protocol.NewWireError(protocol.ErrAuthFailed, "unknown or mismatched challenge nonce", nil)
	}
	verified, err := s.devices.Verify(d.DeviceID, d.Nonce, issuedAt, d.Signature)
	if err != nil {
		return false, protocol.NewWireError(protocol.ErrInternal, "device verification failed", nil)
	}
	if !verified {
		return false, protocol.NewWireError(protocol.ErrAuthFailed, "device signature rejected", nil)
	}
	c.deviceID = d.DeviceID
	owner := len(s.cfg.Gateway.OwnerIDs) == 0 || contains(s.cfg.Gateway.OwnerIDs, d.DeviceID)
	return owner, nil
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// isLoopback reports whether addr (a net.Conn RemoteAddr().String(), host:port
// form) resolves to a loopback address.
func isLoopback(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

package protocol

// Protocol version window (spec §6): the gateway advertises the widest
// range it understands and negotiates down to whatever the connecting
// client also supports.
const (
	ProtocolMin = 1
	ProtocolMax = 3
)

// ChallengePayload is the `connect.challenge` event emitted immediately
// on connection (spec §4.11): a nonce the client must echo back, signed
// when authenticating via device identity.
type ChallengePayload struct {
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

// ConnectParams is the body of the `connect` request.
type ConnectParams struct {
	ProtocolMin int    `json:"protocolMin,omitempty"`
	ProtocolMax int    `json:"protocolMax,omitempty"`
	ClientName  string `json:"clientName,omitempty"`

	// Auth mode is inferred from which of these fields is set: a bare
	// Token for shared-token auth, a Password for password auth, or a
	// Device block for device-identity auth.
	Token    string         `json:"token,omitempty"`
	Password string         `json:"password,omitempty"`
	Device   *DeviceConnect `json:"device,omitempty"`
}

// DeviceConnect carries a device-identity auth attempt: the device's id,
// the nonce it was challenged with, and a detached signature over that
// nonce made with the device's paired private key.
type DeviceConnect struct {
	DeviceID  string `json:"deviceId"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"` // hex-encoded ed25519 detached signature
}

// HelloResult is the response to a successful `connect` (spec §4.11):
// the negotiated protocol version, server identity, advertised feature
// map, and a snapshot of current gateway state.
type HelloResult struct {
	Protocol int             `json:"protocol"`
	Server   ServerIdentity  `json:"server"`
	Features map[string]bool `json:"features"`
	State    StateSnapshot   `json:"state"`
}

// ServerIdentity identifies this gateway instance to a connecting client.
type ServerIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// StateSnapshot is the point-in-time gateway state handed to a client
// right after handshake, so it can render without waiting on events.
type StateSnapshot struct {
	Sessions []SessionSummary `json:"sessions"`
	Channels map[string]any   `json:"channels"`
	Agents   []string         `json:"agents"`
}

// SessionSummary is the trimmed session info included in a state snapshot.
type SessionSummary struct {
	SessionID    string `json:"sessionId"`
	MessageCount int    `json:"messageCount"`
	Label        string `json:"label,omitempty"`
	UpdatedAt    string `json:"updatedAt"`
}

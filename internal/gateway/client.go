package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaycrew/gatewaycore/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1MiB
	sendBufferSize = 256
)

// Client is one authenticated (or pre-auth) WebSocket connection. It owns
// the connection's read and write pumps and remembers which frame
// dialect (JSON-RPC or internal req/res) the peer has been using, so
// responses and events are always framed the way the peer expects (spec
// §4.11).
type Client struct {
	id         string
	conn       *websocket.Conn
	srv        *Server
	remoteAddr string

	send chan []byte

	authenticated bool
	isOwner       bool
	protocol      int
	dialect       protocol.Dialect
	deviceID      string // set once a device-identity connect succeeds

	closeOnce bool
	done      chan struct{}
}

// NewClient wraps conn in a Client bound to srv. The caller still must
// call Run to start the pumps.
func NewClient(conn *websocket.Conn, srv *Server) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		srv:  srv,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Run starts the write pump in its own goroutine and blocks on the read
// pump until the connection closes. It sends the connect.challenge event
// before accepting anything else, per spec §4.11's connection lifecycle.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.sendChallenge()
	c.readPump(ctx)
}

// sendChallenge emits the connect.challenge event with a fresh nonce,
// recorded on the client for later device-identity verification.
func (c *Client) sendChallenge() {
	nonce := uuid.NewString()
	now := time.Now()
	c.srv.recordChallenge(c.id, nonce, now)
	c.SendEvent(protocol.NewEventFrame("connect.challenge", protocol.ChallengePayload{
		Nonce:     nonce,
		Timestamp: now.Unix(),
	}, 0))
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var raw protocol.RawRequest
		if err := json.Unmarshal(data, &raw); err != nil {
			slog.Debug("gateway: malformed frame", "client", c.id, "error", err)
			continue
		}

		dialect := raw.Dialect()
		if dialect == protocol.DialectUnknown {
			continue
		}
		c.dialect = dialect

		c.srv.dispatch(ctx, c, &raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// enqueue queues a raw frame for delivery, non-blocking: a connection
// too slow to keep up gets its send dropped rather than stalling the
// broadcaster (spec §5: "gateway connection set is disconnect-on-write-
// error, no backpressure onto bus").
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// SendEvent frames and enqueues a bus event broadcast.
func (c *Client) SendEvent(frame protocol.EventFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	return c.enqueue(data)
}

// SendJSONRPCResult frames a successful JSON-RPC response.
func (c *Client) SendJSONRPCResult(id json.RawMessage, result any) {
	c.send2(protocol.JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

// SendJSONRPCError frames a JSON-RPC error response.
func (c *Client) SendJSONRPCError(id json.RawMessage, werr *protocol.WireError) {
	c.send2(protocol.JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: protocol.ToJSONRPCError(werr)})
}

// SendInternalResult frames a successful internal-dialect response.
func (c *Client) SendInternalResult(id json.RawMessage, payload any) {
	c.send2(protocol.InternalResponse{Type: "res", ID: id, OK: true, Payload: payload})
}

// SendInternalError frames an internal-dialect error response.
func (c *Client) SendInternalError(id json.RawMessage, werr *protocol.WireError) {
	c.send2(protocol.InternalResponse{Type: "res", ID: id, OK: false, Error: werr})
}

func (c *Client) send2(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		slog.Warn("gateway: dropping response, client send buffer full", "client", c.id)
	}
}

// Close shuts the connection down idempotently.
func (c *Client) Close() {
	if c.closeOnce {
		return
	}
	c.closeOnce = true
	close(c.done)
	c.conn.Close()
}

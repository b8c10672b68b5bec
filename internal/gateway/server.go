// Package gateway implements the Gateway Server (spec §4.11): the
// WebSocket RPC front door that authenticates connections, dispatches
// method calls through a registry, and broadcasts every Event Bus event
// to every authenticated connection.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaycrew/gatewaycore/internal/agent"
	"github.com/relaycrew/gatewaycore/internal/auth"
	"github.com/relaycrew/gatewaycore/internal/bus"
	"github.com/relaycrew/gatewaycore/internal/channels"
	"github.com/relaycrew/gatewaycore/internal/config"
	"github.com/relaycrew/gatewaycore/internal/queue"
	"github.com/relaycrew/gatewaycore/internal/sessions"
	"github.com/relaycrew/gatewaycore/internal/tools"
	"github.com/relaycrew/gatewaycore/pkg/protocol"
)

const serverVersion = "0.1.0"

type challengeRecord struct {
	nonce    string
	issuedAt time.Time
}

// Server owns the WebSocket listener, every connected Client, and the
// method registry they dispatch through.
type Server struct {
	cfg      *config.Config
	bus      *bus.Bus
	sessions *sessions.Manager
	queue    *queue.Manager
	loop     *agent.Loop
	aborts   *agent.AbortRegistry
	channels *channels.Manager
	toolsReg *tools.Registry
	policy   *tools.PolicyEngine
	rotator  *auth.Rotator
	devices  *DeviceRegistry

	registry    *MethodRegistry
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader

	mu         sync.RWMutex
	clients    map[string]*Client
	challenges map[string]challengeRecord

	seq atomic.Uint64

	usageMu               sync.Mutex
	promptTokens          int64
	completionTokens      int64
	totalTokens           int64

	startedAt  time.Time
	httpServer *http.Server
}

// Deps wires every already-built component the gateway composes over.
type Deps struct {
	Config   *config.Config
	Bus      *bus.Bus
	Sessions *sessions.Manager
	Queue    *queue.Manager
	Loop     *agent.Loop
	Aborts   *agent.AbortRegistry
	Channels *channels.Manager
	Tools    *tools.Registry
	Policy   *tools.PolicyEngine
	Rotator  *auth.Rotator
	Devices  *DeviceRegistry
}

// NewServer builds a Server from deps and registers the core methods.
func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:        deps.Config,
		bus:        deps.Bus,
		sessions:   deps.Sessions,
		queue:      deps.Queue,
		loop:       deps.Loop,
		aborts:     deps.Aborts,
		channels:   deps.Channels,
		toolsReg:   deps.Tools,
		policy:     deps.Policy,
		rotator:    deps.Rotator,
		devices:    deps.Devices,
		clients:    make(map[string]*Client),
		challenges: make(map[string]challengeRecord),
		startedAt:  time.Now(),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.rateLimiter = NewRateLimiter(deps.Config.Gateway.RateLimitRPM, 5)

	s.registry = NewMethodRegistry()
	s.registerCoreMethods()

	if s.bus != nil {
		s.bus.Subscribe(protocol.Wildcard, s.onBusEvent)
	}

	return s
}

// checkOrigin validates the WebSocket handshake's Origin header against
// the configured allow-list. No configured origins means allow all
// (loopback dev default); non-browser clients send no Origin at all.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway: rejected origin", "origin", origin)
	return false
}

// Start listens for WebSocket connections until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealthCheck)

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway: starting", "addr", addr, "mode", s.cfg.Gateway.Mode)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","protocolMin":%d,"protocolMax":%d}`, protocol.ProtocolMin, protocol.ProtocolMax)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	client.remoteAddr = r.RemoteAddr
	s.registerClient(client)

	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	slog.Info("gateway: client connected", "id", c.id, "remote", c.remoteAddr)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	delete(s.challenges, c.id)
	s.mu.Unlock()
	s.rateLimiter.Forget(c.id)
	slog.Info("gateway: client disconnected", "id", c.id)
}

func (s *Server) recordChallenge(clientID, nonce string, issuedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[clientID] = challengeRecord{nonce: nonce, issuedAt: issuedAt}
}

func (s *Server) consumeChallenge(clientID string) (nonce string, issuedAt time.Time, ok bool) {
	s.mu.RLock()
	rec, found := s.challenges[clientID]
	s.mu.RUnlock()
	if !found {
		return "", time.Time{}, false
	}
	return rec.nonce, rec.issuedAt, true
}

// onBusEvent broadcasts every bus event to every authenticated client
// (spec §4.11), tagging the frame with a monotonically increasing
// sequence number. A client whose send buffer is full misses that event
// (logged) but stays registered; the others are unaffected (spec §5: no
// backpressure onto the bus).
func (s *Server) onBusEvent(e bus.Event) {
	seq := s.seq.Add(1)
	frame := protocol.NewEventFrame(e.Type.String(), e, seq)

	s.mu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.authenticated {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if !c.SendEvent(frame) {
			slog.Warn("gateway: dropping event to slow client", "client", c.id)
		}
	}
}

// dispatch runs the method-dispatch pipeline (spec §4.11): auth gate,
// unknown-method rejection, authorization, execution, and framing the
// response back in whichever dialect the request arrived in.
func (s *Server) dispatch(ctx context.Context, c *Client, raw *protocol.RawRequest) {
	method := raw.Method

	if method == protocol.MethodConnect {
		s.handleConnect(c, raw)
		return
	}
	if method == protocol.MethodPing || method == protocol.MethodHealth {
		s.respond(c, raw, map[string]any{"status": "ok"}, nil)
		return
	}

	if !c.authenticated {
		s.respond(c, raw, nil, protocol.NewWireError(protocol.ErrAuthRequired, "connect before calling other methods", nil))
		return
	}

	if s.rateLimiter.Enabled() && !s.rateLimiter.Allow(c.id) {
		s.respond(c, raw, nil, protocol.NewWireError(protocol.ErrInternal, "rate limit exceeded", nil))
		return
	}

	entry, ok := s.registry.lookup(method)
	if !ok {
		s.respond(c, raw, nil, protocol.NewWireError(protocol.ErrMethodNotFound, "unknown method: "+method, nil))
		return
	}

	if entry.requiresOwner && !c.isOwner {
		s.respond(c, raw, nil, protocol.NewWireError(protocol.ErrPermissionDenied, "method requires owner privileges", nil))
		return
	}

	result, werr := entry.execute(ctx, c, raw.Params)
	s.respond(c, raw, result, werr)
}

func (s *Server) respond(c *Client, raw *protocol.RawRequest, result any, werr *protocol.WireError) {
	switch raw.Dialect() {
	case protocol.DialectJSONRPC:
		if werr != nil {
			c.SendJSONRPCError(raw.ID, werr)
		} else {
			c.SendJSONRPCResult(raw.ID, result)
		}
	default:
		if werr != nil {
			c.SendInternalError(raw.ID, werr)
		} else {
			c.SendInternalResult(raw.ID, result)
		}
	}
}

// handleConnect runs the handshake: negotiate protocol version,
// authenticate, and reply with hello (spec §4.11).
func (s *Server) handleConnect(c *Client, raw *protocol.RawRequest) {
	var params protocol.ConnectParams
	if raw.Params != nil {
		if err := json.Unmarshal(raw.Params, &params); err != nil {
			s.respond(c, raw, nil, protocol.NewWireError(protocol.ErrInvalidRequest, "invalid connect params", nil))
			return
		}
	}

	negotiated, ok := negotiateProtocol(params.ProtocolMin, params.ProtocolMax)
	if !ok {
		s.respond(c, raw, nil, protocol.NewWireError(protocol.ErrHandshakeFailed, "no overlapping protocol version", nil))
		return
	}

	isOwner, werr := s.authenticate(c, params)
	if werr != nil {
		s.respond(c, raw, nil, werr)
		return
	}

	c.authenticated = true
	c.isOwner = isOwner
	c.protocol = negotiated

	if s.bus != nil {
		s.bus.Publish(bus.NewEvent(protocol.EventGatewayClientConnected, "gateway", map[string]any{"clientId": c.id}))
	}

	s.respond(c, raw, protocol.HelloResult{
		Protocol: negotiated,
		Server:   protocol.ServerIdentity{Name: "gatewaycore", Version: serverVersion},
		Features: map[string]bool{
			"streaming":     true,
			"devicePairing": s.devices != nil,
			"queueStatus":   true,
		},
		State: s.stateSnapshot(),
	}, nil)
}

func negotiateProtocol(clientMin, clientMax int) (int, bool) {
	if clientMin == 0 {
		clientMin = protocol.ProtocolMin
	}
	if clientMax == 0 {
		clientMax = protocol.ProtocolMax
	}
	lo := max(clientMin, protocol.ProtocolMin)
	hi := min(clientMax, protocol.ProtocolMax)
	if lo > hi {
		return 0, false
	}
	return hi, true
}

func (s *Server) stateSnapshot() protocol.StateSnapshot {
	infos := s.sessions.ListInfo()
	summaries := make([]protocol.SessionSummary, 0, len(infos))
	for _, info := range infos {
		summaries = append(summaries, protocol.SessionSummary{
			SessionID:    info.SessionID,
			MessageCount: info.MessageCount,
			Label:        info.Label,
			UpdatedAt:    info.UpdatedAt.Format(time.RFC3339),
		})
	}

	var channelStatus map[string]any
	var agentIDs []string
	if s.channels != nil {
		channelStatus = s.channels.GetStatus()
	}
	for id := range s.cfg.Agents.List {
		agentIDs = append(agentIDs, id)
	}

	return protocol.StateSnapshot{Sessions: summaries, Channels: channelStatus, Agents: agentIDs}
}

func (s *Server) recordTurnUsage(result *agent.RunResult) {
	if result == nil || result.Usage == nil {
		return
	}
	s.usageMu.Lock()
	defer s.usageMu.Unlock()
	s.promptTokens += int64(result.Usage.PromptTokens)
	s.completionTokens += int64(result.Usage.CompletionTokens)
	s.totalTokens += int64(result.Usage.TotalTokens)
}

func (s *Server) lifetimeUsage() (prompt, completion, total int64) {
	s.usageMu.Lock()
	defer s.usageMu.Unlock()
	return s.promptTokens, s.completionTokens, s.totalTokens
}

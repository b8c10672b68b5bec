package gateway

import (
	"context"
	"encoding/json"

	"github.com/relaycrew/gatewaycore/internal/agent"
	"github.com/relaycrew/gatewaycore/internal/bus"
	"github.com/relaycrew/gatewaycore/internal/sessions"
	"github.com/relaycrew/gatewaycore/pkg/protocol"
)

// handlerFunc executes an already-validated, already-authorized method
// call and returns its result payload, or a WireError to frame back.
type handlerFunc func(ctx context.Context, c *Client, params json.RawMessage) (any, *protocol.WireError)

// methodEntry is one registered RPC method (spec §4.11's Method
// Registry: name, description, category, and the handler itself).
type methodEntry struct {
	name          string
	description   string
	category      string
	requiresOwner bool
	execute       handlerFunc
}

// MethodRegistry holds every RPC method the gateway can dispatch,
// looked up by name during Server.dispatch.
type MethodRegistry struct {
	methods map[string]*methodEntry
}

// NewMethodRegistry builds an empty registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{methods: make(map[string]*methodEntry)}
}

func (r *MethodRegistry) register(e *methodEntry) { r.methods[e.name] = e }

func (r *MethodRegistry) lookup(name string) (*methodEntry, bool) {
	e, ok := r.methods[name]
	return e, ok
}

// registerCoreMethods wires every core method spec §4.11 names (minus
// connect, ping, and health, which Server.dispatch short-circuits before
// ever consulting the registry).
func (s *Server) registerCoreMethods() {
	r := s.registry

	r.register(&methodEntry{
		name: protocol.MethodAgent, category: "agent", execute: s.handleAgentTurn,
		description: "run one agent turn against a session",
	})
	r.register(&methodEntry{
		name: protocol.MethodAgentTurn, category: "agent", execute: s.handleAgentTurn,
		description: "run one agent turn against a session",
	})
	r.register(&methodEntry{
		name: protocol.MethodChatAbort, category: "agent", execute: s.handleChatAbort,
		description: "abort an in-flight turn by run id",
	})
	r.register(&methodEntry{
		name: protocol.MethodQueueStatus, category: "agent", execute: s.handleQueueStatus,
		description: "report queue occupancy",
	})
	r.register(&methodEntry{
		name: protocol.MethodChannelsList, category: "channels", execute: s.handleChannelsList,
		description: "list registered channel plugins",
	})
	r.register(&methodEntry{
		name: protocol.MethodChannelsStatus, category: "channels", execute: s.handleChannelsStatus,
		description: "report per-channel running status",
	})
	r.register(&methodEntry{
		name: protocol.MethodSessionsList, category: "sessions", execute: s.handleSessionsList,
		description: "list known sessions",
	})
	r.register(&methodEntry{
		name: protocol.MethodSessionsHistory, category: "sessions", execute: s.handleSessionsHistory,
		description: "fetch a session's message history",
	})
	r.register(&methodEntry{
		name: protocol.MethodSessionsDelete, category: "sessions", requiresOwner: true, execute: s.handleSessionsDelete,
		description: "delete a session",
	})
	r.register(&methodEntry{
		name: protocol.MethodLogsTail, category: "ops", requiresOwner: true, execute: s.handleLogsTail,
		description: "tail recent log lines",
	})
	r.register(&methodEntry{
		name: protocol.MethodGatewayCost, category: "ops", execute: s.handleGatewayCost,
		description: "report token usage totals",
	})
	r.register(&methodEntry{
		name: protocol.MethodWizardStart, category: "wizard", execute: s.handleWizardStub,
		description: "onboarding wizard: start (not implemented)",
	})
	r.register(&methodEntry{
		name: protocol.MethodWizardNext, category: "wizard", execute: s.handleWizardStub,
		description: "onboarding wizard: advance (not implemented)",
	})
	r.register(&methodEntry{
		name: protocol.MethodWizardCancel, category: "wizard", execute: s.handleWizardStub,
		description: "onboarding wizard: cancel (not implemented)",
	})
	r.register(&methodEntry{
		name: protocol.MethodWizardStatus, category: "wizard", execute: s.handleWizardStub,
		description: "onboarding wizard: status (not implemented)",
	})
	r.register(&methodEntry{
		name: protocol.MethodDevicePairRequest, category: "devices", execute: s.handleDevicePairRequest,
		description: "pair a new device identity",
	})
	r.register(&methodEntry{
		name: protocol.MethodDevicePairApprove, category: "devices", requiresOwner: true, execute: s.handleDevicePairApprove,
		description: "approve a pending device pairing (no-op: pairing is immediate)",
	})
	r.register(&methodEntry{
		name: protocol.MethodDevicePairList, category: "devices", requiresOwner: true, execute: s.handleDevicePairList,
		description: "list paired devices",
	})
	r.register(&methodEntry{
		name: protocol.MethodDevicePairRevoke, category: "devices", requiresOwner: true, execute: s.handleDevicePairRevoke,
		description: "revoke a paired device",
	})
}

// --- agent ---------------------------------------------------------------

type agentTurnParams struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
	Stream    bool   `json:"stream"`
	RunID     string `json:"runId"`
}

func (s *Server) handleAgentTurn(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	var p agentTurnParams
	if raw != nil {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, protocol.NewWireError(protocol.ErrInvalidRequest, "invalid params", nil)
		}
	}
	if p.Message == "" {
		return nil, protocol.NewWireError(protocol.ErrInvalidRequest, "message is required", nil)
	}
	if p.AgentID == "" {
		p.AgentID = s.cfg.ResolveDefaultAgentID()
	}
	if p.SessionID == "" {
		p.SessionID = sessions.BuildSessionKey(p.AgentID, "gateway", sessions.PeerDirect, c.id)
	}
	runID := p.RunID
	if runID == "" {
		runID = p.SessionID
	}

	defaults := s.cfg.ResolveAgent(p.AgentID)
	var fallbacks []string
	if spec, ok := s.cfg.Agents.List[p.AgentID]; ok {
		fallbacks = spec.Fallbacks
	}

	req := agent.RunRequest{
		SessionID:     p.SessionID,
		WorkspacePath: defaults.Workspace,
		UserMessage:   p.Message,
		Model:         defaults.Provider + "/" + defaults.Model,
		Fallbacks:     fallbacks,
		AgentID:       p.AgentID,
	}

	release, err := s.queue.Enqueue(ctx, p.SessionID)
	if err != nil {
		return nil, protocol.NewWireError(protocol.ErrInternal, "queue: "+err.Error(), nil)
	}

	run := func() (*agent.RunResult, error) {
		defer release()
		return s.loop.Run(ctx, req)
	}

	if p.Stream {
		go func() {
			result, err := run()
			s.recordTurnUsage(result)
			if err != nil {
				s.bus.Publish(bus.NewEvent(protocol.EventAgentError, "gateway", map[string]any{"error": err.Error()}))
			}
		}()
		return map[string]any{"status": "accepted", "runId": runID, "sessionId": p.SessionID}, nil
	}

	result, err := run()
	if err != nil {
		return nil, protocol.NewWireError(protocol.ErrInternal, err.Error(), nil)
	}
	s.recordTurnUsage(result)
	return map[string]any{
		"runId":         runID,
		"sessionId":     p.SessionID,
		"content":       result.Content,
		"finishState":   string(result.FinishState),
		"toolCallCount": result.ToolCallCount,
		"usage":         result.Usage,
	}, nil
}

func (s *Server) handleChatAbort(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	var p struct {
		RunID string `json:"runId"`
	}
	if raw != nil {
		json.Unmarshal(raw, &p)
	}
	if p.RunID == "" {
		return nil, protocol.NewWireError(protocol.ErrInvalidRequest, "runId is required", nil)
	}
	aborted := s.aborts.Abort(p.RunID)
	return map[string]any{"aborted": aborted}, nil
}

func (s *Server) handleQueueStatus(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	return s.queue.Stats(), nil
}

// --- channels --------------------------------------------------------------

func (s *Server) handleChannelsList(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	if s.channels == nil {
		return map[string]any{"channels": []string{}}, nil
	}
	return map[string]any{"channels": s.channels.GetEnabledChannels()}, nil
}

func (s *Server) handleChannelsStatus(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	if s.channels == nil {
		return map[string]any{}, nil
	}
	return s.channels.GetStatus(), nil
}

// --- sessions ----------------------------------------------------------------

func (s *Server) handleSessionsList(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	return map[string]any{"sessions": s.sessions.ListInfo()}, nil
}

func (s *Server) handleSessionsHistory(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if raw != nil {
		json.Unmarshal(raw, &p)
	}
	if p.SessionID == "" {
		return nil, protocol.NewWireError(protocol.ErrInvalidRequest, "sessionId is required", nil)
	}
	if !s.sessionExists(p.SessionID) {
		return nil, protocol.NewWireError(protocol.ErrInvalidRequest, "unknown session", nil)
	}
	session := s.sessions.GetOrCreate(p.SessionID, "")
	return map[string]any{
		"sessionId": session.SessionID,
		"messages":  session.Messages,
		"metadata":  session.Metadata,
		"updatedAt": session.UpdatedAt,
	}, nil
}

func (s *Server) handleSessionsDelete(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if raw != nil {
		json.Unmarshal(raw, &p)
	}
	if p.SessionID == "" {
		return nil, protocol.NewWireError(protocol.ErrInvalidRequest, "sessionId is required", nil)
	}
	if err := s.sessions.Delete(p.SessionID); err != nil {
		return nil, protocol.NewWireError(protocol.ErrInternal, err.Error(), nil)
	}
	return map[string]any{"deleted": true}, nil
}

func (s *Server) sessionExists(id string) bool {
	for _, info := range s.sessions.ListInfo() {
		if info.SessionID == id {
			return true
		}
	}
	return false
}

// --- ops ---------------------------------------------------------------------

func (s *Server) handleLogsTail(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	// No persistent log ring buffer is wired up; operators tail the
	// process's own stderr instead. Advertised so clients can detect the
	// gap rather than calling a method that doesn't exist.
	return map[string]any{"lines": []string{}}, nil
}

func (s *Server) handleGatewayCost(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	prompt, completion, total := s.lifetimeUsage()

	perSession := make(map[string]any, len(s.sessions.List()))
	for _, id := range s.sessions.List() {
		session := s.sessions.GetOrCreate(id, "")
		if usage, ok := session.Metadata["usage"]; ok {
			perSession[id] = usage
		}
	}

	return map[string]any{
		"lifetime": map[string]any{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      total,
		},
		"sessions": perSession,
	}, nil
}

// --- wizard (dispatch stub) ----------------------------------------------

func (s *Server) handleWizardStub(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	return nil, protocol.NewWireError(protocol.ErrInternal, "onboarding wizard is not implemented", nil)
}

// --- devices -------------------------------------------------------------

func (s *Server) handleDevicePairRequest(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	var p struct {
		DeviceID  string `json:"deviceId"`
		PublicKey string `json:"publicKey"`
		Label     string `json:"label"`
	}
	if raw != nil {
		json.Unmarshal(raw, &p)
	}
	if s.devices == nil {
		return nil, protocol.NewWireError(protocol.ErrInternal, "device pairing is not configured", nil)
	}
	if p.DeviceID == "" || p.PublicKey == "" {
		return nil, protocol.NewWireError(protocol.ErrInvalidRequest, "deviceId and publicKey are required", nil)
	}
	if err := s.devices.Pair(p.DeviceID, p.PublicKey, p.Label); err != nil {
		return nil, protocol.NewWireError(protocol.ErrInternal, err.Error(), nil)
	}
	return map[string]any{"paired": true, "deviceId": p.DeviceID}, nil
}

func (s *Server) handleDevicePairApprove(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	return map[string]any{"approved": true}, nil
}

func (s *Server) handleDevicePairList(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	if s.devices == nil {
		return map[string]any{"devices": []DeviceRecord{}}, nil
	}
	devices, err := s.devices.List()
	if err != nil {
		return nil, protocol.NewWireError(protocol.ErrInternal, err.Error(), nil)
	}
	return map[string]any{"devices": devices}, nil
}

func (s *Server) handleDevicePairRevoke(ctx context.Context, c *Client, raw json.RawMessage) (any, *protocol.WireError) {
	var p struct {
		DeviceID string `json:"deviceId"`
	}
	if raw != nil {
		json.Unmarshal(raw, &p)
	}
	if p.DeviceID == "" {
		return nil, protocol.NewWireError(protocol.ErrInvalidRequest, "deviceId is required", nil)
	}
	if s.devices == nil {
		return nil, protocol.NewWireError(protocol.ErrInternal, "device pairing is not configured", nil)
	}
	if err := s.devices.Revoke(p.DeviceID); err != nil {
		return nil, protocol.NewWireError(protocol.ErrInternal, err.Error(), nil)
	}
	return map[string]any{"revoked": true}, nil
}

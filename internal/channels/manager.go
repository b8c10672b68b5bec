package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/relaycrew/gatewaycore/internal/bus"
	"github.com/relaycrew/gatewaycore/pkg/protocol"
)

// AgentRunner is the Manager's view of the Agent Runtime: given an
// inbound message it returns the text reply (or an error). The
// composition root supplies an adapter wrapping agent.Loop.Run, which
// builds a session id from the message's agent, channel, peer kind and
// chat via sessions.BuildSessionKey.
type AgentRunner interface {
	Run(ctx context.Context, msg InboundMessage) (string, error)
}

// runContext tracks an active agent run for streaming/reaction event forwarding.
type runContext struct {
	channelName string
	chatID      string
	messageID   int

	mu           sync.Mutex
	streamBuffer string
	inToolPhase  bool
}

// Manager owns every registered Channel's lifecycle and routes inbound
// messages to the Agent Runtime and outbound replies back to their
// origin channel (spec §4.10).
type Manager struct {
	channels map[string]Channel
	bus      *bus.Bus
	runner   AgentRunner

	inbound     chan InboundMessage
	runs        sync.Map // session id → *runContext
	sendLimiter *OutboundSendLimiter

	mu      sync.RWMutex
	cancels []context.CancelFunc
}

// NewManager creates a channel Manager. Channels are registered
// externally via RegisterChannel; runner is invoked for every accepted
// inbound message.
func NewManager(eventBus *bus.Bus, runner AgentRunner) *Manager {
	m := &Manager{
		channels:    make(map[string]Channel),
		bus:         eventBus,
		runner:      runner,
		inbound:     make(chan InboundMessage, 256),
		sendLimiter: NewOutboundSendLimiter(),
	}
	if eventBus != nil {
		eventBus.Subscribe(protocol.Wildcard, m.onAgentEvent)
	}
	return m
}

// Dispatch implements Dispatcher; channels call this to hand off a
// received platform message.
func (m *Manager) Dispatch(msg InboundMessage) {
	m.inbound <- msg
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

// UnregisterChannel removes a channel from the manager.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// GetEnabledChannels returns the names of all registered channels.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]interface{}, len(m.channels))
	for name, ch := range m.channels {
		status[name] = map[string]interface{}{"running": ch.IsRunning()}
	}
	return status
}

// StartAll starts every registered channel and the inbound dispatch loop.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancels = append(m.cancels, cancel)
	channelsCopy := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		channelsCopy[k] = v
	}
	m.mu.Unlock()

	go m.dispatchInbound(dispatchCtx)

	if len(channelsCopy) == 0 {
		slog.Warn("channels: no channels registered")
		return nil
	}

	for name, ch := range channelsCopy {
		if err := ch.Start(ctx); err != nil {
			slog.Error("channels: failed to start channel", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll gracefully stops every registered channel and the dispatch loop.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil
	channelsCopy := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		channelsCopy[k] = v
	}
	m.mu.Unlock()

	for name, ch := range channelsCopy {
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channels: error stopping channel", "channel", name, "error", err)
		}
	}
	return nil
}

// dispatchInbound pulls inbound messages and starts one goroutine per
// message to run the agent; ordering and concurrency within a session
// are left to the Queue Manager behind AgentRunner.
func (m *Manager) dispatchInbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.inbound:
			if IsInternalChannel(msg.Channel) {
				continue
			}
			go m.handleInbound(ctx, msg)
		}
	}
}

func (m *Manager) handleInbound(ctx context.Context, msg InboundMessage) {
	reply, err := m.runner.Run(ctx, msg)
	if err != nil {
		slog.Error("channels: agent run failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		return
	}
	// An empty (suppressed) reply is still sent so the channel can remove
	// its "Thinking..." placeholder; Metadata carries the placeholder key.
	out := OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply, Metadata: msg.Metadata}
	if err := m.Send(ctx, out); err != nil {
		slog.Error("channels: failed to deliver reply", "channel", msg.Channel, "error", err)
	}
}

// SendToChannel delivers a message to a specific channel by name.
func (m *Manager) SendToChannel(ctx context.Context, channelName, chatID, content string) error {
	return m.Send(ctx, OutboundMessage{Channel: channelName, ChatID: chatID, Content: content})
}

// Send delivers an outbound message, cleaning up any local media files
// afterward. Blocks until the channel's outbound send-rate budget has a
// free slot (or ctx is done), so a burst of agent replies never exceeds
// the vendor's documented per-channel rate cap.
func (m *Manager) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.RLock()
	ch, exists := m.channels[msg.Channel]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("channels: channel %q not found", msg.Channel)
	}

	if err := m.waitForSendSlot(ctx, msg.Channel); err != nil {
		return fmt.Errorf("channels: send rate limit: %w", err)
	}

	err := ch.Send(ctx, msg)
	for _, media := range msg.Media {
		if media.URL != "" {
			if rmErr := os.Remove(media.URL); rmErr != nil {
				slog.Debug("channels: failed to clean up media file", "path", media.URL, "error", rmErr)
			}
		}
	}
	return err
}

// waitForSendSlot blocks until channelName has a free outbound-send slot
// under sendLimiter, polling at a quarter of the rate window.
func (m *Manager) waitForSendSlot(ctx context.Context, channelName string) error {
	if m.sendLimiter == nil {
		return nil
	}
	for {
		if m.sendLimiter.Allow(channelName) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sendRateWindow / 4):
		}
	}
}

// RegisterRun associates a session id with the originating channel
// context so agent events (text deltas, tool calls, completion) can be
// forwarded to a StreamingChannel/ReactionChannel.
func (m *Manager) RegisterRun(sessionID, channelName, chatID string, messageID int) {
	m.runs.Store(sessionID, &runContext{channelName: channelName, chatID: chatID, messageID: messageID})
}

// UnregisterRun removes a run tracking entry.
func (m *Manager) UnregisterRun(sessionID string) {
	m.runs.Delete(sessionID)
}

// onAgentEvent forwards Agent Runtime bus events to any Streaming or
// Reaction channel tracking that event's session.
func (m *Manager) onAgentEvent(e bus.Event) {
	val, ok := m.runs.Load(e.SessionID)
	if !ok {
		return
	}
	rc := val.(*runContext)

	m.mu.RLock()
	ch, exists := m.channels[rc.channelName]
	m.mu.RUnlock()
	if !exists {
		return
	}
	ctx := context.Background()

	if sc, ok := ch.(StreamingChannel); ok && sc.StreamEnabled() {
		m.forwardStreaming(ctx, sc, rc, e)
	}
	if reactionCh, ok := ch.(ReactionChannel); ok {
		m.forwardReaction(ctx, reactionCh, rc, e)
	}

	if e.Type == protocol.EventAgentTurnComplete || e.Type == protocol.EventAgentError {
		m.runs.Delete(e.SessionID)
	}
}

func (m *Manager) forwardStreaming(ctx context.Context, sc StreamingChannel, rc *runContext, e bus.Event) {
	switch e.Type {
	case protocol.EventAgentStarted:
		_ = sc.OnStreamStart(ctx, rc.chatID)
	case protocol.EventAgentToolUse:
		rc.mu.Lock()
		rc.inToolPhase = true
		rc.mu.Unlock()
		_ = sc.OnStreamEnd(ctx, rc.chatID, "")
	case protocol.EventAgentText:
		content, _ := e.Data["text"].(string)
		if content == "" {
			return
		}
		rc.mu.Lock()
		if rc.inToolPhase {
			rc.streamBuffer = ""
			rc.inToolPhase = false
			rc.mu.Unlock()
			_ = sc.OnStreamStart(ctx, rc.chatID)
			rc.mu.Lock()
		}
		rc.streamBuffer += content
		fullText := rc.streamBuffer
		rc.mu.Unlock()
		_ = sc.OnChunkEvent(ctx, rc.chatID, fullText)
	case protocol.EventAgentTurnComplete:
		rc.mu.Lock()
		finalText := rc.streamBuffer
		rc.mu.Unlock()
		_ = sc.OnStreamEnd(ctx, rc.chatID, finalText)
	case protocol.EventAgentError:
		_ = sc.OnStreamEnd(ctx, rc.chatID, "")
	}
}

func (m *Manager) forwardReaction(ctx context.Context, rch ReactionChannel, rc *runContext, e bus.Event) {
	status := ""
	switch e.Type {
	case protocol.EventAgentStarted:
		status = "thinking"
	case protocol.EventAgentToolUse:
		status = "tool"
	case protocol.EventAgentTurnComplete:
		status = "done"
	case protocol.EventAgentError:
		status = "error"
	}
	if status != "" {
		_ = rch.OnReactionEvent(ctx, rc.chatID, rc.messageID, status)
	}
}

// Package protocol defines the wire-level vocabulary shared between the
// gateway server and its clients: event kinds, RPC method names, and error
// codes.
package protocol

// EventKind identifies the closed set of events the Event Bus carries.
// Gateway clients receive these verbatim as the `event` field of a
// broadcast frame.
type EventKind string

const (
	EventAgentStarted      EventKind = "agent.started"
	EventAgentText         EventKind = "agent.text"
	EventAgentThinking     EventKind = "agent.thinking"
	EventAgentToolUse      EventKind = "agent.tool_use"
	EventAgentToolResult   EventKind = "agent.tool_result"
	EventAgentTurnComplete EventKind = "agent.turn_complete"
	EventAgentError        EventKind = "agent.error"
	EventAgentRetry        EventKind = "agent.retry"
	EventAgentFailover     EventKind = "agent.failover"
	EventAgentCompaction   EventKind = "agent.compaction"
	EventAgentFileGen      EventKind = "agent.file_generated"

	EventChannelRegistered   EventKind = "channel.registered"
	EventChannelUnregistered EventKind = "channel.unregistered"
	EventChannelStarting     EventKind = "channel.starting"
	EventChannelStarted      EventKind = "channel.started"
	EventChannelReady        EventKind = "channel.ready"
	EventChannelStopping     EventKind = "channel.stopping"
	EventChannelStopped      EventKind = "channel.stopped"
	EventChannelError        EventKind = "channel.error"

	EventSessionCreated EventKind = "session.created"

	EventGatewayClientConnected EventKind = "gateway.client_connected"

	// Wildcard is not a real event kind; it is the subscription token
	// meaning "deliver every event regardless of kind".
	Wildcard EventKind = "*"
)

// String satisfies fmt.Stringer so EventKind prints without a cast.
func (k EventKind) String() string { return string(k) }

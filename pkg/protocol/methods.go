package protocol

// RPC method name constants dispatched through the gateway's method
// registry. Organized per spec §4.11's core-method list, plus the
// onboarding wizard dispatch surface the gateway hosts but does not
// implement.
const (
	MethodConnect = "connect"
	MethodPing    = "ping"
	MethodHealth  = "health"

	MethodAgent      = "agent"
	MethodAgentTurn  = "agent.turn"
	MethodChatAbort  = "chat.abort"
	MethodQueueStatus = "agent.queue.status"

	MethodChannelsList   = "channels.list"
	MethodChannelsStatus = "channels.status"

	MethodSessionsList    = "sessions.list"
	MethodSessionsHistory = "sessions.history"
	MethodSessionsDelete  = "sessions.delete"

	MethodLogsTail   = "logs.tail"
	MethodGatewayCost = "gateway.cost"

	MethodWizardStart  = "wizard.start"
	MethodWizardNext   = "wizard.next"
	MethodWizardCancel = "wizard.cancel"
	MethodWizardStatus = "wizard.status"

	MethodDevicePairRequest = "device.pair.request"
	MethodDevicePairApprove = "device.pair.approve"
	MethodDevicePairList    = "device.pair.list"
	MethodDevicePairRevoke  = "device.pair.revoke"
)

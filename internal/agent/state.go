package agent

// TurnState names a node in the turn state machine (spec §4.9):
//
//	START → CHECK_CONTEXT → CALL_PROVIDER → STREAM →
//	  (TOOL_DISPATCH → POST_TOOL_CALL → CALL_PROVIDER)*
//	  → DONE | FAILOVER → CALL_PROVIDER | RETRY → CALL_PROVIDER
//	  | ABORT | ERROR
type TurnState string

const (
	StateStart        TurnState = "START"
	StateCheckContext TurnState = "CHECK_CONTEXT"
	StateCallProvider TurnState = "CALL_PROVIDER"
	StateStream       TurnState = "STREAM"
	StateToolDispatch TurnState = "TOOL_DISPATCH"
	StatePostToolCall TurnState = "POST_TOOL_CALL"
	StateDone         TurnState = "DONE"
	StateFailover     TurnState = "FAILOVER"
	StateRetry        TurnState = "RETRY"
	StateAbort        TurnState = "ABORT"
	StateError        TurnState = "ERROR"

	// StateCompaction is not a node in the state diagram; it marks a
	// checkAndCompact side effect worth its own bus event distinct from
	// the CHECK_CONTEXT transition that triggered it.
	StateCompaction TurnState = "COMPACTION"
)

// AgentEvent is published onto the event bus at each state transition
// and streaming delta, and carries the detail the Gateway Server relays
// to subscribed clients as event frames.
type AgentEvent struct {
	State       TurnState
	SessionID   string
	Text        string
	Thinking    string
	ToolName    string
	ToolCallID  string
	Err         error
	Cancelled   bool // set on StateAbort; carried as agent.turn_complete{cancelled:true}
	BeforeCount int  // set on a compaction event: message count before compacting
	AfterCount  int  // set on a compaction event: message count after compacting
}

package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaycrew/gatewaycore/internal/bus"
	"github.com/relaycrew/gatewaycore/internal/compaction"
	"github.com/relaycrew/gatewaycore/internal/fallback"
	"github.com/relaycrew/gatewaycore/internal/providers"
	"github.com/relaycrew/gatewaycore/internal/sessions"
	"github.com/relaycrew/gatewaycore/internal/tools"
	"github.com/relaycrew/gatewaycore/pkg/protocol"
)

// maxToolIterations bounds how many CALL_PROVIDER→TOOL_DISPATCH round
// trips a single turn may make before the loop gives up and returns an
// error, guarding against a model that never stops calling tools.
const maxToolIterations = 12

// toolLoopThreshold is how many times the same (tool name, normalized
// argument hash) pair may repeat within one turn before it is treated as
// a stuck loop and the turn is failed (spec §9's supplemented
// tool-call-loop-detection feature).
const toolLoopThreshold = 3

// LoopConfig wires a Loop's dependencies.
type LoopConfig struct {
	Sessions   *sessions.Manager
	Providers  *providers.Registry
	Tools      *tools.Registry
	Policy     *tools.PolicyEngine
	Bus        *bus.Bus
	Aborts     *AbortRegistry
	Credential string // resolved credential for the primary provider
	BaseURL    string // fallback-transport base URL, if applicable
}

// Loop runs turns against the Agent Runtime state machine (spec §4.9).
type Loop struct {
	cfg LoopConfig
}

// NewLoop constructs a Loop from cfg.
func NewLoop(cfg LoopConfig) *Loop {
	return &Loop{cfg: cfg}
}

// RunRequest is the input to a single turn.
type RunRequest struct {
	SessionID     string
	WorkspacePath string
	UserMessage   string
	ImagePaths    []string
	Model         string   // primary model, "provider/model" or bare id
	Fallbacks     []string // additional "provider/model" ids tried in order
	AgentID       string
	ProviderName  string // for tool-policy evaluation; derived from Model if empty
}

// RunResult is the outcome of a completed, aborted, or failed turn.
type RunResult struct {
	Content       string
	FinishState   TurnState
	Usage         *providers.Usage
	ToolCallCount int
}

// Run executes one full turn: CHECK_CONTEXT, then CALL_PROVIDER/STREAM,
// looping through TOOL_DISPATCH/POST_TOOL_CALL until the model returns a
// final response, advancing FAILOVER/RETRY as errors occur, until DONE,
// ABORT, or ERROR.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	var deregister func()
	if l.cfg.Aborts != nil {
		deregister = l.cfg.Aborts.Register(req.SessionID, cancel)
	}
	defer cancel()
	defer func() {
		if deregister != nil {
			deregister()
		}
	}()

	session := l.cfg.Sessions.GetOrCreate(req.SessionID, req.WorkspacePath)

	l.emit(AgentEvent{State: StateStart, SessionID: req.SessionID})

	userMsg := providers.Message{Role: "user", Content: req.UserMessage, Timestamp: time.Now()}
	userMsg.Images = loadImages(req.ImagePaths)
	if err := l.cfg.Sessions.Append(session, userMsg); err != nil {
		return nil, fmt.Errorf("agent: persist user message: %w", err)
	}

	// CHECK_CONTEXT
	l.emit(AgentEvent{State: StateCheckContext, SessionID: req.SessionID})
	if err := l.checkAndCompact(session, req.Model); err != nil {
		slog.Warn("agent: compaction failed, continuing with uncompacted history", "error", err)
	}

	chain := fallback.NewChain(req.Model, req.Fallbacks)
	providerName := req.ProviderName
	if providerName == "" {
		providerName, _ = providers.ParseModelID(req.Model)
	}

	seenToolCalls := map[string]int{}
	totalToolCalls := 0
	toolsDispatched := false

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		select {
		case <-turnCtx.Done():
			l.emit(AgentEvent{State: StateAbort, SessionID: req.SessionID, Cancelled: true})
			return &RunResult{FinishState: StateAbort}, turnCtx.Err()
		default:
		}

		l.emit(AgentEvent{State: StateCallProvider, SessionID: req.SessionID})

		currentModel := chain.CurrentModel()
		p, modelName, err := l.cfg.Providers.Resolve(currentModel, l.cfg.Credential, l.cfg.BaseURL)
		if err != nil {
			l.emit(AgentEvent{State: StateError, SessionID: req.SessionID, Err: err})
			l.emitTurnComplete(req.SessionID, false)
			return nil, fmt.Errorf("agent: resolve provider: %w", err)
		}

		// POST_TOOL_CALL reopens the provider stream with tools=nil (spec
		// open-question decision #1): tools are offered only on the turn's
		// first CALL_PROVIDER, never again. Tool calls a model still returns
		// after that are dispatched, bounded by loop detection and
		// maxToolIterations.
		var toolDefs []providers.ToolDefinition
		if !toolsDispatched {
			toolDefs = l.cfg.Policy.FilterTools(l.cfg.Tools, req.AgentID, providerName, nil)
		}

		resp, err := l.callWithRetry(turnCtx, p, providers.ChatRequest{
			Messages: session.Messages,
			Tools:    toolDefs,
			Model:    modelName,
		}, req.SessionID)

		if err != nil {
			if errors.Is(err, context.Canceled) {
				l.emit(AgentEvent{State: StateAbort, SessionID: req.SessionID, Cancelled: true})
				return &RunResult{FinishState: StateAbort}, err
			}
			if fallback.ShouldFailover(err) {
				if next, ok := chain.NextModel(); ok {
					l.emit(AgentEvent{State: StateFailover, SessionID: req.SessionID, Err: err})
					slog.Warn("agent: failing over to next model", "from", currentModel, "to", next, "error", err)
					continue
				}
			}
			l.emit(AgentEvent{State: StateError, SessionID: req.SessionID, Err: err})
			l.emitTurnComplete(req.SessionID, false)
			return nil, fmt.Errorf("agent: provider call failed: %w", err)
		}

		assistantMsg := providers.Message{
			Role: "assistant", Content: SanitizeAssistantContent(resp.Content),
			ToolCalls: resp.ToolCalls, Timestamp: time.Now(),
			RawAssistantContent: resp.RawAssistantContent,
		}
		if err := l.cfg.Sessions.Append(session, assistantMsg); err != nil {
			return nil, fmt.Errorf("agent: persist assistant message: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			l.emit(AgentEvent{State: StateDone, SessionID: req.SessionID, Text: assistantMsg.Content})
			l.recordUsage(session, resp.Usage)
			content := assistantMsg.Content
			if IsSilentReply(content) {
				content = ""
			}
			return &RunResult{
				Content: content, FinishState: StateDone,
				Usage: resp.Usage, ToolCallCount: totalToolCalls,
			}, nil
		}

		// TOOL_DISPATCH
		l.emit(AgentEvent{State: StateToolDispatch, SessionID: req.SessionID})
		toolsDispatched = true
		for _, tc := range resp.ToolCalls {
			key := toolCallKey(tc)
			seenToolCalls[key]++
			if seenToolCalls[key] > toolLoopThreshold {
				l.emit(AgentEvent{State: StateError, SessionID: req.SessionID})
				l.emitTurnComplete(req.SessionID, false)
				return nil, fmt.Errorf("agent: tool call loop detected for %s (repeated %d times)", tc.Name, seenToolCalls[key])
			}
		}

		results := l.dispatchToolCalls(turnCtx, resp.ToolCalls)
		totalToolCalls += len(resp.ToolCalls)

		// POST_TOOL_CALL
		l.emit(AgentEvent{State: StatePostToolCall, SessionID: req.SessionID})
		for _, tr := range results {
			msg := providers.Message{
				Role: "tool", Content: tr.result.ForLLM,
				ToolCallID: tr.call.ID, Name: tr.call.Name, Timestamp: time.Now(),
			}
			if err := l.cfg.Sessions.Append(session, msg); err != nil {
				return nil, fmt.Errorf("agent: persist tool result: %w", err)
			}
		}
	}

	l.emit(AgentEvent{State: StateError, SessionID: req.SessionID})
	l.emitTurnComplete(req.SessionID, false)
	return nil, fmt.Errorf("agent: exceeded max tool iterations (%d)", maxToolIterations)
}

func (l *Loop) checkAndCompact(session *sessions.Session, model string) error {
	check := compaction.CheckContext(session.Messages, model)
	if !check.ShouldCompress {
		return nil
	}
	keepN := len(session.Messages) / 2
	if keepN < 4 {
		keepN = 4
	}
	strategy := compaction.StrategyKeepImportant
	trimmed, result := compaction.Compact(session.Messages, model, strategy, keepN)

	if session.Metadata == nil {
		session.Metadata = map[string]interface{}{}
	}
	session.Metadata["compaction"] = map[string]interface{}{
		"strategy":     string(result.Strategy),
		"before_count": result.BeforeCount,
		"after_count":  result.AfterCount,
	}
	if err := l.cfg.Sessions.ReplaceMessages(session, trimmed); err != nil {
		return err
	}
	l.emit(AgentEvent{
		State: StateCompaction, SessionID: session.SessionID,
		BeforeCount: result.BeforeCount, AfterCount: result.AfterCount,
	})
	return nil
}

func (l *Loop) recordUsage(session *sessions.Session, usage *providers.Usage) {
	if usage == nil {
		return
	}
	if session.Metadata == nil {
		session.Metadata = map[string]interface{}{}
	}
	prior, _ := session.Metadata["usage"].(map[string]interface{})
	if prior == nil {
		prior = map[string]interface{}{}
	}
	prior["prompt_tokens"] = toInt(prior["prompt_tokens"]) + usage.PromptTokens
	prior["completion_tokens"] = toInt(prior["completion_tokens"]) + usage.CompletionTokens
	prior["total_tokens"] = toInt(prior["total_tokens"]) + usage.TotalTokens
	session.Metadata["usage"] = prior
	_ = l.cfg.Sessions.Save(session.SessionID)
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// callWithRetry wraps a provider's ChatStream with RetryDo (spec §7/§9's
// backoff formula) and publishes STREAM events for each delta.
func (l *Loop) callWithRetry(ctx context.Context, p providers.Provider, req providers.ChatRequest, sessionID string) (*providers.ChatResponse, error) {
	return providers.RetryDo(ctx, providers.DefaultRetryConfig(), func() (*providers.ChatResponse, error) {
		extractor := NewThinkingExtractor()
		resp, err := p.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
			if chunk.Err != nil {
				return
			}
			if chunk.Content != "" {
				content, thinking := extractor.Feed(chunk.Content)
				if content != "" {
					l.emit(AgentEvent{State: StateStream, SessionID: sessionID, Text: content})
				}
				if thinking != "" {
					l.emit(AgentEvent{State: StateStream, SessionID: sessionID, Thinking: thinking})
				}
			}
			if chunk.Thinking != "" {
				l.emit(AgentEvent{State: StateStream, SessionID: sessionID, Thinking: chunk.Thinking})
			}
		})
		return resp, err
	})
}

type toolCallResult struct {
	call   providers.ToolCall
	result *tools.Result
}

// dispatchToolCalls runs every tool call concurrently and returns
// results in the model's original call order: each goroutine writes to
// its own index of a pre-sized slice, so no re-sort is needed.
func (l *Loop) dispatchToolCalls(ctx context.Context, calls []providers.ToolCall) []toolCallResult {
	results := make([]toolCallResult, len(calls))
	done := make(chan int, len(calls))

	for i, call := range calls {
		go func(i int, call providers.ToolCall) {
			defer func() { done <- i }()
			tool, ok := l.cfg.Tools.Get(call.Name)
			if !ok {
				results[i] = toolCallResult{call: call, result: tools.ErrorResult(fmt.Sprintf("unknown tool: %s", call.Name))}
				return
			}
			results[i] = toolCallResult{call: call, result: tool.Execute(ctx, call.Arguments)}
		}(i, call)
	}
	for range calls {
		<-done
	}
	return results
}

func toolCallKey(tc providers.ToolCall) string {
	argsJSON, _ := json.Marshal(normalizeArgs(tc.Arguments))
	sum := sha256.Sum256(argsJSON)
	return tc.Name + ":" + hex.EncodeToString(sum[:8])
}

// normalizeArgs sorts map keys implicitly via json.Marshal's stable key
// ordering, so semantically identical argument sets hash identically
// regardless of map iteration order.
func normalizeArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

// emit publishes event onto the bus, unless event.State maps to no wire
// event (an internal-only transition such as CALL_PROVIDER re-entry).
func (l *Loop) emit(event AgentEvent) {
	if l.cfg.Bus == nil {
		return
	}
	kind, ok := stateToEventKind(event.State)
	if !ok {
		return
	}
	if event.State == StateStream && event.Thinking != "" && event.Text == "" {
		kind = protocol.EventAgentThinking
	}
	e := bus.NewEvent(kind, "agent", map[string]any{
		"text": event.Text, "thinking": event.Thinking, "tool_name": event.ToolName,
	})
	if kind == protocol.EventAgentTurnComplete {
		e.Data["cancelled"] = event.Cancelled
	}
	if kind == protocol.EventAgentCompaction {
		e.Data["before_count"] = event.BeforeCount
		e.Data["after_count"] = event.AfterCount
	}
	e.SessionID = event.SessionID
	l.cfg.Bus.Publish(e)
}

// emitTurnComplete publishes agent.turn_complete directly, for the
// terminal-error paths that must still satisfy spec §4.9.2's "emit
// agent.error, then agent.turn_complete" contract.
func (l *Loop) emitTurnComplete(sessionID string, cancelled bool) {
	l.emit(AgentEvent{State: StateDone, SessionID: sessionID, Cancelled: cancelled})
}

// stateToEventKind maps a turn state to its wire event kind. The second
// return value is false for states that are internal bookkeeping only
// (START already covers turn-begin; CHECK_CONTEXT and CALL_PROVIDER
// re-entries must not also publish agent.started) — emit skips those.
func stateToEventKind(s TurnState) (protocol.EventKind, bool) {
	switch s {
	case StateStart:
		return protocol.EventAgentStarted, true
	case StateStream:
		return protocol.EventAgentText, true
	case StateToolDispatch:
		return protocol.EventAgentToolUse, true
	case StatePostToolCall:
		return protocol.EventAgentToolResult, true
	case StateDone, StateAbort:
		return protocol.EventAgentTurnComplete, true
	case StateFailover:
		return protocol.EventAgentFailover, true
	case StateRetry:
		return protocol.EventAgentRetry, true
	case StateError:
		return protocol.EventAgentError, true
	case StateCompaction:
		return protocol.EventAgentCompaction, true
	case StateCheckContext, StateCallProvider:
		return "", false
	default:
		return "", false
	}
}

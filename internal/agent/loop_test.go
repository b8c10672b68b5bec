package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/relaycrew/gatewaycore/internal/bus"
	"github.com/relaycrew/gatewaycore/internal/providers"
	"github.com/relaycrew/gatewaycore/internal/sessions"
	"github.com/relaycrew/gatewaycore/internal/tools"
	"github.com/relaycrew/gatewaycore/pkg/protocol"
)

// recordingBus captures every published event kind in order, for
// asserting on the wire sequence a turn produces.
type recordingBus struct {
	mu     sync.Mutex
	events []bus.Event
}

func newRecordingBus() (*bus.Bus, *recordingBus) {
	rec := &recordingBus{}
	b := bus.New(nil)
	b.Subscribe(protocol.Wildcard, func(e bus.Event) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.events = append(rec.events, e)
	})
	return b, rec
}

func (r *recordingBus) kinds() []protocol.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recordingBus) count(kind protocol.EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// fakeProvider scripts a fixed sequence of responses, one per call,
// optionally erroring on the first N calls before succeeding.
type fakeProvider struct {
	responses []*providers.ChatResponse
	errs      []error
	calls     int

	mu        sync.Mutex
	toolsSeen [][]providers.ToolDefinition // Tools field of each ChatRequest, in call order
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return f.ChatStream(ctx, req, nil)
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	f.mu.Lock()
	f.toolsSeen = append(f.toolsSeen, req.Tools)
	f.mu.Unlock()

	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if onChunk != nil && i < len(f.responses) {
		onChunk(providers.StreamChunk{Content: f.responses[i].Content})
	}
	if i >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[i], nil
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }

func newLoopForTest(t *testing.T, p providers.Provider) (*Loop, *sessions.Manager) {
	t.Helper()
	loop, sm, _ := newLoopForTestWithBus(t, p, bus.New(nil))
	return loop, sm
}

func newLoopForTestWithBus(t *testing.T, p providers.Provider, b *bus.Bus) (*Loop, *sessions.Manager, *bus.Bus) {
	t.Helper()
	reg := providers.NewRegistry()
	reg.Register("fake", func(credential string) providers.Provider { return p })

	toolReg := tools.NewRegistry()
	toolReg.Register(tools.NewEchoTool())
	policy := tools.NewPolicyEngine(tools.Spec{Allow: []string{"echo"}})

	sm := sessions.NewManager("")
	loop := NewLoop(LoopConfig{
		Sessions:  sm,
		Providers: reg,
		Tools:     toolReg,
		Policy:    policy,
		Bus:       b,
		Aborts:    NewAbortRegistry(),
	})
	return loop, sm, b
}

func TestRunReturnsDoneOnPlainTextResponse(t *testing.T) {
	p := &fakeProvider{responses: []*providers.ChatResponse{{Content: "hello there"}}}
	loop, _ := newLoopForTest(t, p)

	res, err := loop.Run(context.Background(), RunRequest{
		SessionID: "s1", WorkspacePath: "/tmp/ws", UserMessage: "hi", Model: "fake/fake-model",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinishState != StateDone {
		t.Fatalf("expected StateDone, got %v", res.FinishState)
	}
	if res.Content != "hello there" {
		t.Fatalf("unexpected content: %q", res.Content)
	}
}

func TestRunDispatchesToolCallsThenCompletes(t *testing.T) {
	p := &fakeProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "echo", Arguments: map[string]interface{}{"text": "hi"}}}},
		{Content: "done"},
	}}
	loop, sm := newLoopForTest(t, p)

	res, err := loop.Run(context.Background(), RunRequest{
		SessionID: "s2", WorkspacePath: "/tmp/ws", UserMessage: "run echo", Model: "fake/fake-model",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinishState != StateDone || res.Content != "done" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ToolCallCount != 1 {
		t.Fatalf("expected 1 tool call, got %d", res.ToolCallCount)
	}

	session := sm.GetOrCreate("s2", "/tmp/ws")
	foundTool := false
	for _, m := range session.Messages {
		if m.Role == "tool" {
			foundTool = true
		}
	}
	if !foundTool {
		t.Fatal("expected a persisted tool-result message")
	}
}

func TestRunFailsOverToFallbackModel(t *testing.T) {
	p := &fakeProvider{
		errs:      []error{errors.New("rate limit exceeded"), nil},
		responses: []*providers.ChatResponse{nil, {Content: "recovered"}},
	}
	loop, _ := newLoopForTest(t, p)

	res, err := loop.Run(context.Background(), RunRequest{
		SessionID: "s3", WorkspacePath: "/tmp/ws", UserMessage: "hi",
		Model: "fake/primary", Fallbacks: []string{"fake/secondary"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "recovered" {
		t.Fatalf("expected recovered content, got %+v", res)
	}
}

func TestRunAbortsWhenContextCancelled(t *testing.T) {
	p := &fakeProvider{errs: []error{context.Canceled}}
	loop, _ := newLoopForTest(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := loop.Run(ctx, RunRequest{
		SessionID: "s4", WorkspacePath: "/tmp/ws", UserMessage: "hi", Model: "fake/fake-model",
	})
	if err == nil {
		t.Fatal("expected an error from a cancelled turn")
	}
	if res == nil || res.FinishState != StateAbort {
		t.Fatalf("expected StateAbort, got %+v", res)
	}
}

func TestAbortRegistryCancelsInFlightTurn(t *testing.T) {
	aborts := NewAbortRegistry()
	if aborts.Abort("missing") {
		t.Fatal("expected Abort to report false for an unregistered session")
	}

	_, cancel := context.WithCancel(context.Background())
	deregister := aborts.Register("s5", cancel)
	if !aborts.Abort("s5") {
		t.Fatal("expected Abort to report true for a registered session")
	}
	deregister()
	if aborts.Abort("s5") {
		t.Fatal("expected Abort to report false after deregistration")
	}
}

func TestToolCallLoopDetectionStopsRepeatedIdenticalCalls(t *testing.T) {
	repeated := providers.ChatResponse{ToolCalls: []providers.ToolCall{
		{ID: "1", Name: "echo", Arguments: map[string]interface{}{"text": "same"}},
	}}
	p := &fakeProvider{responses: []*providers.ChatResponse{&repeated, &repeated, &repeated, &repeated, &repeated}}
	loop, _ := newLoopForTest(t, p)

	_, err := loop.Run(context.Background(), RunRequest{
		SessionID: "s6", WorkspacePath: "/tmp/ws", UserMessage: "loop", Model: "fake/fake-model",
	})
	if err == nil {
		t.Fatal("expected tool-call loop detection to error out")
	}
}

func TestRunEmitsAgentStartedExactlyOnce(t *testing.T) {
	p := &fakeProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "echo", Arguments: map[string]interface{}{"text": "hi"}}}},
		{Content: "done"},
	}}
	b, rec := newRecordingBus()
	loop, _, _ := newLoopForTestWithBus(t, p, b)

	if _, err := loop.Run(context.Background(), RunRequest{
		SessionID: "s7", WorkspacePath: "/tmp/ws", UserMessage: "hi", Model: "fake/fake-model",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := rec.count(protocol.EventAgentStarted); n != 1 {
		t.Fatalf("expected exactly one agent.started event across a multi-iteration turn, got %d (kinds=%v)", n, rec.kinds())
	}
}

func TestRunOmitsToolsOnFollowUpCallAfterToolDispatch(t *testing.T) {
	p := &fakeProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "echo", Arguments: map[string]interface{}{"text": "hi"}}}},
		{Content: "done"},
	}}
	loop, _ := newLoopForTest(t, p)

	if _, err := loop.Run(context.Background(), RunRequest{
		SessionID: "s8", WorkspacePath: "/tmp/ws", UserMessage: "run echo", Model: "fake/fake-model",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(p.toolsSeen) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(p.toolsSeen))
	}
	if len(p.toolsSeen[0]) == 0 {
		t.Fatal("expected the first CALL_PROVIDER to offer tools")
	}
	if p.toolsSeen[1] != nil {
		t.Fatalf("expected the POST_TOOL_CALL follow-up to pass tools=nil, got %v", p.toolsSeen[1])
	}
}

func TestRunEmitsTurnCompleteAfterTerminalError(t *testing.T) {
	p := &fakeProvider{errs: []error{errors.New("boom: not retryable")}}
	b, rec := newRecordingBus()
	loop, _, _ := newLoopForTestWithBus(t, p, b)

	if _, err := loop.Run(context.Background(), RunRequest{
		SessionID: "s9", WorkspacePath: "/tmp/ws", UserMessage: "hi", Model: "fake/fake-model",
	}); err == nil {
		t.Fatal("expected an error")
	}

	kinds := rec.kinds()
	if len(kinds) < 2 || kinds[len(kinds)-2] != protocol.EventAgentError || kinds[len(kinds)-1] != protocol.EventAgentTurnComplete {
		t.Fatalf("expected agent.error followed by agent.turn_complete, got %v", kinds)
	}
}

func TestRunAbortEmitsCancelledTurnComplete(t *testing.T) {
	p := &fakeProvider{errs: []error{context.Canceled}}
	b, rec := newRecordingBus()
	loop, _, _ := newLoopForTestWithBus(t, p, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := loop.Run(ctx, RunRequest{
		SessionID: "s10", WorkspacePath: "/tmp/ws", UserMessage: "hi", Model: "fake/fake-model",
	}); err == nil {
		t.Fatal("expected an error from a cancelled turn")
	}

	rec.mu.Lock()
	events := append([]bus.Event{}, rec.events...)
	rec.mu.Unlock()

	found := false
	for _, e := range events {
		if e.Type == protocol.EventAgentTurnComplete {
			found = true
			if cancelled, _ := e.Data["cancelled"].(bool); !cancelled {
				t.Fatalf("expected agent.turn_complete to carry cancelled=true, got %+v", e.Data)
			}
		}
	}
	if !found {
		t.Fatal("expected an agent.turn_complete event on abort")
	}
	if rec.count(protocol.EventAgentError) != 0 {
		t.Fatal("expected abort not to also publish agent.error")
	}
}

package agent

import (
	"context"
	"sync"
)

// AbortRegistry tracks the cancel function for each in-flight turn, keyed
// by session id, so a chat.abort RPC (spec §6) can cancel a turn without
// the Gateway Server needing to hold a reference to the Loop's internal
// state.
type AbortRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewAbortRegistry constructs an empty registry.
func NewAbortRegistry() *AbortRegistry {
	return &AbortRegistry{cancels: make(map[string]context.CancelFunc)}
}

// Register associates sessionID with cancel for the duration of a turn.
// The returned function must be called when the turn ends to deregister.
func (r *AbortRegistry) Register(sessionID string, cancel context.CancelFunc) (deregister func()) {
	r.mu.Lock()
	r.cancels[sessionID] = cancel
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.cancels, sessionID)
		r.mu.Unlock()
	}
}

// Abort cancels the in-flight turn for sessionID, if any. Returns false
// if no turn is currently running for that session.
func (r *AbortRegistry) Abort(sessionID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

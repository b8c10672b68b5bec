// Package queue implements the Queue Manager (spec §4.8): two-level
// admission control over turn execution — a per-session lane (bounded
// concurrency, default 1, serializing turns against the same session)
// and a global lane (bounded concurrency plus, when WithGlobalBurstRate
// is given, a token-bucket rate limiter smoothing bursts across all
// sessions).
package queue

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Stats reports point-in-time queue occupancy for the queue.status RPC.
type Stats struct {
	Queued        int
	Active        int
	MaxConcurrent int
}

// sessionLane is a bounded-concurrency gate for a single session.
type sessionLane struct {
	sem chan struct{}
}

// Manager admits turns through both the per-session and global lanes.
// A turn only begins executing once it holds both gates; the cancellation
// token passed to Enqueue governs waiting at every stage, so a caller
// that aborts while queued never acquires either gate.
type Manager struct {
	mu               sync.Mutex
	sessionLanes     map[string]*sessionLane
	sessionCapacity  int
	globalSem        chan struct{}
	globalCapacity   int
	limiter          *rate.Limiter
	queued           int
	active           int
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithGlobalBurstRate sets the global lane's token-bucket rate limiter:
// refillPerSecond tokens per second, up to burst tokens banked. Smooths
// bursts of simultaneous turn admissions across all sessions.
func WithGlobalBurstRate(refillPerSecond float64, burst int) Option {
	return func(m *Manager) {
		m.limiter = rate.NewLimiter(rate.Limit(refillPerSecond), burst)
	}
}

// NewManager constructs a Manager with sessionCapacity concurrent turns
// permitted per session (default semantics: pass 1 to serialize a
// session's turns) and globalCapacity concurrent turns permitted overall.
func NewManager(sessionCapacity, globalCapacity int, opts ...Option) *Manager {
	if sessionCapacity < 1 {
		sessionCapacity = 1
	}
	if globalCapacity < 1 {
		globalCapacity = 5
	}
	m := &Manager{
		sessionLanes:    make(map[string]*sessionLane),
		sessionCapacity: sessionCapacity,
		globalSem:       make(chan struct{}, globalCapacity),
		globalCapacity:  globalCapacity,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// laneFor returns (creating if needed) the per-session lane for sessionID.
func (m *Manager) laneFor(sessionID string) *sessionLane {
	m.mu.Lock()
	defer m.mu.Unlock()
	lane, ok := m.sessionLanes[sessionID]
	if !ok {
		lane = &sessionLane{sem: make(chan struct{}, m.sessionCapacity)}
		m.sessionLanes[sessionID] = lane
	}
	return lane
}

// Release is returned by Enqueue to release both gates once the turn
// completes.
type Release func()

// Enqueue blocks until both the per-session and global lanes admit the
// turn, or ctx is cancelled first. On success it returns a Release the
// caller must call exactly once when the turn finishes.
func (m *Manager) Enqueue(ctx context.Context, sessionID string) (Release, error) {
	lane := m.laneFor(sessionID)

	m.mu.Lock()
	m.queued++
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			m.mu.Lock()
			m.queued--
			m.mu.Unlock()
			return nil, err
		}
	}

	select {
	case lane.sem <- struct{}{}:
	case <-ctx.Done():
		m.mu.Lock()
		m.queued--
		m.mu.Unlock()
		return nil, ctx.Err()
	}

	select {
	case m.globalSem <- struct{}{}:
	case <-ctx.Done():
		<-lane.sem
		m.mu.Lock()
		m.queued--
		m.mu.Unlock()
		return nil, ctx.Err()
	}

	m.mu.Lock()
	m.queued--
	m.active++
	m.mu.Unlock()

	return func() {
		<-m.globalSem
		<-lane.sem
		release()
	}, nil
}

// Stats returns current queue occupancy.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Queued: m.queued, Active: m.active, MaxConcurrent: m.globalCapacity}
}

// Package typing provides a keepalive-driven typing indicator controller
// shared by channel adapters whose platform API requires the indicator
// to be refreshed periodically and expires it after a short TTL.
package typing

import (
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// MaxDuration is the hard cap after which the indicator auto-stops,
	// even with no explicit Stop call, guarding against a stuck indicator
	// outliving its triggering message.
	MaxDuration time.Duration
	// KeepaliveInterval is how often StartFn is re-invoked to refresh the
	// platform's typing indicator before it expires.
	KeepaliveInterval time.Duration
	// StartFn issues one "typing" signal to the platform API.
	StartFn func() error
}

// Controller runs a keepalive loop in the background until Stop is
// called or MaxDuration elapses.
type Controller struct {
	opts Options
	done chan struct{}
	once sync.Once
}

// New constructs and starts nothing yet; call Start to begin the loop.
func New(opts Options) *Controller {
	return &Controller{opts: opts, done: make(chan struct{})}
}

// Start begins the keepalive loop in a background goroutine.
func (c *Controller) Start() {
	_ = c.opts.StartFn()
	go c.loop()
}

func (c *Controller) loop() {
	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.opts.MaxDuration)
	defer deadline.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			_ = c.opts.StartFn()
		}
	}
}

// Stop ends the keepalive loop. Safe to call more than once.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.done) })
}

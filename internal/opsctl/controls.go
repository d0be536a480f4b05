// Package opsctl is the operational kill-switch surface. The core never
// reads ambient process state; a Controls instance is injected into every
// component and consulted at the top of every command, before any mutation.
package opsctl

import (
	"sync"
	"time"
)

// Operation names a gated command family.
type Operation string

const (
	OpMint        Operation = "mint"
	OpRedeem      Operation = "redeem"
	OpBridge      Operation = "bridge"
	OpReserveRead Operation = "reserve_read"
)

// Controls holds the current kill-switch state. Zero value permits
// everything, matching a deployment with no ops overrides.
type Controls struct {
	mu           sync.RWMutex
	paused       map[Operation]bool
	slowMode     bool
	slowInterval time.Duration
}

func New() *Controls {
	return &Controls{
		paused:       make(map[Operation]bool),
		slowInterval: 250 * time.Millisecond,
	}
}

// IsPermitted is the single synchronous check commands consult before
// mutating state.
func (c *Controls) IsPermitted(op Operation) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.paused[op]
}

// Pause disables an operation family.
func (c *Controls) Pause(op Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused == nil {
		c.paused = make(map[Operation]bool)
	}
	c.paused[op] = true
}

// Resume re-enables an operation family.
func (c *Controls) Resume(op Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.paused, op)
}

// SetSlowMode toggles settlement throttling.
func (c *Controls) SetSlowMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slowMode = on
}

// SetSlowInterval adjusts the throttle interval applied in slow mode.
func (c *Controls) SetSlowInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slowInterval = d
}

// SettleDelay returns the per-step settlement delay: zero normally, the
// configured interval in slow mode.
func (c *Controls) SettleDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.slowMode {
		return 0
	}
	return c.slowInterval
}

// Snapshot reports the current switch state for the ops API.
func (c *Controls) Snapshot() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := map[string]bool{
		"slow_mode": c.slowMode,
	}
	for op, paused := range c.paused {
		out["paused:"+string(op)] = paused
	}
	return out
}

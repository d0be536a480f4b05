package opsctl_test

import (
	"testing"
	"time"

	"BloomLedger/internal/opsctl"
)

func TestControls_DefaultPermitsEverything(t *testing.T) {
	c := opsctl.New()
	for _, op := range []opsctl.Operation{opsctl.OpMint, opsctl.OpRedeem, opsctl.OpBridge, opsctl.OpReserveRead} {
		if !c.IsPermitted(op) {
			t.Errorf("%s should be permitted by default", op)
		}
	}
}

func TestControls_PauseResume(t *testing.T) {
	c := opsctl.New()

	c.Pause(opsctl.OpMint)
	if c.IsPermitted(opsctl.OpMint) {
		t.Error("mint should be paused")
	}
	// Other operations unaffected.
	if !c.IsPermitted(opsctl.OpRedeem) {
		t.Error("redeem should still be permitted")
	}

	c.Resume(opsctl.OpMint)
	if !c.IsPermitted(opsctl.OpMint) {
		t.Error("mint should be permitted after resume")
	}
}

func TestControls_ZeroValueUsable(t *testing.T) {
	var c opsctl.Controls

	if !c.IsPermitted(opsctl.OpMint) {
		t.Error("zero value should permit mint")
	}
	c.Pause(opsctl.OpMint)
	if c.IsPermitted(opsctl.OpMint) {
		t.Error("mint should be paused")
	}
	c.Resume(opsctl.OpMint)
	if !c.IsPermitted(opsctl.OpMint) {
		t.Error("mint should be permitted after resume")
	}
}

func TestControls_SlowMode(t *testing.T) {
	c := opsctl.New()

	if d := c.SettleDelay(); d != 0 {
		t.Errorf("delay = %v with slow mode off, want 0", d)
	}

	c.SetSlowInterval(100 * time.Millisecond)
	c.SetSlowMode(true)
	if d := c.SettleDelay(); d != 100*time.Millisecond {
		t.Errorf("delay = %v, want 100ms", d)
	}

	c.SetSlowMode(false)
	if d := c.SettleDelay(); d != 0 {
		t.Errorf("delay = %v after disabling slow mode, want 0", d)
	}
}

func TestControls_Snapshot(t *testing.T) {
	c := opsctl.New()
	c.Pause(opsctl.OpBridge)
	c.SetSlowMode(true)

	snap := c.Snapshot()
	if !snap["slow_mode"] {
		t.Error("snapshot should report slow mode")
	}
	if !snap["paused:bridge"] {
		t.Error("snapshot should report paused bridge")
	}
}

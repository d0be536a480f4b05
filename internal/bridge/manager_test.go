package bridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"BloomLedger/internal/bridge"
	"BloomLedger/internal/chain"
	"BloomLedger/internal/fault"
	"BloomLedger/internal/guard"
	"BloomLedger/internal/ledger"
	"BloomLedger/internal/opsctl"
	"BloomLedger/internal/reserve"
)

func fastConfig() bridge.Config {
	return bridge.Config{
		MinAmountBloom: 1,
		MaxAmountBloom: 1000,
		FeeRateBps:     30,
		RequiredConfs:  3,
		PollInterval:   time.Millisecond,
		ConfirmTimeout: 2 * time.Second,
	}
}

type harness struct {
	manager *bridge.Manager
	ledger  *ledger.SupplyLedger
	client  *chain.Simulator
	feed    *reserve.StaticFeed
}

func newHarness(t *testing.T, supplyBloom, lockedSats int64) *harness {
	t.Helper()

	feed := reserve.NewStaticFeed("test", lockedSats)
	composer := reserve.NewComposer([]reserve.Feed{feed}, time.Hour)

	l := ledger.New()
	if supplyBloom > 0 {
		if err := l.RecordMint(supplyBloom); err != nil {
			t.Fatal(err)
		}
	}

	g := guard.New(l, composer, opsctl.New())
	client := chain.NewSimulator()
	client.AutoConfirm = 6

	m := bridge.NewManager(fastConfig(), g, l, client, opsctl.New())
	t.Cleanup(m.Close)
	return &harness{manager: m, ledger: l, client: client, feed: feed}
}

// awaitTerminal polls until the transaction reaches a terminal state.
func awaitTerminal(t *testing.T, m *bridge.Manager, id string) *bridge.Transaction {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		tx, err := m.GetTransaction(id)
		if err != nil {
			t.Fatal(err)
		}
		if tx.Status.Terminal() {
			return tx
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("transaction never reached a terminal state")
	return nil
}

// ============================================================================
// Test: lock-and-mint
// ============================================================================

func TestLockAndMint_HappyPath(t *testing.T) {
	h := newHarness(t, 0, 1_000_000_000)

	tx, err := h.manager.LockAndMint(context.Background(), "req-1", 10, []byte("lock-tx"))
	if err != nil {
		t.Fatalf("lock and mint: %v", err)
	}

	done := awaitTerminal(t, h.manager, tx.ID)
	if done.Status != bridge.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", done.Status, done.Error)
	}
	if done.ChainTxHash == "" {
		t.Error("completed transaction must carry the chain tx hash")
	}
	if got := h.ledger.CurrentSupply(); got != 10 {
		t.Errorf("supply = %d, want 10", got)
	}
}

func TestLockAndMint_Idempotent(t *testing.T) {
	h := newHarness(t, 0, 1_000_000_000)

	first, err := h.manager.LockAndMint(context.Background(), "req-dup", 10, []byte("lock-tx"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.manager.LockAndMint(context.Background(), "req-dup", 10, []byte("lock-tx"))
	if err != nil {
		t.Fatal(err)
	}

	if first.ID != second.ID {
		t.Errorf("duplicate request created a second transaction: %s vs %s", first.ID, second.ID)
	}

	awaitTerminal(t, h.manager, first.ID)
	if got := h.ledger.CurrentSupply(); got != 10 {
		t.Errorf("supply = %d, want 10 (single mint)", got)
	}
	if got := h.manager.Stats().Total; got != 1 {
		t.Errorf("total transactions = %d, want 1", got)
	}
}

func TestLockAndMint_PegViolationFails(t *testing.T) {
	// Reserve backs only 5 BLOOM.
	h := newHarness(t, 0, 50_000_000)

	tx, err := h.manager.LockAndMint(context.Background(), "req-over", 10, []byte("lock-tx"))
	if err != nil {
		t.Fatal(err)
	}

	done := awaitTerminal(t, h.manager, tx.ID)
	if done.Status != bridge.StatusFailed {
		t.Fatalf("status = %s, want failed", done.Status)
	}
	if got := h.ledger.CurrentSupply(); got != 0 {
		t.Errorf("supply = %d, want 0", got)
	}
}

func TestLockAndMint_BroadcastFailure(t *testing.T) {
	h := newHarness(t, 0, 1_000_000_000)
	h.client.FailBroadcast = errors.New("mempool rejected")

	tx, err := h.manager.LockAndMint(context.Background(), "req-bc", 10, []byte("lock-tx"))
	if err != nil {
		t.Fatal(err)
	}

	done := awaitTerminal(t, h.manager, tx.ID)
	if done.Status != bridge.StatusFailed {
		t.Fatalf("status = %s, want failed", done.Status)
	}
	if got := h.ledger.CurrentSupply(); got != 0 {
		t.Errorf("supply = %d after failed bridge, want 0", got)
	}
}

// ============================================================================
// Test: burn-and-unlock
// ============================================================================

func TestBurnAndUnlock_BurnsBeforeRelease(t *testing.T) {
	h := newHarness(t, 50, 1_000_000_000)

	tx, err := h.manager.BurnAndUnlock(context.Background(), "req-burn", 10, []byte("unlock-tx"))
	if err != nil {
		t.Fatal(err)
	}

	done := awaitTerminal(t, h.manager, tx.ID)
	if done.Status != bridge.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", done.Status, done.Error)
	}
	if got := h.ledger.CurrentSupply(); got != 40 {
		t.Errorf("supply = %d, want 40", got)
	}
}

func TestBurnAndUnlock_OverBurnFails(t *testing.T) {
	h := newHarness(t, 5, 1_000_000_000)

	tx, err := h.manager.BurnAndUnlock(context.Background(), "req-over-burn", 10, []byte("unlock-tx"))
	if err != nil {
		t.Fatal(err)
	}

	done := awaitTerminal(t, h.manager, tx.ID)
	// The clamped burn surfaces a ledger integrity fault; the unlock is
	// never broadcast.
	if done.Status != bridge.StatusFailed {
		t.Fatalf("status = %s, want failed", done.Status)
	}
	if done.ChainTxHash != "" {
		t.Error("unlock must not broadcast after a failed burn")
	}
}

// ============================================================================
// Test: cross-chain transfer
// ============================================================================

func TestCrossChainTransfer_BothLegs(t *testing.T) {
	h := newHarness(t, 50, 1_000_000_000)

	tx, err := h.manager.CrossChainTransfer(context.Background(), "req-xfer", 10, []byte("xfer-tx"))
	if err != nil {
		t.Fatal(err)
	}

	done := awaitTerminal(t, h.manager, tx.ID)
	if done.Status != bridge.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", done.Status, done.Error)
	}
	// Burn leg and mint leg cancel out.
	if got := h.ledger.CurrentSupply(); got != 50 {
		t.Errorf("supply = %d, want 50", got)
	}
}

func TestCrossChainTransfer_PartialFailureKeepsLockHash(t *testing.T) {
	h := newHarness(t, 50, 1_000_000_000)

	// Reserve collapses after admission: the burn leg and chain leg
	// settle, then the mint leg hits a peg violation.
	h.feed.SetLockedSats(0)

	tx, err := h.manager.CrossChainTransfer(context.Background(), "req-partial", 10, []byte("xfer-tx"))
	if err != nil {
		t.Fatal(err)
	}

	done := awaitTerminal(t, h.manager, tx.ID)
	if done.Status != bridge.StatusFailed {
		t.Fatalf("status = %s, want failed", done.Status)
	}
	if done.Metadata["locked_tx_hash"] == "" {
		t.Error("partial failure must preserve the settled chain leg hash")
	}
	// The burn leg stands: supply reflects the stranded transfer.
	if got := h.ledger.CurrentSupply(); got != 40 {
		t.Errorf("supply = %d, want 40", got)
	}
}

// ============================================================================
// Test: admission
// ============================================================================

func TestBridge_AmountBounds(t *testing.T) {
	h := newHarness(t, 0, 1_000_000_000)

	if _, err := h.manager.LockAndMint(context.Background(), "r1", 0, nil); !errors.Is(err, fault.ErrInvalidAmount) {
		t.Errorf("amount 0: got %v, want ErrInvalidAmount", err)
	}
	if _, err := h.manager.LockAndMint(context.Background(), "r2", 1001, nil); !errors.Is(err, fault.ErrInvalidAmount) {
		t.Errorf("amount 1001: got %v, want ErrInvalidAmount", err)
	}
	if _, err := h.manager.LockAndMint(context.Background(), "", 10, nil); err == nil {
		t.Error("empty request id must be rejected")
	}
}

func TestBridge_Paused(t *testing.T) {
	feed := reserve.NewStaticFeed("test", 1_000_000_000)
	composer := reserve.NewComposer([]reserve.Feed{feed}, time.Hour)
	l := ledger.New()
	g := guard.New(l, composer, opsctl.New())
	controls := opsctl.New()
	m := bridge.NewManager(fastConfig(), g, l, chain.NewSimulator(), controls)
	defer m.Close()

	controls.Pause(opsctl.OpBridge)
	if _, err := m.LockAndMint(context.Background(), "r", 10, nil); !errors.Is(err, fault.ErrOperationPaused) {
		t.Errorf("got %v, want ErrOperationPaused", err)
	}
}

// ============================================================================
// Test: fees, stats, subscriptions
// ============================================================================

func TestEstimateBridgeFees(t *testing.T) {
	h := newHarness(t, 0, 1_000_000_000)
	h.client.NetworkFeeSats = 1500

	est, err := h.manager.EstimateBridgeFees(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	// 10 BLOOM = 100,000,000 sats; 30 bps = 300,000 sats.
	if est.AmountSats != 100_000_000 {
		t.Errorf("amount = %d sats, want 100000000", est.AmountSats)
	}
	if est.BridgeFeeSats != 300_000 {
		t.Errorf("bridge fee = %d, want 300000", est.BridgeFeeSats)
	}
	if est.TotalFeeSats != 301_500 {
		t.Errorf("total fee = %d, want 301500", est.TotalFeeSats)
	}

	// Pure: a second estimate is identical.
	again, err := h.manager.EstimateBridgeFees(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if again != est {
		t.Errorf("estimate not stable: %+v vs %+v", again, est)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t, 0, 1_000_000_000)

	tx, err := h.manager.LockAndMint(context.Background(), "req-stats", 10, []byte("lock-tx"))
	if err != nil {
		t.Fatal(err)
	}
	awaitTerminal(t, h.manager, tx.ID)

	s := h.manager.Stats()
	if s.Total != 1 {
		t.Errorf("total = %d, want 1", s.Total)
	}
	if s.ByStatus[bridge.StatusCompleted] != 1 {
		t.Errorf("completed = %d, want 1", s.ByStatus[bridge.StatusCompleted])
	}
	if s.VolumeBloom != 10 {
		t.Errorf("volume = %d, want 10", s.VolumeBloom)
	}
	if s.OpenCount != 0 {
		t.Errorf("open = %d, want 0", s.OpenCount)
	}
}

func TestSubscribe_ObservesTerminalSnapshot(t *testing.T) {
	h := newHarness(t, 0, 1_000_000_000)

	tx, err := h.manager.LockAndMint(context.Background(), "req-sub", 10, []byte("lock-tx"))
	if err != nil {
		t.Fatal(err)
	}

	ch, cancel, err := h.manager.Subscribe(tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.Status == bridge.StatusCompleted {
				return
			}
		case <-deadline:
			t.Fatal("never observed completion snapshot")
		}
	}
}

func TestSubscribe_CancelDoesNotAffectSettlement(t *testing.T) {
	h := newHarness(t, 0, 1_000_000_000)

	tx, err := h.manager.LockAndMint(context.Background(), "req-cancel", 10, []byte("lock-tx"))
	if err != nil {
		t.Fatal(err)
	}

	_, cancel, err := h.manager.Subscribe(tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	done := awaitTerminal(t, h.manager, tx.ID)
	if done.Status != bridge.StatusCompleted {
		t.Errorf("status = %s, want completed despite cancelled observer", done.Status)
	}
}

func TestSubscribe_UnknownTransaction(t *testing.T) {
	h := newHarness(t, 0, 1_000_000_000)

	_, _, err := h.manager.Subscribe("missing")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

// ============================================================================
// Test: transition table
// ============================================================================

func TestBridgeStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to bridge.Status
		ok       bool
	}{
		{bridge.StatusPending, bridge.StatusBroadcasting, true},
		{bridge.StatusPending, bridge.StatusCompleted, false},
		{bridge.StatusPending, bridge.StatusExpired, true},
		{bridge.StatusBroadcasting, bridge.StatusAwaitingConfs, true},
		{bridge.StatusAwaitingConfs, bridge.StatusConfirmed, true},
		{bridge.StatusAwaitingConfs, bridge.StatusExpired, true},
		{bridge.StatusConfirmed, bridge.StatusCompleted, true},
		{bridge.StatusConfirmed, bridge.StatusExpired, false},
		{bridge.StatusCompleted, bridge.StatusFailed, false},
		{bridge.StatusExpired, bridge.StatusCompleted, false},
		{bridge.StatusFailed, bridge.StatusPending, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

// ============================================================================
// Test: chain pairs
// ============================================================================

func TestTransaction_ChainPairs(t *testing.T) {
	cases := []struct {
		typ      bridge.Type
		from, to bridge.Chain
	}{
		{bridge.TypeLockAndMint, bridge.ChainBitcoin, bridge.ChainBloom},
		{bridge.TypeBurnAndUnlock, bridge.ChainBloom, bridge.ChainBitcoin},
		{bridge.TypeCrossChain, bridge.ChainBloom, bridge.ChainBloom},
	}
	for _, c := range cases {
		from, to := c.typ.Chains()
		if from != c.from || to != c.to {
			t.Errorf("%s: got %s->%s, want %s->%s", c.typ, from, to, c.from, c.to)
		}
	}
}

func TestConfsByPair_OverrideBlocksUnderThreshold(t *testing.T) {
	feed := reserve.NewStaticFeed("test", 1_000_000_000)
	composer := reserve.NewComposer([]reserve.Feed{feed}, time.Hour)
	l := ledger.New()
	g := guard.New(l, composer, opsctl.New())

	client := chain.NewSimulator()
	client.AutoConfirm = 6

	cfg := fastConfig()
	cfg.RequiredConfs = 1
	cfg.ConfsByPair = map[string]int32{"bitcoin->bloom": 100}
	cfg.ConfirmTimeout = 50 * time.Millisecond

	m := bridge.NewManager(cfg, g, l, client, opsctl.New())
	t.Cleanup(m.Close)

	tx, err := m.LockAndMint(context.Background(), "req-pair", 10, []byte("lock-tx"))
	if err != nil {
		t.Fatal(err)
	}

	done := awaitTerminal(t, m, tx.ID)
	if done.Status != bridge.StatusExpired {
		t.Fatalf("status = %s, want expired: pair threshold 100 can never be met", done.Status)
	}
	if done.FromChain != bridge.ChainBitcoin || done.ToChain != bridge.ChainBloom {
		t.Errorf("chain pair = %s->%s, want bitcoin->bloom", done.FromChain, done.ToChain)
	}
	if got := l.CurrentSupply(); got != 0 {
		t.Errorf("supply = %d, want 0 (mint leg never ran)", got)
	}
}

// ============================================================================
// Test: confirmation window expiry
// ============================================================================

func TestConfirmWindowElapsed_ExpiresNotFails(t *testing.T) {
	feed := reserve.NewStaticFeed("test", 1_000_000_000)
	composer := reserve.NewComposer([]reserve.Feed{feed}, time.Hour)
	l := ledger.New()
	g := guard.New(l, composer, opsctl.New())

	// Transactions never confirm: AutoConfirm stays zero and nothing
	// advances them.
	client := chain.NewSimulator()

	cfg := fastConfig()
	cfg.ConfirmTimeout = 50 * time.Millisecond

	m := bridge.NewManager(cfg, g, l, client, opsctl.New())
	t.Cleanup(m.Close)

	tx, err := m.LockAndMint(context.Background(), "req-window", 10, []byte("lock-tx"))
	if err != nil {
		t.Fatal(err)
	}

	done := awaitTerminal(t, m, tx.ID)
	if done.Status != bridge.StatusExpired {
		t.Fatalf("status = %s, want expired", done.Status)
	}
	if !done.Status.Terminal() {
		t.Error("expired must be terminal")
	}
	if done.Error == "" {
		t.Error("expired transaction must carry the cause")
	}
	if got := l.CurrentSupply(); got != 0 {
		t.Errorf("supply = %d, want 0", got)
	}
}

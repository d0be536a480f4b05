// Package guard enforces the peg-collateral invariant: issuance can never
// exceed what the composed reserve reading proves.
package guard

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"BloomLedger/internal/fault"
	"BloomLedger/internal/ledger"
	"BloomLedger/internal/observability"
	"BloomLedger/internal/opsctl"
	"BloomLedger/internal/peg"
	"BloomLedger/internal/reserve"
)

// MintGuard gates every mint against the composed reserve reading. It owns
// the mint path end to end: admission check and ledger mutation happen under
// one lock so two concurrent mints cannot both pass against the same
// headroom. The reserve read itself happens before the lock is taken —
// external calls never run under the mint lock.
type MintGuard struct {
	ledger   *ledger.SupplyLedger
	composer *reserve.Composer
	controls *opsctl.Controls

	mintMu sync.Mutex

	alarmMu       sync.Mutex
	underReserved bool

	log     zerolog.Logger
	metrics *observability.Metrics
}

// Option configures a MintGuard.
type Option func(*MintGuard)

func WithLogger(log zerolog.Logger) Option {
	return func(g *MintGuard) { g.log = log }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(g *MintGuard) { g.metrics = m }
}

func New(l *ledger.SupplyLedger, c *reserve.Composer, controls *opsctl.Controls, opts ...Option) *MintGuard {
	g := &MintGuard{
		ledger:   l,
		composer: c,
		controls: controls,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanMint reports whether a mint of amount would keep the peg invariant.
// Read-only; any failure (stale feeds, paused ops) reads as "no".
func (g *MintGuard) CanMint(ctx context.Context, amount int64) bool {
	return g.AssertCanMint(ctx, amount) == nil
}

// AssertCanMint fails with a typed reason when a mint of amount is not
// admissible: ErrOperationPaused, StaleReserveReading, or PegViolation with
// full supply/reserve detail.
func (g *MintGuard) AssertCanMint(ctx context.Context, amount int64) error {
	if amount <= 0 {
		return fault.ErrInvalidAmount
	}
	if !g.controls.IsPermitted(opsctl.OpMint) {
		return fault.ErrOperationPaused
	}

	reading, err := g.composer.Read(ctx)
	if err != nil {
		// No trusted reserve figure: minting is blocked. Burns and
		// redemptions stay open — they only shrink supply.
		if g.metrics != nil {
			g.metrics.MintsRejected.WithLabelValues("stale_reserve").Inc()
		}
		return err
	}

	supply := g.ledger.CurrentSupply()
	g.observeReserve(reading.LockedSats, supply)

	required := peg.RequiredSats(supply + amount)
	if required > reading.LockedSats {
		if g.metrics != nil {
			g.metrics.MintsRejected.WithLabelValues("peg_violation").Inc()
		}
		return &fault.PegViolation{
			RequestedBloom: amount,
			CurrentSupply:  supply,
			RequiredSats:   required,
			LockedSats:     reading.LockedSats,
		}
	}
	return nil
}

// Mint admits and records a mint as one serialized step. The reserve is
// read before the lock; the admission check re-reads supply under the lock
// so concurrent mints are decided against the true outstanding figure.
func (g *MintGuard) Mint(ctx context.Context, amount int64) error {
	if amount <= 0 {
		return fault.ErrInvalidAmount
	}
	if !g.controls.IsPermitted(opsctl.OpMint) {
		return fault.ErrOperationPaused
	}

	reading, err := g.composer.Read(ctx)
	if err != nil {
		if g.metrics != nil {
			g.metrics.MintsRejected.WithLabelValues("stale_reserve").Inc()
		}
		return err
	}

	g.mintMu.Lock()
	defer g.mintMu.Unlock()

	supply := g.ledger.CurrentSupply()
	g.observeReserve(reading.LockedSats, supply)

	required := peg.RequiredSats(supply + amount)
	if required > reading.LockedSats {
		if g.metrics != nil {
			g.metrics.MintsRejected.WithLabelValues("peg_violation").Inc()
		}
		return &fault.PegViolation{
			RequestedBloom: amount,
			CurrentSupply:  supply,
			RequiredSats:   required,
			LockedSats:     reading.LockedSats,
		}
	}

	return g.ledger.RecordMint(amount)
}

// CollateralizationRatio returns locked reserve value over outstanding
// issued value, +Inf when nothing is outstanding.
func (g *MintGuard) CollateralizationRatio(ctx context.Context) (float64, error) {
	reading, err := g.composer.Read(ctx)
	if err != nil {
		return 0, err
	}
	supply := g.ledger.CurrentSupply()
	ratio := peg.CollateralizationRatio(reading.LockedSats, supply)
	if g.metrics != nil && supply > 0 {
		g.metrics.CollateralRatio.Set(ratio)
	}
	return ratio, nil
}

// IsFullyReserved reports whether the ratio is at least 1.0 exactly.
func (g *MintGuard) IsFullyReserved(ctx context.Context) (bool, error) {
	reading, err := g.composer.Read(ctx)
	if err != nil {
		return false, err
	}
	return peg.IsFullyReserved(reading.LockedSats, g.ledger.CurrentSupply()), nil
}

// MaxRedeemableBloom returns the redemption headroom under the current
// composed reading.
func (g *MintGuard) MaxRedeemableBloom(ctx context.Context) (int64, error) {
	reading, err := g.composer.Read(ctx)
	if err != nil {
		return 0, err
	}
	return peg.MaxRedeemableBloom(reading.LockedSats, g.ledger.CurrentSupply()), nil
}

// UnderReserved reports whether the alarm latch is set.
func (g *MintGuard) UnderReserved() bool {
	g.alarmMu.Lock()
	defer g.alarmMu.Unlock()
	return g.underReserved
}

// observeReserve maintains the under-reserved alarm latch. The latch blocks
// nothing by itself — an under-reserved system already fails every
// AssertCanMint — but the transition is logged and counted so operators see
// the moment the invariant broke, and the flag clears when backing recovers.
func (g *MintGuard) observeReserve(lockedSats, supply int64) {
	fully := peg.IsFullyReserved(lockedSats, supply)

	g.alarmMu.Lock()
	defer g.alarmMu.Unlock()

	if !fully && !g.underReserved {
		g.underReserved = true
		if g.metrics != nil {
			g.metrics.UnderReservedEntered.Inc()
		}
		g.log.Error().
			Int64("locked_sats", lockedSats).
			Int64("supply", supply).
			Int64("required_sats", peg.RequiredSats(supply)).
			Msg("entering under-reserved state: minting blocked until backing recovers")
	} else if fully && g.underReserved {
		g.underReserved = false
		g.log.Info().
			Int64("locked_sats", lockedSats).
			Int64("supply", supply).
			Msg("reserve recovered, leaving under-reserved state")
	}
}

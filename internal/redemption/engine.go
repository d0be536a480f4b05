package redemption

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BloomLedger/internal/events"
	"BloomLedger/internal/fault"
	"BloomLedger/internal/htlc"
	"BloomLedger/internal/ledger"
	"BloomLedger/internal/observability"
	"BloomLedger/internal/opsctl"
	"BloomLedger/internal/peg"
	"BloomLedger/internal/reserve"
)

// DefaultHTLCTimeout is the claim window granted to a redemption when the
// engine is not configured otherwise.
const DefaultHTLCTimeout = 24 * time.Hour

// Engine drives redemption intents through their lifecycle. One mutex guards
// the intent index; each intent additionally carries its own lock so slow
// adapter calls for one redemption never stall another. Burns only happen on
// the claimed path, after the HTLC claim succeeded.
type Engine struct {
	ledger   *ledger.SupplyLedger
	composer *reserve.Composer
	adapter  htlc.Adapter
	controls *opsctl.Controls

	mu      sync.RWMutex
	intents map[string]*intentSlot

	htlcTimeout time.Duration
	netParams   *chaincfg.Params
	now         func() time.Time
	log         zerolog.Logger
	sink        events.Sink
	metrics     *observability.Metrics
}

// intentSlot pairs an intent with its per-intent lock and the secret, which
// never leaves the engine.
type intentSlot struct {
	mu     sync.Mutex
	intent *Intent
	secret [32]byte
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTLCTimeout sets the claim window for new intents.
func WithHTLCTimeout(d time.Duration) Option {
	return func(e *Engine) { e.htlcTimeout = d }
}

// WithNetParams sets the Bitcoin network used for address validation.
func WithNetParams(p *chaincfg.Params) Option {
	return func(e *Engine) { e.netParams = p }
}

// WithClock overrides the engine clock (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithSink(sink events.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(l *ledger.SupplyLedger, c *reserve.Composer, a htlc.Adapter, controls *opsctl.Controls, opts ...Option) *Engine {
	e := &Engine{
		ledger:      l,
		composer:    c,
		adapter:     a,
		controls:    controls,
		intents:     make(map[string]*intentSlot),
		htlcTimeout: DefaultHTLCTimeout,
		netParams:   &chaincfg.MainNetParams,
		now:         time.Now,
		log:         zerolog.Nop(),
		sink:        events.NopSink{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RequestRedeemBloom opens a redemption: validates the recipient address,
// quotes the satoshi payout at the fixed peg, checks the amount against the
// redemption headroom, creates the HTLC, and returns the intent in
// htlc_created state. The quote is binding from here on — reserve movements
// after this point do not change what the intent pays out.
func (e *Engine) RequestRedeemBloom(ctx context.Context, recipientAddr string, amountBloom int64) (*Intent, error) {
	if amountBloom <= 0 {
		return nil, fault.ErrInvalidAmount
	}
	if !e.controls.IsPermitted(opsctl.OpRedeem) {
		return nil, fault.ErrOperationPaused
	}
	if _, err := btcutil.DecodeAddress(recipientAddr, e.netParams); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", fault.ErrInvalidAddress, recipientAddr, err)
	}

	outstanding := e.ledger.GetOutstandingBloom()
	reading, err := e.composer.Read(ctx)
	if err != nil {
		// Redemptions shrink supply, so a stale reserve does not block
		// them; the cap falls back to outstanding supply alone.
		e.log.Warn().Err(err).Msg("reserve stale during redemption request, capping by supply only")
		if amountBloom > outstanding {
			return nil, &fault.InsufficientReserve{
				RequestedBloom: amountBloom,
				MaxRedeemable:  outstanding,
				CurrentSupply:  outstanding,
			}
		}
	} else {
		maxRedeemable := peg.MaxRedeemableBloom(reading.LockedSats, outstanding)
		if amountBloom > maxRedeemable {
			return nil, &fault.InsufficientReserve{
				RequestedBloom: amountBloom,
				MaxRedeemable:  maxRedeemable,
				CurrentSupply:  outstanding,
				LockedSats:     reading.LockedSats,
			}
		}
	}

	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, fmt.Errorf("redemption: generate secret: %w", err)
	}
	secretHash := sha256.Sum256(secret[:])

	now := e.now()
	quoted := peg.BloomToSats(amountBloom)
	in := &Intent{
		ID:                  uuid.NewString(),
		RecipientBTCAddress: recipientAddr,
		AmountBloom:         amountBloom,
		QuotedSats:          quoted,
		Status:              StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	slot := &intentSlot{intent: in, secret: secret}

	e.mu.Lock()
	e.intents[in.ID] = slot
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RedemptionsOpen.Inc()
		e.metrics.RedemptionQuoteSats.Add(float64(quoted))
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	deadline := now.Add(e.htlcTimeout)
	lock, err := e.adapter.CreateLock(ctx, htlc.LockParams{
		RecipientBTCAddress: recipientAddr,
		AmountSats:          quoted,
		SecretHash:          secretHash,
		Deadline:            deadline,
	})
	if err != nil {
		fail := &fault.ExternalAdapterFailure{Adapter: "htlc", Op: "create_lock", Err: err}
		e.transitionLocked(slot, StatusFailed, func(in *Intent) {
			in.Failure = &FailureInfo{Cause: fail.Error(), FailedAt: e.now()}
		})
		return nil, fail
	}

	e.transitionLocked(slot, StatusHTLCCreated, func(in *Intent) {
		in.HTLC = &HTLCInfo{Lock: lock, SecretHash: secretHash, Deadline: deadline}
	})

	e.log.Info().
		Str("intent_id", in.ID).
		Int64("amount_bloom", amountBloom).
		Int64("quoted_sats", quoted).
		Str("htlc_txid", lock.TxID).
		Time("deadline", deadline).
		Msg("redemption opened")

	return in.clone(), nil
}

// CompleteRedemption claims the HTLC with the stored secret and burns the
// redeemed BLOOM. Exactly one of any number of concurrent completions for
// the same intent succeeds; the rest fail with InvalidTransition and no
// double burn occurs.
func (e *Engine) CompleteRedemption(ctx context.Context, id string) (*Intent, error) {
	slot, err := e.slot(id)
	if err != nil {
		return nil, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	e.expireIfDueLocked(slot)

	in := slot.intent
	if !in.Status.CanTransitionTo(StatusClaimed) {
		return nil, &fault.InvalidTransition{Kind: "redemption", ID: id, From: string(in.Status), To: string(StatusClaimed)}
	}

	claimTx, err := e.adapter.Claim(ctx, in.HTLC.Lock, slot.secret)
	if err != nil {
		// State is unchanged; the claim can be retried until the
		// deadline passes.
		return nil, &fault.ExternalAdapterFailure{Adapter: "htlc", Op: "claim", Err: err}
	}

	burnErr := e.ledger.RecordBurn(in.AmountBloom)
	e.transitionLocked(slot, StatusClaimed, func(in *Intent) {
		in.Claim = &ClaimInfo{
			ClaimTxID:      claimTx,
			RevealedSecret: hex.EncodeToString(slot.secret[:]),
			BurnedAt:       e.now(),
			BurnAmount:     in.AmountBloom,
		}
	})

	e.log.Info().
		Str("intent_id", id).
		Str("claim_txid", claimTx).
		Int64("burned_bloom", in.AmountBloom).
		Msg("redemption claimed and burned")

	// A clamped burn means the books disagreed with the intent; the claim
	// already settled on chain, so the intent is terminal either way and
	// the integrity fault is surfaced to the caller.
	if burnErr != nil {
		return in.clone(), burnErr
	}
	return in.clone(), nil
}

// RefundRedemption refunds the HTLC to the treasury after its deadline and
// marks the intent refunded. No burn occurs; the holder keeps their BLOOM.
func (e *Engine) RefundRedemption(ctx context.Context, id string) (*Intent, error) {
	slot, err := e.slot(id)
	if err != nil {
		return nil, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	e.expireIfDueLocked(slot)

	in := slot.intent
	// A refund is valid from htlc_created after the deadline, and from
	// expired (the sweep marks expiry; the refund spend may follow).
	switch in.Status {
	case StatusHTLCCreated:
		if e.now().Before(in.HTLC.Deadline) {
			return nil, &fault.InvalidTransition{Kind: "redemption", ID: id, From: string(in.Status), To: string(StatusRefunded)}
		}
	case StatusExpired:
	default:
		return nil, &fault.InvalidTransition{Kind: "redemption", ID: id, From: string(in.Status), To: string(StatusRefunded)}
	}

	refundTx, err := e.adapter.Refund(ctx, in.HTLC.Lock)
	if err != nil {
		return nil, &fault.ExternalAdapterFailure{Adapter: "htlc", Op: "refund", Err: err}
	}

	if in.Status == StatusExpired {
		// Already terminal; record the refund spend without a second
		// transition.
		in.Refund = &RefundInfo{RefundTxID: refundTx, RefundedAt: e.now()}
		in.UpdatedAt = e.now()
	} else {
		e.transitionLocked(slot, StatusRefunded, func(in *Intent) {
			in.Refund = &RefundInfo{RefundTxID: refundTx, RefundedAt: e.now()}
		})
	}

	e.log.Info().Str("intent_id", id).Str("refund_txid", refundTx).Msg("redemption refunded")
	return in.clone(), nil
}

// GetIntent returns a copy of the intent, expiring it first when its
// deadline has passed. Readers never observe a live htlc_created intent
// whose deadline is in the past.
func (e *Engine) GetIntent(id string) (*Intent, error) {
	slot, err := e.slot(id)
	if err != nil {
		return nil, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	e.expireIfDueLocked(slot)
	return slot.intent.clone(), nil
}

// ListIntents returns copies of all intents, in no particular order.
func (e *Engine) ListIntents() []*Intent {
	e.mu.RLock()
	slots := make([]*intentSlot, 0, len(e.intents))
	for _, s := range e.intents {
		slots = append(slots, s)
	}
	e.mu.RUnlock()

	out := make([]*Intent, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		e.expireIfDueLocked(s)
		out = append(out, s.intent.clone())
		s.mu.Unlock()
	}
	return out
}

// SweepExpired moves every htlc_created intent past its deadline to expired
// and returns how many were moved. Run periodically by RunSweeper; also safe
// to call directly.
func (e *Engine) SweepExpired() int {
	start := time.Now()

	e.mu.RLock()
	slots := make([]*intentSlot, 0, len(e.intents))
	for _, s := range e.intents {
		slots = append(slots, s)
	}
	e.mu.RUnlock()

	var swept int
	for _, s := range slots {
		s.mu.Lock()
		before := s.intent.Status
		e.expireIfDueLocked(s)
		if before != s.intent.Status {
			swept++
		}
		s.mu.Unlock()
	}

	if e.metrics != nil {
		e.metrics.ExpirySweepDuration.Observe(time.Since(start).Seconds())
	}
	if swept > 0 {
		e.log.Info().Int("expired", swept).Msg("expiry sweep moved intents")
	}
	return swept
}

// RunSweeper runs SweepExpired on a ticker until ctx is cancelled.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.SweepExpired()
		}
	}
}

func (e *Engine) slot(id string) (*intentSlot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	slot, ok := e.intents[id]
	if !ok {
		return nil, fault.ErrNotFound
	}
	return slot, nil
}

// expireIfDueLocked expires an htlc_created intent whose deadline has
// passed. Caller holds slot.mu. Deadlines are compared with time.Time's
// monotonic reading, so wall-clock adjustments cannot revive an intent.
func (e *Engine) expireIfDueLocked(slot *intentSlot) {
	in := slot.intent
	if in.Status != StatusHTLCCreated {
		return
	}
	if e.now().Before(in.HTLC.Deadline) {
		return
	}
	e.transitionLocked(slot, StatusExpired, nil)
	e.log.Info().Str("intent_id", in.ID).Time("deadline", in.HTLC.Deadline).Msg("redemption expired")
}

// transitionLocked applies a legal transition, stamps UpdatedAt, runs the
// payload mutation, and emits the settlement event. Caller holds slot.mu
// and has already verified legality.
func (e *Engine) transitionLocked(slot *intentSlot, to Status, mutate func(*Intent)) {
	in := slot.intent
	in.Status = to
	in.UpdatedAt = e.now()
	if mutate != nil {
		mutate(in)
	}

	if e.metrics != nil {
		e.metrics.RedemptionTransitions.WithLabelValues(string(to)).Inc()
		if to.Terminal() {
			e.metrics.RedemptionsOpen.Dec()
		}
	}
	e.sink.Emit(events.Event{
		ID:          uuid.New(),
		Kind:        events.KindRedemption,
		Ref:         in.ID,
		Status:      string(to),
		AmountBloom: in.AmountBloom,
		AmountSats:  in.QuotedSats,
		At:          in.UpdatedAt,
	})
}

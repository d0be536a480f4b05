package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BloomLedger/internal/chain"
	"BloomLedger/internal/events"
	"BloomLedger/internal/fault"
	"BloomLedger/internal/guard"
	"BloomLedger/internal/ledger"
	"BloomLedger/internal/observability"
	"BloomLedger/internal/opsctl"
	"BloomLedger/internal/peg"
)

// ErrConfirmTimeout marks a chain leg that did not reach the required
// confirmations inside the configured window. The transaction expires
// rather than fails.
var ErrConfirmTimeout = errors.New("bridge: confirmation window elapsed")

// Config bounds bridge operations. Amounts are whole BLOOM.
type Config struct {
	MinAmountBloom int64
	MaxAmountBloom int64
	FeeRateBps     int64 // protocol fee in basis points of the amount
	RequiredConfs  int32
	// ConfsByPair overrides RequiredConfs for a "from->to" chain pair.
	ConfsByPair    map[string]int32
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
}

// DefaultConfig mirrors production limits: 1 to 1000 BLOOM per operation,
// 30 bps fee, 6 confirmations.
func DefaultConfig() Config {
	return Config{
		MinAmountBloom: 1,
		MaxAmountBloom: 1000,
		FeeRateBps:     30,
		RequiredConfs:  6,
		PollInterval:   5 * time.Second,
		ConfirmTimeout: 2 * time.Hour,
	}
}

// Manager owns every bridge transaction. Each accepted operation runs on its
// own goroutine through the linear state machine; ledger steps use the same
// guard and ledger the rest of the core uses, so the peg invariant holds
// across bridge flows too.
type Manager struct {
	cfg      Config
	guard    *guard.MintGuard
	ledger   *ledger.SupplyLedger
	client   chain.Client
	controls *opsctl.Controls

	mu       sync.RWMutex
	txs      map[string]*Transaction
	requests map[string]string // RequestID -> transaction ID
	subs     map[string]map[int]chan Transaction
	subSeq   int

	// rootCtx bounds the transaction goroutines. Caller contexts only
	// gate admission: a cancelled request must not abort settlement
	// already in flight.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	wg      sync.WaitGroup
	log     zerolog.Logger
	sink    events.Sink
	metrics *observability.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithSink(s events.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

func WithMetrics(mx *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

func NewManager(cfg Config, g *guard.MintGuard, l *ledger.SupplyLedger, client chain.Client, controls *opsctl.Controls, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		guard:    g,
		ledger:   l,
		client:   client,
		controls: controls,
		txs:      make(map[string]*Transaction),
		requests: make(map[string]string),
		subs:     make(map[string]map[int]chan Transaction),
		log:      zerolog.Nop(),
		sink:     events.NopSink{},
	}
	m.rootCtx, m.rootCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LockAndMint accepts a Bitcoin lock transaction and, once it confirms,
// mints the corresponding BLOOM through the guard. requestID is the caller's
// idempotency key: a repeated call returns the original transaction without
// starting a second flow.
func (m *Manager) LockAndMint(ctx context.Context, requestID string, amountBloom int64, rawLockTx []byte) (*Transaction, error) {
	return m.start(ctx, requestID, TypeLockAndMint, amountBloom, rawLockTx, nil, m.settleMint)
}

// BurnAndUnlock burns BLOOM up front and then broadcasts the Bitcoin unlock
// transaction. The burn happens before any chain interaction: BTC is never
// released against supply that still exists.
func (m *Manager) BurnAndUnlock(ctx context.Context, requestID string, amountBloom int64, rawUnlockTx []byte) (*Transaction, error) {
	return m.start(ctx, requestID, TypeBurnAndUnlock, amountBloom, rawUnlockTx, m.preBurn, nil)
}

// CrossChainTransfer runs both legs: burn the source-side BLOOM, broadcast
// and confirm the transfer transaction, then mint on the destination side.
// When the mint leg fails after the chain leg settled, the transaction fails
// with metadata["locked_tx_hash"] preserved so the stranded leg is traceable.
func (m *Manager) CrossChainTransfer(ctx context.Context, requestID string, amountBloom int64, rawTransferTx []byte) (*Transaction, error) {
	return m.start(ctx, requestID, TypeCrossChain, amountBloom, rawTransferTx, m.preBurn, m.settleMint)
}

// ledgerStep is a hook run before broadcast (pre) or after confirmations
// (settle). A pre failure rejects the transaction before any chain call.
type ledgerStep func(ctx context.Context, tx *Transaction) error

func (m *Manager) start(ctx context.Context, requestID string, typ Type, amountBloom int64, rawTx []byte, pre, settle ledgerStep) (*Transaction, error) {
	if !m.controls.IsPermitted(opsctl.OpBridge) {
		return nil, fault.ErrOperationPaused
	}
	if amountBloom < m.cfg.MinAmountBloom || amountBloom > m.cfg.MaxAmountBloom {
		return nil, fmt.Errorf("bridge: amount %d outside [%d, %d]: %w",
			amountBloom, m.cfg.MinAmountBloom, m.cfg.MaxAmountBloom, fault.ErrInvalidAmount)
	}
	if requestID == "" {
		return nil, fmt.Errorf("bridge: request id required: %w", fault.ErrInvalidAmount)
	}

	m.mu.Lock()
	if existingID, ok := m.requests[requestID]; ok {
		existing := m.txs[existingID].clone()
		m.mu.Unlock()
		return existing, nil
	}

	from, to := typ.Chains()
	now := time.Now()
	tx := &Transaction{
		ID:          uuid.NewString(),
		RequestID:   requestID,
		Type:        typ,
		FromChain:   from,
		ToChain:     to,
		Status:      StatusPending,
		AmountBloom: amountBloom,
		AmountSats:  peg.BloomToSats(amountBloom),
		Metadata:    make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.txs[tx.ID] = tx
	m.requests[requestID] = tx.ID
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.BridgeOpen.Inc()
	}
	m.notify(tx.ID)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(m.rootCtx, tx.ID, rawTx, pre, settle)
	}()

	return m.snapshot(tx.ID), nil
}

// run drives one transaction through its state machine. Every chain call
// happens without the manager lock held; the lock covers only the snapshot
// mutation inside transition.
func (m *Manager) run(ctx context.Context, id string, rawTx []byte, pre, settle ledgerStep) {
	if delay := m.controls.SettleDelay(); delay > 0 {
		select {
		case <-ctx.Done():
			m.fail(id, ctx.Err())
			return
		case <-time.After(delay):
		}
	}

	if pre != nil {
		if err := pre(ctx, m.snapshot(id)); err != nil {
			m.fail(id, err)
			return
		}
	}
	m.transition(id, StatusBroadcasting, nil)

	hash, err := m.client.Broadcast(ctx, rawTx)
	if err != nil {
		m.fail(id, &fault.ExternalAdapterFailure{Adapter: "chain", Op: "broadcast", Err: err})
		return
	}
	m.transition(id, StatusAwaitingConfs, func(tx *Transaction) {
		tx.ChainTxHash = hash
	})

	snap := m.snapshot(id)
	if err := m.awaitConfirmations(ctx, id, hash, m.requiredConfs(snap.FromChain, snap.ToChain)); err != nil {
		if errors.Is(err, ErrConfirmTimeout) {
			m.expire(id, err)
		} else {
			m.fail(id, err)
		}
		return
	}

	m.transition(id, StatusConfirmed, func(tx *Transaction) {
		tx.Metadata["locked_tx_hash"] = hash
	})

	if settle != nil {
		if err := settle(ctx, m.snapshot(id)); err != nil {
			// The chain leg already settled; metadata keeps the hash
			// so the stranded leg is recoverable by ops.
			m.fail(id, err)
			return
		}
	}

	m.transition(id, StatusCompleted, nil)
	snap = m.snapshot(id)
	if m.metrics != nil {
		m.metrics.BridgeVolumeBloom.WithLabelValues(string(snap.Type)).Add(float64(snap.AmountBloom))
	}
	m.log.Info().
		Str("tx_id", id).
		Str("type", string(snap.Type)).
		Int64("amount_bloom", snap.AmountBloom).
		Str("chain_tx", snap.ChainTxHash).
		Msg("bridge transaction completed")
}

// requiredConfs resolves the confirmation threshold for a chain pair.
func (m *Manager) requiredConfs(from, to Chain) int32 {
	if c, ok := m.cfg.ConfsByPair[string(from)+"->"+string(to)]; ok {
		return c
	}
	return m.cfg.RequiredConfs
}

func (m *Manager) awaitConfirmations(ctx context.Context, id, hash string, required int32) error {
	deadline := time.Now().Add(m.cfg.ConfirmTimeout)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		confs, err := m.client.GetConfirmations(ctx, hash)
		if err != nil {
			return &fault.ExternalAdapterFailure{Adapter: "chain", Op: "get_confirmations", Err: err}
		}
		m.transition(id, StatusAwaitingConfs, func(tx *Transaction) {
			tx.Confirmations = confs
		})
		if confs >= required {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s unconfirmed after %s", ErrConfirmTimeout, hash, m.cfg.ConfirmTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) preBurn(ctx context.Context, tx *Transaction) error {
	return m.ledger.RecordBurn(tx.AmountBloom)
}

func (m *Manager) settleMint(ctx context.Context, tx *Transaction) error {
	return m.guard.Mint(ctx, tx.AmountBloom)
}

// GetTransaction returns a snapshot of one transaction.
func (m *Manager) GetTransaction(id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, fault.ErrNotFound
	}
	return tx.clone(), nil
}

// GetAllTransactions returns snapshots of every transaction.
func (m *Manager) GetAllTransactions() []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		out = append(out, tx.clone())
	}
	return out
}

// Stats summarizes bridge activity.
func (m *Manager) Stats() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Statistics{
		ByStatus: make(map[Status]int),
		ByType:   make(map[Type]int),
	}
	for _, tx := range m.txs {
		s.Total++
		s.ByStatus[tx.Status]++
		s.ByType[tx.Type]++
		if tx.Status == StatusCompleted {
			s.VolumeBloom += tx.AmountBloom
		}
		if !tx.Status.Terminal() {
			s.OpenCount++
		}
	}
	return s
}

// EstimateBridgeFees quotes the cost of bridging amountBloom: the protocol
// fee in basis points plus the current network fee estimate. Pure given a
// fixed network fee; no state is touched.
func (m *Manager) EstimateBridgeFees(ctx context.Context, amountBloom int64) (FeeEstimate, error) {
	if amountBloom <= 0 {
		return FeeEstimate{}, fault.ErrInvalidAmount
	}
	networkFee, err := m.client.EstimateFee(ctx)
	if err != nil {
		return FeeEstimate{}, &fault.ExternalAdapterFailure{Adapter: "chain", Op: "estimate_fee", Err: err}
	}

	amountSats := peg.BloomToSats(amountBloom)
	bridgeFee := amountSats * m.cfg.FeeRateBps / 10_000
	return FeeEstimate{
		AmountBloom:    amountBloom,
		AmountSats:     amountSats,
		BridgeFeeSats:  bridgeFee,
		NetworkFeeSats: networkFee,
		TotalFeeSats:   bridgeFee + networkFee,
	}, nil
}

// Subscribe returns a channel of status snapshots for one transaction and a
// cancel function. Sends never block: a slow subscriber misses intermediate
// snapshots, not settlement. The channel is closed on cancel.
func (m *Manager) Subscribe(id string) (<-chan Transaction, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.txs[id]; !ok {
		return nil, nil, fault.ErrNotFound
	}

	m.subSeq++
	key := m.subSeq
	ch := make(chan Transaction, 16)
	if m.subs[id] == nil {
		m.subs[id] = make(map[int]chan Transaction)
	}
	m.subs[id][key] = ch

	// Seed with the current snapshot so a late subscriber still observes
	// the transaction's state.
	ch <- *m.txs[id].clone()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id][key]; ok {
			delete(m.subs[id], key)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// Wait blocks until every transaction goroutine has finished. Shutdown use.
func (m *Manager) Wait() { m.wg.Wait() }

// Close cancels in-flight transaction goroutines and waits for them.
func (m *Manager) Close() {
	m.rootCancel()
	m.wg.Wait()
}

func (m *Manager) snapshot(id string) *Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.txs[id].clone()
}

// expire marks a transaction whose confirmation window elapsed. For
// burn-first types the burned BLOOM is recoverable by ops through the
// recorded chain tx hash.
func (m *Manager) expire(id string, cause error) {
	m.transition(id, StatusExpired, func(tx *Transaction) {
		tx.Error = cause.Error()
	})
	snap := m.snapshot(id)
	m.log.Warn().
		Str("tx_id", id).
		Str("type", string(snap.Type)).
		Str("chain_tx", snap.ChainTxHash).
		Msg("bridge transaction expired before confirmation")
}

func (m *Manager) fail(id string, cause error) {
	m.transition(id, StatusFailed, func(tx *Transaction) {
		tx.Error = cause.Error()
	})
	snap := m.snapshot(id)
	m.log.Error().
		Str("tx_id", id).
		Str("type", string(snap.Type)).
		Str("status_error", snap.Error).
		Msg("bridge transaction failed")
}

// transition mutates the live transaction under the lock, emits the event
// and notifies subscribers. Same-status transitions (confirmation updates)
// refresh the snapshot without an event.
func (m *Manager) transition(id string, to Status, mutate func(*Transaction)) {
	m.mu.Lock()
	tx, ok := m.txs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	changed := tx.Status != to
	if changed && !tx.Status.CanTransitionTo(to) {
		m.mu.Unlock()
		return
	}
	tx.Status = to
	tx.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(tx)
	}
	snap := *tx.clone()
	m.mu.Unlock()

	if changed {
		if m.metrics != nil {
			m.metrics.BridgeTransitions.WithLabelValues(string(snap.Type), string(to)).Inc()
			if to.Terminal() {
				m.metrics.BridgeOpen.Dec()
			}
		}
		m.sink.Emit(events.Event{
			ID:          uuid.New(),
			Kind:        events.KindBridge,
			Ref:         snap.ID,
			Status:      string(to),
			AmountBloom: snap.AmountBloom,
			AmountSats:  snap.AmountSats,
			Detail:      map[string]string{"type": string(snap.Type)},
			At:          snap.UpdatedAt,
		})
	}
	m.notify(id)
}

// notify pushes the current snapshot to subscribers without blocking. The
// read lock is held across the sends so a concurrent cancel (which needs the
// write lock to close its channel) cannot close a channel mid-send.
func (m *Manager) notify(id string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txs[id]
	if !ok {
		return
	}
	snap := *tx.clone()
	for _, ch := range m.subs[id] {
		select {
		case ch <- snap:
		default:
			if m.metrics != nil {
				m.metrics.SubscriberDrops.Inc()
			}
		}
	}
}

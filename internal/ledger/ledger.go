package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"BloomLedger/internal/events"
	"BloomLedger/internal/fault"
	"BloomLedger/internal/observability"
)

// Entry is a single mint or burn event in the supply ledger.
type Entry struct {
	ID        uuid.UUID
	Amount    int64 // whole BLOOM, always positive; clamped burns record the applied amount
	Requested int64 // original requested amount (differs from Amount only on clamped burns)
	Timestamp time.Time
}

// SupplyLedger is the append-only record of mint and burn events. It is the
// single writer of outstanding supply; all mutations are serialized by one
// mutex per the concurrency discipline in the core design.
type SupplyLedger struct {
	mu          sync.Mutex
	mints       []Entry
	burns       []Entry
	supply      int64
	totalMinted int64
	totalBurned int64

	now     func() time.Time
	sink    events.Sink
	metrics *observability.Metrics
}

// Option configures a SupplyLedger.
type Option func(*SupplyLedger)

// WithClock overrides the ledger clock (tests).
func WithClock(now func() time.Time) Option {
	return func(l *SupplyLedger) { l.now = now }
}

// WithSink attaches a settlement event sink.
func WithSink(sink events.Sink) Option {
	return func(l *SupplyLedger) { l.sink = sink }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *SupplyLedger) { l.metrics = m }
}

func New(opts ...Option) *SupplyLedger {
	l := &SupplyLedger{
		now:  time.Now,
		sink: events.NopSink{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordMint appends a mint event and raises outstanding supply.
// The caller (MintGuard) is responsible for peg admission; the ledger only
// rejects non-positive amounts.
func (l *SupplyLedger) RecordMint(amount int64) error {
	if amount <= 0 {
		return fault.ErrInvalidAmount
	}

	l.mu.Lock()
	e := Entry{ID: uuid.New(), Amount: amount, Requested: amount, Timestamp: l.now()}
	l.mints = append(l.mints, e)
	l.supply += amount
	l.totalMinted += amount
	supply := l.supply
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.MintsApplied.Inc()
		l.metrics.MintedBloom.Add(float64(amount))
		l.metrics.CurrentSupply.Set(float64(supply))
	}
	l.sink.Emit(events.Event{
		ID: e.ID, Kind: events.KindMint, Ref: e.ID.String(),
		Status: "applied", AmountBloom: amount, At: e.Timestamp,
	})
	return nil
}

// RecordBurn appends a burn event and lowers outstanding supply. A burn
// exceeding the outstanding supply is clamped to zero and surfaced as a
// LedgerIntegrity fault — supply is never negative, and the caller is told
// the books no longer reconcile. The clamped event is still recorded so the
// histories explain the anomaly.
func (l *SupplyLedger) RecordBurn(amount int64) error {
	if amount <= 0 {
		return fault.ErrInvalidAmount
	}

	l.mu.Lock()
	var integrityErr error
	applied := amount
	if amount > l.supply {
		integrityErr = &fault.LedgerIntegrity{Op: "burn", Requested: amount, Supply: l.supply}
		applied = l.supply
	}
	e := Entry{ID: uuid.New(), Amount: applied, Requested: amount, Timestamp: l.now()}
	l.burns = append(l.burns, e)
	l.supply -= applied
	l.totalBurned += applied
	supply := l.supply
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.BurnsApplied.Inc()
		l.metrics.BurnedBloom.Add(float64(applied))
		l.metrics.CurrentSupply.Set(float64(supply))
		if integrityErr != nil {
			l.metrics.IntegrityErrs.Inc()
		}
	}
	status := "applied"
	if integrityErr != nil {
		status = "clamped"
	}
	l.sink.Emit(events.Event{
		ID: e.ID, Kind: events.KindBurn, Ref: e.ID.String(),
		Status: status, AmountBloom: applied, At: e.Timestamp,
	})
	return integrityErr
}

// CurrentSupply returns the outstanding BLOOM supply.
func (l *SupplyLedger) CurrentSupply() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply
}

// GetOutstandingBloom implements the SupplyFeed read for external callers.
func (l *SupplyLedger) GetOutstandingBloom() int64 {
	return l.CurrentSupply()
}

// TotalMinted returns cumulative minted BLOOM.
func (l *SupplyLedger) TotalMinted() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalMinted
}

// TotalBurned returns cumulative burned BLOOM.
func (l *SupplyLedger) TotalBurned() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalBurned
}

// MintHistory returns mint events in insertion order.
func (l *SupplyLedger) MintHistory() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.mints))
	copy(out, l.mints)
	return out
}

// BurnHistory returns burn events in insertion order.
func (l *SupplyLedger) BurnHistory() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.burns))
	copy(out, l.burns)
	return out
}

// Reset clears the ledger. Test and administrative use only.
func (l *SupplyLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mints = nil
	l.burns = nil
	l.supply = 0
	l.totalMinted = 0
	l.totalBurned = 0
	if l.metrics != nil {
		l.metrics.CurrentSupply.Set(0)
	}
}

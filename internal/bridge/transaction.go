// Package bridge moves value between the Bitcoin chain and the BLOOM ledger:
// lock-and-mint inbound, burn-and-unlock outbound, and two-leg cross-chain
// transfers. Every transaction is a state machine driven by its own
// goroutine; observers subscribe to snapshots and can detach at any time
// without affecting settlement.
package bridge

import "time"

// Type classifies a bridge transaction.
type Type string

const (
	TypeLockAndMint   Type = "lock_and_mint"
	TypeBurnAndUnlock Type = "burn_and_unlock"
	TypeCrossChain    Type = "cross_chain_transfer"
)

// Chain names a side of a bridge operation.
type Chain string

const (
	ChainBitcoin Chain = "bitcoin"
	ChainBloom   Chain = "bloom"
)

// Chains returns the source and destination chain for a transaction type.
// Cross-chain transfers move BLOOM between two BLOOM networks.
func (t Type) Chains() (from, to Chain) {
	switch t {
	case TypeLockAndMint:
		return ChainBitcoin, ChainBloom
	case TypeBurnAndUnlock:
		return ChainBloom, ChainBitcoin
	default:
		return ChainBloom, ChainBloom
	}
}

// Status is the lifecycle state of a bridge transaction. Broadcasting and
// awaiting_confirmations refine the pre-confirmation window; once the chain
// leg has the required confirmations the transaction is confirmed and only
// the ledger leg remains.
type Status string

const (
	StatusPending       Status = "pending"
	StatusBroadcasting  Status = "broadcasting"
	StatusAwaitingConfs Status = "awaiting_confirmations"
	StatusConfirmed     Status = "confirmed"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"

	// StatusExpired means the confirmation window elapsed before the
	// chain leg confirmed. Terminal, but distinct from failed: the caller
	// may retry with a new request and a fresh quote.
	StatusExpired Status = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// CanTransitionTo reports whether the transition s -> next is legal.
// Expiry is only reachable before confirmation; a confirmed chain leg
// either settles or fails.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusBroadcasting || next == StatusFailed || next == StatusExpired
	case StatusBroadcasting:
		return next == StatusAwaitingConfs || next == StatusFailed || next == StatusExpired
	case StatusAwaitingConfs:
		return next == StatusConfirmed || next == StatusFailed || next == StatusExpired
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Transaction is one bridge operation. Instances handed to callers are
// snapshots; the manager owns the live copy.
type Transaction struct {
	ID          string
	RequestID   string // caller-supplied idempotency key
	Type        Type
	FromChain   Chain
	ToChain     Chain
	Status      Status
	AmountBloom int64
	AmountSats  int64

	ChainTxHash   string
	Confirmations int32

	// Error holds the cause when Status is failed or expired.
	Error string

	// Metadata carries leg-level detail, e.g. locked_tx_hash on a
	// cross-chain transfer whose mint leg failed after the lock settled.
	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *Transaction) clone() *Transaction {
	out := *t
	if t.Metadata != nil {
		out.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// FeeEstimate breaks down the cost of a bridge operation.
type FeeEstimate struct {
	AmountBloom    int64
	AmountSats     int64
	BridgeFeeSats  int64 // protocol fee, basis points of the amount
	NetworkFeeSats int64
	TotalFeeSats   int64
}

// Statistics summarizes bridge activity.
type Statistics struct {
	Total       int
	ByStatus    map[Status]int
	ByType      map[Type]int
	VolumeBloom int64 // completed volume only
	OpenCount   int
}

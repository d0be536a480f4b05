// Package redemption runs the BLOOM-to-BTC exit flow: quote, HTLC lock,
// claim-and-burn, with refund and expiry paths. Each intent is a small state
// machine; all transitions go through transition() so the legality table is
// enforced in exactly one place.
package redemption

import (
	"time"

	"BloomLedger/internal/htlc"
)

// Status is the lifecycle state of a redemption intent.
type Status string

const (
	StatusPending     Status = "pending"
	StatusHTLCCreated Status = "htlc_created"
	StatusClaimed     Status = "claimed"
	StatusRefunded    Status = "refunded"
	StatusExpired     Status = "expired"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusClaimed, StatusRefunded, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s -> next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusHTLCCreated || next == StatusFailed
	case StatusHTLCCreated:
		return next == StatusClaimed || next == StatusRefunded ||
			next == StatusExpired || next == StatusFailed
	}
	return false
}

// HTLCInfo is attached when the on-chain lock exists.
type HTLCInfo struct {
	Lock       htlc.Lock
	SecretHash [32]byte
	Deadline   time.Time
}

// ClaimInfo is attached on successful claim-and-burn. RevealedSecret is the
// hex preimage; claiming publishes it on chain, so it is no longer secret.
type ClaimInfo struct {
	ClaimTxID      string
	RevealedSecret string
	BurnedAt       time.Time
	BurnAmount     int64
}

// RefundInfo is attached when the HTLC was refunded to the treasury.
type RefundInfo struct {
	RefundTxID string
	RefundedAt time.Time
}

// FailureInfo is attached on failure; Cause is the adapter or policy error
// string.
type FailureInfo struct {
	Cause    string
	FailedAt time.Time
}

// Intent is one redemption request. Exactly the payload pointers for the
// states the intent has passed through are non-nil; Status alone decides
// which ones a reader may trust.
type Intent struct {
	ID                  string
	RecipientBTCAddress string
	AmountBloom         int64
	QuotedSats          int64
	Status              Status
	CreatedAt           time.Time
	UpdatedAt           time.Time

	HTLC    *HTLCInfo
	Claim   *ClaimInfo
	Refund  *RefundInfo
	Failure *FailureInfo
}

// clone returns a deep-enough copy for handing to callers; payload structs
// are value-copied so the engine's copy cannot be mutated from outside.
func (in *Intent) clone() *Intent {
	out := *in
	if in.HTLC != nil {
		v := *in.HTLC
		out.HTLC = &v
	}
	if in.Claim != nil {
		v := *in.Claim
		out.Claim = &v
	}
	if in.Refund != nil {
		v := *in.Refund
		out.Refund = &v
	}
	if in.Failure != nil {
		v := *in.Failure
		out.Failure = &v
	}
	return &out
}

// Package htlc abstracts the Bitcoin-side hash time-locked contract used to
// pay out redemptions. The engine talks to the Adapter interface only; the
// real wallet integration and the deterministic simulator both satisfy it.
package htlc

import (
	"context"
	"time"
)

// LockParams describes the HTLC to create for one redemption.
type LockParams struct {
	RecipientBTCAddress string
	AmountSats          int64
	SecretHash          [32]byte
	Deadline            time.Time
}

// Lock identifies a created HTLC on chain.
type Lock struct {
	TxID            string
	Vout            uint32
	RedeemScriptHex string
}

// Adapter is the external HTLC surface. All methods are synchronous and may
// be slow; callers must not hold state-machine locks across them.
type Adapter interface {
	// CreateLock funds an HTLC paying AmountSats to the recipient,
	// claimable with the secret preimage before Deadline, refundable after.
	CreateLock(ctx context.Context, params LockParams) (Lock, error)

	// Claim spends the HTLC with the secret preimage and returns the
	// claim transaction id.
	Claim(ctx context.Context, lock Lock, secret [32]byte) (string, error)

	// Refund spends the HTLC back to the treasury after the deadline and
	// returns the refund transaction id.
	Refund(ctx context.Context, lock Lock) (string, error)
}

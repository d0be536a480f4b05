// Package chain abstracts the Bitcoin RPC surface the bridge needs:
// broadcasting raw transactions, watching confirmations, and fee estimation.
package chain

import "context"

// Client is the external chain surface. Implementations may be slow;
// callers must not hold state-machine locks across calls.
type Client interface {
	// Broadcast submits a raw transaction and returns its hash.
	Broadcast(ctx context.Context, rawTx []byte) (string, error)

	// GetConfirmations returns the confirmation count for a transaction,
	// zero when unconfirmed.
	GetConfirmations(ctx context.Context, txHash string) (int32, error)

	// EstimateFee returns the current network fee estimate in satoshis
	// for a standard-size transaction.
	EstimateFee(ctx context.Context) (int64, error)
}

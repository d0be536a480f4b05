package reserve

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// LockedUTXO is one collateral output together with the inclusion proof that
// makes it count. Proofs are verified on registration and re-verified on
// every read, so a header reorg drops the output from the composed figure
// instead of silently inflating it.
type LockedUTXO struct {
	TxID      []byte
	Vout      uint32
	ValueSats int64
	BlockHash []byte
	Proof     MerkleProof
}

func (u LockedUTXO) key() string {
	return fmt.Sprintf("%s:%d", hex.EncodeToString(u.TxID), u.Vout)
}

// SPVFeed derives a locked-collateral reading from merkle-proven UTXOs
// against a local header store. The reading's AsOf is the chain tip's
// timestamp: a feed whose headers stop advancing goes stale and the
// composer falls back.
type SPVFeed struct {
	mu      sync.RWMutex
	source  string
	headers *HeaderStore
	utxos   map[string]LockedUTXO
}

func NewSPVFeed(source string, headers *HeaderStore) *SPVFeed {
	return &SPVFeed{
		source:  source,
		headers: headers,
		utxos:   make(map[string]LockedUTXO),
	}
}

func (f *SPVFeed) Source() string { return f.source }

// AddHeader appends a block header to the local chain view.
func (f *SPVFeed) AddHeader(header *BlockHeader) error {
	return f.headers.PutHeader(header)
}

// AddLockedUTXO registers a collateral output. The merkle proof is verified
// against the stored header before the output is accepted.
func (f *SPVFeed) AddLockedUTXO(u LockedUTXO) error {
	if u.ValueSats <= 0 {
		return fmt.Errorf("reserve: utxo value must be positive, got %d", u.ValueSats)
	}
	header, err := f.headers.GetHeader(u.BlockHash)
	if err != nil {
		return err
	}
	if err := VerifyProof(u.Proof, header.MerkleRoot); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.utxos[u.key()] = u
	return nil
}

// RemoveUTXO drops a spent collateral output.
func (f *SPVFeed) RemoveUTXO(txID []byte, vout uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.utxos, LockedUTXO{TxID: txID, Vout: vout}.key())
}

// LockedSats sums every registered output whose proof still verifies.
// Outputs whose header disappeared or whose proof fails are skipped, never
// counted — the weakest source can lower the figure, never raise it.
func (f *SPVFeed) LockedSats(ctx context.Context) (Reading, error) {
	tip, err := f.headers.Tip()
	if err != nil {
		return Reading{}, fmt.Errorf("reserve: spv feed has no headers: %w", err)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var total int64
	for _, u := range f.utxos {
		if ctx.Err() != nil {
			return Reading{}, ctx.Err()
		}
		header, err := f.headers.GetHeader(u.BlockHash)
		if err != nil {
			continue
		}
		if VerifyProof(u.Proof, header.MerkleRoot) != nil {
			continue
		}
		total += u.ValueSats
	}

	return Reading{
		LockedSats: total,
		Source:     f.source,
		AsOf:       time.Unix(tip.Timestamp, 0),
	}, nil
}

package reserve_test

import (
	"context"
	"crypto/sha256"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BloomLedger/internal/reserve"
)

func fakeTxID(seed byte) []byte {
	h := sha256.Sum256([]byte{seed})
	return h[:]
}

func openTestStore(t *testing.T) *reserve.HeaderStore {
	t.Helper()
	store, err := reserve.OpenHeaderStore(filepath.Join(t.TempDir(), "headers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func blockWith(t *testing.T, height uint32, txIDs [][]byte) *reserve.BlockHeader {
	t.Helper()
	return &reserve.BlockHeader{
		Hash:       fakeTxID(byte(height + 100)),
		MerkleRoot: reserve.BuildTree(txIDs),
		Timestamp:  time.Now().Unix(),
		Height:     height,
	}
}

// ============================================================================
// HeaderStore
// ============================================================================

func TestHeaderStore_PutGet(t *testing.T) {
	store := openTestStore(t)

	header := blockWith(t, 1, [][]byte{fakeTxID(1)})
	require.NoError(t, store.PutHeader(header))

	got, err := store.GetHeader(header.Hash)
	require.NoError(t, err)
	assert.Equal(t, header.MerkleRoot, got.MerkleRoot)
	assert.Equal(t, header.Height, got.Height)
}

func TestHeaderStore_GetMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetHeader(fakeTxID(9))
	assert.ErrorIs(t, err, reserve.ErrHeaderNotFound)
}

func TestHeaderStore_TipIsHighest(t *testing.T) {
	store := openTestStore(t)

	for h := uint32(1); h <= 5; h++ {
		require.NoError(t, store.PutHeader(blockWith(t, h, [][]byte{fakeTxID(byte(h))})))
	}

	tip, err := store.Tip()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), tip.Height)
}

func TestHeaderStore_TipEmpty(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Tip()
	assert.ErrorIs(t, err, reserve.ErrHeaderNotFound)
}

// ============================================================================
// Merkle proofs
// ============================================================================

func TestVerifyProof_Valid(t *testing.T) {
	txIDs := [][]byte{fakeTxID(1), fakeTxID(2), fakeTxID(3), fakeTxID(4)}
	root := reserve.BuildTree(txIDs)

	for idx := uint32(0); idx < 4; idx++ {
		proof := reserve.MerkleProof{
			TxID:  txIDs[idx],
			Index: idx,
			Nodes: reserve.BranchFor(txIDs, idx),
		}
		assert.NoError(t, reserve.VerifyProof(proof, root), "index %d", idx)
	}
}

func TestVerifyProof_OddLeafCount(t *testing.T) {
	// Bitcoin duplicates the last element on odd levels.
	txIDs := [][]byte{fakeTxID(1), fakeTxID(2), fakeTxID(3)}
	root := reserve.BuildTree(txIDs)

	proof := reserve.MerkleProof{
		TxID:  txIDs[2],
		Index: 2,
		Nodes: reserve.BranchFor(txIDs, 2),
	}
	assert.NoError(t, reserve.VerifyProof(proof, root))
}

func TestVerifyProof_WrongRoot(t *testing.T) {
	txIDs := [][]byte{fakeTxID(1), fakeTxID(2)}
	proof := reserve.MerkleProof{
		TxID:  txIDs[0],
		Index: 0,
		Nodes: reserve.BranchFor(txIDs, 0),
	}
	err := reserve.VerifyProof(proof, fakeTxID(99))
	assert.ErrorIs(t, err, reserve.ErrProofInvalid)
}

func TestVerifyProof_MalformedNodes(t *testing.T) {
	proof := reserve.MerkleProof{
		TxID:  fakeTxID(1),
		Index: 0,
		Nodes: [][]byte{{0x01, 0x02}},
	}
	err := reserve.VerifyProof(proof, fakeTxID(2))
	assert.ErrorIs(t, err, reserve.ErrBadProofShape)
}

// ============================================================================
// SPVFeed
// ============================================================================

func TestSPVFeed_SumsProvenUTXOs(t *testing.T) {
	store := openTestStore(t)
	feed := reserve.NewSPVFeed("spv", store)

	txIDs := [][]byte{fakeTxID(1), fakeTxID(2)}
	header := blockWith(t, 1, txIDs)
	require.NoError(t, feed.AddHeader(header))

	for idx, txID := range txIDs {
		require.NoError(t, feed.AddLockedUTXO(reserve.LockedUTXO{
			TxID:      txID,
			Vout:      0,
			ValueSats: 10_000_000,
			BlockHash: header.Hash,
			Proof: reserve.MerkleProof{
				TxID:  txID,
				Index: uint32(idx),
				Nodes: reserve.BranchFor(txIDs, uint32(idx)),
			},
		}))
	}

	reading, err := feed.LockedSats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20_000_000), reading.LockedSats)
	assert.Equal(t, "spv", reading.Source)
}

func TestSPVFeed_RejectsBadProofOnAdd(t *testing.T) {
	store := openTestStore(t)
	feed := reserve.NewSPVFeed("spv", store)

	txIDs := [][]byte{fakeTxID(1), fakeTxID(2)}
	header := blockWith(t, 1, txIDs)
	require.NoError(t, feed.AddHeader(header))

	err := feed.AddLockedUTXO(reserve.LockedUTXO{
		TxID:      fakeTxID(7), // not in the block
		Vout:      0,
		ValueSats: 5_000_000,
		BlockHash: header.Hash,
		Proof: reserve.MerkleProof{
			TxID:  fakeTxID(7),
			Index: 0,
			Nodes: reserve.BranchFor(txIDs, 0),
		},
	})
	assert.ErrorIs(t, err, reserve.ErrProofInvalid)
}

func TestSPVFeed_RemoveUTXOLowersReading(t *testing.T) {
	store := openTestStore(t)
	feed := reserve.NewSPVFeed("spv", store)

	txIDs := [][]byte{fakeTxID(1), fakeTxID(2)}
	header := blockWith(t, 1, txIDs)
	require.NoError(t, feed.AddHeader(header))

	require.NoError(t, feed.AddLockedUTXO(reserve.LockedUTXO{
		TxID:      txIDs[0],
		Vout:      0,
		ValueSats: 30_000_000,
		BlockHash: header.Hash,
		Proof: reserve.MerkleProof{
			TxID:  txIDs[0],
			Index: 0,
			Nodes: reserve.BranchFor(txIDs, 0),
		},
	}))

	feed.RemoveUTXO(txIDs[0], 0)

	reading, err := feed.LockedSats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), reading.LockedSats)
}

func TestSPVFeed_NoHeaders(t *testing.T) {
	store := openTestStore(t)
	feed := reserve.NewSPVFeed("spv", store)

	_, err := feed.LockedSats(context.Background())
	assert.Error(t, err)
}

package reserve

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
)

var (
	// ErrProofInvalid indicates the computed merkle root does not match the
	// header's root.
	ErrProofInvalid = errors.New("reserve: merkle proof invalid")

	// ErrHeaderNotFound indicates the referenced block header is not in the
	// local store.
	ErrHeaderNotFound = errors.New("reserve: header not found")

	// ErrBadProofShape indicates a proof with malformed hashes.
	ErrBadProofShape = errors.New("reserve: malformed merkle proof")
)

const hashSize = 32

// MerkleProof proves a transaction's inclusion in a block, bottom-up.
type MerkleProof struct {
	TxID  []byte
	Index uint32
	Nodes [][]byte
}

// doubleHash is SHA256(SHA256(data)), Bitcoin's hash function.
func doubleHash(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

// merkleRoot recomputes the root from a txid, its index in the block and the
// branch nodes. Bit i of the index decides which side the running hash
// concatenates on at level i.
func merkleRoot(txID []byte, index uint32, nodes [][]byte) ([]byte, error) {
	if len(txID) != hashSize {
		return nil, fmt.Errorf("%w: txid must be %d bytes", ErrBadProofShape, hashSize)
	}

	hash := make([]byte, hashSize)
	copy(hash, txID)

	combined := make([]byte, 2*hashSize)
	for i, node := range nodes {
		if len(node) != hashSize {
			return nil, fmt.Errorf("%w: node %d must be %d bytes", ErrBadProofShape, i, hashSize)
		}
		if (index>>uint(i))&1 == 0 {
			copy(combined[:hashSize], hash)
			copy(combined[hashSize:], node)
		} else {
			copy(combined[:hashSize], node)
			copy(combined[hashSize:], hash)
		}
		hash = doubleHash(combined)
	}
	return hash, nil
}

// VerifyProof checks a merkle proof against an expected root.
func VerifyProof(proof MerkleProof, expectedRoot []byte) error {
	if len(expectedRoot) != hashSize {
		return fmt.Errorf("%w: root must be %d bytes", ErrBadProofShape, hashSize)
	}
	root, err := merkleRoot(proof.TxID, proof.Index, proof.Nodes)
	if err != nil {
		return err
	}
	if !bytes.Equal(root, expectedRoot) {
		return ErrProofInvalid
	}
	return nil
}

// BuildTree builds a merkle tree from txids and returns the root. Odd levels
// duplicate their last element, matching Bitcoin's construction. Test helper
// for producing valid proofs.
func BuildTree(txIDs [][]byte) []byte {
	if len(txIDs) == 0 {
		return nil
	}
	level := make([][]byte, len(txIDs))
	for i, h := range txIDs {
		level[i] = append([]byte(nil), h...)
	}
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, append([]byte(nil), level[len(level)-1]...))
		}
		next := make([][]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			combined := make([]byte, 2*hashSize)
			copy(combined[:hashSize], level[i])
			copy(combined[hashSize:], level[i+1])
			next[i/2] = doubleHash(combined)
		}
		level = next
	}
	return level[0]
}

// BranchFor extracts the proof branch for the leaf at index from txIDs.
// Test helper paired with BuildTree.
func BranchFor(txIDs [][]byte, index uint32) [][]byte {
	if len(txIDs) == 0 || int(index) >= len(txIDs) {
		return nil
	}
	level := make([][]byte, len(txIDs))
	for i, h := range txIDs {
		level[i] = append([]byte(nil), h...)
	}
	var branch [][]byte
	idx := index
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, append([]byte(nil), level[len(level)-1]...))
		}
		sibling := idx ^ 1
		branch = append(branch, append([]byte(nil), level[sibling]...))
		next := make([][]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			combined := make([]byte, 2*hashSize)
			copy(combined[:hashSize], level[i])
			copy(combined[hashSize:], level[i+1])
			next[i/2] = doubleHash(combined)
		}
		level = next
		idx >>= 1
	}
	return branch
}

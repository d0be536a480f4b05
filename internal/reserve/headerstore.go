package reserve

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	bucketHeaders = []byte("headers")
	bucketHeights = []byte("headers_height")
)

// BlockHeader is the subset of a Bitcoin block header the SPV feed needs to
// anchor merkle proofs: the root to verify against and the timestamp that
// bounds reading freshness.
type BlockHeader struct {
	Hash       []byte
	PrevBlock  []byte
	MerkleRoot []byte
	Timestamp  int64 // unix seconds
	Height     uint32
}

// HeaderStore persists block headers in bbolt, keyed by hash with a
// secondary height index for tip lookup.
type HeaderStore struct {
	db *bbolt.DB
}

// OpenHeaderStore opens or creates the header database at dbPath. The
// parent directory is created if it does not exist.
func OpenHeaderStore(dbPath string) (*HeaderStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("reserve: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("reserve: open header db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketHeaders, bucketHeights} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reserve: create buckets: %w", err)
	}

	return &HeaderStore{db: db}, nil
}

func (s *HeaderStore) Close() error { return s.db.Close() }

// PutHeader stores a header keyed by block hash and height.
func (s *HeaderStore) PutHeader(header *BlockHeader) error {
	if header == nil || len(header.Hash) != hashSize {
		return fmt.Errorf("reserve: header hash must be %d bytes", hashSize)
	}
	if len(header.MerkleRoot) != hashSize {
		return fmt.Errorf("reserve: merkle root must be %d bytes", hashSize)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := encodeGob(header)
		if err != nil {
			return fmt.Errorf("encode header: %w", err)
		}
		if err := tx.Bucket(bucketHeaders).Put(header.Hash, data); err != nil {
			return fmt.Errorf("put header by hash: %w", err)
		}
		if err := tx.Bucket(bucketHeights).Put(heightKey(header.Height), header.Hash); err != nil {
			return fmt.Errorf("put height index: %w", err)
		}
		return nil
	})
}

// GetHeader returns the header for a block hash, or ErrHeaderNotFound.
func (s *HeaderStore) GetHeader(hash []byte) (*BlockHeader, error) {
	var header BlockHeader
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketHeaders).Get(hash)
		if data == nil {
			return ErrHeaderNotFound
		}
		return decodeGob(data, &header)
	})
	if err != nil {
		return nil, err
	}
	return &header, nil
}

// Tip returns the header at the greatest stored height, or ErrHeaderNotFound
// for an empty store.
func (s *HeaderStore) Tip() (*BlockHeader, error) {
	var header BlockHeader
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketHeights).Cursor()
		_, hash := c.Last()
		if hash == nil {
			return ErrHeaderNotFound
		}
		data := tx.Bucket(bucketHeaders).Get(hash)
		if data == nil {
			return ErrHeaderNotFound
		}
		return decodeGob(data, &header)
	})
	if err != nil {
		return nil, err
	}
	return &header, nil
}

// heightKey encodes a height as a 4-byte big-endian key for sorted storage.
func heightKey(h uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, h)
	return k
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

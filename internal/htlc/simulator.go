package htlc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSecretMismatch is returned when a claim's preimage does not hash
	// to the lock's secret hash.
	ErrSecretMismatch = errors.New("htlc: secret does not match lock hash")

	// ErrUnknownLock is returned for claim/refund on a lock the simulator
	// never created.
	ErrUnknownLock = errors.New("htlc: unknown lock")

	// ErrAlreadySpent is returned when the lock was already claimed or
	// refunded.
	ErrAlreadySpent = errors.New("htlc: lock already spent")
)

// Simulator is an in-process Adapter with deterministic transaction ids and
// injectable failures. It enforces the contract the real wallet would: a
// claim needs the right preimage, and a lock can be spent exactly once.
type Simulator struct {
	mu    sync.Mutex
	seq   uint64
	locks map[string]simLock

	// Failure injection. When set, the corresponding call fails without
	// touching simulator state.
	FailCreate error
	FailClaim  error
	FailRefund error
}

type simLock struct {
	params LockParams
	spent  bool
}

func NewSimulator() *Simulator {
	return &Simulator{locks: make(map[string]simLock)}
}

func (s *Simulator) CreateLock(ctx context.Context, params LockParams) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return Lock{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCreate != nil {
		return Lock{}, s.FailCreate
	}

	s.seq++
	txid := s.txid("lock", s.seq, params.SecretHash[:])
	lock := Lock{
		TxID:            txid,
		Vout:            0,
		RedeemScriptHex: hex.EncodeToString(params.SecretHash[:]),
	}
	s.locks[txid] = simLock{params: params}
	return lock, nil
}

func (s *Simulator) Claim(ctx context.Context, lock Lock, secret [32]byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailClaim != nil {
		return "", s.FailClaim
	}

	sl, ok := s.locks[lock.TxID]
	if !ok {
		return "", ErrUnknownLock
	}
	if sl.spent {
		return "", ErrAlreadySpent
	}
	if sha256.Sum256(secret[:]) != sl.params.SecretHash {
		return "", ErrSecretMismatch
	}

	sl.spent = true
	s.locks[lock.TxID] = sl
	s.seq++
	return s.txid("claim", s.seq, secret[:]), nil
}

func (s *Simulator) Refund(ctx context.Context, lock Lock) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailRefund != nil {
		return "", s.FailRefund
	}

	sl, ok := s.locks[lock.TxID]
	if !ok {
		return "", ErrUnknownLock
	}
	if sl.spent {
		return "", ErrAlreadySpent
	}

	sl.spent = true
	s.locks[lock.TxID] = sl
	s.seq++
	return s.txid("refund", s.seq, lock.TxID), nil
}

// txid derives a stable hex id from the operation, a sequence number and a
// salt, so repeated runs produce the same ids in the same order.
func (s *Simulator) txid(op string, seq uint64, salt interface{}) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%x", op, seq, salt)))
	return hex.EncodeToString(h[:])
}

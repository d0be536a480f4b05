package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
)

// ErrUnknownTx is returned for confirmation queries on a hash the simulator
// never broadcast.
var ErrUnknownTx = errors.New("chain: unknown transaction")

// Simulator is an in-process Client. Transactions confirm only when a test
// advances them, so confirmation-dependent flows are fully deterministic.
type Simulator struct {
	mu    sync.Mutex
	confs map[string]int32

	// NetworkFeeSats is returned by EstimateFee. Defaults to 1000.
	NetworkFeeSats int64

	// FailBroadcast, when set, makes Broadcast fail without recording
	// the transaction.
	FailBroadcast error

	// AutoConfirm, when positive, credits every broadcast transaction
	// with that many confirmations immediately.
	AutoConfirm int32
}

func NewSimulator() *Simulator {
	return &Simulator{
		confs:          make(map[string]int32),
		NetworkFeeSats: 1000,
	}
}

func (s *Simulator) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailBroadcast != nil {
		return "", s.FailBroadcast
	}

	h := sha256.Sum256(rawTx)
	hash := hex.EncodeToString(h[:])
	if _, ok := s.confs[hash]; !ok {
		s.confs[hash] = s.AutoConfirm
	}
	return hash, nil
}

func (s *Simulator) GetConfirmations(ctx context.Context, txHash string) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	confs, ok := s.confs[txHash]
	if !ok {
		return 0, ErrUnknownTx
	}
	return confs, nil
}

func (s *Simulator) EstimateFee(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.NetworkFeeSats, nil
}

// AdvanceConfirmations adds n confirmations to a broadcast transaction.
func (s *Simulator) AdvanceConfirmations(txHash string, n int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.confs[txHash]; ok {
		s.confs[txHash] += n
	}
}

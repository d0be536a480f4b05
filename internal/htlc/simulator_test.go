package htlc_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"BloomLedger/internal/htlc"
)

func lockParams(secret [32]byte) htlc.LockParams {
	return htlc.LockParams{
		RecipientBTCAddress: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		AmountSats:          10_000_000,
		SecretHash:          sha256.Sum256(secret[:]),
		Deadline:            time.Now().Add(time.Hour),
	}
}

func TestSimulator_ClaimWithCorrectSecret(t *testing.T) {
	sim := htlc.NewSimulator()
	secret := [32]byte{1, 2, 3}

	lock, err := sim.CreateLock(context.Background(), lockParams(secret))
	if err != nil {
		t.Fatal(err)
	}
	if lock.TxID == "" {
		t.Fatal("lock must have a txid")
	}

	claimTx, err := sim.Claim(context.Background(), lock, secret)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimTx == "" {
		t.Error("claim must return a txid")
	}
}

func TestSimulator_ClaimWithWrongSecret(t *testing.T) {
	sim := htlc.NewSimulator()

	lock, err := sim.CreateLock(context.Background(), lockParams([32]byte{1}))
	if err != nil {
		t.Fatal(err)
	}

	_, err = sim.Claim(context.Background(), lock, [32]byte{2})
	if !errors.Is(err, htlc.ErrSecretMismatch) {
		t.Errorf("got %v, want ErrSecretMismatch", err)
	}
}

func TestSimulator_SpendExactlyOnce(t *testing.T) {
	sim := htlc.NewSimulator()
	secret := [32]byte{7}

	lock, err := sim.CreateLock(context.Background(), lockParams(secret))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := sim.Claim(context.Background(), lock, secret); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.Claim(context.Background(), lock, secret); !errors.Is(err, htlc.ErrAlreadySpent) {
		t.Errorf("double claim: got %v, want ErrAlreadySpent", err)
	}
	if _, err := sim.Refund(context.Background(), lock); !errors.Is(err, htlc.ErrAlreadySpent) {
		t.Errorf("refund after claim: got %v, want ErrAlreadySpent", err)
	}
}

func TestSimulator_RefundUnknownLock(t *testing.T) {
	sim := htlc.NewSimulator()

	_, err := sim.Refund(context.Background(), htlc.Lock{TxID: "nope"})
	if !errors.Is(err, htlc.ErrUnknownLock) {
		t.Errorf("got %v, want ErrUnknownLock", err)
	}
}

func TestSimulator_DeterministicIDs(t *testing.T) {
	a := htlc.NewSimulator()
	b := htlc.NewSimulator()
	params := lockParams([32]byte{9})

	lockA, err := a.CreateLock(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	lockB, err := b.CreateLock(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if lockA.TxID != lockB.TxID {
		t.Error("same sequence and params should yield the same txid")
	}
}

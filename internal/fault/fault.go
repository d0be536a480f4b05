// Package fault defines the typed error taxonomy of the settlement core.
// Every rejected command surfaces one of these so callers can distinguish
// "try again later" from "this can never succeed as requested".
package fault

import (
	"errors"
	"fmt"
)

// PegViolation is returned when a mint would exceed proven collateral.
// Never retried automatically; carries enough detail to explain the rejection.
type PegViolation struct {
	RequestedBloom int64
	CurrentSupply  int64
	RequiredSats   int64
	LockedSats     int64
}

func (e *PegViolation) Error() string {
	return fmt.Sprintf("peg violation: minting %d BLOOM at supply %d requires %d sats, only %d locked",
		e.RequestedBloom, e.CurrentSupply, e.RequiredSats, e.LockedSats)
}

// InsufficientReserve is returned when a redemption would exceed the maximum
// redeemable amount. Rejected before any burn occurs.
type InsufficientReserve struct {
	RequestedBloom int64
	MaxRedeemable  int64
	CurrentSupply  int64
	LockedSats     int64
}

func (e *InsufficientReserve) Error() string {
	return fmt.Sprintf("insufficient reserve: redeeming %d BLOOM exceeds max redeemable %d (supply=%d, locked=%d sats)",
		e.RequestedBloom, e.MaxRedeemable, e.CurrentSupply, e.LockedSats)
}

// InvalidTransition is returned when a command targets an intent or
// transaction whose current state does not permit it.
type InvalidTransition struct {
	Kind string // "redemption" or "bridge"
	ID   string
	From string
	To   string
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: %s %s cannot move %s -> %s", e.Kind, e.ID, e.From, e.To)
}

// StaleReserveReading is returned when every configured reserve feed is
// stale or unavailable. Minting is blocked; burns and redemptions are not,
// since they only shrink supply.
type StaleReserveReading struct {
	Sources []string
}

func (e *StaleReserveReading) Error() string {
	return fmt.Sprintf("stale reserve reading: all feeds stale or failed %v", e.Sources)
}

// ExternalAdapterFailure wraps a chain RPC or HTLC adapter error. Mutating
// operations surface it with state unchanged so the whole command can be
// retried safely.
type ExternalAdapterFailure struct {
	Adapter string
	Op      string
	Err     error
}

func (e *ExternalAdapterFailure) Error() string {
	return fmt.Sprintf("external adapter failure: %s.%s: %v", e.Adapter, e.Op, e.Err)
}

func (e *ExternalAdapterFailure) Unwrap() error { return e.Err }

// LedgerIntegrity is returned when a burn exceeds the outstanding supply.
// The ledger clamps at zero rather than going negative, and the caller is
// told the books no longer reconcile.
type LedgerIntegrity struct {
	Op        string
	Requested int64
	Supply    int64
}

func (e *LedgerIntegrity) Error() string {
	return fmt.Sprintf("ledger integrity: %s of %d exceeds outstanding supply %d", e.Op, e.Requested, e.Supply)
}

// ErrOperationPaused is returned when an operational kill-switch has the
// requested command disabled.
var ErrOperationPaused = errors.New("fault: operation paused by ops control")

// ErrInvalidAmount is returned for zero or negative amounts.
var ErrInvalidAmount = errors.New("fault: amount must be positive")

// ErrInvalidAddress is returned when a recipient address fails validation.
// Caller error; retrying the same request can never succeed.
var ErrInvalidAddress = errors.New("fault: invalid recipient address")

// ErrNotFound is returned when the referenced intent or transaction
// does not exist.
var ErrNotFound = errors.New("fault: not found")

// IsPegViolation reports whether err is a PegViolation.
func IsPegViolation(err error) bool {
	var e *PegViolation
	return errors.As(err, &e)
}

// IsInvalidTransition reports whether err is an InvalidTransition.
func IsInvalidTransition(err error) bool {
	var e *InvalidTransition
	return errors.As(err, &e)
}

// IsStaleReserve reports whether err is a StaleReserveReading.
func IsStaleReserve(err error) bool {
	var e *StaleReserveReading
	return errors.As(err, &e)
}

// Package reserve composes proof-of-reserve feeds into a single trusted
// locked-collateral reading.
package reserve

import (
	"context"
	"sync"
	"time"
)

// Reading is one locked-collateral attestation. Immutable once produced.
type Reading struct {
	LockedSats int64
	Source     string
	AsOf       time.Time
}

// Feed is one reserve-proof source.
type Feed interface {
	// LockedSats returns the current locked-collateral reading.
	LockedSats(ctx context.Context) (Reading, error)
	// Source identifies the feed in logs, errors and readings.
	Source() string
}

// StaticFeed reports a fixed, externally audited figure. It is the standing
// fallback behind the SPV feed and the test stand-in for any feed.
type StaticFeed struct {
	mu     sync.RWMutex
	source string
	sats   int64
	asOf   time.Time
	now    func() time.Time
}

func NewStaticFeed(source string, lockedSats int64) *StaticFeed {
	f := &StaticFeed{source: source, sats: lockedSats, now: time.Now}
	f.asOf = f.now()
	return f
}

// NewStaticFeedWithClock is the test constructor with an injectable clock.
func NewStaticFeedWithClock(source string, lockedSats int64, now func() time.Time) *StaticFeed {
	f := &StaticFeed{source: source, sats: lockedSats, now: now}
	f.asOf = now()
	return f
}

func (f *StaticFeed) Source() string { return f.source }

func (f *StaticFeed) LockedSats(ctx context.Context) (Reading, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Reading{LockedSats: f.sats, Source: f.source, AsOf: f.asOf}, nil
}

// SetLockedSats updates the audited figure, refreshing the reading time.
func (f *StaticFeed) SetLockedSats(sats int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sats = sats
	f.asOf = f.now()
}

// FailingFeed always errors. Test helper for composer fallback paths.
type FailingFeed struct {
	Name string
	Err  error
}

func (f *FailingFeed) Source() string { return f.Name }

func (f *FailingFeed) LockedSats(ctx context.Context) (Reading, error) {
	return Reading{}, f.Err
}

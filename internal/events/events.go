// Package events defines the settlement event emitted on every observable
// state change. The persistence worker and the NATS publisher both consume
// these; cmd/bloomledger fans a single stream out to both.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the subsystem that produced an event.
const (
	KindMint       = "mint"
	KindBurn       = "burn"
	KindRedemption = "redemption"
	KindBridge     = "bridge"
)

// Event is one observable settlement state change.
type Event struct {
	ID          uuid.UUID         `json:"id"`
	Kind        string            `json:"kind"`
	Ref         string            `json:"ref"` // intent / transaction / ledger event id
	Status      string            `json:"status"`
	AmountBloom int64             `json:"amount_bloom"`
	AmountSats  int64             `json:"amount_sats,omitempty"`
	Detail      map[string]string `json:"detail,omitempty"`
	At          time.Time         `json:"at"`
}

// Sink receives events. A sink on a lossless path may apply backpressure;
// notification-only sinks drop when full.
type Sink interface {
	Emit(ev Event)
}

// ChanSink emits onto a channel, dropping when full. State transitions are
// authoritative; notification is best-effort.
type ChanSink struct {
	C       chan Event
	Dropped func() // optional drop counter hook
}

func NewChanSink(capacity int) *ChanSink {
	return &ChanSink{C: make(chan Event, capacity)}
}

func (s *ChanSink) Emit(ev Event) {
	select {
	case s.C <- ev:
	default:
		if s.Dropped != nil {
			s.Dropped()
		}
	}
}

// NopSink discards events. Used by tests that don't observe the stream.
type NopSink struct{}

func (NopSink) Emit(Event) {}

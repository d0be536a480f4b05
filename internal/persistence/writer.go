// Package persistence batch-writes the settlement event stream to Postgres.
// The worker drains a blocking channel, so a slow database backpressures the
// emitters instead of losing records.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"BloomLedger/internal/events"
)

// SettlementRecord is one row in settlement.events. Multi-row INSERT with
// ON CONFLICT DO NOTHING keeps writes idempotent across worker restarts.
type SettlementRecord struct {
	EventID     string
	Kind        string
	Ref         string
	Status      string
	AmountBloom int64
	AmountSats  int64
	Detail      []byte // JSON
	OccurredAt  time.Time
}

// RecordFromEvent converts a settlement event into its persisted form.
func RecordFromEvent(ev events.Event) SettlementRecord {
	detail := []byte("{}")
	if len(ev.Detail) > 0 {
		if b, err := json.Marshal(ev.Detail); err == nil {
			detail = b
		}
	}
	return SettlementRecord{
		EventID:     ev.ID.String(),
		Kind:        ev.Kind,
		Ref:         ev.Ref,
		Status:      ev.Status,
		AmountBloom: ev.AmountBloom,
		AmountSats:  ev.AmountSats,
		Detail:      detail,
		OccurredAt:  ev.At,
	}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SettlementWriter builds multi-row INSERTs for settlement.events.
type SettlementWriter struct {
	db *sql.DB
}

func NewSettlementWriter(db *sql.DB) *SettlementWriter {
	return &SettlementWriter{db: db}
}

// WriteBatch inserts a batch of records in one statement.
func (w *SettlementWriter) WriteBatch(ctx context.Context, ex execer, records []SettlementRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.events
		(event_id, kind, ref, status, amount_bloom, amount_sats, detail, occurred_at)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*8)

	for i, r := range records {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.EventID, r.Kind, r.Ref, r.Status,
			r.AmountBloom, r.AmountSats, r.Detail, r.OccurredAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (event_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

package metering

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const usageSchema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id          BIGSERIAL PRIMARY KEY,
	contract_id TEXT      NOT NULL,
	kind        TEXT      NOT NULL,
	quantity    BIGINT    NOT NULL,
	at          TIMESTAMP NOT NULL,
	metadata    JSONB
);
CREATE INDEX IF NOT EXISTS usage_events_contract_at ON usage_events (contract_id, at);
`

const insertEvent = `INSERT INTO usage_events (contract_id, kind, quantity, at, metadata) VALUES ($1, $2, $3, $4, $5)`

const sumByKind = `SELECT kind, SUM(quantity) FROM usage_events
WHERE contract_id = $1 AND at >= $2 AND at < $3
GROUP BY kind`

// PostgresMeter keeps usage events in the results database when it runs on
// Postgres.
type PostgresMeter struct {
	db *sql.DB
}

func NewPostgresMeter(db *sql.DB) *PostgresMeter {
	return &PostgresMeter{db: db}
}

// Init creates the usage_events table.
func (m *PostgresMeter) Init(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, usageSchema); err != nil {
		return fmt.Errorf("metering: create schema: %w", err)
	}
	return nil
}

func (m *PostgresMeter) Record(ctx context.Context, event Event) error {
	args, err := insertArgs(event.stamped(time.Now().UTC()))
	if err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, insertEvent, args...); err != nil {
		return fmt.Errorf("metering: insert %s for %s: %w", event.EventType, event.ContractID, err)
	}
	return nil
}

// RecordBatch inserts events in one transaction through a prepared
// statement. Any failure rolls the whole batch back.
func (m *PostgresMeter) RecordBatch(ctx context.Context, events []Event) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		args, err := insertArgs(e.stamped(now))
		if err != nil {
			return err
		}
		rows = append(rows, args)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metering: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("metering: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("metering: batch row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (m *PostgresMeter) GetUsage(ctx context.Context, contractID string, period Period) (*Usage, error) {
	rows, err := m.db.QueryContext(ctx, sumByKind, contractID, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("metering: sum usage for %s: %w", contractID, err)
	}
	defer func() { _ = rows.Close() }()

	usage := newUsage(contractID, period)
	for rows.Next() {
		var (
			kind  EventType
			total int64
		)
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, fmt.Errorf("metering: scan usage: %w", err)
		}
		usage.Totals[kind] = total
	}
	return usage, rows.Err()
}

// GetUsageByType sums one kind. A kind with no events reports zero.
func (m *PostgresMeter) GetUsageByType(ctx context.Context, contractID string, eventType EventType, period Period) (int64, error) {
	usage, err := m.GetUsage(ctx, contractID, period)
	if err != nil {
		return 0, err
	}
	return usage.Totals[eventType], nil
}

// insertArgs validates e and returns the insertEvent parameters for it.
func insertArgs(e Event) ([]any, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	var metadata []byte
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("metering: encode metadata: %w", err)
		}
		metadata = b
	}
	return []any{e.ContractID, string(e.EventType), e.Quantity, e.Timestamp, metadata}, nil
}

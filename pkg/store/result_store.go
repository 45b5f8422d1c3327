package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// ResultStore indexes evaluation records by (contract_id, height). Both
// SQLite and Postgres are served by the same statements.
type ResultStore struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens the result index named by dsn: a postgres:// URL or a SQLite
// file path (":memory:" for a private in-memory database).
func Open(ctx context.Context, dsn string) (*ResultStore, error) {
	driver, dialect := "sqlite", SQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, dialect = "postgres", Postgres
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}
	s, err := NewResultStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewResultStore wraps db and creates the table if needed.
func NewResultStore(ctx context.Context, db *sql.DB, dialect Dialect) (*ResultStore, error) {
	s := &ResultStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate result store: %w", err)
	}
	return s, nil
}

const resultSchema = `
CREATE TABLE IF NOT EXISTS evaluations (
	contract_id TEXT NOT NULL,
	height BIGINT NOT NULL,
	run_id TEXT NOT NULL,
	content_type TEXT NOT NULL,
	state_digest TEXT NOT NULL,
	snapshot_ref TEXT NOT NULL DEFAULT '',
	interactions INTEGER NOT NULL,
	valid INTEGER NOT NULL,
	gas BIGINT NOT NULL DEFAULT 0,
	evaluated_at TEXT NOT NULL,
	PRIMARY KEY (contract_id, height)
)`

const recordColumns = `contract_id, height, run_id, content_type, state_digest, snapshot_ref, interactions, valid, gas, evaluated_at`

func (s *ResultStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, resultSchema)
	return err
}

// Put inserts or replaces the record for (ContractID, Height).
func (s *ResultStore) Put(ctx context.Context, r *contracts.EvaluationRecord) error {
	query := `INSERT INTO evaluations (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (contract_id, height) DO UPDATE SET
			run_id = excluded.run_id,
			content_type = excluded.content_type,
			state_digest = excluded.state_digest,
			snapshot_ref = excluded.snapshot_ref,
			interactions = excluded.interactions,
			valid = excluded.valid,
			gas = excluded.gas,
			evaluated_at = excluded.evaluated_at`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		r.ContractID, int64(r.Height), r.RunID, string(r.ContentType), r.StateDigest, r.SnapshotRef,
		r.Interactions, r.Valid, int64(r.Gas), r.EvaluatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to store evaluation record: %w", err)
	}
	return nil
}

// Get returns the record for (contractID, height), or nil when there is
// none.
func (s *ResultStore) Get(ctx context.Context, contractID string, height uint64) (*contracts.EvaluationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM evaluations WHERE contract_id = ? AND height = ?`
	r, err := scanRecord(s.db.QueryRowContext(ctx, s.rebind(query), contractID, int64(height)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// Latest returns the highest record of a contract at or below maxHeight,
// or nil when there is none. Zero maxHeight means no bound.
func (s *ResultStore) Latest(ctx context.Context, contractID string, maxHeight uint64) (*contracts.EvaluationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM evaluations WHERE contract_id = ?`
	args := []any{contractID}
	if maxHeight > 0 {
		query += ` AND height <= ?`
		args = append(args, int64(maxHeight))
	}
	query += ` ORDER BY height DESC LIMIT 1`
	r, err := scanRecord(s.db.QueryRowContext(ctx, s.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// List returns the most recent records of a contract, highest height first.
func (s *ResultStore) List(ctx context.Context, contractID string, limit int) ([]*contracts.EvaluationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM evaluations WHERE contract_id = ? ORDER BY height DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), contractID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.EvaluationRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DB returns the underlying handle so other tables can share it.
func (s *ResultStore) DB() *sql.DB { return s.db }

// Dialect reports which database the store is using.
func (s *ResultStore) Dialect() Dialect { return s.dialect }

// Close closes the underlying database.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*contracts.EvaluationRecord, error) {
	var (
		r           contracts.EvaluationRecord
		height, gas int64
		contentType string
		evaluatedAt string
	)
	if err := row.Scan(&r.ContractID, &height, &r.RunID, &contentType, &r.StateDigest, &r.SnapshotRef,
		&r.Interactions, &r.Valid, &gas, &evaluatedAt); err != nil {
		return nil, err
	}
	r.Height = uint64(height)
	r.Gas = uint64(gas)
	r.ContentType = contracts.ContentType(contentType)
	ts, err := time.Parse(time.RFC3339Nano, evaluatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse evaluated_at: %w", err)
	}
	r.EvaluatedAt = ts
	return &r, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *ResultStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

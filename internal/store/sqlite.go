package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chris-regnier/callsite/internal/sarif"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	created_at   TEXT NOT NULL,
	result_count INTEGER NOT NULL,
	sarif        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS verdicts (
	run_id   TEXT PRIMARY KEY REFERENCES runs(id),
	decision TEXT NOT NULL,
	verdict  TEXT NOT NULL
);
`

// SQLiteStore keeps run history in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing sqlite store %s: %w", dsn, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) WriteSARIF(ctx context.Context, doc *sarif.Log) (string, error) {
	ctx, span := storeTracer.Start(ctx, "write sarif")
	defer span.End()

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fail(span, err)
	}
	id := generateID()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, result_count, sarif) VALUES (?, ?, ?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339Nano), resultCount(doc), string(data))
	if err != nil {
		return "", fail(span, fmt.Errorf("inserting run: %w", err))
	}

	span.SetAttributes(
		attribute.String("callsite.store.id", id),
		attribute.Int("callsite.store.result_count", resultCount(doc)),
	)
	return id, nil
}

func (s *SQLiteStore) WriteVerdict(ctx context.Context, sarifID string, verdict *Verdict) error {
	ctx, span := storeTracer.Start(ctx, "write verdict")
	defer span.End()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, sarifID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fail(span, fmt.Errorf("run %s: %w", sarifID, ErrNotFound))
	}
	if err != nil {
		return fail(span, err)
	}

	data, err := json.Marshal(verdict)
	if err != nil {
		return fail(span, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verdicts (run_id, decision, verdict) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET decision = excluded.decision, verdict = excluded.verdict`,
		sarifID, verdict.Decision, string(data))
	if err != nil {
		return fail(span, fmt.Errorf("writing verdict: %w", err))
	}

	span.SetAttributes(
		attribute.String("callsite.store.id", sarifID),
		attribute.String("callsite.decision", verdict.Decision),
	)
	return nil
}

func (s *SQLiteStore) ReadSARIF(ctx context.Context, id string) (*sarif.Log, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT sarif FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sarif for run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var log sarif.Log
	if err := json.Unmarshal([]byte(data), &log); err != nil {
		return nil, err
	}
	return &log, nil
}

func (s *SQLiteStore) ReadVerdict(ctx context.Context, sarifID string) (*Verdict, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT verdict FROM verdicts WHERE run_id = ?`, sarifID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("verdict for run %s: %w", sarifID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var v Verdict
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

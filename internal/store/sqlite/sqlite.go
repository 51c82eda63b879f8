// Package sqlite implements the SQLite-backed audit ledger: a
// responsemgr.Observer that persists every ResponseManager resolution and
// timeout as a row (no principal is created for the store), for
// after-the-fact inspection independent of the dispatch pipeline itself.
// Grounded on the teacher's internal/svc/sqlite/sqlite_service.go
// connection lifecycle (sql.Open, Ping, Close against
// github.com/mattn/go-sqlite3), restructured around responsemgr.Entry
// instead of the teacher's general-purpose query/exec/transaction actor
// surface: this store has exactly one job, recording outcomes.
package sqlite

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"

	"mycelia/internal/responsemgr"
	"mycelia/internal/telemetry"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS audit_log (
	correlation_id TEXT PRIMARY KEY,
	owner_pkr      TEXT NOT NULL,
	reply_to       TEXT NOT NULL,
	timeout_ms     INTEGER NOT NULL,
	created_at     DATETIME NOT NULL,
	outcome        TEXT NOT NULL,
	recorded_at    DATETIME NOT NULL
)`

const insertSQL = `
INSERT INTO audit_log (correlation_id, owner_pkr, reply_to, timeout_ms, created_at, outcome, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(correlation_id) DO UPDATE SET outcome = excluded.outcome, recorded_at = excluded.recorded_at`

// Row is one persisted audit entry.
type Row struct {
	CorrelationID string
	OwnerPKR      string
	ReplyTo       string
	TimeoutMs     int64
	CreatedAt     time.Time
	Outcome       string
	RecordedAt    time.Time
}

// Store is a responsemgr.Observer backed by a SQLite database.
type Store struct {
	db  *sql.DB
	log *telemetry.Logger
}

// Open establishes the connection and ensures the audit_log table exists.
// dsn is any database/sql data source name the mattn/go-sqlite3 driver
// accepts, e.g. "file:audit.db?cache=shared" or ":memory:".
func Open(dsn string, log *telemetry.Logger) (*Store, error) {
	if log == nil {
		log = telemetry.NewNop()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite audit store")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping sqlite audit store")
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create audit_log table")
	}
	return &Store{db: db, log: log.With("store", "sqlite")}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ObserveResolved persists a resolved entry's audit row.
func (s *Store) ObserveResolved(entry responsemgr.Entry) {
	s.record(entry, "resolved")
}

// ObserveTimeout persists a timed-out entry's audit row.
func (s *Store) ObserveTimeout(entry responsemgr.Entry) {
	s.record(entry, "timeout")
}

func (s *Store) record(entry responsemgr.Entry, outcome string) {
	_, err := s.db.Exec(insertSQL,
		entry.CorrelationID,
		entry.OwnerPKR.UUID,
		entry.ReplyTo,
		entry.TimeoutMs,
		entry.CreatedAt,
		outcome,
		time.Now(),
	)
	if err != nil {
		s.log.Error().Err(err).Str("correlationId", entry.CorrelationID).Msg("failed to record audit row")
	}
}

// Recent returns the most recently recorded rows, newest first, for the
// debug control plane's audit inspection endpoint.
func (s *Store) Recent(limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT correlation_id, owner_pkr, reply_to, timeout_ms, created_at, outcome, recorded_at
		FROM audit_log ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query audit_log")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.CorrelationID, &r.OwnerPKR, &r.ReplyTo, &r.TimeoutMs, &r.CreatedAt, &r.Outcome, &r.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "scan audit_log row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

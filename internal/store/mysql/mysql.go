// Package mysql implements the MySQL-backed audit-ledger subsystem, the
// same responsemgr.Observer role internal/store/sqlite fills, for
// deployments that centralize the audit ledger in a shared database
// instead of a local file. Grounded on the teacher's
// internal/svc/mysql/mysql_service.go connection lifecycle (sql.Open,
// Ping against github.com/go-sql-driver/mysql), restructured the same way
// the sqlite store was: one job, recording responsemgr outcomes, not the
// teacher's general query/exec/transaction actor surface.
package mysql

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	_ "github.com/go-sql-driver/mysql"

	"mycelia/internal/responsemgr"
	"mycelia/internal/telemetry"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS audit_log (
	correlation_id VARCHAR(191) PRIMARY KEY,
	owner_pkr      VARCHAR(191) NOT NULL,
	reply_to       VARCHAR(512) NOT NULL,
	timeout_ms     BIGINT NOT NULL,
	created_at     DATETIME NOT NULL,
	outcome        VARCHAR(32) NOT NULL,
	recorded_at    DATETIME NOT NULL
)`

const insertSQL = `
INSERT INTO audit_log (correlation_id, owner_pkr, reply_to, timeout_ms, created_at, outcome, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE outcome = VALUES(outcome), recorded_at = VALUES(recorded_at)`

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

// Store is a responsemgr.Observer backed by a MySQL database.
type Store struct {
	db  *sql.DB
	log *telemetry.Logger
}

// Open establishes the connection and ensures the audit_log table exists.
// dsn is a github.com/go-sql-driver/mysql data source name, e.g.
// "user:pass@tcp(127.0.0.1:3306)/mycelia".
func Open(dsn string, log *telemetry.Logger) (*Store, error) {
	if log == nil {
		log = telemetry.NewNop()
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open mysql audit store")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping mysql audit store")
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create audit_log table")
	}
	return &Store{db: db, log: log.With("store", "mysql")}, nil
}

// Close releases the underlying connection pool.
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

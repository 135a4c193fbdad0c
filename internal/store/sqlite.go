// Package store persists review receipts in SQLite so the review gate spans
// CLI invocations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"pantry/internal/logger"
	"pantry/internal/review"
)

// ErrNotFound is returned when no receipt has the requested id.
var ErrNotFound = errors.New("receipt not found")

// ReceiptFilter narrows List results.
type ReceiptFilter struct {
	Status review.Status
	Limit  int
	Offset int
}

// SQLiteStore is the receipt repository backed by modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// connPragmas apply to every pooled connection. busy_timeout and
// synchronous are per-connection settings, so they travel in the DSN.
var connPragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; concurrent scans queue here instead of on the file lock.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: open")
	}
	return &SQLiteStore{db: db, log: logger.WithComponent("store")}, nil
}

func withPragmas(dsn string) string {
	params := make([]string, len(connPragmas))
	for i, p := range connPragmas {
		params[i] = "_pragma=" + p
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS receipts (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	document_type TEXT NOT NULL,
	status        TEXT NOT NULL,
	committed     INTEGER NOT NULL DEFAULT 0,
	receipt       TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_receipts_status ON receipts(status);
CREATE INDEX IF NOT EXISTS idx_receipts_created_at ON receipts(created_at);
`

// Migrate creates the schema if needed.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save inserts or replaces the receipt together with its items.
func (s *SQLiteStore) Save(ctx context.Context, r *review.Receipt) error {
	if r == nil || r.ID == "" {
		return eris.New("sqlite: receipt without id")
	}

	receiptJSON, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal receipt")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO receipts (id, source, document_type, status, committed, receipt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			committed = excluded.committed,
			receipt = excluded.receipt,
			updated_at = excluded.updated_at`,
		r.ID, r.Source, string(r.DocumentType), string(r.Status), r.Committed(),
		string(receiptJSON), r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save receipt %s", r.ID)
	}

	s.log.Debug().
		Str("receipt_id", r.ID).
		Str("status", string(r.Status)).
		Int("items", len(r.Items)).
		Msg("Receipt saved")
	return nil
}

// Get loads one receipt. Unknown ids return an error wrapping ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*review.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT receipt FROM receipts WHERE id = ?`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get receipt %s", id)
	}
	return r, err
}

// List returns receipts newest first.
func (s *SQLiteStore) List(ctx context.Context, filter ReceiptFilter) ([]review.Receipt, error) {
	query := `SELECT receipt FROM receipts WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list receipts")
	}
	defer rows.Close()

	var receipts []review.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *r)
	}
	return receipts, eris.Wrap(rows.Err(), "sqlite: list receipts iterate")
}

// Delete removes a receipt.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM receipts WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete receipt %s", id)
	}
	return checkRowsAffected(res, id)
}

// DeleteFailedBefore removes FAILED receipts created before cutoff and
// returns how many were removed.
func (s *SQLiteStore) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM receipts WHERE status = ? AND created_at < ?`,
		string(review.StatusFailed), cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete failed receipts")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "receipt %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReceipt(row scannable) (*review.Receipt, error) {
	var receiptJSON string
	if err := row.Scan(&receiptJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan receipt")
	}

	var r review.Receipt
	if err := json.Unmarshal([]byte(receiptJSON), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal receipt")
	}
	return &r, nil
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

// DB is the part of [*postgres.Client] the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	Health(ctx context.Context) error
}

var _ DB = (*postgres.Client)(nil)

// Table is the audit table name.
const Table = "token_audit_log"

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS ` + Table + ` (
	id         BIGSERIAL PRIMARY KEY,
	at         TIMESTAMPTZ NOT NULL,
	kind       TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	token_id   TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	from_state TEXT NOT NULL DEFAULT '',
	to_state   TEXT NOT NULL DEFAULT '',
	alert_type TEXT NOT NULL DEFAULT '',
	severity   TEXT NOT NULL DEFAULT '',
	details    JSONB
)`

	createIndexSQL = `CREATE INDEX IF NOT EXISTS ` + Table + `_user_at_idx ON ` + Table + ` (user_id, at DESC)`

	insertSQL = `INSERT INTO ` + Table + ` (at, kind, user_id, token_id, session_id, from_state, to_state, alert_type, severity, details)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	listByUserSQL = `SELECT id, at, kind, user_id, token_id, session_id, from_state, to_state, alert_type, severity, details
FROM ` + Table + ` WHERE user_id = $1 ORDER BY at DESC, id DESC LIMIT $2`

	pruneSQL = `DELETE FROM ` + Table + ` WHERE at < $1`
)

// Store persists audit entries in PostgreSQL.
type Store struct {
	db DB
}

// NewStore returns a Store over db.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the audit table and its index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTableSQL); err != nil {
		return storageError(err, "audit: failed to create table")
	}
	if _, err := s.db.Exec(ctx, createIndexSQL); err != nil {
		return storageError(err, "audit: failed to create index")
	}
	return nil
}

// Insert writes entries in one transaction. Either all are stored or
// none.
func (s *Store) Insert(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.InTx(ctx, func(tx pgx.Tx) error {
		for _, e := range entries {
			details, err := marshalDetails(e.Details)
			if err != nil {
				return sserr.Wrap(err, sserr.CodeInternal, "audit: failed to encode details")
			}
			if _, err := tx.Exec(ctx, insertSQL,
				e.At.UTC(), string(e.Kind), e.UserID, e.TokenID, e.SessionID,
				e.FromState, e.ToState, e.AlertType, e.Severity, details,
			); err != nil {
				return storageError(err, "audit: insert failed")
			}
		}
		return nil
	})
}

// Health reports whether the audit database is reachable.
func (s *Store) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// ListByUser returns up to limit entries for userID, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if userID == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "audit: user id is required")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, listByUserSQL, userID, limit)
	if err != nil {
		return nil, storageError(err, "audit: list failed")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			kind    string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.At, &kind, &e.UserID, &e.TokenID, &e.SessionID,
			&e.FromState, &e.ToState, &e.AlertType, &e.Severity, &details); err != nil {
			return nil, storageError(err, "audit: scan failed")
		}
		e.Kind = Kind(kind)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, sserr.Wrap(err, sserr.CodeInternal, "audit: failed to decode details")
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "audit: list failed")
	}
	return out, nil
}

// Prune deletes entries older than before and returns how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, pruneSQL, before.UTC())
	if err != nil {
		return 0, storageError(err, "audit: prune failed")
	}
	return tag.RowsAffected(), nil
}

func marshalDetails(d map[string]any) ([]byte, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return json.Marshal(d)
}

// storageError keeps coded errors from the client and classifies raw
// driver errors from transactions.
func storageError(err error, message string) error {
	if _, ok := sserr.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sserr.Wrap(err, sserr.CodeStorageTimeout, message)
	}
	return sserr.Wrap(err, sserr.CodeStorageUnavailable, message)
}

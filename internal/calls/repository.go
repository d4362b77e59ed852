package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"callbridge/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Repository is the persistence contract for call sessions.
//
// Transition MUST be a single conditional update keyed on the stored status
// being one of Change.From. It returns the updated session and the status it
// replaced, ErrConflict when the status guard fails, ErrNotFound otherwise.
type Repository interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, callID string) (Session, error)
	Transition(ctx context.Context, callID string, c Change) (Session, Status, error)
	List(ctx context.Context, q HistoryQuery) ([]Session, int, error)
}

// Schema creates the session table. channel_name is unique to keep the 1:1
// mapping with call_id enforceable by the database.
var Schema = []string{`
CREATE TABLE IF NOT EXISTS call_sessions (
  call_id       TEXT PRIMARY KEY,
  channel_name  TEXT NOT NULL UNIQUE,
  caller_id     TEXT NOT NULL,
  caller_name   TEXT NOT NULL DEFAULT '',
  caller_email  TEXT NOT NULL DEFAULT '',
  callee_id     TEXT NOT NULL,
  callee_name   TEXT NOT NULL DEFAULT '',
  callee_email  TEXT NOT NULL DEFAULT '',
  status        TEXT NOT NULL,
  start_time    TIMESTAMPTZ,
  end_time      TIMESTAMPTZ,
  duration      BIGINT NOT NULL DEFAULT 0,
  caller_token  TEXT NOT NULL,
  callee_token  TEXT NOT NULL,
  metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at    TIMESTAMPTZ NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS call_sessions_caller ON call_sessions (caller_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS call_sessions_callee ON call_sessions (callee_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS call_sessions_status ON call_sessions (status, created_at DESC)`,
}

const sessionColumns = `call_id, channel_name, caller_id, caller_name, caller_email,
  callee_id, callee_name, callee_email, status, start_time, end_time, duration,
  caller_token, callee_token, metadata, created_at, updated_at`

// PostgresRepo implements Repository on database/sql with the pgx driver.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Create(ctx context.Context, s Session) error {
	meta, err := encodeMetadata(s.Metadata)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_sessions (` + sessionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`
	_, err = r.db.ExecContext(ctx, q,
		s.CallID,
		s.ChannelName,
		s.Caller.ID,
		s.Caller.Name,
		s.Caller.Email,
		s.Callee.ID,
		s.Callee.Name,
		s.Callee.Email,
		string(s.Status),
		nullTime(s.StartTime),
		nullTime(s.EndTime),
		s.Duration,
		s.CallerToken,
		s.CalleeToken,
		meta,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *PostgresRepo) Get(ctx context.Context, callID string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE call_id = $1`
	return scanSession(r.db.QueryRowContext(ctx, q, callID))
}

// Transition locks the row and applies the guarded update in one statement.
// start_time and end_time are only written while NULL; duration is computed by
// the database from the stored start_time so it never depends on a stale read.
func (r *PostgresRepo) Transition(ctx context.Context, callID string, c Change) (Session, Status, error) {
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return Session{}, "", err
	}

	q := `
WITH prev AS (
  SELECT call_id, status FROM call_sessions WHERE call_id = $1 FOR UPDATE
)
UPDATE call_sessions c
SET status     = COALESCE(NULLIF($2::text, ''), c.status),
    start_time = CASE WHEN $3::boolean AND c.start_time IS NULL THEN $5::timestamptz ELSE c.start_time END,
    end_time   = CASE WHEN $4::boolean AND c.end_time IS NULL THEN $5::timestamptz ELSE c.end_time END,
    duration   = CASE
                   WHEN $4::boolean AND c.end_time IS NULL AND c.start_time IS NOT NULL AND c.duration = 0
                   THEN GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($5::timestamptz - c.start_time))))::bigint
                   ELSE c.duration
                 END,
    metadata   = $6::jsonb || c.metadata,
    updated_at = $5::timestamptz
FROM prev
WHERE c.call_id = prev.call_id AND c.status IN (` + utils.Placeholders(7, len(c.From)) + `)
RETURNING prev.status, ` + prefixed("c.", sessionColumns)

	args := []any{callID, string(c.To), c.SetStart, c.SetEnd, c.At, meta}
	for _, s := range c.From {
		args = append(args, string(s))
	}

	var prev Status
	s, err := scanSessionWith(r.db.QueryRowContext(ctx, q, args...), &prev)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing row from a failed status guard.
		cur, getErr := r.Get(ctx, callID)
		if getErr != nil {
			return Session{}, "", getErr
		}
		return Session{}, cur.Status, ErrConflict
	}
	if err != nil {
		return Session{}, "", err
	}
	return s, prev, nil
}

func (r *PostgresRepo) List(ctx context.Context, q HistoryQuery) ([]Session, int, error) {
	var column string
	switch q.Role {
	case RoleCaller:
		column = "caller_id"
	case RoleCallee:
		column = "callee_id"
	default:
		return nil, 0, fmt.Errorf("%w: history needs a caller or callee", ErrInvalidArgument)
	}

	where := column + ` = $1`
	args := []any{q.PartyID}
	if len(q.Statuses) > 0 {
		where += ` AND status IN (` + utils.Placeholders(2, len(q.Statuses)) + `)`
		for _, s := range q.Statuses {
			args = append(args, string(s))
		}
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_sessions WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	n := len(args)
	page := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE ` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, call_id DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, q.Skip)

	rows, err := r.db.QueryContext(ctx, page, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	return scanSessionWith(row)
}

// scanSessionWith scans leading extra columns into lead before the session columns.
func scanSessionWith(row rowScanner, lead ...any) (Session, error) {
	var (
		s     Session
		start sql.NullTime
		end   sql.NullTime
		meta  []byte
	)
	dest := append(lead,
		&s.CallID,
		&s.ChannelName,
		&s.Caller.ID,
		&s.Caller.Name,
		&s.Caller.Email,
		&s.Callee.ID,
		&s.Callee.Name,
		&s.Callee.Email,
		&s.Status,
		&start,
		&end,
		&s.Duration,
		&s.CallerToken,
		&s.CalleeToken,
		&meta,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	if start.Valid {
		t := start.Time
		s.StartTime = &t
	}
	if end.Valid {
		t := end.Time
		s.EndTime = &t
	}
	s.Metadata = map[string]string{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.Metadata); err != nil {
			return Session{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

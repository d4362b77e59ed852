package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Schema is the account read model. Rows are written by the account service
// through Upsert; this service only touches device and presence columns.
var Schema = []string{`
CREATE TABLE IF NOT EXISTS accounts (
  pool        TEXT NOT NULL,
  id          TEXT NOT NULL,
  email       TEXT NOT NULL,
  name        TEXT NOT NULL DEFAULT '',
  push_token  TEXT NOT NULL DEFAULT '',
  platform    TEXT NOT NULL DEFAULT '',
  online      BOOLEAN NOT NULL DEFAULT FALSE,
  last_seen   TIMESTAMPTZ,
  active      BOOLEAN NOT NULL DEFAULT TRUE,
  created_at  TIMESTAMPTZ NOT NULL,
  updated_at  TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (pool, id)
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS accounts_pool_email ON accounts (pool, email)`,
	`CREATE INDEX IF NOT EXISTS accounts_callable ON accounts (pool, online) WHERE push_token <> ''`,
}

const accountColumns = `pool, id, email, name, push_token, platform, online, last_seen, active, created_at, updated_at`

// PostgresRepo implements Repository on database/sql with the pgx driver.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, pool Pool, id string) (Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE pool = $1 AND id = $2`
	return scanAccount(r.db.QueryRowContext(ctx, q, string(pool), id))
}

func (r *PostgresRepo) GetByEmail(ctx context.Context, pool Pool, email string) (Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE pool = $1 AND email = $2`
	return scanAccount(r.db.QueryRowContext(ctx, q, string(pool), email))
}

func (r *PostgresRepo) ListCallable(ctx context.Context, onlineOnly bool) ([]Account, error) {
	q := `
SELECT ` + accountColumns + `
FROM accounts
WHERE pool = $1 AND active AND push_token <> '' AND (NOT $2::boolean OR online)
ORDER BY email
`
	rows, err := r.db.QueryContext(ctx, q, string(PoolCallee), onlineOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Upsert(ctx context.Context, a Account) error {
	const q = `
INSERT INTO accounts (` + accountColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (pool, id)
DO UPDATE SET email = EXCLUDED.email,
              name = EXCLUDED.name,
              active = EXCLUDED.active,
              updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q,
		string(a.Pool),
		a.ID,
		a.Email,
		a.Name,
		a.PushToken,
		string(a.Platform),
		a.Online,
		nullTime(a.LastSeen),
		a.Active,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) UpdateDevice(ctx context.Context, calleeID, pushToken string, platform Platform, now time.Time) (Account, error) {
	q := `
UPDATE accounts
SET push_token = $3, platform = $4, updated_at = $5
WHERE pool = $1 AND id = $2
RETURNING ` + accountColumns
	return scanAccount(r.db.QueryRowContext(ctx, q, string(PoolCallee), calleeID, pushToken, string(platform), now))
}

func (r *PostgresRepo) UpdatePresence(ctx context.Context, calleeID string, online bool, now time.Time) (Account, error) {
	q := `
UPDATE accounts
SET online = $3, last_seen = $4, updated_at = $4
WHERE pool = $1 AND id = $2
RETURNING ` + accountColumns
	return scanAccount(r.db.QueryRowContext(ctx, q, string(PoolCallee), calleeID, online, now))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var (
		a        Account
		lastSeen sql.NullTime
	)
	if err := row.Scan(
		&a.Pool,
		&a.ID,
		&a.Email,
		&a.Name,
		&a.PushToken,
		&a.Platform,
		&a.Online,
		&lastSeen,
		&a.Active,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	if lastSeen.Valid {
		a.LastSeen = lastSeen.Time
	}
	return a, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

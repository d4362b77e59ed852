package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the audit table. Rows are insert-only; no code path issues
// UPDATE or DELETE against it.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS call_audit_events (
		id            UUID PRIMARY KEY,
		call_id       TEXT NOT NULL,
		type          TEXT NOT NULL,
		actor_user_id TEXT NOT NULL DEFAULT '',
		actor_role    TEXT NOT NULL DEFAULT '',
		ip_address    TEXT NOT NULL DEFAULT '',
		from_status   TEXT NOT NULL DEFAULT '',
		to_status     TEXT NOT NULL,
		message       TEXT NOT NULL DEFAULT '',
		metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS call_audit_events_call_idx ON call_audit_events (call_id, created_at)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	metadata := e.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO call_audit_events
			(id, call_id, type, actor_user_id, actor_role, ip_address, from_status, to_status, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11)`,
		e.ID, e.CallID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.FromStatus, e.ToStatus, e.Message, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, call_id, type, actor_user_id, actor_role, ip_address, from_status, to_status, message, metadata::text, created_at
		FROM call_audit_events
		WHERE call_id = $1
		ORDER BY created_at, id`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e   Event
			typ string
		)
		if err := rows.Scan(&e.ID, &e.CallID, &typ, &e.ActorUserID, &e.ActorRole, &e.IPAddress, &e.FromStatus, &e.ToStatus, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

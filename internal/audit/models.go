package audit

import "time"

// Event is an immutable, append-only audit log record of one applied call
// transition.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id is required.
// - Audit is best-effort; never block a call transition on an audit failure.
type Event struct {
	ID     string    `json:"id" db:"id"`
	CallID string    `json:"call_id" db:"call_id"`
	Type   EventType `json:"type" db:"type"`

	// ActorUserID is empty for system-driven transitions.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP of the request that caused the
	// transition, when there was one.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// FromStatus is empty for the creating transition.
	FromStatus string `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string `json:"to_status" db:"to_status"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is the session metadata after the transition, as JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeTransition EventType = "call_transition"
)

package calls

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle position of a call session.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRinging  Status = "ringing"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusMissed   Status = "missed"
	StatusEnded    Status = "ended"
	StatusFailed   Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusRinging,
	StatusAccepted,
	StatusRejected,
	StatusMissed,
	StatusEnded,
	StatusFailed,
}

// Terminal statuses admit no further transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusMissed, StatusEnded, StatusFailed:
		return true
	default:
		return false
	}
}

func ParseStatus(v string) (Status, error) {
	for _, s := range allStatuses {
		if string(s) == v {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, v)
}

// Party is a participant as recorded at creation time.
type Party struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name,omitempty" db:"name"`
	Email string `json:"email,omitempty" db:"email"`
}

// Session is the call record.
//
// Invariants:
// - CallID and ChannelName never change and map 1:1.
// - StartTime is set iff the session reached accepted.
// - EndTime and StartTime are each written at most once.
// - Duration is EndTime-StartTime in whole seconds when both exist, else 0.
// - Metadata keys are never overwritten once present.
// - Media tokens are write-once and never serialized.
type Session struct {
	CallID      string `json:"callId" db:"call_id"`
	ChannelName string `json:"channelName" db:"channel_name"`

	Caller Party `json:"caller"`
	Callee Party `json:"callee"`

	Status Status `json:"status" db:"status"`

	StartTime *time.Time `json:"startTime" db:"start_time"`
	EndTime   *time.Time `json:"endTime" db:"end_time"`
	Duration  int64      `json:"duration" db:"duration"`

	CallerToken string `json:"-" db:"caller_token"`
	CalleeToken string `json:"-" db:"callee_token"`

	Metadata map[string]string `json:"metadata" db:"metadata"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Redacted drops stored credentials so the value is safe to hand to readers.
func (s Session) Redacted() Session {
	s.CallerToken = ""
	s.CalleeToken = ""
	return s
}

const channelPrefix = "call_"

// ChannelFor derives the media channel name from a call id.
func ChannelFor(callID string) string { return channelPrefix + callID }

// CallIDFromChannel reverses ChannelFor.
func CallIDFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, channelPrefix)
	return id, ok && id != ""
}

// HistoryQuery selects one party's sessions, newest first.
type HistoryQuery struct {
	Role     Role
	PartyID  string
	Statuses []Status
	Limit    int
	Skip     int
}

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

type Page struct {
	Items []Session `json:"data"`
	Total int       `json:"total"`
	Limit int       `json:"limit"`
	Skip  int       `json:"skip"`
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func durationSeconds(start, end time.Time) int64 {
	d := int64(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

package calls

import (
	"fmt"
	"slices"
	"time"
)

// Event is a request to move a session between statuses.
type Event string

const (
	EventRing   Event = "ring"
	EventAccept Event = "accept"
	EventReject Event = "reject"
	EventMiss   Event = "miss"
	EventEnd    Event = "end"
	EventFail   Event = "fail"

	eventCreate   Event = "create"
	eventAnnotate Event = "annotate"
)

// Role is the capacity in which an actor touches a session.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
	RoleSystem Role = "system"
)

// Actor is the principal requesting a transition.
type Actor struct {
	ID   string
	Role Role
}

// System is the actor for transitions the service applies on its own.
var System = Actor{ID: "system", Role: RoleSystem}

type rule struct {
	from     []Status
	to       Status
	by       []Role
	setStart bool
	setEnd   bool
}

// rules is the complete transition table. Every status change goes through Plan.
var rules = map[Event]rule{
	EventRing: {
		from: []Status{StatusPending},
		to:   StatusRinging,
		by:   []Role{RoleSystem},
	},
	EventAccept: {
		from:     []Status{StatusPending, StatusRinging},
		to:       StatusAccepted,
		by:       []Role{RoleCallee},
		setStart: true,
	},
	EventReject: {
		from:   []Status{StatusPending, StatusRinging},
		to:     StatusRejected,
		by:     []Role{RoleCallee},
		setEnd: true,
	},
	EventMiss: {
		from:   []Status{StatusPending, StatusRinging},
		to:     StatusMissed,
		by:     []Role{RoleCaller},
		setEnd: true,
	},
	EventEnd: {
		from:   []Status{StatusAccepted},
		to:     StatusEnded,
		by:     []Role{RoleCaller, RoleCallee},
		setEnd: true,
	},
	EventFail: {
		from:   []Status{StatusPending, StatusRinging, StatusAccepted},
		to:     StatusFailed,
		by:     []Role{RoleSystem},
		setEnd: true,
	},
}

// Change is a conditional update: it applies only while the stored status is
// one of From. An empty To keeps the status and only merges metadata.
type Change struct {
	Event    Event
	From     []Status
	To       Status
	At       time.Time
	SetStart bool
	SetEnd   bool
	Metadata map[string]string
}

// Allows reports whether the change may apply to a session currently in s.
func (c Change) Allows(s Status) bool { return slices.Contains(c.From, s) }

// Apply returns the session after the change. The caller is responsible for
// checking Allows first; Apply itself never refuses.
func (c Change) Apply(s Session) Session {
	out := s
	out.Metadata = copyMetadata(s.Metadata)
	for k, v := range c.Metadata {
		if _, exists := out.Metadata[k]; !exists {
			out.Metadata[k] = v
		}
	}
	if c.To != "" {
		out.Status = c.To
	}
	if c.SetStart && out.StartTime == nil {
		at := c.At
		out.StartTime = &at
	}
	if c.SetEnd && out.EndTime == nil {
		at := c.At
		out.EndTime = &at
		if out.StartTime != nil && out.Duration == 0 {
			out.Duration = durationSeconds(*out.StartTime, at)
		}
	}
	out.UpdatedAt = c.At
	return out
}

// IsParty reports whether the actor is the caller or callee recorded on s.
func IsParty(s Session, a Actor) bool {
	switch a.Role {
	case RoleCaller:
		return a.ID != "" && a.ID == s.Caller.ID
	case RoleCallee:
		return a.ID != "" && a.ID == s.Callee.ID
	default:
		return false
	}
}

// Plan validates ev for actor against the session's current state and returns
// the change to apply. Authorization is checked before the status guard so a
// wrong party always sees ErrForbidden, never ErrInvalidTransition.
func Plan(s Session, ev Event, actor Actor, at time.Time, metadata map[string]string) (Change, error) {
	r, ok := rules[ev]
	if !ok {
		return Change{}, fmt.Errorf("%w: unknown event %q", ErrInvalidArgument, ev)
	}
	if !slices.Contains(r.by, actor.Role) {
		return Change{}, fmt.Errorf("%w: %s cannot %s", ErrForbidden, actor.Role, ev)
	}
	if actor.Role != RoleSystem && !IsParty(s, actor) {
		return Change{}, fmt.Errorf("%w: not a party to this call", ErrForbidden)
	}

	c := Change{
		Event:    ev,
		From:     r.from,
		To:       r.to,
		At:       at,
		SetStart: r.setStart,
		SetEnd:   r.setEnd,
		Metadata: metadata,
	}
	if !c.Allows(s.Status) {
		return Change{}, invalidTransition(ev, s.Status)
	}
	return c, nil
}

// annotation merges metadata onto a session that has not left setup.
func annotation(at time.Time, metadata map[string]string) Change {
	return Change{
		Event:    eventAnnotate,
		From:     []Status{StatusPending, StatusRinging},
		At:       at,
		Metadata: metadata,
	}
}

func invalidTransition(ev Event, current Status) error {
	return fmt.Errorf("%w: cannot %s a call that is %s", ErrInvalidTransition, ev, current)
}

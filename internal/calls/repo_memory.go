package calls

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository. Transition runs under the write lock,
// which makes the status check and the update one atomic step.
type MemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: map[string]Session{}}
}

func (r *MemoryRepo) Create(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.CallID]; exists {
		return ErrDuplicate
	}
	for _, other := range r.sessions {
		if other.ChannelName == s.ChannelName {
			return ErrDuplicate
		}
	}
	s.Metadata = copyMetadata(s.Metadata)
	r.sessions[s.CallID] = s
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, callID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	if !ok {
		return Session{}, ErrNotFound
	}
	s.Metadata = copyMetadata(s.Metadata)
	return s, nil
}

func (r *MemoryRepo) Transition(_ context.Context, callID string, c Change) (Session, Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return Session{}, "", ErrNotFound
	}
	if !c.Allows(s.Status) {
		return Session{}, s.Status, ErrConflict
	}
	next := c.Apply(s)
	r.sessions[callID] = next
	next.Metadata = copyMetadata(next.Metadata)
	return next, s.Status, nil
}

func (r *MemoryRepo) List(_ context.Context, q HistoryQuery) ([]Session, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Session
	for _, s := range r.sessions {
		if !belongsTo(s, q.Role, q.PartyID) {
			continue
		}
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, s.Status) {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CallID > matched[j].CallID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if q.Skip >= total {
		return []Session{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Skip+q.Limit < end {
		end = q.Skip + q.Limit
	}
	out := make([]Session, 0, end-q.Skip)
	for _, s := range matched[q.Skip:end] {
		s.Metadata = copyMetadata(s.Metadata)
		out = append(out, s)
	}
	return out, total, nil
}

func belongsTo(s Session, role Role, partyID string) bool {
	switch role {
	case RoleCaller:
		return s.Caller.ID == partyID
	case RoleCallee:
		return s.Callee.ID == partyID
	default:
		return false
	}
}

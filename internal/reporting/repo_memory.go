package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"callbridge/internal/calls"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
// It enforces party isolation on reads.
type MemoryRepo struct {
	mu sync.Mutex

	Calls []calls.Session
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCalls(_ context.Context, role calls.Role, partyID string, from, to time.Time) ([]calls.Session, error) {
	if partyID == "" {
		return nil, errors.New("party id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Session, 0)
	for _, c := range r.Calls {
		if !isParty(c, role, partyID) {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func isParty(c calls.Session, role calls.Role, partyID string) bool {
	switch role {
	case calls.RoleCaller:
		return c.Caller.ID == partyID
	case calls.RoleCallee:
		return c.Callee.ID == partyID
	}
	return false
}

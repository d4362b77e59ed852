package directory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests and local runs.
type MemoryRepo struct {
	mu       sync.RWMutex
	accounts map[Pool]map[string]Account
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{accounts: map[Pool]map[string]Account{
		PoolCaller: {},
		PoolCallee: {},
	}}
}

func (r *MemoryRepo) Get(_ context.Context, pool Pool, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[pool][id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) GetByEmail(_ context.Context, pool Pool, email string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts[pool] {
		if a.Email == email {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}

func (r *MemoryRepo) ListCallable(_ context.Context, onlineOnly bool) ([]Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Account
	for _, a := range r.accounts[PoolCallee] {
		if !a.Active || !a.HasDevice() || (onlineOnly && !a.Online) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (r *MemoryRepo) Upsert(_ context.Context, a Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.accounts[a.Pool][a.ID]; ok {
		a.CreatedAt = prev.CreatedAt
	}
	r.accounts[a.Pool][a.ID] = a
	return nil
}

func (r *MemoryRepo) UpdateDevice(_ context.Context, calleeID, pushToken string, platform Platform, now time.Time) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[PoolCallee][calleeID]
	if !ok {
		return Account{}, ErrNotFound
	}
	a.PushToken = pushToken
	a.Platform = platform
	a.UpdatedAt = now
	r.accounts[PoolCallee][calleeID] = a
	return a, nil
}

func (r *MemoryRepo) UpdatePresence(_ context.Context, calleeID string, online bool, now time.Time) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[PoolCallee][calleeID]
	if !ok {
		return Account{}, ErrNotFound
	}
	a.Online = online
	a.LastSeen = now
	a.UpdatedAt = now
	r.accounts[PoolCallee][calleeID] = a
	return a, nil
}

package auth

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRevocationHorizon is used when a revoked token carries no expiry.
const DefaultRevocationHorizon = 30 * 24 * time.Hour

// Revocations tracks session tokens invalidated before their natural expiry.
// Presence of an entry means the token must not authenticate.
type Revocations interface {
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// MemoryRevocations keeps entries in a sync.Map so lookups never wait on the
// sweeper. Each entry holds the instant after which the token would fail
// verification on its own.
type MemoryRevocations struct {
	entries sync.Map // token -> time.Time
	n       atomic.Int64
	clock   func() time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{clock: time.Now}
}

func (m *MemoryRevocations) Revoke(_ context.Context, token string, expiresAt time.Time) error {
	horizon := retentionHorizon(m.clock(), expiresAt)
	if prev, loaded := m.entries.Swap(token, horizon); !loaded {
		m.n.Add(1)
	} else if p, ok := prev.(time.Time); ok && p.After(horizon) {
		m.entries.Store(token, p)
	}
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, token string) (bool, error) {
	_, ok := m.entries.Load(token)
	return ok, nil
}

// Sweep drops entries whose horizon has passed and returns how many were removed.
func (m *MemoryRevocations) Sweep(now time.Time) int {
	removed := 0
	m.entries.Range(func(k, v any) bool {
		h, _ := v.(time.Time)
		if now.After(h) && m.entries.CompareAndDelete(k, v) {
			m.n.Add(-1)
			removed++
		}
		return true
	})
	return removed
}

func (m *MemoryRevocations) Len() int {
	return int(m.n.Load())
}

// Run sweeps on every tick until ctx is done.
func (m *MemoryRevocations) Run(ctx context.Context, interval time.Duration, log *slog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.Sweep(m.clock()); n > 0 {
				log.Info("revocation sweep", "removed", n, "remaining", m.Len())
			}
		}
	}
}

// retentionHorizon keeps an entry until the token's own expiry plus verifier
// leeway, or for the default horizon when the expiry is unknown.
func retentionHorizon(now, expiresAt time.Time) time.Time {
	if expiresAt.IsZero() {
		return now.Add(DefaultRevocationHorizon)
	}
	return expiresAt.Add(ClockSkew)
}

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"callbridge/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisRevocations stores entries as expiring keys so revocations survive
// restarts and are shared between replicas. Redis expiry replaces the sweeper.
type RedisRevocations struct {
	rdb   *redis.Client
	clock func() time.Time
}

func NewRedisRevocations(rdb *redis.Client) *RedisRevocations {
	return &RedisRevocations{rdb: rdb, clock: time.Now}
}

func (r *RedisRevocations) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	now := r.clock()
	horizon := retentionHorizon(now, expiresAt)
	if !horizon.After(now) {
		// Already past the point where verification fails.
		return nil
	}
	err := r.rdb.SetArgs(ctx, revocationKey(token), "1", redis.SetArgs{ExpireAt: horizon}).Err()
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.rdb.Exists(ctx, revocationKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return n > 0, nil
}

// Tokens are hashed so raw bearer credentials never land in redis.
func revocationKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return utils.Key("callbridge", "revoked", hex.EncodeToString(sum[:]))
}

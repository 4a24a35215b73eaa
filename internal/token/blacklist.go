package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist is the revocation set for access tokens. Entries are write-once
// and self-expire with the token's natural lifetime.
type Blacklist interface {
	Revoke(ctx context.Context, tokenString string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenString string) (bool, error)
}

type redisBlacklist struct {
	client *redis.Client
}

// NewRedisBlacklist stores revocations as TTL'd keys; no cleanup task needed.
func NewRedisBlacklist(client *redis.Client) Blacklist {
	return &redisBlacklist{client: client}
}

func (b *redisBlacklist) Revoke(ctx context.Context, tokenString string, ttl time.Duration) error {
	if ttl <= 0 {
		// Already past natural expiry; nothing to keep.
		return nil
	}
	return b.client.Set(ctx, blacklistKey(tokenString), "1", ttl).Err()
}

func (b *redisBlacklist) IsRevoked(ctx context.Context, tokenString string) (bool, error) {
	n, err := b.client.Exists(ctx, blacklistKey(tokenString)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// blacklistKey hashes the token so raw credentials never land in Redis keys.
func blacklistKey(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return "auth:revoked:" + hex.EncodeToString(sum[:])
}

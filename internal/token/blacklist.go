package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTokenRevoked means the access token was revoked by logout
var ErrTokenRevoked = errors.New("access token revoked")

// Blacklist records revoked access token ids until they would have expired
type Blacklist struct {
	client *redis.Client
}

// NewBlacklist creates a new token blacklist
func NewBlacklist(client *redis.Client) *Blacklist {
	return &Blacklist{client: client}
}

func blacklistKey(tokenID string) string {
	return "blacklist:jti:" + tokenID
}

// Add revokes a token id; tokens that already expired are skipped
func (b *Blacklist) Add(ctx context.Context, tokenID string, expiry time.Time) error {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		return nil
	}

	if err := b.client.Set(ctx, blacklistKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsBlacklisted checks if a token id was revoked
func (b *Blacklist) IsBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	n, err := b.client.Exists(ctx, blacklistKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return n > 0, nil
}

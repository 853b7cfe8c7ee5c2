package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// refreshTokenBytes is the entropy of an opaque refresh token
const refreshTokenBytes = 48

var (
	// ErrRefreshNotFound means the token is unknown or has expired
	ErrRefreshNotFound = errors.New("refresh token not found or expired")
	// ErrRefreshReplayed means the token was already rotated once
	ErrRefreshReplayed = errors.New("refresh token already used")
)

// RefreshToken is the raw value handed to the client exactly once
type RefreshToken struct {
	Token     string
	ExpiresAt time.Time
}

// RefreshRecord is the server-side state bound to a refresh token
type RefreshRecord struct {
	UserID    int       `json:"user_id"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RefreshStore keeps refresh token state in Redis. Only the SHA-256 of a
// token is used as key, so a Redis dump does not leak usable tokens.
type RefreshStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRefreshStore creates a refresh token store
func NewRefreshStore(client *redis.Client, ttl time.Duration) *RefreshStore {
	return &RefreshStore{client: client, ttl: ttl}
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func activeKey(hash string) string   { return "refresh:active:" + hash }
func consumedKey(hash string) string { return "refresh:consumed:" + hash }

// Issue mints a new refresh token for a user's browser session
func (s *RefreshStore) Issue(ctx context.Context, userID int, sessionID string) (*RefreshToken, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	raw := hex.EncodeToString(b)

	now := time.Now().UTC()
	rec := RefreshRecord{
		UserID:    userID,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode refresh record: %w", err)
	}

	if err := s.client.Set(ctx, activeKey(hashToken(raw)), payload, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &RefreshToken{Token: raw, ExpiresAt: rec.ExpiresAt}, nil
}

// consumeScript removes the active record and writes the consumed marker in
// one step. It returns the record, -1 for a replayed token, or nil.
var consumeScript = redis.NewScript(`
local payload = redis.call('GET', KEYS[1])
if not payload then
	if redis.call('EXISTS', KEYS[2]) == 1 then
		return -1
	end
	return false
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl <= 0 then
	ttl = tonumber(ARGV[1])
end
redis.call('DEL', KEYS[1])
redis.call('SET', KEYS[2], '1', 'PX', ttl)
return payload
`)

// Consume atomically removes the token and returns its record. Of any number
// of concurrent callers presenting the same token, exactly one receives the
// record and every other one sees ErrRefreshReplayed.
func (s *RefreshStore) Consume(ctx context.Context, raw string) (*RefreshRecord, error) {
	if raw == "" {
		return nil, ErrRefreshNotFound
	}
	hash := hashToken(raw)

	keys := []string{activeKey(hash), consumedKey(hash)}
	res, err := consumeScript.Run(ctx, s.client, keys, s.ttl.Milliseconds()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRefreshNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	payload, ok := res.(string)
	if !ok {
		return nil, ErrRefreshReplayed
	}

	var rec RefreshRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode refresh record: %w", err)
	}
	return &rec, nil
}

// Restore puts back a consumed token whose rotation could not complete, so
// the client may present it again. An expired record is not restored.
func (s *RefreshStore) Restore(ctx context.Context, raw string, rec *RefreshRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if raw == "" || ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode refresh record: %w", err)
	}

	hash := hashToken(raw)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, activeKey(hash), payload, ttl)
		pipe.Del(ctx, consumedKey(hash))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to restore refresh token: %w", err)
	}
	return nil
}

// Revoke drops a refresh token without rotating it (logout)
func (s *RefreshStore) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if err := s.client.Del(ctx, activeKey(hashToken(raw))).Err(); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

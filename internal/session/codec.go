package session

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/hkdf"

	"github.com/clasedesurf/tidepool/internal/user"
)

// ErrNoSession means no usable session cookie was presented
var ErrNoSession = errors.New("no session")

const keyInfo = "tidepool session encryption key"

// Session is the client-held authentication state. A value is never mutated
// once decoded; a renewal produces a new Session.
type Session struct {
	Principal            user.Principal `json:"principal"`
	AccessToken          string         `json:"accessToken"`
	AccessTokenExpiresAt time.Time      `json:"accessTokenExpiresAt"`
	Expires              time.Time      `json:"exp"`
}

// Expired reports whether the embedded access token is no longer usable
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.AccessTokenExpiresAt)
}

// Renewed returns a copy carrying a new access token
func (s *Session) Renewed(p user.Principal, accessToken string, expiresAt time.Time) *Session {
	next := *s
	next.Principal = p
	next.AccessToken = accessToken
	next.AccessTokenExpiresAt = expiresAt
	return &next
}

// Codec seals sessions into compact JWE (dir + A256GCM)
type Codec struct {
	key       []byte
	encrypter jose.Encrypter
	now       func() time.Time
}

// NewCodec derives the content key from secret with HKDF-SHA256
func NewCodec(secret string) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 characters")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}

	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: key},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session encrypter: %w", err)
	}

	return &Codec{key: key, encrypter: enc, now: time.Now}, nil
}

// Encode seals a session
func (c *Codec) Encode(s *Session) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}
	obj, err := c.encrypter.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt session: %w", err)
	}
	return obj.CompactSerialize()
}

// Decode opens a sealed session. Anything that does not decrypt, parse or
// is past its absolute expiry is ErrNoSession.
func (c *Codec) Decode(raw string) (*Session, error) {
	if raw == "" {
		return nil, ErrNoSession
	}

	obj, err := jose.ParseEncryptedCompact(raw, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	payload, err := obj.Decrypt(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}

	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	if !s.Principal.Role.Valid() || s.AccessToken == "" {
		return nil, ErrNoSession
	}
	if !s.Expires.IsZero() && !c.now().Before(s.Expires) {
		return nil, ErrNoSession
	}
	return &s, nil
}

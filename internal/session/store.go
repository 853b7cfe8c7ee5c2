package session

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clasedesurf/tidepool/internal/config"
)

// RefreshCookieName holds the backend refresh token on the gateway origin
const RefreshCookieName = "refreshToken"

const refreshCookiePath = "/api"

// Store reads and writes the session and refresh cookies
type Store struct {
	codec  *Codec
	name   string
	maxAge time.Duration
	domain string
	secure bool
}

// NewStore creates a cookie store for the gateway
func NewStore(codec *Codec, cfg config.SessionConfig) *Store {
	return &Store{
		codec:  codec,
		name:   cfg.CookieName,
		maxAge: cfg.MaxAge,
		domain: cfg.Domain,
		secure: cfg.Secure,
	}
}

// NewSession starts a session whose cookie lives for the configured max age
func (s *Store) NewSession(now time.Time) *Session {
	return &Session{Expires: now.Add(s.maxAge)}
}

// Load decodes the session cookie
func (s *Store) Load(c *gin.Context) (*Session, error) {
	raw, err := c.Cookie(s.name)
	if err != nil {
		return nil, ErrNoSession
	}
	return s.codec.Decode(raw)
}

// Save encodes sess into the session cookie
func (s *Store) Save(c *gin.Context, sess *Session) error {
	raw, err := s.codec.Encode(sess)
	if err != nil {
		return err
	}
	maxAge := int(time.Until(sess.Expires).Seconds())
	if sess.Expires.IsZero() {
		maxAge = int(s.maxAge.Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.name, raw, maxAge, "/", s.domain, s.secure, true)
	return nil
}

// RefreshToken returns the refresh token cookie value, if any
func (s *Store) RefreshToken(c *gin.Context) string {
	v, _ := c.Cookie(RefreshCookieName)
	return v
}

// SaveRefreshToken stores a rotated refresh token
func (s *Store) SaveRefreshToken(c *gin.Context, token string, expires time.Time) {
	maxAge := int(time.Until(expires).Seconds())
	if expires.IsZero() {
		maxAge = int(s.maxAge.Seconds())
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookieName, token, maxAge, refreshCookiePath, s.domain, s.secure, true)
}

// Clear expires both cookies
func (s *Store) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.name, "", -1, "/", s.domain, s.secure, true)
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookieName, "", -1, refreshCookiePath, s.domain, s.secure, true)
}

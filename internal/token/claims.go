package token

import (
	"time"

	"github.com/clasedesurf/tidepool/internal/user"
	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the access token claims
type Claims struct {
	UserID int       `json:"user_id"`
	Email  string    `json:"email"`
	Name   string    `json:"name"`
	Role   user.Role `json:"role"`
	jwt.RegisteredClaims
}

// Principal rebuilds the identity embedded in the token
func (c *Claims) Principal() user.Principal {
	return user.Principal{
		ID:    c.UserID,
		Name:  c.Name,
		Email: c.Email,
		Role:  c.Role,
	}
}

// AccessToken is a signed bearer token and its expiry
type AccessToken struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenType string    `json:"token_type"`
	ID        string    `json:"-"`
}

// TokenType constants
const (
	TokenTypeBearer = "Bearer"
)

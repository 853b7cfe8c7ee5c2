package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/clasedesurf/tidepool/internal/token"
	"github.com/clasedesurf/tidepool/internal/user"
	apperrors "github.com/clasedesurf/tidepool/pkg/errors"
	"github.com/clasedesurf/tidepool/pkg/response"
	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// TokenValidator verifies a bearer access token
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*token.Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(authHeader[len("Bearer "):])
	return tok, tok != ""
}

// Auth creates an authentication middleware
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := BearerToken(c)
		if !ok {
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}

		claims, err := validator.ValidateToken(c.Request.Context(), tokenString)
		if errors.Is(err, token.ErrTokenRevoked) {
			response.Abort(c, apperrors.ErrTokenRevoked)
			return
		}
		if err != nil {
			response.Abort(c, apperrors.ErrInvalidToken)
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by Auth
func ClaimsFrom(c *gin.Context) (*token.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.Claims)
	return claims, ok
}

// RequireRole rejects callers whose role is not listed
func RequireRole(roles ...user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}
		response.Abort(c, apperrors.ErrForbidden)
	}
}

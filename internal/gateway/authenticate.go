package gateway

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clasedesurf/tidepool/internal/middleware"
	"github.com/clasedesurf/tidepool/internal/session"
	"github.com/clasedesurf/tidepool/internal/token"
	"github.com/clasedesurf/tidepool/internal/user"
	apperrors "github.com/clasedesurf/tidepool/pkg/errors"
	"github.com/clasedesurf/tidepool/pkg/response"
)

const identityKey = "gateway.identity"

// Identity is the authenticated caller of a gateway request
type Identity struct {
	Principal   user.Principal
	AccessToken string
}

// TokenVerifier checks bearer tokens presented directly to the gateway
type TokenVerifier interface {
	Validate(tokenString string) (*token.Claims, error)
}

// IdentityFrom returns the identity stored by Authenticate
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// Authenticator establishes who is calling. It never contacts the backend
// for a request that carries neither a bearer token nor a session cookie.
type Authenticator struct {
	store       *session.Store
	coordinator *session.Coordinator
	verifier    TokenVerifier
	logger      *zap.Logger
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(store *session.Store, coordinator *session.Coordinator, verifier TokenVerifier, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		store:       store,
		coordinator: coordinator,
		verifier:    verifier,
		logger:      logger,
	}
}

// Authenticate resolves the caller from a bearer token or the session
// cookie, renewing an expired session on the way.
func (a *Authenticator) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if bearer, ok := middleware.BearerToken(c); ok {
			claims, err := a.verifier.Validate(bearer)
			if err != nil {
				response.Abort(c, apperrors.ErrInvalidToken)
				return
			}
			c.Set(identityKey, Identity{Principal: claims.Principal(), AccessToken: bearer})
			c.Next()
			return
		}

		current, err := a.store.Load(c)
		if err != nil {
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}

		res, err := a.coordinator.GetValidSession(c.Request.Context(), current, a.store.RefreshToken(c))
		switch {
		case errors.Is(err, session.ErrRefreshRejected), errors.Is(err, session.ErrNoSession):
			a.store.Clear(c)
			response.Abort(c, apperrors.ErrRefreshRejected)
			return
		case errors.Is(err, session.ErrTransientRefresh):
			response.Abort(c, apperrors.ErrTransientRefresh)
			return
		case err != nil:
			a.logger.Error("session read failed", zap.Error(err))
			response.Abort(c, apperrors.ErrInternal)
			return
		}

		if res.Refreshed {
			if err := a.store.Save(c, res.Session); err != nil {
				a.logger.Error("failed to write renewed session", zap.Error(err))
				response.Abort(c, apperrors.ErrInternal)
				return
			}
			a.store.SaveRefreshToken(c, res.RefreshToken, res.RefreshExpiresAt)
		}

		c.Set(identityKey, Identity{Principal: res.Session.Principal, AccessToken: res.Session.AccessToken})
		c.Next()
	}
}

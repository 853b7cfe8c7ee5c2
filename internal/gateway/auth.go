package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clasedesurf/tidepool/internal/backend"
	"github.com/clasedesurf/tidepool/internal/session"
	"github.com/clasedesurf/tidepool/internal/user"
	apperrors "github.com/clasedesurf/tidepool/pkg/errors"
	"github.com/clasedesurf/tidepool/pkg/response"
)

// AuthBackend is the part of the backend the sign-in flow needs
type AuthBackend interface {
	Login(ctx context.Context, email, password string) (*backend.Tokens, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
}

// AuthHandler serves sign in, sign out and session introspection
type AuthHandler struct {
	backend AuthBackend
	store   *session.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewAuthHandler creates the gateway auth handler
func NewAuthHandler(backend AuthBackend, store *session.Store, timeout time.Duration, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{backend: backend, store: store, timeout: timeout, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sessionView struct {
	Principal user.Principal `json:"principal"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// Login exchanges credentials for a session cookie
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "email and password are required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	tokens, err := h.backend.Login(ctx, strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		h.loginFailed(c, err)
		return
	}

	sess := h.store.NewSession(time.Now())
	sess = sess.Renewed(tokens.Principal, tokens.AccessToken, tokens.ExpiresAt)
	if err := h.store.Save(c, sess); err != nil {
		h.logger.Error("failed to write session", zap.Error(err))
		response.Error(c, apperrors.ErrInternal)
		return
	}
	h.store.SaveRefreshToken(c, tokens.RefreshToken, tokens.RefreshExpiresAt)

	response.Success(c, http.StatusOK, sessionView{Principal: sess.Principal, ExpiresAt: sess.AccessTokenExpiresAt})
}

// Logout revokes the backend tokens best effort and clears the cookies
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var accessToken string
	if current, err := h.store.Load(c); err == nil {
		accessToken = current.AccessToken
	}
	refreshToken := h.store.RefreshToken(c)

	if accessToken != "" || refreshToken != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		defer cancel()
		if err := h.backend.Logout(ctx, accessToken, refreshToken); err != nil {
			h.logger.Warn("backend logout failed", zap.Error(err))
		}
	}

	h.store.Clear(c)
	response.Success(c, http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Session reports the current principal. It runs behind Authenticate, so
// reading it also renews an expired session.
// GET /api/auth/session
func (h *AuthHandler) Session(c *gin.Context) {
	id, ok := IdentityFrom(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"principal": id.Principal})
}

func (h *AuthHandler) loginFailed(c *gin.Context, err error) {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrInvalidCredentials):
		response.Error(c, apperrors.ErrInvalidCredentials)
	case errors.As(err, &se) && se.Status == http.StatusTooManyRequests:
		response.Error(c, apperrors.ErrRateLimitExceeded)
	case errors.As(err, &se) && se.Status == http.StatusBadRequest:
		response.ValidationError(c, se.Message)
	case errors.Is(err, backend.ErrUnavailable):
		h.logger.Error("backend login unavailable", zap.Error(err))
		response.Error(c, apperrors.ErrUnavailable)
	default:
		h.logger.Error("backend login failed", zap.Error(err))
		response.Error(c, apperrors.ErrBadGateway)
	}
}

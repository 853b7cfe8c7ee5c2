package auth

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clasedesurf/tidepool/internal/config"
	"github.com/clasedesurf/tidepool/internal/middleware"
	"github.com/clasedesurf/tidepool/internal/user"
	apperrors "github.com/clasedesurf/tidepool/pkg/errors"
	"github.com/clasedesurf/tidepool/pkg/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RefreshCookieName is the HTTP-only cookie carrying the refresh token
const RefreshCookieName = "refreshToken"

const refreshCookiePath = "/auth"

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is a student sign up
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterSchoolRequest signs up a school owner and their school
type RegisterSchoolRequest struct {
	SchoolName string `json:"schoolName"`
	Location   string `json:"location"`
	AdminName  string `json:"adminName"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

// SchoolRegistrationResponse is returned by register-school
type SchoolRegistrationResponse struct {
	TokenResponse
	SchoolID int    `json:"schoolId"`
	Status   string `json:"status"`
}

// TokenResponse is returned by login and refresh. The refresh token itself
// only travels in the cookie.
type TokenResponse struct {
	Principal   user.Principal `json:"principal"`
	AccessToken string         `json:"accessToken"`
	ExpiresAt   time.Time      `json:"expiresAt"`
}

// Handler handles authentication HTTP requests
type Handler struct {
	service *Service
	cookie  config.CookieConfig
	logger  *zap.Logger
}

// NewHandler creates a new authentication handler
func NewHandler(service *Service, cookie config.CookieConfig, logger *zap.Logger) *Handler {
	return &Handler{service: service, cookie: cookie, logger: logger}
}

// Login handles email/password login
// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "Request body must be JSON with email and password")
		return
	}
	if err := ValidateLoginRequest(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	sess, err := h.service.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}

	h.setRefreshCookie(c, sess)
	response.Success(c, http.StatusOK, tokenResponse(sess))
}

// Register creates a student account and signs it in
// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "Request body must be JSON with name, email and password")
		return
	}
	if err := ValidateRegisterRequest(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	sess, err := h.service.Register(c.Request.Context(), Registration{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}, c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}

	h.setRefreshCookie(c, sess)
	response.Success(c, http.StatusCreated, tokenResponse(sess))
}

// RegisterSchool creates a school owner with a pending school
// POST /auth/register-school
func (h *Handler) RegisterSchool(c *gin.Context) {
	var req RegisterSchoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "Request body must be JSON")
		return
	}
	if err := ValidateRegisterSchoolRequest(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	sess, schoolID, err := h.service.RegisterSchool(c.Request.Context(), SchoolRegistration{
		SchoolName: req.SchoolName,
		Location:   req.Location,
		AdminName:  req.AdminName,
		Email:      req.Email,
		Password:   req.Password,
	}, c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}

	h.setRefreshCookie(c, sess)
	response.Success(c, http.StatusCreated, SchoolRegistrationResponse{
		TokenResponse: tokenResponse(sess),
		SchoolID:      schoolID,
		Status:        user.SchoolStatusPending,
	})
}

// Refresh rotates the refresh cookie and returns a new access token
// POST /auth/refresh
func (h *Handler) Refresh(c *gin.Context) {
	raw, err := c.Cookie(RefreshCookieName)
	if err != nil || raw == "" {
		response.Error(c, apperrors.ErrRefreshRejected)
		return
	}

	sess, err := h.service.Refresh(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			h.clearRefreshCookie(c)
		}
		h.fail(c, err)
		return
	}

	h.setRefreshCookie(c, sess)
	response.Success(c, http.StatusOK, tokenResponse(sess))
}

// Logout revokes both tokens and clears the refresh cookie
// POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	accessToken, _ := middleware.BearerToken(c)
	raw, _ := c.Cookie(RefreshCookieName)

	if err := h.service.Logout(c.Request.Context(), accessToken, raw); err != nil {
		h.fail(c, err)
		return
	}

	h.clearRefreshCookie(c)
	response.Success(c, http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Me returns the authenticated principal
// GET /auth/me, GET /users/profile
func (h *Handler) Me(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	usr, err := h.service.CurrentUser(c.Request.Context(), claims)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"principal":    usr.Principal(),
		"lastLoggedOn": usr.LastLoggedOn.Time,
	})
}

// ProfileRequest is the editable part of a profile
type ProfileRequest struct {
	Name string `json:"name" binding:"required,min=1,max=120"`
}

// UpdateProfile changes the caller's display name
// PUT /users/profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "name is required and must be at most 120 characters")
		return
	}

	usr, err := h.service.UpdateProfile(c.Request.Context(), claims.UserID, strings.TrimSpace(req.Name))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && usr == nil) {
		response.Error(c, apperrors.ErrNotFound)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"principal": usr.Principal()})
}

// fail maps service errors onto the public error envelope
func (h *Handler) fail(c *gin.Context, err error) {
	var limited *RateLimitError
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		response.Error(c, apperrors.ErrInvalidCredentials)
	case errors.Is(err, ErrRefreshRejected):
		response.Error(c, apperrors.ErrRefreshRejected)
	case errors.Is(err, user.ErrEmailTaken):
		response.Error(c, apperrors.ErrEmailTaken)
	case errors.As(err, &limited):
		c.Header("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds())+1))
		response.Error(c, apperrors.ErrRateLimitExceeded)
	default:
		h.logger.Error("auth request failed", zap.String("route", c.FullPath()), zap.Error(err))
		response.Error(c, err)
	}
}

func (h *Handler) setRefreshCookie(c *gin.Context, sess *Session) {
	maxAge := int(time.Until(sess.RefreshToken.ExpiresAt).Seconds())
	c.SetSameSite(sameSite(h.cookie.SameSite))
	c.SetCookie(RefreshCookieName, sess.RefreshToken.Token, maxAge, refreshCookiePath, h.cookie.Domain, h.cookie.Secure, true)
}

func (h *Handler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(sameSite(h.cookie.SameSite))
	c.SetCookie(RefreshCookieName, "", -1, refreshCookiePath, h.cookie.Domain, h.cookie.Secure, true)
}

func sameSite(mode string) http.SameSite {
	switch strings.ToLower(mode) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

func tokenResponse(sess *Session) TokenResponse {
	return TokenResponse{
		Principal:   sess.Principal,
		AccessToken: sess.AccessToken.Token,
		ExpiresAt:   sess.AccessToken.ExpiresAt,
	}
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/clasedesurf/tidepool/internal/token"
	"github.com/clasedesurf/tidepool/internal/user"
)

type stubValidator struct {
	claims *token.Claims
	err    error
}

func (s stubValidator) ValidateToken(context.Context, string) (*token.Claims, error) {
	return s.claims, s.err
}

func protectedRouter(v TokenValidator, roles ...user.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(zap.NewNop()), SecurityHeaders())
	handlers := []gin.HandlerFunc{Auth(v)}
	if len(roles) > 0 {
		handlers = append(handlers, RequireRole(roles...))
	}
	handlers = append(handlers, func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, string(claims.Role))
	})
	r.GET("/private", handlers...)
	r.GET("/panic", func(*gin.Context) { panic("wipeout") })
	return r
}

func get(r *gin.Engine, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	instructor := &token.Claims{Role: user.RoleInstructor}

	tests := []struct {
		name   string
		v      stubValidator
		header string
		want   int
		code   string
	}{
		{"missing header", stubValidator{claims: instructor}, "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", stubValidator{claims: instructor}, "Basic abc", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"empty bearer", stubValidator{claims: instructor}, "Bearer   ", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"revoked", stubValidator{err: token.ErrTokenRevoked}, "Bearer abc", http.StatusUnauthorized, "TOKEN_REVOKED"},
		{"invalid", stubValidator{err: errors.New("bad signature")}, "Bearer abc", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"valid", stubValidator{claims: instructor}, "Bearer abc", http.StatusOK, "INSTRUCTOR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(protectedRouter(tt.v), "/private", tt.header)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	student := stubValidator{claims: &token.Claims{Role: user.RoleStudent}}
	owner := stubValidator{claims: &token.Claims{Role: user.RoleSchoolAdmin}}

	w := get(protectedRouter(student, user.RoleSchoolAdmin, user.RoleAdmin), "/private", "Bearer abc")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = get(protectedRouter(owner, user.RoleSchoolAdmin, user.RoleAdmin), "/private", "Bearer abc")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecoveryAndSecurityHeaders(t *testing.T) {
	w := get(protectedRouter(stubValidator{}), "/panic", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.NotContains(t, w.Body.String(), "wipeout")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

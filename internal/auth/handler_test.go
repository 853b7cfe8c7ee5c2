package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clasedesurf/tidepool/internal/config"
	"github.com/clasedesurf/tidepool/internal/middleware"
	"github.com/clasedesurf/tidepool/internal/user"
)

func newTestRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc, config.CookieConfig{Secure: true, SameSite: "strict"}, zap.NewNop())

	r := gin.New()
	r.POST("/auth/login", h.Login)
	r.POST("/auth/register", h.Register)
	r.POST("/auth/register-school", h.RegisterSchool)
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/auth/logout", h.Logout)
	r.GET("/auth/me", middleware.Auth(f.svc), h.Me)
	r.PUT("/users/profile", middleware.Auth(f.svc), h.UpdateProfile)
	return r
}

func postJSON(r http.Handler, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == RefreshCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", RefreshCookieName)
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestHandler_LoginSetsRefreshCookie(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	f.expectUserByEmail("kai@surf.pt", 7, user.RoleStudent)
	f.expectAttempt("kai@surf.pt", "192.0.2.1", true)
	f.expectLastLoggedOn(7)

	w := postJSON(r, "/auth/login", LoginRequest{Email: "kai@surf.pt", Password: "Barrel2024"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var body TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, user.RoleStudent, body.Principal.Role)
	assert.NotEmpty(t, body.AccessToken)
	assert.NotContains(t, w.Body.String(), "refreshToken")

	c := refreshCookie(t, w)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.NotEmpty(t, c.Value)
}

func TestHandler_LoginFailureGivesNoHint(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)

	f.expectUserByEmail("kai@surf.pt", 7, user.RoleStudent)
	f.expectAttempt("kai@surf.pt", "192.0.2.1", false)
	wrong := postJSON(r, "/auth/login", LoginRequest{Email: "kai@surf.pt", Password: "Closeout"})

	f.expectNoUserByEmail("ghost@surf.pt")
	f.expectAttempt("ghost@surf.pt", "192.0.2.1", false)
	unknown := postJSON(r, "/auth/login", LoginRequest{Email: "ghost@surf.pt", Password: "Closeout"})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())
	assert.Contains(t, wrong.Body.String(), "INVALID_CREDENTIALS")
	assert.Empty(t, wrong.Result().Cookies())
}

func TestHandler_LoginValidation(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)

	w := postJSON(r, "/auth/login", LoginRequest{Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_FAILED")
}

func TestHandler_RefreshRotatesCookie(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	sess := f.login(t, 7, user.RoleStudent)
	old := &http.Cookie{Name: RefreshCookieName, Value: sess.RefreshToken.Token}

	f.expectUserByID(7, user.RoleStudent)
	w := postJSON(r, "/auth/refresh", nil, old)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEqual(t, old.Value, refreshCookie(t, w).Value)

	replay := postJSON(r, "/auth/refresh", nil, old)
	assert.Equal(t, http.StatusUnauthorized, replay.Code)
	assert.Contains(t, replay.Body.String(), "REFRESH_REJECTED")
	assert.Equal(t, -1, refreshCookie(t, replay).MaxAge)
}

func TestHandler_RefreshWithoutCookie(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)

	w := postJSON(r, "/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "REFRESH_REJECTED")
}

func TestHandler_MeAndLogout(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	sess := f.login(t, 7, user.RoleStudent)

	me := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken.Token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	f.expectUserByID(7, user.RoleStudent)
	w := me()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"role":"STUDENT"`)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken.Token)
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: sess.RefreshToken.Token})
	lw := httptest.NewRecorder()
	r.ServeHTTP(lw, req)
	require.Equal(t, http.StatusOK, lw.Code)

	w = me()
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_REVOKED")
}

func TestHandler_UpdateProfile(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	sess := f.login(t, 7, user.RoleStudent)

	f.mock.ExpectExec(`UPDATE users SET name = \$1`).
		WithArgs("Kai Nakamura", sqlmock.AnyArg(), 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.expectUserByID(7, user.RoleStudent)

	req := httptest.NewRequest(http.MethodPut, "/users/profile", strings.NewReader(`{"name":"  Kai Nakamura "}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken.Token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NoError(t, f.mock.ExpectationsWereMet())

	bad := httptest.NewRequest(http.MethodPut, "/users/profile", strings.NewReader(`{"name":""}`))
	bad.Header.Set("Content-Type", "application/json")
	bad.Header.Set("Authorization", "Bearer "+sess.AccessToken.Token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_RegisterCreatesSession(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	f.expectInsertUser("Kai Lopes", "kai@surf.pt", 12, user.RoleStudent)

	w := postJSON(r, "/auth/register", RegisterRequest{Name: "Kai Lopes", Email: "kai@surf.pt", Password: "Barrel2024"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var body TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, user.RoleStudent, body.Principal.Role)
	assert.NotEmpty(t, body.AccessToken)
	assert.True(t, refreshCookie(t, w).HttpOnly)
}

func TestHandler_RegisterIgnoresRequestedRole(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	f.expectInsertUser("Kai Lopes", "kai@surf.pt", 12, user.RoleStudent)

	w := postJSON(r, "/auth/register", map[string]string{
		"name":     "Kai Lopes",
		"email":    "kai@surf.pt",
		"password": "Barrel2024",
		"role":     "ADMIN",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandler_RegisterEmailTaken(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	f.expectEmailTaken("kai@surf.pt")

	w := postJSON(r, "/auth/register", RegisterRequest{Name: "Kai", Email: "kai@surf.pt", Password: "Barrel2024"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "EMAIL_TAKEN")
	assert.Empty(t, w.Result().Cookies())
}

func TestHandler_RegisterValidation(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)

	w := postJSON(r, "/auth/register", RegisterRequest{Name: "Kai", Email: "kai@surf.pt", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_FAILED")

	w = postJSON(r, "/auth/register-school", RegisterSchoolRequest{AdminName: "Rita", Email: "rita@ericeira.pt", Password: "Barrel2024"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "schoolName")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandler_RegisterSchool(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	f.mock.ExpectBegin()
	f.expectInsertUser("Rita Sousa", "rita@ericeira.pt", 21, user.RoleSchoolAdmin)
	f.mock.ExpectQuery(`INSERT INTO schools`).
		WithArgs("Ericeira Surf Club", "Ericeira", 21, "PENDING", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	f.mock.ExpectCommit()

	w := postJSON(r, "/auth/register-school", RegisterSchoolRequest{
		SchoolName: "Ericeira Surf Club",
		Location:   "Ericeira",
		AdminName:  "Rita Sousa",
		Email:      "rita@ericeira.pt",
		Password:   "Barrel2024",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var body SchoolRegistrationResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, 42, body.SchoolID)
	assert.Equal(t, "PENDING", body.Status)
	assert.Equal(t, user.RoleSchoolAdmin, body.Principal.Role)
	refreshCookie(t, w)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

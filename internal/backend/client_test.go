package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasedesurf/tidepool/internal/user"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	return c
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status < 400 {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"code": "X", "message": "nope"},
	})
}

func tokenHandler(t *testing.T, wantRefresh string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if wantRefresh != "" {
			ck, err := r.Cookie(RefreshCookieName)
			if err != nil || ck.Value != wantRefresh {
				writeEnvelope(w, http.StatusUnauthorized, nil)
				return
			}
		}
		http.SetCookie(w, &http.Cookie{Name: RefreshCookieName, Value: "rt-new", MaxAge: 3600, HttpOnly: true})
		writeEnvelope(w, http.StatusOK, map[string]any{
			"principal":   user.Principal{ID: 7, Name: "Kai", Email: "kai@surf.pt", Role: user.RoleStudent},
			"accessToken": "at-new",
			"expiresAt":   time.Date(2026, 1, 1, 12, 15, 0, 0, time.UTC),
		})
	}
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost", "://x"} {
		_, err := NewClient(raw)
		assert.Error(t, err, raw)
	}
}

func TestLogin(t *testing.T) {
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		if gotBody["password"] != "Barrel2024" {
			writeEnvelope(w, http.StatusUnauthorized, nil)
			return
		}
		tokenHandler(t, "")(w, r)
	})

	tokens, err := c.Login(context.Background(), "kai@surf.pt", "Barrel2024")
	require.NoError(t, err)
	assert.Equal(t, "at-new", tokens.AccessToken)
	assert.Equal(t, "rt-new", tokens.RefreshToken)
	assert.Equal(t, user.RoleStudent, tokens.Principal.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tokens.RefreshExpiresAt, 5*time.Second)
	assert.Equal(t, "kai@surf.pt", gotBody["email"])

	_, err = c.Login(context.Background(), "kai@surf.pt", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_RateLimitedIsStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusTooManyRequests, nil)
	})

	_, err := c.Login(context.Background(), "kai@surf.pt", "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Status)
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{"rotated", nil, nil},
		{"rejected", func(w http.ResponseWriter, r *http.Request) { writeEnvelope(w, http.StatusUnauthorized, nil) }, ErrRefreshRejected},
		{"bad request is terminal", func(w http.ResponseWriter, r *http.Request) { writeEnvelope(w, http.StatusBadRequest, nil) }, ErrRefreshRejected},
		{"server error is transient", func(w http.ResponseWriter, r *http.Request) { writeEnvelope(w, http.StatusBadGateway, nil) }, ErrUnavailable},
		{"throttled is transient", func(w http.ResponseWriter, r *http.Request) { writeEnvelope(w, http.StatusTooManyRequests, nil) }, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.handler
			if h == nil {
				h = tokenHandler(t, "rt-old")
			}
			c := newTestClient(t, h)

			tokens, err := c.Refresh(context.Background(), "rt-old")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "rt-new", tokens.RefreshToken)
		})
	}
}

func TestRefresh_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	srv.Close()

	_, err = c.Refresh(context.Background(), "rt")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRefresh_TimeoutIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Refresh(ctx, "rt")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLookupOrganization(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		data    any
		want    int
		wantErr error
	}{
		{"resolved", http.StatusOK, map[string]int{"organizationId": 42}, 42, nil},
		{"no school", http.StatusNotFound, nil, 0, ErrNoOrganization},
		{"bearer refused", http.StatusUnauthorized, nil, 0, ErrUnauthorized},
		{"backend down", http.StatusServiceUnavailable, nil, 0, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/organizations/principal/5", r.URL.Path)
				assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
				writeEnvelope(w, tt.status, tt.data)
			})

			got, err := c.LookupOrganization(context.Background(), "at-1", 5)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestForward(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/classes", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("schoolId"))
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"schoolId":42}`, string(b))
		w.WriteHeader(http.StatusCreated)
	})

	resp, err := c.Forward(context.Background(), "at-1", http.MethodPost, "/classes",
		url.Values{"schoolId": {"42"}}, []byte(`{"schoolId":42}`), "application/json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestLogout_SendsBothTokens(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		ck, err := r.Cookie(RefreshCookieName)
		if assert.NoError(t, err) {
			assert.Equal(t, "rt-1", ck.Value)
		}
		writeEnvelope(w, http.StatusOK, nil)
	})

	assert.NoError(t, c.Logout(context.Background(), "at-1", "rt-1"))
}

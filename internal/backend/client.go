package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/clasedesurf/tidepool/internal/user"
)

// RefreshCookieName is the cookie the backend reads and rotates on refresh
const RefreshCookieName = "refreshToken"

var (
	// ErrInvalidCredentials is the backend's login rejection
	ErrInvalidCredentials = errors.New("backend: invalid credentials")
	// ErrRefreshRejected means the refresh token will never be accepted again
	ErrRefreshRejected = errors.New("backend: refresh rejected")
	// ErrUnauthorized means the backend refused the bearer token
	ErrUnauthorized = errors.New("backend: unauthorized")
	// ErrNoOrganization means the principal has no school
	ErrNoOrganization = errors.New("backend: principal has no organization")
	// ErrUnavailable covers network failures, timeouts and 5xx responses
	ErrUnavailable = errors.New("backend: unavailable")
)

// StatusError is a non-success backend reply that maps to no sentinel
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: status %d %s: %s", e.Status, e.Code, e.Message)
}

// Tokens is the outcome of a login or refresh
type Tokens struct {
	Principal        user.Principal
	AccessToken      string
	ExpiresAt        time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tokenData struct {
	Principal   user.Principal `json:"principal"`
	AccessToken string         `json:"accessToken"`
	ExpiresAt   time.Time      `json:"expiresAt"`
}

// Client talks to the backend auth API
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// NewClient creates a backend client. Requests are traced through otelhttp;
// deadlines come from the caller's context.
func NewClient(baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", baseURL)
	}

	return &Client{
		baseURL: u,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// bearer returns a client that presents accessToken on every request
func (c *Client) bearer(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// Login exchanges credentials for tokens
func (c *Client) Login(ctx context.Context, email, password string) (*Tokens, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/auth/login", nil), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidCredentials
	}
	return decodeTokens(resp)
}

// Refresh rotates a refresh token. A 401 or any other 4xx is terminal and
// reported as ErrRefreshRejected; network errors, 429 and 5xx are
// ErrUnavailable and may be retried.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/auth/refresh", nil), nil)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: refreshToken})

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return decodeTokens(resp)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: refresh returned %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, ErrRefreshRejected
	}
}

// Logout revokes the backend tokens. Failures are returned but callers
// usually clear local state regardless.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/auth/logout", nil), nil)
	if err != nil {
		return err
	}
	if refreshToken != "" {
		req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: refreshToken})
	}

	hc := c.http
	if accessToken != "" {
		hc = c.bearer(ctx, accessToken)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &StatusError{Status: resp.StatusCode}
	}
	return nil
}

// LookupOrganization resolves the school a principal is confined to
func (c *Client) LookupOrganization(ctx context.Context, accessToken string, principalID int) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/organizations/principal/"+strconv.Itoa(principalID), nil), nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.bearer(ctx, accessToken).Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return 0, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden:
		return 0, ErrNoOrganization
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("%w: lookup returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return 0, statusError(resp)
	}

	var data struct {
		OrganizationID int `json:"organizationId"`
	}
	if err := decodeData(resp, &data); err != nil {
		return 0, err
	}
	if data.OrganizationID <= 0 {
		return 0, ErrNoOrganization
	}
	return data.OrganizationID, nil
}

// Forward sends a request on behalf of a principal and returns the raw
// response. The caller owns the response body.
func (c *Client) Forward(ctx context.Context, accessToken, method, path string, query url.Values, body []byte, contentType string) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), rdr)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.bearer(ctx, accessToken).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func decodeTokens(resp *http.Response) (*Tokens, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var data tokenData
	if err := decodeData(resp, &data); err != nil {
		return nil, err
	}
	if data.AccessToken == "" {
		return nil, fmt.Errorf("backend: response carried no access token")
	}

	t := &Tokens{
		Principal:   data.Principal,
		AccessToken: data.AccessToken,
		ExpiresAt:   data.ExpiresAt,
	}
	for _, ck := range resp.Cookies() {
		if ck.Name != RefreshCookieName || ck.Value == "" {
			continue
		}
		t.RefreshToken = ck.Value
		switch {
		case ck.MaxAge > 0:
			t.RefreshExpiresAt = time.Now().Add(time.Duration(ck.MaxAge) * time.Second)
		case !ck.Expires.IsZero():
			t.RefreshExpiresAt = ck.Expires
		}
	}
	if t.RefreshToken == "" {
		return nil, fmt.Errorf("backend: response carried no refresh token")
	}
	return t, nil
}

func decodeData(resp *http.Response, v any) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("backend: failed to decode response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("backend: unsuccessful response")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("backend: failed to decode data: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	se := &StatusError{Status: resp.StatusCode}
	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env); err == nil && env.Error != nil {
		se.Code = env.Error.Code
		se.Message = env.Error.Message
	}
	return se
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clasedesurf/tidepool/internal/metrics"
	apperrors "github.com/clasedesurf/tidepool/pkg/errors"
	"github.com/clasedesurf/tidepool/pkg/response"
)

// SchoolIDParam names the organization in queries and JSON bodies
const SchoolIDParam = "schoolId"

const maxForwardBody = 1 << 20

// Forwarder sends a request to the backend on behalf of a principal
type Forwarder interface {
	Forward(ctx context.Context, accessToken, method, path string, query url.Values, body []byte, contentType string) (*http.Response, error)
}

// Proxy forwards authenticated requests to the backend
type Proxy struct {
	backend Forwarder
	timeout time.Duration
	logger  *zap.Logger
}

// NewProxy creates a proxy
func NewProxy(backend Forwarder, timeout time.Duration, logger *zap.Logger) *Proxy {
	return &Proxy{backend: backend, timeout: timeout, logger: logger}
}

// Forward relays the request to path on the backend. When the request is
// organization scoped, schoolId in the query and in a JSON object body is
// replaced by the resolved organization. Backend responses, 401 included,
// are relayed unchanged.
func (p *Proxy) Forward(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}

		query := c.Request.URL.Query()
		body, err := readBody(c)
		if err != nil {
			response.ValidationError(c, "Request body is too large or unreadable")
			return
		}
		contentType := c.GetHeader("Content-Type")

		if scope, ok := ScopeFrom(c); ok && scope.Enforced {
			query = scopeQuery(query, scope.OrganizationID)
			if len(body) > 0 {
				body, err = scopeBody(body, contentType, scope.OrganizationID)
				if err != nil {
					response.ValidationError(c, "Request body must be a JSON object")
					return
				}
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), p.timeout)
		defer cancel()

		resp, err := p.backend.Forward(ctx, id.AccessToken, c.Request.Method, path, query, body, contentType)
		if err != nil {
			p.logger.Error("backend request failed",
				zap.String("path", path),
				zap.Int("principal_id", id.Principal.ID),
				zap.Error(err),
			)
			response.Abort(c, apperrors.ErrBadGateway)
			return
		}
		defer resp.Body.Close()

		c.DataFromReader(resp.StatusCode, resp.ContentLength, resp.Header.Get("Content-Type"), resp.Body, nil)
	}
}

func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil, nil
	}
	b, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxForwardBody))
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	return b, nil
}

// scopeQuery overrides schoolId in any letter case, never merging with a
// client value
func scopeQuery(query url.Values, orgID int) url.Values {
	want := strconv.Itoa(orgID)
	out := make(url.Values, len(query)+1)
	for k, v := range query {
		if strings.EqualFold(k, SchoolIDParam) {
			if k != SchoolIDParam || len(v) != 1 || v[0] != want {
				metrics.RecordScopeOverride()
			}
			continue
		}
		out[k] = v
	}
	out.Set(SchoolIDParam, want)
	return out
}

var errNotJSONObject = errors.New("body is not a JSON object")

// scopeBody overrides schoolId in a JSON object body. Bodies that are not
// JSON objects cannot be scoped and are refused.
func scopeBody(body []byte, contentType string, orgID int) ([]byte, error) {
	if mt, _, err := mime.ParseMediaType(contentType); err != nil || mt != "application/json" {
		return nil, errNotJSONObject
	}

	var obj map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, errNotJSONObject
	}
	if dec.More() {
		return nil, errNotJSONObject
	}

	// encoding/json binds keys case-insensitively, so every spelling of
	// schoolId is dropped before the resolved one is set.
	want := json.RawMessage(strconv.Itoa(orgID))
	for k, got := range obj {
		if !strings.EqualFold(k, SchoolIDParam) {
			continue
		}
		if k != SchoolIDParam || !bytes.Equal(bytes.TrimSpace(got), want) {
			metrics.RecordScopeOverride()
		}
		delete(obj, k)
	}
	obj[SchoolIDParam] = want
	return json.Marshal(obj)
}

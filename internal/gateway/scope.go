package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clasedesurf/tidepool/internal/backend"
	"github.com/clasedesurf/tidepool/internal/metrics"
	"github.com/clasedesurf/tidepool/internal/user"
	apperrors "github.com/clasedesurf/tidepool/pkg/errors"
	"github.com/clasedesurf/tidepool/pkg/response"
)

const scopeKey = "gateway.scope"

// Scope is the organization restriction of one request. When Enforced is
// false the caller may name any organization.
type Scope struct {
	Enforced       bool
	OrganizationID int
}

// ScopeFrom returns the scope stored by ResolveOrganization
func ScopeFrom(c *gin.Context) (Scope, bool) {
	v, ok := c.Get(scopeKey)
	if !ok {
		return Scope{}, false
	}
	s, ok := v.(Scope)
	return s, ok
}

// OrganizationLookup resolves the organization of a principal
type OrganizationLookup interface {
	LookupOrganization(ctx context.Context, accessToken string, principalID int) (int, error)
}

// ResolveOrganization confines organization-scoped roles to their own
// school. ADMIN bypasses the lookup; roles not listed are refused. The
// lookup is keyed by the authenticated principal, never by client input.
func ResolveOrganization(lookup OrganizationLookup, timeout time.Duration, logger *zap.Logger, roles ...user.Role) gin.HandlerFunc {
	allowed := make(map[user.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}

		if id.Principal.Role == user.RoleAdmin {
			metrics.RecordOrgLookup("bypass")
			c.Set(scopeKey, Scope{})
			c.Next()
			return
		}
		if !allowed[id.Principal.Role] || !id.Principal.Role.OrganizationScoped() {
			response.Abort(c, apperrors.ErrForbidden)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		orgID, err := lookup.LookupOrganization(ctx, id.AccessToken, id.Principal.ID)
		switch {
		case errors.Is(err, backend.ErrNoOrganization):
			metrics.RecordOrgLookup("none")
			response.Abort(c, apperrors.ErrForbidden)
			return
		case errors.Is(err, backend.ErrUnauthorized):
			metrics.RecordOrgLookup("unauthorized")
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		case err != nil:
			metrics.RecordOrgLookup("unavailable")
			logger.Warn("organization lookup failed",
				zap.Int("principal_id", id.Principal.ID),
				zap.Error(err),
			)
			response.Abort(c, apperrors.ErrUnavailable)
			return
		}

		metrics.RecordOrgLookup("resolved")
		c.Set(scopeKey, Scope{Enforced: true, OrganizationID: orgID})
		c.Next()
	}
}

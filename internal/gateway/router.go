package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clasedesurf/tidepool/internal/config"
	"github.com/clasedesurf/tidepool/internal/middleware"
	"github.com/clasedesurf/tidepool/internal/session"
	"github.com/clasedesurf/tidepool/internal/user"
)

// Backend is everything the gateway asks of the backend API
type Backend interface {
	AuthBackend
	OrganizationLookup
	Forwarder
}

// Dependencies wires the gateway router
type Dependencies struct {
	Config      *config.GatewayConfig
	Backend     Backend
	Store       *session.Store
	Coordinator *session.Coordinator
	Verifier    TokenVerifier
	Logger      *zap.Logger
}

// NewRouter builds the gateway's HTTP routes. Every organization-scoped
// route is registered on a group that carries ResolveOrganization.
func NewRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	router := gin.New()

	router.Use(middleware.CORS(middleware.ParseAllowedOrigins(cfg.CORS.AllowedOrigins)))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.Metrics())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authn := NewAuthenticator(deps.Store, deps.Coordinator, deps.Verifier, deps.Logger)
	authHandler := NewAuthHandler(deps.Backend, deps.Store, cfg.Timeouts.Forward, deps.Logger)
	proxy := NewProxy(deps.Backend, cfg.Timeouts.Forward, deps.Logger)

	api := router.Group("/api")
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/logout", authHandler.Logout)

	authed := api.Group("", authn.Authenticate())
	{
		authed.GET("/auth/session", authHandler.Session)
		authed.GET("/users/profile", proxy.Forward("/users/profile"))
		authed.PUT("/users/profile", proxy.Forward("/users/profile"))
	}

	staff := authed.Group("", ResolveOrganization(deps.Backend, cfg.Timeouts.Lookup, deps.Logger, user.RoleSchoolAdmin, user.RoleInstructor))
	{
		staff.GET("/instructors", proxy.Forward("/instructors"))
		staff.GET("/classes", proxy.Forward("/classes"))
		staff.POST("/classes", proxy.Forward("/classes"))
		staff.GET("/students", proxy.Forward("/students"))
		staff.GET("/schools/my-school", proxy.Forward("/schools/my-school"))
	}

	owners := authed.Group("", ResolveOrganization(deps.Backend, cfg.Timeouts.Lookup, deps.Logger, user.RoleSchoolAdmin))
	{
		owners.POST("/instructors", proxy.Forward("/instructors"))
		owners.GET("/stats/dashboard", proxy.Forward("/stats/dashboard"))
	}

	return router
}

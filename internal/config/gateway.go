package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// GatewayConfig holds the UI-facing gateway configuration
type GatewayConfig struct {
	Port string `envconfig:"PORT" default:"3000"`
	Env  string `envconfig:"ENV" default:"development"`

	// BackendURL is the base URL of the auth/domain API
	BackendURL string `envconfig:"BACKEND_URL" default:"http://localhost:4000"`

	// JWTSecretKey verifies bearer tokens supplied directly by callers
	JWTSecretKey string        `envconfig:"JWT_SECRET_KEY" required:"true"`
	JWTIssuer    string        `envconfig:"JWT_ISSUER" default:"tidepool"`
	JWTTTL       time.Duration `envconfig:"JWT_ACCESS_TOKEN_TTL" default:"15m"`

	Session  SessionConfig
	Timeouts TimeoutConfig

	CORS CORSConfig
}

// SessionConfig controls the encrypted client-held session cookie
type SessionConfig struct {
	Secret     string        `envconfig:"SESSION_SECRET" required:"true"`
	CookieName string        `envconfig:"SESSION_COOKIE_NAME" default:"tidepool.session-token"`
	MaxAge     time.Duration `envconfig:"SESSION_MAX_AGE" default:"720h"`
	Domain     string        `envconfig:"SESSION_COOKIE_DOMAIN"`
	Secure     bool          `envconfig:"SESSION_COOKIE_SECURE" default:"true"`
}

// TimeoutConfig bounds the gateway's calls to the backend
type TimeoutConfig struct {
	Refresh           time.Duration `envconfig:"REFRESH_TIMEOUT" default:"5s"`
	RefreshMaxRetries int           `envconfig:"REFRESH_MAX_RETRIES" default:"2"`
	RefreshBackoff    time.Duration `envconfig:"REFRESH_BACKOFF" default:"200ms"`
	Lookup            time.Duration `envconfig:"LOOKUP_TIMEOUT" default:"3s"`
	Forward           time.Duration `envconfig:"FORWARD_TIMEOUT" default:"15s"`
}

// refreshWaitFactor bounds one backoff wait in units of RefreshBackoff: the
// coordinator caps the interval at 10x and jitters it by up to 50%.
const refreshWaitFactor = 15

// requestSlack covers gateway work outside backend calls
const requestSlack = 5 * time.Second

// RequestBudget is the longest a gateway request can legitimately take:
// every refresh attempt and backoff wait, the organization lookup and the
// forwarded call.
func (t TimeoutConfig) RequestBudget() time.Duration {
	retries := time.Duration(t.RefreshMaxRetries)
	refresh := t.Refresh*(retries+1) + t.RefreshBackoff*refreshWaitFactor*retries
	return refresh + t.Lookup + t.Forward + requestSlack
}

// LoadGateway loads the gateway configuration from environment variables
func LoadGateway() (*GatewayConfig, error) {
	var cfg GatewayConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load gateway configuration: %w", err)
	}
	if len(cfg.Session.Secret) < 32 {
		return nil, fmt.Errorf("SESSION_SECRET must be at least 32 characters")
	}
	if cfg.Timeouts.RefreshMaxRetries < 0 {
		return nil, fmt.Errorf("REFRESH_MAX_RETRIES must not be negative")
	}
	return &cfg, nil
}

// IsDevelopment returns true if running in development environment
func (c *GatewayConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production environment
func (c *GatewayConfig) IsProduction() bool {
	return c.Env == "production"
}

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/clasedesurf/tidepool/internal/backend"
	"github.com/clasedesurf/tidepool/internal/metrics"
)

var (
	// ErrRefreshRejected is terminal: the caller must sign in again
	ErrRefreshRejected = errors.New("session refresh rejected")
	// ErrTransientRefresh means renewal failed for a reason that may pass
	ErrTransientRefresh = errors.New("session refresh temporarily failed")
)

// Refresher rotates a refresh token against the backend
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*backend.Tokens, error)
}

// Result is what GetValidSession hands back to a request
type Result struct {
	Session *Session
	// Refreshed is set when Session is a renewal; the caller must then write
	// Session and the rotated refresh token back to the client.
	Refreshed        bool
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// CoordinatorConfig bounds renewal attempts
type CoordinatorConfig struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Coordinator keeps sessions valid, renewing them on first read after
// access token expiry. Concurrent reads presenting the same refresh token
// share one renewal so a browser cannot burn its own token.
type Coordinator struct {
	refresher Refresher
	cfg       CoordinatorConfig
	group     singleflight.Group
	logger    *zap.Logger
	now       func() time.Time
}

const defaultRefreshTimeout = 5 * time.Second

// NewCoordinator creates a session refresh coordinator
func NewCoordinator(refresher Refresher, cfg CoordinatorConfig, logger *zap.Logger) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRefreshTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Coordinator{
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// GetValidSession returns current unchanged while its access token is
// valid. Otherwise it renews it once: ErrRefreshRejected is terminal,
// ErrTransientRefresh leaves the client state intact.
func (c *Coordinator) GetValidSession(ctx context.Context, current *Session, refreshToken string) (*Result, error) {
	if current == nil {
		return nil, ErrNoSession
	}
	if !current.Expired(c.now()) {
		return &Result{Session: current}, nil
	}
	if refreshToken == "" {
		return nil, ErrRefreshRejected
	}

	ch := c.group.DoChan(refreshToken, func() (any, error) {
		return c.renew(context.WithoutCancel(ctx), refreshToken)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTransientRefresh, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		tokens := res.Val.(*backend.Tokens)
		return &Result{
			Session:          current.Renewed(tokens.Principal, tokens.AccessToken, tokens.ExpiresAt),
			Refreshed:        true,
			RefreshToken:     tokens.RefreshToken,
			RefreshExpiresAt: tokens.RefreshExpiresAt,
		}, nil
	}
}

func (c *Coordinator) renew(ctx context.Context, refreshToken string) (*backend.Tokens, error) {
	start := time.Now()
	var tokens *backend.Tokens

	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		t, err := c.refresher.Refresh(attemptCtx, refreshToken)
		if errors.Is(err, backend.ErrRefreshRejected) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		tokens = t
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("session refresh failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}

	err := backoff.RetryNotify(op, backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.MaxRetries)), notify)
	switch {
	case err == nil:
		metrics.RecordSessionRefresh("renewed", time.Since(start))
		return tokens, nil
	case errors.Is(err, backend.ErrRefreshRejected):
		metrics.RecordSessionRefresh("rejected", time.Since(start))
		c.logger.Info("session refresh rejected")
		return nil, ErrRefreshRejected
	default:
		metrics.RecordSessionRefresh("transient", time.Since(start))
		c.logger.Error("session refresh failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrTransientRefresh, err)
	}
}

func (c *Coordinator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.Backoff
	b.MaxInterval = 10 * c.cfg.Backoff
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	return b
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clasedesurf/tidepool/internal/metrics"
	"github.com/clasedesurf/tidepool/internal/ratelimit"
	"github.com/clasedesurf/tidepool/internal/token"
	"github.com/clasedesurf/tidepool/internal/user"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRefreshRejected means the refresh token is unknown, expired or replayed
	ErrRefreshRejected = errors.New("refresh token rejected")
)

// RateLimitError is returned while an email+IP pair is locked out
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

// RateLimiter throttles login attempts per email and client address
type RateLimiter interface {
	Check(ctx context.Context, email, ip string) (ratelimit.Decision, error)
	RecordFailure(ctx context.Context, email, ip string) error
	RecordSuccess(ctx context.Context, email, ip string) error
}

// Session is the result of a login or refresh: a fresh access token plus the
// rotated refresh token for the same browser session.
type Session struct {
	ID           string
	Principal    user.Principal
	AccessToken  *token.AccessToken
	RefreshToken *token.RefreshToken
}

// Service handles authentication business logic
type Service struct {
	users     *user.Repository
	tokens    *token.Service
	refresh   *token.RefreshStore
	blacklist *token.Blacklist
	limiter   RateLimiter
	logger    *zap.Logger
}

// NewService creates a new authentication service. limiter may be nil.
func NewService(
	users *user.Repository,
	tokens *token.Service,
	refresh *token.RefreshStore,
	blacklist *token.Blacklist,
	limiter RateLimiter,
	logger *zap.Logger,
) *Service {
	return &Service{
		users:     users,
		tokens:    tokens,
		refresh:   refresh,
		blacklist: blacklist,
		limiter:   limiter,
		logger:    logger,
	}
}

// VerifyCredentials resolves an email/password pair to a principal. Unknown
// users and wrong passwords both yield ErrInvalidCredentials after the same
// amount of bcrypt work.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (*user.Principal, error) {
	email = SanitizeEmail(email)

	usr, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if usr == nil {
		burnPasswordCheck(password)
		return nil, ErrInvalidCredentials
	}

	if err := VerifyPassword(password, usr.PasswordDigest); err != nil {
		if !errors.Is(err, ErrPasswordMismatch) {
			s.logger.Error("stored password digest is unusable", zap.Int("user_id", usr.ID), zap.Error(err))
		}
		return nil, ErrInvalidCredentials
	}

	if !usr.Role.Valid() {
		s.logger.Error("user has unknown role", zap.Int("user_id", usr.ID), zap.String("role", string(usr.Role)))
		return nil, ErrInvalidCredentials
	}

	p := usr.Principal()
	return &p, nil
}

// Login verifies credentials and opens a new session
func (s *Service) Login(ctx context.Context, email, password, ip string) (*Session, error) {
	start := time.Now()
	email = SanitizeEmail(email)

	if err := s.checkLimit(ctx, email, ip); err != nil {
		metrics.RecordLoginAttempt("blocked", time.Since(start))
		return nil, err
	}

	principal, err := s.VerifyCredentials(ctx, email, password)
	if errors.Is(err, ErrInvalidCredentials) {
		s.recordAttempt(ctx, email, ip, false)
		metrics.RecordLoginAttempt("failure", time.Since(start))
		s.logger.Info("login failed", zap.String("email", email), zap.String("ip", ip))
		return nil, err
	}
	if err != nil {
		metrics.RecordLoginAttempt("error", time.Since(start))
		return nil, fmt.Errorf("failed to verify credentials: %w", err)
	}

	s.recordAttempt(ctx, email, ip, true)
	if err := s.users.UpdateLastLoggedOn(ctx, principal.ID); err != nil {
		s.logger.Warn("failed to update last_logged_on", zap.Int("user_id", principal.ID), zap.Error(err))
	}

	sess, err := s.issue(ctx, *principal, uuid.NewString())
	if err != nil {
		metrics.RecordLoginAttempt("error", time.Since(start))
		return nil, err
	}

	metrics.RecordLoginAttempt("success", time.Since(start))
	s.logger.Info("login succeeded",
		zap.Int("user_id", principal.ID),
		zap.String("role", string(principal.Role)),
		zap.String("session_id", sess.ID),
	)
	return sess, nil
}

// Registration is a self-service sign up. It always creates a STUDENT.
type Registration struct {
	Name     string
	Email    string
	Password string
}

// SchoolRegistration signs up a school owner together with their school
type SchoolRegistration struct {
	SchoolName string
	Location   string
	AdminName  string
	Email      string
	Password   string
}

// Register creates a student account and opens a session for it. An email
// already in use yields user.ErrEmailTaken and counts against the limiter.
func (s *Service) Register(ctx context.Context, reg Registration, ip string) (*Session, error) {
	email := SanitizeEmail(reg.Email)
	if err := s.checkLimit(ctx, email, ip); err != nil {
		metrics.RecordRegistration("student", "blocked")
		return nil, err
	}

	digest, err := HashPassword(reg.Password)
	if err != nil {
		metrics.RecordRegistration("student", "error")
		return nil, err
	}

	usr, err := s.users.Create(ctx, user.NewUser{
		Name:           strings.TrimSpace(reg.Name),
		Email:          email,
		PasswordDigest: digest,
		Role:           user.RoleStudent,
	})
	if err != nil {
		return nil, s.registrationFailed(ctx, "student", email, ip, err)
	}

	sess, err := s.issue(ctx, usr.Principal(), uuid.NewString())
	if err != nil {
		metrics.RecordRegistration("student", "error")
		return nil, err
	}

	metrics.RecordRegistration("student", "success")
	s.logger.Info("student registered", zap.Int("user_id", usr.ID), zap.String("session_id", sess.ID))
	return sess, nil
}

// RegisterSchool creates a SCHOOL_ADMIN and their pending school in one
// transaction, then opens a session for the new owner. It returns the new
// school's id.
func (s *Service) RegisterSchool(ctx context.Context, reg SchoolRegistration, ip string) (*Session, int, error) {
	email := SanitizeEmail(reg.Email)
	if err := s.checkLimit(ctx, email, ip); err != nil {
		metrics.RecordRegistration("school", "blocked")
		return nil, 0, err
	}

	digest, err := HashPassword(reg.Password)
	if err != nil {
		metrics.RecordRegistration("school", "error")
		return nil, 0, err
	}

	usr, schoolID, err := s.users.CreateSchoolOwner(ctx,
		user.NewUser{
			Name:           strings.TrimSpace(reg.AdminName),
			Email:          email,
			PasswordDigest: digest,
		},
		user.SchoolApplication{
			Name:     strings.TrimSpace(reg.SchoolName),
			Location: strings.TrimSpace(reg.Location),
		},
	)
	if err != nil {
		return nil, 0, s.registrationFailed(ctx, "school", email, ip, err)
	}

	sess, err := s.issue(ctx, usr.Principal(), uuid.NewString())
	if err != nil {
		metrics.RecordRegistration("school", "error")
		return nil, 0, err
	}

	metrics.RecordRegistration("school", "success")
	s.logger.Info("school registered",
		zap.Int("user_id", usr.ID),
		zap.Int("school_id", schoolID),
	)
	return sess, schoolID, nil
}

func (s *Service) registrationFailed(ctx context.Context, kind, email, ip string, err error) error {
	if !errors.Is(err, user.ErrEmailTaken) {
		metrics.RecordRegistration(kind, "error")
		return err
	}

	metrics.RecordRegistration(kind, "taken")
	if s.limiter != nil {
		if lerr := s.limiter.RecordFailure(ctx, email, ip); lerr != nil {
			s.logger.Warn("failed to update rate limiter", zap.Error(lerr))
		}
	}
	return err
}

// Refresh consumes a refresh token and rotates it. The principal is reloaded
// so role changes and deleted users take effect at the next renewal.
func (s *Service) Refresh(ctx context.Context, raw string) (*Session, error) {
	rec, err := s.refresh.Consume(ctx, raw)
	switch {
	case errors.Is(err, token.ErrRefreshReplayed):
		metrics.RecordRefresh("replayed")
		s.logger.Warn("refresh token replayed")
		return nil, ErrRefreshRejected
	case errors.Is(err, token.ErrRefreshNotFound):
		metrics.RecordRefresh("unknown")
		return nil, ErrRefreshRejected
	case err != nil:
		metrics.RecordRefresh("error")
		return nil, err
	}

	usr, err := s.users.FindByID(ctx, rec.UserID)
	if err != nil {
		metrics.RecordRefresh("error")
		s.restoreRefresh(ctx, raw, rec)
		return nil, err
	}
	if usr == nil || !usr.Role.Valid() {
		metrics.RecordRefresh("unknown")
		s.logger.Warn("refresh for missing or invalid user", zap.Int("user_id", rec.UserID))
		return nil, ErrRefreshRejected
	}

	sess, err := s.issue(ctx, usr.Principal(), rec.SessionID)
	if err != nil {
		metrics.RecordRefresh("error")
		s.restoreRefresh(ctx, raw, rec)
		return nil, err
	}
	metrics.RecordRefresh("rotated")
	return sess, nil
}

// Logout revokes the refresh token and blacklists the access token until it
// would have expired. Either value may be empty.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if err := s.refresh.Revoke(ctx, refreshToken); err != nil {
		return err
	}
	if accessToken == "" {
		return nil
	}

	claims, err := s.tokens.Validate(accessToken)
	if err != nil {
		return nil
	}
	if err := s.blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return err
	}

	s.logger.Info("logout", zap.Int("user_id", claims.UserID))
	return nil
}

// ValidateToken verifies signature, expiry and revocation of an access token
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*token.Claims, error) {
	claims, err := s.tokens.Validate(tokenString)
	if err != nil {
		metrics.RecordJWTValidation("invalid")
		return nil, err
	}

	revoked, err := s.blacklist.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		metrics.RecordJWTValidation("revoked")
		return nil, token.ErrTokenRevoked
	}

	metrics.RecordJWTValidation("success")
	return claims, nil
}

// CurrentUser loads the stored user behind validated claims
func (s *Service) CurrentUser(ctx context.Context, claims *token.Claims) (*user.User, error) {
	usr, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if usr == nil {
		return nil, ErrInvalidCredentials
	}
	return usr, nil
}

// UpdateProfile changes the display name of the current user. The new name
// reaches tokens at the next refresh.
func (s *Service) UpdateProfile(ctx context.Context, userID int, name string) (*user.User, error) {
	if err := s.users.UpdateName(ctx, userID, name); err != nil {
		return nil, err
	}
	return s.users.FindByID(ctx, userID)
}

func (s *Service) issue(ctx context.Context, p user.Principal, sessionID string) (*Session, error) {
	access, err := s.tokens.Issue(p)
	if err != nil {
		return nil, err
	}
	rt, err := s.refresh.Issue(ctx, p.ID, sessionID)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:           sessionID,
		Principal:    p,
		AccessToken:  access,
		RefreshToken: rt,
	}, nil
}

// checkLimit refuses a request while its email+IP pair is locked out. A
// limiter outage fails open.
func (s *Service) checkLimit(ctx context.Context, email, ip string) error {
	if s.limiter == nil {
		return nil
	}
	d, err := s.limiter.Check(ctx, email, ip)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !d.Allowed {
		metrics.RecordRateLimitHit()
		return &RateLimitError{RetryAfter: d.LockoutRemaining}
	}
	return nil
}

// restoreRefresh reinstates a consumed token after a failure that was not
// the client's fault, so a retry with the same cookie can still succeed.
func (s *Service) restoreRefresh(ctx context.Context, raw string, rec *token.RefreshRecord) {
	if err := s.refresh.Restore(context.WithoutCancel(ctx), raw, rec); err != nil {
		s.logger.Error("failed to restore refresh token", zap.String("session_id", rec.SessionID), zap.Error(err))
		return
	}
	metrics.RecordRefresh("restored")
}

func (s *Service) recordAttempt(ctx context.Context, email, ip string, success bool) {
	if err := s.users.RecordLoginAttempt(ctx, email, ip, success); err != nil {
		s.logger.Warn("failed to record login attempt", zap.Error(err))
	}
	if s.limiter == nil {
		return
	}

	var err error
	if success {
		err = s.limiter.RecordSuccess(ctx, email, ip)
	} else {
		err = s.limiter.RecordFailure(ctx, email, ip)
	}
	if err != nil {
		s.logger.Warn("failed to update rate limiter", zap.Error(err))
	}
}

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/clasedesurf/tidepool/internal/user"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidAccessToken covers bad signatures, malformed tokens and expiry
var ErrInvalidAccessToken = errors.New("invalid access token")

// Service signs and verifies access tokens
type Service struct {
	secretKey      []byte
	issuer         string
	accessTokenTTL time.Duration
}

// NewService creates a new token service
func NewService(secretKey, issuer string, accessTTL time.Duration) *Service {
	return &Service{
		secretKey:      []byte(secretKey),
		issuer:         issuer,
		accessTokenTTL: accessTTL,
	}
}

// Issue mints an access token for a verified principal
func (s *Service) Issue(p user.Principal) (*AccessToken, error) {
	if !p.Role.Valid() {
		return nil, fmt.Errorf("cannot issue token for role %q", p.Role)
	}

	// JWT NumericDate has second precision; truncate so the reported expiry
	// matches the exp claim exactly.
	now := time.Now().Truncate(time.Second)
	expiry := now.Add(s.accessTokenTTL)
	jti := uuid.New().String()

	claims := Claims{
		UserID: p.ID,
		Email:  p.Email,
		Name:   p.Name,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   p.Subject(),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return &AccessToken{
		Token:     signed,
		ExpiresAt: expiry,
		TokenType: TokenTypeBearer,
		ID:        jti,
	}, nil
}

// Validate verifies signature, issuer and expiry and returns the claims
func (s *Service) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidAccessToken
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidAccessToken, claims.Role)
	}

	return claims, nil
}

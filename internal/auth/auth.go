package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"barrier.org/internal/gates"
)

const (
	defaultIssuer    = "barrier"
	defaultAccessTTL = 5 * time.Minute
)

// Claims carries the identity and frozen gate authorization of one session.
type Claims struct {
	Username  string    `json:"username"`
	SessionID string    `json:"session_id"`
	Gates     gates.Set `json:"gates"`
	jwt.RegisteredClaims
}

// Issued is the output of a single issuance.
type Issued struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	ExpiresAt    time.Time
}

// TokenService signs and verifies access tokens with a symmetric HS256 key.
// The key is fixed at construction, so the service is safe for concurrent use.
type TokenService struct {
	key       []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAccessTTL configures the default access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return errors.New("auth: issuer must not be empty")
		}
		s.issuer = issuer
		return nil
	}
}

// NewTokenService constructs a TokenService signing with key.
func NewTokenService(key []byte, opts ...TokenOption) (*TokenService, error) {
	if len(key) == 0 {
		return nil, errors.New("auth: signing key is required")
	}
	svc := &TokenService{
		key:       append([]byte(nil), key...),
		issuer:    defaultIssuer,
		accessTTL: defaultAccessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL returns the configured default access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// Issue signs an access token for username carrying set, and generates a fresh
// session id and refresh value. ttl <= 0 selects the configured default.
// Persisting the refresh value is the caller's job.
func (s *TokenService) Issue(username string, set gates.Set, ttl time.Duration) (Issued, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Issued{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = s.accessTTL
	}
	if set == nil {
		set = gates.Set{}
	}

	now := s.now()
	exp := now.Add(ttl)
	sessionID := uuid.NewString()
	claims := Claims{
		Username:  username,
		SessionID: sessionID,
		Gates:     set,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        sessionID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return Issued{}, fmt.Errorf("sign token: %w", err)
	}
	return Issued{
		AccessToken:  signed,
		RefreshToken: uuid.NewString(),
		SessionID:    sessionID,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// Verify checks signature and expiry with no clock skew tolerance and returns
// the embedded claims. A token whose expiry equals the current time is expired.
func (s *TokenService) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformedToken
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(0),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, ErrBadSignature
	default:
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if !s.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrExpired
	}
	if claims.Issuer != s.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrMalformedToken, claims.Issuer)
	}
	if strings.TrimSpace(claims.Username) == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: identity claims missing", ErrMalformedToken)
	}
	if claims.Gates == nil {
		claims.Gates = gates.Set{}
	}
	return claims, nil
}

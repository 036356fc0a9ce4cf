// Package auth protects the local bridge: a bcrypt-hashed operator password
// is exchanged for a short-lived HS256 token.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/alexbotov/rgsclient/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrAuthDisabled       = errors.New("bridge authentication is disabled")
	ErrNoPassword         = errors.New("no password hash configured")
)

// Subject is the token subject for the bridge operator
const Subject = "operator"

const issuer = "rgsclient"

// Claims are the token claims issued by the bridge
type Claims struct {
	jwt.RegisteredClaims
}

// Service issues and verifies bridge tokens
type Service struct {
	secret       []byte
	passwordHash []byte
	ttl          time.Duration
	clock        quartz.Clock
}

// Option configures optional Service collaborators
type Option func(*Service)

// WithClock sets the clock used for issue and expiry times
func WithClock(clock quartz.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// New creates a new auth service
func New(cfg *config.BridgeConfig, opts ...Option) *Service {
	s := &Service{
		secret:       []byte(cfg.JWTSecret),
		passwordHash: []byte(cfg.PasswordHash),
		ttl:          cfg.TokenTTL,
		clock:        quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether tokens are required
func (s *Service) Enabled() bool {
	return len(s.secret) > 0
}

// HashPassword hashes an operator password for the config file
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Login checks password and returns a signed token with its expiry
func (s *Service) Login(password string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, ErrAuthDisabled
	}
	if len(s.passwordHash) == 0 {
		return "", time.Time{}, ErrNoPassword
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return s.IssueToken(Subject)
}

// IssueToken signs a token for subject
func (s *Service) IssueToken(subject string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, ErrAuthDisabled
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies signature, issuer and expiry
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(func() time.Time { return s.clock.Now() }))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

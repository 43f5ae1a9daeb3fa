package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenConfig holds the signing secrets and lifetimes of both token kinds.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenService is responsible for generating and validating JWTs.
type TokenService struct {
	cfg TokenConfig
	now func() time.Time
}

type TokenOption func(*TokenService)

// WithTokenClock overrides the clock used for iat/nbf/exp and verification.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService creates a new instance of the TokenService. Both secrets are
// required and must differ.
func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if len(cfg.AccessSecret) == 0 {
		return nil, fmt.Errorf("access token secret cannot be empty")
	}
	if len(cfg.RefreshSecret) == 0 {
		return nil, fmt.Errorf("refresh token secret cannot be empty")
	}
	if subtle.ConstantTimeCompare(cfg.AccessSecret, cfg.RefreshSecret) == 1 {
		return nil, fmt.Errorf("access and refresh token secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive")
	}
	s := &TokenService{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL is the lifetime of issued access tokens.
func (s *TokenService) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// IssueAccessToken signs a short-lived access token for p.
func (s *TokenService) IssueAccessToken(p Principal) (string, time.Time, error) {
	return s.issue(p, AccessToken, s.cfg.AccessSecret, s.cfg.AccessTTL)
}

// IssueRefreshToken signs a refresh token for p.
func (s *TokenService) IssueRefreshToken(p Principal) (string, time.Time, error) {
	return s.issue(p, RefreshToken, s.cfg.RefreshSecret, s.cfg.RefreshTTL)
}

func (s *TokenService) issue(p Principal, tokenType TokenType, secret []byte, ttl time.Duration) (string, time.Time, error) {
	if p.ID == "" || !p.Type.Valid() {
		return "", time.Time{}, fmt.Errorf("cannot issue %s token for incomplete principal", tokenType)
	}
	now := s.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		UserID:    p.ID,
		Email:     p.Email,
		Type:      p.Type,
		Role:      p.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken returns ErrTokenExpired or ErrTokenInvalid on failure.
func (s *TokenService) VerifyAccessToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, AccessToken, s.cfg.AccessSecret)
}

// VerifyRefreshToken returns ErrTokenExpired or ErrTokenInvalid on failure.
func (s *TokenService) VerifyRefreshToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, RefreshToken, s.cfg.RefreshSecret)
}

func (s *TokenService) verify(tokenString string, want TokenType, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, opts...)
	if err != nil {
		// The signature is checked before the claims, so an expired token
		// signed with the wrong key still reports as invalid.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != want || claims.UserID == "" || !claims.Type.Valid() {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"therapyhub.io/shared/pg/model"
)

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Sessions tracks refresh tokens in a SessionStore and implements the
// rotate-on-refresh protocol.
type Sessions struct {
	store  model.SessionStore
	tokens *TokenService
	status *StatusChecker
	now    func() time.Time
	log    logrus.FieldLogger
}

type SessionsOption func(*Sessions)

// WithRefreshStatusCheck re-checks the account before a refresh is granted.
func WithRefreshStatusCheck(sc *StatusChecker) SessionsOption {
	return func(s *Sessions) { s.status = sc }
}

func WithSessionsClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSessionsLogger(log logrus.FieldLogger) SessionsOption {
	return func(s *Sessions) {
		if log != nil {
			s.log = log
		}
	}
}

func NewSessions(store model.SessionStore, tokens *TokenService, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		store:  store,
		tokens: tokens,
		now:    time.Now,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store records a newly issued refresh token. A duplicate token is a Conflict.
func (s *Sessions) Store(ctx context.Context, token string, t PrincipalType, id string, expiresAt time.Time) error {
	err := s.store.StoreToken(ctx, &model.IssuedToken{
		Token:         token,
		PrincipalType: t,
		PrincipalID:   id,
		ExpiresAt:     expiresAt,
		CreatedAt:     s.now(),
	})
	switch {
	case errors.Is(err, model.ErrConflict):
		return Conflict("refresh token already issued")
	case err != nil:
		return ServiceUnavailable("session store unavailable", err)
	}
	return nil
}

// IsValid reports whether token is known, not revoked and not expired.
func (s *Sessions) IsValid(ctx context.Context, token string) (bool, error) {
	tok, err := s.store.FindToken(ctx, token)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, ServiceUnavailable("session store unavailable", err)
	}
	return tok.Usable(s.now()), nil
}

// Revoke marks token revoked. Unknown or already revoked tokens are ignored.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	if err := s.store.RevokeToken(ctx, token, s.now()); err != nil {
		return ServiceUnavailable("session store unavailable", err)
	}
	return nil
}

// RevokeAll revokes every outstanding refresh token of a principal.
func (s *Sessions) RevokeAll(ctx context.Context, t PrincipalType, id string) (int64, error) {
	n, err := s.store.RevokeAllTokens(ctx, t, id, s.now())
	if err != nil {
		return 0, ServiceUnavailable("session store unavailable", err)
	}
	s.log.WithFields(logrus.Fields{"principal_id": id, "principal_type": t, "revoked": n}).Info("sessions revoked")
	return n, nil
}

// Rotate revokes oldToken and stores newToken in one step. It fails with
// ErrInvalidRefresh when oldToken is no longer usable.
func (s *Sessions) Rotate(ctx context.Context, oldToken, newToken string, t PrincipalType, id string, expiresAt time.Time) error {
	now := s.now()
	err := s.store.RotateToken(ctx, oldToken, &model.IssuedToken{
		Token:         newToken,
		PrincipalType: t,
		PrincipalID:   id,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
	}, now)
	switch {
	case errors.Is(err, model.ErrTokenUnusable):
		return ErrInvalidRefresh
	case errors.Is(err, model.ErrConflict):
		return Conflict("refresh token already issued")
	case err != nil:
		return ServiceUnavailable("session store unavailable", err)
	}
	return nil
}

// Issue signs a new token pair for p and stores the refresh token.
func (s *Sessions) Issue(ctx context.Context, p Principal) (*TokenPair, error) {
	pair, refreshExp, err := s.sign(p)
	if err != nil {
		return nil, err
	}
	if err := s.Store(ctx, pair.RefreshToken, p.Type, p.ID, refreshExp); err != nil {
		return nil, err
	}
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The old token is revoked
// in the same transaction that stores the new one, so it can be used once.
func (s *Sessions) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	valid, err := s.IsValid(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrInvalidRefresh
	}

	p := claims.Principal()
	if s.status != nil {
		// The new pair carries the account's current email and role.
		acc, err := s.status.Account(ctx, p)
		if err != nil {
			return nil, err
		}
		p = principalFromAccount(acc)
	}

	pair, refreshExp, err := s.sign(*p)
	if err != nil {
		return nil, err
	}
	if err := s.Rotate(ctx, refreshToken, pair.RefreshToken, p.Type, p.ID, refreshExp); err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *Sessions) sign(p Principal) (*TokenPair, time.Time, error) {
	access, _, err := s.tokens.IssueAccessToken(p)
	if err != nil {
		return nil, time.Time{}, Internal(err)
	}
	refresh, refreshExp, err := s.tokens.IssueRefreshToken(p)
	if err != nil {
		return nil, time.Time{}, Internal(err)
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int(s.tokens.AccessTTL().Seconds()),
		RefreshExpiresAt: refreshExp,
	}, refreshExp, nil
}

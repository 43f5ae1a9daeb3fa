package auth

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"therapyhub.io/shared/pg/model"
)

const MinPasswordLength = 8

// AuthService provides core authentication logic.
type AuthService struct {
	accounts model.AccountStore
	hasher   *PasswordHasher
	sessions *Sessions
	status   *StatusChecker
	log      logrus.FieldLogger
}

// NewAuthService creates a new authentication service.
func NewAuthService(accounts model.AccountStore, hasher *PasswordHasher, sessions *Sessions, status *StatusChecker, log logrus.FieldLogger) *AuthService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if status == nil {
		status = NewStatusChecker(accounts, 0)
	}
	return &AuthService{
		accounts: accounts,
		hasher:   hasher,
		sessions: sessions,
		status:   status,
		log:      log,
	}
}

// Login validates credentials and returns new access and refresh tokens.
func (s *AuthService) Login(ctx context.Context, accountType PrincipalType, email, password string) (*TokenPair, *Principal, error) {
	if !accountType.Valid() {
		return nil, nil, BadRequest("unknown account type")
	}

	acc, err := s.accounts.FindAccountByEmail(ctx, accountType, email)
	if errors.Is(err, model.ErrNotFound) {
		s.hasher.CompareDummy(password)
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, ServiceUnavailable("account lookup failed", err)
	}

	if !s.hasher.VerifyPassword(password, acc.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}
	if err := CheckAccountStatus(acc); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	p := principalFromAccount(acc)
	pair, err := s.sessions.Issue(ctx, *p)
	if err != nil {
		return nil, nil, err
	}
	s.log.WithFields(logrus.Fields{"principal_id": p.ID, "principal_type": p.Type}).Info("login succeeded")
	return pair, p, nil
}

// Refresh exchanges a refresh token for a new pair; see Sessions.Refresh.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.sessions.Refresh(ctx, refreshToken)
}

// Logout revokes a refresh token. Tokens that fail verification are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if _, err := s.sessions.tokens.VerifyRefreshToken(refreshToken); err != nil {
		// Don't return error for invalid tokens, just fail silently.
		return nil
	}
	return s.sessions.Revoke(ctx, refreshToken)
}

// LogoutAll revokes every refresh token of p.
func (s *AuthService) LogoutAll(ctx context.Context, p *Principal) (int64, error) {
	if p == nil {
		return 0, Unauthorized("authentication required")
	}
	return s.sessions.RevokeAll(ctx, p.Type, p.ID)
}

// ChangePassword replaces the password of p, revokes all of its sessions and
// returns a fresh token pair.
func (s *AuthService) ChangePassword(ctx context.Context, p *Principal, current, next string) (*TokenPair, error) {
	if p == nil {
		return nil, Unauthorized("authentication required")
	}
	if len(next) < MinPasswordLength {
		return nil, BadRequest("new password is too short")
	}
	if current == next {
		return nil, BadRequest("new password must differ from the current one")
	}

	acc, err := s.accounts.FindAccount(ctx, p.Type, p.ID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, Unauthorized("account not found")
	}
	if err != nil {
		return nil, ServiceUnavailable("account lookup failed", err)
	}
	if !s.hasher.VerifyPassword(current, acc.PasswordHash) {
		return nil, Unauthorized("current password is incorrect")
	}

	hash, err := s.hasher.HashPassword(next)
	if err != nil {
		return nil, Internal(err)
	}
	if err := s.accounts.UpdatePasswordHash(ctx, p.Type, p.ID, hash); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, Unauthorized("account not found")
		}
		return nil, ServiceUnavailable("password update failed", err)
	}
	s.status.Invalidate(p.Type, p.ID)

	if _, err := s.sessions.RevokeAll(ctx, p.Type, p.ID); err != nil {
		return nil, err
	}
	return s.sessions.Issue(ctx, *principalFromAccount(acc))
}

func principalFromAccount(acc *model.Account) *Principal {
	p := &Principal{ID: acc.ID, Email: acc.Email, Type: acc.Type}
	// ResolveRole only fails for unknown types, which CheckAccountStatus rejects.
	p.Role, _ = ResolveRole(&Principal{Type: acc.Type, Role: acc.Role})
	return p
}

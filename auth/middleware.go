package auth

import (
	"context"
	"errors"
	"strings"
)

// ExtractTokenFromHeader returns the token of an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive.
func ExtractTokenFromHeader(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", ErrMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrMalformedHeader
	}
	return token, nil
}

// Authenticator turns a bearer header into a Principal. It is framework
// agnostic; auth/fiber adapts it to fiber handlers.
type Authenticator struct {
	tokens *TokenService
	status *StatusChecker
}

// NewAuthenticator creates an authenticator. status may be nil when no route
// needs the active re-check.
func NewAuthenticator(tokens *TokenService, status *StatusChecker) *Authenticator {
	return &Authenticator{tokens: tokens, status: status}
}

// Authenticate validates the header and returns the principal of its access
// token. Every failure is an Unauthorized AuthError.
func (a *Authenticator) Authenticate(header string) (*Principal, error) {
	tokenString, err := ExtractTokenFromHeader(header)
	if err != nil {
		return nil, err
	}
	claims, err := a.tokens.VerifyAccessToken(tokenString)
	if err != nil {
		return nil, AsAuthError(err)
	}
	return claims.Principal(), nil
}

// CheckActive re-reads the account of p and applies the activity rules.
func (a *Authenticator) CheckActive(ctx context.Context, p *Principal) error {
	if a.status == nil {
		return Internal(errMissingStatusChecker)
	}
	return a.status.Check(ctx, p)
}

var errMissingStatusChecker = errors.New("authenticator has no status checker")

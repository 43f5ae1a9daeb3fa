package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var therapist = Principal{ID: "t-1", Email: "dr@example.com", Type: PrincipalTherapist, Role: RoleTherapist}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	clock := newTestClock()
	ts := newTestTokens(t, clock.Now)

	token, exp, err := ts.IssueAccessToken(therapist)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(15*time.Minute), exp)

	claims, err := ts.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, therapist, *claims.Principal())
	assert.Equal(t, AccessToken, claims.TokenType)
	assert.Equal(t, "therapy-api", claims.Issuer)
	assert.Equal(t, "t-1", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestTokensAreUnique(t *testing.T) {
	ts := newTestTokens(t, newTestClock().Now)

	a, _, err := ts.IssueRefreshToken(therapist)
	require.NoError(t, err)
	b, _, err := ts.IssueRefreshToken(therapist)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	clock := newTestClock()
	ts := newTestTokens(t, clock.Now)

	token, _, err := ts.IssueAccessToken(therapist)
	require.NoError(t, err)

	clock.Advance(15 * time.Minute)
	_, err = ts.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	ts := newTestTokens(t, newTestClock().Now)

	refresh, _, err := ts.IssueRefreshToken(therapist)
	require.NoError(t, err)
	access, _, err := ts.IssueAccessToken(therapist)
	require.NoError(t, err)

	_, err = ts.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = ts.VerifyRefreshToken(access)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	clock := newTestClock()
	ts := newTestTokens(t, clock.Now)

	cfg := testTokenConfig()
	cfg.AccessSecret = []byte("someone-else")
	other, err := NewTokenService(cfg, WithTokenClock(clock.Now))
	require.NoError(t, err)

	token, _, err := other.IssueAccessToken(therapist)
	require.NoError(t, err)
	_, err = ts.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// Expired and signed with the wrong key still reports invalid.
	clock.Advance(time.Hour)
	_, err = ts.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	ts := newTestTokens(t, newTestClock().Now)

	for _, token := range []string{"", "abc", "a.b.c"} {
		_, err := ts.VerifyAccessToken(token)
		assert.ErrorIs(t, err, ErrTokenInvalid, token)
	}
}

func TestVerifyRejectsOtherAlgorithm(t *testing.T) {
	clock := newTestClock()
	ts := newTestTokens(t, clock.Now)

	claims := Claims{
		UserID:    "t-1",
		Type:      PrincipalTherapist,
		TokenType: AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "therapy-api",
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("access-secret"))
	require.NoError(t, err)

	_, err = ts.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsUnknownPrincipalType(t *testing.T) {
	clock := newTestClock()
	ts := newTestTokens(t, clock.Now)

	claims := Claims{
		UserID:    "x-1",
		Type:      "robot",
		TokenType: AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "therapy-api",
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("access-secret"))
	require.NoError(t, err)

	_, err = ts.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestNewTokenServiceValidation(t *testing.T) {
	cfg := testTokenConfig()
	cfg.RefreshSecret = cfg.AccessSecret
	_, err := NewTokenService(cfg)
	assert.Error(t, err, "secrets must differ")

	cfg = testTokenConfig()
	cfg.AccessSecret = nil
	_, err = NewTokenService(cfg)
	assert.Error(t, err)

	cfg = testTokenConfig()
	cfg.AccessTTL = 0
	_, err = NewTokenService(cfg)
	assert.Error(t, err)
}

func TestIssueRejectsIncompletePrincipal(t *testing.T) {
	ts := newTestTokens(t, newTestClock().Now)

	_, _, err := ts.IssueAccessToken(Principal{Type: PrincipalPatient})
	assert.Error(t, err)
	_, _, err = ts.IssueAccessToken(Principal{ID: "u-1", Type: "robot"})
	assert.Error(t, err)
}

package fiber

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func login(t *testing.T, env *testEnv, accountType, email, password string) response {
	t.Helper()
	return do(t, env.app, http.MethodPost, "/auth/login", "", LoginRequest{
		AccountType: accountType,
		Email:       email,
		Password:    password,
	})
}

func TestLoginHandler(t *testing.T) {
	env := newTestEnv(t)

	resp := login(t, env, "user", "pat@example.com", "correct-pass")
	require.Equal(t, http.StatusOK, resp.Status)
	assert.NotEmpty(t, resp.Body["access_token"])
	assert.NotEmpty(t, resp.Body["refresh_token"])
	assert.Equal(t, "Bearer", resp.Body["token_type"])
	assert.Equal(t, 900.0, resp.Body["expires_in"])
	principal := resp.Body["principal"].(map[string]interface{})
	assert.Equal(t, "u-1", principal["id"])

	me := do(t, env.app, http.MethodGet, "/auth/me", resp.Body["access_token"].(string), nil)
	assert.Equal(t, http.StatusOK, me.Status)
}

func TestLoginHandlerFailures(t *testing.T) {
	env := newTestEnv(t)

	resp := login(t, env, "user", "pat@example.com", "wrong-pass")
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	errBody := resp.Body["error"].(map[string]interface{})
	assert.Equal(t, "Invalid email or password", errBody["message"])

	resp = login(t, env, "therapist", "new@example.com", "correct-pass")
	assert.Equal(t, http.StatusForbidden, resp.Status)

	resp = login(t, env, "robot", "pat@example.com", "correct-pass")
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = login(t, env, "user", "not-an-email", "correct-pass")
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestRefreshHandlerRotates(t *testing.T) {
	env := newTestEnv(t)
	first := login(t, env, "therapist", "dr@example.com", "correct-pass")
	require.Equal(t, http.StatusOK, first.Status)
	refresh := first.Body["refresh_token"].(string)

	resp := do(t, env.app, http.MethodPost, "/auth/refresh", "", RefreshTokenRequest{RefreshToken: refresh})
	require.Equal(t, http.StatusOK, resp.Status)
	assert.NotEqual(t, refresh, resp.Body["refresh_token"])

	resp = do(t, env.app, http.MethodPost, "/auth/refresh", "", RefreshTokenRequest{RefreshToken: refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	resp = do(t, env.app, http.MethodPost, "/auth/refresh", "", RefreshTokenRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestLogoutHandlers(t *testing.T) {
	env := newTestEnv(t)
	a := login(t, env, "user", "pat@example.com", "correct-pass")
	b := login(t, env, "user", "pat@example.com", "correct-pass")
	c := login(t, env, "user", "pat@example.com", "correct-pass")

	resp := do(t, env.app, http.MethodPost, "/auth/logout", "", RefreshTokenRequest{RefreshToken: a.Body["refresh_token"].(string)})
	assert.Equal(t, http.StatusNoContent, resp.Status)
	resp = do(t, env.app, http.MethodPost, "/auth/logout", "", RefreshTokenRequest{RefreshToken: "garbage"})
	assert.Equal(t, http.StatusNoContent, resp.Status)

	resp = do(t, env.app, http.MethodPost, "/auth/logout-all", b.Body["access_token"].(string), nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, 2.0, resp.Body["revoked"])

	resp = do(t, env.app, http.MethodPost, "/auth/refresh", "", RefreshTokenRequest{RefreshToken: c.Body["refresh_token"].(string)})
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
}

func TestChangePasswordHandler(t *testing.T) {
	env := newTestEnv(t)
	session := login(t, env, "user", "pat@example.com", "correct-pass")
	token := session.Body["access_token"].(string)

	resp := do(t, env.app, http.MethodPut, "/auth/password", token, ChangePasswordRequest{CurrentPassword: "correct-pass", NewPassword: "short"})
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = do(t, env.app, http.MethodPut, "/auth/password", token, ChangePasswordRequest{CurrentPassword: "wrong-pass", NewPassword: "brand-new-pass"})
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	resp = do(t, env.app, http.MethodPut, "/auth/password", token, ChangePasswordRequest{CurrentPassword: "correct-pass", NewPassword: "brand-new-pass"})
	require.Equal(t, http.StatusOK, resp.Status)
	assert.NotEmpty(t, resp.Body["refresh_token"])

	assert.Equal(t, http.StatusUnauthorized, login(t, env, "user", "pat@example.com", "correct-pass").Status)
	assert.Equal(t, http.StatusOK, login(t, env, "user", "pat@example.com", "brand-new-pass").Status)
}

func TestLoginStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetErr(errors.New("db down"))

	resp := login(t, env, "user", "pat@example.com", "correct-pass")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	errBody := resp.Body["error"].(map[string]interface{})
	assert.NotContains(t, errBody["message"], "db down")
}

func TestUnknownRouteKeepsFiberStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := do(t, env.app, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	errBody := resp.Body["error"].(map[string]interface{})
	assert.Equal(t, "NOT_FOUND", errBody["type"])
}

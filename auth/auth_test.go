package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"therapyhub.io/shared/config"
)

func TestMain(m *testing.M) {
	// Setup test environment
	os.Setenv("ACCESS_TOKEN_SECRET", "test-access-secret-for-jwt-signing")
	os.Setenv("REFRESH_TOKEN_SECRET", "test-refresh-secret-for-jwt-signing")
	os.Setenv("JWT_ISSUER", "test-issuer")

	// Initialize config
	if err := config.InitGlobalConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "init config: %v\n", err)
		os.Exit(1)
	}

	// Run tests
	code := m.Run()

	// Cleanup
	os.Unsetenv("ACCESS_TOKEN_SECRET")
	os.Unsetenv("REFRESH_TOKEN_SECRET")
	os.Unsetenv("JWT_ISSUER")

	os.Exit(code)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Tokens.AccessTTL != 15*time.Minute {
		t.Errorf("Expected access TTL 15m, got %v", cfg.Tokens.AccessTTL)
	}
	if cfg.Tokens.RefreshTTL != 7*24*time.Hour {
		t.Errorf("Expected refresh TTL 168h, got %v", cfg.Tokens.RefreshTTL)
	}
	if cfg.Tokens.Issuer != "test-issuer" {
		t.Errorf("Expected issuer 'test-issuer', got '%s'", cfg.Tokens.Issuer)
	}
	if cfg.PermissionCacheTTL != DefaultPermissionTTL {
		t.Errorf("Expected permission cache TTL %v, got %v", DefaultPermissionTTL, cfg.PermissionCacheTTL)
	}
	if cfg.SuperAdminRole != DefaultSuperAdminRole {
		t.Errorf("Expected super admin role '%s', got '%s'", DefaultSuperAdminRole, cfg.SuperAdminRole)
	}
	if cfg.BCryptCost != BCryptCost {
		t.Errorf("Expected bcrypt cost %d, got %d", BCryptCost, cfg.BCryptCost)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_EXPIRY", "5m")
	t.Setenv("REFRESH_TOKEN_EXPIRY", "3600")
	t.Setenv("SUPER_ADMIN_ROLE", "root")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Tokens.AccessTTL != 5*time.Minute {
		t.Errorf("Expected access TTL 5m, got %v", cfg.Tokens.AccessTTL)
	}
	if cfg.Tokens.RefreshTTL != time.Hour {
		t.Errorf("Expected refresh TTL 1h, got %v", cfg.Tokens.RefreshTTL)
	}
	if cfg.SuperAdminRole != "root" {
		t.Errorf("Expected super admin role 'root', got '%s'", cfg.SuperAdminRole)
	}
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"shared secret", "REFRESH_TOKEN_SECRET", "test-access-secret-for-jwt-signing"},
		{"bad duration", "ACCESS_TOKEN_EXPIRY", "soon"},
		{"bad cost", "BCRYPT_COST", "twelve"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := LoadConfig(); err == nil {
				t.Errorf("Expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err    *AuthError
		target error
		status int
	}{
		{Unauthorized("x"), ErrUnauthorized, http.StatusUnauthorized},
		{Forbidden("x", "a:b"), ErrForbidden, http.StatusForbidden},
		{NotFound("x"), ErrNotFound, http.StatusNotFound},
		{Conflict("x"), ErrConflict, http.StatusConflict},
		{BadRequest("x"), ErrBadRequest, http.StatusBadRequest},
		{ServiceUnavailable("x", errors.New("db down")), ErrServiceUnavailable, http.StatusServiceUnavailable},
		{Internal(errors.New("boom")), ErrInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.target) {
			t.Errorf("Expected %v to match %v", tt.err, tt.target)
		}
		if tt.err.Type.Status() != tt.status {
			t.Errorf("Expected status %d for %s, got %d", tt.status, tt.err.Type, tt.err.Type.Status())
		}
		if tt.err.Code != tt.status {
			t.Errorf("Expected code %d for %s, got %d", tt.status, tt.err.Type, tt.err.Code)
		}
	}
	if errors.Is(Unauthorized("x"), ErrForbidden) {
		t.Error("Unauthorized must not match ErrForbidden")
	}
}

func TestAsAuthError(t *testing.T) {
	if AsAuthError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
	if got := AsAuthError(ErrTokenExpired); got.Type != KindUnauthorized || got.Message != "token expired" {
		t.Errorf("Unexpected mapping for expired token: %+v", got)
	}
	if got := AsAuthError(fmt.Errorf("verify: %w", ErrTokenInvalid)); got.Type != KindUnauthorized {
		t.Errorf("Unexpected mapping for invalid token: %+v", got)
	}
	cause := errors.New("boom")
	got := AsAuthError(cause)
	if got.Type != KindInternal || !errors.Is(got, cause) {
		t.Errorf("Expected internal error wrapping cause, got %+v", got)
	}
	forbidden := Forbidden("nope")
	if AsAuthError(fmt.Errorf("wrapped: %w", forbidden)) != forbidden {
		t.Error("Expected wrapped AuthError to be returned as is")
	}
}

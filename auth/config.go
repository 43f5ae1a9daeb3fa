package auth

import (
	"errors"
	"fmt"
	"time"

	"therapyhub.io/shared/config"
)

// Config holds the settings of every auth component.
type Config struct {
	Tokens             TokenConfig
	PermissionCacheTTL time.Duration
	SuperAdminRole     string
	StatusCacheTTL     time.Duration
	BCryptCost         int
}

// LoadConfig reads the auth settings from the global config system.
func LoadConfig() (*Config, error) {
	accessTTL, err := config.GetDurationWithDefault("ACCESS_TOKEN_EXPIRY", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid ACCESS_TOKEN_EXPIRY: %w", err)
	}
	refreshTTL, err := config.GetDurationWithDefault("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_TOKEN_EXPIRY: %w", err)
	}
	cacheTTL, err := config.GetDurationWithDefault("PERMISSION_CACHE_TTL", DefaultPermissionTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid PERMISSION_CACHE_TTL: %w", err)
	}
	statusTTL, err := config.GetDurationWithDefault("ACCOUNT_STATUS_CACHE_TTL", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid ACCOUNT_STATUS_CACHE_TTL: %w", err)
	}
	cost, err := config.GetIntWithDefault("BCRYPT_COST", BCryptCost)
	if err != nil {
		return nil, fmt.Errorf("invalid BCRYPT_COST: %w", err)
	}

	accessSecret := config.GetConfig("ACCESS_TOKEN_SECRET")
	if accessSecret == "" {
		return nil, errors.New("ACCESS_TOKEN_SECRET configuration is required")
	}
	refreshSecret := config.GetConfig("REFRESH_TOKEN_SECRET")
	if refreshSecret == "" {
		return nil, errors.New("REFRESH_TOKEN_SECRET configuration is required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	return &Config{
		Tokens: TokenConfig{
			AccessSecret:  []byte(accessSecret),
			RefreshSecret: []byte(refreshSecret),
			AccessTTL:     accessTTL,
			RefreshTTL:    refreshTTL,
			Issuer:        config.GetConfigWithDefault("JWT_ISSUER", "therapy-api"),
		},
		PermissionCacheTTL: cacheTTL,
		SuperAdminRole:     config.GetConfigWithDefault("SUPER_ADMIN_ROLE", DefaultSuperAdminRole),
		StatusCacheTTL:     statusTTL,
		BCryptCost:         cost,
	}, nil
}

package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"
)

// ProviderType represents the type of configuration provider
type ProviderType string

const (
	ProviderTypeAzureKeyVault ProviderType = "azure-keyvault"
	ProviderTypeEnvFile       ProviderType = "env-file"
)

// ConfigProvider defines the interface for any configuration source
type ConfigProvider interface {
	// Get retrieves a configuration value by key
	Get(ctx context.Context, key string) (string, error)

	// GetWithDefault retrieves a configuration value with fallback to default
	GetWithDefault(ctx context.Context, key, defaultValue string) (string, error)
}

// ConnectionTester is implemented by remote providers that can be checked at startup.
type ConnectionTester interface {
	TestConnection(ctx context.Context) error
}

// ProviderConfig holds configuration for a specific provider
type ProviderConfig struct {
	ProviderType ProviderType           `json:"provider_type"`
	Config       map[string]interface{} `json:"config"`
}

// ProviderFactory creates and manages configuration providers
type ProviderFactory struct {
	Log logrus.FieldLogger
}

func (pf *ProviderFactory) logger() logrus.FieldLogger {
	if pf.Log == nil {
		return logrus.StandardLogger()
	}
	return pf.Log
}

// NewProvider creates a new configuration provider based on the configuration
func (pf *ProviderFactory) NewProvider(config ProviderConfig) (ConfigProvider, error) {
	switch config.ProviderType {
	case ProviderTypeAzureKeyVault:
		return NewAzureKeyVaultProvider(config, pf.logger())
	case ProviderTypeEnvFile:
		return NewEnvFileProvider(config)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.ProviderType)
	}
}

// ValidateProviderConfig validates the configuration for a specific provider
func (pf *ProviderFactory) ValidateProviderConfig(config ProviderConfig) error {
	switch config.ProviderType {
	case ProviderTypeAzureKeyVault:
		return validateAzureKeyVaultConfig(config)
	case ProviderTypeEnvFile:
		return validateEnvFileConfig(config)
	default:
		return fmt.Errorf("unsupported provider type: %s", config.ProviderType)
	}
}

func validateAzureKeyVaultConfig(config ProviderConfig) error {
	raw, ok := config.Config["vault_url"].(string)
	if !ok || raw == "" {
		return fmt.Errorf("vault_url is required for %s", ProviderTypeAzureKeyVault)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("vault_url must be an https URL, got %q", raw)
	}
	return nil
}

func validateEnvFileConfig(config ProviderConfig) error {
	if v, ok := config.Config["path"]; ok {
		if s, isString := v.(string); !isString || s == "" {
			return fmt.Errorf("path for %s must be a non-empty string", ProviderTypeEnvFile)
		}
	}
	return nil
}

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"therapyhub.io/shared/config/providers"
)

// ConfigManager manages configuration from different sources
type ConfigManager struct {
	configSource     string
	provider         providers.ConfigProvider
	fallbackProvider providers.ConfigProvider
	log              logrus.FieldLogger
}

// NewConfigManager creates a new configuration manager. CONFIG_SOURCE selects
// the primary provider; environment variables always serve as fallback.
func NewConfigManager() (*ConfigManager, error) {
	return NewConfigManagerWithLogger(logrus.StandardLogger())
}

func NewConfigManagerWithLogger(log logrus.FieldLogger) (*ConfigManager, error) {
	// These two environment variables are needed to bootstrap the config system
	// They must be read directly since the config manager isn't available yet
	configSource := os.Getenv("CONFIG_SOURCE")
	if configSource == "" {
		configSource = string(providers.ProviderTypeEnvFile)
	}

	configSourceConfig := map[string]interface{}{}
	if raw := os.Getenv("CONFIG_SOURCE_CONFIG"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &configSourceConfig); err != nil {
			return nil, fmt.Errorf("failed to parse CONFIG_SOURCE_CONFIG: %w", err)
		}
	}

	factory := &providers.ProviderFactory{Log: log}
	providerConfig := providers.ProviderConfig{
		ProviderType: providers.ProviderType(configSource),
		Config:       configSourceConfig,
	}
	if err := factory.ValidateProviderConfig(providerConfig); err != nil {
		return nil, fmt.Errorf("invalid provider configuration: %w", err)
	}
	provider, err := factory.NewProvider(providerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary provider: %w", err)
	}

	// Create fallback provider (always plain environment)
	fallbackProvider, err := factory.NewProvider(providers.ProviderConfig{
		ProviderType: providers.ProviderTypeEnvFile,
		Config:       map[string]interface{}{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback provider: %w", err)
	}

	cm := NewConfigManagerFromProviders(configSource, provider, fallbackProvider, log)
	if tester, ok := provider.(providers.ConnectionTester); ok {
		if err := tester.TestConnection(context.Background()); err != nil {
			log.WithError(err).Warn("primary config provider unreachable, using fallback")
		}
	}
	log.WithField("config_source", configSource).Info("configuration manager initialized")
	return cm, nil
}

// NewConfigManagerFromProviders wires a manager from already built providers.
func NewConfigManagerFromProviders(source string, primary, fallback providers.ConfigProvider, log logrus.FieldLogger) *ConfigManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ConfigManager{
		configSource:     source,
		provider:         primary,
		fallbackProvider: fallback,
		log:              log,
	}
}

// lookup tries the primary provider under the normalized key, then the
// fallback provider under the original key.
func (cm *ConfigManager) lookup(key string) (string, bool) {
	ctx := context.Background()
	searchKey := cm.normalizeKey(key)

	value, err := cm.provider.Get(ctx, searchKey)
	if err == nil && value != "" {
		return value, true
	}
	// With env-file as primary the fallback would fail the same way.
	if cm.configSource == string(providers.ProviderTypeEnvFile) || cm.fallbackProvider == nil {
		return "", false
	}
	cm.log.WithError(err).WithFields(logrus.Fields{"key": key, "searched_as": searchKey}).
		Debug("primary config provider miss, falling back to environment")

	value, err = cm.fallbackProvider.Get(ctx, key)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

// Get retrieves a configuration value with proper key normalization
func (cm *ConfigManager) Get(key string) string {
	value, _ := cm.lookup(key)
	return value
}

// GetWithDefault retrieves a configuration value with fallback
func (cm *ConfigManager) GetWithDefault(key, defaultValue string) string {
	if value, ok := cm.lookup(key); ok {
		return value
	}
	return defaultValue
}

// IsKeyVaultEnabled returns true if Azure Key Vault is the primary provider
func (cm *ConfigManager) IsKeyVaultEnabled() bool {
	return cm.configSource == string(providers.ProviderTypeAzureKeyVault)
}

// GetConfigSource returns the current configuration source
func (cm *ConfigManager) GetConfigSource() string {
	return cm.configSource
}

// normalizeKey normalizes keys based on the configuration source
func (cm *ConfigManager) normalizeKey(key string) string {
	switch cm.configSource {
	case string(providers.ProviderTypeAzureKeyVault):
		// Azure Key Vault doesn't support underscores, use hyphens
		return strings.ReplaceAll(key, "_", "-")
	default:
		return key
	}
}

package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/sirupsen/logrus"
)

const (
	defaultSecretCacheDuration = 5 * time.Minute
	secretFetchTimeout         = 10 * time.Second
)

// SecretGetter is the part of *azsecrets.Client the provider uses.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// AzureKeyVaultProvider implements ConfigProvider for Azure Key Vault
type AzureKeyVaultProvider struct {
	client        SecretGetter
	vaultURL      string
	cache         map[string]cachedSecret
	cacheMutex    sync.RWMutex
	cacheDuration time.Duration
	now           func() time.Time
	log           logrus.FieldLogger
}

// transformKeyForAzureKeyVault converts environment variable style keys to Azure Key Vault compatible keys
// Environment: ACCESS_TOKEN_SECRET -> Azure Key Vault: ACCESS-TOKEN-SECRET
func transformKeyForAzureKeyVault(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// NewAzureKeyVaultProvider creates a new Azure Key Vault provider
func NewAzureKeyVaultProvider(config ProviderConfig, log logrus.FieldLogger) (ConfigProvider, error) {
	vaultURL, ok := config.Config["vault_url"].(string)
	if !ok || vaultURL == "" {
		return nil, fmt.Errorf("vault_url is required in config for Azure Key Vault provider")
	}

	// Use Managed Identity for authentication
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	client, err := azsecrets.NewClient(vaultURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}

	cacheDuration := defaultSecretCacheDuration
	if raw, ok := config.Config["cache_duration"].(string); ok && raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cacheDuration = d
		}
	}

	provider := NewAzureKeyVaultProviderWithClient(client, vaultURL, cacheDuration, log)
	provider.log.WithField("vault_url", vaultURL).Info("azure key vault provider initialized")
	return provider, nil
}

// NewAzureKeyVaultProviderWithClient builds a provider around an existing client.
func NewAzureKeyVaultProviderWithClient(client SecretGetter, vaultURL string, cacheDuration time.Duration, log logrus.FieldLogger) *AzureKeyVaultProvider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cacheDuration <= 0 {
		cacheDuration = defaultSecretCacheDuration
	}
	return &AzureKeyVaultProvider{
		client:        client,
		vaultURL:      vaultURL,
		cache:         make(map[string]cachedSecret),
		cacheDuration: cacheDuration,
		now:           time.Now,
		log:           log,
	}
}

// Get retrieves a configuration value from Azure Key Vault
func (akp *AzureKeyVaultProvider) Get(ctx context.Context, key string) (string, error) {
	azureKey := transformKeyForAzureKeyVault(key)

	akp.cacheMutex.RLock()
	entry, exists := akp.cache[key]
	akp.cacheMutex.RUnlock()
	if exists && akp.now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	akp.cacheMutex.Lock()
	defer akp.cacheMutex.Unlock()

	// Double-check cache after acquiring write lock
	if entry, exists := akp.cache[key]; exists && akp.now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	secret, err := akp.getSecretFromKeyVault(ctx, azureKey)
	if err != nil {
		akp.log.WithError(err).WithField("secret_name", azureKey).Debug("key vault lookup failed")
		return "", err
	}

	akp.cache[key] = cachedSecret{value: secret, expiresAt: akp.now().Add(akp.cacheDuration)}
	return secret, nil
}

// GetWithDefault retrieves a configuration value with fallback
func (akp *AzureKeyVaultProvider) GetWithDefault(ctx context.Context, key, defaultValue string) (string, error) {
	value, err := akp.Get(ctx, key)
	if err != nil {
		return defaultValue, nil
	}
	return value, nil
}

// TestConnection fetches a sentinel secret; a missing secret still proves the
// vault answered.
func (akp *AzureKeyVaultProvider) TestConnection(ctx context.Context) error {
	_, err := akp.getSecretFromKeyVault(ctx, "CONFIG-SENTINEL")
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// getSecretFromKeyVault retrieves a secret from Azure Key Vault
func (akp *AzureKeyVaultProvider) getSecretFromKeyVault(ctx context.Context, secretName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, secretFetchTimeout)
	defer cancel()

	resp, err := akp.client.GetSecret(ctx, secretName, "", nil)
	if err != nil {
		return "", fmt.Errorf("failed to get secret '%s': %w", secretName, err)
	}
	if resp.Value == nil {
		return "", fmt.Errorf("secret '%s' has no value", secretName)
	}
	return *resp.Value, nil
}

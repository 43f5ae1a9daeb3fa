package providers

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvFileProvider implements ConfigProvider for environment variables. When
// configured with a "path", KEY=VALUE lines from that file are consulted after
// the process environment.
type EnvFileProvider struct {
	config map[string]interface{}
	file   map[string]string
}

// NewEnvFileProvider creates a new environment file provider
func NewEnvFileProvider(config ProviderConfig) (ConfigProvider, error) {
	ep := &EnvFileProvider{config: config.Config, file: map[string]string{}}
	if path, _ := config.Config["path"].(string); path != "" {
		values, err := readEnvFile(path)
		if err != nil {
			return nil, err
		}
		ep.file = values
	}
	return ep, nil
}

// Get retrieves a configuration value from environment variables
func (ep *EnvFileProvider) Get(ctx context.Context, key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	if value, ok := ep.file[key]; ok && value != "" {
		return value, nil
	}
	return "", fmt.Errorf("environment variable '%s' not set", key)
}

// GetWithDefault retrieves a configuration value with fallback
func (ep *EnvFileProvider) GetWithDefault(ctx context.Context, key, defaultValue string) (string, error) {
	value, err := ep.Get(ctx, key)
	if err != nil {
		return defaultValue, nil
	}
	return value, nil
}

func readEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		text = strings.TrimPrefix(text, "export ")
		key, value, ok := strings.Cut(text, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", path, line)
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		values[strings.TrimSpace(key)] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return values, nil
}

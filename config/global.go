package config

import (
	"strconv"
	"sync"
	"time"
)

var (
	globalConfigManager *ConfigManager
	globalConfigOnce    sync.Once
	globalConfigErr     error
	globalConfigMutex   sync.RWMutex
)

// InitGlobalConfig initializes the global configuration manager
// This should be called once at application startup
func InitGlobalConfig() error {
	globalConfigOnce.Do(func() {
		cm, err := NewConfigManager()
		if err != nil {
			globalConfigErr = err
			return
		}
		SetGlobalConfig(cm)
	})
	return globalConfigErr
}

// GetGlobalConfig returns the global configuration manager instance
func GetGlobalConfig() *ConfigManager {
	globalConfigMutex.RLock()
	defer globalConfigMutex.RUnlock()
	return globalConfigManager
}

// GetConfig is a simple method to get configuration values
func GetConfig(key string) string {
	cm := GetGlobalConfig()
	if cm == nil {
		return ""
	}
	return cm.Get(key)
}

// GetConfigWithDefault is a simple method to get configuration values with fallback
func GetConfigWithDefault(key, defaultValue string) string {
	cm := GetGlobalConfig()
	if cm == nil {
		return defaultValue
	}
	return cm.GetWithDefault(key, defaultValue)
}

// GetDurationWithDefault parses a Go duration ("15m", "168h"). A bare integer
// is read as seconds.
func GetDurationWithDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := GetConfig(key)
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(raw)
}

func GetIntWithDefault(key string, defaultValue int) (int, error) {
	raw := GetConfig(key)
	if raw == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(raw)
}

// SetGlobalConfig allows setting the global config (mainly for testing)
func SetGlobalConfig(cm *ConfigManager) {
	globalConfigMutex.Lock()
	defer globalConfigMutex.Unlock()
	globalConfigManager = cm
}

// IsGlobalConfigInitialized checks if the global config has been initialized
func IsGlobalConfigInitialized() bool {
	return GetGlobalConfig() != nil
}

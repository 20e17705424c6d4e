package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `database:
  driver: memory
security:
  jwt_secret: jwt
  encryption_secret: enc
`

func TestNewConfigReloader(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &Config{LogLevel: "info"}
	reloader, err := NewConfigReloader("", cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, reloader)
	reloader.Stop()

	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log_level: info\n"), 0644))

	reloader, err = NewConfigReloader(configPath, cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, reloader)
	reloader.Stop()
	// Stop is idempotent.
	reloader.Stop()
}

func TestConfigReloader_FileWatching(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log_level: info\n"+baseYAML), 0644))

	initialConfig, err := LoadConfig(configPath)
	require.NoError(t, err)

	reloader, err := NewConfigReloader(configPath, initialConfig, logger)
	require.NoError(t, err)
	defer reloader.Stop()

	var callbackCalled int64
	var firstOld, firstNew atomic.Pointer[Config]
	reloader.SetOnReloadCallback(func(old, new *Config) error {
		if atomic.AddInt64(&callbackCalled, 1) == 1 {
			firstOld.Store(old)
			firstNew.Store(new)
		}
		return nil
	})

	go reloader.Start()
	time.Sleep(100 * time.Millisecond)

	updated := "log_level: debug\nrate_limit:\n  enabled: true\n  s3: 50\n" + baseYAML
	require.NoError(t, os.WriteFile(configPath, []byte(updated), 0644))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&callbackCalled) >= 1
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, "info", firstOld.Load().LogLevel)
	assert.Equal(t, "debug", firstNew.Load().LogLevel)
	assert.Equal(t, 50, firstNew.Load().RateLimit.S3)
	require.Eventually(t, func() bool {
		return reloader.GetCurrentConfig().LogLevel == "debug"
	}, time.Second, 20*time.Millisecond)
}

func TestConfigReloader_SIGHUP(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	reloader, err := NewConfigReloader("", &Config{LogLevel: "info"}, logger)
	require.NoError(t, err)
	defer reloader.Stop()

	var callbackCalled int64
	reloader.SetOnReloadCallback(func(old, new *Config) error {
		atomic.AddInt64(&callbackCalled, 1)
		return nil
	})

	go reloader.Start()
	time.Sleep(100 * time.Millisecond)

	process, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, process.Signal(syscall.SIGHUP))
	time.Sleep(200 * time.Millisecond)

	// No file configured: the signal is handled but nothing is applied.
	assert.Equal(t, int64(0), atomic.LoadInt64(&callbackCalled))
	assert.Equal(t, "info", reloader.GetCurrentConfig().LogLevel)
}

func TestValidateReloadSafety(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	reloader, err := NewConfigReloader("", &Config{}, logger)
	require.NoError(t, err)
	defer reloader.Stop()

	tests := []struct {
		name        string
		oldConfig   *Config
		newConfig   *Config
		expectError bool
		errorMsg    string
	}{
		{
			name:      "safe changes allowed",
			oldConfig: &Config{LogLevel: "info", RateLimit: RateLimitConfig{S3: 20}},
			newConfig: &Config{LogLevel: "debug", RateLimit: RateLimitConfig{S3: 40}},
		},
		{
			name:        "encryption secret change rejected",
			oldConfig:   &Config{Security: SecurityConfig{EncryptionSecret: "old"}},
			newConfig:   &Config{Security: SecurityConfig{EncryptionSecret: "new"}},
			expectError: true,
			errorMsg:    "security.encryption_secret cannot be changed during hot reload",
		},
		{
			name:        "cipher algorithm change rejected",
			oldConfig:   &Config{Security: SecurityConfig{CipherAlgorithm: "AES256-GCM"}},
			newConfig:   &Config{Security: SecurityConfig{CipherAlgorithm: "ChaCha20-Poly1305"}},
			expectError: true,
			errorMsg:    "security.cipher_algorithm cannot be changed during hot reload",
		},
		{
			name:        "jwt secret change rejected",
			oldConfig:   &Config{Security: SecurityConfig{JWTSecret: "old"}},
			newConfig:   &Config{Security: SecurityConfig{JWTSecret: "new"}},
			expectError: true,
			errorMsg:    "security.jwt_secret cannot be changed during hot reload",
		},
		{
			name:        "database dsn change rejected",
			oldConfig:   &Config{Database: DatabaseConfig{DSN: "a"}},
			newConfig:   &Config{Database: DatabaseConfig{DSN: "b"}},
			expectError: true,
			errorMsg:    "database.dsn cannot be changed during hot reload",
		},
		{
			name:        "tls change rejected",
			oldConfig:   &Config{},
			newConfig:   &Config{TLS: TLSConfig{Enabled: true}},
			expectError: true,
			errorMsg:    "tls cannot be changed during hot reload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reloader.validateReloadSafety(tt.oldConfig, tt.newConfig)
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetCurrentConfig(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	reloader, err := NewConfigReloader("", &Config{LogLevel: "info"}, logger)
	require.NoError(t, err)
	defer reloader.Stop()

	current := reloader.GetCurrentConfig()
	assert.Equal(t, "info", current.LogLevel)

	current.LogLevel = "debug"
	assert.Equal(t, "info", reloader.GetCurrentConfig().LogLevel)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, DriverMongo, cfg.StoreDriver)
	assert.Equal(t, 720*time.Hour, cfg.JWTExpiresIn)
	assert.Equal(t, 25, cfg.DefaultPageLimit)
	assert.Equal(t, 5, cfg.LowStockThreshold)
	assert.False(t, cfg.AllowNegativeStock)
	assert.True(t, cfg.EventsEnabled)
}

func TestLoad_SecretFromFile(t *testing.T) {
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "jwt")
	require.NoError(t, os.WriteFile(secretPath, []byte("  from-file\n"), 0o600))

	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("JWT_SECRET_FILE", secretPath)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("JWT_SECRET=dotenv\nLOW_STOCK_THRESHOLD=2\n"), 0o600))

	// godotenv does not override variables that are already set.
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")
	t.Cleanup(func() {
		os.Unsetenv("LOW_STOCK_THRESHOLD")
	})

	cfg, err := Load(envPath)
	require.NoError(t, err)
	assert.Equal(t, "dotenv", cfg.JWTSecret)
	assert.Equal(t, 2, cfg.LowStockThreshold)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing_secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "unknown_driver", env: map[string]string{"JWT_SECRET": "s", "STORE_DRIVER": "postgres"}},
		{name: "zero_limit", env: map[string]string{"JWT_SECRET": "s", "DEFAULT_PAGE_LIMIT": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

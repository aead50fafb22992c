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
	t.Setenv("AUCTION_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Minute, cfg.ExtensionWindow)
	assert.Equal(t, 5*time.Minute, cfg.ExtensionDelta)
	assert.Equal(t, 0, cfg.MaxExtensions)
	assert.Equal(t, 250*time.Millisecond, cfg.GateTimeout)
	assert.Equal(t, time.Second, cfg.SweepInterval)

	engine := cfg.Engine()
	assert.Equal(t, 5*time.Minute, engine.Extension.Window)
	assert.Equal(t, 4, cfg.Sweeper().Concurrency)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("AUCTION_JWT_SECRET", "")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "AUCTION_JWT_SECRET=from-file\nAUCTION_MAX_EXTENSIONS=3\nAUCTION_HTTP_ADDR=:9999\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	// the environment wins over the file
	t.Setenv("AUCTION_HTTP_ADDR", ":7000")
	t.Cleanup(func() {
		os.Unsetenv("AUCTION_JWT_SECRET")
		os.Unsetenv("AUCTION_MAX_EXTENSIONS")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 3, cfg.MaxExtensions)
	assert.Equal(t, ":7000", cfg.HTTPAddr)

	_, err = Load(filepath.Join(dir, "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{name: "BadDuration", key: "AUCTION_GATE_TIMEOUT", value: "soon"},
		{name: "ZeroGateTimeout", key: "AUCTION_GATE_TIMEOUT", value: "0s"},
		{name: "NegativeCap", key: "AUCTION_MAX_EXTENSIONS", value: "-1"},
		{name: "TinySweepInterval", key: "AUCTION_SWEEP_INTERVAL", value: "1ms"},
		{name: "ZeroConcurrency", key: "AUCTION_SWEEP_CONCURRENCY", value: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AUCTION_JWT_SECRET", "s3cret")
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

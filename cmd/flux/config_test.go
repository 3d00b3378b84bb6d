package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}

	require.NoError(t, setConfigValue(cfg, "default.base_url", "http://chat.local"))
	require.NoError(t, setConfigValue(cfg, "auth.token", "tok"))
	require.NoError(t, setConfigValue(cfg, "auth.identity", "u1"))
	require.NoError(t, setConfigValue(cfg, "auth.login_id", "bob1"))

	assert.Equal(t, "http://chat.local", cfg.Default.BaseURL)
	assert.Equal(t, ConfigAuth{Token: "tok", Identity: "u1", LoginID: "bob1"}, cfg.Auth)

	for _, key := range []string{"base_url", "default.nope", "auth.password", "other.field"} {
		t.Run(key, func(t *testing.T) {
			assert.Error(t, setConfigValue(cfg, key, "x"))
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg, "missing file yields zero config")

	cfg.Default.BaseURL = "http://chat.local"
	cfg.Auth = ConfigAuth{Token: "tok", Identity: "u1", LoginID: "bob1"}
	require.NoError(t, saveConfig(cfg))

	info, err := os.Stat(filepath.Join(home, ".flux", "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEffectiveConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, saveConfig(&Config{
		Default: ConfigDefault{BaseURL: "http://file"},
		Auth:    ConfigAuth{Token: "file-token", Identity: "u1"},
	}))

	t.Setenv("FLUX_BASE_URL", "http://env")
	t.Setenv("FLUX_IDENTITY", "")

	cfg, err := effectiveConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://env", cfg.Default.BaseURL)
	assert.Equal(t, "file-token", cfg.Auth.Token)
	assert.Equal(t, "u1", cfg.Auth.Identity, "empty variables do not override")

	saved, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://file", saved.Default.BaseURL, "overrides are never persisted")
}

func TestReadEnvDefaults(t *testing.T) {
	t.Setenv("FLUX_LOG_LEVEL", "")
	os.Unsetenv("FLUX_LOG_LEVEL")

	env, err := readEnv()
	require.NoError(t, err)
	assert.Equal(t, "warn", env.LogLevel)

	t.Setenv("FLUX_LOG_LEVEL", "debug")
	env, err = readEnv()
	require.NoError(t, err)
	assert.Equal(t, "debug", env.LogLevel)
	require.NoError(t, setupLogging(env.LogLevel))
	assert.Error(t, setupLogging("loud"))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", maskToken("abcd"))
	assert.Equal(t, "eyJhbG...wxyz", maskToken("eyJhbGciOiJIUzI1NiJ9.payload.wxyz"))
}

func TestConfigShowMasksToken(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	const token = "eyJhbGciOiJIUzI1NiJ9.secret-payload.wxyz"
	require.NoError(t, saveConfig(&Config{
		Default: ConfigDefault{BaseURL: "http://file"},
		Auth:    ConfigAuth{Token: token, Identity: "u1"},
	}))
	t.Setenv("FLUX_BASE_URL", "http://env")

	var out bytes.Buffer
	configShowCmd.SetOut(&out)
	t.Cleanup(func() { configShowCmd.SetOut(nil) })
	require.NoError(t, configShowCmd.RunE(configShowCmd, nil))

	got := out.String()
	assert.NotContains(t, got, token)
	assert.NotContains(t, got, "secret-payload")
	assert.Contains(t, got, maskToken(token))
	assert.Contains(t, got, "http://env")
	assert.NotContains(t, got, "http://file")
	assert.Contains(t, got, "u1")

	t.Run("render leaves the config untouched", func(t *testing.T) {
		cfg := &Config{Auth: ConfigAuth{Token: token}}
		var buf bytes.Buffer
		require.NoError(t, renderConfig(&buf, cfg))
		assert.Equal(t, token, cfg.Auth.Token)
	})
}

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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/sign-in", cfg.Auth.SignInPath)
	assert.Equal(t, "/dashboard", cfg.Auth.LandingPath)
	assert.Equal(t, 30*time.Second, cfg.Email.Timeout)
	assert.Equal(t, 20, cfg.Rate.Burst)

	// no verifier configured
	assert.Error(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crmgw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
auth:
  hmac_secret: from-file
email:
  timeout: 5s
rate:
  rps: 2
`), 0o600))

	t.Setenv("CRMGW_AUTH_HMAC_SECRET", "from-env")
	t.Setenv("CRMGW_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "from-env", cfg.Auth.HMACSecret)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Email.Timeout)
	assert.Equal(t, 2.0, cfg.Rate.RPS)
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), path)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Auth.JWKSURL = "https://auth.example.com/jwks"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"bad mode":      func(c *Config) { c.Server.Mode = "prod" },
		"bad level":     func(c *Config) { c.Log.Level = "loud" },
		"relative path": func(c *Config) { c.Auth.SignInPath = "sign-in" },
		"zero timeout":  func(c *Config) { c.Email.Timeout = 0 },
		"zero rps":      func(c *Config) { c.Rate.RPS = 0 },
		"no db path":    func(c *Config) { c.Activity.DBPath = "" },
		"no verifier":   func(c *Config) { c.Auth.JWKSURL = "" },
		"empty addr":    func(c *Config) { c.Server.Addr = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "evidence.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 2, cfg.Fetch.Retries)
	assert.Equal(t, 64, cfg.Fetch.MaxBodyMB)
	assert.False(t, cfg.Features.AutoIngestion)
	assert.True(t, cfg.Features.EvidenceRecovery)
	assert.True(t, cfg.Features.GatingEnforcement)
	assert.True(t, cfg.Compliance.ZeroCostMode)
	assert.False(t, cfg.Compliance.AllowPaidAccess)
	assert.Equal(t, "enforce", cfg.Compliance.Mode)
	assert.Equal(t, "https://nominatim.openstreetmap.org/search", cfg.Geocode.Endpoint)
	assert.Equal(t, 30, cfg.Geocode.CacheTTLDays)
}

func TestLoadFromYAML(t *testing.T) {
	chtemp(t)

	yaml := `
store:
  path: /tmp/cache.db
log:
  level: debug
  format: console
server:
  port: 9090
portals:
  - url: https://data.cityofchicago.org
    type: socrata
    name: Chicago Data Portal
`
	require.NoError(t, os.WriteFile(filepath.Join(mustGetwd(t), "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/cache.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	require.Len(t, cfg.Portals, 1)
	assert.Equal(t, "socrata", cfg.Portals[0].Type)
	// Defaults still apply for unset values
	assert.Equal(t, 30, cfg.Fetch.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chtemp(t)

	yaml := `
log:
  level: debug
auth:
  socrata_app_token: file-token
`
	require.NoError(t, os.WriteFile(filepath.Join(mustGetwd(t), "config.yaml"), []byte(yaml), 0644))

	t.Setenv("EVIDENCE_LOG_LEVEL", "warn")
	t.Setenv("EVIDENCE_AUTH_SOCRATA_APP_TOKEN", "env-token")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "env-token", cfg.Auth.SocrataAppToken)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtemp(t)

	t.Setenv("EVIDENCE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestZeroCostModeForcesPaidAccessOff(t *testing.T) {
	chtemp(t)

	yaml := `
compliance:
  zero_cost_mode: true
  allow_paid_access: true
`
	require.NoError(t, os.WriteFile(filepath.Join(mustGetwd(t), "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Compliance.ZeroCostMode)
	assert.False(t, cfg.Compliance.AllowPaidAccess)
}

func TestPaidAccessAllowedWhenZeroCostOff(t *testing.T) {
	chtemp(t)

	yaml := `
compliance:
  zero_cost_mode: false
  allow_paid_access: true
`
	require.NoError(t, os.WriteFile(filepath.Join(mustGetwd(t), "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Compliance.AllowPaidAccess)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the fields validation checks.
func validDefaults() *Config {
	return &Config{
		Store:      StoreConfig{Driver: "sqlite", Path: "evidence.db"},
		Server:     ServerConfig{Port: 8080},
		Fetch:      FetchConfig{TimeoutSecs: 30, Retries: 2, MaxBodyMB: 64},
		Compliance: ComplianceConfig{ZeroCostMode: true, Mode: "enforce"},
		Geocode:    GeocodeConfig{CacheTTLDays: 30},
	}
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateQueryRequiresStorePath(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("query"))

	cfg.Store.Path = ""
	err := cfg.Validate("query")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.path is required")
}

func TestValidateBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Fetch.Retries = 11
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fetch.retries must be between 0 and 10")

	cfg.Fetch.Retries = 2
	cfg.Compliance.Mode = "strict"
	err = cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "compliance.mode must be enforce or audit")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func mustGetwd(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	return dir
}

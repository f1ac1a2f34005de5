// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

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
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.KEV.StaleAfterHours)
	assert.Equal(t, 24*time.Hour, cfg.KEVStaleAfter())
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 2000, cfg.EPSS.MaxQueryLength)
	assert.Equal(t, 24*time.Hour, cfg.Breaker.OpenDuration)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 300*time.Second, cfg.Breaker.Window)
	assert.InDelta(t, 2.0, cfg.Risk.Exposure.External, 1e-9)
	assert.InDelta(t, 0.5, cfg.Risk.Exposure.None, 1e-9)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, filepath.Join(cfg.CacheDir, "vuln-risk.db"), cfg.Database.DSN)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vuln-risk.yaml")
	content := `
log:
  level: debug
kev:
  staleAfterHours: 12
breaker:
  openDuration: 2h
risk:
  exposure:
    external: 3.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("VULNRISK_EPSS_MAXQUERYLENGTH", "500")
	t.Setenv("VULNRISK_DATABASE_DRIVER", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 12, cfg.KEV.StaleAfterHours)
	assert.Equal(t, 2*time.Hour, cfg.Breaker.OpenDuration)
	assert.InDelta(t, 3.0, cfg.Risk.Exposure.External, 1e-9)
	assert.InDelta(t, 1.2, cfg.Risk.Exposure.Authenticated, 1e-9)
	assert.Equal(t, 500, cfg.EPSS.MaxQueryLength)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, true},
		{"postgres with dsn", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.DSN = "host=localhost user=u dbname=d"
		}, false},
		{"zero threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, true},
		{"bad epss url", func(c *Config) { c.EPSS.BaseURL = "not a url" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

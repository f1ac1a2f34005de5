// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package config builds the single immutable configuration value that is
// threaded through every component constructor.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// VULNRISK_KEV_STALEAFTERHOURS=12.
const EnvPrefix = "VULNRISK"

// Config is the complete runtime configuration.
type Config struct {
	Log       Log      `mapstructure:"log"`
	CacheDir  string   `mapstructure:"cacheDir"`
	Inventory string   `mapstructure:"inventory"`
	Database  Database `mapstructure:"database"`
	KEV       KEV      `mapstructure:"kev"`
	EPSS      EPSS     `mapstructure:"epss"`
	Cache     Cache    `mapstructure:"cache"`
	Breaker   Breaker  `mapstructure:"breaker"`
	Risk      Risk     `mapstructure:"risk"`
	Server    Server   `mapstructure:"server"`
}

type Log struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// Database selects the durable store backing both the key/value cache and
// the KEV/EPSS record tables. DSN is a file path for sqlite and a libpq
// connection string for postgres.
type Database struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres memory"`
	DSN    string `mapstructure:"dsn"`
}

type KEV struct {
	PrimaryURL      string `mapstructure:"primaryURL" validate:"required,url"`
	FallbackURL     string `mapstructure:"fallbackURL" validate:"omitempty,url"`
	StaleAfterHours int    `mapstructure:"staleAfterHours" validate:"gt=0"`
}

type EPSS struct {
	BaseURL           string  `mapstructure:"baseURL" validate:"required,url"`
	BulkURL           string  `mapstructure:"bulkURL" validate:"required,url"`
	MaxQueryLength    int     `mapstructure:"maxQueryLength" validate:"gte=32"`
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond" validate:"gt=0"`
	StaleAfterHours   int     `mapstructure:"staleAfterHours" validate:"gt=0"`
}

type Cache struct {
	TTLMinutes int `mapstructure:"ttlMinutes" validate:"gt=0"`
	// MemoryEntries bounds the in-process store used when the database
	// driver is "memory".
	MemoryEntries int `mapstructure:"memoryEntries" validate:"gt=0"`
}

type Breaker struct {
	OpenDuration     time.Duration `mapstructure:"openDuration" validate:"gt=0"`
	FailureThreshold int           `mapstructure:"failureThreshold" validate:"gt=0"`
	Window           time.Duration `mapstructure:"window" validate:"gt=0"`
}

// Risk holds the exposure multipliers used by the scoring engine.
type Risk struct {
	Exposure ExposureMultipliers `mapstructure:"exposure"`
}

type ExposureMultipliers struct {
	External      float64 `mapstructure:"external" validate:"gte=0"`
	Authenticated float64 `mapstructure:"authenticated" validate:"gte=0"`
	Internal      float64 `mapstructure:"internal" validate:"gte=0"`
	None          float64 `mapstructure:"none" validate:"gte=0"`
}

type Server struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// KEVStaleAfter returns the KEV catalog staleness threshold.
func (c Config) KEVStaleAfter() time.Duration {
	return time.Duration(c.KEV.StaleAfterHours) * time.Hour
}

// CacheTTL returns the TTL applied to EPSS cache entries.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Log:      Log{Level: "info"},
		CacheDir: defaultCacheDir(),
		Database: Database{Driver: "sqlite"},
		KEV: KEV{
			PrimaryURL:      "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json",
			FallbackURL:     "https://raw.githubusercontent.com/cisagov/kev-data/main/known_exploited_vulnerabilities.json",
			StaleAfterHours: 24,
		},
		EPSS: EPSS{
			BaseURL:           "https://api.first.org/data/v1",
			BulkURL:           "https://epss.empiricalsecurity.com",
			MaxQueryLength:    2000,
			RequestsPerSecond: 5,
			StaleAfterHours:   24,
		},
		Cache:   Cache{TTLMinutes: 5, MemoryEntries: 100_000},
		Breaker: Breaker{OpenDuration: 24 * time.Hour, FailureThreshold: 3, Window: 300 * time.Second},
		Risk: Risk{Exposure: ExposureMultipliers{
			External:      2.0,
			Authenticated: 1.2,
			Internal:      1.0,
			None:          0.5,
		}},
		Server: Server{Addr: ":8080"},
	}
}

// Load reads an optional .env file, the optional YAML config file at path
// and VULNRISK_* environment variables on top of Default, then validates
// the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.Join(cfg.CacheDir, "vuln-risk.db")
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return fmt.Errorf("invalid config: database.dsn is required for postgres")
	}
	return nil
}

// setDefaults registers every leaf key so AutomaticEnv can resolve env
// overrides during Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("cacheDir", d.CacheDir)
	v.SetDefault("inventory", d.Inventory)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("kev.primaryURL", d.KEV.PrimaryURL)
	v.SetDefault("kev.fallbackURL", d.KEV.FallbackURL)
	v.SetDefault("kev.staleAfterHours", d.KEV.StaleAfterHours)
	v.SetDefault("epss.baseURL", d.EPSS.BaseURL)
	v.SetDefault("epss.bulkURL", d.EPSS.BulkURL)
	v.SetDefault("epss.maxQueryLength", d.EPSS.MaxQueryLength)
	v.SetDefault("epss.requestsPerSecond", d.EPSS.RequestsPerSecond)
	v.SetDefault("epss.staleAfterHours", d.EPSS.StaleAfterHours)
	v.SetDefault("cache.ttlMinutes", d.Cache.TTLMinutes)
	v.SetDefault("cache.memoryEntries", d.Cache.MemoryEntries)
	v.SetDefault("breaker.openDuration", d.Breaker.OpenDuration)
	v.SetDefault("breaker.failureThreshold", d.Breaker.FailureThreshold)
	v.SetDefault("breaker.window", d.Breaker.Window)
	v.SetDefault("risk.exposure.external", d.Risk.Exposure.External)
	v.SetDefault("risk.exposure.authenticated", d.Risk.Exposure.Authenticated)
	v.SetDefault("risk.exposure.internal", d.Risk.Exposure.Internal)
	v.SetDefault("risk.exposure.none", d.Risk.Exposure.None)
	v.SetDefault("server.addr", d.Server.Addr)
}

// defaultCacheDir mirrors the XDG lookup the CLI has always used.
func defaultCacheDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "vuln-risk")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "vuln-risk")
	}
	return filepath.Join(home, ".cache", "vuln-risk")
}

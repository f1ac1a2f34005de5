// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bonial-oss/vuln-risk/internal/breaker"
	"github.com/bonial-oss/vuln-risk/internal/cache"
	"github.com/bonial-oss/vuln-risk/internal/config"
	"github.com/bonial-oss/vuln-risk/internal/database"
	"github.com/bonial-oss/vuln-risk/internal/datasource/epss"
	"github.com/bonial-oss/vuln-risk/internal/datasource/kev"
	"github.com/bonial-oss/vuln-risk/internal/metrics"
	"github.com/bonial-oss/vuln-risk/internal/risk"
	"github.com/bonial-oss/vuln-risk/internal/store"
)

// services is the wired component graph shared by the subcommands.
type services struct {
	cfg     config.Config
	metrics *metrics.Metrics
	kv      cache.Store
	repo    store.Repository
	kev     *kev.Service
	epss    *epss.Service
	engine  *risk.Engine

	closeDB func() error
}

// openStorage opens the key/value cache and the record store on the
// configured database driver. Both share one connection pool.
func openStorage(cfg config.Config) (cache.Store, store.Repository, func() error, error) {
	switch cfg.Database.Driver {
	case "memory":
		kv, err := cache.NewMemoryStore(cfg.Cache.MemoryEntries)
		if err != nil {
			return nil, nil, nil, err
		}
		return kv, store.NewMemory(), func() error { return nil }, nil

	case "postgres":
		gdb, err := database.OpenPostgres(cfg.Database.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("accessing postgres pool: %w", err)
		}
		kv, err := cache.NewGormStore(gdb)
		if err != nil {
			sqlDB.Close()
			return nil, nil, nil, err
		}
		repo, err := store.NewPostgres(gdb)
		if err != nil {
			sqlDB.Close()
			return nil, nil, nil, err
		}
		return kv, repo, sqlDB.Close, nil

	default:
		db, err := database.OpenSQLite(cfg.Database.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		kv, err := cache.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		repo, err := store.NewSQLite(db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return kv, repo, db.Close, nil
	}
}

// openServices wires storage, breakers and both enrichment services. With
// skipUpdate neither service contacts upstream while stored data exists,
// and EPSS never does.
func openServices(cfg config.Config, skipUpdate bool) (*services, error) {
	kv, repo, closeDB, err := openStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Database.Driver, err)
	}
	slog.Debug("storage opened", "driver", cfg.Database.Driver)

	m := metrics.New()

	kevBreaker := breaker.NewMemory("kev", cfg.Breaker.FailureThreshold, cfg.Breaker.Window, m)
	kevSvc := kev.NewService(
		kev.NewClient(cfg.KEV.PrimaryURL, cfg.KEV.FallbackURL),
		repo, kevBreaker, cfg.KEVStaleAfter(),
		kev.WithSkipUpdate(skipUpdate),
		kev.WithMetrics(m),
	)

	var fetcher epss.Fetcher = epss.NewClient(cfg.EPSS.BaseURL, cfg.EPSS.RequestsPerSecond)
	if skipUpdate {
		fetcher = epss.Offline{}
	}
	epssBreaker := breaker.NewDurable(kv, "epss", cfg.Breaker.OpenDuration, m)
	epssSvc := epss.NewService(fetcher, repo, kv, epssBreaker, cfg.EPSS, cfg.CacheTTL(), m)

	return &services{
		cfg:     cfg,
		metrics: m,
		kv:      kv,
		repo:    repo,
		kev:     kevSvc,
		epss:    epssSvc,
		engine:  risk.NewEngine(cfg.Risk),
		closeDB: closeDB,
	}, nil
}

func (s *services) Close() error {
	return errors.Join(s.kv.Close(), s.repo.Close(), s.closeDB())
}

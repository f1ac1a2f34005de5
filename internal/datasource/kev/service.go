// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package kev serves the CISA Known Exploited Vulnerabilities catalog
// from the record store and refreshes it from upstream once it is stale.
package kev

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bonial-oss/vuln-risk/internal/breaker"
	"github.com/bonial-oss/vuln-risk/internal/metrics"
	"github.com/bonial-oss/vuln-risk/internal/store"
	"github.com/bonial-oss/vuln-risk/internal/types"
)

const source = "kev"

// Service is a staleness-aware cache-aside wrapper around a Fetcher.
//
// Concurrent callers that both see a stale snapshot may both refresh.
// Refreshes replace the snapshot wholesale, so the race only costs an
// extra download.
type Service struct {
	fetcher    Fetcher
	repo       store.Repository
	breaker    breaker.Breaker
	staleAfter time.Duration
	skipUpdate bool
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSkipUpdate serves any stored snapshot without checking its age.
func WithSkipUpdate(skip bool) Option {
	return func(s *Service) { s.skipUpdate = skip }
}

// WithMetrics records upstream outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the clock used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(fetcher Fetcher, repo store.Repository, b breaker.Breaker, staleAfter time.Duration, opts ...Option) *Service {
	s := &Service{
		fetcher:    fetcher,
		repo:       repo,
		breaker:    b,
		staleAfter: staleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsStale reports whether a snapshot fetched at fetchedAt must be
// refreshed.
func (s *Service) IsStale(fetchedAt time.Time) bool {
	return s.now().Sub(fetchedAt) > s.staleAfter
}

// GetCatalog returns the freshest catalog available. It never fails: when
// neither fresh nor stored data exists it returns the sentinel catalog.
func (s *Service) GetCatalog(ctx context.Context) types.KEVCatalog {
	stored, fetchedAt, ok := s.load(ctx)
	if ok && (s.skipUpdate || !s.IsStale(fetchedAt)) {
		return stored
	}

	if s.breaker.IsOpen(ctx) {
		s.metrics.Upstream(source, "circuit_open")
		return s.fallback(stored, ok, errors.New("circuit open"))
	}

	catalog, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.breaker.RecordFailure(ctx)
		s.metrics.Upstream(source, "error")
		return s.fallback(stored, ok, err)
	}
	s.breaker.RecordSuccess(ctx)
	s.metrics.Upstream(source, "ok")

	if err := s.repo.SaveKEVCatalog(ctx, catalog, s.now()); err != nil {
		slog.Warn("could not store KEV catalog", "err", err)
	}
	slog.Debug("KEV catalog refreshed", "version", catalog.CatalogVersion, "count", catalog.Count)
	return catalog
}

func (s *Service) load(ctx context.Context) (types.KEVCatalog, time.Time, bool) {
	catalog, fetchedAt, err := s.repo.LoadKEVCatalog(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return types.KEVCatalog{}, time.Time{}, false
	}
	if err != nil {
		slog.Warn("could not load stored KEV catalog", "err", err)
		return types.KEVCatalog{}, time.Time{}, false
	}
	return catalog, fetchedAt, true
}

func (s *Service) fallback(stored types.KEVCatalog, ok bool, cause error) types.KEVCatalog {
	if ok {
		slog.Warn("failed to refresh KEV data, using stale catalog", "version", stored.CatalogVersion, "err", cause)
		return stored
	}
	slog.Warn("no KEV data available", "err", errors.Join(types.ErrNoDataAvailable, cause))
	return types.EmptyKEVCatalog()
}

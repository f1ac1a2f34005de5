// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package epss resolves Exploit Prediction Scoring System scores through a
// batch cache, a per-CVE cache, the record store and finally the FIRST
// API, and imports the daily bulk CSV into the record store.
package epss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/bonial-oss/vuln-risk/internal/breaker"
	"github.com/bonial-oss/vuln-risk/internal/cache"
	"github.com/bonial-oss/vuln-risk/internal/config"
	"github.com/bonial-oss/vuln-risk/internal/metrics"
	"github.com/bonial-oss/vuln-risk/internal/store"
	"github.com/bonial-oss/vuln-risk/internal/types"
)

const (
	source = "epss"

	// Cache prefixes.
	BatchPrefix      = "epss_batch"
	IndividualPrefix = "epss"
)

var cvePattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,19}$`)

var errCircuitOpen = errors.New("EPSS circuit open")

// Service resolves EPSS scores. It never fails; degraded upstreams yield
// partial results.
type Service struct {
	fetcher         Fetcher
	repo            store.Repository
	batch           *cache.Namespace
	individual      *cache.Namespace
	breaker         breaker.Breaker
	maxQueryLength  int
	staleAfterHours int
	metrics         *metrics.Metrics
	now             func() time.Time
}

// NewService wires a Service. Cache entries live for ttl.
func NewService(fetcher Fetcher, repo store.Repository, kv cache.Store, b breaker.Breaker, cfg config.EPSS, ttl time.Duration, m *metrics.Metrics) *Service {
	return &Service{
		fetcher:         fetcher,
		repo:            repo,
		batch:           cache.NewNamespace(kv, BatchPrefix, ttl, m),
		individual:      cache.NewNamespace(kv, IndividualPrefix, ttl, m),
		breaker:         b,
		maxQueryLength:  cfg.MaxQueryLength,
		staleAfterHours: cfg.StaleAfterHours,
		metrics:         m,
		now:             time.Now,
	}
}

// ValidCVEs drops malformed identifiers and duplicates, keeping input
// order. It returns the number of dropped malformed ids.
func ValidCVEs(cves []string) ([]string, int) {
	valid := make([]string, 0, len(cves))
	invalid := 0
	for _, cve := range cves {
		if !cvePattern.MatchString(cve) {
			invalid++
			continue
		}
		valid = append(valid, cve)
	}
	return lo.Uniq(valid), invalid
}

// batchKey is the hex SHA-256 of the sorted, comma-joined CVE list.
func batchKey(cves []string) string {
	sorted := slices.Clone(cves)
	slices.Sort(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])
}

// GetScores returns the known scores for cves keyed by CVE id. CVEs without
// a score are absent from the result.
func (s *Service) GetScores(ctx context.Context, cves []string) map[string]types.EPSSScore {
	valid, invalid := ValidCVEs(cves)
	if invalid > 0 {
		slog.Warn("skipping malformed CVE identifiers", "count", invalid, "err", types.ErrValidationSkip)
	}
	if len(valid) == 0 {
		return map[string]types.EPSSScore{}
	}

	key := batchKey(valid)
	if hit, ok := cache.GetJSON[map[string]types.EPSSScore](ctx, s.batch, key); ok {
		return hit
	}

	resolved := cache.MGetJSON[types.EPSSScore](ctx, s.individual, valid)
	missing := lo.Filter(valid, func(cve string, _ int) bool {
		_, ok := resolved[cve]
		return !ok
	})
	if len(missing) == 0 {
		s.batch.SetJSON(ctx, key, resolved)
		return resolved
	}

	stale := s.fromStore(ctx, missing, resolved)
	if len(stale) == 0 {
		s.batch.SetJSON(ctx, key, resolved)
		return resolved
	}

	fetched, err := s.fetch(ctx, lo.Keys(stale))
	for _, sc := range fetched {
		resolved[sc.CVE] = sc
		s.individual.SetJSON(ctx, sc.CVE, sc)
	}
	if len(fetched) > 0 {
		if serr := s.repo.UpsertEPSSScores(ctx, fetched, s.now()); serr != nil {
			slog.Warn("could not store EPSS scores", "count", len(fetched), "err", serr)
		}
	}
	if err != nil {
		fallback := 0
		for cve, row := range stale {
			if _, ok := resolved[cve]; !ok && row != nil {
				resolved[cve] = *row
				fallback++
			}
		}
		slog.Warn("EPSS upstream unavailable, serving partial result",
			"requested", len(valid), "resolved", len(resolved), "stale", fallback, "err", err)
		return resolved
	}

	s.batch.SetJSON(ctx, key, resolved)
	return resolved
}

// fromStore adds fresh record store rows for missing to resolved and
// returns the CVEs that still need upstream, mapped to their stale row if
// one exists.
func (s *Service) fromStore(ctx context.Context, missing []string, resolved map[string]types.EPSSScore) map[string]*types.EPSSScore {
	need := make(map[string]*types.EPSSScore, len(missing))
	stored, err := s.repo.GetEPSSScores(ctx, missing)
	if err != nil {
		slog.Warn("could not read stored EPSS scores", "err", err)
		stored = nil
	}
	staleCVEs, err := s.repo.StaleEPSSCVEs(ctx, missing, s.staleAfterHours)
	if err != nil {
		slog.Warn("could not judge EPSS staleness", "err", err)
		staleCVEs = missing
	}
	isStale := lo.SliceToMap(staleCVEs, func(cve string) (string, bool) { return cve, true })

	for _, cve := range missing {
		row, ok := stored[cve]
		switch {
		case ok && !isStale[cve]:
			resolved[cve] = row
			s.individual.SetJSON(ctx, cve, row)
			s.metrics.CacheLookup("epss_store", metrics.ResultHit)
		case ok:
			need[cve] = &row
			s.metrics.CacheLookup("epss_store", metrics.ResultMiss)
		default:
			need[cve] = nil
			s.metrics.CacheLookup("epss_store", metrics.ResultMiss)
		}
	}
	return need
}

// fetch queries upstream chunk by chunk. On failure it returns what was
// fetched so far together with the error. Only rate limiting trips the
// breaker.
func (s *Service) fetch(ctx context.Context, cves []string) ([]types.EPSSScore, error) {
	slices.Sort(cves)
	var out []types.EPSSScore
	for _, chunk := range chunkCVEs(cves, s.maxQueryLength) {
		if s.breaker.IsOpen(ctx) {
			s.metrics.Upstream(source, "circuit_open")
			return out, errCircuitOpen
		}
		scores, err := s.fetcher.Fetch(ctx, chunk)
		if err != nil {
			if errors.Is(err, types.ErrUpstreamRateLimited) {
				s.breaker.RecordFailure(ctx)
				s.metrics.Upstream(source, "rate_limited")
			} else {
				s.metrics.Upstream(source, "error")
			}
			return out, err
		}
		s.metrics.Upstream(source, "ok")
		out = append(out, scores...)
	}
	s.breaker.RecordSuccess(ctx)
	return out, nil
}

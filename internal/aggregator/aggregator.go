// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package aggregator joins workload findings with exposure metadata, KEV
// and EPSS enrichment and risk scores into a per-team response.
package aggregator

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/bonial-oss/vuln-risk/internal/metrics"
	"github.com/bonial-oss/vuln-risk/internal/risk"
	"github.com/bonial-oss/vuln-risk/internal/types"
)

// Scope selects the workloads to aggregate. An empty scope selects all
// teams; User selects the teams the user belongs to; Teams narrows to the
// named teams.
type Scope struct {
	User  string
	Teams []string
}

// Source provides workload findings and their exposure metadata.
type Source interface {
	Workloads(ctx context.Context, scope Scope) ([]types.Workload, error)
	// Exposure returns ingress types keyed by Workload.Key. Entries
	// override the ingress types carried on the workload itself.
	Exposure(ctx context.Context, scope Scope) (map[string][]string, error)
}

// CatalogProvider returns the KEV catalog. It never fails. A nil provider
// disables KEV enrichment.
type CatalogProvider interface {
	GetCatalog(ctx context.Context) types.KEVCatalog
}

// ScoreProvider resolves EPSS scores. It never fails. A nil provider
// disables EPSS enrichment.
type ScoreProvider interface {
	GetScores(ctx context.Context, cves []string) map[string]types.EPSSScore
}

// Aggregator builds aggregation responses.
type Aggregator struct {
	source    Source
	kev       CatalogProvider
	epss      ScoreProvider
	engine    *risk.Engine
	breakdown bool
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithBreakdown attaches the score breakdown to every vulnerability.
func WithBreakdown() Option {
	return func(a *Aggregator) { a.breakdown = true }
}

// WithMetrics records aggregation latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithClock overrides the response timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func New(source Source, kev CatalogProvider, epss ScoreProvider, engine *risk.Engine, opts ...Option) *Aggregator {
	a := &Aggregator{source: source, kev: kev, epss: epss, engine: engine, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate gathers and enriches every workload in scope. Only failures of
// the Source are returned; KEV and EPSS degrade to empty enrichment.
func (a *Aggregator) Aggregate(ctx context.Context, scope Scope, filter Filter) (*types.AggregationResponse, error) {
	start := time.Now()
	defer func() { a.metrics.ObserveAggregation(time.Since(start)) }()

	var workloads []types.Workload
	var exposure map[string][]string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		workloads, err = a.source.Workloads(gctx, scope)
		if err != nil {
			return fmt.Errorf("loading workloads: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		exposure, err = a.source.Exposure(gctx, scope)
		if err != nil {
			return fmt.Errorf("loading exposure metadata: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cves := lo.Uniq(lo.FlatMap(workloads, func(w types.Workload, _ int) []string {
		return lo.Map(w.Records, func(r types.VulnerabilityRecord, _ int) string { return r.ID })
	}))

	catalog, scores := a.enrichment(ctx, cves)
	kevIndex := catalog.Index()

	byTeam := lo.GroupBy(workloads, func(w types.Workload) string { return w.Team })
	teamNames := lo.Keys(byTeam)
	slices.Sort(teamNames)

	resp := &types.AggregationResponse{
		GeneratedAt:       a.now().UTC(),
		KEVCatalogVersion: catalog.CatalogVersion,
		Teams:             []types.TeamVulnerabilities{},
	}
	for _, team := range teamNames {
		ws := byTeam[team]
		slices.SortFunc(ws, func(x, y types.Workload) int { return cmp.Compare(x.Name, y.Name) })

		tv := types.TeamVulnerabilities{Team: team}
		for _, w := range ws {
			ingress := w.IngressTypes
			if e, ok := exposure[w.Key()]; ok {
				ingress = e
			}
			wv := types.WorkloadVulnerabilities{
				Workload:      w.Name,
				Environment:   w.Environment,
				ExposureTypes: lo.Ternary(ingress == nil, []string{}, ingress),
			}
			for _, rec := range w.Records {
				v := a.enrich(rec, w, wv.ExposureTypes, kevIndex, scores)
				if filter.Match(&v) {
					wv.Vulnerabilities = append(wv.Vulnerabilities, v)
				}
			}
			if len(wv.Vulnerabilities) > 0 {
				tv.Workloads = append(tv.Workloads, wv)
			}
		}
		if len(tv.Workloads) > 0 {
			resp.Teams = append(resp.Teams, tv)
		}
	}
	return resp, nil
}

// enrichment fetches the KEV catalog and the EPSS scores for cves
// concurrently.
func (a *Aggregator) enrichment(ctx context.Context, cves []string) (types.KEVCatalog, map[string]types.EPSSScore) {
	catalog := types.EmptyKEVCatalog()
	scores := map[string]types.EPSSScore{}
	g, gctx := errgroup.WithContext(ctx)
	if a.kev != nil {
		g.Go(func() error {
			catalog = a.kev.GetCatalog(gctx)
			return nil
		})
	}
	if a.epss != nil && len(cves) > 0 {
		g.Go(func() error {
			scores = a.epss.GetScores(gctx, cves)
			return nil
		})
	}
	_ = g.Wait()
	return catalog, scores
}

func (a *Aggregator) enrich(rec types.VulnerabilityRecord, w types.Workload, exposure []string, kevIndex map[string]types.KEVVulnerability, scores map[string]types.EPSSScore) types.EnrichedVulnerability {
	v := types.EnrichedVulnerability{VulnerabilityRecord: rec, ExposureTypes: exposure}

	kevData := &types.KEVData{Listed: false}
	if entry, ok := kevIndex[rec.ID]; ok {
		kevData = &types.KEVData{
			Listed:                     true,
			DateAdded:                  entry.DateAdded,
			DueDate:                    entry.DueDate,
			KnownRansomwareCampaignUse: entry.KnownRansomwareCampaignUse,
			VendorProject:              entry.VendorProject,
			Product:                    entry.Product,
			RequiredAction:             entry.RequiredAction,
		}
	}

	// Score and percentile stay nil when EPSS has no entry.
	epssData := &types.EPSSData{}
	epssScore := ""
	if s, ok := scores[rec.ID]; ok {
		score, percentile := s.EPSS, s.Percentile
		epssData = &types.EPSSData{Score: &score, Percentile: &percentile, ScoreDate: s.Date}
		epssScore = strconv.FormatFloat(s.EPSS, 'f', -1, 64)
	}

	rc := risk.Context{
		Severity:            rec.Severity,
		IngressTypes:        exposure,
		InKEV:               kevData.Listed,
		EPSSScore:           epssScore,
		Suppressed:          rec.Suppressed,
		Environment:         w.Environment,
		BuildDate:           w.BuildDate,
		HasExploitReference: rec.HasExploitReference,
		PatchAvailable:      rec.PatchAvailable(),
	}
	var result risk.Result
	if a.breakdown {
		result = a.engine.CalculateRiskScoreWithBreakdown(rc)
	} else {
		result = a.engine.CalculateRiskScore(rc)
	}

	v.VulnPrio = types.VulnPrio{Risk: &result}
	if a.kev != nil {
		v.VulnPrio.KEV = kevData
	}
	if a.epss != nil {
		v.VulnPrio.EPSS = epssData
	}
	return v
}

// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package store persists KEV catalog snapshots and EPSS score rows. All
// writes are idempotent upserts keyed by CVE id.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"

	"github.com/bonial-oss/vuln-risk/internal/types"
)

// ErrNotFound is returned by LoadKEVCatalog when no snapshot is stored.
var ErrNotFound = errors.New("not found")

// Repository is the durable record store behind the KEV and EPSS services.
type Repository interface {
	// SaveKEVCatalog replaces the stored snapshot. Entries missing from
	// catalog are deleted.
	SaveKEVCatalog(ctx context.Context, catalog types.KEVCatalog, fetchedAt time.Time) error
	// LoadKEVCatalog returns the stored snapshot and when it was fetched.
	LoadKEVCatalog(ctx context.Context) (types.KEVCatalog, time.Time, error)

	UpsertEPSSScores(ctx context.Context, scores []types.EPSSScore, fetchedAt time.Time) error
	// GetEPSSScores returns the stored rows for cves regardless of age.
	GetEPSSScores(ctx context.Context, cves []string) (map[string]types.EPSSScore, error)
	// StaleEPSSCVEs returns the subset of cves that has no row or a row
	// fetched more than maxAgeHours ago.
	StaleEPSSCVEs(ctx context.Context, cves []string, maxAgeHours int) ([]string, error)

	Close() error
}

// staleSubset keeps the cves whose fetch time is unknown or before cutoff,
// in input order.
func staleSubset(cves []string, fetched map[string]int64, cutoff time.Time) []string {
	return lo.Filter(lo.Uniq(cves), func(cve string, _ int) bool {
		at, ok := fetched[cve]
		return !ok || at < cutoff.Unix()
	})
}

func cutoff(now time.Time, maxAgeHours int) time.Time {
	return now.Add(-time.Duration(maxAgeHours) * time.Hour)
}

// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/bonial-oss/vuln-risk/internal/types"
)

// queryChunk bounds the number of bound parameters per IN query.
const queryChunk = 500

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS kev_catalog (
		id              INTEGER PRIMARY KEY CHECK (id = 1),
		title           TEXT NOT NULL,
		catalog_version TEXT NOT NULL,
		date_released   TEXT NOT NULL,
		count           INTEGER NOT NULL,
		fetched_at      INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS kev_vulnerabilities (
		cve_id                        TEXT PRIMARY KEY,
		position                      INTEGER NOT NULL,
		vendor_project                TEXT NOT NULL,
		product                       TEXT NOT NULL,
		vulnerability_name            TEXT NOT NULL,
		date_added                    TEXT NOT NULL,
		short_description             TEXT NOT NULL,
		required_action               TEXT NOT NULL,
		due_date                      TEXT NOT NULL,
		known_ransomware_campaign_use TEXT NOT NULL,
		notes                         TEXT NOT NULL,
		cwes                          TEXT NOT NULL,
		generation                    INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS epss_scores (
		cve        TEXT PRIMARY KEY,
		epss       REAL NOT NULL,
		percentile REAL NOT NULL,
		score_date TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	)`,
}

// SQLite is a Repository on a modernc.org/sqlite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates the tables if needed. The handle stays owned by the
// caller.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("creating record schema: %w", err)
		}
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) SaveKEVCatalog(ctx context.Context, catalog types.KEVCatalog, fetchedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kev_catalog (id, title, catalog_version, date_released, count, fetched_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, catalog_version = excluded.catalog_version,
		   date_released = excluded.date_released, count = excluded.count, fetched_at = excluded.fetched_at`,
		catalog.Title, catalog.CatalogVersion, catalog.DateReleased, catalog.Count, fetchedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving kev catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kev_vulnerabilities (cve_id, position, vendor_project, product, vulnerability_name,
		   date_added, short_description, required_action, due_date, known_ransomware_campaign_use,
		   notes, cwes, generation)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cve_id) DO UPDATE SET position = excluded.position,
		   vendor_project = excluded.vendor_project, product = excluded.product,
		   vulnerability_name = excluded.vulnerability_name, date_added = excluded.date_added,
		   short_description = excluded.short_description, required_action = excluded.required_action,
		   due_date = excluded.due_date, known_ransomware_campaign_use = excluded.known_ransomware_campaign_use,
		   notes = excluded.notes, cwes = excluded.cwes, generation = excluded.generation`)
	if err != nil {
		return fmt.Errorf("preparing kev upsert: %w", err)
	}
	defer stmt.Close()

	generation := fetchedAt.UnixNano()
	for i, v := range catalog.Vulnerabilities {
		cwes, err := json.Marshal(lo.Ternary(v.CWEs == nil, []string{}, v.CWEs))
		if err != nil {
			return fmt.Errorf("encoding cwes of %s: %w", v.CVEID, err)
		}
		_, err = stmt.ExecContext(ctx, v.CVEID, i, v.VendorProject, v.Product, v.VulnerabilityName,
			v.DateAdded, v.ShortDescription, v.RequiredAction, v.DueDate, v.KnownRansomwareCampaignUse,
			v.Notes, string(cwes), generation)
		if err != nil {
			return fmt.Errorf("saving kev entry %s: %w", v.CVEID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM kev_vulnerabilities WHERE generation != ?`, generation); err != nil {
		return fmt.Errorf("deleting superseded kev entries: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) LoadKEVCatalog(ctx context.Context) (types.KEVCatalog, time.Time, error) {
	var catalog types.KEVCatalog
	var fetchedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT title, catalog_version, date_released, count, fetched_at FROM kev_catalog WHERE id = 1`,
	).Scan(&catalog.Title, &catalog.CatalogVersion, &catalog.DateReleased, &catalog.Count, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.KEVCatalog{}, time.Time{}, ErrNotFound
	}
	if err != nil {
		return types.KEVCatalog{}, time.Time{}, fmt.Errorf("loading kev catalog: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT cve_id, vendor_project, product, vulnerability_name, date_added, short_description,
		   required_action, due_date, known_ransomware_campaign_use, notes, cwes
		 FROM kev_vulnerabilities ORDER BY position`)
	if err != nil {
		return types.KEVCatalog{}, time.Time{}, fmt.Errorf("loading kev entries: %w", err)
	}
	defer rows.Close()

	catalog.Vulnerabilities = make([]types.KEVVulnerability, 0, catalog.Count)
	for rows.Next() {
		var v types.KEVVulnerability
		var cwes string
		if err := rows.Scan(&v.CVEID, &v.VendorProject, &v.Product, &v.VulnerabilityName, &v.DateAdded,
			&v.ShortDescription, &v.RequiredAction, &v.DueDate, &v.KnownRansomwareCampaignUse,
			&v.Notes, &cwes); err != nil {
			return types.KEVCatalog{}, time.Time{}, fmt.Errorf("scanning kev entry: %w", err)
		}
		if err := json.Unmarshal([]byte(cwes), &v.CWEs); err != nil {
			return types.KEVCatalog{}, time.Time{}, fmt.Errorf("decoding cwes of %s: %w", v.CVEID, err)
		}
		catalog.Vulnerabilities = append(catalog.Vulnerabilities, v)
	}
	if err := rows.Err(); err != nil {
		return types.KEVCatalog{}, time.Time{}, fmt.Errorf("loading kev entries: %w", err)
	}
	return catalog, time.Unix(fetchedAt, 0), nil
}

func (s *SQLite) UpsertEPSSScores(ctx context.Context, scores []types.EPSSScore, fetchedAt time.Time) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO epss_scores (cve, epss, percentile, score_date, fetched_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(cve) DO UPDATE SET epss = excluded.epss, percentile = excluded.percentile,
		   score_date = excluded.score_date, fetched_at = excluded.fetched_at`)
	if err != nil {
		return fmt.Errorf("preparing epss upsert: %w", err)
	}
	defer stmt.Close()

	for _, sc := range scores {
		if _, err := stmt.ExecContext(ctx, sc.CVE, sc.EPSS, sc.Percentile, sc.Date, fetchedAt.Unix()); err != nil {
			return fmt.Errorf("saving epss score %s: %w", sc.CVE, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) GetEPSSScores(ctx context.Context, cves []string) (map[string]types.EPSSScore, error) {
	out := make(map[string]types.EPSSScore, len(cves))
	err := s.eachEPSSRow(ctx, cves, func(sc types.EPSSScore, _ int64) {
		out[sc.CVE] = sc
	})
	return out, err
}

func (s *SQLite) StaleEPSSCVEs(ctx context.Context, cves []string, maxAgeHours int) ([]string, error) {
	fetched := make(map[string]int64, len(cves))
	if err := s.eachEPSSRow(ctx, cves, func(sc types.EPSSScore, at int64) {
		fetched[sc.CVE] = at
	}); err != nil {
		return nil, err
	}
	return staleSubset(cves, fetched, cutoff(s.now(), maxAgeHours)), nil
}

func (s *SQLite) eachEPSSRow(ctx context.Context, cves []string, fn func(types.EPSSScore, int64)) error {
	for _, batch := range lo.Chunk(lo.Uniq(cves), queryChunk) {
		args := lo.ToAnySlice(batch)
		query := `SELECT cve, epss, percentile, score_date, fetched_at FROM epss_scores WHERE cve IN (` +
			strings.Repeat("?,", len(batch)-1) + `?)`
		if err := s.scanEPSS(ctx, query, args, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) scanEPSS(ctx context.Context, query string, args []any, fn func(types.EPSSScore, int64)) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reading epss scores: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc types.EPSSScore
		var at int64
		if err := rows.Scan(&sc.CVE, &sc.EPSS, &sc.Percentile, &sc.Date, &at); err != nil {
			return fmt.Errorf("scanning epss score: %w", err)
		}
		fn(sc, at)
	}
	return rows.Err()
}

// Close is a no-op; the database handle is owned by the caller.
func (s *SQLite) Close() error { return nil }

// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bonial-oss/vuln-risk/internal/types"
)

// KEVCatalogModel is the single-row catalog header.
type KEVCatalogModel struct {
	ID             int    `gorm:"primaryKey;autoIncrement:false"`
	Title          string `gorm:"not null"`
	CatalogVersion string `gorm:"not null"`
	DateReleased   string `gorm:"not null"`
	Count          int    `gorm:"not null"`
	FetchedAt      time.Time
}

func (KEVCatalogModel) TableName() string { return "kev_catalog" }

// KEVVulnerabilityModel is one catalog entry. Generation ties the entry to
// the snapshot that last wrote it.
type KEVVulnerabilityModel struct {
	CVEID                      string   `gorm:"primaryKey;column:cve_id"`
	Position                   int      `gorm:"not null"`
	VendorProject              string   `gorm:"not null"`
	Product                    string   `gorm:"not null"`
	VulnerabilityName          string   `gorm:"not null"`
	DateAdded                  string   `gorm:"not null"`
	ShortDescription           string   `gorm:"not null"`
	RequiredAction             string   `gorm:"not null"`
	DueDate                    string   `gorm:"not null"`
	KnownRansomwareCampaignUse string   `gorm:"not null"`
	Notes                      string   `gorm:"not null"`
	CWEs                       []string `gorm:"serializer:json;column:cwes"`
	Generation                 int64    `gorm:"not null;index"`
}

func (KEVVulnerabilityModel) TableName() string { return "kev_vulnerabilities" }

// EPSSScoreModel is one EPSS row.
type EPSSScoreModel struct {
	CVE        string    `gorm:"primaryKey"`
	EPSS       float64   `gorm:"column:epss;not null"`
	Percentile float64   `gorm:"not null"`
	ScoreDate  string    `gorm:"not null"`
	FetchedAt  time.Time `gorm:"index"`
}

func (EPSSScoreModel) TableName() string { return "epss_scores" }

// Postgres is a Repository on a gorm postgres connection.
type Postgres struct {
	db  *gorm.DB
	now func() time.Time
}

// NewPostgres migrates the record tables.
func NewPostgres(db *gorm.DB) (*Postgres, error) {
	if err := db.AutoMigrate(&KEVCatalogModel{}, &KEVVulnerabilityModel{}, &EPSSScoreModel{}); err != nil {
		return nil, errors.Wrap(err, "could not migrate record tables")
	}
	return &Postgres{db: db, now: time.Now}, nil
}

func (p *Postgres) SaveKEVCatalog(ctx context.Context, catalog types.KEVCatalog, fetchedAt time.Time) error {
	generation := fetchedAt.UnixNano()
	entries := lo.Map(catalog.Vulnerabilities, func(v types.KEVVulnerability, i int) KEVVulnerabilityModel {
		return KEVVulnerabilityModel{
			CVEID:                      v.CVEID,
			Position:                   i,
			VendorProject:              v.VendorProject,
			Product:                    v.Product,
			VulnerabilityName:          v.VulnerabilityName,
			DateAdded:                  v.DateAdded,
			ShortDescription:           v.ShortDescription,
			RequiredAction:             v.RequiredAction,
			DueDate:                    v.DueDate,
			KnownRansomwareCampaignUse: v.KnownRansomwareCampaignUse,
			Notes:                      v.Notes,
			CWEs:                       lo.Ternary(v.CWEs == nil, []string{}, v.CWEs),
			Generation:                 generation,
		}
	})

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		header := KEVCatalogModel{
			ID:             1,
			Title:          catalog.Title,
			CatalogVersion: catalog.CatalogVersion,
			DateReleased:   catalog.DateReleased,
			Count:          catalog.Count,
			FetchedAt:      fetchedAt.UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&header).Error; err != nil {
			return errors.Wrap(err, "could not save kev catalog")
		}
		if len(entries) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(&entries, 1000).Error; err != nil {
				return errors.Wrap(err, "could not save kev entries")
			}
		}
		if err := tx.Where("generation <> ?", generation).Delete(&KEVVulnerabilityModel{}).Error; err != nil {
			return errors.Wrap(err, "could not delete superseded kev entries")
		}
		return nil
	})
}

func (p *Postgres) LoadKEVCatalog(ctx context.Context) (types.KEVCatalog, time.Time, error) {
	var header KEVCatalogModel
	err := p.db.WithContext(ctx).First(&header, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.KEVCatalog{}, time.Time{}, ErrNotFound
	}
	if err != nil {
		return types.KEVCatalog{}, time.Time{}, errors.Wrap(err, "could not load kev catalog")
	}

	var entries []KEVVulnerabilityModel
	if err := p.db.WithContext(ctx).Order("position").Find(&entries).Error; err != nil {
		return types.KEVCatalog{}, time.Time{}, errors.Wrap(err, "could not load kev entries")
	}

	return types.KEVCatalog{
		Title:          header.Title,
		CatalogVersion: header.CatalogVersion,
		DateReleased:   header.DateReleased,
		Count:          header.Count,
		Vulnerabilities: lo.Map(entries, func(e KEVVulnerabilityModel, _ int) types.KEVVulnerability {
			return types.KEVVulnerability{
				CVEID:                      e.CVEID,
				VendorProject:              e.VendorProject,
				Product:                    e.Product,
				VulnerabilityName:          e.VulnerabilityName,
				DateAdded:                  e.DateAdded,
				ShortDescription:           e.ShortDescription,
				RequiredAction:             e.RequiredAction,
				DueDate:                    e.DueDate,
				KnownRansomwareCampaignUse: e.KnownRansomwareCampaignUse,
				Notes:                      e.Notes,
				CWEs:                       e.CWEs,
			}
		}),
	}, header.FetchedAt, nil
}

func (p *Postgres) UpsertEPSSScores(ctx context.Context, scores []types.EPSSScore, fetchedAt time.Time) error {
	if len(scores) == 0 {
		return nil
	}
	rows := lo.Map(scores, func(s types.EPSSScore, _ int) EPSSScoreModel {
		return EPSSScoreModel{CVE: s.CVE, EPSS: s.EPSS, Percentile: s.Percentile, ScoreDate: s.Date, FetchedAt: fetchedAt.UTC()}
	})
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(&rows, 1000).Error
	return errors.Wrap(err, "could not upsert epss scores")
}

func (p *Postgres) findEPSS(ctx context.Context, cves []string) ([]EPSSScoreModel, error) {
	var rows []EPSSScoreModel
	for _, batch := range lo.Chunk(lo.Uniq(cves), queryChunk) {
		var part []EPSSScoreModel
		if err := p.db.WithContext(ctx).Find(&part, "cve IN ?", batch).Error; err != nil {
			return nil, errors.Wrap(err, "could not read epss scores")
		}
		rows = append(rows, part...)
	}
	return rows, nil
}

func (p *Postgres) GetEPSSScores(ctx context.Context, cves []string) (map[string]types.EPSSScore, error) {
	rows, err := p.findEPSS(ctx, cves)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.EPSSScore, len(rows))
	for _, r := range rows {
		out[r.CVE] = types.EPSSScore{CVE: r.CVE, EPSS: r.EPSS, Percentile: r.Percentile, Date: r.ScoreDate}
	}
	return out, nil
}

func (p *Postgres) StaleEPSSCVEs(ctx context.Context, cves []string, maxAgeHours int) ([]string, error) {
	rows, err := p.findEPSS(ctx, cves)
	if err != nil {
		return nil, err
	}
	fetched := lo.SliceToMap(rows, func(r EPSSScoreModel) (string, int64) {
		return r.CVE, r.FetchedAt.Unix()
	})
	return staleSubset(cves, fetched, cutoff(p.now(), maxAgeHours)), nil
}

// Close is a no-op; the connection is owned by the caller.
func (p *Postgres) Close() error { return nil }

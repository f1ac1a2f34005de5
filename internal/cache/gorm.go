// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is the row model of the postgres backed cache.
type Entry struct {
	Key       string `gorm:"primaryKey;type:text"`
	Value     []byte `gorm:"type:bytea;not null"`
	ExpiresAt int64  `gorm:"not null;default:0;index"`
}

func (Entry) TableName() string {
	return "cache_entries"
}

// GormStore is a Store on top of a gorm connection, used with the postgres
// driver.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore migrates the cache table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, pkgerrors.Wrap(err, "could not migrate cache table")
	}
	return &GormStore{db: db, now: time.Now}, nil
}

func (g *GormStore) live(ctx context.Context) *gorm.DB {
	return g.db.WithContext(ctx).Where("expires_at = 0 OR expires_at > ?", g.now().Unix())
}

func (g *GormStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var e Entry
	err := g.live(ctx).Where("key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pkgerrors.Wrapf(err, "could not read cache entry %s", key)
	}
	return e.Value, true, nil
}

func (g *GormStore) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var entries []Entry
	if err := g.live(ctx).Where("key IN ?", keys).Find(&entries).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "could not read cache entries")
	}
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

func (g *GormStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := Entry{Key: key, Value: value, ExpiresAt: expiresAt(g.now(), ttl)}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&e).Error
	return pkgerrors.Wrapf(err, "could not write cache entry %s", key)
}

func (g *GormStore) Delete(ctx context.Context, key string) error {
	err := g.db.WithContext(ctx).Where("key = ?", key).Delete(&Entry{}).Error
	return pkgerrors.Wrapf(err, "could not delete cache entry %s", key)
}

func (g *GormStore) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	res := g.db.WithContext(ctx).Where(`key LIKE ? ESCAPE '\'`, escapeLike(prefix+":")+"%").Delete(&Entry{})
	if res.Error != nil {
		return 0, pkgerrors.Wrapf(res.Error, "could not clear cache prefix %s", prefix)
	}
	return int(res.RowsAffected), nil
}

// Purge deletes expired entries.
func (g *GormStore) Purge(ctx context.Context) (int, error) {
	res := g.db.WithContext(ctx).Where("expires_at <> 0 AND expires_at <= ?", g.now().Unix()).Delete(&Entry{})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(res.Error, "could not purge cache")
	}
	return int(res.RowsAffected), nil
}

// Close is a no-op; the connection is owned by the caller.
func (g *GormStore) Close() error { return nil }

// Package db holds the paste store contract and its backends. Exactly one
// backend is opened per process by Open and shared from there.
package db

import (
	"context"
	"shortpaste/cfg"
	"shortpaste/pkg/domain"

	"github.com/pkg/errors"
)

// Store persists paste records. Get returns domain.ErrPasteNotFound for a
// missing id. IncrViews must be a single atomic mutation in the backend and
// returns the counter after the increment.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Paste, error)
	Save(ctx context.Context, p *domain.Paste) error
	IncrViews(ctx context.Context, id string) (int64, error)
	Ping(ctx context.Context) error
	Backend() string
	Close() error
}

// Cleaner is implemented by backends without native record expiry. It
// removes records whose expires_at is at or before the cutoff.
type Cleaner interface {
	CleanupExpired(ctx context.Context, beforeMillis int64) (int, error)
}

// Maintainer is implemented by backends that need a housekeeping loop.
type Maintainer interface {
	StartMaintenance(ctx context.Context)
}

var (
	_ Store   = (*Redis)(nil)
	_ Store   = (*Mongo)(nil)
	_ Store   = (*SQLite)(nil)
	_ Store   = (*Bolt)(nil)
	_ Cleaner = (*Mongo)(nil)
	_ Cleaner = (*SQLite)(nil)
	_ Cleaner = (*Bolt)(nil)

	_ Maintainer = (*SQLite)(nil)
)

func Open(ctx context.Context, c *cfg.Cfg) (Store, error) {
	switch c.StoreBackend {
	case cfg.BackendRedis:
		r, err := NewRedis(c.RedisURL, c)
		if err != nil {
			return nil, err
		}
		return r, nil
	case cfg.BackendMongo:
		m, err := NewMongo(ctx, c)
		if err != nil {
			return nil, err
		}
		return m, nil
	case cfg.BackendSQLite:
		s, err := NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case cfg.BackendBolt:
		b, err := NewBolt(c.BoltPath, c.BoltTimeout)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, errors.Errorf("unknown store backend %q", c.StoreBackend)
}

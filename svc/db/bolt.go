package db

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"shortpaste/cfg"
	"shortpaste/pkg/domain"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	pasteBucket  = []byte("pastes")
	expireBucket = []byte("expires")
)

// Bolt is the single-node embedded backend. bbolt serialises writers, so
// IncrViews as one Update transaction is atomic across goroutines.
type Bolt struct {
	db *bolt.DB
}

func NewBolt(path string, timeout time.Duration) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(pasteBucket); err != nil {
			return errors.Wrap(err, "create paste bucket")
		}
		if _, err := tx.CreateBucketIfNotExists(expireBucket); err != nil {
			return errors.Wrap(err, "create expire bucket")
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}
func (b *Bolt) Backend() string { return cfg.BackendBolt }
func (b *Bolt) Save(ctx context.Context, p *domain.Paste) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		pb, eb := tx.Bucket(pasteBucket), tx.Bucket(expireBucket)
		if prev, err := decodePaste(pb.Get([]byte(p.ID))); err == nil && prev != nil && prev.ExpiresAt != nil {
			if err := eb.Delete(expireKey(*prev.ExpiresAt, prev.ID)); err != nil {
				return errors.Wrap(err, "remove previous expiry index")
			}
		}
		if err := pb.Put([]byte(p.ID), data); err != nil {
			return errors.Wrap(err, "save paste")
		}
		if p.ExpiresAt != nil {
			if err := eb.Put(expireKey(*p.ExpiresAt, p.ID), []byte(p.ID)); err != nil {
				return errors.Wrap(err, "index expiry")
			}
		}
		return nil
	})
}
func (b *Bolt) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *domain.Paste
	err := b.db.View(func(tx *bolt.Tx) error {
		p, err := decodePaste(tx.Bucket(pasteBucket).Get([]byte(id)))
		if err != nil {
			return err
		}
		if p == nil {
			return domain.ErrPasteNotFound
		}
		out = p
		return nil
	})
	return out, err
}
func (b *Bolt) IncrViews(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var views int64
	err := b.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(pasteBucket)
		p, err := decodePaste(pb.Get([]byte(id)))
		if err != nil {
			return err
		}
		if p == nil {
			return domain.ErrPasteNotFound
		}
		p.ViewsUsed++
		data, err := json.Marshal(p)
		if err != nil {
			return errors.Wrap(err, "marshal paste")
		}
		views = p.ViewsUsed
		return pb.Put([]byte(id), data)
	})
	if err != nil {
		return 0, err
	}
	return views, nil
}

// CleanupExpired walks the expiry index in time order and stops at the first
// entry past the cutoff.
func (b *Bolt) CleanupExpired(ctx context.Context, beforeMillis int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var removed int
	err := b.db.Update(func(tx *bolt.Tx) error {
		pb, eb := tx.Bucket(pasteBucket), tx.Bucket(expireBucket)
		cutoff := uint64(beforeMillis)
		c := eb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if binary.BigEndian.Uint64(k[:8]) > cutoff {
				break
			}
			if err := pb.Delete(v); err != nil {
				return errors.Wrapf(err, "delete expired paste %s", v)
			}
			if err := c.Delete(); err != nil {
				return errors.Wrap(err, "delete expiry index")
			}
			removed++
		}
		return nil
	})
	return removed, err
}
func (b *Bolt) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(pasteBucket) == nil {
			return errors.New("pastes bucket missing")
		}
		return nil
	})
}
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
func decodePaste(raw []byte) (*domain.Paste, error) {
	if raw == nil {
		return nil, nil
	}
	var p domain.Paste
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal paste")
	}
	return &p, nil
}
func expireKey(ms int64, id string) []byte {
	key := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(ms))
	copy(key[8:], id)
	return key
}

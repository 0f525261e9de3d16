package svc

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"shortpaste/cfg"
	"shortpaste/metrics"
	"shortpaste/pkg/avail"
	"shortpaste/pkg/domain"
	"shortpaste/svc/db"
	"shortpaste/svc/util"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const (
	healthTimeout  = 2 * time.Second
	readTimeJitter = 20 * time.Millisecond
)

type Paste struct {
	store db.Store
	cfg   *cfg.Cfg
	// mu orders begin's opWg.Add against Shutdown's Wait.
	mu             sync.RWMutex
	shutdown       bool
	opWg           sync.WaitGroup
	cleanerRunning atomic.Bool
}

func NewPaste(store db.Store, c *cfg.Cfg) *Paste {
	if store == nil || c == nil {
		panic("paste service: nil dependency (store or cfg)")
	}
	return &Paste{store: store, cfg: c}
}

// Shutdown refuses new operations and waits for in-flight ones.
func (p *Paste) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}
func (p *Paste) begin() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown {
		return domain.ErrShuttingDown
	}
	p.opWg.Add(1)
	return nil
}

// Validate checks creation input. It never touches the store.
func (p *Paste) Validate(params domain.CreateParams) error {
	if strings.TrimSpace(params.Content) == "" {
		return domain.ErrContentRequired
	}
	if p.cfg.MaxPasteSize > 0 && int64(len(params.Content)) > p.cfg.MaxPasteSize {
		return domain.ErrPasteTooLarge
	}
	if _, ok := avail.ComputeExpiry(params.TTLSeconds, params.Now); !ok {
		return domain.ErrInvalidTTL
	}
	if params.MaxViews != nil && *params.MaxViews < 1 {
		return domain.ErrInvalidMaxViews
	}
	return nil
}

// Create validates, assigns a fresh id and persists the record with zero
// views.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if err := p.Validate(params); err != nil {
		return nil, err
	}
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	expiresAt, _ := avail.ComputeExpiry(params.TTLSeconds, params.Now)
	id, err := util.GenID(p.cfg.IDLength)
	if err != nil {
		return nil, errors.Wrap(err, "gen id")
	}
	paste := &domain.Paste{
		ID:        id,
		Content:   params.Content,
		CreatedAt: params.Now,
		ExpiresAt: expiresAt,
		MaxViews:  params.MaxViews,
	}
	if err := p.store.Save(ctx, paste); err != nil {
		metrics.StoreErrors.WithLabelValues(p.store.Backend(), "save").Inc()
		return nil, errors.Wrap(err, "save paste")
	}
	metrics.PasteCreated.Inc()
	util.Debug().
		Str("id", id).
		Str("request_id", util.GetRequestID(ctx)).
		Bool("ttl", paste.ExpiresAt != nil).
		Bool("view_limit", paste.MaxViews != nil).
		Msg("paste created")
	return paste, nil
}

// Get serves one read at reference time now. Every failure, including a
// store error, is reported as domain.ErrPasteNotFound so callers cannot
// tell a missing paste from an unavailable one.
//
// The view is charged before the re-fetch. If the re-fetch fails the view
// stays consumed and the reader gets not found.
func (p *Paste) Get(ctx context.Context, id string, now int64) (*domain.View, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	defer p.padRead(time.Now())
	log := util.Debug().Str("id", id).Str("request_id", util.GetRequestID(ctx))

	paste, err := p.store.Get(ctx, id)
	if err != nil {
		p.storeFailure(ctx, err, id, "get")
		return nil, domain.ErrPasteNotFound
	}
	if res := avail.IsAvailable(paste, now); !res.Available {
		return nil, p.unavailable(res.Reason)
	}
	ordinal, err := p.store.IncrViews(ctx, id)
	if err != nil {
		p.storeFailure(ctx, err, id, "incr_views")
		return nil, domain.ErrPasteNotFound
	}
	// Concurrent readers may all pass the check above; only the first
	// max_views increments win.
	if paste.MaxViews != nil && ordinal > *paste.MaxViews {
		return nil, p.unavailable(avail.ReasonViewLimitExceeded)
	}
	fresh, err := p.store.Get(ctx, id)
	if err != nil {
		p.storeFailure(ctx, err, id, "refetch")
		util.Warn().
			Str("id", id).
			Int64("view", ordinal).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("view consumed but re-fetch failed")
		return nil, domain.ErrPasteNotFound
	}
	metrics.PasteRetrieved.Inc()
	log.Int64("view", ordinal).Msg("paste served")
	return &domain.View{
		Content:        fresh.Content,
		RemainingViews: avail.RemainingViews(fresh),
		ExpiresAt:      fresh.ExpiresAt,
	}, nil
}
// padRead holds every read, hit or miss, to at least MinReadTime plus
// jitter so response timing does not reveal which ids exist.
func (p *Paste) padRead(start time.Time) {
	floor := p.cfg.MinReadTime
	if floor <= 0 {
		return
	}
	var jitter time.Duration
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		jitter = readTimeJitter
	} else {
		jitter = time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(readTimeJitter))
	}
	if elapsed := time.Since(start); elapsed < floor+jitter {
		time.Sleep(floor + jitter - elapsed)
	}
}
func (p *Paste) unavailable(reason avail.Reason) error {
	metrics.PasteUnavailable.WithLabelValues(string(reason)).Inc()
	return domain.ErrPasteNotFound
}
func (p *Paste) storeFailure(ctx context.Context, err error, id, op string) {
	if errors.Is(err, domain.ErrPasteNotFound) {
		metrics.PasteUnavailable.WithLabelValues("missing").Inc()
		return
	}
	metrics.StoreErrors.WithLabelValues(p.store.Backend(), op).Inc()
	util.Warn().
		Err(err).
		Str("id", id).
		Str("op", op).
		Str("request_id", util.GetRequestID(ctx)).
		Msg("store failure on read")
}

// Health reports whether the store answers a ping. It never returns an
// error.
func (p *Paste) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := p.store.Ping(ctx); err != nil {
		metrics.HealthCheckFailures.Inc()
		util.Warn().Err(err).Str("backend", p.store.Backend()).Msg("store health check failed")
		return false
	}
	return true
}

// PruneExpired removes time-expired records from stores without native
// expiry. It is a no-op for stores that expire records themselves.
func (p *Paste) PruneExpired(ctx context.Context, now int64) (int, error) {
	cl, ok := p.store.(db.Cleaner)
	if !ok {
		return 0, nil
	}
	metrics.PruneCycles.Inc()
	n, err := cl.CleanupExpired(ctx, now)
	metrics.PrunedPastes.Add(float64(n))
	if err != nil {
		metrics.StoreErrors.WithLabelValues(p.store.Backend(), "cleanup").Inc()
	}
	return n, err
}

// StartCleaner runs PruneExpired every interval until ctx is done.
func (p *Paste) StartCleaner(ctx context.Context, interval time.Duration) error {
	if _, ok := p.store.(db.Cleaner); !ok {
		util.Info().Str("backend", p.store.Backend()).Msg("store expires records natively, cleaner not started")
		return nil
	}
	if interval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	if !p.cleanerRunning.CompareAndSwap(false, true) {
		return errors.New("cleaner already running")
	}
	go p.runCleaner(ctx, interval)
	return nil
}
func (p *Paste) runCleaner(ctx context.Context, interval time.Duration) {
	defer p.cleanerRunning.Store(false)
	cleanupRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, cleanupRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", cleanupRequestID).
		Dur("interval", interval).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", cleanupRequestID).
				Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			deleted, err := p.PruneExpired(ctx, util.NowMillis())
			if err != nil {
				util.Error().
					Err(err).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup failed")
			} else if deleted > 0 {
				util.Info().
					Int("deleted", deleted).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup completed")
			}
		}
	}
}

package svc

import (
	"context"
	"math"
	"path/filepath"
	"shortpaste/cfg"
	"shortpaste/pkg/domain"
	"shortpaste/svc/db"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// fakeStore counts calls and can be told to fail individual operations.
type fakeStore struct {
	mu        sync.Mutex
	pastes    map[string]domain.Paste
	calls     int32
	getErr    error
	getCalls  int32
	failGetAt int32
	incrErr   error
	pingErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{pastes: make(map[string]domain.Paste)}
}
func (f *fakeStore) Get(ctx context.Context, id string) (*domain.Paste, error) {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.getCalls, 1)
	if f.getErr != nil || (f.failGetAt > 0 && n == f.failGetAt) {
		return nil, errors.New("store offline")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pastes[id]
	if !ok {
		return nil, domain.ErrPasteNotFound
	}
	return &p, nil
}
func (f *fakeStore) Save(ctx context.Context, p *domain.Paste) error {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pastes[p.ID] = *p
	return nil
}
func (f *fakeStore) IncrViews(ctx context.Context, id string) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pastes[id]
	if !ok {
		return 0, domain.ErrPasteNotFound
	}
	p.ViewsUsed++
	f.pastes[id] = p
	return p.ViewsUsed, nil
}
func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeStore) Backend() string { return "fake" }
func (f *fakeStore) Close() error { return nil }
func (f *fakeStore) views(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pastes[id].ViewsUsed
}

func testCfg() *cfg.Cfg {
	return &cfg.Cfg{IDLength: 21, MaxPasteSize: 1024}
}

func TestCreateAndReadWithLimits(t *testing.T) {
	store := newFakeStore()
	s := NewPaste(store, testCfg())
	ctx := context.Background()

	p, err := s.Create(ctx, domain.CreateParams{
		Content:    "hi",
		TTLSeconds: domain.Int64(60),
		MaxViews:   domain.Int64(1),
		Now:        0,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(p.ID) != 21 {
		t.Errorf("id length = %d, want 21", len(p.ID))
	}
	if p.ExpiresAt == nil || *p.ExpiresAt != 60000 {
		t.Fatalf("ExpiresAt = %v, want 60000", p.ExpiresAt)
	}

	v, err := s.Get(ctx, p.ID, 1000)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if v.Content != "hi" {
		t.Errorf("content = %q", v.Content)
	}
	if v.RemainingViews == nil || *v.RemainingViews != 0 {
		t.Errorf("remaining = %v, want 0", v.RemainingViews)
	}
	if v.ExpiresAt == nil || *v.ExpiresAt != 60000 {
		t.Errorf("expires_at = %v", v.ExpiresAt)
	}

	if _, err := s.Get(ctx, p.ID, 2000); err != domain.ErrPasteNotFound {
		t.Errorf("second read err = %v, want not found", err)
	}
	if got := store.views(p.ID); got != 1 {
		t.Errorf("views_used = %d, want 1 (rejected read must not be charged)", got)
	}
}

func TestUnlimitedPasteReadsFarFuture(t *testing.T) {
	s := NewPaste(newFakeStore(), testCfg())
	ctx := context.Background()
	p, err := s.Create(ctx, domain.CreateParams{Content: "forever", Now: 5})
	if err != nil {
		t.Fatal(err)
	}
	if p.ExpiresAt != nil || p.MaxViews != nil {
		t.Fatalf("unexpected limits: %+v", p)
	}
	for i := 0; i < 3; i++ {
		v, err := s.Get(ctx, p.ID, 5+1_000_000_000)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if v.RemainingViews != nil || v.ExpiresAt != nil {
			t.Errorf("unlimited paste reported limits: %+v", v)
		}
	}
}

func TestExpiryBoundary(t *testing.T) {
	s := NewPaste(newFakeStore(), testCfg())
	ctx := context.Background()
	p, err := s.Create(ctx, domain.CreateParams{Content: "x", TTLSeconds: domain.Int64(1), Now: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, p.ID, 1999); err != nil {
		t.Errorf("read before expiry: %v", err)
	}
	if _, err := s.Get(ctx, p.ID, 2000); err != domain.ErrPasteNotFound {
		t.Errorf("read at expiry: %v, want not found", err)
	}
}

func TestCreateValidationNeverTouchesStore(t *testing.T) {
	tests := []struct {
		name   string
		params domain.CreateParams
		want   error
	}{
		{"empty", domain.CreateParams{Content: ""}, domain.ErrContentRequired},
		{"whitespace", domain.CreateParams{Content: " \n\t"}, domain.ErrContentRequired},
		{"zero ttl", domain.CreateParams{Content: "a", TTLSeconds: domain.Int64(0)}, domain.ErrInvalidTTL},
		{"negative ttl", domain.CreateParams{Content: "a", TTLSeconds: domain.Int64(-5)}, domain.ErrInvalidTTL},
		{"ttl past int64 millis", domain.CreateParams{Content: "a", TTLSeconds: domain.Int64(9223372036854775), Now: 1700000000000}, domain.ErrInvalidTTL},
		{"zero views", domain.CreateParams{Content: "a", MaxViews: domain.Int64(0)}, domain.ErrInvalidMaxViews},
		{"too large", domain.CreateParams{Content: string(make([]byte, 2048))}, domain.ErrPasteTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			s := NewPaste(store, testCfg())
			_, err := s.Create(context.Background(), tt.params)
			if err != tt.want {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if n := atomic.LoadInt32(&store.calls); n != 0 {
				t.Errorf("store called %d times on invalid input", n)
			}
		})
	}
}

func TestLargestTTLStaysReadable(t *testing.T) {
	const now = 1700000000000
	s := NewPaste(newFakeStore(), testCfg())
	ctx := context.Background()
	ttl := int64(math.MaxInt64-now) / 1000
	p, err := s.Create(ctx, domain.CreateParams{Content: "long", TTLSeconds: domain.Int64(ttl), Now: now})
	if err != nil {
		t.Fatal(err)
	}
	if *p.ExpiresAt <= p.CreatedAt {
		t.Fatalf("expires_at %d not after created_at %d", *p.ExpiresAt, p.CreatedAt)
	}
	if _, err := s.Get(ctx, p.ID, now+1); err != nil {
		t.Errorf("read right after create: %v", err)
	}
}

func TestGetMasksStoreErrors(t *testing.T) {
	store := newFakeStore()
	s := NewPaste(store, testCfg())
	store.getErr = errors.New("boom")
	if _, err := s.Get(context.Background(), "anything", 0); err != domain.ErrPasteNotFound {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestGetIncrementFailureIsNotFound(t *testing.T) {
	store := newFakeStore()
	s := NewPaste(store, testCfg())
	ctx := context.Background()
	p, err := s.Create(ctx, domain.CreateParams{Content: "x"})
	if err != nil {
		t.Fatal(err)
	}
	store.incrErr = errors.New("write failed")
	if _, err := s.Get(ctx, p.ID, 0); err != domain.ErrPasteNotFound {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestRefetchFailureConsumesView(t *testing.T) {
	store := newFakeStore()
	s := NewPaste(store, testCfg())
	ctx := context.Background()
	p, err := s.Create(ctx, domain.CreateParams{Content: "x", MaxViews: domain.Int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	store.failGetAt = 2
	if _, err := s.Get(ctx, p.ID, 0); err != domain.ErrPasteNotFound {
		t.Fatalf("err = %v, want not found", err)
	}
	if got := store.views(p.ID); got != 1 {
		t.Errorf("views_used = %d, want 1", got)
	}
}

func TestConcurrentReadsHonourViewLimit(t *testing.T) {
	const (
		maxViews = 5
		readers  = 30
	)
	store, err := db.NewBolt(filepath.Join(t.TempDir(), "svc.bolt"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	s := NewPaste(store, testCfg())
	ctx := context.Background()
	p, err := s.Create(ctx, domain.CreateParams{Content: "race", MaxViews: domain.Int64(maxViews)})
	if err != nil {
		t.Fatal(err)
	}

	var served int32
	var g errgroup.Group
	for i := 0; i < readers; i++ {
		g.Go(func() error {
			_, err := s.Get(ctx, p.ID, 0)
			if err == nil {
				atomic.AddInt32(&served, 1)
				return nil
			}
			if err != domain.ErrPasteNotFound {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if served != maxViews {
		t.Errorf("served %d reads, want exactly %d", served, maxViews)
	}
}

func TestHealth(t *testing.T) {
	store := newFakeStore()
	s := NewPaste(store, testCfg())
	if !s.Health(context.Background()) {
		t.Error("healthy store reported down")
	}
	store.pingErr = errors.New("conn refused")
	if s.Health(context.Background()) {
		t.Error("failing store reported up")
	}
}

func TestPruneExpired(t *testing.T) {
	store, err := db.NewBolt(filepath.Join(t.TempDir(), "prune.bolt"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	s := NewPaste(store, testCfg())
	ctx := context.Background()
	old, err := s.Create(ctx, domain.CreateParams{Content: "old", TTLSeconds: domain.Int64(1), Now: 0})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, domain.CreateParams{Content: "new", TTLSeconds: domain.Int64(3600), Now: 0}); err != nil {
		t.Fatal(err)
	}
	n, err := s.PruneExpired(ctx, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if _, err := store.Get(ctx, old.ID); err != domain.ErrPasteNotFound {
		t.Errorf("expired record still present: %v", err)
	}
}

func TestPruneExpiredNoopWithoutCleaner(t *testing.T) {
	s := NewPaste(newFakeStore(), testCfg())
	n, err := s.PruneExpired(context.Background(), 0)
	if err != nil || n != 0 {
		t.Errorf("PruneExpired = %d, %v", n, err)
	}
	if err := s.StartCleaner(context.Background(), time.Minute); err != nil {
		t.Errorf("StartCleaner on native-expiry store: %v", err)
	}
}

func TestStartCleanerOnce(t *testing.T) {
	store, err := db.NewBolt(filepath.Join(t.TempDir(), "cleaner.bolt"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	s := NewPaste(store, testCfg())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.StartCleaner(ctx, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := s.StartCleaner(ctx, time.Hour); err == nil {
		t.Error("second StartCleaner should fail while running")
	}
}

func TestReadTimeFloor(t *testing.T) {
	c := testCfg()
	c.MinReadTime = 150 * time.Millisecond
	s := NewPaste(newFakeStore(), c)
	ctx := context.Background()
	p, err := s.Create(ctx, domain.CreateParams{Content: "pad"})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{p.ID, "missing"} {
		start := time.Now()
		_, _ = s.Get(ctx, id, 0)
		elapsed := time.Since(start)
		if elapsed < c.MinReadTime {
			t.Errorf("read of %s took %v, want at least %v", id, elapsed, c.MinReadTime)
		}
		// One pad per read, not one per store lookup.
		if elapsed >= 2*c.MinReadTime {
			t.Errorf("read of %s took %v, padded more than once", id, elapsed)
		}
	}
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	store := newFakeStore()
	s := NewPaste(store, testCfg())
	ctx := context.Background()
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			for {
				_, err := s.Create(ctx, domain.CreateParams{Content: "w"})
				if err == domain.ErrShuttingDown {
					return nil
				}
				if err != nil {
					return err
				}
			}
		})
	}
	time.Sleep(10 * time.Millisecond)
	s.Shutdown()
	after := atomic.LoadInt32(&store.calls)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&store.calls); got != after {
		t.Errorf("store touched %d times after Shutdown returned", got-after)
	}
}

func TestShutdownRejectsNewWork(t *testing.T) {
	s := NewPaste(newFakeStore(), testCfg())
	s.Shutdown()
	if _, err := s.Create(context.Background(), domain.CreateParams{Content: "late"}); err != domain.ErrShuttingDown {
		t.Errorf("err = %v, want shutting down", err)
	}
}

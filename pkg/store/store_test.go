package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *fakeClock { return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)} }

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore(time.Minute, 0)
	img := imageref.New([]byte("payload"))

	h, err := s.Put(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if h == "" {
		t.Fatal("expected a handle")
	}
	got, err := s.Get(context.Background(), h)
	if err != nil {
		t.Fatal(err)
	}
	if got != img {
		t.Error("expected the stored image")
	}
}

func TestMemoryStore_ExpiryWithoutTimers(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(time.Minute, 0, WithClock(clock.Now))

	h, _ := s.Put(context.Background(), imageref.New([]byte("a")))
	clock.Advance(59 * time.Second)
	if _, err := s.Get(context.Background(), h); err != nil {
		t.Fatalf("expected entry alive before ttl, got %v", err)
	}

	clock.Advance(time.Second)
	if _, err := s.Get(context.Background(), h); !editerr.Is(err, editerr.KindNotFound) {
		t.Fatalf("expected not found after ttl, got %v", err)
	}
	if s.Len() != 1 {
		t.Error("expired entries stay until swept")
	}
	if n := s.Sweep(clock.Now()); n != 1 {
		t.Errorf("expected 1 swept, got %d", n)
	}
	if s.Len() != 0 {
		t.Error("expected empty store after sweep")
	}
}

func TestMemoryStore_SweepKeepsLiveEntries(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(time.Minute, 0, WithClock(clock.Now))

	old, _ := s.Put(context.Background(), imageref.New([]byte("old")))
	clock.Advance(45 * time.Second)
	fresh, _ := s.Put(context.Background(), imageref.New([]byte("fresh")))
	clock.Advance(30 * time.Second)

	if n := s.Sweep(clock.Now()); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if _, err := s.Get(context.Background(), old); err == nil {
		t.Error("expected old entry gone")
	}
	if _, err := s.Get(context.Background(), fresh); err != nil {
		t.Errorf("expected fresh entry kept, got %v", err)
	}
}

func TestMemoryStore_CapacityEvictsOldest(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(time.Hour, 2, WithClock(clock.Now))

	first, _ := s.Put(context.Background(), imageref.New([]byte("1")))
	clock.Advance(time.Second)
	second, _ := s.Put(context.Background(), imageref.New([]byte("2")))
	clock.Advance(time.Second)
	third, _ := s.Put(context.Background(), imageref.New([]byte("3")))

	if s.Len() != 2 {
		t.Fatalf("expected capacity 2, got %d", s.Len())
	}
	if _, err := s.Get(context.Background(), first); err == nil {
		t.Error("expected oldest entry evicted")
	}
	for _, h := range []Handle{second, third} {
		if _, err := s.Get(context.Background(), h); err != nil {
			t.Errorf("expected %s kept, got %v", h, err)
		}
	}
}

func TestMemoryStore_DeleteAndUnknown(t *testing.T) {
	s := NewMemoryStore(0, 0)
	h, _ := s.Put(context.Background(), imageref.New([]byte("x")))
	if err := s.Delete(context.Background(), h); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), h); !editerr.Is(err, editerr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := s.Put(context.Background(), nil); !editerr.Is(err, editerr.KindValidation) {
		t.Errorf("expected validation error for nil image, got %v", err)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore(time.Minute, 50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h, err := s.Put(context.Background(), imageref.New([]byte{byte(j)}))
				if err != nil {
					t.Error(err)
					return
				}
				_, _ = s.Get(context.Background(), h)
			}
		}()
	}
	wg.Wait()
	if s.Len() > 50 {
		t.Errorf("capacity exceeded: %d", s.Len())
	}
}

func TestRedisStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	s := NewRedisStore(RedisConfig{Addr: addr, TTL: time.Minute}, nil)
	defer s.Close()
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	img := imageref.New([]byte("\x89PNG\r\n\x1a\nfake"))
	h, err := s.Put(ctx, img)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != string(img.Data) || got.MIMEType != img.MIMEType {
		t.Error("round trip mismatch")
	}
	_ = s.Delete(ctx, h)
	if _, err := s.Get(ctx, h); !editerr.Is(err, editerr.KindNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

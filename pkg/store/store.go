// Package store keeps edit results addressable by an opaque handle for a
// bounded time.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
)

// Handle is an opaque reference to a stored image.
type Handle string

// Store is a time-expiring image lookup shared across requests.
type Store interface {
	Put(ctx context.Context, img *imageref.Image) (Handle, error)
	Get(ctx context.Context, h Handle) (*imageref.Image, error)
	Delete(ctx context.Context, h Handle) error
}

// NewHandle returns a fresh lexically sortable handle.
func NewHandle() Handle { return Handle(ulid.Make().String()) }

type entry struct {
	img     *imageref.Image
	created time.Time
}

// MemoryStore is an in-process arena of images. Expiry is applied on Get
// and reclaimed by Sweep; nothing runs in the background.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[Handle]entry
	ttl      time.Duration
	capacity int
	now      func() time.Time
	logger   *zap.Logger
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock injects the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func WithLogger(l *zap.Logger) MemoryOption {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewMemoryStore creates a store holding at most capacity images for ttl
// each. capacity <= 0 means unbounded; ttl <= 0 means no expiry.
func NewMemoryStore(ttl time.Duration, capacity int, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:  make(map[Handle]entry),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores img and returns its handle. When full, the oldest entry is
// evicted.
func (s *MemoryStore) Put(ctx context.Context, img *imageref.Image) (Handle, error) {
	if img == nil {
		return "", editerr.Validation("store_put", "image is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.capacity > 0 && len(s.entries) >= s.capacity {
		s.sweepLocked(now)
		for len(s.entries) >= s.capacity {
			s.evictOldestLocked()
		}
	}
	h := NewHandle()
	s.entries[h] = entry{img: img, created: now}
	return h, nil
}

// Get returns the image for h, or a not-found error if it is unknown or
// expired.
func (s *MemoryStore) Get(ctx context.Context, h Handle) (*imageref.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[h]
	if !ok || s.expired(e, s.now()) {
		return nil, editerr.NotFound("store_get", "no image for handle %q", h)
	}
	return e.img, nil
}

func (s *MemoryStore) Delete(ctx context.Context, h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, h)
	return nil
}

// Sweep drops every entry expired at now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

// Len returns the number of entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) expired(e entry, now time.Time) bool {
	return s.ttl > 0 && !now.Before(e.created.Add(s.ttl))
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for h, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, h)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("swept expired images", zap.Int("removed", removed), zap.Int("remaining", len(s.entries)))
	}
	return removed
}

func (s *MemoryStore) evictOldestLocked() {
	var oldest Handle
	var oldestAt time.Time
	first := true
	for h, e := range s.entries {
		// Handles are ULIDs, so equal timestamps order by handle.
		if first || e.created.Before(oldestAt) || (e.created.Equal(oldestAt) && h < oldest) {
			oldest, oldestAt, first = h, e.created, false
		}
	}
	if !first {
		delete(s.entries, oldest)
	}
}

var _ Store = (*MemoryStore)(nil)

package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"barrier.org/internal/auth"
	"barrier.org/internal/gates"
	"barrier.org/internal/ids"
)

// RefreshStore keeps refresh records in process memory. Records do not survive
// a restart.
type RefreshStore struct {
	mu      sync.Mutex
	records map[string]auth.RefreshRecord
	ttl     time.Duration
	now     func() time.Time
}

var _ auth.RefreshStore = (*RefreshStore)(nil)

// Option configures RefreshStore behavior.
type Option func(*RefreshStore)

// WithTTL overrides the refresh record lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *RefreshStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *RefreshStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewRefreshStore(opts ...Option) *RefreshStore {
	s := &RefreshStore{
		records: make(map[string]auth.RefreshRecord),
		ttl:     auth.DefaultRefreshTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RefreshStore) Put(_ context.Context, rec *auth.RefreshRecord) error {
	if rec == nil || strings.TrimSpace(rec.Token) == "" || strings.TrimSpace(rec.Username) == "" {
		return fmt.Errorf("%w: token and username are required", auth.ErrInvalidInput)
	}
	now := s.now()
	rec.ID = ids.NewAt(now)
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(s.ttl)

	stored := *rec
	stored.Gates = append(gates.Set(nil), rec.Gates...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Token]; exists {
		return fmt.Errorf("%w: duplicate refresh token", auth.ErrInvalidInput)
	}
	s.records[rec.Token] = stored
	return nil
}

func (s *RefreshStore) Take(_ context.Context, token string) (*auth.RefreshRecord, error) {
	now := s.now()

	s.mu.Lock()
	rec, ok := s.records[token]
	if ok {
		delete(s.records, token)
	}
	s.mu.Unlock()

	if !ok || rec.Expired(now) {
		return nil, auth.ErrNotFound
	}
	if rec.Gates == nil {
		rec.Gates = gates.Set{}
	}
	return &rec, nil
}

func (s *RefreshStore) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, rec := range s.records {
		if rec.Username == username {
			delete(s.records, token)
		}
	}
	return nil
}

// Purge drops every record that has expired at now and returns how many were removed.
func (s *RefreshStore) Purge(_ context.Context) (int64, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, token)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored records, expired ones included.
func (s *RefreshStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Ping always succeeds.
func (s *RefreshStore) Ping(context.Context) error { return nil }

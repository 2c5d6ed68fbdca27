package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"barrier.org/internal/auth"
	"barrier.org/internal/gates"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newStore(c *clock) *RefreshStore {
	return NewRefreshStore(WithClock(c.Now), WithTTL(time.Hour))
}

func TestPutTake(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	s := newStore(c)
	ctx := context.Background()

	set := gates.Set{{ID: 1, Name: "Gate", Retries: 1}}
	rec := &auth.RefreshRecord{Username: "alice", Token: "t1", Gates: set}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if rec.ID == "" || !rec.ExpiresAt.Equal(c.Now().Add(time.Hour)) {
		t.Fatalf("store must assign id and expiry: %+v", rec)
	}

	got, err := s.Take(ctx, "t1")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if got.Username != "alice" || len(got.Gates) != 1 || got.Gates[0].Name != "Gate" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if _, err := s.Take(ctx, "t1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("second take must fail with ErrNotFound, got %v", err)
	}
	if _, err := s.Take(ctx, "never"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("unknown token must fail with ErrNotFound, got %v", err)
	}
}

func TestPutValidation(t *testing.T) {
	s := NewRefreshStore()
	ctx := context.Background()
	if err := s.Put(ctx, nil); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := s.Put(ctx, &auth.RefreshRecord{Username: "a"}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing token, got %v", err)
	}
	if err := s.Put(ctx, &auth.RefreshRecord{Username: "a", Token: "x"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, &auth.RefreshRecord{Username: "b", Token: "x"}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("duplicate token must be rejected, got %v", err)
	}
}

func TestTakeExpired(t *testing.T) {
	c := &clock{t: time.Now()}
	s := newStore(c)
	ctx := context.Background()

	if err := s.Put(ctx, &auth.RefreshRecord{Username: "alice", Token: "t1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	c.Advance(time.Hour)
	if _, err := s.Take(ctx, "t1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("record expiring exactly now must be absent, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expired record must be removed on access, len=%d", s.Len())
	}
}

func TestDeleteUser(t *testing.T) {
	s := NewRefreshStore()
	ctx := context.Background()
	for i, user := range []string{"alice", "alice", "bob"} {
		if err := s.Put(ctx, &auth.RefreshRecord{Username: user, Token: fmt.Sprintf("t%d", i)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := s.DeleteUser(ctx, "alice"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	for _, tok := range []string{"t0", "t1"} {
		if _, err := s.Take(ctx, tok); !errors.Is(err, auth.ErrNotFound) {
			t.Fatalf("%s must be gone, got %v", tok, err)
		}
	}
	if _, err := s.Take(ctx, "t2"); err != nil {
		t.Fatalf("other users keep their tokens: %v", err)
	}
	if err := s.DeleteUser(ctx, "nobody"); err != nil {
		t.Fatalf("DeleteUser with no records must succeed: %v", err)
	}
}

func TestPurge(t *testing.T) {
	c := &clock{t: time.Now()}
	s := newStore(c)
	ctx := context.Background()
	_ = s.Put(ctx, &auth.RefreshRecord{Username: "a", Token: "old"})
	c.Advance(30 * time.Minute)
	_ = s.Put(ctx, &auth.RefreshRecord{Username: "a", Token: "new"})
	c.Advance(45 * time.Minute)

	n, err := s.Purge(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Purge = %d, %v; want 1", n, err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one record left, got %d", s.Len())
	}
}

func TestConcurrentTakeSingleWinner(t *testing.T) {
	s := NewRefreshStore()
	ctx := context.Background()
	if err := s.Put(ctx, &auth.RefreshRecord{Username: "alice", Token: "shared"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const workers = 32
	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		notFound atomic.Int32
		start    = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.Take(ctx, "shared")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, auth.ErrNotFound):
				notFound.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || notFound.Load() != workers-1 {
		t.Fatalf("wins=%d notFound=%d", wins.Load(), notFound.Load())
	}
}

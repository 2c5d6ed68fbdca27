package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"barrier.org/internal/auth"
	"barrier.org/internal/gates"
	"barrier.org/internal/ids"
)

const defaultPrefix = "barrier:"

// putScript creates the token key and indexes it under the user in one step.
// KEYS: token key, user key. ARGV: record, ttl in ms, token.
var putScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
	return 0
end
redis.call('SADD', KEYS[2], ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return 1
`)

// deleteUserScript removes every token indexed under the user and the index.
// KEYS: user key. ARGV: token key prefix.
var deleteUserScript = redis.NewScript(`
local tokens = redis.call('SMEMBERS', KEYS[1])
for _, t in ipairs(tokens) do
	redis.call('DEL', ARGV[1] .. t)
end
redis.call('DEL', KEYS[1])
return #tokens
`)

// RefreshStore keeps one key per refresh token with a native Redis TTL and a
// set per user listing that user's live tokens.
type RefreshStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ auth.RefreshStore = (*RefreshStore)(nil)

// Option configures RefreshStore behavior.
type Option func(*RefreshStore)

// WithPrefix namespaces every key.
func WithPrefix(p string) Option {
	return func(s *RefreshStore) {
		if p = strings.TrimSpace(p); p != "" {
			s.prefix = p
		}
	}
}

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

func New(client redis.UniversalClient, opts ...Option) *RefreshStore {
	s := &RefreshStore{
		client: client,
		prefix: defaultPrefix,
		ttl:    auth.DefaultRefreshTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial opens a client for addr and verifies it answers.
func Dial(ctx context.Context, addr string, opts ...Option) (*RefreshStore, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(client, opts...), client, nil
}

func (s *RefreshStore) tokenPrefix() string { return s.prefix + "refresh:" }

func (s *RefreshStore) tokenKey(token string) string { return s.tokenPrefix() + token }

func (s *RefreshStore) userKey(username string) string { return s.prefix + "user:" + username }

func (s *RefreshStore) Put(ctx context.Context, rec *auth.RefreshRecord) error {
	if rec == nil || strings.TrimSpace(rec.Token) == "" || strings.TrimSpace(rec.Username) == "" {
		return fmt.Errorf("%w: token and username are required", auth.ErrInvalidInput)
	}
	now := s.now().UTC()
	stored := *rec
	stored.ID = ids.NewAt(now)
	stored.CreatedAt = now
	stored.ExpiresAt = now.Add(s.ttl)
	if stored.Gates == nil {
		stored.Gates = gates.Set{}
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal refresh record: %w", err)
	}

	keys := []string{s.tokenKey(rec.Token), s.userKey(rec.Username)}
	created, err := putScript.Run(ctx, s.client, keys, raw, s.ttl.Milliseconds(), rec.Token).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return fmt.Errorf("%w: duplicate refresh token", auth.ErrInvalidInput)
	}

	rec.ID = stored.ID
	rec.CreatedAt = stored.CreatedAt
	rec.ExpiresAt = stored.ExpiresAt
	return nil
}

// Take relies on GETDEL, which Redis executes atomically.
func (s *RefreshStore) Take(ctx context.Context, token string) (*auth.RefreshRecord, error) {
	if strings.TrimSpace(token) == "" {
		return nil, auth.ErrNotFound
	}
	raw, err := s.client.GetDel(ctx, s.tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec auth.RefreshRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode refresh record: %w", err)
	}
	_ = s.client.SRem(ctx, s.userKey(rec.Username), token).Err()

	if rec.Expired(s.now()) {
		return nil, auth.ErrNotFound
	}
	if rec.Gates == nil {
		rec.Gates = gates.Set{}
	}
	return &rec, nil
}

// DeleteUser runs as one script so a token stored concurrently is either
// deleted with the rest or left indexed for the next logout.
func (s *RefreshStore) DeleteUser(ctx context.Context, username string) error {
	err := deleteUserScript.Run(ctx, s.client, []string{s.userKey(username)}, s.tokenPrefix()).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Purge is a no-op; Redis expires keys itself.
func (s *RefreshStore) Purge(context.Context) (int64, error) { return 0, nil }

func (s *RefreshStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

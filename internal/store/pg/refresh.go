package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"barrier.org/internal/auth"
	"barrier.org/internal/gates"
	"barrier.org/internal/ids"
)

const defaultRefreshTTL = auth.DefaultRefreshTTL

var _ auth.RefreshStore = (*Store)(nil)

func (s *Store) Put(ctx context.Context, rec *auth.RefreshRecord) error {
	if rec == nil || strings.TrimSpace(rec.Token) == "" || strings.TrimSpace(rec.Username) == "" {
		return fmt.Errorf("%w: token and username are required", auth.ErrInvalidInput)
	}
	set := rec.Gates
	if set == nil {
		set = gates.Set{}
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal gates: %w", err)
	}

	now := s.now().UTC()
	id := ids.NewAt(now)
	expires := now.Add(s.refreshTTL)
	if _, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, username, token, gates, created_at, expires_at)
		values ($1, $2, $3, $4, $5, $6)
	`, id, rec.Username, rec.Token, raw, now, expires); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: duplicate refresh token", auth.ErrInvalidInput)
		}
		return err
	}
	rec.ID = id
	rec.CreatedAt = now
	rec.ExpiresAt = expires
	return nil
}

// Take deletes and returns the live record in one statement, so concurrent
// callers presenting the same token see exactly one winner.
func (s *Store) Take(ctx context.Context, token string) (*auth.RefreshRecord, error) {
	if strings.TrimSpace(token) == "" {
		return nil, auth.ErrNotFound
	}
	rec := &auth.RefreshRecord{Token: token}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		delete from refresh_tokens
		where token = $1 and expires_at > $2
		returning id, username, gates, created_at, expires_at
	`, token, s.now().UTC()).Scan(&rec.ID, &rec.Username, &raw, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Gates = gates.Set{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Gates); err != nil {
			return nil, fmt.Errorf("decode gates: %w", err)
		}
	}
	return rec, nil
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where username = $1`, username)
	return err
}

// Purge removes expired refresh rows and returns how many were deleted.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

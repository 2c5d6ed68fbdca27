package auth

import (
	"context"
	"time"
)

// DefaultRefreshTTL bounds how long an unconsumed refresh token stays usable.
const DefaultRefreshTTL = 14 * 24 * time.Hour

// RefreshStore is the single-use refresh token ledger.
//
// Put inserts a new record and never updates in place; one user may hold many
// records at once. Implementations assign ID, CreatedAt and ExpiresAt.
//
// Take atomically finds and deletes the record holding token. It returns
// ErrNotFound when the token never existed, was already taken or has expired.
// Under concurrent calls with the same token exactly one caller wins.
//
// DeleteUser removes every record of username and succeeds when there are none.
type RefreshStore interface {
	Put(ctx context.Context, rec *RefreshRecord) error
	Take(ctx context.Context, token string) (*RefreshRecord, error)
	DeleteUser(ctx context.Context, username string) error
}

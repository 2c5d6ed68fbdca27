package auth

import (
	"time"

	"barrier.org/internal/gates"
)

// RefreshRecord is a persisted, single-use refresh token together with the
// authorization frozen at the time it was issued.
type RefreshRecord struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Token     string    `json:"refresh_token"`
	Gates     gates.Set `json:"gates"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record is no longer usable at now.
func (r *RefreshRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

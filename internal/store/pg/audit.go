package pg

import (
	"context"
	"errors"

	"barrier.org/internal/audit"
	"barrier.org/internal/ids"
)

var _ audit.Sink = (*Store)(nil)

// Record appends e to audit_log. A missing ID is generated from the event time.
func (s *Store) Record(ctx context.Context, e audit.Event) error {
	if !e.Kind.Valid() || e.OccurredAt.IsZero() {
		return audit.ErrInvalidEvent
	}
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.OccurredAt)
	}
	var gate any
	if e.Gate != "" {
		gate = e.Gate
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, occurred_at, ip, username, session_id, kind, label, gate)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.OccurredAt.UTC(), e.IP, e.Username, e.SessionID, string(e.Kind), e.Kind.Label(), gate)
	return err
}

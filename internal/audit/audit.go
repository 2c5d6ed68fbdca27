package audit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Kind identifies an auditable action.
type Kind string

const (
	LoginSuccess     Kind = "login.success"
	LoginFailure     Kind = "login.failure"
	RefreshSuccess   Kind = "refresh.success"
	RefreshFailure   Kind = "refresh.failure"
	GateAccess       Kind = "gate.access"
	GateUnauthorized Kind = "gate.unauthorized"
)

var labels = map[Kind]string{
	LoginSuccess:     "Successful login",
	LoginFailure:     "Failed login",
	RefreshSuccess:   "Successful refresh token",
	RefreshFailure:   "Failed refresh token",
	GateAccess:       "Successful access to gate",
	GateUnauthorized: "Unauthorized gate access",
}

// Label returns the human readable text stored alongside the event.
func (k Kind) Label() string {
	if l, ok := labels[k]; ok {
		return l
	}
	return string(k)
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := labels[k]
	return ok
}

// Event is one append-only audit record.
type Event struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	IP         string    `json:"ip"`
	Username   string    `json:"username"`
	SessionID  string    `json:"session_id"`
	Kind       Kind      `json:"kind"`
	Gate       string    `json:"gate,omitempty"`
}

// Sink persists audit events.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func validate(e Event) error {
	if !e.Kind.Valid() {
		return ErrInvalidEvent
	}
	if e.OccurredAt.IsZero() {
		return ErrInvalidEvent
	}
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

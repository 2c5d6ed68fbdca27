package audit

import (
	"context"
	"encoding/json"
	"time"

	"barrier.org/internal/obs"
)

// LogSink writes each event as a JSON line on the shared logger. It ignores
// the configured log level; audit lines are always emitted.
type LogSink struct{}

var _ Sink = LogSink{}

func (LogSink) Record(ctx context.Context, e Event) error {
	if err := validate(e); err != nil {
		return err
	}
	fields := map[string]any{
		"ip":         e.IP,
		"username":   e.Username,
		"session_id": e.SessionID,
	}
	if e.Gate != "" {
		fields["gate"] = e.Gate
	}
	entry := map[string]any{
		"ts":    e.OccurredAt.UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"id":    e.ID,
		"event": string(e.Kind),
		"label": e.Kind.Label(),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	entry["fields"] = fields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

package audit

import (
	"context"
	"sync"
)

// Recorder keeps events in memory. It backs the in-memory deployment and is
// handy in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

var _ Sink = (*Recorder)(nil)

func (r *Recorder) Record(_ context.Context, e Event) error {
	if err := validate(e); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

// FailWith makes subsequent Record calls return err; nil restores normal behavior.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Events returns a snapshot of recorded events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of recorded events in order.
func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	out := make([]Kind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

package gatectl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"barrier.org/internal/obs"
)

const (
	contentType           = "application/xml"
	defaultDelay          = 100 * time.Millisecond
	defaultAttemptTimeout = 10 * time.Second
)

// ErrActuationFailed is returned when every attempt of an open sequence failed.
var ErrActuationFailed = errors.New("gatectl: actuation failed")

// Actuator sends ControlAccess calls to a gate controller.
type Actuator struct {
	address        string
	client         *http.Client
	delay          time.Duration
	attemptTimeout time.Duration
	sleep          func(time.Duration)
}

// Option configures Actuator behavior.
type Option func(*Actuator)

// WithHTTPClient overrides the HTTP client used for controller calls.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Actuator) {
		if c != nil {
			a.client = c
		}
	}
}

// WithDelay sets the pause after each attempt.
func WithDelay(d time.Duration) Option {
	return func(a *Actuator) {
		if d >= 0 {
			a.delay = d
		}
	}
}

// WithAttemptTimeout bounds a single controller call.
func WithAttemptTimeout(d time.Duration) Option {
	return func(a *Actuator) {
		if d > 0 {
			a.attemptTimeout = d
		}
	}
}

// WithSleep replaces time.Sleep (useful for tests).
func WithSleep(fn func(time.Duration)) Option {
	return func(a *Actuator) {
		if fn != nil {
			a.sleep = fn
		}
	}
}

// New returns an Actuator posting to the controller at address.
func New(address string, opts ...Option) *Actuator {
	a := &Actuator{
		address:        strings.TrimSpace(address),
		client:         &http.Client{},
		delay:          defaultDelay,
		attemptTimeout: defaultAttemptTimeout,
		sleep:          time.Sleep,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Address returns the controller endpoint.
func (a *Actuator) Address() string { return a.address }

// SequenceTimeout is the longest an open sequence of attempts calls can take.
func (a *Actuator) SequenceTimeout(attempts int) time.Duration {
	if attempts <= 0 {
		attempts = 1
	}
	return time.Duration(attempts) * (a.attemptTimeout + a.delay)
}

// Actuate sends exactly attempts ControlAccess calls for controllerID, pausing
// after each response, even when an earlier call already succeeded. A call
// fails on transport error or non-2xx status; the sequence fails only when all
// calls failed. Cancelling ctx does not cut the sequence short.
func (a *Actuator) Actuate(ctx context.Context, controllerID, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	body, err := Envelope(controllerID)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	obs.Debug("gate actuation started", map[string]any{
		"controller_id": controllerID,
		"attempts":      attempts,
	})

	failures := 0
	for i := 1; i <= attempts; i++ {
		if err := a.post(ctx, body); err != nil {
			failures++
			obs.RecordGateAttempt("failed")
			obs.Warn("gate controller call failed", map[string]any{
				"controller_id": controllerID,
				"attempt":       i,
				"error":         err,
			})
		} else {
			obs.RecordGateAttempt("ok")
		}
		a.sleep(a.delay)
	}

	if failures == attempts {
		obs.Error("failed to open gate", map[string]any{"controller_id": controllerID})
		return fmt.Errorf("%w: controller %d, %d of %d attempts failed", ErrActuationFailed, controllerID, failures, attempts)
	}
	obs.Debug("relay was opened", map[string]any{"controller_id": controllerID, "failed_attempts": failures})
	return nil
}

func (a *Actuator) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, a.attemptTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.address, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("controller responded %d", resp.StatusCode)
	}
	return nil
}

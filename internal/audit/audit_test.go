package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"barrier.org/internal/obs"
)

func TestLogSink(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := WithRequestID(context.Background(), "req-123")
	e := Event{
		ID:         "01J0000000000000000000000",
		OccurredAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		IP:         "10.0.0.7",
		Username:   "alice",
		SessionID:  "s-1",
		Kind:       GateAccess,
		Gate:       "Gate",
	}
	if err := (LogSink{}).Record(ctx, e); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "gate.access" || entry["label"] != "Successful access to gate" {
		t.Fatalf("unexpected event: %v / %v", entry["event"], entry["label"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["ts"] != "2026-05-01T10:00:00Z" {
		t.Fatalf("unexpected ts: %v", entry["ts"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["username"] != "alice" || fields["gate"] != "Gate" || fields["ip"] != "10.0.0.7" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogSinkRejectsInvalid(t *testing.T) {
	if err := (LogSink{}).Record(context.Background(), Event{Kind: "bogus", OccurredAt: time.Now()}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := (LogSink{}).Record(context.Background(), Event{Kind: LoginSuccess}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for missing time, got %v", err)
	}
}

func TestLabels(t *testing.T) {
	cases := map[Kind]string{
		LoginSuccess:     "Successful login",
		LoginFailure:     "Failed login",
		RefreshSuccess:   "Successful refresh token",
		RefreshFailure:   "Failed refresh token",
		GateAccess:       "Successful access to gate",
		GateUnauthorized: "Unauthorized gate access",
		Kind("other"):    "other",
	}
	for k, want := range cases {
		if got := k.Label(); got != want {
			t.Errorf("%s label = %q, want %q", k, got, want)
		}
	}
}

func TestMultiFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	boom := errors.New("boom")
	b.FailWith(boom)

	e := Event{OccurredAt: time.Now(), Kind: LoginFailure, Username: "bob"}
	err := Multi{a, nil, b}.Record(context.Background(), e)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if got := a.Kinds(); len(got) != 1 || got[0] != LoginFailure {
		t.Fatalf("first sink must still record, got %v", got)
	}
	if len(b.Events()) != 0 {
		t.Fatal("failing sink must not record")
	}
}

func TestRequestIDContext(t *testing.T) {
	if got := RequestIDFromContext(WithRequestID(context.Background(), "  ")); got != "" {
		t.Fatalf("blank request id must be ignored, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("unexpected request id %q", got)
	}
}

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"barrier.org/internal/directory"
	"barrier.org/internal/gatectl"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestEnvelopeCommand(t *testing.T) {
	out, _, err := execute(t, "", "envelope", "17")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	want, _ := gatectl.Envelope(17)
	if out != string(want) {
		t.Fatalf("unexpected output:\n%s", out)
	}

	if _, _, err := execute(t, "", "envelope", "x"); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
}

func TestHashPasswordFromStdin(t *testing.T) {
	out, _, err := execute(t, "hunter2\n", "hash-password", "--stdin")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	hash := strings.TrimSpace(out)
	if err := directory.VerifyPassword(hash, "hunter2"); err != nil {
		t.Fatalf("hash does not verify: %v", err)
	}

	if _, _, err := execute(t, "\n", "hash-password", "--stdin"); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestOpenCommand(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	out, _, err := execute(t, "", "open", "--server", srv.URL, "--id", "5", "--attempts", "2", "--delay", "0s")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 controller calls, got %d", calls.Load())
	}
	if !strings.Contains(out, "controller 5 opened") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestOpenCommandRequiresServer(t *testing.T) {
	t.Setenv("BARRIER_GATE_SERVER", "")
	if _, _, err := execute(t, "", "open", "--id", "1"); err == nil {
		t.Fatal("expected error without server")
	}
}

const gatesYAML = `
groups:
  staff: [Gate]
  security: [Barrier, Gate, Missing]
gates:
  Gate:
    id: 1
  Barrier:
    id: 7
    description: rear entrance
    retries: 3
`

func TestGatesCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "barrier.yaml")
	if err := os.WriteFile(path, []byte(gatesYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, errOut, err := execute(t, "", "gates", "--config", path)
	if err != nil {
		t.Fatalf("gates: %v", err)
	}
	want := "Barrier\tid=7\tretries=3\trear entrance\nGate\tid=1\tretries=1\t\n"
	if out != want {
		t.Fatalf("gates output = %q, want %q", out, want)
	}
	if !strings.Contains(errOut, "security/Missing") {
		t.Fatalf("expected undefined gate warning, got %q", errOut)
	}

	out, _, err = execute(t, "", "gates", "--config", path, "--groups", "staff")
	if err != nil {
		t.Fatalf("gates --groups: %v", err)
	}
	if out != "Gate\tid=1\tretries=1\t\n" {
		t.Fatalf("resolved output = %q", out)
	}
}

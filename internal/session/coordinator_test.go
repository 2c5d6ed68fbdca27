package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"barrier.org/internal/audit"
	"barrier.org/internal/auth"
	"barrier.org/internal/directory"
	"barrier.org/internal/gatectl"
	"barrier.org/internal/gates"
	"barrier.org/internal/store/memory"
)

type account struct {
	password string
	groups   []string
}

type fakeDirectory struct {
	mu    sync.Mutex
	users map[string]account
	err   error
}

func (d *fakeDirectory) Authenticate(_ context.Context, username, password string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	acc, ok := d.users[username]
	if !ok || acc.password != password {
		return nil, directory.ErrInvalidCredentials
	}
	return append([]string(nil), acc.groups...), nil
}

func (d *fakeDirectory) setGroups(username string, groups []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acc := d.users[username]
	acc.groups = groups
	d.users[username] = acc
}

type call struct{ id, attempts int }

type fakeActuator struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (a *fakeActuator) Actuate(_ context.Context, id, attempts int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call{id, attempts})
	return a.err
}

func (a *fakeActuator) Calls() []call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]call(nil), a.calls...)
}

type fixture struct {
	coord    *Coordinator
	dir      *fakeDirectory
	actuator *fakeActuator
	store    *memory.RefreshStore
	tokens   *auth.TokenService
	audit    *audit.Recorder
}

var meta = Meta{IP: "10.1.2.3"}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := &fakeDirectory{users: map[string]account{
		"alice": {password: "pw", groups: []string{"G1"}},
		"bob":   {password: "pw", groups: []string{"G1", "G2", "unknown"}},
	}}
	mapper := gates.NewMapper(
		map[string][]string{"G1": {"Gate"}, "G2": {"Barrier", "Gate"}},
		map[string]gates.Definition{
			"Gate":    {ID: 1},
			"Barrier": {ID: 7, Description: "rear", Retries: 3},
		},
	)
	tokens, err := auth.NewTokenService([]byte("k1"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	f := &fixture{
		dir:      dir,
		actuator: &fakeActuator{},
		store:    memory.NewRefreshStore(),
		tokens:   tokens,
		audit:    &audit.Recorder{},
	}
	f.coord, err = New(Deps{
		Directory: dir,
		Mapper:    mapper,
		Tokens:    tokens,
		Refresh:   f.store,
		Actuator:  f.actuator,
		Audit:     f.audit,
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func (f *fixture) login(t *testing.T, user string) (Tokens, *auth.Claims) {
	t.Helper()
	toks, err := f.coord.Login(context.Background(), meta, user, "pw")
	if err != nil {
		t.Fatalf("Login(%s): %v", user, err)
	}
	claims, err := f.coord.Verify(toks.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	return toks, claims
}

func TestLoginEmbedsResolvedGates(t *testing.T) {
	f := newFixture(t)
	_, claims := f.login(t, "alice")

	want := gates.Set{{ID: 1, Name: "Gate", Description: "", Retries: 1}}
	if !reflect.DeepEqual(claims.Gates, want) {
		t.Fatalf("gates = %+v, want %+v", claims.Gates, want)
	}
	if claims.Username != "alice" {
		t.Fatalf("unexpected username %q", claims.Username)
	}

	_, claims = f.login(t, "bob")
	if got := claims.Gates.Names(); !reflect.DeepEqual(got, []string{"Barrier", "Gate"}) {
		t.Fatalf("bob gates = %v", got)
	}

	events := f.audit.Events()
	if len(events) != 2 || events[0].Kind != audit.LoginSuccess || events[0].IP != "10.1.2.3" || events[0].SessionID == "" {
		t.Fatalf("unexpected audit trail: %+v", events)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Login(context.Background(), Meta{}, "alice", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	events := f.audit.Events()
	if len(events) != 1 || events[0].Kind != audit.LoginFailure || events[0].SessionID != "" || events[0].IP != unknownIP {
		t.Fatalf("unexpected audit trail: %+v", events)
	}
	if f.store.Len() != 0 {
		t.Fatal("failed login must not store a refresh token")
	}
}

func TestLoginDirectoryUnavailable(t *testing.T) {
	f := newFixture(t)
	outage := errors.New("ldap dial: connection refused")
	f.dir.err = outage

	_, err := f.coord.Login(context.Background(), meta, "alice", "pw")
	if errors.Is(err, ErrInvalidCredentials) || !errors.Is(err, outage) {
		t.Fatalf("directory outage must surface as a wrapped error, got %v", err)
	}
}

func TestRefreshIsSingleUse(t *testing.T) {
	f := newFixture(t)
	first, _ := f.login(t, "alice")
	ctx := context.Background()

	second, err := f.coord.Refresh(ctx, meta, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh must rotate the refresh token")
	}
	if _, err := f.coord.Refresh(ctx, meta, first.RefreshToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reused refresh token must fail with ErrNotFound, got %v", err)
	}
	if _, err := f.coord.Refresh(ctx, meta, second.RefreshToken); err != nil {
		t.Fatalf("rotated refresh token must work: %v", err)
	}

	kinds := f.audit.Kinds()
	want := []audit.Kind{audit.LoginSuccess, audit.RefreshSuccess, audit.RefreshFailure, audit.RefreshSuccess}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("audit kinds = %v, want %v", kinds, want)
	}
	failed := f.audit.Events()[2]
	if failed.SessionID != Fingerprint(first.RefreshToken) || failed.SessionID == first.RefreshToken {
		t.Fatalf("failed refresh must be tagged with a fingerprint, got %q", failed.SessionID)
	}
}

func TestRefreshKeepsFrozenGates(t *testing.T) {
	f := newFixture(t)
	toks, _ := f.login(t, "alice")

	f.dir.setGroups("alice", []string{"G2"})
	next, err := f.coord.Refresh(context.Background(), meta, toks.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	claims, err := f.coord.Verify(next.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got := claims.Gates.Names(); !reflect.DeepEqual(got, []string{"Gate"}) {
		t.Fatalf("refresh must reuse the set frozen at login, got %v", got)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	f := newFixture(t)
	toks, _ := f.login(t, "alice")

	const workers = 16
	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		notFound atomic.Int32
		start    = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.coord.Refresh(context.Background(), meta, toks.RefreshToken)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrNotFound):
				notFound.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || notFound.Load() != workers-1 {
		t.Fatalf("wins=%d notFound=%d", wins.Load(), notFound.Load())
	}
}

func TestConcurrentLoginsAreIndependent(t *testing.T) {
	f := newFixture(t)
	results := make([]Tokens, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			toks, err := f.coord.Login(context.Background(), meta, "alice", "pw")
			if err != nil {
				t.Errorf("Login: %v", err)
				return
			}
			results[i] = toks
		}(i)
	}
	wg.Wait()

	if results[0].RefreshToken == results[1].RefreshToken {
		t.Fatal("concurrent logins must yield distinct refresh tokens")
	}
	for _, toks := range results {
		if _, err := f.coord.Refresh(context.Background(), meta, toks.RefreshToken); err != nil {
			t.Fatalf("each refresh token must be usable: %v", err)
		}
	}
}

func TestLogoutInvalidatesAllRefreshTokens(t *testing.T) {
	f := newFixture(t)
	a, claims := f.login(t, "alice")
	b, _ := f.login(t, "alice")
	other, _ := f.login(t, "bob")

	if err := f.coord.Logout(context.Background(), claims); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	for _, tok := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := f.coord.Refresh(context.Background(), meta, tok); !errors.Is(err, ErrNotFound) {
			t.Fatalf("refresh after logout must fail, got %v", err)
		}
	}
	if _, err := f.coord.Refresh(context.Background(), meta, other.RefreshToken); err != nil {
		t.Fatalf("other users are unaffected: %v", err)
	}
	if _, err := f.coord.Verify(a.AccessToken); err != nil {
		t.Fatalf("access token stays valid until expiry: %v", err)
	}
	if err := f.coord.Logout(context.Background(), claims); err != nil {
		t.Fatalf("repeated logout must succeed: %v", err)
	}
}

func TestOpenGate(t *testing.T) {
	f := newFixture(t)
	_, claims := f.login(t, "bob")

	ok, err := f.coord.OpenGate(context.Background(), meta, claims, "Barrier")
	if err != nil || !ok {
		t.Fatalf("OpenGate = %v, %v", ok, err)
	}
	if got := f.actuator.Calls(); !reflect.DeepEqual(got, []call{{id: 7, attempts: 3}}) {
		t.Fatalf("unexpected actuator calls %+v", got)
	}
	last := f.audit.Events()[len(f.audit.Events())-1]
	if last.Kind != audit.GateAccess || last.Gate != "Barrier" || last.SessionID != claims.SessionID {
		t.Fatalf("unexpected audit event %+v", last)
	}
}

func TestOpenGateNotAuthorized(t *testing.T) {
	f := newFixture(t)
	_, claims := f.login(t, "alice")

	for _, name := range []string{"Barrier", "gate", ""} {
		ok, err := f.coord.OpenGate(context.Background(), meta, claims, name)
		if ok || !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("OpenGate(%q) = %v, %v; want ErrUnauthorized", name, ok, err)
		}
	}
	if len(f.actuator.Calls()) != 0 {
		t.Fatal("actuator must not be called for unauthorized gates")
	}
	last := f.audit.Events()[len(f.audit.Events())-1]
	if last.Kind != audit.GateUnauthorized {
		t.Fatalf("unexpected audit kind %v", last.Kind)
	}
}

func TestOpenGateActuationFailure(t *testing.T) {
	f := newFixture(t)
	f.actuator.err = gatectl.ErrActuationFailed
	_, claims := f.login(t, "alice")

	ok, err := f.coord.OpenGate(context.Background(), meta, claims, "Gate")
	if err != nil || ok {
		t.Fatalf("failed actuation must report false without error, got %v, %v", ok, err)
	}
	last := f.audit.Events()[len(f.audit.Events())-1]
	if last.Kind != audit.GateAccess {
		t.Fatalf("attempted access is audited as gate access, got %v", last.Kind)
	}
}

func TestOpenGateDryRun(t *testing.T) {
	f := newFixture(t, WithDryRun(true))
	_, claims := f.login(t, "alice")

	ok, err := f.coord.OpenGate(context.Background(), meta, claims, "Gate")
	if err != nil || !ok {
		t.Fatalf("dry run open = %v, %v", ok, err)
	}
	if len(f.actuator.Calls()) != 0 {
		t.Fatal("dry run must not reach the controller")
	}
}

func TestAuditFailureDoesNotChangeResult(t *testing.T) {
	f := newFixture(t)
	f.audit.FailWith(errors.New("disk full"))

	toks, claims := f.login(t, "alice")
	if toks.AccessToken == "" {
		t.Fatal("login must succeed despite audit failure")
	}
	if ok, err := f.coord.OpenGate(context.Background(), meta, claims, "Gate"); err != nil || !ok {
		t.Fatalf("OpenGate = %v, %v", ok, err)
	}
}

func TestAccessTokenLifetime(t *testing.T) {
	f := newFixture(t, WithAccessTTL(time.Minute))
	_, claims := f.login(t, "alice")
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Minute {
		t.Fatalf("access token lifetime = %v, want 1m", got)
	}
}

func TestGates(t *testing.T) {
	f := newFixture(t)
	_, claims := f.login(t, "bob")
	if got := f.coord.Gates(claims).Names(); !reflect.DeepEqual(got, []string{"Barrier", "Gate"}) {
		t.Fatalf("Gates = %v", got)
	}
	if got := f.coord.Gates(nil); got == nil || len(got) != 0 {
		t.Fatalf("nil claims must yield an empty set, got %v", got)
	}
}

func TestNewRequiresActuatorUnlessDryRun(t *testing.T) {
	tokens, _ := auth.NewTokenService([]byte("k"))
	deps := Deps{
		Directory: &fakeDirectory{},
		Mapper:    gates.NewMapper(nil, nil),
		Tokens:    tokens,
		Refresh:   memory.NewRefreshStore(),
	}
	if _, err := New(deps); err == nil {
		t.Fatal("expected error without actuator")
	}
	if _, err := New(deps, WithDryRun(true)); err != nil {
		t.Fatalf("dry run needs no actuator: %v", err)
	}
}

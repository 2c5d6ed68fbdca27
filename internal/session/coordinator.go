package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"barrier.org/internal/audit"
	"barrier.org/internal/auth"
	"barrier.org/internal/directory"
	"barrier.org/internal/gates"
	"barrier.org/internal/ids"
	"barrier.org/internal/obs"
)

const unknownIP = "0.0.0.0"

// Tokens is the credential pair handed to a client.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Meta carries per-request facts recorded in the audit trail.
type Meta struct {
	IP string
}

// Resolver maps directory groups to an authorization set.
type Resolver interface {
	Resolve(groups []string) gates.Set
}

// Actuator opens a physical gate.
type Actuator interface {
	Actuate(ctx context.Context, controllerID, attempts int) error
}

// Deps are the collaborators a Coordinator needs. Audit may be nil.
type Deps struct {
	Directory directory.Directory
	Mapper    Resolver
	Tokens    *auth.TokenService
	Refresh   auth.RefreshStore
	Actuator  Actuator
	Audit     audit.Sink
}

// Coordinator drives login, refresh rotation, logout and gate opening.
type Coordinator struct {
	dir       directory.Directory
	mapper    Resolver
	tokens    *auth.TokenService
	refresh   auth.RefreshStore
	actuator  Actuator
	sink      audit.Sink
	dryRun    bool
	accessTTL time.Duration
	now       func() time.Time
}

// Option configures Coordinator behavior.
type Option func(*Coordinator)

// WithDryRun skips the controller call and reports every open as successful.
func WithDryRun(on bool) Option {
	return func(c *Coordinator) { c.dryRun = on }
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.accessTTL = ttl
		}
	}
}

// WithClock overrides time source used for audit timestamps.
func WithClock(fn func() time.Time) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.now = fn
		}
	}
}

func New(deps Deps, opts ...Option) (*Coordinator, error) {
	switch {
	case deps.Directory == nil:
		return nil, errors.New("session: directory is required")
	case deps.Mapper == nil:
		return nil, errors.New("session: gate mapper is required")
	case deps.Tokens == nil:
		return nil, errors.New("session: token service is required")
	case deps.Refresh == nil:
		return nil, errors.New("session: refresh store is required")
	}
	c := &Coordinator{
		dir:      deps.Directory,
		mapper:   deps.Mapper,
		tokens:   deps.Tokens,
		refresh:  deps.Refresh,
		actuator: deps.Actuator,
		sink:     deps.Audit,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.actuator == nil && !c.dryRun {
		return nil, errors.New("session: actuator is required unless dry run is enabled")
	}
	return c, nil
}

// DryRun reports whether gate opening is emulated.
func (c *Coordinator) DryRun() bool { return c.dryRun }

// Verify validates an access token and returns its claims.
func (c *Coordinator) Verify(token string) (*auth.Claims, error) {
	return c.tokens.Verify(token)
}

func (c *Coordinator) Login(ctx context.Context, meta Meta, username, password string) (Tokens, error) {
	username = strings.TrimSpace(username)
	groups, err := c.dir.Authenticate(ctx, username, password)
	if err != nil {
		c.record(ctx, meta, audit.Event{Kind: audit.LoginFailure, Username: username})
		if errors.Is(err, directory.ErrInvalidCredentials) {
			return Tokens{}, ErrInvalidCredentials
		}
		return Tokens{}, fmt.Errorf("directory: %w", err)
	}

	set := c.mapper.Resolve(groups)
	issued, err := c.issue(ctx, username, set)
	if err != nil {
		return Tokens{}, err
	}
	c.record(ctx, meta, audit.Event{Kind: audit.LoginSuccess, Username: username, SessionID: issued.SessionID})
	obs.Info("user logged in", map[string]any{"username": username, "gates": set.Names()})
	return Tokens{AccessToken: issued.AccessToken, RefreshToken: issued.RefreshToken}, nil
}

// Refresh consumes refreshToken and returns a new pair carrying the gate set
// frozen in the consumed record.
func (c *Coordinator) Refresh(ctx context.Context, meta Meta, refreshToken string) (Tokens, error) {
	rec, err := c.refresh.Take(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			c.record(ctx, meta, audit.Event{Kind: audit.RefreshFailure, SessionID: Fingerprint(refreshToken)})
			return Tokens{}, ErrNotFound
		}
		return Tokens{}, fmt.Errorf("refresh store: %w", err)
	}

	issued, err := c.issue(ctx, rec.Username, rec.Gates)
	if err != nil {
		return Tokens{}, err
	}
	c.record(ctx, meta, audit.Event{Kind: audit.RefreshSuccess, Username: rec.Username, SessionID: issued.SessionID})
	return Tokens{AccessToken: issued.AccessToken, RefreshToken: issued.RefreshToken}, nil
}

// Logout drops every refresh token of the caller. Access tokens already
// issued stay valid until they expire.
func (c *Coordinator) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if err := c.refresh.DeleteUser(ctx, claims.Username); err != nil {
		return fmt.Errorf("refresh store: %w", err)
	}
	obs.Info("user logged out", map[string]any{"username": claims.Username, "session_id": claims.SessionID})
	return nil
}

// Gates returns the authorization set embedded in claims.
func (c *Coordinator) Gates(claims *auth.Claims) gates.Set {
	if claims == nil || claims.Gates == nil {
		return gates.Set{}
	}
	return claims.Gates
}

// OpenGate opens the named gate if claims authorize it. A failed actuation is
// reported as false, not as an error.
func (c *Coordinator) OpenGate(ctx context.Context, meta Meta, claims *auth.Claims, name string) (bool, error) {
	if claims == nil {
		return false, ErrUnauthorized
	}
	gate, ok := claims.Gates.Find(name)
	if !ok {
		c.record(ctx, meta, audit.Event{
			Kind:      audit.GateUnauthorized,
			Username:  claims.Username,
			SessionID: claims.SessionID,
			Gate:      name,
		})
		return false, ErrUnauthorized
	}

	success := true
	if c.dryRun {
		obs.Info("emulate open gate", map[string]any{"gate": gate.Name, "controller_id": gate.ID})
		obs.RecordGateActuation("dry_run")
	} else {
		if err := c.actuator.Actuate(ctx, gate.ID, gate.Retries); err != nil {
			success = false
			obs.RecordGateActuation("failed")
		} else {
			obs.RecordGateActuation("ok")
		}
	}

	c.record(ctx, meta, audit.Event{
		Kind:      audit.GateAccess,
		Username:  claims.Username,
		SessionID: claims.SessionID,
		Gate:      gate.Name,
	})
	return success, nil
}

func (c *Coordinator) issue(ctx context.Context, username string, set gates.Set) (auth.Issued, error) {
	issued, err := c.tokens.Issue(username, set, c.accessTTL)
	if err != nil {
		return auth.Issued{}, fmt.Errorf("issue tokens: %w", err)
	}
	rec := &auth.RefreshRecord{Username: username, Token: issued.RefreshToken, Gates: set}
	if err := c.refresh.Put(ctx, rec); err != nil {
		return auth.Issued{}, fmt.Errorf("refresh store: %w", err)
	}
	return issued, nil
}

// record stamps and forwards e. Sink failures are logged only.
func (c *Coordinator) record(ctx context.Context, meta Meta, e audit.Event) {
	obs.RecordAuthEvent(string(e.Kind))
	if c.sink == nil {
		return
	}
	now := c.now()
	e.ID = ids.NewAt(now)
	e.OccurredAt = now
	e.IP = strings.TrimSpace(meta.IP)
	if e.IP == "" {
		e.IP = unknownIP
	}
	if err := c.sink.Record(ctx, e); err != nil {
		obs.Warn("audit record failed", map[string]any{"kind": string(e.Kind), "error": err})
	}
}

// Fingerprint returns a short, non-reversible tag for a presented secret so
// failed attempts can be correlated without storing the value.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}

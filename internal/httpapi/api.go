package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"barrier.org/internal/auth"
	"barrier.org/internal/gates"
	"barrier.org/internal/obs"
	"barrier.org/internal/session"
)

const serviceName = "barrier"

// Pinger is anything /readyz can probe, such as the refresh token backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks every configured dependency.
type ReadyProbe struct {
	Deps []Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	for _, d := range rp.Deps {
		if d == nil {
			continue
		}
		if err := d.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Sessions is the part of the coordinator the HTTP layer drives.
type Sessions interface {
	Login(ctx context.Context, meta session.Meta, username, password string) (session.Tokens, error)
	Refresh(ctx context.Context, meta session.Meta, refreshToken string) (session.Tokens, error)
	Logout(ctx context.Context, claims *auth.Claims) error
	Gates(claims *auth.Claims) gates.Set
	OpenGate(ctx context.Context, meta session.Meta, claims *auth.Claims, name string) (bool, error)
	Verify(token string) (*auth.Claims, error)
}

var _ Sessions = (*session.Coordinator)(nil)

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	sessions   Sessions
	readyProbe readinessChecker
	version    string

	rateBurst      int
	ratePerSec     float64
	trustForwarded bool
	maxBody        int64
}

// Option configures API behavior.
type Option func(*API)

// WithRateLimit sets the per-client limit applied to /auth/ routes.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec = perSecond
			a.rateBurst = burst
		}
	}
}

// WithTrustForwardedFor keys the rate limit on the first X-Forwarded-For hop.
// Enable only behind a proxy that sets the header.
func WithTrustForwardedFor(on bool) Option {
	return func(a *API) { a.trustForwarded = on }
}

func New(sessions Sessions, rp readinessChecker, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		sessions:   sessions,
		readyProbe: rp,
		version:    version,
		rateBurst:  20,
		ratePerSec: 10,
		maxBody:    64 << 10,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}

	// health/ready
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	authRoutes := http.NewServeMux()
	authRoutes.HandleFunc("/auth/login", a.handleLogin)
	authRoutes.HandleFunc("/auth/refresh", a.handleRefresh)
	authRoutes.HandleFunc("/auth/logout", a.handleLogout)
	authRoutes.HandleFunc("/auth/", notFound)
	limitKey := peerIP
	if a.trustForwarded {
		limitKey = clientIP
	}
	a.mux.Handle("/auth/", RateLimit(authRoutes, a.rateBurst, a.ratePerSec, limitKey))

	a.mux.HandleFunc("/gates/list", a.handleGateList)
	a.mux.HandleFunc("/gates/open/", a.handleGateOpen)

	a.mux.HandleFunc("/", notFound)

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = obs.Instrument(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "Not Found")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

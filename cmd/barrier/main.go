package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"barrier.org/internal/audit"
	"barrier.org/internal/auth"
	"barrier.org/internal/config"
	"barrier.org/internal/gatectl"
	"barrier.org/internal/gates"
	"barrier.org/internal/httpapi"
	"barrier.org/internal/obs"
	"barrier.org/internal/session"
	"barrier.org/internal/store/memory"
	"barrier.org/internal/store/pg"
	"barrier.org/internal/store/redisstore"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const (
	purgeInterval    = 10 * time.Minute
	baseWriteTimeout = 15 * time.Second
)

// purger is implemented by stores that keep expired refresh records around.
type purger interface {
	Purge(ctx context.Context) (int64, error)
}

type backend struct {
	refresh auth.RefreshStore
	pinger  httpapi.Pinger
	audit   audit.Sink
	close   func() error
}

func main() {
	configPath := pflag.String("config", "", "path to YAML configuration (default $BARRIER_CONFIG)")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		log.SetFlags(0)
		log.Printf("barrier %s (%s)", version, commit)
		return
	}
	if err := run(*configPath); err != nil {
		obs.Error("barrier stopped", map[string]any{"error": err})
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.Level())
	obs.Init()
	obs.InitBuildInfo(version, commit, cfg.DryRun)

	for _, ref := range cfg.UnknownGateRefs() {
		obs.Warn("group references undefined gate", map[string]any{"ref": ref})
	}

	dir, err := cfg.NewDirectory()
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService([]byte(cfg.JWTKey), auth.WithAccessTTL(cfg.AccessTTL))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = be.close() }()

	mapper := cfg.Mapper()
	deps := session.Deps{
		Directory: dir,
		Mapper:    mapper,
		Tokens:    tokens,
		Refresh:   be.refresh,
		Audit:     be.audit,
	}
	var act *gatectl.Actuator
	if !cfg.DryRun {
		act = gatectl.New(cfg.GateServer)
		deps.Actuator = act
	}
	coord, err := session.New(deps, session.WithDryRun(cfg.DryRun), session.WithAccessTTL(cfg.AccessTTL))
	if err != nil {
		return err
	}
	if cfg.DryRun {
		obs.Warn("dry run enabled, gate controller will not be called", nil)
	}

	probe := httpapi.ReadyProbe{Deps: []httpapi.Pinger{be.pinger}}
	api := httpapi.New(coord, probe, version,
		httpapi.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		httpapi.WithTrustForwardedFor(cfg.RateLimit.TrustForwardedFor),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      writeTimeout(act, mapper.Gates()),
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		obs.Info("http listening", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var gs *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		gs = grpc.NewServer()
		health := httpapi.NewGRPCHealth(probe)
		health.Register(gs)
		go health.Run(ctx, 10*time.Second)
		go func() {
			obs.Info("grpc health listening", map[string]any{"addr": cfg.GRPCAddr})
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- err
			}
		}()
	}

	if p, ok := be.refresh.(purger); ok {
		go purgeLoop(ctx, p)
	}

	select {
	case <-ctx.Done():
		obs.Info("shutting down", nil)
	case err := <-errc:
		stop()
		obs.Error("listener failed", map[string]any{"error": err})
		shutdown(srv, gs)
		return err
	}
	shutdown(srv, gs)
	return nil
}

// writeTimeout leaves room for the longest open sequence any gate can run.
func writeTimeout(act *gatectl.Actuator, set gates.Set) time.Duration {
	wt := baseWriteTimeout
	if act == nil {
		return wt
	}
	for _, g := range set {
		if d := act.SequenceTimeout(g.Retries) + baseWriteTimeout; d > wt {
			wt = d
		}
	}
	return wt
}

func shutdown(srv *http.Server, gs *grpc.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if gs != nil {
		gs.GracefulStop()
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	logSink := audit.LogSink{}
	switch cfg.Store.Backend {
	case config.StorePostgres:
		st, err := pg.Open(cfg.Store.PostgresDSN, pg.WithRefreshTTL(cfg.Store.RefreshTTL))
		if err != nil {
			return nil, err
		}
		return &backend{
			refresh: st,
			pinger:  st,
			audit:   audit.Multi{logSink, st},
			close:   st.Close,
		}, nil
	case config.StoreRedis:
		st, client, err := redisstore.Dial(ctx, cfg.Store.RedisAddr, redisstore.WithTTL(cfg.Store.RefreshTTL))
		if err != nil {
			return nil, err
		}
		return &backend{refresh: st, pinger: st, audit: logSink, close: client.Close}, nil
	default:
		st := memory.NewRefreshStore(memory.WithTTL(cfg.Store.RefreshTTL))
		return &backend{refresh: st, pinger: st, audit: logSink, close: func() error { return nil }}, nil
	}
}

func purgeLoop(ctx context.Context, p purger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Purge(ctx)
			if err != nil {
				obs.Warn("refresh purge failed", map[string]any{"error": err})
				continue
			}
			if n > 0 {
				obs.Debug("expired refresh records purged", map[string]any{"count": n})
			}
		}
	}
}

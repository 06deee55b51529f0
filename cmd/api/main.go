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

	"github.com/redis/go-redis/v9"

	"dmh.org/accounts/internal/auth"
	"dmh.org/accounts/internal/config"
	"dmh.org/accounts/internal/httpapi"
	"dmh.org/accounts/internal/ledger"
	"dmh.org/accounts/internal/obs"
	"dmh.org/accounts/internal/store/pg"
	"dmh.org/accounts/internal/store/sqlite"
	"dmh.org/accounts/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit, cfg.Store)

	ctx := context.Background()
	store, ready, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()

	events := stream.New(32)
	svc := ledger.NewService(store,
		ledger.WithMaxAttempts(cfg.ProvisionAttempts),
		ledger.WithPublisher(events),
	)

	var verifier *auth.Verifier
	if cfg.AuthSecret != "" {
		verifier, err = auth.NewVerifier(cfg.AuthSecret, cfg.AuthIssuer)
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
	}

	var limiter httpapi.Limiter = httpapi.NewLocalLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter = &httpapi.RedisLimiter{
			Redis:      rdb,
			Prefix:     "accounts:rl",
			Capacity:   cfg.RateLimitBurst,
			RefillRate: cfg.RateLimitRPS,
		}
	}

	api := httpapi.New(svc, httpapi.Options{
		Version:         version,
		Storage:         cfg.Store,
		Ready:           ready,
		Events:          events,
		Verifier:        verifier,
		TrustUserHeader: cfg.TrustUserHeader,
		Limiter:         limiter,
		CORSOrigins:     cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Log("info", "starting", map[string]any{
		"version": version,
		"http":    cfg.HTTPAddr,
		"grpc":    cfg.GRPCAddr,
		"store":   cfg.Store,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	grpcSrv := httpapi.NewGRPCServer(ready)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				obs.Log("error", "grpc server stopped", map[string]any{"error": err.Error()})
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Log("info", "shutting down", nil)
	obs.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	obs.Log("info", "stopped", nil)
}

// openStore returns the configured ledger store, the probe backing /readyz
// and a close function.
func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, httpapi.Readiness, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		s, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, httpapi.ReadyProbe{Store: s}, func() { _ = s.Close() }, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, httpapi.ReadyProbe{Store: s}, func() { _ = s.Close() }, nil
	default:
		return ledger.NewInMemory(), httpapi.ReadyProbe{}, func() {}, nil
	}
}

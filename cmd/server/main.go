package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"lototet/internal/cache"
	"lototet/internal/config"
	"lototet/internal/service"
	"lototet/internal/transport/rest"
	"lototet/internal/transport/ws"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("relay stopped", zap.Error(err))
	}
	logger.Info("server exited")
}

func run(cfg *config.Server, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	leases, closeLeases, err := newPeerCache(ctx, cfg.RedisURI, logger)
	if err != nil {
		return err
	}
	defer closeLeases()

	secret := cfg.JWTSecret
	if secret == "" {
		secret = randomSecret()
		logger.Warn("LOTO_JWT_SECRET not set, leases will not survive a restart")
	}
	leaseSvc := service.NewLeaseService(secret)

	hub := ws.NewHub(leases, leaseSvc, cfg.LeaseGrace, logger)

	router := rest.NewRouter(&rest.Container{
		LeaseService: leaseSvc,
		Leases:       leases,
		Hub:          hub,
		PublicURL:    cfg.PublicURL,
		CORSOrigins:  cfg.CORSOrigins,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		logger.Info("relay listening",
			zap.String("addr", cfg.Addr),
			zap.String("public_url", cfg.PublicURL),
			zap.Duration("lease_grace", cfg.LeaseGrace))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newPeerCache uses redis when a URI is configured so several relay
// instances share one identity namespace.
func newPeerCache(ctx context.Context, uri string, logger *zap.Logger) (cache.PeerCache, func(), error) {
	if uri == "" {
		logger.Info("using in-memory lease cache")
		return cache.NewMemoryPeerCache(), func() {}, nil
	}

	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("redis uri: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", opts.Addr))
	return cache.NewPeerCache(rdb), func() { rdb.Close() }, nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

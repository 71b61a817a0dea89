package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrowflow/api"
	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/job"
	"escrowflow/marketplace"
	"escrowflow/outbox"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := config.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("escrowflow stopped")
	}
	log.Info("escrowflow stopped")
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	engine, err := marketplace.New(marketplace.Deps{Pool: pool, Logger: log}, marketplace.Options{
		Limits: jobLimits(cfg.Escrow),
	})
	if err != nil {
		return err
	}
	if err := engine.Bootstrap(ctx, cfg.Admins); err != nil {
		return fmt.Errorf("bootstrap admins: %w", err)
	}

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWT.Secret, cfg.JWT.TTL)
	server := api.NewServer(engine, authService, log, api.Options{
		AllowOrigins:   cfg.HTTP.AllowOrigins,
		RequestTimeout: cfg.HTTP.WriteTimeout,
	})
	httpServer := newHTTPServer(cfg.HTTP, server.Routes())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(gctx, httpServer, log) })

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: ping: %w", err)
		}
		relay := outbox.NewRelay(pool, nil, outbox.NewRedisPublisher(client, cfg.Outbox.QueuePrefix), log, outbox.RelayConfig{
			Interval:    cfg.Outbox.Interval,
			BatchSize:   cfg.Outbox.BatchSize,
			MaxAttempts: cfg.Outbox.MaxAttempts,
		})
		g.Go(func() error { return relay.Run(gctx) })
		log.WithField("redis", cfg.Redis.Addr).Info("outbox relay started")
	} else {
		log.Warn("redis disabled; outbox messages stay pending")
	}

	return g.Wait()
}

func newHTTPServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       2 * cfg.ReadTimeout,
	}
}

// serve runs srv until ctx is cancelled, then drains it within shutdownGrace.
func serve(ctx context.Context, srv *http.Server, log logrus.FieldLogger) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http: shutdown: %w", err)
	}
	return <-errCh
}

func jobLimits(cfg config.EscrowConfig) job.Limits {
	return job.Limits{MinBudget: cfg.MinBudget, MaxDuration: cfg.MaxDuration}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/broadcast-engine/internal/config"
	"github.com/ignite/broadcast-engine/internal/domain"
	"github.com/ignite/broadcast-engine/internal/media"
	"github.com/ignite/broadcast-engine/internal/pkg/distlock"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/pkg/redisclient"
	"github.com/ignite/broadcast-engine/internal/ratelimit"
	"github.com/ignite/broadcast-engine/internal/repository/postgres"
	"github.com/ignite/broadcast-engine/internal/telegram"
	"github.com/ignite/broadcast-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console, RedactPII: cfg.Logging.RedactPII})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("worker exited", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := redisclient.Open(ctx, cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, falling back to PG advisory locks", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var resolver media.Resolver = media.Passthrough{}
	if cfg.Media.Enabled {
		s3r, err := media.NewS3Resolver(ctx, cfg.Media)
		if err != nil {
			return fmt.Errorf("media resolver: %w", err)
		}
		resolver = s3r
	}

	senders := telegram.NewFactory(postgres.NewTenantRepo(db), cfg.Telegram, log)
	queue := postgres.NewQueueRepo(db)
	dispatcher := worker.NewDispatcher(
		postgres.NewCampaignRepo(db),
		postgres.NewLedgerRepo(db),
		postgres.NewContactRepo(db),
		senders,
		resolver,
		log,
	)

	queues := []struct {
		queue domain.QueueType
		cfg   config.QueueConfig
	}{
		{domain.QueueShots, cfg.Worker.Shots},
		{domain.QueueDownsells, cfg.Worker.Downsells},
	}

	g, gctx := errgroup.WithContext(ctx)
	started := 0
	for _, q := range queues {
		if !q.cfg.Enabled {
			log.Info("queue loop disabled", "queue", string(q.queue))
			continue
		}
		pacer := worker.NewPacer(q.queue, q.cfg.Concurrency, q.cfg.RatePerSecond, tenantGuard(redisClient, q.cfg), log)
		lock := distlock.NewQueueLock(redisClient, db, cfg.Worker.LockScope, string(q.queue), cfg.Worker.LockTTL())
		loop := worker.NewLoop(worker.LoopConfigFrom(q.queue, q.cfg), queue, dispatcher, pacer, lock, log)
		g.Go(func() error { return loop.Run(gctx) })
		started++
	}
	if started == 0 {
		return errors.New("no queue loop enabled")
	}

	metricsSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics listener", "error", err)
		}
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify ready", "error", err)
	} else if ok {
		log.Debug("systemd notified ready")
	}
	log.Info("worker running", "loops", started, "metrics_addr", cfg.Server.MetricsAddr)

	<-gctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down worker")

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	return err
}

// tenantGuard returns the cross-process per-bot limiter, or nil when Redis
// is off or no tenant rate is configured.
func tenantGuard(client *redis.Client, q config.QueueConfig) *ratelimit.Limiter {
	if client == nil || q.TenantRatePerSecond <= 0 {
		return nil
	}
	return ratelimit.New(client, ratelimit.Limits{PerSecond: q.TenantRatePerSecond})
}

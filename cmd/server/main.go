package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/broadcast-engine/internal/api"
	"github.com/ignite/broadcast-engine/internal/audience"
	"github.com/ignite/broadcast-engine/internal/config"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/pkg/redisclient"
	"github.com/ignite/broadcast-engine/internal/repository/postgres"
	"github.com/ignite/broadcast-engine/internal/scheduler"
	"github.com/ignite/broadcast-engine/internal/service/broadcast"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := redisclient.Open(ctx, cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, health will report degraded", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	campaigns := postgres.NewCampaignRepo(db)
	queue := postgres.NewQueueRepo(db)
	ledger := postgres.NewLedgerRepo(db)
	enqueuer := broadcast.NewEnqueuer(campaigns, audience.NewSelector(db), queue, ledger, log)
	svc := broadcast.NewService(campaigns, queue, enqueuer, log)

	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if auth == nil {
		log.Warn("JWT secret not set, Trigger API is unauthenticated")
	}
	router := api.NewRouter(api.NewHandlers(svc, campaigns, log), api.RouterConfig{
		Auth:   auth,
		Health: api.NewHealthChecker(db, redisClient),
		Log:    log,
	})
	server := api.NewServer(cfg.Server, router)

	var promoter *scheduler.Promoter
	if cfg.Scheduler.Enabled {
		promoter = scheduler.NewPromoter(svc, cfg.Scheduler.Spec, log)
		if err := promoter.Start(ctx); err != nil {
			log.Error("start promoter", "error", err)
			os.Exit(1)
		}
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
		log.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	log.Info("shutting down")

	if promoter != nil {
		promoter.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}
	log.Info("server stopped")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ignite/broadcast-engine/internal/config"
	"github.com/ignite/broadcast-engine/internal/pkg/logger"
	"github.com/ignite/broadcast-engine/internal/repository/postgres"
	"github.com/ignite/broadcast-engine/migrations"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	listOnly := flag.Bool("list", false, "list embedded migrations and exit")
	flag.Parse()

	if *listOnly {
		names, err := migrations.Names()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, n := range names {
			fmt.Println(" ", n)
		}
		fmt.Printf("Total: %d migrations\n", len(names))
		return
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console, RedactPII: cfg.Logging.RedactPII})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	applied, err := migrations.Apply(ctx, db, log)
	if err != nil {
		log.Error("migrations failed", "error", err, "applied", len(applied))
		os.Exit(1)
	}
	log.Info("migrations complete", "applied", len(applied))
}

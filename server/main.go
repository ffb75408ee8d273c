package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/api"
	"github.com/meikuraledutech/blockflow/config"
	"github.com/meikuraledutech/blockflow/memory"
	"github.com/meikuraledutech/blockflow/postgres"
	"github.com/meikuraledutech/blockflow/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		config.Default().Logger(os.Stderr).Error("load config", "error", err)
		os.Exit(1)
	}
	log := cfg.Logger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store blockflow.Store
	switch cfg.Store {
	case config.StoreMemory:
		store = memory.New()
		log.Warn("using in-memory store; data is lost on exit")
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("connect", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = postgres.New(pool)
	}
	if err := store.CreateSchema(ctx); err != nil {
		log.Error("create schema", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(store, nil, scheduler.WithLogger(log))
	sched.Tick = cfg.Scheduler.Tick
	sched.ExecutionTimeout = cfg.Scheduler.ExecutionTimeout

	app := api.New(store, sched, log).App()

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			log.Error("shutdown", "error", err)
		}
	}()

	log.Info("listening", "addr", cfg.ListenAddr, "store", cfg.Store)
	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Error("listen", "error", err)
	}
	stop()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		log.Error("scheduler", "error", err)
	}
}

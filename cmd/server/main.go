package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sheikh-saqib/stakes-ledger/internal/config"
	"github.com/sheikh-saqib/stakes-ledger/internal/core"
	"github.com/sheikh-saqib/stakes-ledger/internal/events"
	"github.com/sheikh-saqib/stakes-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/stakes-ledger/internal/httpapi"
	interfaces "github.com/sheikh-saqib/stakes-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stakes-ledger/internal/logging"
	"github.com/sheikh-saqib/stakes-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/stakes-ledger/internal/storage/postgres"
	"github.com/sheikh-saqib/stakes-ledger/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", "err", err)
	}

	opts := logging.DefaultOptions()
	opts.Level = logging.ParseLevel(cfg.LogLevel)
	opts.Formatter = logging.ParseFormatter(cfg.LogFormat)
	logger := logging.New(os.Stderr, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store interfaces.Store
	var directory interfaces.SpaceDirectory
	var seeder interfaces.SpaceSeeder
	if cfg.DatabaseURL == "" {
		logger.Warn("database_url not set, using in-memory store; state is lost on exit and spaces come only from [[spaces]] in the config file")
		store = memory.NewMemoryStore()
		dir := memory.NewDirectory()
		directory, seeder = dir, dir
	} else {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("connect database", "err", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Fatal("migrate", "err", err)
		}
		store = postgres.NewPostgresStore(db)
		dir := postgres.NewDirectory(db)
		directory, seeder = dir, dir
		logger.Info("connected to database")
	}
	if err := seedSpaces(ctx, seeder, cfg.Spaces); err != nil {
		logger.Fatal("seed spaces", "err", err)
	}
	if len(cfg.Spaces) > 0 {
		logger.Info("seeded spaces", "count", len(cfg.Spaces))
	} else if cfg.DatabaseURL == "" {
		logger.Warn("no spaces configured, every task call will be refused")
	}

	var publisher interfaces.EventPublisher = events.LogPublisher{Logger: logging.Component(logger, "notify")}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, logging.Component(logger, "kafka"))
		defer kp.Close()
		publisher = kp
		logger.Info("publishing notifications to kafka", "brokers", cfg.KafkaBrokers)
	}

	c := core.New(store, directory, interfaces.SystemClock{}, publisher, logger, core.Options{
		Calendar:            cfg.Calendar,
		InitialCoins:        cfg.InitialCoins,
		DefaultGraceMinutes: cfg.DefaultGraceMinutes,
		VoteWindow:          cfg.VoteWindow.Duration,
	})

	scheduler := sweep.NewScheduler(logging.Component(logger, "scheduler"),
		c.Jobs(cfg.SweepInterval.Duration, cfg.AggregateInterval.Duration)...)
	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(schedulerDone)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewServer(c, logging.Component(logger, "http"), cfg.CronSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}()

	logger.Info("starting server", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "err", err)
		stop()
	}
	<-schedulerDone
	logger.Info("bye")
}

func seedSpaces(ctx context.Context, seeder interfaces.SpaceSeeder, spaces []config.SpaceSeed) error {
	for _, sp := range spaces {
		if err := seeder.Seed(ctx, sp.Rules(), sp.Members...); err != nil {
			return err
		}
	}
	return nil
}

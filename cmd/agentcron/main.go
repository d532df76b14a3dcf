package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"agentcron/internal/adapters/contextsrc"
	"agentcron/internal/adapters/delivery"
	"agentcron/internal/adapters/duckdb"
	"agentcron/internal/adapters/exechttp"
	appconfig "agentcron/internal/config"
	"agentcron/internal/core/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting agentcron")

	if err := run(logger); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	configPath := flag.String("config", "agentcron.yaml", "path to config file")
	flag.Parse()

	cfg, err := appconfig.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.Execution.BaseURL == "" {
		return fmt.Errorf("execution service URL is required (execution.base_url or AGENTCRON_EXECUTION_URL)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	repo, err := duckdb.NewRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repo.Close()

	execClient := exechttp.NewClient(cfg.Execution.BaseURL, cfg.Execution.APIKey)
	contexts := contextsrc.NewResolver(logger)
	router := delivery.NewRouter(logger, cfg.Delivery.WebhookPerMinute, nil)

	queue := services.NewTaskQueue(logger, services.QueueConfig{
		MaxConcurrent:    int64(cfg.Queue.MaxConcurrent),
		DispatchInterval: cfg.DispatchInterval(),
		RetryDelay:       cfg.RetryDelay(),
		SessionLinkBase:  cfg.Queue.SessionLinkBase,
	}, repo, repo, execClient, contexts, router, repo)

	scheduler := services.NewScheduler(logger, services.SchedulerConfig{
		Disabled:     !cfg.Scheduler.Enabled,
		TickInterval: cfg.TickInterval(),
		StaleRunAge:  cfg.StaleRunAge(),
	}, repo, repo, queue, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := scheduler.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		return scheduler.Stop(stopCtx)
	})

	return g.Wait()
}

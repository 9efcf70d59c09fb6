package main

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/maheshrc27/crosspost/internal/api"
	job "github.com/maheshrc27/crosspost/internal/jobs"
	"github.com/maheshrc27/crosspost/internal/queue"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the queue worker and the scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	d, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	mediaRoot := ""
	if cfg.Storage.Driver == "" || cfg.Storage.Driver == "local" {
		mediaRoot = cfg.Storage.LocalRoot
	}

	app := api.NewApp(api.Deps{
		Config:    *cfg,
		DB:        d.db,
		Posts:     service.NewPostService(d.db, d.posts, d.pubs, d.store, d.registry),
		Publisher: d.publisher,
		Platforms: service.NewPlatformService(*cfg, d.accounts, d.registry),
		Users:     service.NewUserService(d.users),
		Tasks:     client,
		MediaRoot: mediaRoot,
	})

	worker := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: cfg.Publisher.Concurrency,
	})
	if err := worker.Start(queue.NewQueue(d.publisher).Mux()); err != nil {
		return err
	}
	slog.Info("queue worker started", "redis", cfg.RedisURI)

	var scheduler *cron.Cron
	if cfg.Scheduler.Enabled {
		scheduler, err = job.Start(cfg.Scheduler,
			job.NewScheduledPublishJob(d.publisher),
			job.NewTokenRefreshJob(d.accounts, d.tokens, cfg.Publisher.Concurrency),
			job.NewMediaJanitorJob(d.resolver, cfg.Storage.TmpTTL),
		)
		if err != nil {
			worker.Shutdown()
			return err
		}
		slog.Info("scheduler started", "sweep", cfg.Scheduler.SweepSpec)
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(cfg.Addr)
	}()
	slog.Info("server is running", "addr", cfg.Addr)

	select {
	case <-ctx.Done():
	case err = <-listenErr:
		slog.Error("failed to start server", "error", err)
	}

	gracefulShutdown(app, worker, scheduler)
	return err
}

func gracefulShutdown(app *fiber.App, worker *asynq.Server, scheduler *cron.Cron) {
	slog.Info("shutting down server...")

	if scheduler != nil {
		scheduler.Stop()
	}
	if err := app.Shutdown(); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}
	worker.Shutdown()

	slog.Info("server shutdown complete")
}

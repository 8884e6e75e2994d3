package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/restaurant-ops/restops/internal/app"
	closurehttp "github.com/restaurant-ops/restops/internal/closure/http"
	"github.com/restaurant-ops/restops/internal/reminder"
	"github.com/restaurant-ops/restops/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	svc, err := app.OpenServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("open services", slog.Any("error", err))
		os.Exit(1)
	}
	defer svc.Close()

	reminders := svc.Reminders
	var jobHandler *jobs.Handler
	if svc.HasQueue() {
		queue, err := jobs.NewClient(svc.AsynqRedis())
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		reminders.Notifier = jobs.TaskNotifier{Queue: queue}

		inspector := asynq.NewInspector(svc.AsynqRedis())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		logger.Warn("job queue unavailable, reminders are only logged")
		reminders.Notifier = reminder.LogNotifier{Logger: logger}
	}
	hub := reminder.NewHub(ctx, reminders,
		reminder.WithIdleTimeout(cfg.ClosureReminderIdle),
		reminder.WithMaxClients(cfg.ClosureReminderClients))
	defer hub.Close()

	closureHandler := closurehttp.NewHandler(closurehttp.Config{
		Checker:        svc.Checker,
		Coordinator:    svc.Coordinator,
		Status:         svc.Backend,
		Operations:     svc.Backend,
		Reminders:      hub,
		Location:       cfg.Location(),
		Logger:         logger,
		RequestTimeout: cfg.AppRequestTimeout,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		ClosureHandler: closureHandler,
		JobHandler:     jobHandler,
		Metrics:        svc.Metrics,
		Ready:          svc.Ready,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
			slog.String("timezone", cfg.Location().String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/restaurant-ops/restops/internal/app"
	"github.com/restaurant-ops/restops/internal/platform/broker"
	"github.com/restaurant-ops/restops/internal/reminder"
	"github.com/restaurant-ops/restops/jobs"
)

// hourlySpec re-checks every hour; schedulers ignore hours outside the window.
const hourlySpec = "0 * * * *"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
	if !svc.HasQueue() {
		logger.Error("worker requires redis", slog.String("addr", cfg.RedisAddr))
		os.Exit(1)
	}

	publisher, err := broker.Dial(cfg.AMQPURL, logger)
	if err != nil {
		logger.Error("connect rabbitmq", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("rabbitmq close", slog.Any("error", err))
		}
	}()

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

	template := svc.Reminders
	template.Notifier = jobs.TaskNotifier{Queue: queue}
	schedulers := newSchedulerSet(template)

	checkJob := jobs.NewClosureCheckJob(schedulers.get, logger, svc.JobMetrics)
	deliverJob := jobs.NewReminderDeliveryJob(publisher, logger, svc.JobMetrics)

	dailyTask, err := jobs.NewClosureCheckTask(cfg.ClosureWorkerClientID, reminder.TriggerDaily)
	if err != nil {
		logger.Error("build closure check task", slog.Any("error", err))
		os.Exit(1)
	}
	hourlyTask, err := jobs.NewClosureCheckTask(cfg.ClosureWorkerClientID, reminder.TriggerHourly)
	if err != nil {
		logger.Error("build closure check task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: svc.AsynqRedis(),
		Logger:    logger,
		Location:  cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskClosureCheck, Handler: checkJob.Handle},
			{Type: jobs.TaskReminderDeliver, Handler: deliverJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ClosureReminderCron, Task: dailyTask, Options: []asynq.Option{asynq.MaxRetry(3), asynq.Unique(time.Hour)}},
			{Spec: hourlySpec, Task: hourlyTask, Options: []asynq.Option{asynq.MaxRetry(1), asynq.Unique(30 * time.Minute)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: svc.Metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker", slog.String("reminder_cron", cfg.ClosureReminderCron), slog.String("timezone", cfg.Location().String()))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// schedulerSet keeps one reminder state machine per client. The worker drives
// them through Fire only, so none of them runs its own timer.
type schedulerSet struct {
	template reminder.Config
	mu       sync.Mutex
	byClient map[string]*reminder.Scheduler
}

func newSchedulerSet(template reminder.Config) *schedulerSet {
	return &schedulerSet{template: template, byClient: make(map[string]*reminder.Scheduler)}
}

func (s *schedulerSet) get(clientID string) *reminder.Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sched, ok := s.byClient[clientID]; ok {
		return sched
	}
	cfg := s.template
	cfg.ClientID = clientID
	sched := reminder.New(cfg)
	s.byClient[clientID] = sched
	return sched
}

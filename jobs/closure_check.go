package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/restaurant-ops/restops/internal/jobs"
	"github.com/restaurant-ops/restops/internal/reminder"
)

// ClosureCheckJob runs the closure check on a schedule so a reminder goes out
// even when no client session is open.
type ClosureCheckJob struct {
	Schedulers func(clientID string) *reminder.Scheduler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewClosureCheckJob initialises the closure check handler. schedulers returns
// the reminder state machine for a client id.
func NewClosureCheckJob(schedulers func(clientID string) *reminder.Scheduler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ClosureCheckJob {
	return &ClosureCheckJob{Schedulers: schedulers, Logger: logger, Metrics: metrics}
}

// Handle executes one check-and-remind cycle.
func (j *ClosureCheckJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Schedulers == nil {
		return errors.New("closure check: handler not configured")
	}
	var payload ClosureCheckPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	trigger := reminder.Trigger(payload.Trigger)
	switch trigger {
	case reminder.TriggerDaily, reminder.TriggerHourly:
	default:
		trigger = reminder.TriggerDaily
	}

	tracker := j.Metrics.Track(TaskClosureCheck)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	f := j.Schedulers(payload.ClientID).Fire(ctx, trigger)
	logger := j.logger().With(
		slog.String("client", payload.ClientID),
		slog.String("trigger", string(trigger)),
		slog.String("day", f.Decision.Day.String()),
	)
	switch {
	case f.Err != nil:
		logger.Warn("closure reminder not delivered", slog.Any("error", f.Err))
		return f.Err
	case f.Delivered():
		logger.Info("closure reminder queued", slog.Int("count", f.Notification.Count))
	default:
		logger.Debug("closure reminder skipped", slog.String("reason", f.Skipped))
	}
	return nil
}

func (j *ClosureCheckJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

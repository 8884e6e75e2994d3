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

// NotificationsExchange is the topic exchange receiving closure reminders.
const NotificationsExchange = "notifications"

// EventPublisher publishes JSON events to a topic exchange.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
}

// ReminderDeliveryJob forwards reminders to the notifications exchange.
type ReminderDeliveryJob struct {
	Publisher EventPublisher
	Exchange  string
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewReminderDeliveryJob initialises the delivery handler.
func NewReminderDeliveryJob(publisher EventPublisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReminderDeliveryJob {
	return &ReminderDeliveryJob{Publisher: publisher, Exchange: NotificationsExchange, Logger: logger, Metrics: metrics}
}

// RoutingKey derives the routing key of a reminder, e.g. closure.reminder.high.
func RoutingKey(n reminder.Notification) string {
	urgency := n.Urgency
	if urgency == "" {
		urgency = reminder.UrgencyNormal
	}
	return "closure.reminder." + string(urgency)
}

// Handle publishes the reminder carried by the task.
func (j *ReminderDeliveryJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Publisher == nil {
		return errors.New("reminder delivery: publisher not configured")
	}
	var n reminder.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil || n.Day == "" {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskReminderDeliver)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	exchange := j.Exchange
	if exchange == "" {
		exchange = NotificationsExchange
	}
	if err := j.Publisher.Publish(ctx, exchange, RoutingKey(n), n); err != nil {
		j.logger().Warn("reminder publish failed",
			slog.String("client", n.ClientID),
			slog.String("day", n.Day.String()),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (j *ReminderDeliveryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

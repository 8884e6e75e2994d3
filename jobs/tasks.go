package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/restaurant-ops/restops/internal/reminder"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueReminders carries reminder deliveries ahead of periodic checks.
	QueueReminders = "reminders"
	// TaskClosureCheck runs the closure requirement check and reminds when needed.
	TaskClosureCheck = "closure:check"
	// TaskReminderDeliver publishes a composed reminder to the notifications exchange.
	TaskReminderDeliver = "closure:reminder:deliver"
)

// ClosureCheckPayload selects the client whose reminder state is used and the
// trigger the check runs as.
type ClosureCheckPayload struct {
	ClientID string `json:"client_id"`
	Trigger  string `json:"trigger"`
}

// NewClosureCheckTask constructs a closure check task.
func NewClosureCheckTask(clientID string, trigger reminder.Trigger) (*asynq.Task, error) {
	data, err := json.Marshal(ClosureCheckPayload{ClientID: clientID, Trigger: string(trigger)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClosureCheck, data), nil
}

// NewReminderDeliverTask wraps a notification for delivery.
func NewReminderDeliverTask(n reminder.Notification) (*asynq.Task, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReminderDeliver, data), nil
}

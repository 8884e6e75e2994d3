package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/restaurant-ops/restops/internal/reminder"
)

// Enqueuer submits tasks; *Client and *asynq.Client satisfy it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskNotifier is a reminder.Notifier that hands reminders to the worker for
// delivery.
type TaskNotifier struct {
	Queue Enqueuer
}

// RequestPermission always grants; delivery consent is handled downstream.
func (n TaskNotifier) RequestPermission(context.Context) (bool, error) {
	return n.Queue != nil, nil
}

// ShowNotification enqueues a delivery task. One reminder per client and
// count is accepted so a retried check does not duplicate it.
func (n TaskNotifier) ShowNotification(ctx context.Context, note reminder.Notification) error {
	task, err := NewReminderDeliverTask(note)
	if err != nil {
		return err
	}
	taskID := fmt.Sprintf("reminder:%s:%s:%d", note.ClientID, note.Day, note.Count)
	_, err = n.Queue.EnqueueContext(ctx, task, asynq.Queue(QueueReminders), asynq.TaskID(taskID), asynq.MaxRetry(5))
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("jobs: enqueue reminder: %w", err)
	}
	return nil
}

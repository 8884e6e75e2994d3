package reminder

import (
	"context"
	"log/slog"
)

// LogNotifier writes reminders to the log. It backs local runs without a
// delivery queue.
type LogNotifier struct {
	Logger *slog.Logger
}

// RequestPermission always grants.
func (n LogNotifier) RequestPermission(context.Context) (bool, error) {
	return true, nil
}

// ShowNotification logs the reminder.
func (n LogNotifier) ShowNotification(ctx context.Context, note Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "closure reminder",
		slog.String("client", note.ClientID),
		slog.String("day", note.Day.String()),
		slog.String("urgency", string(note.Urgency)),
		slog.String("title", note.Title),
		slog.String("body", note.Body))
	return nil
}

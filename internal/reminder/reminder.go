// Package reminder nags administrators about an unclosed day. A Scheduler
// per client tracks three independent fire instants (the daily reminder, the
// hourly fallback inside the evening window and an optional snooze), runs the
// closure check when one is due and hands deliverable reminders to a Notifier.
package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/restaurant-ops/restops/internal/closure"
	"github.com/restaurant-ops/restops/internal/ledger"
)

// Urgency grades a reminder by how many times it was already shown today.
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// UrgencyFor maps the reminder count for a day to its urgency.
func UrgencyFor(count int) Urgency {
	switch {
	case count >= 3:
		return UrgencyCritical
	case count == 2:
		return UrgencyHigh
	default:
		return UrgencyNormal
	}
}

// Action is a button offered with a notification.
type Action string

const (
	// ActionCloseNow leads to POST /closure/days/{day}/close.
	ActionCloseNow Action = "close_now"
	// ActionRemindLater leads to POST /closure/reminders/snooze with 60 minutes.
	ActionRemindLater Action = "remind_1h"
)

// Notification is a reminder ready for delivery.
type Notification struct {
	ClientID string        `json:"client_id"`
	Day      ledger.DayKey `json:"day_key"`
	Title    string        `json:"title"`
	Body     string        `json:"body"`
	Actions  []Action      `json:"actions"`
	Urgency  Urgency       `json:"urgency"`
	Count    int           `json:"count"`
	SentAt   time.Time     `json:"sent_at"`
}

// Notifier delivers reminders to the user.
type Notifier interface {
	RequestPermission(ctx context.Context) (bool, error)
	ShowNotification(ctx context.Context, n Notification) error
}

// Checker is the subset of closure.Checker the scheduler relies on.
type Checker interface {
	Check(ctx context.Context, clientID string) closure.Decision
}

// Trigger names the fire instant that caused a reminder attempt.
type Trigger string

const (
	TriggerStart  Trigger = "start"
	TriggerDaily  Trigger = "daily"
	TriggerHourly Trigger = "hourly"
	TriggerSnooze Trigger = "snooze"
)

// Skip reasons reported in Firing.Skipped.
const (
	SkipNotRequired = "not_required"
	SkipDismissed   = "dismissed"
	SkipCooldown    = "cooldown"
	SkipOutside     = "outside_window"
	SkipPermission  = "permission_denied"
	SkipDelivery    = "delivery_failed"
)

// Firing reports what a due trigger did.
type Firing struct {
	Trigger      Trigger
	At           time.Time
	Decision     closure.Decision
	Notification *Notification
	Skipped      string
	Err          error
}

// Delivered reports whether a notification went out.
func (f Firing) Delivered() bool {
	return f.Notification != nil && f.Err == nil
}

var (
	// ErrInvalidSnooze is returned for snooze durations outside 1..1440 minutes.
	ErrInvalidSnooze = errors.New("reminder: snooze must be between 1 and 1440 minutes")
	// ErrInvalidWindow is returned for malformed hourly windows.
	ErrInvalidWindow = errors.New("reminder: invalid hourly window")
)

package reminder_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restaurant-ops/restops/internal/closure"
	"github.com/restaurant-ops/restops/internal/closure/memstore"
	"github.com/restaurant-ops/restops/internal/ledger"
	"github.com/restaurant-ops/restops/internal/reminder"
	"github.com/restaurant-ops/restops/internal/shared"
)

const day = ledger.DayKey("04112025")

type fakeChecker struct {
	mu       sync.Mutex
	decision closure.Decision
	calls    int
}

func (f *fakeChecker) Check(ctx context.Context, clientID string) closure.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.decision
}

type fakeNotifier struct {
	mu     sync.Mutex
	denied bool
	err    error
	shown  []reminder.Notification
}

func (f *fakeNotifier) RequestPermission(context.Context) (bool, error) {
	return !f.denied, nil
}

func (f *fakeNotifier) ShowNotification(ctx context.Context, n reminder.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.shown = append(f.shown, n)
	return nil
}

func at(d, h, m int) time.Time {
	return time.Date(2025, 11, d, h, m, 0, 0, time.UTC)
}

func requiredDecision() closure.Decision {
	return closure.Decision{
		Day:      day,
		Required: true,
		Source:   closure.SourceStore,
		Summary: &ledger.DaySummary{
			Day:             day,
			OperationsCount: 3,
			Totals:          ledger.Totals{Entrees: 8000, Sorties: 1200, Balance: 6800},
		},
	}
}

type harness struct {
	sched    *reminder.Scheduler
	checker  *fakeChecker
	notifier *fakeNotifier
	cache    *memstore.Cache
	clock    *time.Time
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	h := &harness{
		checker:  &fakeChecker{decision: requiredDecision()},
		notifier: &fakeNotifier{},
		cache:    memstore.NewCache(),
		clock:    &start,
	}
	h.sched = reminder.New(reminder.Config{
		ClientID:  "tab-1",
		Checker:   h.checker,
		Cache:     h.cache,
		Notifier:  h.notifier,
		Formatter: ledger.NewFormatter("en", "XOF"),
		Location:  time.UTC,
	})
	h.sched.WithNow(func() time.Time { return *h.clock })
	return h
}

func (h *harness) tick(now time.Time) *reminder.Firing {
	*h.clock = now
	return h.sched.Tick(context.Background(), now)
}

func TestStartOutsideWindowOnlyArms(t *testing.T) {
	h := newHarness(t, at(5, 10, 0))
	require.Nil(t, h.sched.Start(context.Background()))

	pending := h.sched.Pending()
	require.Equal(t, at(5, 23, 0), pending.Daily)
	require.Equal(t, at(5, 22, 0), pending.Hourly)
	require.True(t, pending.Snooze.IsZero())
	require.Equal(t, at(5, 22, 0), h.sched.Next())
	require.Zero(t, h.checker.calls)

	require.Nil(t, h.tick(at(5, 21, 59)))
}

func TestStartInsideWindowChecksImmediately(t *testing.T) {
	h := newHarness(t, at(5, 22, 30))
	f := h.sched.Start(context.Background())
	require.NotNil(t, f)
	require.Equal(t, reminder.TriggerStart, f.Trigger)
	require.True(t, f.Delivered())

	n := f.Notification
	require.Equal(t, "tab-1", n.ClientID)
	require.Equal(t, day, n.Day)
	require.Equal(t, reminder.UrgencyNormal, n.Urgency)
	require.Equal(t, []reminder.Action{reminder.ActionCloseNow, reminder.ActionRemindLater}, n.Actions)
	require.Contains(t, n.Title, "04/11/2025")
	require.Contains(t, n.Body, "3 opération(s)")
	require.Contains(t, n.Body, "6,800 XOF")

	entry, err := h.cache.Load(context.Background(), "tab-1")
	require.NoError(t, err)
	require.Equal(t, at(5, 22, 30), entry.LastReminderAt)
	require.Equal(t, day, entry.ReminderDay)
	require.Equal(t, 1, entry.ReminderCount)
	require.Equal(t, at(5, 23, 0), h.sched.Next())
}

func TestDailyAndHourlyCollapseAndEscalate(t *testing.T) {
	h := newHarness(t, at(5, 10, 0))
	h.sched.Start(context.Background())

	f := h.tick(at(5, 22, 0))
	require.Equal(t, reminder.TriggerHourly, f.Trigger)
	require.True(t, f.Delivered())

	f = h.tick(at(5, 23, 0))
	require.Equal(t, reminder.TriggerDaily, f.Trigger)
	require.True(t, f.Delivered())
	require.Equal(t, 2, f.Notification.Count)
	require.Equal(t, reminder.UrgencyHigh, f.Notification.Urgency)
	require.Len(t, h.notifier.shown, 2)

	pending := h.sched.Pending()
	require.Equal(t, at(6, 23, 0), pending.Daily)
	require.Equal(t, at(6, 22, 0), pending.Hourly)
}

func TestCooldownSuppressesEarlyReminder(t *testing.T) {
	h := newHarness(t, at(5, 22, 30))
	h.sched.Start(context.Background())

	f := h.tick(at(5, 23, 0))
	require.Equal(t, reminder.SkipCooldown, f.Skipped)
	require.Nil(t, f.Notification)
	require.Len(t, h.notifier.shown, 1)
}

func TestSnoozeBypassesCooldownAndDismissal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, at(5, 22, 30))
	h.sched.Start(ctx)

	dismissed, err := h.sched.Dismiss(ctx)
	require.NoError(t, err)
	require.Equal(t, day, dismissed)

	until, err := h.sched.Snooze(10)
	require.NoError(t, err)
	require.Equal(t, at(5, 22, 40), until)
	require.Equal(t, until, h.sched.Next())

	f := h.tick(at(5, 22, 40))
	require.Equal(t, reminder.TriggerSnooze, f.Trigger)
	require.True(t, f.Delivered())
	require.Equal(t, 2, f.Notification.Count)
	require.True(t, h.sched.Pending().Snooze.IsZero())
}

func TestDismissSilencesScheduledReminders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, at(5, 10, 0))
	h.sched.Start(ctx)
	_, err := h.sched.Dismiss(ctx)
	require.NoError(t, err)

	f := h.tick(at(5, 22, 0))
	require.Equal(t, reminder.SkipDismissed, f.Skipped)
	require.True(t, f.Decision.Required)
	require.Empty(t, h.notifier.shown)

	entry, err := h.cache.Load(ctx, "tab-1")
	require.NoError(t, err)
	require.Equal(t, day, entry.ReminderDismissedDay)
}

func TestNothingDeliveredWhenClosureNotRequired(t *testing.T) {
	h := newHarness(t, at(5, 10, 0))
	h.checker.decision = closure.Decision{Day: day, Source: closure.SourceStore}
	h.sched.Start(context.Background())

	f := h.tick(at(5, 22, 0))
	require.Equal(t, reminder.SkipNotRequired, f.Skipped)
	require.Equal(t, 1, h.checker.calls)
	require.Empty(t, h.notifier.shown)
}

func TestMissingNotifierFallsBackToLog(t *testing.T) {
	sched := reminder.New(reminder.Config{
		ClientID: "tab-1",
		Checker:  &fakeChecker{decision: requiredDecision()},
		Location: time.UTC,
	})
	sched.WithNow(func() time.Time { return at(5, 23, 0) })

	f := sched.Fire(context.Background(), reminder.TriggerDaily)
	require.True(t, f.Delivered())
	require.Equal(t, day, f.Notification.Day)
}

func TestPermissionDeniedSkipsCheck(t *testing.T) {
	h := newHarness(t, at(5, 22, 30))
	h.notifier.denied = true
	f := h.sched.Start(context.Background())
	require.Equal(t, reminder.SkipPermission, f.Skipped)
	require.Zero(t, h.checker.calls)
}

func TestDeliveryFailureLeavesCooldownUntouched(t *testing.T) {
	h := newHarness(t, at(5, 22, 30))
	h.notifier.err = errors.New("queue down")
	f := h.sched.Start(context.Background())
	require.Equal(t, reminder.SkipDelivery, f.Skipped)
	require.Error(t, f.Err)
	require.False(t, f.Delivered())

	h.notifier.err = nil
	f = h.tick(at(5, 23, 0))
	require.True(t, f.Delivered())
	require.Equal(t, 1, f.Notification.Count)
}

func TestCriticalAfterThirdReminder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, at(5, 22, 0))
	require.NoError(t, h.cache.Save(ctx, "tab-1", closure.CacheEntry{
		ReminderDay:    day,
		ReminderCount:  2,
		LastReminderAt: at(5, 20, 0),
	}))
	f := h.sched.Start(ctx)
	require.True(t, f.Delivered())
	require.Equal(t, reminder.UrgencyCritical, f.Notification.Urgency)
	require.Contains(t, f.Notification.Title, "Urgent")
}

func TestSnoozeValidation(t *testing.T) {
	h := newHarness(t, at(5, 10, 0))
	_, err := h.sched.Snooze(0)
	require.ErrorIs(t, err, reminder.ErrInvalidSnooze)
	_, err = h.sched.Snooze(24*60 + 1)
	require.ErrorIs(t, err, reminder.ErrInvalidSnooze)
}

func TestUrgencyFor(t *testing.T) {
	require.Equal(t, reminder.UrgencyNormal, reminder.UrgencyFor(0))
	require.Equal(t, reminder.UrgencyNormal, reminder.UrgencyFor(1))
	require.Equal(t, reminder.UrgencyHigh, reminder.UrgencyFor(2))
	require.Equal(t, reminder.UrgencyCritical, reminder.UrgencyFor(5))
}

func TestRemindersStopOnceDayIsClosed(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(time.UTC)
	store.AddAccounts(ledger.Account{ID: "caisse", Name: "Caisse"})
	store.AddOperations(ledger.Operation{ID: "op-1", AccountID: "caisse", Kind: ledger.KindEntree, Amount: 5000, Timestamp: at(4, 12, 0)})
	cache := memstore.NewCache()
	clock := at(5, 22, 0)
	now := func() time.Time { return clock }

	checker := closure.NewChecker(closure.CheckerConfig{Store: store, Cache: cache, Location: time.UTC})
	checker.WithNow(now)
	coord := closure.NewCoordinator(closure.CoordinatorConfig{Store: store, Status: store, Cache: cache, Location: time.UTC})
	coord.WithNow(now)
	notifier := &fakeNotifier{}
	sched := reminder.New(reminder.Config{ClientID: "tab-1", Checker: checker, Cache: cache, Notifier: notifier, Location: time.UTC})
	sched.WithNow(now)

	f := sched.Start(ctx)
	require.True(t, f.Delivered())
	require.Contains(t, f.Notification.Body, "1 opération(s)")

	res := coord.Close(ctx, shared.Actor{UserID: "u-1", UserName: "Awa", Role: shared.RoleAdmin}, "tab-1", day)
	require.Equal(t, closure.OutcomeSuccess, res.Outcome)

	clock = at(5, 23, 0)
	f = sched.Tick(ctx, clock)
	require.Equal(t, reminder.SkipNotRequired, f.Skipped)
	require.Equal(t, closure.SourceCache, f.Decision.Source)
	require.Len(t, notifier.shown, 1)
}

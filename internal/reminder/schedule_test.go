package reminder_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restaurant-ops/restops/internal/reminder"
)

func TestParseDaily(t *testing.T) {
	sched, err := reminder.ParseDaily("")
	require.NoError(t, err)
	require.Equal(t, at(5, 23, 0), sched.Next(at(5, 10, 0)))
	require.Equal(t, at(6, 23, 0), sched.Next(at(5, 23, 0)))

	sched, err = reminder.ParseDaily("30 21 * * *")
	require.NoError(t, err)
	require.Equal(t, at(5, 21, 30), sched.Next(at(5, 8, 0)))

	_, err = reminder.ParseDaily("every evening")
	require.Error(t, err)
}

func TestWindow(t *testing.T) {
	w := reminder.DefaultWindow
	require.False(t, w.Contains(at(5, 21, 59)))
	require.True(t, w.Contains(at(5, 22, 0)))
	require.True(t, w.Contains(at(5, 23, 59)))
	require.False(t, w.Contains(at(6, 0, 0)))

	require.Equal(t, at(5, 22, 0), w.NextHour(at(5, 9, 15)))
	require.Equal(t, at(5, 23, 0), w.NextHour(at(5, 22, 0)))
	require.Equal(t, at(6, 22, 0), w.NextHour(at(5, 23, 10)))

	parsed, err := reminder.ParseWindow("21:00-24:00")
	require.NoError(t, err)
	require.Equal(t, 21*time.Hour, parsed.Start)
	require.Equal(t, 24*time.Hour, parsed.End)

	_, err = reminder.ParseWindow("23:00-22:00")
	require.ErrorIs(t, err, reminder.ErrInvalidWindow)
	_, err = reminder.ParseWindow("late")
	require.ErrorIs(t, err, reminder.ErrInvalidWindow)
}

func TestHubReusesSchedulers(t *testing.T) {
	hub := reminder.NewHub(context.Background(), reminder.Config{
		Checker:  &fakeChecker{},
		Notifier: &fakeNotifier{},
		Location: time.UTC,
	})
	hub.WithNow(func() time.Time { return at(5, 10, 0) })

	first, err := hub.Get("tab-1")
	require.NoError(t, err)
	again, err := hub.Get("tab-1")
	require.NoError(t, err)
	require.Same(t, first, again)
	other, err := hub.Get("tab-2")
	require.NoError(t, err)
	require.NotSame(t, first, other)
	require.Equal(t, 2, hub.Len())

	hub.Close()
	late, err := hub.Get("tab-3")
	require.NoError(t, err)
	require.NotNil(t, late)
	require.Equal(t, 2, hub.Len())
}

func TestHubArmsSchedulerOnFirstGet(t *testing.T) {
	hub := reminder.NewHub(context.Background(), reminder.Config{
		Checker:  &fakeChecker{},
		Notifier: &fakeNotifier{},
		Location: time.UTC,
	})
	defer hub.Close()
	hub.WithNow(func() time.Time { return at(5, 10, 0) })

	sched, err := hub.Get("tab-1")
	require.NoError(t, err)
	pending := sched.Pending()
	require.Equal(t, at(5, 23, 0), pending.Daily)
	require.Equal(t, at(5, 22, 0), pending.Hourly)
	require.True(t, pending.Snooze.IsZero())
}

func TestHubStopsIdleSchedulers(t *testing.T) {
	var mu sync.Mutex
	now := at(5, 10, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	hub := reminder.NewHub(context.Background(), reminder.Config{
		Checker:  &fakeChecker{},
		Notifier: &fakeNotifier{},
		Location: time.UTC,
	}, reminder.WithIdleTimeout(10*time.Minute))
	defer hub.Close()
	hub.WithNow(clock)

	idle, err := hub.Get("tab-idle")
	require.NoError(t, err)
	advance(6 * time.Minute)
	_, err = hub.Get("tab-busy")
	require.NoError(t, err)
	require.Zero(t, hub.Sweep())

	advance(5 * time.Minute)
	require.Equal(t, 1, hub.Sweep())
	require.Equal(t, 1, hub.Len())

	fresh, err := hub.Get("tab-idle")
	require.NoError(t, err)
	require.NotSame(t, idle, fresh)
}

func TestHubCapsClients(t *testing.T) {
	now := at(5, 10, 0)
	hub := reminder.NewHub(context.Background(), reminder.Config{
		Checker:  &fakeChecker{},
		Notifier: &fakeNotifier{},
		Location: time.UTC,
	}, reminder.WithMaxClients(2), reminder.WithIdleTimeout(time.Hour))
	defer hub.Close()
	hub.WithNow(func() time.Time { return now })

	for _, id := range []string{"tab-1", "tab-2"} {
		_, err := hub.Get(id)
		require.NoError(t, err)
	}
	_, err := hub.Get("tab-3")
	require.ErrorIs(t, err, reminder.ErrHubFull)
	require.Equal(t, 2, hub.Len())

	_, err = hub.Get("tab-1")
	require.NoError(t, err)
}

package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/restaurant-ops/restops/internal/closure"
	"github.com/restaurant-ops/restops/internal/closure/memstore"
	"github.com/restaurant-ops/restops/internal/ledger"
)

// DefaultCooldown is the minimum gap between two non-snooze reminders.
const DefaultCooldown = time.Hour

// Recorder receives reminder attempts for metrics.
type Recorder interface {
	RecordReminder(trigger, result string)
}

// Config wires a Scheduler.
type Config struct {
	ClientID  string
	Checker   Checker
	Cache     closure.LocalCache
	Notifier  Notifier
	Formatter *ledger.Formatter
	Logger    *slog.Logger
	Location  *time.Location
	// Daily defaults to DefaultDailySpec.
	Daily    cron.Schedule
	Window   Window
	Cooldown time.Duration
	Recorder Recorder
}

// Scheduler is the reminder state machine for one client. All instants are
// recomputed from the injected clock; only Run owns a timer.
type Scheduler struct {
	clientID  string
	checker   Checker
	cache     closure.LocalCache
	notifier  Notifier
	formatter *ledger.Formatter
	logger    *slog.Logger
	loc       *time.Location
	daily     cron.Schedule
	window    Window
	cooldown  time.Duration
	recorder  Recorder
	now       func() time.Time

	mu         sync.Mutex
	started    bool
	permitted  bool
	nextDaily  time.Time
	nextHourly time.Time
	snoozeAt   time.Time
	wake       chan struct{}
}

// New constructs a Scheduler. A nil cache keeps reminder state in memory and
// a nil notifier logs reminders.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	daily := cfg.Daily
	if daily == nil {
		daily, _ = ParseDaily(DefaultDailySpec)
	}
	window := cfg.Window
	if window.validate() != nil {
		window = DefaultWindow
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	var cache closure.LocalCache = memstore.NewCache()
	if cfg.Cache != nil {
		cache = cfg.Cache
	}
	var notifier Notifier = LogNotifier{Logger: logger}
	if cfg.Notifier != nil {
		notifier = cfg.Notifier
	}
	formatter := cfg.Formatter
	if formatter == nil {
		formatter = ledger.NewFormatter("fr", "")
	}
	return &Scheduler{
		clientID:  cfg.ClientID,
		checker:   cfg.Checker,
		cache:     cache,
		notifier:  notifier,
		formatter: formatter,
		logger:    logger.With(slog.String("client", cfg.ClientID)),
		loc:       loc,
		daily:     daily,
		window:    window,
		cooldown:  cooldown,
		recorder:  cfg.Recorder,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Scheduler) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Pending is a snapshot of the scheduled instants. Zero means unset.
type Pending struct {
	Daily  time.Time `json:"daily"`
	Hourly time.Time `json:"hourly"`
	Snooze time.Time `json:"snooze,omitempty"`
}

// Pending returns the currently scheduled instants.
func (s *Scheduler) Pending() Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Pending{Daily: s.nextDaily, Hourly: s.nextHourly, Snooze: s.snoozeAt}
}

// Start asks the notifier for permission, arms the daily and hourly instants
// and runs an immediate check when the clock is already inside the window.
func (s *Scheduler) Start(ctx context.Context) *Firing {
	now := s.now().In(s.loc)
	ok, err := s.notifier.RequestPermission(ctx)
	if err != nil {
		s.logger.Warn("reminder permission request", slog.Any("error", err))
	}
	permitted := ok && err == nil

	s.mu.Lock()
	s.started = true
	s.permitted = permitted
	s.nextDaily = s.daily.Next(now)
	s.nextHourly = s.window.NextHour(now)
	s.mu.Unlock()
	s.signal()

	if !s.window.Contains(now) {
		return nil
	}
	f := s.fire(ctx, TriggerStart, now)
	return &f
}

// Next returns the earliest scheduled instant, or zero before Start.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	for _, t := range []time.Time{s.nextDaily, s.nextHourly, s.snoozeAt} {
		if t.IsZero() {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// Tick processes every instant due at now. Instants due together collapse
// into one attempt, preferring snooze, then daily, then hourly; each due
// instant is rearmed. It returns nil when nothing was due.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) *Firing {
	now = now.In(s.loc)
	s.mu.Lock()
	var due []Trigger
	if !s.snoozeAt.IsZero() && !now.Before(s.snoozeAt) {
		due = append(due, TriggerSnooze)
		s.snoozeAt = time.Time{}
	}
	if !s.nextDaily.IsZero() && !now.Before(s.nextDaily) {
		due = append(due, TriggerDaily)
		s.nextDaily = s.daily.Next(now)
	}
	if !s.nextHourly.IsZero() && !now.Before(s.nextHourly) {
		due = append(due, TriggerHourly)
		s.nextHourly = s.window.NextHour(now)
	}
	s.mu.Unlock()
	if len(due) == 0 {
		return nil
	}
	f := s.fire(ctx, due[0], now)
	return &f
}

// Fire runs one check-and-remind cycle now as if trigger were due. Unlike
// Tick it leaves the armed instants alone.
func (s *Scheduler) Fire(ctx context.Context, trigger Trigger) Firing {
	s.mu.Lock()
	if !s.started {
		ok, err := s.notifier.RequestPermission(ctx)
		s.permitted = ok && err == nil
	}
	s.mu.Unlock()
	return s.fire(ctx, trigger, s.now().In(s.loc))
}

// Snooze schedules a one-shot reminder in minutes. It replaces any earlier
// snooze and ignores cooldown and dismissal when it fires.
func (s *Scheduler) Snooze(minutes int) (time.Time, error) {
	if minutes < 1 || minutes > 24*60 {
		return time.Time{}, ErrInvalidSnooze
	}
	at := s.now().In(s.loc).Add(time.Duration(minutes) * time.Minute)
	s.mu.Lock()
	s.snoozeAt = at
	s.mu.Unlock()
	s.signal()
	s.logger.Info("reminder snoozed", slog.Time("until", at))
	return at, nil
}

// Dismiss silences the scheduled reminders for yesterday. The closure stays
// required; a pending snooze still fires.
func (s *Scheduler) Dismiss(ctx context.Context) (ledger.DayKey, error) {
	day := ledger.Yesterday(s.now().In(s.loc))
	entry, err := s.cache.Load(ctx, s.clientID)
	if err != nil {
		return "", fmt.Errorf("reminder: dismiss: %w", err)
	}
	entry.ReminderDismissedDay = day
	if err := s.cache.Save(ctx, s.clientID, entry); err != nil {
		return "", fmt.Errorf("reminder: dismiss: %w", err)
	}
	s.logger.Info("reminder dismissed", slog.String("day", day.String()))
	return day, nil
}

// Run starts the scheduler and fires due instants until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		s.Start(ctx)
	}
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		wait := time.Minute
		if next := s.Next(); !next.IsZero() {
			wait = next.Sub(s.now())
		}
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
			s.Tick(ctx, s.now())
		}
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) fire(ctx context.Context, trigger Trigger, now time.Time) (f Firing) {
	f = Firing{Trigger: trigger, At: now}
	defer func() {
		if s.recorder != nil {
			result := "delivered"
			if f.Skipped != "" {
				result = f.Skipped
			}
			s.recorder.RecordReminder(string(trigger), result)
		}
	}()

	if trigger == TriggerHourly && !s.window.Contains(now) {
		f.Skipped = SkipOutside
		return f
	}
	s.mu.Lock()
	permitted := s.permitted
	s.mu.Unlock()
	if !permitted {
		f.Skipped = SkipPermission
		return f
	}

	f.Decision = s.checker.Check(ctx, s.clientID)
	if !f.Decision.Required {
		f.Skipped = SkipNotRequired
		return f
	}
	day := f.Decision.Day

	entry, err := s.cache.Load(ctx, s.clientID)
	if err != nil {
		s.logger.Warn("reminder cache read", slog.Any("error", err))
		entry = closure.CacheEntry{}
	}
	if trigger != TriggerSnooze {
		if entry.ReminderDismissedDay == day {
			f.Skipped = SkipDismissed
			return f
		}
		if !entry.LastReminderAt.IsZero() && now.Sub(entry.LastReminderAt) < s.cooldown {
			f.Skipped = SkipCooldown
			return f
		}
	}

	count := 1
	if entry.ReminderDay == day {
		count = entry.ReminderCount + 1
	}
	n := s.compose(f.Decision, count, now)
	if err := s.notifier.ShowNotification(ctx, n); err != nil {
		s.logger.Warn("reminder delivery failed", slog.String("day", day.String()), slog.Any("error", err))
		f.Skipped = SkipDelivery
		f.Err = err
		return f
	}
	entry.LastReminderAt = now
	entry.ReminderDay = day
	entry.ReminderCount = count
	if err := s.cache.Save(ctx, s.clientID, entry); err != nil {
		s.logger.Warn("reminder cache write", slog.Any("error", err))
	}
	s.logger.Info("reminder delivered",
		slog.String("day", day.String()),
		slog.String("trigger", string(trigger)),
		slog.Int("count", count))
	f.Notification = &n
	return f
}

func (s *Scheduler) compose(d closure.Decision, count int, now time.Time) Notification {
	urgency := UrgencyFor(count)
	date := d.Day.Time(s.loc).Format("02/01/2006")
	title := fmt.Sprintf("Clôture du %s en attente", date)
	if urgency == UrgencyCritical {
		title = "Urgent : " + title
	}
	body := fmt.Sprintf("La journée du %s n'est pas encore clôturée.", date)
	if d.Summary != nil {
		body = fmt.Sprintf("La journée du %s n'est pas encore clôturée : %d opération(s), entrées %s, sorties %s, solde %s.",
			date,
			d.Summary.OperationsCount,
			s.formatter.Amount(d.Summary.Totals.Entrees),
			s.formatter.Amount(d.Summary.Totals.Sorties),
			s.formatter.Amount(d.Summary.Totals.Balance))
	}
	return Notification{
		ClientID: s.clientID,
		Day:      d.Day,
		Title:    title,
		Body:     body,
		Actions:  []Action{ActionCloseNow, ActionRemindLater},
		Urgency:  urgency,
		Count:    count,
		SentAt:   now,
	}
}

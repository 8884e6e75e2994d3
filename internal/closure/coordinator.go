package closure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/restaurant-ops/restops/internal/ledger"
	"github.com/restaurant-ops/restops/internal/shared"
)

// DefaultWatchdog is the age after which a held lock counts as abandoned.
const DefaultWatchdog = 3 * time.Minute

// CoordinatorConfig wires the coordinator dependencies.
type CoordinatorConfig struct {
	Store    Store
	Status   StatusChannel
	Cache    LocalCache
	Logger   *slog.Logger
	Location *time.Location
	Watchdog time.Duration
	// LookbackDays bounds how far back missed days are searched.
	LookbackDays int
	Recorder     OutcomeRecorder
}

// Coordinator performs the archival of a day exactly once.
type Coordinator struct {
	store    Store
	status   StatusChannel
	cache    LocalCache
	logger   *slog.Logger
	loc      *time.Location
	watchdog time.Duration
	lookback int
	recorder OutcomeRecorder
	now      func() time.Time
	newID    func() string
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	watchdog := cfg.Watchdog
	if watchdog <= 0 {
		watchdog = DefaultWatchdog
	}
	lookback := cfg.LookbackDays
	if lookback <= 0 {
		lookback = 7
	}
	return &Coordinator{
		store:    cfg.Store,
		status:   cfg.Status,
		cache:    cfg.Cache,
		logger:   logger,
		loc:      loc,
		watchdog: watchdog,
		lookback: lookback,
		recorder: cfg.Recorder,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithNow overrides the clock for deterministic tests.
func (c *Coordinator) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Watchdog returns the abandoned-lock threshold in use.
func (c *Coordinator) Watchdog() time.Duration {
	return c.watchdog
}

// Status returns the live queue status.
func (c *Coordinator) Status(ctx context.Context) (QueueStatus, error) {
	st, err := c.status.ReadStatus(ctx)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("%w: read status: %v", ErrTransientIO, err)
	}
	return st, nil
}

// Close archives day on behalf of actor. It never returns an error; failures
// are reported through Result.Outcome and Result.Err and always leave the
// lock released when this attempt held it.
func (c *Coordinator) Close(ctx context.Context, actor shared.Actor, clientID string, day ledger.DayKey) Result {
	started := c.now()
	res := c.close(ctx, actor, clientID, day)
	if c.recorder != nil {
		c.recorder.RecordClosure(res.Outcome, Classify(res.Err), c.now().Sub(started))
	}
	attrs := []any{
		slog.String("day", day.String()),
		slog.String("outcome", string(res.Outcome)),
		slog.String("user", actor.UserID),
	}
	switch res.Outcome {
	case OutcomeFailed:
		attrs = append(attrs, slog.String("kind", string(Classify(res.Err))), slog.Any("error", res.Err))
		if errors.Is(res.Err, ErrDataInconsistent) {
			c.logger.Error("closure archive inconsistent, manual reconciliation required", attrs...)
		} else {
			c.logger.Warn("closure failed", attrs...)
		}
	default:
		c.logger.Info("closure attempt", attrs...)
	}
	return res
}

func (c *Coordinator) close(ctx context.Context, actor shared.Actor, clientID string, day ledger.DayKey) Result {
	res := Result{Day: day}
	if !actor.IsAdmin() {
		return failed(res, OutcomePermissionDenied, ErrPermissionDenied)
	}
	if !day.Valid() {
		return failed(res, OutcomeFailed, fmt.Errorf("%w: %q", ErrInvalidDay, day))
	}
	if !day.Before(ledger.FromTime(c.now().In(c.loc))) {
		return failed(res, OutcomeFailed, fmt.Errorf("%w: %s is not over yet", ErrInvalidDay, day))
	}

	current, err := c.status.ReadStatus(ctx)
	if err != nil {
		return failed(res, OutcomeFailed, fmt.Errorf("%w: read status: %v", ErrTransientIO, err))
	}
	now := c.now()
	if current.EnCours {
		if !current.Abandoned(now, c.watchdog) {
			res.Outcome = OutcomeInProgress
			res.Holder = &current
			res.Err = ErrLockHeld
			return res
		}
		c.logger.Warn("closure lock abandoned, reclaiming",
			slog.String("holder", current.StartedBy),
			slog.String("holder_day", current.DayKey.String()),
			slog.Time("started_at", current.StartedAt))
	}

	attempt := QueueStatus{
		EnCours:       true,
		DayKey:        day,
		StartedBy:     actor.UserID,
		StartedByName: actor.UserName,
		StartedAt:     now,
		AttemptID:     c.newID(),
	}
	if err := c.status.WriteStatus(ctx, attempt); err != nil {
		c.release(ctx, attempt)
		return failed(res, OutcomeFailed, fmt.Errorf("%w: acquire lock: %v", ErrTransientIO, err))
	}
	observed, err := c.status.ReadStatus(ctx)
	if err != nil {
		c.release(ctx, attempt)
		return failed(res, OutcomeFailed, fmt.Errorf("%w: confirm lock: %v", ErrTransientIO, err))
	}
	if observed.AttemptID != attempt.AttemptID {
		res.Outcome = OutcomeInProgress
		res.Holder = &observed
		res.Err = ErrLockHeld
		return res
	}

	committed := false
	defer func() {
		if !committed {
			c.release(ctx, attempt)
		}
	}()

	existing, found, err := c.store.GetClosureRecord(ctx, day)
	if err != nil {
		return failed(res, OutcomeFailed, fmt.Errorf("%w: verify record: %v", ErrTransientIO, err))
	}
	if found {
		res.Outcome = OutcomeAlreadyClosed
		res.Record = &existing
		c.markClosed(ctx, clientID, day)
		return res
	}

	ops, err := c.store.GetOperations(ctx, day)
	if err != nil {
		return failed(res, OutcomeFailed, fmt.Errorf("%w: operations for %s: %v", ErrTransientIO, day, err))
	}
	accounts, err := c.store.ListAccounts(ctx)
	if err != nil {
		return failed(res, OutcomeFailed, fmt.Errorf("%w: accounts: %v", ErrTransientIO, err))
	}
	summary := ledger.SummarizeDay(day, accounts, ops)
	record := DayClosureRecord{
		DayKey:            day,
		OperationsCount:   summary.OperationsCount,
		BalancesByAccount: summary.BalancesByAccount,
		Totals:            summary.Totals,
		Operations:        dayOperations(day, ops),
		ArchivedAt:        c.now(),
		ArchivedBy:        ArchivedBy{UserID: actor.UserID, UserName: actor.UserName},
	}
	err = c.store.AtomicCommit(ctx, CreateRecord{Record: record}, PutStatus{Status: Idle(day)})
	if errors.Is(err, ErrRecordExists) {
		res.Outcome = OutcomeAlreadyClosed
		c.markClosed(ctx, clientID, day)
		return res
	}
	if err != nil {
		return failed(res, OutcomeFailed, fmt.Errorf("%w: commit archive: %v", ErrTransientIO, err))
	}
	committed = true

	if err := c.verify(ctx, record); err != nil {
		return failed(res, OutcomeFailed, err)
	}
	c.markClosed(ctx, clientID, day)
	res.Outcome = OutcomeSuccess
	res.Record = &record
	return res
}

// verify re-reads the archive. An unreadable record is tolerated since the
// commit succeeded; a missing or different one is not.
func (c *Coordinator) verify(ctx context.Context, want DayClosureRecord) error {
	got, found, err := c.store.GetClosureRecord(ctx, want.DayKey)
	if err != nil {
		c.logger.Warn("closure verification skipped", slog.String("day", want.DayKey.String()), slog.Any("error", err))
		return nil
	}
	if !found {
		return fmt.Errorf("%w: %s missing after commit", ErrDataInconsistent, want.DayKey)
	}
	if got.Totals != want.Totals || got.OperationsCount != want.OperationsCount {
		return fmt.Errorf("%w: %s stored totals %+v count %d, expected %+v count %d",
			ErrDataInconsistent, want.DayKey, got.Totals, got.OperationsCount, want.Totals, want.OperationsCount)
	}
	return nil
}

// release resets the flag unless another attempt has taken it over. It runs
// detached from ctx cancellation so an aborted request still frees the lock.
func (c *Coordinator) release(ctx context.Context, attempt QueueStatus) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	current, err := c.status.ReadStatus(ctx)
	if err == nil && current.EnCours && current.AttemptID != attempt.AttemptID {
		return
	}
	if err := c.status.WriteStatus(ctx, Idle(attempt.DayKey)); err != nil {
		c.logger.Error("closure lock release failed",
			slog.String("day", attempt.DayKey.String()), slog.Any("error", err))
	}
}

func (c *Coordinator) markClosed(ctx context.Context, clientID string, day ledger.DayKey) {
	if c.cache == nil || clientID == "" {
		return
	}
	entry, err := c.cache.Load(ctx, clientID)
	if err != nil {
		entry = CacheEntry{}
	}
	if entry.LastClosedDay == "" || entry.LastClosedDay.Before(day) {
		entry.LastClosedDay = day
	}
	entry.LastCheckedAt = c.now()
	entry.ClosureTaskCreated = false
	entry.ReminderDismissedDay = ""
	entry.ReminderDay = ""
	entry.ReminderCount = 0
	if err := c.cache.Save(ctx, clientID, entry); err != nil {
		c.logger.Warn("closure cache write", slog.String("client", clientID), slog.Any("error", err))
	}
}

func dayOperations(day ledger.DayKey, ops []ledger.Operation) []ledger.Operation {
	out := make([]ledger.Operation, 0, len(ops))
	for _, op := range ops {
		if op.DayKey() == day {
			out = append(out, op)
		}
	}
	return out
}

func failed(res Result, outcome Outcome, err error) Result {
	res.Outcome = outcome
	res.Err = err
	return res
}

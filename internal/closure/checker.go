package closure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/restaurant-ops/restops/internal/ledger"
	"github.com/restaurant-ops/restops/internal/shared"
)

// DecisionSource tells which path produced a Decision.
type DecisionSource string

const (
	SourceCache    DecisionSource = "cache"
	SourceStore    DecisionSource = "store"
	SourceFailOpen DecisionSource = "fail_open"
)

// Decision is the outcome of a requirement check for one day.
type Decision struct {
	Day       ledger.DayKey      `json:"day_key"`
	Required  bool               `json:"required"`
	Source    DecisionSource     `json:"source"`
	Summary   *ledger.DaySummary `json:"summary,omitempty"`
	CheckedAt time.Time          `json:"checked_at"`
}

// CheckerConfig wires the checker dependencies.
type CheckerConfig struct {
	Store    Store
	Cache    LocalCache
	Logger   *slog.Logger
	Location *time.Location
	// CacheTrust bounds how old a cache hint may be before the store is
	// consulted anyway. Zero trusts any matching hint.
	CacheTrust time.Duration
}

// Checker decides whether yesterday still has to be closed.
type Checker struct {
	store  Store
	cache  LocalCache
	logger *slog.Logger
	loc    *time.Location
	trust  time.Duration
	now    func() time.Time
	group  singleflight.Group
}

// NewChecker constructs a Checker.
func NewChecker(cfg CheckerConfig) *Checker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Checker{
		store:  cfg.Store,
		cache:  cfg.Cache,
		logger: logger,
		loc:    loc,
		trust:  cfg.CacheTrust,
		now:    time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (c *Checker) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Yesterday returns the day the checker examines by default.
func (c *Checker) Yesterday() ledger.DayKey {
	return ledger.Yesterday(c.now().In(c.loc))
}

// Check examines yesterday for clientID.
func (c *Checker) Check(ctx context.Context, clientID string) Decision {
	return c.CheckDay(ctx, clientID, c.Yesterday())
}

// CheckDay examines day for clientID. It never returns an error: storage
// failures produce a NOT REQUIRED decision for this cycle.
func (c *Checker) CheckDay(ctx context.Context, clientID string, day ledger.DayKey) Decision {
	now := c.now()
	decision := Decision{Day: day, CheckedAt: now}

	hint, err := ReadHint(ctx, c.cache, clientID, day, now, c.trust)
	if err != nil {
		c.logger.Warn("closure cache read", slog.String("client", clientID), slog.Any("error", err))
	}
	if hint.Closed && hint.Confidence == ConfidenceHint {
		decision.Source = SourceCache
		return decision
	}

	_, found, err := c.lookupRecord(ctx, day)
	if err != nil {
		c.logger.Warn("closure check failed, skipping this cycle",
			slog.String("day", day.String()), slog.Any("error", err))
		decision.Source = SourceFailOpen
		return decision
	}
	decision.Source = SourceStore
	entry := hint.Entry
	entry.LastCheckedAt = now
	if found {
		entry.LastClosedDay = day
		entry.ClosureTaskCreated = false
		c.saveEntry(ctx, clientID, entry)
		return decision
	}

	decision.Required = true
	entry.ClosureTaskCreated = true
	c.saveEntry(ctx, clientID, entry)

	summary, err := c.Summary(ctx, day)
	if err != nil {
		c.logger.Warn("closure summary unavailable", slog.String("day", day.String()), slog.Any("error", err))
		return decision
	}
	decision.Summary = &summary
	return decision
}

// Summary computes the aggregate view of day from the store.
func (c *Checker) Summary(ctx context.Context, day ledger.DayKey) (ledger.DaySummary, error) {
	val, err, _ := c.do(ctx, shared.ClosureSummaryKey(day.String()), func(ctx context.Context) (interface{}, error) {
		return summarize(ctx, c.store, day)
	})
	if err != nil {
		return ledger.DaySummary{}, err
	}
	return val.(ledger.DaySummary), nil
}

func (c *Checker) lookupRecord(ctx context.Context, day ledger.DayKey) (DayClosureRecord, bool, error) {
	type lookup struct {
		rec   DayClosureRecord
		found bool
	}
	val, err, _ := c.do(ctx, shared.ClosureCheckKey(day.String()), func(ctx context.Context) (interface{}, error) {
		rec, found, err := c.store.GetClosureRecord(ctx, day)
		if err != nil {
			return nil, err
		}
		return lookup{rec: rec, found: found}, nil
	})
	if err != nil {
		return DayClosureRecord{}, false, err
	}
	res := val.(lookup)
	return res.rec, res.found, nil
}

func (c *Checker) do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error, bool) {
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}

func (c *Checker) saveEntry(ctx context.Context, clientID string, entry CacheEntry) {
	if c.cache == nil || clientID == "" {
		return
	}
	if err := c.cache.Save(ctx, clientID, entry); err != nil {
		c.logger.Warn("closure cache write", slog.String("client", clientID), slog.Any("error", err))
	}
}

func summarize(ctx context.Context, store Store, day ledger.DayKey) (ledger.DaySummary, error) {
	ops, err := store.GetOperations(ctx, day)
	if err != nil {
		return ledger.DaySummary{}, fmt.Errorf("%w: operations for %s: %v", ErrTransientIO, day, err)
	}
	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return ledger.DaySummary{}, fmt.Errorf("%w: accounts: %v", ErrTransientIO, err)
	}
	return ledger.SummarizeDay(day, accounts, ops), nil
}

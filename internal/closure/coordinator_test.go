package closure_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/restaurant-ops/restops/internal/closure"
	"github.com/restaurant-ops/restops/internal/closure/memstore"
	"github.com/restaurant-ops/restops/internal/ledger"
	"github.com/restaurant-ops/restops/internal/shared"
)

var (
	admin  = shared.Actor{UserID: "u-1", UserName: "Awa", Role: shared.RoleAdmin}
	admin2 = shared.Actor{UserID: "u-2", UserName: "Koffi", Role: shared.RoleAdmin}
	clerk  = shared.Actor{UserID: "u-3", UserName: "Serveur", Role: shared.RoleStaff}
)

const exampleDay = ledger.DayKey("04112025")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore() *memstore.Store {
	store := memstore.New(time.UTC)
	store.AddAccounts(
		ledger.Account{ID: "caisse", Name: "Caisse", Code: "571"},
		ledger.Account{ID: "momo", Name: "Mobile money", Code: "521"},
	)
	ts := time.Date(2025, 11, 4, 12, 0, 0, 0, time.UTC)
	store.AddOperations(
		ledger.Operation{ID: "op-1", AccountID: "caisse", Kind: ledger.KindEntree, Amount: 5000, Timestamp: ts},
		ledger.Operation{ID: "op-2", AccountID: "caisse", Kind: ledger.KindSortie, Amount: 1200, Timestamp: ts.Add(time.Hour)},
		ledger.Operation{ID: "op-3", AccountID: "momo", Kind: ledger.KindEntree, Amount: 3000, Timestamp: ts.Add(2 * time.Hour)},
		ledger.Operation{ID: "op-4", AccountID: "caisse", Kind: ledger.KindEntree, Amount: 700, Timestamp: ts.AddDate(0, 0, 1)},
	)
	return store
}

func newRedisCache(t *testing.T) *closure.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return closure.NewRedisCache(client, time.Hour)
}

func newCoordinator(store closure.Store, status closure.StatusChannel, cache closure.LocalCache, now time.Time) *closure.Coordinator {
	c := closure.NewCoordinator(closure.CoordinatorConfig{
		Store:        store,
		Status:       status,
		Cache:        cache,
		Logger:       quietLogger(),
		Location:     time.UTC,
		Watchdog:     2 * time.Minute,
		LookbackDays: 3,
	})
	c.WithNow(func() time.Time { return now })
	return c
}

func TestCloseExampleDayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	cache := newRedisCache(t)
	now := time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC)
	coord := newCoordinator(store, store, cache, now)

	res := coord.Close(ctx, admin, "tab-1", exampleDay)
	require.Equal(t, closure.OutcomeSuccess, res.Outcome)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Record)
	require.Equal(t, exampleDay, res.Record.DayKey)
	require.Equal(t, 3, res.Record.OperationsCount)
	require.Len(t, res.Record.Operations, 3)
	require.Equal(t, ledger.Totals{Entrees: 8000, Sorties: 1200, Balance: 6800}, res.Record.Totals)
	require.Equal(t, map[string]int64{"caisse": 3800, "momo": 3000}, res.Record.BalancesByAccount)
	require.Equal(t, closure.ArchivedBy{UserID: "u-1", UserName: "Awa"}, res.Record.ArchivedBy)
	require.Equal(t, now, res.Record.ArchivedAt)

	st, err := store.ReadStatus(ctx)
	require.NoError(t, err)
	require.False(t, st.EnCours)

	entry, err := cache.Load(ctx, "tab-1")
	require.NoError(t, err)
	require.Equal(t, exampleDay, entry.LastClosedDay)
	require.False(t, entry.ClosureTaskCreated)

	again := coord.Close(ctx, admin2, "tab-2", exampleDay)
	require.Equal(t, closure.OutcomeAlreadyClosed, again.Outcome)
	require.NoError(t, again.Err)
	require.Equal(t, 1, store.RecordCount())

	st, err = store.ReadStatus(ctx)
	require.NoError(t, err)
	require.False(t, st.EnCours)
}

func TestConcurrentClosuresArchiveOnce(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	now := time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC)
	coord := newCoordinator(store, store, memstore.NewCache(), now)

	const workers = 8
	results := make([]closure.Result, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			actor := admin
			if i%2 == 1 {
				actor = admin2
			}
			results[i] = coord.Close(ctx, actor, "", exampleDay)
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, res := range results {
		switch res.Outcome {
		case closure.OutcomeSuccess:
			successes++
		case closure.OutcomeInProgress, closure.OutcomeAlreadyClosed:
		default:
			t.Fatalf("unexpected outcome %s: %v", res.Outcome, res.Err)
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, store.RecordCount())

	st, err := store.ReadStatus(ctx)
	require.NoError(t, err)
	require.False(t, st.EnCours)
}

func TestCloseRefusedWhileLockHeld(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	now := time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC)
	holder := closure.QueueStatus{EnCours: true, DayKey: exampleDay, StartedBy: "u-2", StartedAt: now.Add(-90 * time.Second), AttemptID: "other"}
	require.NoError(t, store.WriteStatus(ctx, holder))

	coord := newCoordinator(store, store, nil, now)
	res := coord.Close(ctx, admin, "", exampleDay)
	require.Equal(t, closure.OutcomeInProgress, res.Outcome)
	require.ErrorIs(t, res.Err, closure.ErrLockHeld)
	require.NotNil(t, res.Holder)
	require.Equal(t, "u-2", res.Holder.StartedBy)
	require.Equal(t, 0, store.RecordCount())

	st, err := store.ReadStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, holder, st)
}

func TestAbandonedLockIsReclaimed(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	now := time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.WriteStatus(ctx, closure.QueueStatus{
		EnCours: true, DayKey: exampleDay, StartedBy: "u-2", StartedAt: now.Add(-3 * time.Minute), AttemptID: "crashed",
	}))

	coord := newCoordinator(store, store, nil, now)
	res := coord.Close(ctx, admin, "", exampleDay)
	require.Equal(t, closure.OutcomeSuccess, res.Outcome)
	require.Equal(t, 1, store.RecordCount())
}

func TestNonAdministratorRejectedBeforeLock(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	var statusWrites int
	store.WriteErr = func(op string) error {
		if op == "status" {
			statusWrites++
		}
		return nil
	}
	coord := newCoordinator(store, store, nil, time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC))

	res := coord.Close(ctx, clerk, "", exampleDay)
	require.Equal(t, closure.OutcomePermissionDenied, res.Outcome)
	require.ErrorIs(t, res.Err, closure.ErrPermissionDenied)
	require.Equal(t, closure.KindPermissionDenied, closure.Classify(res.Err))
	require.Zero(t, statusWrites)
	require.Equal(t, 0, store.RecordCount())
}

func TestCommitFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	store.WriteErr = func(op string) error {
		if op == "commit" {
			return errors.New("connection reset")
		}
		return nil
	}
	coord := newCoordinator(store, store, nil, time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC))

	res := coord.Close(ctx, admin, "", exampleDay)
	require.Equal(t, closure.OutcomeFailed, res.Outcome)
	require.ErrorIs(t, res.Err, closure.ErrTransientIO)
	require.Equal(t, closure.KindTransientIO, closure.Classify(res.Err))
	require.Equal(t, 0, store.RecordCount())

	st, err := store.ReadStatus(ctx)
	require.NoError(t, err)
	require.False(t, st.EnCours)

	store.WriteErr = nil
	retry := coord.Close(ctx, admin, "", exampleDay)
	require.Equal(t, closure.OutcomeSuccess, retry.Outcome)
}

func TestVerificationReadFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	store.ReadErr = func(op string) error {
		if op == "record" {
			return errors.New("timeout")
		}
		return nil
	}
	coord := newCoordinator(store, store, nil, time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC))

	res := coord.Close(ctx, admin, "", exampleDay)
	require.Equal(t, closure.OutcomeFailed, res.Outcome)

	store.ReadErr = nil
	st, err := store.ReadStatus(ctx)
	require.NoError(t, err)
	require.False(t, st.EnCours)
}

// vanishingStore loses archives after they are committed.
type vanishingStore struct {
	*memstore.Store
	committed bool
}

func (s *vanishingStore) AtomicCommit(ctx context.Context, writes ...closure.Write) error {
	if err := s.Store.AtomicCommit(ctx, writes...); err != nil {
		return err
	}
	s.committed = true
	return nil
}

func (s *vanishingStore) GetClosureRecord(ctx context.Context, day ledger.DayKey) (closure.DayClosureRecord, bool, error) {
	if s.committed {
		return closure.DayClosureRecord{}, false, nil
	}
	return s.Store.GetClosureRecord(ctx, day)
}

func TestMissingArchiveAfterCommitIsInconsistent(t *testing.T) {
	ctx := context.Background()
	inner := seededStore()
	store := &vanishingStore{Store: inner}
	coord := newCoordinator(store, inner, nil, time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC))

	res := coord.Close(ctx, admin, "", exampleDay)
	require.Equal(t, closure.OutcomeFailed, res.Outcome)
	require.ErrorIs(t, res.Err, closure.ErrDataInconsistent)
	require.Equal(t, closure.KindDataInconsistent, closure.Classify(res.Err))
}

func TestCloseMissedDaysOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	require.NoError(t, store.CreateClosureRecord(ctx, closure.DayClosureRecord{DayKey: exampleDay}))
	now := time.Date(2025, 11, 6, 10, 0, 0, 0, time.UTC)
	coord := newCoordinator(store, store, nil, now)

	pending, err := coord.PendingDays(ctx)
	require.NoError(t, err)
	require.Equal(t, []ledger.DayKey{"03112025", "05112025"}, pending)

	results, err := coord.CloseMissed(ctx, admin, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, ledger.DayKey("03112025"), results[0].Day)
	require.Equal(t, closure.OutcomeSuccess, results[0].Outcome)
	require.Equal(t, 0, results[0].Record.OperationsCount)
	require.Equal(t, ledger.DayKey("05112025"), results[1].Day)
	require.Equal(t, int64(700), results[1].Record.Totals.Balance)
	require.Equal(t, 3, store.RecordCount())

	pending, err = coord.PendingDays(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestCloseRejectsInvalidDay(t *testing.T) {
	store := seededStore()
	coord := newCoordinator(store, store, nil, time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC))
	res := coord.Close(context.Background(), admin, "", "2025-11-04")
	require.Equal(t, closure.OutcomeFailed, res.Outcome)
	require.ErrorIs(t, res.Err, closure.ErrInvalidDay)
	require.Equal(t, closure.KindValidation, closure.Classify(res.Err))

	res = coord.Close(context.Background(), admin, "", "05112025")
	require.Equal(t, closure.OutcomeFailed, res.Outcome)
	require.ErrorIs(t, res.Err, closure.ErrInvalidDay)
	require.Equal(t, 0, store.RecordCount())
}

func TestStatusSubscribersSeeRelease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := seededStore()
	var (
		mu   sync.Mutex
		seen []bool
	)
	_, err := store.Subscribe(ctx, func(st closure.QueueStatus) {
		mu.Lock()
		seen = append(seen, st.EnCours)
		mu.Unlock()
	})
	require.NoError(t, err)

	coord := newCoordinator(store, store, nil, time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC))
	res := coord.Close(ctx, admin, "", exampleDay)
	require.Equal(t, closure.OutcomeSuccess, res.Outcome)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false}, seen)
}

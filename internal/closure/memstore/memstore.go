// Package memstore is an in-process closure.Store and closure.StatusChannel
// used by tests and by the server when no database is configured.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/restaurant-ops/restops/internal/closure"
	"github.com/restaurant-ops/restops/internal/ledger"
)

// Store keeps operations, archives and the queue status in memory.
type Store struct {
	mu          sync.Mutex
	loc         *time.Location
	accounts    []ledger.Account
	ops         []ledger.Operation
	records     map[ledger.DayKey]closure.DayClosureRecord
	status      closure.QueueStatus
	subscribers map[int]func(closure.QueueStatus)
	nextSub     int

	// Failure hooks, consulted on every call when set.
	ReadErr  func(op string) error
	WriteErr func(op string) error
	OnCommit func()
}

// New returns an empty store whose day boundaries follow loc.
func New(loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		loc:         loc,
		records:     make(map[ledger.DayKey]closure.DayClosureRecord),
		subscribers: make(map[int]func(closure.QueueStatus)),
	}
}

// AddAccounts registers treasury accounts.
func (s *Store) AddAccounts(accounts ...ledger.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, accounts...)
}

// AddOperations appends operations.
func (s *Store) AddOperations(ops ...ledger.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, ops...)
}

// RecordCount returns how many archives exist.
func (s *Store) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) readErr(op string) error {
	if s.ReadErr == nil {
		return nil
	}
	return s.ReadErr(op)
}

func (s *Store) writeErr(op string) error {
	if s.WriteErr == nil {
		return nil
	}
	return s.WriteErr(op)
}

// GetOperations implements closure.Store.
func (s *Store) GetOperations(ctx context.Context, day ledger.DayKey) ([]ledger.Operation, error) {
	start, end := day.Bounds(s.loc)
	return s.ListOperations(ctx, start, end)
}

// ListOperations implements closure.OperationReader.
func (s *Store) ListOperations(ctx context.Context, from, to time.Time) ([]ledger.Operation, error) {
	if err := s.readErr("operations"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Operation
	for _, op := range s.ops {
		if op.Timestamp.Before(from) || !op.Timestamp.Before(to) {
			continue
		}
		op.Timestamp = op.Timestamp.In(s.loc)
		out = append(out, op)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ListAccounts implements closure.Store.
func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	if err := s.readErr("accounts"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Account, len(s.accounts))
	copy(out, s.accounts)
	return out, nil
}

// GetClosureRecord implements closure.Store.
func (s *Store) GetClosureRecord(ctx context.Context, day ledger.DayKey) (closure.DayClosureRecord, bool, error) {
	if err := s.readErr("record"); err != nil {
		return closure.DayClosureRecord{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[day]
	return rec, ok, nil
}

// CreateClosureRecord implements closure.Store.
func (s *Store) CreateClosureRecord(ctx context.Context, rec closure.DayClosureRecord) error {
	return s.AtomicCommit(ctx, closure.CreateRecord{Record: rec})
}

// AtomicCommit validates every write before applying any of them.
func (s *Store) AtomicCommit(ctx context.Context, writes ...closure.Write) error {
	if err := s.writeErr("commit"); err != nil {
		return err
	}
	s.mu.Lock()
	pending := make(map[ledger.DayKey]closure.DayClosureRecord)
	var status *closure.QueueStatus
	for _, w := range writes {
		switch w := w.(type) {
		case closure.CreateRecord:
			if _, exists := s.records[w.Record.DayKey]; exists {
				s.mu.Unlock()
				return closure.ErrRecordExists
			}
			if _, dup := pending[w.Record.DayKey]; dup {
				s.mu.Unlock()
				return closure.ErrRecordExists
			}
			pending[w.Record.DayKey] = w.Record
		case closure.PutStatus:
			st := w.Status
			status = &st
		}
	}
	for day, rec := range pending {
		s.records[day] = rec
	}
	subs := s.applyStatusLocked(status)
	s.mu.Unlock()
	if s.OnCommit != nil {
		s.OnCommit()
	}
	notify(subs, status)
	return nil
}

// ReadStatus implements closure.StatusChannel.
func (s *Store) ReadStatus(ctx context.Context) (closure.QueueStatus, error) {
	if err := s.readErr("status"); err != nil {
		return closure.QueueStatus{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

// WriteStatus implements closure.StatusChannel.
func (s *Store) WriteStatus(ctx context.Context, status closure.QueueStatus) error {
	if err := s.writeErr("status"); err != nil {
		return err
	}
	s.mu.Lock()
	subs := s.applyStatusLocked(&status)
	s.mu.Unlock()
	notify(subs, &status)
	return nil
}

// Subscribe implements closure.StatusChannel. Callbacks run synchronously
// after each committed change.
func (s *Store) Subscribe(ctx context.Context, fn func(closure.QueueStatus)) (func(), error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return cancel, nil
}

func (s *Store) applyStatusLocked(st *closure.QueueStatus) []func(closure.QueueStatus) {
	if st == nil {
		return nil
	}
	s.status = *st
	subs := make([]func(closure.QueueStatus), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(closure.QueueStatus), st *closure.QueueStatus) {
	if st == nil {
		return
	}
	for _, fn := range subs {
		fn(*st)
	}
}

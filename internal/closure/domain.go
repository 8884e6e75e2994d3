// Package closure archives each calendar day's treasury operations exactly
// once. It checks whether yesterday still needs closing, serialises closure
// attempts across administrators through a single status record, and writes
// the immutable DayClosureRecord atomically with the lock release.
package closure

import (
	"errors"
	"time"

	"github.com/restaurant-ops/restops/internal/ledger"
)

// ArchivedBy identifies the administrator who performed a closure.
type ArchivedBy struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// DayClosureRecord is the write-once archive of a day. Its existence is the
// only proof that the day is closed.
type DayClosureRecord struct {
	DayKey            ledger.DayKey      `json:"day_key"`
	OperationsCount   int                `json:"operations_count"`
	BalancesByAccount map[string]int64   `json:"balances_by_account"`
	Totals            ledger.Totals      `json:"totals"`
	Operations        []ledger.Operation `json:"operations,omitempty"`
	ArchivedAt        time.Time          `json:"archived_at"`
	ArchivedBy        ArchivedBy         `json:"archived_by"`
}

// QueueStatus is the single shared record acting as the closure mutex. The
// name is historical: it admits one holder at a time and keeps no waiting
// order.
type QueueStatus struct {
	EnCours       bool          `json:"en_cours"`
	DayKey        ledger.DayKey `json:"day_key,omitempty"`
	StartedBy     string        `json:"started_by,omitempty"`
	StartedByName string        `json:"started_by_name,omitempty"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	AttemptID     string        `json:"attempt_id,omitempty"`
}

// Idle returns the released form of the status for day.
func Idle(day ledger.DayKey) QueueStatus {
	return QueueStatus{DayKey: day}
}

// Abandoned reports whether a held lock is older than watchdog at now.
func (s QueueStatus) Abandoned(now time.Time, watchdog time.Duration) bool {
	if !s.EnCours {
		return false
	}
	if s.StartedAt.IsZero() {
		return true
	}
	return now.Sub(s.StartedAt) > watchdog
}

// CacheEntry is the per-client hint blob. It is never authoritative.
type CacheEntry struct {
	LastClosedDay        ledger.DayKey `json:"derniereClotureDate,omitempty"`
	LastCheckedAt        time.Time     `json:"derniereVerificationTimestamp,omitempty"`
	ReminderDismissedDay ledger.DayKey `json:"notificationCacher23h,omitempty"`
	ClosureTaskCreated   bool          `json:"todoClotureCree,omitempty"`
	LastReminderAt       time.Time     `json:"lastReminderAt,omitempty"`
	ReminderDay          ledger.DayKey `json:"reminderDay,omitempty"`
	ReminderCount        int           `json:"reminderCount,omitempty"`
}

// Outcome is the structured result code of a closure attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "SUCCESS"
	OutcomeInProgress       Outcome = "CLOSURE_IN_PROGRESS"
	OutcomeAlreadyClosed    Outcome = "ALREADY_CLOSED"
	OutcomeFailed           Outcome = "FAILED"
	OutcomePermissionDenied Outcome = "PERMISSION_DENIED"
)

// Result describes how a closure attempt ended. Err is set for FAILED and
// PERMISSION_DENIED outcomes.
type Result struct {
	Outcome Outcome           `json:"outcome"`
	Day     ledger.DayKey     `json:"day_key"`
	Record  *DayClosureRecord `json:"record,omitempty"`
	Holder  *QueueStatus      `json:"holder,omitempty"`
	Err     error             `json:"-"`
}

// ErrorKind classifies failures for callers and logs.
type ErrorKind string

const (
	KindTransientIO      ErrorKind = "TRANSIENT_IO"
	KindLockHeld         ErrorKind = "LOCK_HELD"
	KindAlreadyDone      ErrorKind = "ALREADY_DONE"
	KindPermissionDenied ErrorKind = "PERMISSION_DENIED"
	KindDataInconsistent ErrorKind = "DATA_INCONSISTENT"
	KindValidation       ErrorKind = "VALIDATION"
)

var (
	// ErrTransientIO wraps storage or network failures; the next cycle retries.
	ErrTransientIO = errors.New("closure: transient storage failure")
	// ErrLockHeld indicates another administrator is closing.
	ErrLockHeld = errors.New("closure: closure already in progress")
	// ErrAlreadyClosed indicates the day already has a closure record.
	ErrAlreadyClosed = errors.New("closure: day already closed")
	// ErrPermissionDenied is returned for non administrators.
	ErrPermissionDenied = errors.New("closure: administrator role required")
	// ErrDataInconsistent flags an archive that does not match what was written.
	ErrDataInconsistent = errors.New("closure: archived record inconsistent")
	// ErrRecordExists is returned by stores on a create-if-absent conflict.
	ErrRecordExists = errors.New("closure: record already exists")
	// ErrInvalidDay indicates a malformed day key.
	ErrInvalidDay = errors.New("closure: invalid day key")
)

// Classify maps an error to its ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrLockHeld):
		return KindLockHeld
	case errors.Is(err, ErrAlreadyClosed), errors.Is(err, ErrRecordExists):
		return KindAlreadyDone
	case errors.Is(err, ErrDataInconsistent):
		return KindDataInconsistent
	case errors.Is(err, ErrInvalidDay):
		return KindValidation
	default:
		return KindTransientIO
	}
}

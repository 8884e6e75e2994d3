package closure

import (
	"context"
	"time"

	"github.com/restaurant-ops/restops/internal/ledger"
)

// Store is the transactional document store holding operations and archives.
type Store interface {
	GetOperations(ctx context.Context, day ledger.DayKey) ([]ledger.Operation, error)
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	// GetClosureRecord reports found=false when the day has no archive.
	GetClosureRecord(ctx context.Context, day ledger.DayKey) (DayClosureRecord, bool, error)
	// CreateClosureRecord fails with ErrRecordExists when the day is archived.
	CreateClosureRecord(ctx context.Context, rec DayClosureRecord) error
	// AtomicCommit applies every write or none of them.
	AtomicCommit(ctx context.Context, writes ...Write) error
}

// OperationReader lists operations over arbitrary ranges for reporting.
type OperationReader interface {
	ListOperations(ctx context.Context, from, to time.Time) ([]ledger.Operation, error)
}

// StatusChannel exposes the shared closure status with push updates.
type StatusChannel interface {
	ReadStatus(ctx context.Context) (QueueStatus, error)
	WriteStatus(ctx context.Context, status QueueStatus) error
	// Subscribe invokes fn for every status change until the returned cancel
	// func is called or ctx ends.
	Subscribe(ctx context.Context, fn func(QueueStatus)) (func(), error)
}

// LocalCache persists a client's hint blob. It offers no cross-client
// consistency.
type LocalCache interface {
	Load(ctx context.Context, clientID string) (CacheEntry, error)
	Save(ctx context.Context, clientID string, entry CacheEntry) error
}

// Write is a single mutation inside AtomicCommit.
type Write interface {
	isWrite()
}

// CreateRecord creates a DayClosureRecord with create-if-absent semantics.
type CreateRecord struct {
	Record DayClosureRecord
}

// PutStatus overwrites the shared queue status.
type PutStatus struct {
	Status QueueStatus
}

func (CreateRecord) isWrite() {}
func (PutStatus) isWrite()    {}

// OutcomeRecorder receives closure outcomes for metrics.
type OutcomeRecorder interface {
	RecordClosure(outcome Outcome, kind ErrorKind, elapsed time.Duration)
}

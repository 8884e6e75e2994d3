package closure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/restaurant-ops/restops/internal/ledger"
	"github.com/restaurant-ops/restops/internal/platform/db"
	"github.com/restaurant-ops/restops/internal/shared"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the Postgres backed Store and StatusChannel. Status changes
// are pushed to subscribers with LISTEN/NOTIFY, emitted inside the same
// transaction as the write so listeners only see committed states.
type Repository struct {
	pool   *pgxpool.Pool
	loc    *time.Location
	logger *slog.Logger
	dial   func(ctx context.Context) (listenConn, error)

	mu         sync.Mutex
	subs       map[int]func(QueueStatus)
	nextSub    int
	stopListen context.CancelFunc
}

// NewRepository constructs a Repository. Operation timestamps are converted to
// loc so that day keys follow the restaurant's calendar.
func NewRepository(pool *pgxpool.Pool, loc *time.Location, logger *slog.Logger) *Repository {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{pool: pool, loc: loc, logger: logger, subs: make(map[int]func(QueueStatus))}
	r.dial = r.dialListener
	return r
}

// GetOperations returns the operations dated on day.
func (r *Repository) GetOperations(ctx context.Context, day ledger.DayKey) ([]ledger.Operation, error) {
	start, end := day.Bounds(r.loc)
	return r.ListOperations(ctx, start, end)
}

// ListOperations returns operations in [from, to) ordered by timestamp.
func (r *Repository) ListOperations(ctx context.Context, from, to time.Time) ([]ledger.Operation, error) {
	const query = `SELECT id, account_id, kind, amount, occurred_at, COALESCE(reason, '')
FROM treasury_operations
WHERE occurred_at >= $1 AND occurred_at < $2
ORDER BY occurred_at, id`
	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []ledger.Operation
	for rows.Next() {
		var (
			op     ledger.Operation
			kind   string
			amount pgtype.Int8
		)
		if err := rows.Scan(&op.ID, &op.AccountID, &kind, &amount, &op.Timestamp, &op.Reason); err != nil {
			return nil, err
		}
		op.Kind = ledger.ParseKind(kind)
		if amount.Valid {
			op.Amount = amount.Int64
		}
		op.Timestamp = op.Timestamp.In(r.loc)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ListAccounts returns the active treasury accounts.
func (r *Repository) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, code FROM treasury_accounts WHERE archived_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []ledger.Account
	for rows.Next() {
		var acc ledger.Account
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Code); err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// GetClosureRecord loads the archive for day.
func (r *Repository) GetClosureRecord(ctx context.Context, day ledger.DayKey) (DayClosureRecord, bool, error) {
	const query = `SELECT day_key, operations_count, balances, totals, operations, archived_at, archived_by_id, archived_by_name
FROM day_closures WHERE day_key = $1`
	var (
		rec                        DayClosureRecord
		key                        string
		balances, totals, snapshot []byte
	)
	err := r.pool.QueryRow(ctx, query, day.String()).Scan(
		&key, &rec.OperationsCount, &balances, &totals, &snapshot,
		&rec.ArchivedAt, &rec.ArchivedBy.UserID, &rec.ArchivedBy.UserName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DayClosureRecord{}, false, nil
	}
	if err != nil {
		return DayClosureRecord{}, false, err
	}
	rec.DayKey = ledger.DayKey(key)
	if err := json.Unmarshal(balances, &rec.BalancesByAccount); err != nil {
		return DayClosureRecord{}, false, fmt.Errorf("closure: decode balances for %s: %w", key, err)
	}
	if err := json.Unmarshal(totals, &rec.Totals); err != nil {
		return DayClosureRecord{}, false, fmt.Errorf("closure: decode totals for %s: %w", key, err)
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &rec.Operations); err != nil {
			return DayClosureRecord{}, false, fmt.Errorf("closure: decode operations for %s: %w", key, err)
		}
	}
	return rec, true, nil
}

// CreateClosureRecord inserts the archive, failing with ErrRecordExists when
// the day is already closed.
func (r *Repository) CreateClosureRecord(ctx context.Context, rec DayClosureRecord) error {
	return r.insertRecord(ctx, r.pool, rec)
}

// AtomicCommit applies writes in one repeatable-read transaction.
func (r *Repository) AtomicCommit(ctx context.Context, writes ...Write) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, w := range writes {
			var err error
			switch w := w.(type) {
			case CreateRecord:
				err = r.insertRecord(ctx, tx, w.Record)
			case PutStatus:
				err = r.putStatus(ctx, tx, w.Status)
			default:
				err = fmt.Errorf("closure: unsupported write %T", w)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadStatus returns the shared status; a missing row reads as idle.
func (r *Repository) ReadStatus(ctx context.Context) (QueueStatus, error) {
	const query = `SELECT en_cours, day_key, started_by, started_by_name, started_at, attempt_id
FROM closure_queue_status WHERE id = 1`
	var (
		st        QueueStatus
		day       string
		startedAt pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, query).Scan(&st.EnCours, &day, &st.StartedBy, &st.StartedByName, &startedAt, &st.AttemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return QueueStatus{}, nil
	}
	if err != nil {
		return QueueStatus{}, err
	}
	st.DayKey = ledger.DayKey(day)
	if startedAt.Valid {
		st.StartedAt = startedAt.Time
	}
	return st, nil
}

// WriteStatus overwrites the shared status (last writer wins).
func (r *Repository) WriteStatus(ctx context.Context, status QueueStatus) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return r.putStatus(ctx, tx, status)
	})
}

// Subscribe registers fn for status notifications. All subscribers share one
// LISTEN connection dialed outside the pool; it is opened by the first
// subscriber and closed after the last one leaves.
func (r *Repository) Subscribe(ctx context.Context, fn func(QueueStatus)) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopListen == nil {
		conn, err := r.dial(ctx)
		if err != nil {
			return nil, err
		}
		lctx, stop := context.WithCancel(context.Background())
		r.stopListen = stop
		go r.listenLoop(lctx, conn)
	}
	r.nextSub++
	id := r.nextSub
	r.subs[id] = fn

	var once sync.Once
	unsubscribe := func() { once.Do(func() { r.unsubscribe(id) }) }
	stopAfter := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stopAfter()
		unsubscribe()
	}, nil
}

func (r *Repository) unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	if len(r.subs) == 0 && r.stopListen != nil {
		r.stopListen()
		r.stopListen = nil
	}
}

func (r *Repository) broadcast(st QueueStatus) {
	r.mu.Lock()
	fns := make([]func(QueueStatus), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (r *Repository) listenLoop(ctx context.Context, conn listenConn) {
	defer func() {
		if conn != nil {
			closeListener(conn)
		}
	}()
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("closure status listener", slog.Any("error", err))
			closeListener(conn)
			conn = nil
			for conn == nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				if conn, err = r.dial(ctx); err != nil {
					r.logger.Warn("closure status relisten", slog.Any("error", err))
				}
			}
			continue
		}
		var st QueueStatus
		if err := json.Unmarshal([]byte(n.Payload), &st); err != nil {
			r.logger.Warn("closure status payload", slog.Any("error", err))
			continue
		}
		r.broadcast(st)
	}
}

// listenConn is the part of *pgx.Conn the status listener needs.
type listenConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// dialListener opens a dedicated connection so that long lived listeners
// never hold pool slots.
func (r *Repository) dialListener(ctx context.Context) (listenConn, error) {
	conn, err := pgx.ConnectConfig(ctx, r.pool.Config().ConnConfig.Copy())
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{shared.ClosureStatusChannel}.Sanitize()); err != nil {
		closeListener(conn)
		return nil, err
	}
	return conn, nil
}

func closeListener(conn listenConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = conn.Close(ctx)
}

func (r *Repository) insertRecord(ctx context.Context, q querier, rec DayClosureRecord) error {
	balances, err := json.Marshal(rec.BalancesByAccount)
	if err != nil {
		return err
	}
	totals, err := json.Marshal(rec.Totals)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(rec.Operations)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO day_closures
(day_key, day, operations_count, balances, totals, operations, archived_at, archived_by_id, archived_by_name)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = q.Exec(ctx, stmt,
		rec.DayKey.String(),
		pgtype.Date{Time: rec.DayKey.Time(time.UTC), Valid: true},
		rec.OperationsCount, balances, totals, snapshot,
		rec.ArchivedAt, rec.ArchivedBy.UserID, rec.ArchivedBy.UserName,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrRecordExists
	}
	return err
}

func (r *Repository) putStatus(ctx context.Context, q querier, st QueueStatus) error {
	const stmt = `INSERT INTO closure_queue_status
(id, en_cours, day_key, started_by, started_by_name, started_at, attempt_id, updated_at)
VALUES (1, $1, $2, $3, $4, $5, $6, now())
ON CONFLICT (id) DO UPDATE SET
	en_cours = EXCLUDED.en_cours,
	day_key = EXCLUDED.day_key,
	started_by = EXCLUDED.started_by,
	started_by_name = EXCLUDED.started_by_name,
	started_at = EXCLUDED.started_at,
	attempt_id = EXCLUDED.attempt_id,
	updated_at = EXCLUDED.updated_at`
	startedAt := pgtype.Timestamptz{Time: st.StartedAt, Valid: !st.StartedAt.IsZero()}
	if _, err := q.Exec(ctx, stmt, st.EnCours, st.DayKey.String(), st.StartedBy, st.StartedByName, startedAt, st.AttemptID); err != nil {
		return err
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `SELECT pg_notify($1, $2)`, shared.ClosureStatusChannel, string(payload))
	return err
}

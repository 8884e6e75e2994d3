package closurehttp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/restaurant-ops/restops/internal/closure"
	"github.com/restaurant-ops/restops/internal/ledger"
	"github.com/restaurant-ops/restops/internal/platform/httpx"
	"github.com/restaurant-ops/restops/internal/reminder"
	"github.com/restaurant-ops/restops/internal/shared"
)

// maxAggregateDays caps the range of /ledger/aggregates.
const maxAggregateDays = 366

// Config wires the handler dependencies.
type Config struct {
	Checker     *closure.Checker
	Coordinator *closure.Coordinator
	Status      closure.StatusChannel
	Operations  closure.OperationReader
	// Reminders is optional; reminder endpoints answer 503 without it.
	Reminders      *reminder.Hub
	Location       *time.Location
	Logger         *slog.Logger
	RequestTimeout time.Duration
	Heartbeat      time.Duration
}

// Handler exposes the closure engine over HTTP.
type Handler struct {
	checker     *closure.Checker
	coordinator *closure.Coordinator
	status      closure.StatusChannel
	operations  closure.OperationReader
	reminders   *reminder.Hub
	loc         *time.Location
	logger      *slog.Logger
	timeout     time.Duration
	heartbeat   time.Duration
	validator   *validator.Validate
	now         func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &Handler{
		checker:     cfg.Checker,
		coordinator: cfg.Coordinator,
		status:      cfg.Status,
		operations:  cfg.Operations,
		reminders:   cfg.Reminders,
		loc:         loc,
		logger:      logger,
		timeout:     timeout,
		heartbeat:   heartbeat,
		validator:   validator.New(),
		now:         time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (h *Handler) WithNow(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// MountRoutes registers the closure and ledger routes. The event stream is
// kept outside the request timeout.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(Identity)
		r.Get("/closure/queue/stream", h.stream)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(h.timeout))
			r.Get("/closure/status", h.closureStatus)
			r.Get("/closure/queue", h.queue)
			r.Get("/closure/pending", h.pending)
			r.Post("/closure/days/{day}/close", h.closeDay)
			r.Post("/closure/missed/close", h.closeMissed)
			r.Post("/closure/reminders/snooze", h.snooze)
			r.Post("/closure/reminders/dismiss", h.dismiss)
			r.Get("/ledger/days/{day}", h.daySummary)
			r.Get("/ledger/aggregates", h.aggregates)
		})
	})
}

type statusResponse struct {
	Decision      closure.Decision     `json:"decision"`
	Queue         *closure.QueueStatus `json:"queue,omitempty"`
	LockAbandoned bool                 `json:"lock_abandoned"`
	Reminders     *reminder.Pending    `json:"reminders,omitempty"`
}

func (h *Handler) closureStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := shared.ClientIDFromContext(ctx)
	actor, _ := shared.ActorFromContext(ctx)
	resp := statusResponse{Decision: h.checker.Check(ctx, clientID)}
	if st, err := h.coordinator.Status(ctx); err != nil {
		h.logger.Warn("closure status read", slog.Any("error", err))
	} else {
		resp.Queue = &st
		resp.LockAbandoned = st.Abandoned(h.now(), h.coordinator.Watchdog())
	}
	// An administrator's first status poll starts the client's reminders.
	if h.reminders != nil && clientID != "" && actor.IsAdmin() {
		sched, err := h.reminders.Get(clientID)
		if err != nil {
			h.logger.Warn("reminder scheduler unavailable", slog.String("client", clientID), slog.Any("error", err))
		} else {
			pending := sched.Pending()
			resp.Reminders = &pending
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) queue(w http.ResponseWriter, r *http.Request) {
	st, err := h.coordinator.Status(r.Context())
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	days, err := h.coordinator.PendingDays(r.Context())
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
		return
	}
	if days == nil {
		days = []ledger.DayKey{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"days": days})
}

type resultView struct {
	Outcome closure.Outcome           `json:"outcome"`
	Day     ledger.DayKey             `json:"day_key"`
	Record  *closure.DayClosureRecord `json:"record,omitempty"`
	Holder  *closure.QueueStatus      `json:"holder,omitempty"`
	Kind    closure.ErrorKind         `json:"kind,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

func newResultView(res closure.Result) resultView {
	view := resultView{Outcome: res.Outcome, Day: res.Day, Record: res.Record, Holder: res.Holder}
	if res.Err != nil && res.Outcome != closure.OutcomeInProgress {
		view.Kind = closure.Classify(res.Err)
		view.Error = res.Err.Error()
	}
	return view
}

func resultStatus(res closure.Result) int {
	switch res.Outcome {
	case closure.OutcomeSuccess, closure.OutcomeAlreadyClosed:
		return http.StatusOK
	case closure.OutcomeInProgress:
		return http.StatusConflict
	case closure.OutcomePermissionDenied:
		return http.StatusForbidden
	default:
		if closure.Classify(res.Err) == closure.KindValidation {
			return http.StatusBadRequest
		}
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) closeDay(w http.ResponseWriter, r *http.Request) {
	day, err := ledger.ParseDayKey(chi.URLParam(r, "day"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	ctx := r.Context()
	actor, _ := shared.ActorFromContext(ctx)
	res := h.coordinator.Close(ctx, actor, shared.ClientIDFromContext(ctx), day)
	status := resultStatus(res)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	httpx.JSON(w, status, newResultView(res))
}

func (h *Handler) closeMissed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := shared.ActorFromContext(ctx)
	if !actor.IsAdmin() {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrForbidden, closure.ErrPermissionDenied))
		return
	}
	results, err := h.coordinator.CloseMissed(ctx, actor, shared.ClientIDFromContext(ctx))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
		return
	}
	views := make([]resultView, 0, len(results))
	status := http.StatusOK
	for _, res := range results {
		views = append(views, newResultView(res))
		if s := resultStatus(res); s != http.StatusOK {
			status = s
		}
	}
	httpx.JSON(w, status, map[string]any{"results": views})
}

type snoozeRequest struct {
	Minutes int `json:"minutes" validate:"required,min=1,max=1440"`
}

func (h *Handler) scheduler(w http.ResponseWriter, r *http.Request) (*reminder.Scheduler, bool) {
	if h.reminders == nil {
		httpx.RespondError(w, fmt.Errorf("%w: reminders disabled", httpx.ErrUnavailable))
		return nil, false
	}
	clientID := shared.ClientIDFromContext(r.Context())
	if clientID == "" {
		httpx.RespondError(w, fmt.Errorf("%w: %s header required", httpx.ErrValidation, shared.HeaderClientID))
		return nil, false
	}
	if actor, _ := shared.ActorFromContext(r.Context()); !actor.IsAdmin() {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrForbidden, closure.ErrPermissionDenied))
		return nil, false
	}
	sched, err := h.reminders.Get(clientID)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
		return nil, false
	}
	return sched, true
}

func (h *Handler) snooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, validationDetail(err)))
		return
	}
	sched, ok := h.scheduler(w, r)
	if !ok {
		return
	}
	until, err := sched.Snooze(req.Minutes)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"snoozed_until": until})
}

func (h *Handler) dismiss(w http.ResponseWriter, r *http.Request) {
	sched, ok := h.scheduler(w, r)
	if !ok {
		return
	}
	day, err := sched.Dismiss(r.Context())
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"dismissed_day": day})
}

func (h *Handler) daySummary(w http.ResponseWriter, r *http.Request) {
	day, err := ledger.ParseDayKey(chi.URLParam(r, "day"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	summary, err := h.checker.Summary(r.Context(), day)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

type aggregateQuery struct {
	Period string `validate:"omitempty,oneof=day week month year"`
	From   string `validate:"omitempty,len=8,numeric"`
	To     string `validate:"omitempty,len=8,numeric"`
}

type aggregateResponse struct {
	Period  ledger.Granularity    `json:"period"`
	From    ledger.DayKey         `json:"from"`
	To      ledger.DayKey         `json:"to"`
	Buckets []ledger.PeriodBucket `json:"buckets"`
}

func (h *Handler) aggregates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := aggregateQuery{Period: q.Get("period"), From: q.Get("from"), To: q.Get("to")}
	if err := h.validator.Struct(query); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, validationDetail(err)))
		return
	}
	period := ledger.GranularityDay
	if query.Period != "" {
		period = ledger.Granularity(query.Period)
	}
	to := ledger.FromTime(h.now().In(h.loc))
	if query.To != "" {
		to = ledger.DayKey(query.To)
	}
	from := to
	for i := 1; i < 30; i++ {
		from = from.Previous()
	}
	if query.From != "" {
		from = ledger.DayKey(query.From)
	}
	if !from.Valid() || !to.Valid() || to.Before(from) {
		httpx.RespondError(w, fmt.Errorf("%w: invalid range %s..%s", httpx.ErrValidation, from, to))
		return
	}
	if ledger.SpanDays(from, to) > maxAggregateDays {
		httpx.RespondError(w, fmt.Errorf("%w: range exceeds %d days", httpx.ErrValidation, maxAggregateDays))
		return
	}

	start, _ := from.Bounds(h.loc)
	_, end := to.Bounds(h.loc)
	ops, err := h.operations.ListOperations(r.Context(), start, end)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
		return
	}
	buckets := ledger.Aggregate(period, ops)
	if buckets == nil {
		buckets = []ledger.PeriodBucket{}
	}
	httpx.JSON(w, http.StatusOK, aggregateResponse{Period: period, From: from, To: to, Buckets: buckets})
}

func validationDetail(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err.Error()
	}
	fe := fieldErrs[0]
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}

package reminder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Hub defaults.
const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultMaxClients  = 256
)

// ErrHubFull is returned when every scheduler slot is held by a recently
// active client.
var ErrHubFull = errors.New("reminder: too many active clients")

// HubOption tunes a Hub.
type HubOption func(*Hub)

// WithIdleTimeout evicts schedulers that have not been requested for d.
func WithIdleTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.idle = d
		}
	}
}

// WithMaxClients caps the number of running schedulers.
func WithMaxClients(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.maxClients = n
		}
	}
}

type hubEntry struct {
	sched    *Scheduler
	cancel   context.CancelFunc
	done     chan struct{}
	lastSeen time.Time
}

// Hub owns one running Scheduler per client id. Schedulers that go idle are
// stopped and forgotten.
type Hub struct {
	template   Config
	logger     *slog.Logger
	now        func() time.Time
	idle       time.Duration
	maxClients int

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	entries map[string]*hubEntry
}

// NewHub prepares a hub whose schedulers share template, except for the
// client id. Schedulers stop when ctx ends, when Close is called or after
// sitting idle.
func NewHub(ctx context.Context, template Config, opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(ctx)
	logger := template.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		template:   template,
		logger:     logger,
		now:        time.Now,
		idle:       DefaultIdleTimeout,
		maxClients: DefaultMaxClients,
		ctx:        ctx,
		cancel:     cancel,
		entries:    make(map[string]*hubEntry),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.wg.Add(1)
	go h.janitor()
	return h
}

// WithNow sets the clock used for idleness and handed to schedulers created
// afterwards.
func (h *Hub) WithNow(now func() time.Time) {
	if now != nil {
		h.mu.Lock()
		h.now = now
		h.mu.Unlock()
	}
}

// Get returns the client's scheduler. The first call starts it, so its
// instants are armed by the time Get returns. Each call marks the client as
// active.
func (h *Hub) Get(clientID string) (*Scheduler, error) {
	h.mu.Lock()
	now := h.now()
	if e, ok := h.entries[clientID]; ok {
		e.lastSeen = now
		h.mu.Unlock()
		return e.sched, nil
	}
	var evicted []*hubEntry
	if len(h.entries) >= h.maxClients {
		evicted = h.evictLocked(now)
		if len(h.entries) >= h.maxClients {
			h.mu.Unlock()
			wait(evicted)
			return nil, ErrHubFull
		}
	}
	cfg := h.template
	cfg.ClientID = clientID
	s := New(cfg)
	s.WithNow(h.now)
	running := h.ctx.Err() == nil
	e := &hubEntry{sched: s, done: make(chan struct{}), lastSeen: now}
	var ctx context.Context
	if running {
		ctx, e.cancel = context.WithCancel(h.ctx)
		h.entries[clientID] = e
		h.wg.Add(1)
	}
	h.mu.Unlock()
	wait(evicted)

	if !running {
		return s, nil
	}
	s.Start(ctx)
	go func() {
		defer h.wg.Done()
		defer close(e.done)
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Warn("reminder scheduler stopped", slog.String("client", clientID), slog.Any("error", err))
		}
	}()
	return s, nil
}

// Sweep stops schedulers idle for longer than the idle timeout and waits for
// them to exit. It returns how many were stopped.
func (h *Hub) Sweep() int {
	h.mu.Lock()
	evicted := h.evictLocked(h.now())
	h.mu.Unlock()
	wait(evicted)
	return len(evicted)
}

func (h *Hub) evictLocked(now time.Time) []*hubEntry {
	var evicted []*hubEntry
	for id, e := range h.entries {
		if now.Sub(e.lastSeen) < h.idle {
			continue
		}
		e.cancel()
		delete(h.entries, id)
		evicted = append(evicted, e)
	}
	return evicted
}

func wait(entries []*hubEntry) {
	for _, e := range entries {
		<-e.done
	}
}

func (h *Hub) janitor() {
	defer h.wg.Done()
	interval := h.idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if n := h.Sweep(); n > 0 {
				h.logger.Debug("reminder schedulers evicted", slog.Int("count", n))
			}
		}
	}
}

// Len returns how many clients have a running scheduler.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Close stops every scheduler and waits for them to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()
	h.wg.Wait()
}

// Package scheduler implements the bounded, concurrent ticket scheduler:
// a FIFO queue of pending query tickets dispatched against a
// global concurrency cap, with asynchronous result retrieval and a periodic
// GC sweep for terminal tickets past their retention window.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/config"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
)

// Executor runs one ticket's template and returns its result. Typically
// backed by connmanager.Manager.ExecuteTemplate.
type Executor func(ctx context.Context, template string, params map[string]interface{}) (*driver.Result, error)

// Stats is a snapshot of scheduler occupancy.
type Stats struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

// Scheduler owns the ticket map and the FIFO queue. The dispatcher loop and
// the GC sweep are each an owned background goroutine, joined on Close.
type Scheduler struct {
	cfg      config.SchedulerConfig
	executor Executor
	log      logr.Logger
	ctx      context.Context

	mu          sync.Mutex
	tickets     map[string]*ticketState
	queue       []string // FIFO of PENDING ticket ids
	activeCount int

	dispatchSignal chan struct{}

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New constructs a scheduler. executor is invoked once per dispatched
// ticket with a fresh context derived from the one passed to Start.
func New(cfg config.SchedulerConfig, executor Executor, log logr.Logger) *Scheduler {
	return &Scheduler{
		cfg:            cfg,
		executor:       executor,
		log:            log,
		tickets:        make(map[string]*ticketState),
		dispatchSignal: make(chan struct{}, 1),
	}
}

// Start begins the dispatcher loop and the retention sweep, both cancelled
// and joined on Close.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	s.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	s.group = group

	group.Go(func() error {
		s.dispatchLoop(gctx)
		return nil
	})
	group.Go(func() error {
		s.sweepLoop(gctx)
		return nil
	})
}

// CreateTicket enqueues a new PENDING ticket and returns its snapshot
// synchronously; it never blocks on execution.
func (s *Scheduler) CreateTicket(template string, params map[string]interface{}, byteCap *int64) Ticket {
	id := uuid.NewString()
	t := &ticketState{Ticket: Ticket{
		ID:        id,
		Status:    StatusPending,
		Template:  template,
		Params:    params,
		CreatedAt: time.Now(),
		ByteCap:   byteCap,
	}}

	s.mu.Lock()
	s.tickets[id] = t
	s.queue = append(s.queue, id)
	s.mu.Unlock()

	s.signalDispatch()
	return t.snapshot()
}

// CancelTicket cancels id if and only if it is still PENDING, atomically
// removing it from the queue. Returns false otherwise —
// RUNNING tickets are never cancellable.
func (s *Scheduler) CancelTicket(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok || t.Status != StatusPending {
		return false
	}
	t.Status = StatusCancelled
	t.CompletedAt = time.Now()

	for i, qid := range s.queue {
		if qid == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	return true
}

// GetTicket returns a snapshot of id, if known.
func (s *Scheduler) GetTicket(id string) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, false
	}
	return t.snapshot(), true
}

// GetStats returns current counts by status.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, t := range s.tickets {
		switch t.Status {
		case StatusPending:
			st.Pending++
		case StatusRunning:
			st.Running++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		case StatusCancelled:
			st.Cancelled++
		}
	}
	return st
}

func (s *Scheduler) signalDispatch() {
	select {
	case s.dispatchSignal <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dispatchSignal:
			s.dispatchReady(ctx)
		}
	}
}

// dispatchReady pops ready tickets off the FIFO head while under the
// concurrency cap, skipping any that were cancelled before dispatch.
func (s *Scheduler) dispatchReady(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.activeCount >= s.cfg.MaxConcurrent {
			s.mu.Unlock()
			return
		}
		id := s.queue[0]
		s.queue = s.queue[1:]
		t, ok := s.tickets[id]
		if !ok || t.Status != StatusPending {
			s.mu.Unlock()
			continue // already cancelled or gone; re-check the next head
		}
		t.Status = StatusRunning
		t.StartedAt = time.Now()
		s.activeCount++
		s.mu.Unlock()

		go s.run(ctx, id)
	}
}

func (s *Scheduler) run(ctx context.Context, id string) {
	s.mu.Lock()
	t, ok := s.tickets[id]
	template, params := "", map[string]interface{}(nil)
	if ok {
		template, params = t.Template, t.Params
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	result, err := s.executor(ctx, template, params)

	s.mu.Lock()
	t.CompletedAt = time.Now()
	if err != nil {
		t.Status = StatusFailed
		t.Err = err
		s.log.V(1).Info("ticket failed", "ticket", id, "error", err)
	} else {
		t.Status = StatusCompleted
		t.Result = result
		t.Progress = 100
	}
	s.activeCount--
	s.mu.Unlock()

	s.signalDispatch()
}

// sweepLoop runs the terminal-ticket GC on a timer until ctx is cancelled.
func (s *Scheduler) sweepLoop(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Scheduler) sweep() {
	cutoff := time.Now().Add(-s.cfg.TicketRetention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tickets {
		terminal := t.Status == StatusCompleted || t.Status == StatusFailed || t.Status == StatusCancelled
		if terminal && t.CreatedAt.Before(cutoff) {
			delete(s.tickets, id)
		}
	}
}

// Close stops the dispatcher and sweep loops and joins them.
func (s *Scheduler) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	return s.group.Wait()
}

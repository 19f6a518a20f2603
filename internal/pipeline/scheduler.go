package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gallery/internal/domain"
	"gallery/internal/infra"
	"gallery/internal/providers/image"
)

// Debiter is the slice of the credit ledger the scheduler needs.
type Debiter interface {
	CheckAndDebit(ctx context.Context, userID string, amount int64) error
	Refund(ctx context.Context, userID string, amount int64)
}

// Processor executes one admitted render: provider call, artifact
// persistence and the success transition. A returned error carries the
// provider classification used by the retry policy.
type Processor interface {
	Process(ctx context.Context, render *domain.Render) error
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Workers       int
	QueueCapacity int
	PerUserCap    int
	Policy        RetryPolicy
	Processor     Processor
	Ledger        Debiter
	Renders       domain.RenderRepository
	Logger        infra.Logger
	// AfterFunc schedules delayed requeues; tests replace it to avoid real
	// timers. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func())
}

type task struct {
	render *domain.Render

	mu       sync.Mutex
	canceled bool
	done     bool
	refunded bool
}

// Scheduler admits renders into a bounded worker pool. At most Workers
// provider calls run concurrently regardless of queue length; admission is
// FIFO; a slot token acquired at admission bounds the total renders in the
// system, so requeues after a retry delay never block on queue capacity.
type Scheduler struct {
	workers    int
	perUserCap int
	policy     RetryPolicy
	proc       Processor
	ledger     Debiter
	renders    domain.RenderRepository
	logger     infra.Logger
	afterFunc  func(d time.Duration, f func())

	queue chan *task
	slots chan struct{}

	mu          sync.Mutex
	outstanding map[string]int
	tasks       map[string]*task

	runCtx context.Context
	wg     sync.WaitGroup
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	workers := opts.Workers
	if workers < 1 {
		workers = 2
	}
	capacity := opts.QueueCapacity
	if capacity < 1 {
		capacity = 32
	}
	perUserCap := opts.PerUserCap
	if perUserCap < 1 {
		perUserCap = 4
	}
	afterFunc := opts.AfterFunc
	if afterFunc == nil {
		afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	return &Scheduler{
		workers:     workers,
		perUserCap:  perUserCap,
		policy:      opts.Policy,
		proc:        opts.Processor,
		ledger:      opts.Ledger,
		renders:     opts.Renders,
		logger:      opts.Logger,
		afterFunc:   afterFunc,
		queue:       make(chan *task, capacity),
		slots:       make(chan struct{}, capacity),
		outstanding: map[string]int{},
		tasks:       map[string]*task{},
	}
}

// Start launches the worker pool. Workers drain until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.runCtx = ctx
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.logger.Info().Int("workers", s.workers).Int("queue_capacity", cap(s.queue)).Msg("scheduler: started")
}

// Wait blocks until all workers have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Submit admits a pending render. The credit cost is debited synchronously
// before the render may proceed; a render rejected here never enters the
// pool and leaves no record.
func (s *Scheduler) Submit(ctx context.Context, render *domain.Render) error {
	if render.Status != domain.RenderStatusPending {
		return fmt.Errorf("render %s is not pending: %w", render.ID, domain.ErrInvalidTransition)
	}

	select {
	case s.slots <- struct{}{}:
	default:
		metricRejected.WithLabelValues("queue_full").Inc()
		return domain.ErrQueueFull
	}

	if render.UserID != "" {
		s.mu.Lock()
		if s.outstanding[render.UserID] >= s.perUserCap {
			s.mu.Unlock()
			<-s.slots
			metricRejected.WithLabelValues("user_busy").Inc()
			return domain.ErrUserBusy
		}
		s.outstanding[render.UserID]++
		s.mu.Unlock()
	}

	if render.CostCredits > 0 {
		if err := s.ledger.CheckAndDebit(ctx, render.UserID, int64(render.CostCredits)); err != nil {
			s.releaseAdmission(render.UserID)
			metricRejected.WithLabelValues("insufficient_credits").Inc()
			return err
		}
	}

	if err := s.renders.Create(ctx, render); err != nil {
		if render.CostCredits > 0 {
			s.ledger.Refund(ctx, render.UserID, int64(render.CostCredits))
		}
		s.releaseAdmission(render.UserID)
		return fmt.Errorf("persist render: %w", err)
	}

	t := &task{render: render}
	s.mu.Lock()
	s.tasks[render.ID] = t
	s.mu.Unlock()

	// Every live task holds a slot token, so this send cannot block.
	s.queue <- t
	metricQueueDepth.Set(float64(len(s.queue)))
	s.logger.Info().Str("render_id", render.ID).Str("model_key", render.ModelKey).Msg("scheduler: render admitted")
	return nil
}

// Cancel aborts a render that has not yet occupied a worker slot. An
// in-flight provider call is never preempted.
func (s *Scheduler) Cancel(ctx context.Context, renderID, userID string) error {
	s.mu.Lock()
	t := s.tasks[renderID]
	s.mu.Unlock()
	if t == nil {
		return domain.ErrNotFound
	}
	if userID != "" && t.render.UserID != userID {
		return domain.ErrNotFound
	}

	t.mu.Lock()
	status := t.render.Status
	if t.done || t.canceled || (status != domain.RenderStatusPending && status != domain.RenderStatusRetrying) {
		t.mu.Unlock()
		return domain.ErrNotCancelable
	}
	t.canceled = true
	t.mu.Unlock()

	s.finishFailed(ctx, t, "canceled before processing")
	return nil
}

// Outstanding reports renders not yet terminal. Used by the seeder to drain.
func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			metricQueueDepth.Set(float64(len(s.queue)))
			s.execute(ctx, t)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t *task) {
	t.mu.Lock()
	if t.done || t.canceled {
		t.mu.Unlock()
		return
	}
	if err := t.render.Start(); err != nil {
		t.done = true
		t.mu.Unlock()
		s.logger.Error().Err(err).Str("render_id", t.render.ID).Msg("scheduler: start transition rejected")
		s.release(t)
		return
	}
	t.mu.Unlock()

	metricAttempts.Inc()
	metricInFlight.Inc()
	s.persist(ctx, t.render)

	err := s.proc.Process(ctx, t.render)
	metricInFlight.Dec()

	if err == nil {
		s.finishSucceeded(t)
		return
	}

	reason := err.Error()
	decision := s.policy.Decide(t.render.Attempts, image.KindOf(err))
	if !decision.Retry {
		s.finishFailed(ctx, t, reason)
		return
	}

	t.mu.Lock()
	if terr := t.render.MarkRetrying(reason); terr != nil {
		t.mu.Unlock()
		s.logger.Error().Err(terr).Str("render_id", t.render.ID).Msg("scheduler: retry transition rejected")
		s.finishFailed(ctx, t, reason)
		return
	}
	t.mu.Unlock()
	s.persist(ctx, t.render)
	s.logger.Warn().Err(err).Str("render_id", t.render.ID).Int("attempt", t.render.Attempts).Dur("delay", decision.Delay).Msg("scheduler: render will retry")
	s.afterFunc(decision.Delay, func() { s.requeue(t) })
}

// requeue puts a retrying task back through the normal admission gate. The
// task still holds its slot token, so the send cannot block.
func (s *Scheduler) requeue(t *task) {
	t.mu.Lock()
	if t.done || t.canceled {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	s.queue <- t
	metricQueueDepth.Set(float64(len(s.queue)))
}

func (s *Scheduler) finishSucceeded(t *task) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.mu.Unlock()
	s.release(t)
	metricCompleted.WithLabelValues(string(domain.RenderStatusSucceeded)).Inc()
	s.logger.Info().Str("render_id", t.render.ID).Int("attempts", t.render.Attempts).Msg("scheduler: render succeeded")
}

// finishFailed moves the render to failed and refunds its cost. The refund
// fires at most once per render even if the failure is observed twice.
func (s *Scheduler) finishFailed(ctx context.Context, t *task, reason string) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	if err := t.render.Fail(reason); err != nil {
		t.mu.Unlock()
		s.logger.Error().Err(err).Str("render_id", t.render.ID).Msg("scheduler: fail transition rejected")
		// The slot must come back even when the state machine refuses the
		// transition, or the worker pool shrinks by one for good.
		s.release(t)
		return
	}
	refund := !t.refunded && t.render.CostCredits > 0
	if refund {
		t.refunded = true
	}
	t.mu.Unlock()

	s.persist(ctx, t.render)
	if refund {
		s.ledger.Refund(ctx, t.render.UserID, int64(t.render.CostCredits))
	}
	s.release(t)
	metricCompleted.WithLabelValues(string(domain.RenderStatusFailed)).Inc()
	s.logger.Warn().Str("render_id", t.render.ID).Str("reason", reason).Msg("scheduler: render failed")
}

func (s *Scheduler) release(t *task) {
	s.mu.Lock()
	delete(s.tasks, t.render.ID)
	if t.render.UserID != "" {
		if s.outstanding[t.render.UserID] > 1 {
			s.outstanding[t.render.UserID]--
		} else {
			delete(s.outstanding, t.render.UserID)
		}
	}
	s.mu.Unlock()
	<-s.slots
}

func (s *Scheduler) releaseAdmission(userID string) {
	if userID != "" {
		s.mu.Lock()
		if s.outstanding[userID] > 1 {
			s.outstanding[userID]--
		} else {
			delete(s.outstanding, userID)
		}
		s.mu.Unlock()
	}
	<-s.slots
}

func (s *Scheduler) persist(ctx context.Context, render *domain.Render) {
	if err := s.renders.Update(ctx, render); err != nil {
		s.logger.Error().Err(err).Str("render_id", render.ID).Str("status", string(render.Status)).Msg("scheduler: persist failed")
	}
}

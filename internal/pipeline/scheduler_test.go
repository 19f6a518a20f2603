package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gallery/internal/domain"
	"gallery/internal/providers/image"
)

type fakeLedger struct {
	mu      sync.Mutex
	balance int64
	debits  int
	refunds int
}

func (f *fakeLedger) CheckAndDebit(ctx context.Context, userID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance < amount {
		return domain.ErrInsufficientCredits
	}
	f.balance -= amount
	f.debits++
	return nil
}

func (f *fakeLedger) Refund(ctx context.Context, userID string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance += amount
	f.refunds++
}

func (f *fakeLedger) snapshot() (balance int64, debits, refunds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.debits, f.refunds
}

type memRenders struct {
	mu        sync.Mutex
	records   map[string]domain.Render
	updateErr func(r *domain.Render) error
}

func newMemRenders() *memRenders {
	return &memRenders{records: map[string]domain.Render{}}
}

func (m *memRenders) Create(ctx context.Context, r *domain.Render) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = *r
	return nil
}

func (m *memRenders) Update(ctx context.Context, r *domain.Render) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		if err := m.updateErr(r); err != nil {
			return err
		}
	}
	if _, ok := m.records[r.ID]; !ok {
		return domain.ErrNotFound
	}
	m.records[r.ID] = *r
	return nil
}

func (m *memRenders) GetByID(ctx context.Context, id string) (*domain.Render, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (m *memRenders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// funcProcessor runs the hook and, when it reports success, finalizes the
// render the way the real processor does.
type funcProcessor struct {
	renders *memRenders
	hook    func(r *domain.Render) error
}

func (p *funcProcessor) Process(ctx context.Context, r *domain.Render) error {
	if err := p.hook(r); err != nil {
		return err
	}
	staged := *r
	if err := staged.Succeed("renders/test/"+r.ID+".png", "renders/test/"+r.ID+"_thumb.png", nil); err != nil {
		return image.Permanent("record success", err)
	}
	if err := p.renders.Update(ctx, &staged); err != nil {
		return image.Transient("persist succeeded render", err)
	}
	*r = staged
	return nil
}

type schedulerFixture struct {
	scheduler *Scheduler
	ledger    *fakeLedger
	renders   *memRenders
	cancel    context.CancelFunc
}

func newFixture(t *testing.T, opts SchedulerOptions, balance int64, hook func(r *domain.Render) error) *schedulerFixture {
	t.Helper()
	ledger := &fakeLedger{balance: balance}
	renders := newMemRenders()
	opts.Ledger = ledger
	opts.Renders = renders
	opts.Logger = zerolog.Nop()
	opts.Processor = &funcProcessor{renders: renders, hook: hook}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.AfterFunc == nil {
		// Retries fire immediately so tests never sleep out backoff delays.
		opts.AfterFunc = func(d time.Duration, f func()) { go f() }
	}
	s := NewScheduler(opts)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(cancel)
	return &schedulerFixture{scheduler: s, ledger: ledger, renders: renders, cancel: cancel}
}

func (f *schedulerFixture) waitStatus(t *testing.T, id string, want domain.RenderStatus) *domain.Render {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, err := f.renders.GetByID(context.Background(), id)
		if err == nil && r.Status == want {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	r, _ := f.renders.GetByID(context.Background(), id)
	t.Fatalf("render %s never reached %s (last seen: %+v)", id, want, r)
	return nil
}

func (f *schedulerFixture) waitDrained(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if f.scheduler.Outstanding() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("scheduler still has %d outstanding renders", f.scheduler.Outstanding())
}

func TestSubmitRunsToSuccess(t *testing.T) {
	fx := newFixture(t, SchedulerOptions{Workers: 2, QueueCapacity: 8, PerUserCap: 4}, 10, func(r *domain.Render) error {
		return nil
	})

	render := domain.NewRender("user-1", "watercolor", "a lighthouse", "replicate:sdxl", "", 1)
	if err := fx.scheduler.Submit(context.Background(), render); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	got := fx.waitStatus(t, render.ID, domain.RenderStatusSucceeded)
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
	fx.waitDrained(t)
	balance, debits, refunds := fx.ledger.snapshot()
	if balance != 9 || debits != 1 || refunds != 0 {
		t.Fatalf("ledger = (balance %d, debits %d, refunds %d), want (9, 1, 0)", balance, debits, refunds)
	}
}

func TestInsufficientCreditsRejectsBeforeAdmission(t *testing.T) {
	block := make(chan struct{})
	fx := newFixture(t, SchedulerOptions{Workers: 2, QueueCapacity: 32, PerUserCap: 32}, 5, func(r *domain.Render) error {
		<-block
		return nil
	})

	var admitted, rejected int
	for i := 0; i < 10; i++ {
		render := domain.NewRender("user-1", "", fmt.Sprintf("prompt %d", i), "m", "", 1)
		err := fx.scheduler.Submit(context.Background(), render)
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, domain.ErrInsufficientCredits):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if admitted != 5 || rejected != 5 {
		t.Fatalf("admitted %d rejected %d, want 5 and 5", admitted, rejected)
	}
	// Rejected submissions leave no record.
	if got := fx.renders.count(); got != 5 {
		t.Fatalf("persisted records = %d, want 5", got)
	}
	close(block)
	fx.waitDrained(t)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	release := make(chan struct{})
	fx := newFixture(t, SchedulerOptions{Workers: 2, QueueCapacity: 16, PerUserCap: 16}, 0, func(r *domain.Render) error {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()
		<-release
		mu.Lock()
		current--
		mu.Unlock()
		return nil
	})

	ids := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		render := domain.NewRender("", "", fmt.Sprintf("prompt %d", i), "m", "", 0)
		if err := fx.scheduler.Submit(context.Background(), render); err != nil {
			t.Fatalf("Submit() error: %v", err)
		}
		ids = append(ids, render.ID)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	for _, id := range ids {
		fx.waitStatus(t, id, domain.RenderStatusSucceeded)
	}
	fx.waitDrained(t)

	mu.Lock()
	defer mu.Unlock()
	if peak != 2 {
		t.Fatalf("peak concurrency = %d, want 2", peak)
	}
}

func TestTransientFailuresRetryThenSucceed(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	fx := newFixture(t, SchedulerOptions{Workers: 1, QueueCapacity: 8, PerUserCap: 4}, 10, func(r *domain.Render) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 2 {
			return image.Transient("upstream 503", nil)
		}
		return nil
	})

	render := domain.NewRender("user-1", "", "p", "m", "", 1)
	if err := fx.scheduler.Submit(context.Background(), render); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	got := fx.waitStatus(t, render.ID, domain.RenderStatusSucceeded)
	if got.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", got.Attempts)
	}
	fx.waitDrained(t)
	balance, _, refunds := fx.ledger.snapshot()
	if balance != 9 || refunds != 0 {
		t.Fatalf("balance %d refunds %d, want 9 and 0 (success must keep the debit)", balance, refunds)
	}
}

func TestPermanentFailureFailsWithoutRetry(t *testing.T) {
	var calls int
	var mu sync.Mutex
	fx := newFixture(t, SchedulerOptions{Workers: 1, QueueCapacity: 8, PerUserCap: 4}, 10, func(r *domain.Render) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return image.Permanent("content policy rejection", nil)
	})

	render := domain.NewRender("user-1", "", "p", "m", "", 1)
	if err := fx.scheduler.Submit(context.Background(), render); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	got := fx.waitStatus(t, render.ID, domain.RenderStatusFailed)
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
	if got.FailureReason == "" {
		t.Fatal("failed render must carry a failure reason")
	}
	fx.waitDrained(t)
	mu.Lock()
	if calls != 1 {
		t.Fatalf("provider calls = %d, want 1", calls)
	}
	mu.Unlock()
	balance, _, refunds := fx.ledger.snapshot()
	if balance != 10 || refunds != 1 {
		t.Fatalf("balance %d refunds %d, want full refund exactly once", balance, refunds)
	}
}

func TestRetriesExhaustedRefundsOnce(t *testing.T) {
	fx := newFixture(t, SchedulerOptions{Workers: 1, QueueCapacity: 8, PerUserCap: 4}, 10, func(r *domain.Render) error {
		return image.Transient("upstream timeout", nil)
	})

	render := domain.NewRender("user-1", "", "p", "m", "", 1)
	if err := fx.scheduler.Submit(context.Background(), render); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	got := fx.waitStatus(t, render.ID, domain.RenderStatusFailed)
	if got.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", got.Attempts)
	}
	fx.waitDrained(t)
	balance, debits, refunds := fx.ledger.snapshot()
	if balance != 10 || debits != 1 || refunds != 1 {
		t.Fatalf("ledger = (balance %d, debits %d, refunds %d), want (10, 1, 1)", balance, debits, refunds)
	}
}

func TestQueueFullRejectsWithoutDebit(t *testing.T) {
	block := make(chan struct{})
	fx := newFixture(t, SchedulerOptions{Workers: 1, QueueCapacity: 2, PerUserCap: 32}, 10, func(r *domain.Render) error {
		<-block
		return nil
	})

	var admitted int
	var queueFull bool
	for i := 0; i < 4; i++ {
		render := domain.NewRender("user-1", "", fmt.Sprintf("p%d", i), "m", "", 1)
		err := fx.scheduler.Submit(context.Background(), render)
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, domain.ErrQueueFull):
			queueFull = true
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if admitted != 2 || !queueFull {
		t.Fatalf("admitted %d (want 2), queueFull %v (want true)", admitted, queueFull)
	}
	_, debits, refunds := fx.ledger.snapshot()
	if debits != 2 || refunds != 0 {
		t.Fatalf("debits %d refunds %d, want only admitted renders debited", debits, refunds)
	}
	close(block)
	fx.waitDrained(t)
}

func TestPerUserCapLimitsOutstanding(t *testing.T) {
	block := make(chan struct{})
	fx := newFixture(t, SchedulerOptions{Workers: 1, QueueCapacity: 16, PerUserCap: 2}, 10, func(r *domain.Render) error {
		<-block
		return nil
	})

	for i := 0; i < 2; i++ {
		render := domain.NewRender("user-1", "", fmt.Sprintf("p%d", i), "m", "", 1)
		if err := fx.scheduler.Submit(context.Background(), render); err != nil {
			t.Fatalf("Submit() %d error: %v", i, err)
		}
	}
	third := domain.NewRender("user-1", "", "p2", "m", "", 1)
	if err := fx.scheduler.Submit(context.Background(), third); !errors.Is(err, domain.ErrUserBusy) {
		t.Fatalf("third submit error = %v, want ErrUserBusy", err)
	}
	// Another user is unaffected by the busy one.
	other := domain.NewRender("user-2", "", "p", "m", "", 1)
	if err := fx.scheduler.Submit(context.Background(), other); err != nil {
		t.Fatalf("other user submit error: %v", err)
	}
	close(block)
	fx.waitDrained(t)
}

func TestCancelPendingRefundsAndFails(t *testing.T) {
	block := make(chan struct{})
	fx := newFixture(t, SchedulerOptions{Workers: 1, QueueCapacity: 8, PerUserCap: 4}, 10, func(r *domain.Render) error {
		<-block
		return nil
	})

	first := domain.NewRender("user-1", "", "p0", "m", "", 1)
	if err := fx.scheduler.Submit(context.Background(), first); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	// Wait until the only worker is busy with the first render.
	fx.waitStatus(t, first.ID, domain.RenderStatusInProgress)

	second := domain.NewRender("user-1", "", "p1", "m", "", 1)
	if err := fx.scheduler.Submit(context.Background(), second); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if err := fx.scheduler.Cancel(context.Background(), second.ID, "user-1"); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	got := fx.waitStatus(t, second.ID, domain.RenderStatusFailed)
	if got.Attempts != 0 {
		t.Fatalf("canceled render attempts = %d, want 0", got.Attempts)
	}

	// The in-flight render cannot be canceled.
	if err := fx.scheduler.Cancel(context.Background(), first.ID, "user-1"); !errors.Is(err, domain.ErrNotCancelable) {
		t.Fatalf("cancel in-flight error = %v, want ErrNotCancelable", err)
	}
	// Other users cannot see the render at all.
	if err := fx.scheduler.Cancel(context.Background(), first.ID, "user-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cross-user cancel error = %v, want ErrNotFound", err)
	}

	close(block)
	fx.waitDrained(t)
	balance, debits, refunds := fx.ledger.snapshot()
	if debits != 2 || refunds != 1 || balance != 9 {
		t.Fatalf("ledger = (balance %d, debits %d, refunds %d), want (9, 2, 1)", balance, debits, refunds)
	}
}

func TestCancelUnknownRender(t *testing.T) {
	fx := newFixture(t, SchedulerOptions{Workers: 1, QueueCapacity: 4, PerUserCap: 4}, 0, func(r *domain.Render) error {
		return nil
	})
	if err := fx.scheduler.Cancel(context.Background(), "nope", "user-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestSucceededWriteFailureRefundsAndDrains(t *testing.T) {
	fx := newFixture(t, SchedulerOptions{Workers: 1, QueueCapacity: 4, PerUserCap: 4}, 10, func(r *domain.Render) error {
		return nil
	})
	fx.renders.updateErr = func(r *domain.Render) error {
		if r.Status == domain.RenderStatusSucceeded {
			return errors.New("connection reset")
		}
		return nil
	}

	render := domain.NewRender("user-1", "", "a lighthouse", "m", "", 1)
	if err := fx.scheduler.Submit(context.Background(), render); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	got := fx.waitStatus(t, render.ID, domain.RenderStatusFailed)
	if got.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", got.Attempts)
	}
	fx.waitDrained(t)
	balance, _, refunds := fx.ledger.snapshot()
	if balance != 10 || refunds != 1 {
		t.Fatalf("ledger = (balance %d, refunds %d), want (10, 1)", balance, refunds)
	}

	next := domain.NewRender("user-1", "", "still admits", "m", "", 1)
	if err := fx.scheduler.Submit(context.Background(), next); err != nil {
		t.Fatalf("Submit() after drain error: %v", err)
	}
}

// terminalThenErrProcessor moves the render to succeeded in memory and then
// reports failure, leaving the scheduler no valid transition to take.
type terminalThenErrProcessor struct{}

func (terminalThenErrProcessor) Process(ctx context.Context, r *domain.Render) error {
	_ = r.Succeed("renders/test/"+r.ID+".png", "renders/test/"+r.ID+"_thumb.png", nil)
	return image.Transient("persist succeeded render", errors.New("connection reset"))
}

func TestRejectedTransitionReleasesSlot(t *testing.T) {
	ledger := &fakeLedger{balance: 10}
	renders := newMemRenders()
	s := NewScheduler(SchedulerOptions{
		Workers:       1,
		QueueCapacity: 1,
		PerUserCap:    1,
		Policy:        DefaultRetryPolicy(),
		Processor:     terminalThenErrProcessor{},
		Ledger:        ledger,
		Renders:       renders,
		Logger:        zerolog.Nop(),
		AfterFunc:     func(d time.Duration, f func()) { go f() },
	})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(cancel)

	render := domain.NewRender("user-1", "", "a lighthouse", "m", "", 1)
	if err := s.Submit(context.Background(), render); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && s.Outstanding() != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.Outstanding(); got != 0 {
		t.Fatalf("Outstanding() = %d after misbehaving processor, want 0", got)
	}

	next := domain.NewRender("user-1", "", "slot came back", "m", "", 1)
	if err := s.Submit(context.Background(), next); err != nil {
		t.Fatalf("Submit() after release error: %v", err)
	}
}

// Package credits keeps a process-local cache of spendable balances and
// reconciles every mutation against the authoritative external payment
// balance. The cache only avoids a network round-trip per debit check; the
// external balance always wins a conflict.
package credits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gallery/internal/domain"
	"gallery/internal/infra"
)

// BalanceClient is the authoritative external balance API. All mutating
// calls carry an idempotency key so a retried write never double-applies.
type BalanceClient interface {
	FetchBalance(ctx context.Context, userID string) (int64, error)
	AdjustBalance(ctx context.Context, userID string, delta int64, idempotencyKey string) error
}

// Clock supplies the current time; tests inject a fake.
type Clock func() time.Time

// Options configures a Ledger.
type Options struct {
	Client       BalanceClient
	Logger       infra.Logger
	StalenessTTL time.Duration
	SyncTimeout  time.Duration
	Now          Clock
}

const (
	defaultStalenessTTL = 5 * time.Minute
	defaultSyncTimeout  = 10 * time.Second
	adjustQueueSize     = 256
	adjustMaxAttempts   = 3
)

type entry struct {
	mu       sync.Mutex
	balance  int64
	lastSync time.Time
	synced   bool
}

type adjustment struct {
	userID   string
	delta    int64
	key      string
	attempts int
}

// Ledger tracks one cached balance per user. Debit, refund and grant for a
// single user are linearized through the entry mutex; different users never
// contend on a shared lock beyond the map lookup.
type Ledger struct {
	client      BalanceClient
	logger      infra.Logger
	ttl         time.Duration
	syncTimeout time.Duration
	now         Clock

	mu      sync.Mutex
	entries map[string]*entry

	adjustments chan adjustment
}

func NewLedger(opts Options) *Ledger {
	ttl := opts.StalenessTTL
	if ttl <= 0 {
		ttl = defaultStalenessTTL
	}
	syncTimeout := opts.SyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = defaultSyncTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		client:      opts.Client,
		logger:      opts.Logger,
		ttl:         ttl,
		syncTimeout: syncTimeout,
		now:         now,
		entries:     map[string]*entry{},
		adjustments: make(chan adjustment, adjustQueueSize),
	}
}

func (l *Ledger) entryFor(userID string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[userID]
	if !ok {
		e = &entry{}
		l.entries[userID] = e
	}
	return e
}

// refreshLocked re-reads the authoritative balance. Caller holds e.mu.
func (l *Ledger) refreshLocked(ctx context.Context, e *entry, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, l.syncTimeout)
	defer cancel()
	balance, err := l.client.FetchBalance(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetch balance for %s: %v: %w", userID, err, domain.ErrBalanceUnavailable)
	}
	e.balance = balance
	e.lastSync = l.now()
	e.synced = true
	return nil
}

func (l *Ledger) staleLocked(e *entry) bool {
	return !e.synced || l.now().Sub(e.lastSync) > l.ttl
}

// CheckAndDebit debits amount from the user's balance. A stale cache is
// refreshed from the external balance before deciding; staleness is never
// treated as "assume sufficient". Two concurrent debits for the same user
// cannot both succeed on a balance that covers only one.
func (l *Ledger) CheckAndDebit(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	e := l.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if l.staleLocked(e) {
		if err := l.refreshLocked(ctx, e, userID); err != nil {
			return err
		}
	}
	if e.balance < amount {
		return domain.ErrInsufficientCredits
	}
	e.balance -= amount
	l.enqueueAdjust(userID, -amount, uuid.NewString())
	return nil
}

// Refund credits amount back locally and schedules the reconciling external
// write. Callers are responsible for invoking it at most once per render.
func (l *Ledger) Refund(ctx context.Context, userID string, amount int64) {
	if amount <= 0 {
		return
	}
	e := l.entryFor(userID)
	e.mu.Lock()
	e.balance += amount
	e.mu.Unlock()
	l.enqueueAdjust(userID, amount, uuid.NewString())
}

// ApplyGrant applies a payment-driven balance change. The event id doubles
// as the idempotency key for the external write, so redelivered events that
// slip past dedup still cannot double-apply externally. Deltas commute, so
// arrival order does not matter.
func (l *Ledger) ApplyGrant(ctx context.Context, userID string, amount int64, eventID string) {
	if amount == 0 {
		return
	}
	e := l.entryFor(userID)
	e.mu.Lock()
	e.balance += amount
	e.mu.Unlock()
	l.enqueueAdjust(userID, amount, eventID)
}

// Balance returns the user's spendable balance, refreshing a stale cache.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	e := l.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if l.staleLocked(e) {
		if err := l.refreshLocked(ctx, e, userID); err != nil {
			return 0, err
		}
	}
	return e.balance, nil
}

func (l *Ledger) enqueueAdjust(userID string, delta int64, key string) {
	select {
	case l.adjustments <- adjustment{userID: userID, delta: delta, key: key}:
	default:
		// Queue overflow: force a refresh on next use so the cache cannot
		// drift from the authoritative balance, and drop the write.
		l.logger.Error().Str("user_id", userID).Int64("delta", delta).Msg("ledger: adjustment queue full, marking cache stale")
		l.markStale(userID)
	}
}

func (l *Ledger) markStale(userID string) {
	e := l.entryFor(userID)
	e.mu.Lock()
	e.synced = false
	e.mu.Unlock()
}

// Run consumes the reconciliation queue until ctx is canceled. Failed writes
// are retried with the same idempotency key; after the retry budget the
// cache is marked stale so the next debit refreshes from the source of truth.
func (l *Ledger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case adj := <-l.adjustments:
			l.reconcile(ctx, adj)
		}
	}
}

func (l *Ledger) reconcile(ctx context.Context, adj adjustment) {
	cctx, cancel := context.WithTimeout(ctx, l.syncTimeout)
	err := l.client.AdjustBalance(cctx, adj.userID, adj.delta, adj.key)
	cancel()
	if err == nil {
		return
	}
	adj.attempts++
	if adj.attempts < adjustMaxAttempts {
		l.logger.Warn().Err(err).Str("user_id", adj.userID).Int("attempt", adj.attempts).Msg("ledger: balance write failed, requeueing")
		select {
		case l.adjustments <- adj:
		default:
			l.logger.Error().Str("user_id", adj.userID).Msg("ledger: adjustment queue full, dropping write")
			l.markStale(adj.userID)
		}
		return
	}
	l.logger.Error().Err(err).Str("user_id", adj.userID).Int64("delta", adj.delta).Msg("ledger: balance write abandoned")
	l.markStale(adj.userID)
}

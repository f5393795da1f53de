// Package syncer pushes the local cache's pending results to the result server.
//
// At most one push is in flight per Engine. A push that finds another one
// running returns OutcomeBusy at once; nothing is queued, the next trigger
// picks the records up.
package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/okian/speedsync/internal/client/transport"
	"github.com/okian/speedsync/internal/domain/model"
	"github.com/okian/speedsync/pkg/logger"
	"github.com/okian/speedsync/pkg/metrics"
)

const defaultInterval = 30 * time.Second

// Trigger labels used in logs and metrics.
const (
	TriggerManual    = "manual"
	TriggerRecord    = "record"
	TriggerPeriodic  = "periodic"
	TriggerReconnect = "reconnect"
)

// Cache is the part of the local cache the engine reads and clears.
type Cache interface {
	Pending(ctx context.Context) ([]model.FinishRecord, error)
	ClearPushed(ctx context.Context, pushed []model.FinishRecord) (int, error)
}

// Pusher delivers a batch to the server.
type Pusher interface {
	PushResults(ctx context.Context, records []model.FinishRecord) (transport.PushResponse, error)
}

// Connectivity reports reachability and offline to online changes.
type Connectivity interface {
	Online() bool
	Transitions() <-chan struct{}
}

// Outcome is the result of one push attempt.
type Outcome int

const (
	OutcomeBusy Outcome = iota
	OutcomeEmpty
	OutcomeSynced
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBusy:
		return "busy"
	case OutcomeEmpty:
		return "empty"
	case OutcomeSynced:
		return "synced"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status describes the most recent attempt that got past the guard.
type Status struct {
	Outcome  Outcome
	Trigger  string
	At       time.Time
	Pushed   int
	Inserted int
	Err      error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock driving the periodic trigger.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithInterval sets the periodic trigger period.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine runs pushes from the local cache to the server.
type Engine struct {
	cache    Cache
	pusher   Pusher
	conn     Connectivity
	clock    clockwork.Clock
	interval time.Duration
	log      logger.Logger

	inFlight atomic.Bool

	// bgMu orders wg.Add in Trigger against wg.Wait in Wait.
	bgMu    sync.Mutex
	waiters int
	wg      sync.WaitGroup

	mu   sync.Mutex
	last Status
}

// New returns an Engine. conn is only consulted by Run.
func New(cache Cache, pusher Pusher, conn Connectivity, opts ...Option) *Engine {
	e := &Engine{
		cache:    cache,
		pusher:   pusher,
		conn:     conn,
		clock:    clockwork.NewRealClock(),
		interval: defaultInterval,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PushPendingResults makes one push attempt.
func (e *Engine) PushPendingResults(ctx context.Context) Outcome {
	return e.push(ctx, TriggerManual)
}

// Trigger starts a push labelled trigger in the background and returns
// immediately. A trigger that arrives while Wait is draining is dropped; its
// records stay pending for the next attempt.
func (e *Engine) Trigger(ctx context.Context, trigger string) {
	e.bgMu.Lock()
	if e.waiters > 0 {
		e.bgMu.Unlock()
		e.log.Debug(ctx, "sync engine draining, trigger dropped", logger.String("trigger", trigger))
		metrics.RecordSyncAttempt(trigger, OutcomeBusy.String())
		return
	}
	e.wg.Add(1)
	e.bgMu.Unlock()

	go func() {
		defer e.wg.Done()
		e.push(ctx, trigger)
	}()
}

// Wait blocks until every push started by Trigger has returned.
func (e *Engine) Wait() {
	e.bgMu.Lock()
	e.waiters++
	e.bgMu.Unlock()

	e.wg.Wait()

	e.bgMu.Lock()
	e.waiters--
	e.bgMu.Unlock()
}

// InFlight reports whether a push is running.
func (e *Engine) InFlight() bool {
	return e.inFlight.Load()
}

// LastStatus returns the most recent non-busy attempt.
func (e *Engine) LastStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Run pushes every interval while online and once on each offline to
// online transition, until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	var transitions <-chan struct{}
	if e.conn != nil {
		transitions = e.conn.Transitions()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if e.conn == nil || e.conn.Online() {
				e.push(ctx, TriggerPeriodic)
			}
		case <-transitions:
			e.push(ctx, TriggerReconnect)
		}
	}
}

func (e *Engine) push(ctx context.Context, trigger string) Outcome {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.log.Debug(ctx, "sync already in progress, skipping", logger.String("trigger", trigger))
		metrics.RecordSyncAttempt(trigger, OutcomeBusy.String())
		return OutcomeBusy
	}
	defer e.inFlight.Store(false)

	st := e.attempt(ctx, trigger)
	st.Trigger = trigger
	st.At = e.clock.Now()

	e.mu.Lock()
	e.last = st
	e.mu.Unlock()

	metrics.RecordSyncAttempt(trigger, st.Outcome.String())
	return st.Outcome
}

func (e *Engine) attempt(ctx context.Context, trigger string) Status {
	pending, err := e.cache.Pending(ctx)
	if err != nil {
		e.log.Error(ctx, "reading pending results failed", logger.String("trigger", trigger), logger.Error(err))
		return Status{Outcome: OutcomeFailed, Err: err}
	}
	if len(pending) == 0 {
		return Status{Outcome: OutcomeEmpty}
	}

	start := time.Now()
	resp, err := e.pusher.PushResults(ctx, pending)
	metrics.RecordPushLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		e.log.Warn(ctx, "sync failed, results kept for the next attempt",
			logger.String("trigger", trigger),
			logger.Int("pending", len(pending)),
			logger.Error(err))
		return Status{Outcome: OutcomeFailed, Pushed: len(pending), Err: err}
	}

	remaining, err := e.cache.ClearPushed(ctx, pending)
	if err != nil {
		// the server has the batch, so a re-push is harmless
		e.log.Error(ctx, "clearing pushed results failed", logger.Error(err))
	}
	metrics.RecordRecordsPushed(len(pending))
	e.log.Info(ctx, "results synced",
		logger.String("trigger", trigger),
		logger.Int("pushed", len(pending)),
		logger.Int("inserted", resp.Inserted),
		logger.Int("remaining", remaining))
	return Status{Outcome: OutcomeSynced, Pushed: len(pending), Inserted: resp.Inserted, Err: err}
}

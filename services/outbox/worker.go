package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"kudos/pkg/config"
	"kudos/services/lifecycle"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("kudos/outbox")

// maxBackoffSteps caps the linear backoff multiplier.
const maxBackoffSteps = 5

type Config struct {
	Enabled           bool
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	Backoff           time.Duration
	VisibilityTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		PollInterval:      time.Second,
		BatchSize:         20,
		MaxAttempts:       10,
		Backoff:           30 * time.Second,
		VisibilityTimeout: 5 * time.Minute,
	}
}

// ConfigFrom fills unset or invalid values with the defaults.
func ConfigFrom(c config.Outbox) Config {
	def := DefaultConfig()
	cfg := Config{
		Enabled:           c.Enabled,
		PollInterval:      c.PollInterval,
		BatchSize:         c.BatchSize,
		MaxAttempts:       c.MaxAttempts,
		Backoff:           c.Backoff,
		VisibilityTimeout: c.VisibilityTimeout,
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = def.Backoff
	}
	return cfg
}

// BackoffFor returns the delay before retry number attempts:
// base * max(1, min(attempts, 5)).
func (c Config) BackoffFor(attempts int) time.Duration {
	steps := min(attempts, maxBackoffSteps)
	if steps < 1 {
		steps = 1
	}
	return c.Backoff * time.Duration(steps)
}

// Emitter delivers a decoded event to in-process listeners.
type Emitter interface {
	Emit(ctx context.Context, evt lifecycle.Event) []lifecycle.Outcome
}

type TickResult struct {
	Skipped   bool
	Reclaimed int
	Claimed   int
	Delivered int
	Retried   int
	Dead      int
}

// Worker drains the outbox into the lifecycle bus on a fixed interval.
type Worker struct {
	store   *Store
	bus     Emitter
	cfg     Config
	clock   clockwork.Clock
	metrics MetricsCollector

	ticking atomic.Bool

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

func NewWorker(store *Store, bus Emitter, cfg Config, clock clockwork.Clock, metrics MetricsCollector) *Worker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	return &Worker{
		store:   store,
		bus:     bus,
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
	}
}

// Start runs one tick immediately and then one per poll interval until Stop.
// A disabled worker does nothing and entries stay pending.
func (w *Worker) Start() error {
	if !w.cfg.Enabled {
		zap.L().Info("outbox worker disabled")
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("outbox worker already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.cancel = cancel

	go w.run(ctx, w.stop, w.done)

	zap.L().Info("outbox worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Int("max_attempts", w.cfg.MaxAttempts),
	)
	return nil
}

// Stop ends the poll loop. A tick already in flight runs to completion; Stop
// waits for it until ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	stop, done, cancel := w.stop, w.done, w.cancel
	w.mu.Unlock()

	close(stop)
	select {
	case <-done:
		cancel()
		zap.L().Info("outbox worker stopped")
		return nil
	case <-ctx.Done():
		go func() {
			<-done
			cancel()
		}()
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := w.clock.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.tickAndLog(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			w.tickAndLog(ctx)
		}
	}
}

func (w *Worker) tickAndLog(ctx context.Context) {
	if _, err := w.Tick(ctx); err != nil {
		zap.L().Error("outbox tick failed", zap.Error(err))
	}
}

// Tick reclaims stale entries, claims one batch and delivers it. It returns
// immediately with Skipped set when another tick is still running.
func (w *Worker) Tick(ctx context.Context) (TickResult, error) {
	if !w.ticking.CompareAndSwap(false, true) {
		return TickResult{Skipped: true}, nil
	}
	defer w.ticking.Store(false)

	ctx, span := tracer.Start(ctx, "outbox.Tick")
	defer span.End()

	start := w.clock.Now()
	var res TickResult

	reclaimed, err := w.store.ReclaimStale(ctx, w.cfg.VisibilityTimeout)
	if err != nil {
		zap.L().Warn("outbox reclaim failed", zap.Error(err))
	} else if reclaimed > 0 {
		res.Reclaimed = int(reclaimed)
		zap.L().Warn("outbox entries reclaimed from processing", zap.Int64("count", reclaimed))
	}

	entries, err := w.store.Claim(ctx, w.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("claim outbox entries: %w", err)
	}
	res.Claimed = len(entries)
	span.SetAttributes(attribute.Int("outbox.claimed", len(entries)))

	for _, e := range entries {
		switch w.deliver(ctx, e) {
		case StatusDelivered:
			res.Delivered++
		case StatusFailed:
			res.Retried++
		case StatusDead:
			res.Dead++
		}
	}

	w.metrics.RecordTick(res.Claimed, res.Reclaimed, w.clock.Since(start))
	if res.Claimed > 0 {
		zap.L().Debug("outbox tick processed",
			zap.Int("claimed", res.Claimed),
			zap.Int("delivered", res.Delivered),
			zap.Int("retried", res.Retried),
			zap.Int("dead", res.Dead),
		)
	}
	return res, nil
}

// deliver emits one entry and records the outcome. It returns the status the
// entry was moved to, or processing when the status update itself failed and
// the entry is left for the reclaim sweep.
func (w *Worker) deliver(ctx context.Context, e Entry) Status {
	log := zap.L().With(
		zap.Uint64("outbox_id", e.ID),
		zap.String("event_name", e.EventName),
		zap.Int("attempts", e.Attempts),
	)
	start := w.clock.Now()

	deliveryErr := w.emit(ctx, e)

	var (
		status = StatusDelivered
		err    error
	)
	if deliveryErr == nil {
		err = w.store.MarkDelivered(ctx, e.ID)
	} else {
		attempts := e.Attempts + 1
		msg := deliveryErr.Error()
		if attempts >= w.cfg.MaxAttempts {
			status = StatusDead
			err = w.store.MarkDead(ctx, e.ID, attempts, msg)
			log.Error("outbox entry dead", zap.Int("attempt", attempts), zap.Error(deliveryErr))
		} else {
			status = StatusFailed
			next := w.clock.Now().Add(w.cfg.BackoffFor(attempts))
			err = w.store.MarkRetry(ctx, e.ID, attempts, msg, next)
			log.Warn("outbox delivery failed, retry scheduled",
				zap.Int("attempt", attempts),
				zap.Time("next_attempt_at", next),
				zap.Error(deliveryErr),
			)
		}
	}

	if err != nil {
		log.Error("failed to record outbox delivery", zap.String("status", string(status)), zap.Error(err))
		return StatusProcessing
	}

	w.metrics.RecordDelivery(e.EventName, status, w.clock.Since(start))
	return status
}

func (w *Worker) emit(ctx context.Context, e Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("emit panicked: %v", r)
		}
	}()

	evt, err := lifecycle.Decode(lifecycle.EventName(e.EventName), e.Payload)
	if err != nil {
		return err
	}
	return lifecycle.FirstError(w.bus.Emit(ctx, evt))
}

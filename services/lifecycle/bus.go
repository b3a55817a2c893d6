package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var Module = fx.Module("lifecycle",
	fx.Provide(NewBus),
)

type Handler func(ctx context.Context, evt Event) error

// Subscription identifies one registered handler. The zero value matches nothing.
type Subscription struct {
	name EventName
	id   uint64
}

func (s Subscription) Name() EventName { return s.name }

type Outcome struct {
	Subscription Subscription
	Err          error
}

func (o Outcome) Failed() bool { return o.Err != nil }

// FirstError returns the first failure in outcomes, or nil when every
// handler succeeded.
func FirstError(outcomes []Outcome) error {
	for _, o := range outcomes {
		if o.Failed() {
			return o.Err
		}
	}
	return nil
}

type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("lifecycle handler panicked: %v", e.Value)
}

// Bus is the in-process registry of lifecycle listeners. Emit never returns
// handler failures as errors; callers inspect the outcomes.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventName]map[uint64]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[EventName]map[uint64]Handler)}
}

func (b *Bus) On(name EventName, h Handler) Subscription {
	return b.register(name, func(Subscription) Handler { return h })
}

// Once registers h for a single delivery. Concurrent emits deliver to it at
// most once.
func (b *Bus) Once(name EventName, h Handler) Subscription {
	var fired atomic.Bool
	return b.register(name, func(sub Subscription) Handler {
		return func(ctx context.Context, evt Event) error {
			if !fired.CompareAndSwap(false, true) {
				return nil
			}
			b.Off(sub)
			return h(ctx, evt)
		}
	})
}

// register builds the handler from its subscription under the write lock, so
// no emit can observe the handler before its subscription exists.
func (b *Bus) register(name EventName, build func(Subscription) Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := Subscription{name: name, id: b.nextID}
	if b.handlers[name] == nil {
		b.handlers[name] = make(map[uint64]Handler)
	}
	b.handlers[name][sub.id] = build(sub)
	return sub
}

// Off removes the handler behind sub. Removing twice is a no-op.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hs, ok := b.handlers[sub.name]
	if !ok {
		return
	}
	delete(hs, sub.id)
	if len(hs) == 0 {
		delete(b.handlers, sub.name)
	}
}

func (b *Bus) HandlerCount(name EventName) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Emit runs every handler currently registered for the event concurrently and
// waits for all of them. Handler errors and panics are captured per outcome.
func (b *Bus) Emit(ctx context.Context, evt Event) []Outcome {
	subs, hs := b.snapshot(evt.EventName())
	if len(hs) == 0 {
		return nil
	}

	outcomes := make([]Outcome, len(hs))
	var g errgroup.Group
	for i := range hs {
		outcomes[i].Subscription = subs[i]
		g.Go(func() error {
			outcomes[i].Err = invoke(ctx, hs[i], evt)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.Failed() {
			zap.L().Error("lifecycle handler failed",
				zap.String("event_name", string(o.Subscription.Name())),
				zap.Uint64("subscription", o.Subscription.id),
				zap.Error(o.Err),
			)
		}
	}

	return outcomes
}

func (b *Bus) snapshot(name EventName) ([]Subscription, []Handler) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	registered := b.handlers[name]
	ids := make([]uint64, 0, len(registered))
	for id := range registered {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	subs := make([]Subscription, len(ids))
	hs := make([]Handler, len(ids))
	for i, id := range ids {
		subs[i] = Subscription{name: name, id: id}
		hs[i] = registered[id]
	}
	return subs, hs
}

func invoke(ctx context.Context, h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return h(ctx, evt)
}

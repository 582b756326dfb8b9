package kernel

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

var errBusClosed = errors.New("bus closed")

// Bus fans events out to subscriptions. Each subscription drains its own
// bounded queue, so a busy command handler never stalls another module.
type Bus struct {
	defaults weasel.SubscriptionSpec
	report   func(context.Context, string, error)
	seq      atomic.Int64

	// mu serializes writers. Publish reads queues without locking.
	mu     sync.Mutex
	queues atomic.Pointer[[]*queue]
	closed atomic.Bool
}

// NewBus creates a bus. defaults fills Buffer, Workers and HandlerTimeout of
// subscriptions that leave them zero. report receives handler failures and
// dropped events. It may be nil.
func NewBus(defaults weasel.SubscriptionSpec, report func(context.Context, string, error)) *Bus {
	return &Bus{defaults: defaults, report: report}
}

// Publish validates event and offers it to every subscription whose interest
// matches. Drops are reported, not returned.
func (b *Bus) Publish(ctx context.Context, event *weasel.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if b.closed.Load() {
		return fmt.Errorf("publish %s: %w", event.ID, errBusClosed)
	}

	var failures []error
	for _, q := range b.snapshot() {
		if !q.interest.Matches(event) {
			continue
		}
		err := q.offer(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, weasel.ErrEventDropped), errors.Is(err, weasel.ErrSubscriptionClosed):
			b.reportError(ctx, q.spec.Name, err)
		default:
			failures = append(failures, err)
		}
	}
	if err := errors.Join(failures...); err != nil {
		return fmt.Errorf("publish %s: %w", event.ID, err)
	}

	return nil
}

// Subscribe starts a queue and its workers for handler.
func (b *Bus) Subscribe(
	ctx context.Context,
	interest weasel.InterestSet,
	spec weasel.SubscriptionSpec,
	handler weasel.EventHandler,
) (weasel.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}
	spec = b.fill(spec)
	switch spec.Backpressure {
	case weasel.BackpressureDropNewest, weasel.BackpressureDropOldest, weasel.BackpressureBlock:
	default:
		return nil, fmt.Errorf("subscribe %s: backpressure %q: %w", spec.Name, spec.Backpressure, weasel.ErrInvalidSubscription)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, errBusClosed)
	}
	q := newQueue(b, interest, spec, handler)
	next := append(slices.Clone(b.snapshot()), q)
	b.queues.Store(&next)

	return q, nil
}

// Close stops every subscription and rejects later publishes.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed.Swap(true) {
		b.mu.Unlock()
		return nil
	}
	queues := b.snapshot()
	b.queues.Store(nil)
	b.mu.Unlock()

	var failures []error
	for _, q := range queues {
		if err := q.stop(ctx); err != nil {
			failures = append(failures, err)
		}
	}
	if err := errors.Join(failures...); err != nil {
		return fmt.Errorf("close bus: %w", err)
	}

	return nil
}

func (b *Bus) snapshot() []*queue {
	if queues := b.queues.Load(); queues != nil {
		return *queues
	}

	return nil
}

func (b *Bus) remove(target *queue) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := slices.DeleteFunc(slices.Clone(b.snapshot()), func(q *queue) bool { return q == target })
	b.queues.Store(&next)
}

// fill applies bus defaults. A negative HandlerTimeout is kept: it means the
// handler runs without a deadline.
func (b *Bus) fill(spec weasel.SubscriptionSpec) weasel.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = "subscription-" + strconv.FormatInt(b.seq.Add(1), 10)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = max(b.defaults.Buffer, 1)
	}
	if spec.Workers <= 0 {
		spec.Workers = max(b.defaults.Workers, 1)
	}
	if spec.HandlerTimeout == 0 {
		spec.HandlerTimeout = b.defaults.HandlerTimeout
	}
	spec.Backpressure = cmp.Or(spec.Backpressure, b.defaults.Backpressure, weasel.BackpressureDropNewest)

	return spec
}

func (b *Bus) reportError(ctx context.Context, scope string, err error) {
	if b.report != nil {
		b.report(ctx, scope, err)
	}
}

var _ weasel.EventBus = (*Bus)(nil)

package kernel

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// queue is one subscription: a bounded channel drained by a fixed worker pool.
type queue struct {
	bus      *Bus
	interest weasel.InterestSet
	spec     weasel.SubscriptionSpec
	handler  weasel.EventHandler

	events  chan *weasel.Event
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	stopped atomic.Bool
}

func newQueue(bus *Bus, interest weasel.InterestSet, spec weasel.SubscriptionSpec, handler weasel.EventHandler) *queue {
	interest.Kinds = slices.Clone(interest.Kinds)
	interest.Sources = slices.Clone(interest.Sources)

	ctx, cancel := context.WithCancel(context.Background())
	q := &queue{
		bus:      bus,
		interest: interest,
		spec:     spec,
		handler:  handler,
		events:   make(chan *weasel.Event, spec.Buffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	for worker := range spec.Workers {
		q.workers.Go(func() { q.drain(worker) })
	}

	return q
}

// Name returns the subscription name.
func (q *queue) Name() string {
	return q.spec.Name
}

// Close detaches the queue from its bus and waits for in-flight handlers.
func (q *queue) Close(ctx context.Context) error {
	q.bus.remove(q)
	return q.stop(ctx)
}

// offer enqueues event, applying the backpressure policy when the queue is full.
func (q *queue) offer(ctx context.Context, event *weasel.Event) error {
	if q.stopped.Load() {
		return fmt.Errorf("offer to %s: %w", q.spec.Name, weasel.ErrSubscriptionClosed)
	}
	select {
	case q.events <- event:
		return nil
	default:
	}

	switch q.spec.Backpressure {
	case weasel.BackpressureDropOldest:
		select {
		case <-q.events:
		default:
		}
		select {
		case q.events <- event:
			return nil
		default:
		}
	case weasel.BackpressureBlock:
		select {
		case q.events <- event:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("offer to %s: %w", q.spec.Name, ctx.Err())
		case <-q.ctx.Done():
			return fmt.Errorf("offer to %s: %w", q.spec.Name, weasel.ErrSubscriptionClosed)
		}
	}

	return fmt.Errorf("offer %s to %s: %w", event.ID, q.spec.Name, weasel.ErrEventDropped)
}

func (q *queue) drain(worker int) {
	for {
		select {
		case <-q.ctx.Done():
			return
		case event := <-q.events:
			if err := q.deliver(worker, event); err != nil {
				q.bus.reportError(q.ctx, q.spec.Name, err)
			}
		}
	}
}

func (q *queue) deliver(worker int, event *weasel.Event) error {
	ctx := q.ctx
	if q.spec.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.spec.HandlerTimeout)
		defer cancel()
	}

	scope := q.spec.Name + "#" + strconv.Itoa(worker)
	return guard(scope, func() error {
		return q.handler(ctx, event)
	})
}

// stop cancels the workers and waits for them until ctx expires. Safe to call
// more than once.
func (q *queue) stop(ctx context.Context) error {
	q.stopped.Store(true)
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", q.spec.Name, ctx.Err())
	}
}

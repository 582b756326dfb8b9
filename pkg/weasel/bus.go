package weasel

import (
	"context"
	"time"
)

// BackpressurePolicy picks what a full subscription queue does with a new event.
type BackpressurePolicy string

const (
	// BackpressureDropNewest discards the incoming event.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest discards the longest-waiting event to make room.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock makes the publisher wait for room.
	BackpressureBlock BackpressurePolicy = "block"
)

// SubscriptionSpec tunes one subscription. Zero fields take bus defaults,
// except that a negative HandlerTimeout removes the per-event deadline.
type SubscriptionSpec struct {
	Name           string
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
}

// Subscription is a live registration on an EventBus.
type Subscription interface {
	Name() string
	// Close stops delivery and waits for running handlers until ctx is done.
	Close(ctx context.Context) error
}

// EventBus routes published events to matching subscriptions.
type EventBus interface {
	EventDispatcher
	Subscribe(ctx context.Context, interest InterestSet, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
	Close(ctx context.Context) error
}

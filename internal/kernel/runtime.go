package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// moduleRecord is the kernel's bookkeeping for one registered module.
type moduleRecord struct {
	name         string
	module       weasel.Module
	capabilities []weasel.Capability

	mu            sync.Mutex
	subscriptions []weasel.Subscription
}

func (m *moduleRecord) track(subscription weasel.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, subscription)
}

// closeSubscriptions closes and forgets every tracked subscription, so a second
// call is a no-op.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.mu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.mu.Unlock()

	var failures []error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			failures = append(failures, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return errors.Join(failures...)
}

// covers reports whether some declared capability allows interest.
func (m *moduleRecord) covers(interest weasel.InterestSet) bool {
	return slices.ContainsFunc(m.capabilities, func(capability weasel.Capability) bool {
		return capability.Interest.Allows(interest)
	})
}

// moduleRuntime is the view of the kernel handed to OnRegister.
type moduleRuntime struct {
	record   *moduleRecord
	services weasel.ServiceRegistry
	bus      weasel.EventBus
	sink     *weasel.EventSink
}

// Services returns the registry with the sink dispatcher bound to the module's
// route.
func (r *moduleRuntime) Services() weasel.ServiceRegistry {
	return routedServices{base: r.services, sink: cloneSink(r.sink)}
}

// Subscribe registers a subscription owned by the module. interest must fall
// within a declared capability.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest weasel.InterestSet,
	spec weasel.SubscriptionSpec,
	handler weasel.EventHandler,
) (weasel.Subscription, error) {
	name := r.record.name
	if spec.Name == "" {
		spec.Name = name + "-subscription"
	}
	if len(r.record.capabilities) == 0 {
		return nil, fmt.Errorf("module %s subscribe %s: no declared capability", name, spec.Name)
	}
	if !r.record.covers(interest) {
		return nil, fmt.Errorf("module %s subscribe %s: interest outside declared capabilities", name, spec.Name)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", name, spec.Name, err)
	}
	r.record.track(subscription)

	return subscription, nil
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

const (
	// DriverType is the config token selecting this runtime.
	DriverType = "telegram"
	// DriverPlatform is stamped on every event the driver publishes.
	DriverPlatform = weasel.PlatformTelegram

	defaultPublishTimeout = 2 * time.Second
)

// DriverOption customizes a Driver.
type DriverOption func(*Driver)

// WithName sets the driver name, which doubles as the event source id.
func WithName(name string) DriverOption {
	return func(d *Driver) {
		if name != "" {
			d.name = name
		}
	}
}

// WithPublishTimeout bounds each hand-off to the event bus.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(d *Driver) {
		if timeout > 0 {
			d.publishTimeout = timeout
		}
	}
}

// WithErrorHandler receives per-update failures. The update is dropped and the
// driver keeps running.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(d *Driver) {
		if handler != nil {
			d.report = handler
		}
	}
}

// Driver publishes Telegram message events onto the bus.
type Driver struct {
	name           string
	publishTimeout time.Duration
	report         func(context.Context, error)
	source         Source
}

// NewDriver creates a driver reading from source.
func NewDriver(source Source, options ...DriverOption) (*Driver, error) {
	if source == nil {
		return nil, errors.New("new telegram driver: nil source")
	}

	d := &Driver{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		report:         func(context.Context, error) {},
		source:         source,
	}
	for _, option := range options {
		option(d)
	}

	return d, nil
}

// Name implements weasel.Driver.
func (d *Driver) Name() string {
	return d.name
}

// Start blocks until ctx ends or the source fails.
func (d *Driver) Start(ctx context.Context, dispatcher weasel.EventDispatcher) error {
	if dispatcher == nil {
		return errors.New("start telegram driver: nil dispatcher")
	}

	origin := weasel.EventSource{Platform: DriverPlatform, ID: d.name}
	err := d.source.Consume(ctx, func(eventCtx context.Context, event *weasel.Event) error {
		if err := d.forward(eventCtx, origin, event, dispatcher); err != nil {
			d.report(eventCtx, err)
		}
		return nil
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	default:
		return fmt.Errorf("start telegram driver: %w", err)
	}
}

func (d *Driver) forward(
	ctx context.Context,
	origin weasel.EventSource,
	event *weasel.Event,
	dispatcher weasel.EventDispatcher,
) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("forward telegram event panic: %v", recovered)
		}
	}()

	if event == nil {
		return errors.New("forward telegram event: nil event")
	}
	event.Source = origin
	if err := event.Validate(); err != nil {
		return fmt.Errorf("forward telegram event %q: %w", event.ID, err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()
	if err := dispatcher.Publish(publishCtx, event); err != nil {
		return fmt.Errorf("publish telegram event %s: %w", event.ID, err)
	}

	return nil
}

// Shutdown does nothing; the session closes when the Start context ends.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}

var _ weasel.Driver = (*Driver)(nil)

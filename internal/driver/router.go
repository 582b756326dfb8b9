package driver

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

type sinkRoute struct {
	ref        weasel.EventSink
	dispatcher weasel.SinkDispatcher
}

// CompositeSinkDispatcher fans outbound calls out to the sink named by the
// request target.
//
// A target with a sink id goes to that sink. A target with only a platform
// goes to that platform's sole sink. A target without a sink works only while
// exactly one sink exists.
type CompositeSinkDispatcher struct {
	routes []sinkRoute
}

// NewCompositeSinkDispatcher collects the outbound halves of runtimes. Sink
// ids are the runtime source ids.
func NewCompositeSinkDispatcher(runtimes []Runtime) (*CompositeSinkDispatcher, error) {
	routes := make([]sinkRoute, 0, len(runtimes))
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil {
			continue
		}
		if runtime.Source.ID == "" {
			return nil, fmt.Errorf("new composite sink dispatcher: %s runtime has no id", runtime.Source.Platform)
		}
		routes = append(routes, sinkRoute{
			ref:        weasel.EventSink{Platform: runtime.Source.Platform, ID: runtime.Source.ID},
			dispatcher: runtime.SinkDispatcher,
		})
	}
	slices.SortStableFunc(routes, func(a, b sinkRoute) int { return cmp.Compare(a.ref.ID, b.ref.ID) })
	for index := 1; index < len(routes); index++ {
		if routes[index].ref.ID == routes[index-1].ref.ID {
			return nil, fmt.Errorf("new composite sink dispatcher: sink id %s used twice", routes[index].ref.ID)
		}
	}

	return &CompositeSinkDispatcher{routes: routes}, nil
}

// SendMessage implements weasel.SinkDispatcher.
func (d *CompositeSinkDispatcher) SendMessage(
	ctx context.Context,
	request weasel.SendMessageRequest,
) (*weasel.OutboundMessage, error) {
	route, err := d.pick(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	sent, err := route.dispatcher.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("send message via %s: %w", route.ref.ID, err)
	}

	return sent, nil
}

// SetReaction implements weasel.SinkDispatcher.
func (d *CompositeSinkDispatcher) SetReaction(ctx context.Context, request weasel.SetReactionRequest) error {
	route, err := d.pick(request.Target)
	if err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}
	if err := route.dispatcher.SetReaction(ctx, request); err != nil {
		return fmt.Errorf("set reaction via %s: %w", route.ref.ID, err)
	}

	return nil
}

// ListSinks returns every sink ordered by id.
func (d *CompositeSinkDispatcher) ListSinks(ctx context.Context) ([]weasel.EventSink, error) {
	return d.collect(ctx, func(weasel.EventSink) bool { return true })
}

// ListSinksByPlatform returns the sinks of platform ordered by id.
func (d *CompositeSinkDispatcher) ListSinksByPlatform(
	ctx context.Context,
	platform weasel.Platform,
) ([]weasel.EventSink, error) {
	return d.collect(ctx, func(ref weasel.EventSink) bool { return ref.Platform == platform })
}

func (d *CompositeSinkDispatcher) collect(ctx context.Context, keep func(weasel.EventSink) bool) ([]weasel.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}

	var refs []weasel.EventSink
	for _, route := range d.routes {
		if keep(route.ref) {
			refs = append(refs, route.ref)
		}
	}

	return refs, nil
}

func (d *CompositeSinkDispatcher) pick(target weasel.OutboundTarget) (sinkRoute, error) {
	if d == nil || len(d.routes) == 0 {
		return sinkRoute{}, fmt.Errorf("%w: no sinks configured", weasel.ErrOutboundUnsupported)
	}

	if target.Sink == nil {
		if len(d.routes) == 1 {
			return d.routes[0], nil
		}
		return sinkRoute{}, fmt.Errorf("%w: target names no sink and %d exist", weasel.ErrOutboundUnsupported, len(d.routes))
	}

	want := *target.Sink
	if want.ID != "" {
		index, found := slices.BinarySearchFunc(d.routes, want.ID, func(route sinkRoute, id string) int {
			return cmp.Compare(route.ref.ID, id)
		})
		switch {
		case !found:
			return sinkRoute{}, fmt.Errorf("%w: unknown sink %s", weasel.ErrOutboundUnsupported, want.ID)
		case want.Platform != "" && d.routes[index].ref.Platform != want.Platform:
			return sinkRoute{}, fmt.Errorf("%w: sink %s belongs to %s, not %s",
				weasel.ErrOutboundUnsupported, want.ID, d.routes[index].ref.Platform, want.Platform)
		}
		return d.routes[index], nil
	}

	var match []sinkRoute
	for _, route := range d.routes {
		if route.ref.Platform == want.Platform {
			match = append(match, route)
		}
	}
	if len(match) != 1 {
		return sinkRoute{}, fmt.Errorf("%w: %d sinks for platform %s", weasel.ErrOutboundUnsupported, len(match), want.Platform)
	}

	return match[0], nil
}

var _ weasel.SinkDispatcher = (*CompositeSinkDispatcher)(nil)

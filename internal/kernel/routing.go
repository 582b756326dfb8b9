package kernel

import (
	"context"
	"fmt"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// routedServices hands out a sink dispatcher that fills in the module's
// default sink. Every other service passes through.
type routedServices struct {
	base weasel.ServiceRegistry
	sink *weasel.EventSink
}

func (r routedServices) Register(name string, service any) error {
	return r.base.Register(name, service)
}

func (r routedServices) Resolve(name string) (any, error) {
	service, err := r.base.Resolve(name)
	if err != nil || name != weasel.ServiceSinkDispatcher {
		return service, err
	}
	dispatcher, ok := service.(weasel.SinkDispatcher)
	if !ok {
		return nil, fmt.Errorf("resolve service %s: type assertion failed", name)
	}

	return routedDispatcher{SinkDispatcher: dispatcher, sink: cloneSink(r.sink)}, nil
}

// routedDispatcher defaults the sink of outbound requests.
type routedDispatcher struct {
	weasel.SinkDispatcher
	sink *weasel.EventSink
}

func (d routedDispatcher) SendMessage(
	ctx context.Context,
	request weasel.SendMessageRequest,
) (*weasel.OutboundMessage, error) {
	request.Target = d.route(request.Target)
	return d.SinkDispatcher.SendMessage(ctx, request)
}

func (d routedDispatcher) SetReaction(ctx context.Context, request weasel.SetReactionRequest) error {
	request.Target = d.route(request.Target)
	return d.SinkDispatcher.SetReaction(ctx, request)
}

func (d routedDispatcher) route(target weasel.OutboundTarget) weasel.OutboundTarget {
	if target.Sink == nil {
		target.Sink = cloneSink(d.sink)
	}

	return target
}

func cloneSink(sink *weasel.EventSink) *weasel.EventSink {
	if sink == nil {
		return nil
	}
	cloned := *sink

	return &cloned
}

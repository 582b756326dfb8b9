package weasel

import "errors"

var (
	ErrInvalidEvent        = errors.New("weasel: invalid event")
	ErrInvalidSubscription = errors.New("weasel: invalid subscription")
	ErrSubscriptionClosed  = errors.New("weasel: subscription closed")
	// ErrEventDropped reports an event discarded by a full queue.
	ErrEventDropped = errors.New("weasel: event dropped")

	ErrServiceAlreadyRegistered = errors.New("weasel: service already registered")
	ErrServiceNotFound          = errors.New("weasel: service not found")
	ErrModuleAlreadyRegistered  = errors.New("weasel: module already registered")
	ErrDriverAlreadyRegistered  = errors.New("weasel: driver already registered")

	ErrInvalidOutboundRequest = errors.New("weasel: invalid outbound request")
	// ErrOutboundUnsupported reports an operation the sink cannot perform.
	ErrOutboundUnsupported = errors.New("weasel: outbound operation unsupported")

	// ErrCommandNotFound reports a name missing from the plugin catalog.
	ErrCommandNotFound = errors.New("weasel: command not found")
)

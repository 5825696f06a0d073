package events

import (
	"context"

	"github.com/phrazzld/coldstore/internal/domain"
)

// EventHandler processes forwarded output events.
type EventHandler interface {
	// HandleEvent processes the given event. An error is logged by the
	// forwarder and does not stop delivery to other handlers.
	HandleEvent(ctx context.Context, event domain.OutputEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event domain.OutputEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event domain.OutputEvent) error {
	return f(ctx, event)
}

// Emitter publishes output events.
type Emitter interface {
	Emit(ctx context.Context, event domain.OutputEvent) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, event domain.OutputEvent) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, event domain.OutputEvent) error {
	return f(ctx, event)
}

// Discard is an Emitter that drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, domain.OutputEvent) error { return nil })

package events

import "context"

// Handler processes events of a given type. Handlers should not block for long.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription ties a handler's lifetime to its owner.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	id  string
	bus *Bus
	typ Type
}

func (s *subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id, s.typ)
}

// Publisher is what components depend on to emit events.
type Publisher interface {
	Publish(event Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }

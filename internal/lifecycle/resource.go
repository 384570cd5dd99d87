package lifecycle

import "context"

// Listener is the component accepting inbound work.
// StopAccepting stops new connections and returns once in-flight requests are done.
type Listener interface {
	StopAccepting(ctx context.Context) error
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(ctx context.Context) error

// StopAccepting calls f(ctx).
func (f ListenerFunc) StopAccepting(ctx context.Context) error {
	return f(ctx)
}

// Resource is a dependency released during shutdown.
type Resource interface {
	Name() string
	Close(ctx context.Context) error
}

type resourceFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (r resourceFunc) Name() string { return r.name }

func (r resourceFunc) Close(ctx context.Context) error { return r.fn(ctx) }

// NewResource wraps a named close function as a Resource.
func NewResource(name string, fn func(ctx context.Context) error) Resource {
	return resourceFunc{name: name, fn: fn}
}

// Package broadcast defines the port for pushing real-time events to observers.
package broadcast

import (
	"context"

	"github.com/Strob0t/hitl/internal/domain/event"
)

// Sink receives events for one observer. A Send error means the observer is
// gone; it will not be retried.
type Sink interface {
	Send(ctx context.Context, ev event.Event) error
}

// Broadcaster delivers an event to every attached sink.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev event.Event)
}

// Evictable is implemented by sinks that want to be told when the broadcaster
// drops them, e.g. to close an underlying connection.
type Evictable interface {
	Evicted(reason error)
}

// Durable is implemented by server-side sinks that must stay attached for the
// life of the process. When such a sink falls behind, its oldest queued event
// is discarded instead of the sink; Send errors are logged, not evicted.
type Durable interface {
	Durable() bool
}

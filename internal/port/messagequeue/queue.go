// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects used by hitl.
const (
	// SubjectEvents prefixes mirrored observer events: hitl.events.{type}.
	SubjectEvents = "hitl.events"

	SubjectResolveApprove = "hitl.resolve.approve"
	SubjectResolveDeny    = "hitl.resolve.deny"
	SubjectResolveRespond = "hitl.resolve.respond"

	// SubjectDLQSuffix is appended to a subject for dead-lettered messages.
	SubjectDLQSuffix = ".dlq"
)

// EventSubject returns the subject an observer event of the given type is
// mirrored to.
func EventSubject(eventType string) string {
	return SubjectEvents + "." + eventType
}

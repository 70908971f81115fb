package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/hitl/internal/domain/event"
	"github.com/Strob0t/hitl/internal/port/broadcast"
	"github.com/Strob0t/hitl/internal/port/messagequeue"
	"github.com/Strob0t/hitl/internal/resilience"
)

// Publisher is the subset of messagequeue.Queue the mirror needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Mirror is an observer that republishes every event on the bus under
// hitl.events.<type>. Publish failures are logged and swallowed, so a bus
// outage never detaches the mirror from the hub.
type Mirror struct {
	pub     Publisher
	breaker *resilience.Breaker
}

// NewMirror creates a mirror publishing through pub, guarded by breaker.
func NewMirror(pub Publisher, breaker *resilience.Breaker) *Mirror {
	return &Mirror{pub: pub, breaker: breaker}
}

var _ broadcast.Durable = (*Mirror)(nil)

// Durable keeps the mirror attached when it falls behind.
func (m *Mirror) Durable() bool { return true }

// Send implements broadcast.Sink.
func (m *Mirror) Send(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	subject := messagequeue.EventSubject(string(ev.Type))
	err = m.breaker.Execute(ctx, func(ctx context.Context) error {
		return m.pub.Publish(ctx, subject, data)
	})
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		slog.Debug("event mirror skipped, circuit open", "subject", subject)
	case err != nil:
		slog.Warn("event mirror publish failed", "subject", subject, "error", err)
	}
	return nil
}

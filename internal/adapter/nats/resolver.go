package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/hitl/internal/port/messagequeue"
)

// Coordinator is the resolution side of service.Coordinator.
type Coordinator interface {
	Approve(ctx context.Context, id string, mods map[string]any) bool
	Deny(ctx context.Context, id string) bool
	SubmitResponse(ctx context.Context, id, text string) bool
}

// Resolver lets clients on the bus approve, deny and answer pending calls.
type Resolver struct {
	queue messagequeue.Queue
	coord Coordinator
	stops []func()
}

// NewResolver creates a resolver. Call Start to subscribe.
func NewResolver(queue messagequeue.Queue, coord Coordinator) *Resolver {
	return &Resolver{queue: queue, coord: coord}
}

// Start subscribes to the resolve subjects.
func (r *Resolver) Start(ctx context.Context) error {
	for _, subject := range []string{
		messagequeue.SubjectResolveApprove,
		messagequeue.SubjectResolveDeny,
		messagequeue.SubjectResolveRespond,
	} {
		stop, err := r.queue.Subscribe(ctx, subject, r.Handle)
		if err != nil {
			r.Stop()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.stops = append(r.stops, stop)
	}
	return nil
}

// Stop cancels all subscriptions.
func (r *Resolver) Stop() {
	for _, stop := range r.stops {
		stop()
	}
	r.stops = nil
}

// Handle applies one resolve command. Unknown or already resolved ids are
// not errors: the command is acknowledged and dropped.
func (r *Resolver) Handle(ctx context.Context, subject string, data []byte) error {
	var (
		id       string
		resolved bool
	)
	switch subject {
	case messagequeue.SubjectResolveApprove:
		var p messagequeue.ApprovePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", subject, err)
		}
		id, resolved = p.ID, r.coord.Approve(ctx, p.ID, p.Modifications)
	case messagequeue.SubjectResolveDeny:
		var p messagequeue.DenyPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", subject, err)
		}
		id, resolved = p.ID, r.coord.Deny(ctx, p.ID)
	case messagequeue.SubjectResolveRespond:
		var p messagequeue.RespondPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", subject, err)
		}
		id, resolved = p.QuestionID, r.coord.SubmitResponse(ctx, p.QuestionID, p.Text)
	default:
		slog.Warn("unexpected resolve subject", "subject", subject)
		return nil
	}

	slog.DebugContext(ctx, "bus resolution",
		"subject", subject,
		"call_id", id,
		"resolved", resolved,
	)
	return nil
}

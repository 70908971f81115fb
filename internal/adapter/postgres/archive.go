package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/hitl/internal/domain/approval"
	"github.com/Strob0t/hitl/internal/domain/event"
	"github.com/Strob0t/hitl/internal/domain/question"
	"github.com/Strob0t/hitl/internal/logger"
	"github.com/Strob0t/hitl/internal/port/broadcast"
	"github.com/Strob0t/hitl/internal/resilience"
)

// Archive is an observer that appends every event to audit_events and keeps
// audit_tool_calls in step with the approval lifecycle. Write failures are
// logged; the archive never detaches itself from the hub.
type Archive struct {
	db      Execer
	breaker *resilience.Breaker
}

// NewArchive creates an archive writing through db.
func NewArchive(db Execer, breaker *resilience.Breaker) *Archive {
	return &Archive{db: db, breaker: breaker}
}

var _ broadcast.Durable = (*Archive)(nil)

// Durable keeps the archive attached when it falls behind.
func (a *Archive) Durable() bool { return true }

// Send implements broadcast.Sink.
func (a *Archive) Send(ctx context.Context, ev event.Event) error {
	if ev.Type == event.TypeInitialState {
		return nil
	}
	rec, err := recordFor(ev)
	if err != nil {
		slog.Warn("audit encode failed", "type", ev.Type, "error", err)
		return nil
	}
	err = a.breaker.Execute(ctx, func(ctx context.Context) error {
		return a.write(ctx, rec, logger.RequestID(ctx))
	})
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		slog.Debug("audit skipped, circuit open", "type", ev.Type)
	case err != nil:
		slog.Warn("audit write failed", "type", ev.Type, "subject_id", rec.subjectID, "error", err)
	}
	return nil
}

func (a *Archive) write(ctx context.Context, rec record, requestID string) error {
	_, err := a.db.Exec(ctx,
		`INSERT INTO audit_events (event_type, subject_id, tool_name, status, payload, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		string(rec.eventType), nullIfEmpty(rec.subjectID), nullIfEmpty(rec.toolName),
		nullIfEmpty(rec.status), rec.payload, nullIfEmpty(requestID))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	switch rec.eventType {
	case event.TypeNewRequest, event.TypeLogUpdate:
		_, err = a.db.Exec(ctx,
			`INSERT INTO audit_tool_calls (call_id, tool_name, kwargs, status, result, resolved_at)
			 VALUES ($1, $2, $3, $4, $5, CASE WHEN $4 = 'pending' THEN NULL ELSE now() END)
			 ON CONFLICT (call_id) DO NOTHING`,
			rec.subjectID, rec.toolName, rec.kwargs, rec.status, nullIfEmpty(rec.result))
	case event.TypeRequestApproved, event.TypeRequestDenied:
		_, err = a.db.Exec(ctx,
			`UPDATE audit_tool_calls SET status = $2, result = $3, resolved_at = now() WHERE call_id = $1`,
			rec.subjectID, rec.status, nullIfEmpty(rec.result))
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("upsert audit tool call: %w", err)
	}
	return nil
}

// record is one archived event with the columns pulled out of its payload.
type record struct {
	eventType event.Type
	subjectID string
	toolName  string
	status    string
	result    string
	kwargs    []byte
	payload   []byte
}

func recordFor(ev event.Event) (record, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return record{}, err
	}
	rec := record{eventType: ev.Type, payload: payload, kwargs: []byte("{}")}

	switch p := ev.Payload.(type) {
	case approval.Request:
		rec.subjectID, rec.toolName, rec.status, rec.result = p.ID, p.ToolName, string(p.Status), p.Result
		if len(p.Kwargs) > 0 {
			if rec.kwargs, err = json.Marshal(p.Kwargs); err != nil {
				return record{}, err
			}
		}
	case event.RequestApproved:
		rec.subjectID, rec.status, rec.result = p.ID, string(approval.StatusApprovedAndExecuted), p.Result
	case event.RequestDenied:
		rec.subjectID, rec.status = p.ID, string(approval.StatusDenied)
	case question.Question:
		rec.subjectID = p.ID
	case event.QuestionResolved:
		rec.subjectID = p.ID
	}
	return rec, nil
}

package otel

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/hitl/internal/domain/approval"
	"github.com/Strob0t/hitl/internal/fanout"
)

const meterName = "hitl"

// Metrics holds all hitl metric instruments. It satisfies service.Metrics.
type Metrics struct {
	RequestsCreated  metric.Int64Counter
	RequestsResolved metric.Int64Counter
	PendingRequests  metric.Int64UpDownCounter
	ApprovalWait     metric.Float64Histogram
	QuestionsAsked   metric.Int64Counter
	PendingQuestions metric.Int64UpDownCounter
	QuestionWait     metric.Float64Histogram
	ObserversDropped metric.Int64Counter
}

// NewMetrics creates all metric instruments on mp, or on the global meter
// provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RequestsCreated, err = meter.Int64Counter("hitl.requests.created",
		metric.WithDescription("Tool calls registered for human approval"))
	if err != nil {
		return nil, err
	}

	m.RequestsResolved, err = meter.Int64Counter("hitl.requests.resolved",
		metric.WithDescription("Tool calls that reached a terminal status"))
	if err != nil {
		return nil, err
	}

	m.PendingRequests, err = meter.Int64UpDownCounter("hitl.requests.pending",
		metric.WithDescription("Tool calls currently waiting for a decision"))
	if err != nil {
		return nil, err
	}

	m.ApprovalWait, err = meter.Float64Histogram("hitl.approval.wait_seconds",
		metric.WithDescription("Time from registration to decision"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.QuestionsAsked, err = meter.Int64Counter("hitl.questions.asked",
		metric.WithDescription("Questions asked of the operator"))
	if err != nil {
		return nil, err
	}

	m.PendingQuestions, err = meter.Int64UpDownCounter("hitl.questions.pending",
		metric.WithDescription("Questions currently unanswered"))
	if err != nil {
		return nil, err
	}

	m.QuestionWait, err = meter.Float64Histogram("hitl.question.wait_seconds",
		metric.WithDescription("Time from question to answer"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.ObserversDropped, err = meter.Int64Counter("hitl.observers.dropped",
		metric.WithDescription("Observers removed after a failed or stalled delivery"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RequestCreated(ctx context.Context, tool string) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.RequestsCreated.Add(ctx, 1, attrs)
	m.PendingRequests.Add(ctx, 1, attrs)
}

func (m *Metrics) RequestResolved(ctx context.Context, tool string, status approval.Status, waited time.Duration) {
	m.RequestsResolved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", string(status)),
	))
	if status == approval.StatusAutoApproved {
		return
	}
	m.PendingRequests.Add(ctx, -1, metric.WithAttributes(attribute.String("tool", tool)))
	m.ApprovalWait.Record(ctx, waited.Seconds(), metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *Metrics) QuestionAsked(ctx context.Context) {
	m.QuestionsAsked.Add(ctx, 1)
	m.PendingQuestions.Add(ctx, 1)
}

func (m *Metrics) QuestionAnswered(ctx context.Context, waited time.Duration) {
	m.PendingQuestions.Add(ctx, -1)
	m.QuestionWait.Record(ctx, waited.Seconds())
}

// ObserverDropped counts a sink removed by the fan-out hub, or an event a
// durable sink lost because it fell behind. Its signature
// matches the hub's drop hook once the sink argument is discarded.
func (m *Metrics) ObserverDropped(reason error) {
	m.ObserversDropped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reasonLabel(reason))))
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, fanout.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, fanout.ErrEventDiscarded):
		return "event_discarded"
	}
	return "send_failed"
}

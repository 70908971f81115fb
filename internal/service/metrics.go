package service

import (
	"context"
	"time"

	"github.com/Strob0t/hitl/internal/domain/approval"
)

// Metrics receives coordinator activity. The OpenTelemetry adapter
// implements it.
type Metrics interface {
	RequestCreated(ctx context.Context, tool string)
	RequestResolved(ctx context.Context, tool string, status approval.Status, waited time.Duration)
	QuestionAsked(ctx context.Context)
	QuestionAnswered(ctx context.Context, waited time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RequestCreated(context.Context, string) {}
func (noopMetrics) RequestResolved(context.Context, string, approval.Status, time.Duration) {}
func (noopMetrics) QuestionAsked(context.Context) {}
func (noopMetrics) QuestionAnswered(context.Context, time.Duration) {}

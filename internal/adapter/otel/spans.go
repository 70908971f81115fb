package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "hitl"

// StartApprovalSpan covers a request from registration until its action has
// run or it was denied.
func StartApprovalSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "approval",
		trace.WithAttributes(
			attribute.String("approval.tool", tool),
		),
	)
}

// StartQuestionSpan covers a question from ask until answer.
func StartQuestionSpan(ctx context.Context, options int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "question",
		trace.WithAttributes(
			attribute.Int("question.options", options),
		),
	)
}

// StartToolSpan covers the execution of a tool action.
func StartToolSpan(ctx context.Context, callID, tool string, auto bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tool",
		trace.WithAttributes(
			attribute.String("tool.call_id", callID),
			attribute.String("tool.name", tool),
			attribute.Bool("tool.auto_approved", auto),
		),
	)
}

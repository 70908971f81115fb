package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	hitlotel "github.com/Strob0t/hitl/internal/adapter/otel"
	"github.com/Strob0t/hitl/internal/activity"
	"github.com/Strob0t/hitl/internal/domain"
	"github.com/Strob0t/hitl/internal/domain/approval"
	"github.com/Strob0t/hitl/internal/domain/chat"
	"github.com/Strob0t/hitl/internal/domain/event"
	"github.com/Strob0t/hitl/internal/domain/question"
	"github.com/Strob0t/hitl/internal/domain/tool"
	"github.com/Strob0t/hitl/internal/fanout"
	"github.com/Strob0t/hitl/internal/port/broadcast"
	"github.com/Strob0t/hitl/internal/registry"
)

// Outcome is what a suspended caller gets back. A denial is an ordinary
// outcome, not an error.
type Outcome struct {
	ID      string `json:"id"`
	Denied  bool   `json:"denied"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Text renders the outcome the way it is shown to an agent.
func (o Outcome) Text() string {
	if o.Denied {
		return o.Message
	}
	return renderResult(o.Result)
}

// ToolCallsView is the pending set plus the most recent log entries.
type ToolCallsView struct {
	Pending []approval.Request `json:"pending"`
	Log     []approval.Entry   `json:"log"`
}

// Coordinator composes the registry, the activity log, the chat history and
// the fan-out hub. One mutex serialises every compound mutation of those
// components together with the choice of broadcast targets, so an observer
// attached concurrently with a resolution never sees an event without the
// state it refers to. The mutex is never held while a caller waits.
type Coordinator struct {
	mu sync.Mutex

	reg     *registry.Registry
	log     *activity.Log
	chat    *activity.Chat
	hub     *fanout.Hub
	tools   *Toolbox
	metrics Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics records coordinator activity.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithRegistry replaces the default registry.
func WithRegistry(r *registry.Registry) Option {
	return func(c *Coordinator) { c.reg = r }
}

// NewCoordinator creates a coordinator that broadcasts through hub and looks
// up agent tools in tools.
func NewCoordinator(hub *fanout.Hub, tools *Toolbox, opts ...Option) *Coordinator {
	c := &Coordinator{
		reg:     registry.New(),
		log:     activity.NewLog(),
		chat:    activity.NewChat(),
		hub:     hub,
		tools:   tools,
		metrics: noopMetrics{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Attach registers sink and sends it the current state before any later
// event.
func (c *Coordinator) Attach(ctx context.Context, sink broadcast.Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := event.InitialState{
		Pending:     c.reg.Pending(),
		Log:         c.log.All(),
		ChatHistory: c.chat.All(),
		Questions:   c.reg.PendingQuestions(),
	}
	if err := c.hub.Add(ctx, sink, event.New(event.TypeInitialState, snap)); err != nil {
		return fmt.Errorf("attach observer: %w", err)
	}
	return nil
}

// Detach unregisters sink. Unknown sinks are ignored.
func (c *Coordinator) Detach(sink broadcast.Sink) {
	c.hub.Remove(sink)
}

// RequestApproval registers a pending request, announces it and blocks until
// a human approves or denies it. On approval the action runs with the final,
// possibly edited, arguments. There is no timeout: the request waits until it
// is resolved.
func (c *Coordinator) RequestApproval(ctx context.Context, toolName string, action tool.Action, args []any, kwargs map[string]any, renderer string) (Outcome, error) {
	ctx, span := hitlotel.StartApprovalSpan(ctx, toolName)
	defer span.End()

	c.mu.Lock()
	ticket, req := c.reg.RegisterApproval(toolName, args, kwargs, renderer)
	if err := c.log.Append(req); err != nil {
		c.mu.Unlock()
		return Outcome{}, fmt.Errorf("request approval: %w", err)
	}
	c.hub.Broadcast(ctx, event.New(event.TypeNewRequest, req))
	c.mu.Unlock()

	span.SetAttributes(attribute.String("approval.id", req.ID))
	c.metrics.RequestCreated(ctx, toolName)
	slog.InfoContext(ctx, "approval requested", "call_id", req.ID, "tool", toolName, "renderer", renderer)

	start := time.Now()
	ticket.Wait()
	waited := time.Since(start)

	// The resolver writes the final status and kwargs to the log before
	// setting the gate, so the log is authoritative here.
	entry, ok := c.log.Get(req.ID)
	if !ok {
		return Outcome{}, fmt.Errorf("request approval %s: log entry: %w", req.ID, domain.ErrNotFound)
	}

	if entry.Status == approval.StatusDenied {
		c.metrics.RequestResolved(ctx, toolName, approval.StatusDenied, waited)
		slog.InfoContext(ctx, "approval denied", "call_id", req.ID, "tool", toolName)
		return Outcome{ID: req.ID, Denied: true, Message: denialMessage(toolName)}, nil
	}

	slog.InfoContext(ctx, "approval granted, executing", "call_id", req.ID, "tool", toolName)
	result, runErr := c.run(ctx, req.ID, toolName, false, action, entry.Args, entry.Kwargs)
	rendered := renderOutcome(result, runErr)

	c.mu.Lock()
	if err := c.log.SetResult(req.ID, rendered); err != nil {
		slog.WarnContext(ctx, "log result", "call_id", req.ID, "error", err)
	}
	if err := c.log.SetStatus(req.ID, approval.StatusApprovedAndExecuted); err != nil {
		slog.WarnContext(ctx, "log status", "call_id", req.ID, "error", err)
	}
	c.hub.Broadcast(ctx, event.New(event.TypeRequestApproved, event.RequestApproved{ID: req.ID, Result: rendered}))
	c.mu.Unlock()

	c.metrics.RequestResolved(ctx, toolName, approval.StatusApprovedAndExecuted, waited)
	if runErr != nil {
		span.RecordError(runErr)
		return Outcome{ID: req.ID}, fmt.Errorf("tool %s: %w", toolName, runErr)
	}
	return Outcome{ID: req.ID, Result: result}, nil
}

// Approve releases a pending request, merging mods into its kwargs first.
// It reports false for unknown or already-resolved ids.
func (c *Coordinator) Approve(ctx context.Context, id string, mods map[string]any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.reg.LookupApproval(id); !ok {
		return false
	}
	if len(mods) > 0 {
		c.reg.MutateKwargs(id, mods)
		if err := c.log.MergeKwargs(id, mods); err != nil {
			slog.WarnContext(ctx, "log kwargs", "call_id", id, "error", err)
		}
	}
	_, ok := c.reg.ResolveApproval(id, approval.OutcomeApproved)
	if ok {
		slog.InfoContext(ctx, "request approved", "call_id", id, "modified", len(mods) > 0)
	}
	return ok
}

// Deny marks a pending request denied and releases it. The action will not
// run. It reports false for unknown or already-resolved ids.
func (c *Coordinator) Deny(ctx context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.reg.LookupApproval(id); !ok {
		return false
	}
	if err := c.log.SetStatus(id, approval.StatusDenied); err != nil {
		slog.WarnContext(ctx, "log status", "call_id", id, "error", err)
	}
	if _, ok := c.reg.ResolveApproval(id, approval.OutcomeDenied); !ok {
		return false
	}
	c.hub.Broadcast(ctx, event.New(event.TypeRequestDenied, event.RequestDenied{ID: id}))
	slog.InfoContext(ctx, "request denied", "call_id", id)
	return true
}

// ApproveBatch approves each id independently and returns those that were
// pending.
func (c *Coordinator) ApproveBatch(ctx context.Context, ids []string) []string {
	done := make([]string, 0, len(ids))
	for _, id := range ids {
		if c.Approve(ctx, id, nil) {
			done = append(done, id)
		}
	}
	return done
}

// DenyBatch denies each id independently and returns those that were
// pending.
func (c *Coordinator) DenyBatch(ctx context.Context, ids []string) []string {
	done := make([]string, 0, len(ids))
	for _, id := range ids {
		if c.Deny(ctx, id) {
			done = append(done, id)
		}
	}
	return done
}

// AskQuestion posts a question and blocks until it is answered. Questions
// cannot be refused.
func (c *Coordinator) AskQuestion(ctx context.Context, text string, options []string) (string, error) {
	if err := question.Validate(text, options); err != nil {
		return "", err
	}
	ctx, span := hitlotel.StartQuestionSpan(ctx, len(options))
	defer span.End()

	c.mu.Lock()
	ticket, q := c.reg.RegisterQuestion(text, options)
	msg := c.chat.Append(chat.AuthorServer, text)
	c.hub.Broadcast(ctx, event.New(event.TypeNewChatMessage, msg))
	c.hub.Broadcast(ctx, event.New(event.TypeNewQuestion, q))
	c.mu.Unlock()

	c.metrics.QuestionAsked(ctx)
	slog.InfoContext(ctx, "question asked", "question_id", q.ID, "type", q.Kind)

	start := time.Now()
	answer := ticket.Wait()
	c.metrics.QuestionAnswered(ctx, time.Since(start))
	return answer, nil
}

// SubmitResponse answers a pending question. Unknown or already-answered ids
// are logged and ignored.
func (c *Coordinator) SubmitResponse(ctx context.Context, id, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.reg.LookupQuestion(id); !ok {
		slog.WarnContext(ctx, "response for unknown question ignored", "question_id", id)
		return false
	}
	msg := c.chat.Append(chat.AuthorUser, text)
	c.hub.Broadcast(ctx, event.New(event.TypeNewChatMessage, msg))
	if !c.reg.ResolveQuestion(id, text) {
		return false
	}
	c.hub.Broadcast(ctx, event.New(event.TypeQuestionResolved, event.QuestionResolved{ID: id, Response: text}))
	return true
}

// TellUser appends an agent message to the chat and broadcasts it.
func (c *Coordinator) TellUser(ctx context.Context, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message is required: %w", domain.ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msg := c.chat.Append(chat.AuthorServer, message)
	c.hub.Broadcast(ctx, event.New(event.TypeNewMessage, msg))
	return nil
}

// Invoke runs a registered tool. Auto-approved tools run immediately and are
// logged as auto_approved; the rest go through RequestApproval.
func (c *Coordinator) Invoke(ctx context.Context, name string, args []any, kwargs map[string]any) (Outcome, error) {
	t, err := c.tools.Lookup(name)
	if err != nil {
		return Outcome{}, err
	}
	if err := t.CheckKwargs(kwargs); err != nil {
		return Outcome{}, err
	}
	if t.RequiresApproval() {
		return c.RequestApproval(ctx, t.Name, t.Run, args, kwargs, t.RendererOrDefault())
	}

	id := uuid.NewString()
	slog.InfoContext(ctx, "executing auto-approved tool", "call_id", id, "tool", t.Name)
	result, runErr := c.run(ctx, id, t.Name, true, t.Run, args, kwargs)

	entry := approval.Entry{
		ID:       id,
		ToolName: t.Name,
		Args:     args,
		Kwargs:   kwargs,
		Status:   approval.StatusAutoApproved,
		Result:   renderOutcome(result, runErr),
	}.Clone()

	c.mu.Lock()
	if err := c.log.Append(entry); err != nil {
		slog.WarnContext(ctx, "log auto-approved call", "call_id", id, "error", err)
	}
	c.hub.Broadcast(ctx, event.New(event.TypeLogUpdate, entry))
	c.mu.Unlock()

	c.metrics.RequestResolved(ctx, t.Name, approval.StatusAutoApproved, 0)
	if runErr != nil {
		return Outcome{ID: id}, fmt.Errorf("tool %s: %w", t.Name, runErr)
	}
	return Outcome{ID: id, Result: result}, nil
}

// Tools returns the registered tool catalogue.
func (c *Coordinator) Tools() []tool.Tool {
	return c.tools.List()
}

func (c *Coordinator) run(ctx context.Context, id, name string, auto bool, action tool.Action, args []any, kwargs map[string]any) (any, error) {
	ctx, span := hitlotel.StartToolSpan(ctx, id, name, auto)
	defer span.End()

	result, err := action(ctx, args, kwargs)
	if err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "tool failed", "call_id", id, "tool", name, "error", err)
	}
	return result, err
}

// ToolCalls returns the pending requests and the n most recent log entries,
// newest first.
func (c *Coordinator) ToolCalls(n int) ToolCallsView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ToolCallsView{Pending: c.reg.Pending(), Log: c.log.Recent(n)}
}

// ChatHistory returns every chat message in order.
func (c *Coordinator) ChatHistory() []chat.Message {
	return c.chat.All()
}

// PendingQuestions returns unanswered questions in ask order.
func (c *Coordinator) PendingQuestions() []question.Question {
	return c.reg.PendingQuestions()
}

// Entry returns the log entry for id.
func (c *Coordinator) Entry(id string) (approval.Entry, error) {
	e, ok := c.log.Get(id)
	if !ok {
		return approval.Entry{}, fmt.Errorf("tool call %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

func denialMessage(toolName string) string {
	return fmt.Sprintf("Tool call '%s' was denied by the user.", toolName)
}

func renderOutcome(result any, err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return renderResult(result)
}

func renderResult(result any) string {
	if result == nil {
		return ""
	}
	if s, ok := result.(string); ok {
		return s
	}
	return fmt.Sprint(result)
}

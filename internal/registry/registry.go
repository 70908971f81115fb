// Package registry holds in-flight approval requests and questions, each bound
// to its own gate. It is storage only: logging and broadcasting belong to the
// caller.
package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/Strob0t/hitl/internal/domain/approval"
	"github.com/Strob0t/hitl/internal/domain/question"
	"github.com/Strob0t/hitl/internal/gate"
)

// ApprovalTicket is handed to the requester of an approval. Its gate is set
// exactly when the request leaves the registry.
type ApprovalTicket struct {
	ID   string
	gate *gate.Gate
}

// Wait blocks until the request is approved or denied.
func (t *ApprovalTicket) Wait() { t.gate.Wait() }

// Done is closed once the request has been resolved.
func (t *ApprovalTicket) Done() <-chan struct{} { return t.gate.Done() }

// QuestionTicket is handed to the asker of a question.
type QuestionTicket struct {
	ID       string
	gate     *gate.Gate
	response string // written once, before gate is set
}

// Wait blocks until an answer is recorded and returns it.
func (t *QuestionTicket) Wait() string {
	t.gate.Wait()
	return t.response
}

// Done is closed once the question has been answered.
func (t *QuestionTicket) Done() <-chan struct{} { return t.gate.Done() }

type approvalSlot struct {
	request approval.Request
	ticket  *ApprovalTicket
}

type questionSlot struct {
	question question.Question
	ticket   *QuestionTicket
}

// Registry is safe for concurrent use.
type Registry struct {
	mu            sync.Mutex
	approvals     map[string]*approvalSlot
	approvalOrder []string
	questions     map[string]*questionSlot
	questionOrder []string
	newID         func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		approvals: make(map[string]*approvalSlot),
		questions: make(map[string]*questionSlot),
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// freshID must be called with r.mu held. An id collision means the generator
// is broken, which is not a recoverable condition.
func (r *Registry) freshID() string {
	id := r.newID()
	if _, dup := r.approvals[id]; dup {
		panic(fmt.Sprintf("registry: id collision %q", id))
	}
	if _, dup := r.questions[id]; dup {
		panic(fmt.Sprintf("registry: id collision %q", id))
	}
	return id
}

// RegisterApproval stores a new pending request and returns its ticket
// together with a snapshot of the stored request.
func (r *Registry) RegisterApproval(toolName string, args []any, kwargs map[string]any, renderer string) (*ApprovalTicket, approval.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.freshID()
	req := approval.Request{
		ID:       id,
		ToolName: toolName,
		Args:     args,
		Kwargs:   kwargs,
		Renderer: renderer,
		Status:   approval.StatusPending,
	}.Clone()
	t := &ApprovalTicket{ID: id, gate: gate.New()}
	r.approvals[id] = &approvalSlot{request: req, ticket: t}
	r.approvalOrder = append(r.approvalOrder, id)
	return t, req.Clone()
}

// MutateKwargs merges mods into a pending request's kwargs and returns the
// merged kwargs. It reports false if id is not pending.
func (r *Registry) MutateKwargs(id string, mods map[string]any) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.approvals[id]
	if !ok {
		return nil, false
	}
	slot.request.MergeKwargs(mods)
	return slot.request.Clone().Kwargs, true
}

// ResolveApproval removes a pending request and sets its gate. Unknown or
// already-resolved ids report false.
func (r *Registry) ResolveApproval(id string, outcome approval.Outcome) (approval.Request, bool) {
	r.mu.Lock()
	slot, ok := r.approvals[id]
	if ok {
		delete(r.approvals, id)
		r.approvalOrder = removeID(r.approvalOrder, id)
	}
	r.mu.Unlock()

	if !ok {
		return approval.Request{}, false
	}
	slot.ticket.gate.Signal()
	slog.Debug("approval resolved", "call_id", id, "tool", slot.request.ToolName, "outcome", outcome)
	return slot.request.Clone(), true
}

// LookupApproval returns a snapshot of a pending request.
func (r *Registry) LookupApproval(id string) (approval.Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.approvals[id]
	if !ok {
		return approval.Request{}, false
	}
	return slot.request.Clone(), true
}

// Pending returns snapshots of all pending requests in registration order.
func (r *Registry) Pending() []approval.Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]approval.Request, 0, len(r.approvalOrder))
	for _, id := range r.approvalOrder {
		out = append(out, r.approvals[id].request.Clone())
	}
	return out
}

// RegisterQuestion stores a new unanswered question.
func (r *Registry) RegisterQuestion(text string, options []string) (*QuestionTicket, question.Question) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.freshID()
	q := question.Question{
		ID:      id,
		Text:    text,
		Kind:    question.KindFor(options),
		Options: slices.Clone(options),
	}
	t := &QuestionTicket{ID: id, gate: gate.New()}
	r.questions[id] = &questionSlot{question: q, ticket: t}
	r.questionOrder = append(r.questionOrder, id)
	return t, q
}

// ResolveQuestion records the answer, sets the gate and forgets the question.
// Unknown or already-answered ids report false.
func (r *Registry) ResolveQuestion(id, response string) bool {
	r.mu.Lock()
	slot, ok := r.questions[id]
	if ok {
		delete(r.questions, id)
		r.questionOrder = removeID(r.questionOrder, id)
		slot.ticket.response = response
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	slot.ticket.gate.Signal()
	return true
}

// LookupQuestion returns a pending question.
func (r *Registry) LookupQuestion(id string) (question.Question, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.questions[id]
	if !ok {
		return question.Question{}, false
	}
	return slot.question, true
}

// PendingQuestions returns all unanswered questions in ask order.
func (r *Registry) PendingQuestions() []question.Question {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]question.Question, 0, len(r.questionOrder))
	for _, id := range r.questionOrder {
		q := r.questions[id].question
		q.Options = slices.Clone(q.Options)
		out = append(out, q)
	}
	return out
}

// Len returns the number of pending approvals and questions.
func (r *Registry) Len() (approvals, questions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.approvals), len(r.questions)
}

func removeID(ids []string, id string) []string {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}

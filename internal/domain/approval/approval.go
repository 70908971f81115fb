// Package approval defines the ApprovalRequest domain entity and its status
// state machine.
package approval

import (
	"errors"
	"fmt"
	"maps"
)

// ErrInvalidTransition is returned when a status change is not allowed by the
// state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// Status is the lifecycle state of a tool call.
type Status string

const (
	StatusPending             Status = "pending"
	StatusApprovedAndExecuted Status = "approved_and_executed"
	StatusDenied              Status = "denied"
	StatusAutoApproved        Status = "auto_approved"
)

// validTransitions lists the only legal status changes. auto_approved is a
// creation status and has no incoming edge.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusApprovedAndExecuted, StatusDenied},
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusApprovedAndExecuted || s == StatusDenied || s == StatusAutoApproved
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Outcome is the human decision that released a pending request.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
)

// Request is a tool call that needs (or needed) a human decision.
// Kwargs stay mutable until the request leaves StatusPending.
type Request struct {
	ID       string         `json:"id"`
	ToolName string         `json:"tool_name"`
	Args     []any          `json:"args"`
	Kwargs   map[string]any `json:"kwargs"`
	Renderer string         `json:"renderer,omitempty"`
	Status   Status         `json:"status"`
	Result   string         `json:"result,omitempty"`
}

// Entry is an activity log record. It carries the same id as the request it
// snapshots.
type Entry = Request

// Clone returns a copy that shares no mutable state with r.
func (r Request) Clone() Request {
	out := r
	out.Args = append(make([]any, 0, len(r.Args)), r.Args...)
	out.Kwargs = maps.Clone(r.Kwargs)
	if out.Kwargs == nil {
		out.Kwargs = map[string]any{}
	}
	return out
}

// Transition moves r to next, enforcing the state machine.
func (r *Request) Transition(next Status) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%s: %s -> %s: %w", r.ID, r.Status, next, ErrInvalidTransition)
	}
	r.Status = next
	return nil
}

// MergeKwargs overlays mods onto r.Kwargs.
func (r *Request) MergeKwargs(mods map[string]any) {
	if len(mods) == 0 {
		return
	}
	if r.Kwargs == nil {
		r.Kwargs = make(map[string]any, len(mods))
	}
	maps.Copy(r.Kwargs, mods)
}

package approval

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusApprovedAndExecuted, true},
		{StatusPending, StatusDenied, true},
		{StatusPending, StatusAutoApproved, false},
		{StatusPending, StatusPending, false},
		{StatusDenied, StatusPending, false},
		{StatusDenied, StatusApprovedAndExecuted, false},
		{StatusApprovedAndExecuted, StatusDenied, false},
		{StatusAutoApproved, StatusApprovedAndExecuted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	if StatusPending.IsTerminal() {
		t.Error("pending must not be terminal")
	}
	for _, s := range []Status{StatusApprovedAndExecuted, StatusDenied, StatusAutoApproved} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestTransitionRejectsReentry(t *testing.T) {
	r := Request{ID: "r1", Status: StatusPending}
	if err := r.Transition(StatusDenied); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	err := r.Transition(StatusApprovedAndExecuted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if r.Status != StatusDenied {
		t.Errorf("status changed on failed transition: %s", r.Status)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := Request{
		ID:     "r1",
		Args:   []any{"a"},
		Kwargs: map[string]any{"to": "a@b.com"},
	}
	c := r.Clone()
	c.Kwargs["to"] = "x@y.com"
	c.Args[0] = "b"

	if r.Kwargs["to"] != "a@b.com" {
		t.Errorf("clone shares kwargs: %v", r.Kwargs)
	}
	if r.Args[0] != "a" {
		t.Errorf("clone shares args: %v", r.Args)
	}
}

func TestCloneNormalisesNil(t *testing.T) {
	c := Request{ID: "r1"}.Clone()
	if c.Args == nil || c.Kwargs == nil {
		t.Fatalf("expected non-nil args/kwargs, got %#v", c)
	}

	twice := c.Clone()
	if twice.Args == nil {
		t.Fatal("empty args must stay non-nil across clones")
	}
	b, err := json.Marshal(twice)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"args":[]`) {
		t.Errorf("args should encode as an empty array, got %s", b)
	}
}

func TestMergeKwargs(t *testing.T) {
	r := Request{Kwargs: map[string]any{"subject": "hi", "body": "x"}}
	r.MergeKwargs(map[string]any{"subject": "hello"})

	if r.Kwargs["subject"] != "hello" {
		t.Errorf("subject = %v, want hello", r.Kwargs["subject"])
	}
	if r.Kwargs["body"] != "x" {
		t.Errorf("body lost after merge: %v", r.Kwargs)
	}

	var empty Request
	empty.MergeKwargs(map[string]any{"k": 1})
	if empty.Kwargs["k"] != 1 {
		t.Errorf("merge into nil kwargs failed: %v", empty.Kwargs)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/hitl/internal/domain"
	"github.com/Strob0t/hitl/internal/domain/approval"
	"github.com/Strob0t/hitl/internal/domain/chat"
	"github.com/Strob0t/hitl/internal/domain/event"
	"github.com/Strob0t/hitl/internal/domain/question"
	"github.com/Strob0t/hitl/internal/fanout"
)

// TestRequestApproval_ApproveWithModifications runs the send_email scenario:
// the operator edits the subject before approving.
func TestRequestApproval_ApproveWithModifications(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()
	stub := &kwargsRecorder{result: "sent"}

	done := make(chan outcomeResult, 1)
	go func() {
		out, err := c.RequestApproval(ctx, "send_email", stub.run, []any{},
			map[string]any{"to": "a@b.com", "subject": "hi", "body": "x"}, "EditableRenderer")
		done <- outcomeResult{out, err}
	}()

	id := waitPending(t, c, 1)[0]
	if !c.Approve(ctx, id, map[string]any{"subject": "hello"}) {
		t.Fatal("Approve returned false for a pending id")
	}

	r := awaitOutcome(t, done)
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if r.out.Denied || r.out.Result != "sent" || r.out.ID != id {
		t.Errorf("outcome = %+v", r.out)
	}

	calls, kw := stub.snapshot()
	if calls != 1 {
		t.Fatalf("action called %d times, want 1", calls)
	}
	want := map[string]any{"to": "a@b.com", "subject": "hello", "body": "x"}
	for k, v := range want {
		if kw[k] != v {
			t.Errorf("kwargs[%s] = %v, want %v", k, kw[k], v)
		}
	}

	entry, err := c.Entry(id)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if entry.Status != approval.StatusApprovedAndExecuted {
		t.Errorf("status = %q, want approved_and_executed", entry.Status)
	}
	if entry.Result != "sent" {
		t.Errorf("result = %q", entry.Result)
	}
	if entry.Kwargs["subject"] != "hello" {
		t.Errorf("log kwargs not updated: %v", entry.Kwargs)
	}
	if len(c.ToolCalls(0).Pending) != 0 {
		t.Error("request still pending after approval")
	}
}

func TestRequestApproval_Deny(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()
	stub := &kwargsRecorder{result: "should not run"}

	done := make(chan outcomeResult, 1)
	go func() {
		out, err := c.RequestApproval(ctx, "delete_file", stub.run, nil,
			map[string]any{"path": "/", "recursive": true}, "FileSystemRenderer")
		done <- outcomeResult{out, err}
	}()

	id := waitPending(t, c, 1)[0]
	if !c.Deny(ctx, id) {
		t.Fatal("Deny returned false for a pending id")
	}

	r := awaitOutcome(t, done)
	if r.err != nil {
		t.Fatalf("denial must not be an error, got %v", r.err)
	}
	if !r.out.Denied {
		t.Fatalf("expected denied outcome, got %+v", r.out)
	}
	if !strings.Contains(r.out.Text(), "delete_file") {
		t.Errorf("denial message = %q", r.out.Text())
	}
	if calls, _ := stub.snapshot(); calls != 0 {
		t.Errorf("action ran %d times after denial", calls)
	}

	entry, _ := c.Entry(id)
	if entry.Status != approval.StatusDenied {
		t.Errorf("status = %q, want denied", entry.Status)
	}
	if c.Approve(ctx, id, nil) {
		t.Error("Approve after Deny should return false")
	}
}

func TestRequestApproval_DenyNeverRunsAction(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()
	stub := &kwargsRecorder{}

	const n = 25
	results := make(chan outcomeResult, n)
	for range n {
		go func() {
			out, err := c.RequestApproval(ctx, "launch_nukes", stub.run, nil, nil, "")
			results <- outcomeResult{out, err}
		}()
	}

	ids := waitPending(t, c, n)
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.Deny(ctx, id)
		}(id)
	}
	wg.Wait()

	for range n {
		r := awaitOutcome(t, results)
		if r.err != nil || !r.out.Denied {
			t.Errorf("expected denial, got %+v, %v", r.out, r.err)
		}
	}
	if calls, _ := stub.snapshot(); calls != 0 {
		t.Errorf("action ran %d times", calls)
	}
}

func TestRequestApproval_DistinctIDs(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()
	stub := &kwargsRecorder{}

	const n = 40
	results := make(chan outcomeResult, n)
	for range n {
		go func() {
			out, err := c.RequestApproval(ctx, "send_email", stub.run, nil, nil, "")
			results <- outcomeResult{out, err}
		}()
	}

	ids := waitPending(t, c, n)
	seen := make(map[string]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate pending id %s", id)
		}
		seen[id] = true
	}

	approved := c.ApproveBatch(ctx, ids)
	if len(approved) != n {
		t.Fatalf("approved %d, want %d", len(approved), n)
	}
	for range n {
		if r := awaitOutcome(t, results); r.err != nil {
			t.Errorf("unexpected error: %v", r.err)
		}
	}
}

func TestApproveDeny_Idempotent(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()
	sink := newRecordingSink()
	if err := c.Attach(ctx, sink); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	stub := &kwargsRecorder{result: 42}
	done := make(chan outcomeResult, 1)
	go func() {
		out, err := c.RequestApproval(ctx, "send_email", stub.run, nil, nil, "")
		done <- outcomeResult{out, err}
	}()
	id := waitPending(t, c, 1)[0]

	if !c.Approve(ctx, id, nil) {
		t.Fatal("first Approve returned false")
	}
	if c.Approve(ctx, id, nil) {
		t.Error("second Approve returned true")
	}
	awaitOutcome(t, done)
	if c.Deny(ctx, id) {
		t.Error("Deny after Approve returned true")
	}

	// Marker so we know every earlier event has been delivered.
	if err := c.TellUser(ctx, "done"); err != nil {
		t.Fatalf("TellUser: %v", err)
	}
	events := sink.until(t, event.TypeNewMessage)

	var approvedCount, deniedCount int
	for _, ev := range events {
		switch ev.Type {
		case event.TypeRequestApproved:
			approvedCount++
			p := ev.Payload.(event.RequestApproved)
			if p.ID != id || p.Result != "42" {
				t.Errorf("request_approved payload = %+v", p)
			}
		case event.TypeRequestDenied:
			deniedCount++
		}
	}
	if approvedCount != 1 || deniedCount != 0 {
		t.Errorf("request_approved=%d request_denied=%d, want 1 and 0", approvedCount, deniedCount)
	}
}

func TestUnknownIDs(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()

	if c.Approve(ctx, "missing", map[string]any{"a": 1}) {
		t.Error("Approve(unknown) = true")
	}
	if c.Deny(ctx, "missing") {
		t.Error("Deny(unknown) = true")
	}
	if c.SubmitResponse(ctx, "missing", "hi") {
		t.Error("SubmitResponse(unknown) = true")
	}
	if len(c.ChatHistory()) != 0 {
		t.Error("ignored response must not reach the chat history")
	}
	if _, err := c.Entry("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Entry(unknown) err = %v", err)
	}
}

func TestBatch_PartialSuccess(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()
	stub := &kwargsRecorder{}

	results := make(chan outcomeResult, 3)
	for range 3 {
		go func() {
			out, err := c.RequestApproval(ctx, "send_email", stub.run, nil, nil, "")
			results <- outcomeResult{out, err}
		}()
	}
	ids := waitPending(t, c, 3)

	denied := c.DenyBatch(ctx, []string{ids[0], "ghost", ids[1]})
	if len(denied) != 2 || denied[0] != ids[0] || denied[1] != ids[1] {
		t.Errorf("denied = %v", denied)
	}
	approved := c.ApproveBatch(ctx, []string{ids[0], ids[2]})
	if len(approved) != 1 || approved[0] != ids[2] {
		t.Errorf("approved = %v", approved)
	}

	var deniedOutcomes int
	for range 3 {
		if r := awaitOutcome(t, results); r.out.Denied {
			deniedOutcomes++
		}
	}
	if deniedOutcomes != 2 {
		t.Errorf("denied outcomes = %d, want 2", deniedOutcomes)
	}
	if calls, _ := stub.snapshot(); calls != 1 {
		t.Errorf("action calls = %d, want 1", calls)
	}
}

func TestRequestApproval_ActionError(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()
	stub := &kwargsRecorder{err: errors.New("smtp down")}

	done := make(chan outcomeResult, 1)
	go func() {
		out, err := c.RequestApproval(ctx, "send_email", stub.run, nil, nil, "")
		done <- outcomeResult{out, err}
	}()
	id := waitPending(t, c, 1)[0]
	c.Approve(ctx, id, nil)

	r := awaitOutcome(t, done)
	if r.err == nil || !strings.Contains(r.err.Error(), "smtp down") {
		t.Fatalf("expected wrapped action error, got %v", r.err)
	}
	entry, _ := c.Entry(id)
	if entry.Status != approval.StatusApprovedAndExecuted {
		t.Errorf("status = %q", entry.Status)
	}
	if entry.Result != "error: smtp down" {
		t.Errorf("result = %q", entry.Result)
	}
}

func TestAskQuestion_Scenario(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()

	answer := make(chan string, 1)
	go func() {
		resp, err := c.AskQuestion(ctx, "Proceed?", []string{"yes", "no"})
		if err != nil {
			t.Errorf("AskQuestion: %v", err)
		}
		answer <- resp
	}()

	id := waitQuestions(t, c, 1)[0]
	q := c.PendingQuestions()[0]
	if q.Kind != question.KindMultipleChoice || len(q.Options) != 2 {
		t.Errorf("question = %+v", q)
	}

	if !c.SubmitResponse(ctx, id, "yes") {
		t.Fatal("SubmitResponse returned false")
	}
	select {
	case got := <-answer:
		if got != "yes" {
			t.Errorf("answer = %q, want yes", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AskQuestion did not return")
	}

	history := c.ChatHistory()
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	if history[0].Author != chat.AuthorServer || history[0].Text != "Proceed?" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Author != chat.AuthorUser || history[1].Text != "yes" {
		t.Errorf("history[1] = %+v", history[1])
	}

	if c.SubmitResponse(ctx, id, "no") {
		t.Error("second SubmitResponse should be ignored")
	}
	if len(c.PendingQuestions()) != 0 {
		t.Error("answered question still pending")
	}
}

func TestAskQuestion_Events(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()
	sink := newRecordingSink()
	_ = c.Attach(ctx, sink)
	sink.next(t) // initial_state

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.AskQuestion(ctx, "Name?", nil)
	}()
	id := waitQuestions(t, c, 1)[0]
	c.SubmitResponse(ctx, id, "Ada")
	<-done

	events := sink.until(t, event.TypeQuestionResolved)
	want := []event.Type{
		event.TypeNewChatMessage,
		event.TypeNewQuestion,
		event.TypeNewChatMessage,
		event.TypeQuestionResolved,
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Errorf("event[%d] = %q, want %q", i, events[i].Type, w)
		}
	}
	res := events[3].Payload.(event.QuestionResolved)
	if res.ID != id || res.Response != "Ada" {
		t.Errorf("question_resolved payload = %+v", res)
	}
	if q := events[1].Payload.(question.Question); q.Kind != question.KindFreeText {
		t.Errorf("kind = %q, want free_text", q.Kind)
	}
}

func TestAskQuestion_Validation(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)

	if _, err := c.AskQuestion(context.Background(), "  ", nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty text: err = %v", err)
	}
	if _, err := c.AskQuestion(context.Background(), "Pick", []string{"a", "a"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("duplicate options: err = %v", err)
	}
}

func TestTellUser(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()
	sink := newRecordingSink()
	_ = c.Attach(ctx, sink)
	sink.next(t)

	if err := c.TellUser(ctx, "Working on it"); err != nil {
		t.Fatalf("TellUser: %v", err)
	}
	ev := sink.next(t)
	if ev.Type != event.TypeNewMessage {
		t.Fatalf("event = %q, want new_message", ev.Type)
	}
	if m := ev.Payload.(chat.Message); m.Author != chat.AuthorServer || m.Text != "Working on it" {
		t.Errorf("payload = %+v", m)
	}
	if err := c.TellUser(ctx, ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty message: err = %v", err)
	}
}

func TestInvoke_AutoApproved(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()
	sink := newRecordingSink()
	_ = c.Attach(ctx, sink)
	sink.next(t)

	out, err := c.Invoke(ctx, "get_weather", nil, map[string]any{"city": "Paris"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Text() != "The weather in Paris is sunny and 75°F." {
		t.Errorf("result = %q", out.Text())
	}

	ev := sink.next(t)
	if ev.Type != event.TypeLogUpdate {
		t.Fatalf("event = %q, want log_update", ev.Type)
	}
	entry := ev.Payload.(approval.Entry)
	if entry.Status != approval.StatusAutoApproved || entry.ID != out.ID {
		t.Errorf("entry = %+v", entry)
	}

	view := c.ToolCalls(10)
	if len(view.Pending) != 0 || len(view.Log) != 1 || view.Log[0].Result != out.Text() {
		t.Errorf("view = %+v", view)
	}
}

func TestInvoke_RequiresApproval(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()

	done := make(chan outcomeResult, 1)
	go func() {
		out, err := c.Invoke(ctx, "delete_file", nil, map[string]any{"path": "/tmp/x", "recursive": false})
		done <- outcomeResult{out, err}
	}()

	pending := c.ToolCalls(0).Pending
	for len(pending) == 0 {
		time.Sleep(2 * time.Millisecond)
		pending = c.ToolCalls(0).Pending
	}
	if pending[0].Renderer != "FileSystemRenderer" || pending[0].ToolName != "delete_file" {
		t.Errorf("pending = %+v", pending[0])
	}
	c.Approve(ctx, pending[0].ID, map[string]any{"recursive": true})

	r := awaitOutcome(t, done)
	if r.err != nil {
		t.Fatalf("Invoke: %v", r.err)
	}
	if r.out.Text() != "Recursively deleted everything at path: /tmp/x" {
		t.Errorf("result = %q", r.out.Text())
	}
}

func TestInvoke_Errors(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.Invoke(ctx, "format_disk", nil, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown tool: err = %v", err)
	}
	if _, err := c.Invoke(ctx, "send_email", nil, map[string]any{"to": "a"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing args: err = %v", err)
	}
	if len(c.ToolCalls(0).Log) != 0 {
		t.Error("rejected invocations must not be logged")
	}
}

func TestToolCalls_NewestFirst(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()

	for i := range 5 {
		if _, err := c.Invoke(ctx, "get_weather", nil, map[string]any{"city": fmt.Sprintf("c%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	view := c.ToolCalls(3)
	if len(view.Log) != 3 {
		t.Fatalf("log len = %d, want 3", len(view.Log))
	}
	if view.Log[0].Kwargs["city"] != "c4" || view.Log[2].Kwargs["city"] != "c2" {
		t.Errorf("order = %v, %v", view.Log[0].Kwargs, view.Log[2].Kwargs)
	}
}

func TestAttach_InitialStateContents(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()
	stub := &kwargsRecorder{}

	_ = c.TellUser(ctx, "hello")
	done := make(chan outcomeResult, 1)
	go func() {
		out, err := c.RequestApproval(ctx, "send_email", stub.run, nil, map[string]any{"to": "x"}, "EditableRenderer")
		done <- outcomeResult{out, err}
	}()
	qdone := make(chan struct{})
	go func() {
		defer close(qdone)
		_, _ = c.AskQuestion(ctx, "Why?", nil)
	}()
	id := waitPending(t, c, 1)[0]
	qid := waitQuestions(t, c, 1)[0]

	sink := newRecordingSink()
	if err := c.Attach(ctx, sink); err != nil {
		t.Fatal(err)
	}
	ev := sink.next(t)
	if ev.Type != event.TypeInitialState {
		t.Fatalf("first event = %q", ev.Type)
	}
	snap := ev.Payload.(event.InitialState)
	if len(snap.Pending) != 1 || snap.Pending[0].ID != id {
		t.Errorf("pending = %+v", snap.Pending)
	}
	if len(snap.Log) != 1 || snap.Log[0].Status != approval.StatusPending {
		t.Errorf("log = %+v", snap.Log)
	}
	if len(snap.ChatHistory) != 2 {
		t.Errorf("chat history = %+v", snap.ChatHistory)
	}
	if len(snap.Questions) != 1 || snap.Questions[0].ID != qid {
		t.Errorf("questions = %+v", snap.Questions)
	}

	c.Deny(ctx, id)
	c.SubmitResponse(ctx, qid, "because")
	awaitOutcome(t, done)
	<-qdone

	c.Detach(sink)
	c.Detach(sink)
}

// TestAttach_SnapshotBeforeLiveEvents attaches observers while requests are
// being created and denied concurrently. Every observer must see
// initial_state first and must never see a resolution for an id that was
// neither in its snapshot nor announced to it afterwards.
func TestAttach_SnapshotBeforeLiveEvents(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t, fanout.WithQueueSize(4096))
	ctx := context.Background()
	stub := &kwargsRecorder{}

	const requests = 40
	var requesters sync.WaitGroup
	for range requests {
		requesters.Add(1)
		go func() {
			defer requesters.Done()
			_, _ = c.RequestApproval(ctx, "send_email", stub.run, nil, nil, "")
		}()
	}

	stop := make(chan struct{})
	resolverDone := make(chan struct{})
	go func() {
		defer close(resolverDone)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			for _, p := range c.ToolCalls(0).Pending {
				if i%2 == 0 {
					c.Deny(ctx, p.ID)
				} else {
					c.Approve(ctx, p.ID, nil)
				}
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	sinks := make([]*recordingSink, 12)
	for i := range sinks {
		sinks[i] = newRecordingSink()
		if err := c.Attach(ctx, sinks[i]); err != nil {
			t.Fatal(err)
		}
		time.Sleep(200 * time.Microsecond)
	}

	requesters.Wait()
	close(stop)
	<-resolverDone
	_ = c.TellUser(ctx, "end")

	for i, s := range sinks {
		events := s.until(t, event.TypeNewMessage)
		if events[0].Type != event.TypeInitialState {
			t.Fatalf("sink %d: first event %q", i, events[0].Type)
		}
		snap := events[0].Payload.(event.InitialState)
		known := make(map[string]bool)
		for _, p := range snap.Pending {
			known[p.ID] = true
		}
		for _, e := range snap.Log {
			known[e.ID] = true
		}
		for _, ev := range events[1:] {
			switch ev.Type {
			case event.TypeInitialState:
				t.Fatalf("sink %d: second initial_state", i)
			case event.TypeNewRequest:
				known[ev.Payload.(approval.Request).ID] = true
			case event.TypeRequestDenied:
				if id := ev.Payload.(event.RequestDenied).ID; !known[id] {
					t.Errorf("sink %d: request_denied for unseen id %s", i, id)
				}
			case event.TypeRequestApproved:
				if id := ev.Payload.(event.RequestApproved).ID; !known[id] {
					t.Errorf("sink %d: request_approved for unseen id %s", i, id)
				}
			}
		}
	}
}

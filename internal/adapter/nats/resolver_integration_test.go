package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Strob0t/hitl/internal/fanout"
	"github.com/Strob0t/hitl/internal/port/messagequeue"
	"github.com/Strob0t/hitl/internal/service"
)

func TestResolverOverBus(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	hub := fanout.New()
	t.Cleanup(hub.Close)
	tools := service.NewToolbox()
	tools.MustRegister(service.DemoTools()...)
	coord := service.NewCoordinator(hub, tools)

	r := NewResolver(q, coord)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(r.Stop)

	done := make(chan service.Outcome, 1)
	go func() {
		out, err := coord.Invoke(ctx, "send_email", nil, map[string]any{"to": "a@b.c", "subject": "s", "body": "b"})
		if err != nil {
			t.Errorf("Invoke: %v", err)
		}
		done <- out
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(coord.ToolCalls(0).Pending) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never became pending")
		}
		time.Sleep(10 * time.Millisecond)
	}
	id := coord.ToolCalls(0).Pending[0].ID

	data, err := json.Marshal(messagequeue.DenyPayload{ID: id})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := q.Publish(ctx, messagequeue.SubjectResolveDeny, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case out := <-done:
		if !out.Denied {
			t.Errorf("outcome = %+v, want denied", out)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for bus denial")
	}
}

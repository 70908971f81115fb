package nats

import (
	"context"
	"encoding/json"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/hitl/internal/domain/approval"
	"github.com/Strob0t/hitl/internal/domain/event"
	"github.com/Strob0t/hitl/internal/logger"
	"github.com/Strob0t/hitl/internal/port/messagequeue"
	"github.com/Strob0t/hitl/internal/resilience"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T, opts ...Option) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url, opts...)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

// consumeOnce delivers the first message on subject for which match returns
// true.
func consumeOnce(t *testing.T, q *Queue, subject string, match func([]byte) bool) <-chan []byte {
	t.Helper()

	cons, err := q.js.CreateOrUpdateConsumer(context.Background(), streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("create consumer on %s: %v", subject, err)
	}

	out := make(chan []byte, 1)
	var once sync.Once
	sub, err := cons.Consume(func(msg jetstream.Msg) {
		if match(msg.Data()) {
			once.Do(func() { out <- msg.Data() })
		}
		_ = msg.Ack()
	})
	if err != nil {
		t.Fatalf("consume %s: %v", subject, err)
	}
	t.Cleanup(sub.Stop)
	return out
}

func await(t *testing.T, ch <-chan []byte, what string) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	return nil
}

func TestConnect_StreamConfig(t *testing.T) {
	q := testConnect(t, WithStreamMaxAge(2*time.Hour))
	ctx := context.Background()

	stream, err := q.js.Stream(ctx, streamName)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Config.MaxAge != 2*time.Hour {
		t.Errorf("MaxAge = %v, want 2h", info.Config.MaxAge)
	}
	if !slices.Contains(info.Config.Subjects, "hitl.>") {
		t.Errorf("Subjects = %v, want hitl.>", info.Config.Subjects)
	}
}

func TestMirror_PublishesEventWithRequestID(t *testing.T) {
	q := testConnect(t)
	id := uuid.NewString()

	var gotReqID atomic.Value
	done := make(chan []byte, 1)
	var once sync.Once
	stop, err := q.Subscribe(context.Background(), messagequeue.EventSubject(string(event.TypeNewRequest)),
		func(ctx context.Context, _ string, data []byte) error {
			var ev struct {
				Payload approval.Request `json:"payload"`
			}
			if json.Unmarshal(data, &ev) == nil && ev.Payload.ID == id {
				gotReqID.Store(logger.RequestID(ctx))
				once.Do(func() { done <- data })
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	mirror := NewMirror(q, resilience.NewBreaker("nats-test", 3, time.Second))
	req := approval.Request{ID: id, ToolName: "delete_file", Status: approval.StatusPending}.Clone()
	ctx := logger.WithRequestID(context.Background(), "req-"+id[:8])
	if err := mirror.Send(ctx, event.New(event.TypeNewRequest, req)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	data := await(t, done, "mirrored new_request")
	var ev struct {
		Type    string           `json:"type"`
		Payload approval.Request `json:"payload"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != string(event.TypeNewRequest) || ev.Payload.ToolName != "delete_file" {
		t.Errorf("mirrored event = %+v", ev)
	}
	if got, _ := gotReqID.Load().(string); got != "req-"+id[:8] {
		t.Errorf("request ID = %q, want %q", got, "req-"+id[:8])
	}
}

func TestQueue_InvalidResolveCommandDeadLettered(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	marker := uuid.NewString()
	subject := messagequeue.SubjectResolveApprove

	// Valid JSON, but no id: the validator rejects it before the handler.
	body, _ := json.Marshal(map[string]any{"modifications": map[string]any{"marker": marker}})
	hasMarker := func(data []byte) bool {
		var p messagequeue.ApprovePayload
		return json.Unmarshal(data, &p) == nil && p.Modifications["marker"] == marker
	}

	var handled atomic.Bool
	stop, err := q.Subscribe(ctx, subject, func(_ context.Context, _ string, data []byte) error {
		if hasMarker(data) {
			handled.Store(true)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	dlq := consumeOnce(t, q, subject+messagequeue.SubjectDLQSuffix, hasMarker)
	if err := q.Publish(ctx, subject, body); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	await(t, dlq, "dead-lettered approve command")
	if handled.Load() {
		t.Error("handler must not see a command without an id")
	}
}

func TestQueue_MaxRetriesThenDeadLetter(t *testing.T) {
	q := testConnect(t, WithMaxRetries(1))
	ctx := context.Background()
	subject := messagequeue.EventSubject("retry_" + uuid.NewString()[:8])

	var attempts atomic.Int32
	stop, err := q.Subscribe(ctx, subject, func(context.Context, string, []byte) error {
		attempts.Add(1)
		return errAlwaysFail
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	dlq := consumeOnce(t, q, subject+messagequeue.SubjectDLQSuffix, func([]byte) bool { return true })
	if err := q.Publish(ctx, subject, []byte(`{"type":"log_update"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := await(t, dlq, "dead letter after retries"); string(got) != `{"type":"log_update"}` {
		t.Errorf("dead letter = %s", got)
	}
	if n := attempts.Load(); n != 2 {
		t.Errorf("handler attempts = %d, want 2 (first delivery + one retry)", n)
	}
}

func TestQueue_IdempotencyBucketTTL(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	kv, err := q.KeyValue(ctx, "hitl-test-idem", time.Minute)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}
	status, err := kv.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.TTL() != time.Minute {
		t.Errorf("TTL = %v, want 1m", status.TTL())
	}

	key := "idem_" + uuid.NewString()[:8]
	if _, err := kv.Put(ctx, key, []byte(`{"status":"approved"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, err := kv.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(entry.Value()) != `{"status":"approved"}` {
		t.Errorf("value = %s", entry.Value())
	}
	if !q.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
}

// errAlwaysFail is returned by handlers that should always fail.
var errAlwaysFail = errSentinel("handler always fails")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

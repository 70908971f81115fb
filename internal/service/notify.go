package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Strob0t/hitl/internal/domain/approval"
	"github.com/Strob0t/hitl/internal/domain/event"
	"github.com/Strob0t/hitl/internal/domain/question"
	"github.com/Strob0t/hitl/internal/port/broadcast"
	"github.com/Strob0t/hitl/internal/port/notifier"
	"github.com/Strob0t/hitl/internal/resilience"
)

// NotifySink is an observer that forwards new approval requests and
// questions to an out-of-band notifier such as Slack. Delivery failures are
// logged and never reported to the hub, so the sink stays attached.
type NotifySink struct {
	notifier notifier.Notifier
	breaker  *resilience.Breaker
	uiURL    string
}

// NewNotifySink wraps n. uiURL, if set, is linked from every notification.
func NewNotifySink(n notifier.Notifier, breaker *resilience.Breaker, uiURL string) *NotifySink {
	return &NotifySink{notifier: n, breaker: breaker, uiURL: uiURL}
}

var _ broadcast.Durable = (*NotifySink)(nil)

// Durable keeps the sink attached when it falls behind.
func (s *NotifySink) Durable() bool { return true }

// Send implements broadcast.Sink.
func (s *NotifySink) Send(ctx context.Context, ev event.Event) error {
	n, ok := s.notificationFor(ev)
	if !ok {
		return nil
	}
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.notifier.Send(ctx, n)
	})
	if err != nil {
		slog.Warn("notification failed", "notifier", s.notifier.Name(), "source", n.Source, "error", err)
	}
	return nil
}

func (s *NotifySink) notificationFor(ev event.Event) (notifier.Notification, bool) {
	switch ev.Type {
	case event.TypeNewRequest:
		req, ok := ev.Payload.(approval.Request)
		if !ok {
			return notifier.Notification{}, false
		}
		return notifier.Notification{
			Title:   "Approval required: " + req.ToolName,
			Message: describeKwargs(req.Kwargs),
			Level:   "warning",
			Source:  string(ev.Type),
			CallID:  req.ID,
			Link:    s.uiURL,
		}, true
	case event.TypeNewQuestion:
		q, ok := ev.Payload.(question.Question)
		if !ok {
			return notifier.Notification{}, false
		}
		msg := q.Text
		if len(q.Options) > 0 {
			msg += "\nOptions: " + strings.Join(q.Options, ", ")
		}
		return notifier.Notification{
			Title:   "Agent question",
			Message: msg,
			Level:   "info",
			Source:  string(ev.Type),
			CallID:  q.ID,
			Link:    s.uiURL,
		}, true
	}
	return notifier.Notification{}, false
}

func describeKwargs(kw map[string]any) string {
	if len(kw) == 0 {
		return "(no arguments)"
	}
	keys := make([]string, 0, len(kw))
	for k := range kw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "*%s*: `%v`\n", k, kw[k])
	}
	return strings.TrimSuffix(b.String(), "\n")
}

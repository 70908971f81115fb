// Package fanout delivers events to a changing set of observer sinks. Each
// sink is drained by its own goroutine so a slow or broken observer never
// stalls a broadcast.
package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/hitl/internal/domain/event"
	"github.com/Strob0t/hitl/internal/port/broadcast"
)

var (
	// ErrQueueFull is the drop reason for a sink that fell too far behind.
	ErrQueueFull = errors.New("fanout: sink queue full")
	// ErrEventDiscarded is reported when a durable sink's oldest queued event
	// is thrown away to make room.
	ErrEventDiscarded = errors.New("fanout: event discarded for durable sink")
	// ErrClosed is returned by Add after Close.
	ErrClosed = errors.New("fanout: hub closed")
)

// Sink is an alias of the broadcast port so callers need not import both.
type Sink = broadcast.Sink

var _ broadcast.Broadcaster = (*Hub)(nil)

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 10 * time.Second
)

type queued struct {
	ctx context.Context
	ev  event.Event
}

type member struct {
	sink     Sink
	durable  bool
	queue    chan queued
	stop     chan struct{}
	stopOnce sync.Once
}

func (m *member) halt() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize sets the per-sink buffer. Values below 1 are ignored.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithSendTimeout bounds a single Send call.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// WithDropHook is called (outside any lock) every time a sink is dropped, and
// with ErrEventDiscarded every time a durable sink loses an event.
func WithDropHook(fn func(sink Sink, reason error)) Option {
	return func(h *Hub) { h.onDrop = fn }
}

// Hub is safe for concurrent use. Sinks are used as map keys and must be
// comparable, which in practice means pointers.
type Hub struct {
	mu      sync.Mutex
	members map[Sink]*member
	closed  bool
	wg      sync.WaitGroup

	queueSize   int
	sendTimeout time.Duration
	onDrop      func(Sink, error)
}

// New creates a hub with no sinks.
func New(opts ...Option) *Hub {
	h := &Hub{
		members:     make(map[Sink]*member),
		queueSize:   defaultQueueSize,
		sendTimeout: defaultSendTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Add registers sink and queues initial as its first event. No broadcast can
// reach the sink before initial. Adding a sink twice is a no-op.
func (h *Hub) Add(ctx context.Context, sink Sink, initial event.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if _, ok := h.members[sink]; ok {
		return nil
	}
	m := &member{
		sink:    sink,
		durable: isDurable(sink),
		queue:   make(chan queued, h.queueSize),
		stop:    make(chan struct{}),
	}
	m.queue <- queued{ctx: context.WithoutCancel(ctx), ev: initial}
	h.members[sink] = m

	h.wg.Add(1)
	go h.drain(m)
	return nil
}

// Remove unregisters sink. Events still queued for it are discarded. It is
// safe to call for unknown sinks and concurrently with Broadcast.
func (h *Hub) Remove(sink Sink) {
	h.mu.Lock()
	m, ok := h.members[sink]
	if ok {
		delete(h.members, sink)
	}
	h.mu.Unlock()

	if ok {
		m.halt()
	}
}

// Broadcast queues ev for every current sink without blocking. Sinks whose
// queue is full are dropped, except durable sinks, which lose their oldest
// queued event instead.
func (h *Hub) Broadcast(ctx context.Context, ev event.Event) {
	q := queued{ctx: context.WithoutCancel(ctx), ev: ev}

	var full, lagging []*member
	h.mu.Lock()
	for sink, m := range h.members {
		select {
		case m.queue <- q:
			continue
		default:
		}
		if m.durable {
			// Only broadcasts, serialised by h.mu, fill the queue, so after
			// taking one out there is room.
			select {
			case <-m.queue:
			default:
			}
			select {
			case m.queue <- q:
			default:
			}
			lagging = append(lagging, m)
			continue
		}
		delete(h.members, sink)
		full = append(full, m)
	}
	h.mu.Unlock()

	for _, m := range full {
		m.halt()
		h.dropped(m, ErrQueueFull)
	}
	for _, m := range lagging {
		slog.Warn("fanout: durable sink lagging, oldest event discarded", "type", ev.Type)
		if h.onDrop != nil {
			h.onDrop(m.sink, ErrEventDiscarded)
		}
	}
}

// Count returns the number of attached sinks.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members)
}

// Close detaches all sinks and waits for their writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	members := h.members
	h.members = make(map[Sink]*member)
	h.mu.Unlock()

	for _, m := range members {
		m.halt()
	}
	h.wg.Wait()
}

func (h *Hub) drain(m *member) {
	defer h.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		select {
		case <-m.stop:
			return
		case q := <-m.queue:
			ctx, cancel := context.WithTimeout(q.ctx, h.sendTimeout)
			err := m.sink.Send(ctx, q.ev)
			cancel()
			if err != nil {
				if m.durable {
					slog.Warn("fanout: durable sink send failed", "type", q.ev.Type, "error", err)
					continue
				}
				h.evict(m, err)
				return
			}
		}
	}
}

func (h *Hub) evict(m *member, reason error) {
	h.mu.Lock()
	current, ok := h.members[m.sink]
	removed := ok && current == m
	if removed {
		delete(h.members, m.sink)
	}
	h.mu.Unlock()

	m.halt()
	if removed {
		h.dropped(m, reason)
	}
}

func (h *Hub) dropped(m *member, reason error) {
	slog.Debug("fanout: sink dropped", "error", reason)
	if e, ok := m.sink.(broadcast.Evictable); ok {
		e.Evicted(reason)
	}
	if h.onDrop != nil {
		h.onDrop(m.sink, reason)
	}
}

func isDurable(sink Sink) bool {
	d, ok := sink.(broadcast.Durable)
	return ok && d.Durable()
}

// Package bus implements the controller's typed pub/sub event bus.
//
// The bus is backed by an embedded NATS server: Publish marshals an Event to
// JSON and sends it over a single in-process NATS connection, and a single
// wildcard subscription (">") feeds a small internal worker pool that
// re-dispatches to registered topic-pattern subscribers. Using a real NATS
// connection rather than a bare Go channel keeps the transport swappable for
// a future multi-process deployment, while the worker pool, topic-pattern
// matching, and bounded history ring buffer give callers exact per-topic
// ordering and panic-isolated dispatch.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/argusvision/sentinel/internal/model"
)

const (
	// historyCapacity is the size of the bounded recent-events ring buffer.
	historyCapacity = 1000
	// defaultWorkers is N in "cooperative worker pool with N workers".
	defaultWorkers = 4
	// workerQueueDepth bounds per-worker backlog so a stalled handler
	// cannot grow memory without limit; overflow is dropped and counted.
	workerQueueDepth = 1024
	// allTopicsSubject is the NATS wildcard subscribed internally to
	// observe every published event in publish order.
	allTopicsSubject = ">"
)

// Handler receives matching events. Handlers must not block for long;
// a handler that never returns will starve its worker's queue for other
// topics hashed to the same worker.
type Handler func(model.Event)

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Bus is Sentinel's process-wide event bus.
type Bus struct {
	ns *server.Server
	nc *nats.Conn

	mu      sync.Mutex
	subs    []subscription
	nextID  uint64
	history []model.Event

	workers   []chan model.Event
	workersWG sync.WaitGroup

	droppedCount atomic.Int64
	closeOnce    sync.Once
	rawSub       *nats.Subscription
}

// Option configures New.
type Option func(*Bus, *int)

// WithWorkers overrides the default worker pool size.
func WithWorkers(n int) Option {
	return func(b *Bus, workers *int) {
		if n > 0 {
			*workers = n
		}
	}
}

// New starts an embedded NATS server (in-process, no TCP listener) and
// returns a ready-to-use Bus.
func New(opts ...Option) (*Bus, error) {
	ns, err := server.NewServer(&server.Options{
		DontListen: true,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("bus: start embedded nats server: %w", err)
	}
	ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("bus: embedded nats server not ready")
	}

	nc, err := nats.Connect("", nats.InProcessServer(ns))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("bus: connect to embedded nats server: %w", err)
	}

	workers := defaultWorkers
	b := &Bus{ns: ns, nc: nc}
	for _, o := range opts {
		o(b, &workers)
	}

	b.workers = make([]chan model.Event, workers)
	for i := range b.workers {
		b.workers[i] = make(chan model.Event, workerQueueDepth)
		b.workersWG.Add(1)
		go b.runWorker(b.workers[i])
	}

	sub, err := nc.Subscribe(allTopicsSubject, b.onRawMessage)
	if err != nil {
		b.Shutdown(context.Background())
		return nil, fmt.Errorf("bus: internal subscribe: %w", err)
	}
	b.rawSub = sub

	return b, nil
}

// Publish dispatches event to every matching subscriber. It never blocks on
// slow handlers: the NATS publish call is fire-and-forget, and per-worker
// queues are non-blocking with bounded overflow.
func (b *Bus) Publish(ev model.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.ID == "" {
		ev.ID = model.NewEventID()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	return b.nc.Publish(ev.Topic, data)
}

func (b *Bus) onRawMessage(msg *nats.Msg) {
	var ev model.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Printf("[bus] dropping malformed event on %q: %v", msg.Subject, err)
		return
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > historyCapacity {
		b.history = b.history[len(b.history)-historyCapacity:]
	}
	b.mu.Unlock()

	idx := workerIndex(ev.Topic, len(b.workers))
	select {
	case b.workers[idx] <- ev:
	default:
		b.droppedCount.Add(1)
		log.Printf("[bus] worker %d queue full, dropping event on %q", idx, ev.Topic)
	}
}

// workerIndex pins every event for a topic to the same worker so that
// per-topic FIFO ordering holds even though workers run concurrently.
func workerIndex(topic string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int(h.Sum32()) % n
}

func (b *Bus) runWorker(in chan model.Event) {
	defer b.workersWG.Done()
	for ev := range in {
		for _, sub := range b.matchingSubs(ev.Topic) {
			b.invoke(sub, ev)
		}
	}
}

func (b *Bus) matchingSubs(topic string) []subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if matches(s.pattern, topic) {
			out = append(out, s)
		}
	}
	return out
}

// invoke calls handler with the event, isolating a panic so that one
// handler's failure never aborts the publisher or sibling handlers.
func (b *Bus) invoke(sub subscription, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[bus] handler for %q (pattern %q) panicked: %v", ev.Topic, sub.pattern, r)
		}
	}()
	sub.handler(ev)
}

// matches implements the subscription pattern grammar: exact, "prefix.*", or
// "*" for everything.
func matches(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if len(pattern) > 2 && pattern[len(pattern)-2:] == ".*" {
		prefix := pattern[:len(pattern)-1] // keep trailing "."
		return len(topic) > len(prefix) && topic[:len(prefix)] == prefix
	}
	return pattern == topic
}

// Subscribe registers handler for every event whose topic matches pattern.
// It returns an unsubscribe function.
func (b *Bus) Subscribe(pattern string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to limit events matching topicFilter (same grammar as
// Subscribe's pattern), oldest first, from the bounded history ring buffer.
func (b *Bus) Recent(topicFilter string, limit int) []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.Event, 0, limit)
	for i := len(b.history) - 1; i >= 0 && len(out) < limit; i-- {
		if matches(topicFilter, b.history[i].Topic) {
			out = append(out, b.history[i])
		}
	}
	// reverse back into chronological order
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// DroppedCount returns the number of events dropped due to worker-queue
// overflow since startup (diagnostic only).
func (b *Bus) DroppedCount() int64 {
	return b.droppedCount.Load()
}

// Shutdown drains in-flight tasks with a short deadline, then forcibly
// releases the worker pool and embedded NATS server.
func (b *Bus) Shutdown(ctx context.Context) error {
	var shutdownErr error
	b.closeOnce.Do(func() {
		if b.rawSub != nil {
			_ = b.rawSub.Unsubscribe()
		}
		_ = b.nc.Drain()

		for _, w := range b.workers {
			close(w)
		}

		done := make(chan struct{})
		go func() {
			b.workersWG.Wait()
			close(done)
		}()

		deadline := 2 * time.Second
		if dl, ok := ctx.Deadline(); ok {
			if d := time.Until(dl); d < deadline {
				deadline = d
			}
		}

		select {
		case <-done:
		case <-time.After(deadline):
			log.Printf("[bus] shutdown deadline exceeded, forcing release")
		}

		b.nc.Close()
		b.ns.Shutdown()
	})
	return shutdownErr
}

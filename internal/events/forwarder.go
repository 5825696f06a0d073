package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
)

// ErrForwarderStopped is returned by Emit after Stop.
var ErrForwarderStopped = errors.New("event forwarder is stopped")

// TerminalWait bounds how long delivery waits on a full subscriber before
// dropping a terminal event. Other events are dropped at once.
const TerminalWait = 250 * time.Millisecond

type subscriber struct {
	ch      chan domain.OutputEvent
	dropped atomic.Int64
}

// Forwarder is an Emitter that delivers events to registered handlers from a
// single goroutine, so every handler observes events in publication order.
type Forwarder struct {
	events chan domain.OutputEvent
	done   chan struct{}
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []EventHandler
	subs     map[int]*subscriber
	nextSub  int
	dropped  atomic.Int64
	stopped  bool
	stopOnce sync.Once
}

// NewForwarder creates a forwarder whose Emit blocks once buffer events are
// waiting for delivery.
func NewForwarder(buffer int, logger *slog.Logger) *Forwarder {
	if buffer <= 0 {
		buffer = 1
	}

	return &Forwarder{
		events: make(chan domain.OutputEvent, buffer),
		done:   make(chan struct{}),
		subs:   make(map[int]*subscriber),
		logger: logger.With("component", "event_forwarder"),
	}
}

// RegisterHandler adds a handler. Handlers registered after an event was
// delivered do not see it.
func (f *Forwarder) RegisterHandler(handler EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
	f.logger.Debug("registered new event handler", "handler_count", len(f.handlers))
}

// Subscribe returns a channel receiving every event emitted from now on and
// a function that ends the subscription. A subscriber that falls more than
// buffer events behind misses progress events rather than stalling the
// forwarder; terminal events wait up to TerminalWait for room.
func (f *Forwarder) Subscribe(buffer int) (<-chan domain.OutputEvent, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan domain.OutputEvent, buffer)

	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := f.nextSub
	f.nextSub++
	f.subs[id] = &subscriber{ch: ch}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub.ch)
				if n := sub.dropped.Load(); n > 0 {
					f.logger.Warn("subscriber missed events", "dropped", n)
				}
			}
		})
	}
}

// Dropped returns how many events subscribers have missed so far.
func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Emit queues event for delivery.
func (f *Forwarder) Emit(ctx context.Context, event domain.OutputEvent) error {
	f.mu.RLock()
	stopped := f.stopped
	f.mu.RUnlock()
	if stopped {
		return ErrForwarderStopped
	}

	select {
	case f.events <- event:
		return nil
	case <-f.done:
		return ErrForwarderStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers events until Stop is called, then drains what is still
// queued. It returns when delivery has finished.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case ev := <-f.events:
			f.deliver(ctx, ev)
		case <-f.done:
			for {
				select {
				case ev := <-f.events:
					f.deliver(ctx, ev)
				default:
					f.closeSubscribers()
					return
				}
			}
		}
	}
}

// Stop ends Run after the queued events have been delivered.
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
		close(f.done)
	})
}

func (f *Forwarder) deliver(ctx context.Context, ev domain.OutputEvent) {
	f.mu.RLock()
	handlers := make([]EventHandler, len(f.handlers))
	copy(handlers, f.handlers)
	for _, sub := range f.subs {
		f.send(sub, ev)
	}
	f.mu.RUnlock()

	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, ev); err != nil {
			f.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"task_id", ev.Task.ID,
				"status", ev.Status)
		}
	}
}

// send must be called with f.mu held so sub.ch stays open.
func (f *Forwarder) send(sub *subscriber, ev domain.OutputEvent) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	if ev.Status.Terminal() {
		timer := time.NewTimer(TerminalWait)
		defer timer.Stop()
		select {
		case sub.ch <- ev:
			return
		case <-timer.C:
		}
	}

	sub.dropped.Add(1)
	f.dropped.Add(1)
	f.logger.Warn("subscriber is too slow, dropping event",
		"task_id", ev.Task.ID,
		"status", ev.Status,
		"dropped", sub.dropped.Load())
}

func (f *Forwarder) closeSubscribers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sub := range f.subs {
		delete(f.subs, id)
		close(sub.ch)
	}
}

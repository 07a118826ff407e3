package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrDispatcherClosed is returned by Submit after Close
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Handler applies a single event
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// Dispatcher queues events per user and applies each user's events in the
// order they were submitted. Different users are processed concurrently.
// A user's worker goroutine exists only while that user has queued events.
type Dispatcher struct {
	ctx     context.Context
	handler Handler

	mu      sync.Mutex
	inboxes map[int64][]Event
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher; events are handled with ctx
func NewDispatcher(ctx context.Context, handler Handler) *Dispatcher {
	return &Dispatcher{
		ctx:     ctx,
		handler: handler,
		inboxes: make(map[int64][]Event),
	}
}

// Submit queues an event for its user
func (d *Dispatcher) Submit(ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	queue, running := d.inboxes[ev.UserID]
	d.inboxes[ev.UserID] = append(queue, ev)
	if !running {
		d.wg.Add(1)
		go d.drain(ev.UserID)
	}
	return nil
}

// drain processes the user's inbox until it is empty
func (d *Dispatcher) drain(userID int64) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		queue := d.inboxes[userID]
		if len(queue) == 0 {
			delete(d.inboxes, userID)
			d.mu.Unlock()
			return
		}
		ev := queue[0]
		d.inboxes[userID] = queue[1:]
		d.mu.Unlock()

		d.handle(ev)
	}
}

func (d *Dispatcher) handle(ev Event) {
	err := d.handler.Handle(d.ctx, ev)
	switch {
	case err == nil:
	case IsUserInput(err):
		slog.Debug("user input rejected", "user_id", ev.UserID, "event", ev.Kind, "error", err)
	default:
		slog.Error("failed to handle event", "user_id", ev.UserID, "event", ev.Kind, "error", err)
	}
}

// Close stops accepting events and waits for queued events to be handled
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
}

// Copyright 2024-2026 Aiku AI

package federation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// EventHandler consumes one federation event. The Receiver's Dispatch
// satisfies it.
type EventHandler interface {
	Dispatch(ctx context.Context, evt Event)
}

const (
	DefaultQueueWorkers = 4
	DefaultEventTimeout = 30 * time.Second
)

// Queue decouples network receipt from event processing. A fixed worker pool
// drains an unbounded intake buffer, bounding each event with its own timeout
// so one stuck handler cannot wedge the bridge.
//
// AddToQueue never blocks. Workers themselves enqueue events (historical
// join replay), so intake must not be able to stall the pool that drains it:
// with a bounded blocking buffer, the pool deadlocks once every worker waits
// for space that only a worker can free.
//
// Stop closes intake and waits until buffered and in-flight events have been
// processed. AddToQueue after Stop is a no-op.
type Queue struct {
	handler EventHandler
	group   *errgroup.Group
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	wake    *sync.Cond
	pending []Event
	stopped bool
}

// NewQueue creates the queue and starts its workers. Zero values for workers
// and timeout select the defaults.
func NewQueue(handler EventHandler, workers int, timeout time.Duration, log zerolog.Logger) *Queue {
	if workers <= 0 {
		workers = DefaultQueueWorkers
	}
	if timeout <= 0 {
		timeout = DefaultEventTimeout
	}
	q := &Queue{
		handler: handler,
		group:   &errgroup.Group{},
		timeout: timeout,
		log:     log.With().Str("component", "event_queue").Logger(),
	}
	q.wake = sync.NewCond(&q.mu)
	for i := 0; i < workers; i++ {
		q.group.Go(q.work)
	}
	return q
}

// AddToQueue enqueues an event for processing. Events enqueued after Stop
// are silently dropped; the bridge is shutting down and the next startup
// reprocesses from the network layer's resume point.
func (q *Queue) AddToQueue(evt Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		q.log.Debug().
			Str("event_kind", string(evt.Kind())).
			Msg("Dropping event enqueued after shutdown")
		return
	}
	q.pending = append(q.pending, evt)
	q.wake.Signal()
}

// next blocks until an event is available, returning false once intake is
// closed and the buffer is drained.
func (q *Queue) next() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 && !q.stopped {
		q.wake.Wait()
	}
	if len(q.pending) == 0 {
		return nil, false
	}
	evt := q.pending[0]
	q.pending = q.pending[1:]
	return evt, true
}

func (q *Queue) work() error {
	for {
		evt, ok := q.next()
		if !ok {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		q.handler.Dispatch(ctx, evt)
		if ctx.Err() == context.DeadlineExceeded {
			q.log.Warn().
				Str("event_kind", string(evt.Kind())).
				Str("external_room_id", string(evt.RoomID())).
				Msg("Event processing hit timeout")
		}
		cancel()
	}
}

// Stop closes intake and blocks until all buffered and in-flight events have
// been processed.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.wake.Broadcast()
	q.mu.Unlock()

	_ = q.group.Wait()
	q.log.Debug().Msg("Event queue drained")
}

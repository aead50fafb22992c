package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Async queues events and delivers them in order from one goroutine, so a
// slow downstream publisher never holds up the caller. When the queue is
// full the event is dropped and logged.
type Async struct {
	next    Publisher
	queue   chan Event
	log     logrus.FieldLogger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts the delivery goroutine
func NewAsync(next Publisher, buffer int, log logrus.FieldLogger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		next:    next,
		queue:   make(chan Event, buffer),
		log:     log,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues ev without blocking
func (a *Async) Publish(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- ev:
	default:
		a.log.WithFields(logrus.Fields{
			"auction_id": ev.AuctionID,
			"event":      ev.Type,
		}).Warn("event queue full, dropping event")
	}
	return nil
}

// Close stops accepting events and waits until the queue is drained
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, ev); err != nil {
			a.log.WithError(err).WithFields(logrus.Fields{
				"auction_id": ev.AuctionID,
				"event":      ev.Type,
			}).Warn("failed to deliver event")
		}
		cancel()
	}
}

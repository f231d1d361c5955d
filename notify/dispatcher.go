/*
Package notify provides notification dispatch and deduplication.

PURPOSE:
  The engine's state transitions must never block on or fail because of
  notification delivery. Dispatcher decouples the two: Notify enqueues
  and returns immediately; a background worker drains the queue and
  hands each notification to the wrapped delivery Notifier. Delivery
  errors are logged and dropped.

DEDUPLICATION:
  The approach notification ("you're #3, get ready") must fire at most
  once per queue entry within a suppression window. Dedup is the
  explicit TTL store for that: Once(key, ttl) returns true exactly once
  per key per window. Implementations: in-process map (memory.go) and
  Redis SETNX (redis.go).

SEE ALSO:
  - queue/manager.go: The approach-notification consumer
  - wash/lifecycle.go: Wash-completed notifications
*/
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/washywashy/wash-engine/core"
)

// Dispatcher is an asynchronous, fire-and-forget core.Notifier.
// A full queue drops the notification rather than block the caller.
type Dispatcher struct {
	delivery core.Notifier
	queue    chan core.Notification
	wg       sync.WaitGroup
	closed   chan struct{}
	once     sync.Once
}

// NewDispatcher starts the background worker. buffer bounds the number of
// in-flight notifications; 0 falls back to 64.
func NewDispatcher(delivery core.Notifier, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		delivery: delivery,
		queue:    make(chan core.Notification, buffer),
		closed:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify enqueues and returns immediately. Never returns an error to the
// caller: delivery failure must not roll back the state transition that
// triggered it.
func (d *Dispatcher) Notify(_ context.Context, n core.Notification) error {
	// Checked separately: a combined select picks randomly among ready
	// cases and could park a notification in a queue no worker drains.
	select {
	case <-d.closed:
		log.Printf("notify: dispatcher closed, dropping %s for %s", n.Kind, n.CustomerID)
		return nil
	default:
	}
	select {
	case d.queue <- n:
	default:
		log.Printf("notify: queue full, dropping %s for %s", n.Kind, n.CustomerID)
	}
	return nil
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.closed:
			// Drain whatever raced in before the close.
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n core.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.delivery.Notify(ctx, n); err != nil {
		log.Printf("notify: delivery of %s for %s failed: %v", n.Kind, n.CustomerID, err)
	}
}

// Close stops accepting notifications and waits for the queue to drain.
// The queue channel itself is never closed; Notify may race with Close
// and a send on a closed channel would panic.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.closed) })
	d.wg.Wait()
}

// LogNotifier writes notifications to the process log. Stands in for a
// real delivery provider in development.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n core.Notification) error {
	log.Printf("notify: %s -> customer %s: %v", n.Kind, n.CustomerID, n.Payload)
	return nil
}

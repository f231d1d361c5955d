/*
notify.go - Outbound notification contract

PURPOSE:
  The engine only knows the notify contract; delivery (mail, SMS, push)
  lives outside. Dispatch is fire-and-forget: a delivery failure is
  logged and never rolls back the state transition that triggered it.
  Delivery is at-least-once, so consumers and the engine's own dedup
  rules must tolerate duplicates.
*/
package core

import "context"

type EventKind string

const (
	// EventQueuePositionUpdate fires when an entry's effective rank
	// reaches 3 or better. Once per entry, 30-minute suppression.
	EventQueuePositionUpdate EventKind = "queue_position_update"

	// EventWashCompleted fires exactly once per completed wash.
	EventWashCompleted EventKind = "wash_completed"
)

// Notification is the payload handed to the external notifier.
type Notification struct {
	CustomerID CustomerID
	Kind       EventKind
	Payload    map[string]any
}

// Notifier delivers notifications. Implementations must not block the
// caller on external I/O; see notify.Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards everything. Useful default.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }

package notify_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/notify"
)

type captureNotifier struct {
	mu   sync.Mutex
	seen []core.Notification
}

func (c *captureNotifier) Notify(_ context.Context, n core.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, n)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func TestDispatcher_DrainsQueueOnClose(t *testing.T) {
	// GIVEN: A dispatcher with notifications enqueued
	// WHEN: Close waits for the worker
	// THEN: Every enqueued notification was delivered
	delivery := &captureNotifier{}
	d := notify.NewDispatcher(delivery, 4)

	require.NoError(t, d.Notify(context.Background(), core.Notification{CustomerID: "c-1"}))
	require.NoError(t, d.Notify(context.Background(), core.Notification{CustomerID: "c-2"}))
	d.Close()

	assert.Equal(t, 2, delivery.count())
}

func TestDispatcher_DropsAfterClose(t *testing.T) {
	// GIVEN: A closed dispatcher
	// WHEN: A notification arrives
	// THEN: It is dropped, never parked in a queue no worker drains
	delivery := &captureNotifier{}
	d := notify.NewDispatcher(delivery, 4)
	d.Close()

	require.NoError(t, d.Notify(context.Background(), core.Notification{CustomerID: "c-1"}))
	assert.Equal(t, 0, delivery.count())
}

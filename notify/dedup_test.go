package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/notify"
)

func TestMemoryDedup_SuppressesWithinWindow(t *testing.T) {
	// GIVEN: A key claimed with a 30-minute window
	// WHEN: The same key is claimed again inside the window
	// THEN: Only the first claim wins
	ctx := context.Background()
	clock := core.NewFakeClock(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	dedup := notify.NewMemoryDedup(clock)

	first, err := dedup.Once(ctx, "approach:e-1", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	clock.Advance(29 * time.Minute)
	again, err := dedup.Once(ctx, "approach:e-1", 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestMemoryDedup_ExpiresAfterWindow(t *testing.T) {
	ctx := context.Background()
	clock := core.NewFakeClock(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	dedup := notify.NewMemoryDedup(clock)

	_, err := dedup.Once(ctx, "approach:e-1", 30*time.Minute)
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	again, err := dedup.Once(ctx, "approach:e-1", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, again)
}

func TestMemoryDedup_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	clock := core.NewFakeClock(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	dedup := notify.NewMemoryDedup(clock)

	first, err := dedup.Once(ctx, "approach:e-1", 30*time.Minute)
	require.NoError(t, err)
	other, err2 := dedup.Once(ctx, "approach:e-2", 30*time.Minute)
	require.NoError(t, err2)

	assert.True(t, first)
	assert.True(t, other)
}

package bay_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/washywashy/wash-engine/bay"
	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/store/memory"
)

func newTestAllocator(t *testing.T) (*bay.Allocator, *memory.Store) {
	t.Helper()
	store := memory.New()
	clock := core.NewFakeClock(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	a := bay.NewAllocator(store, clock, core.NewSequenceGenerator("act"), core.NewKeyedMutex(), nil)

	ctx := context.Background()
	require.NoError(t, store.PutBranch(ctx, core.Branch{ID: "br-1", Code: "DT", Name: "Downtown", Active: true}))
	require.NoError(t, store.PutBay(ctx, core.Bay{ID: "bay-1", BranchID: "br-1", Name: "Bay 1", Status: core.BayIdle}))
	require.NoError(t, store.PutBay(ctx, core.Bay{ID: "bay-2", BranchID: "br-1", Name: "Bay 2", Status: core.BayIdle}))
	return a, store
}

// =============================================================================
// ALLOCATION
// =============================================================================

func TestFindIdle_PicksLowestID(t *testing.T) {
	a, store := newTestAllocator(t)
	ctx := context.Background()

	b, ok, err := a.FindIdle(ctx, store, "br-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.BayID("bay-1"), b.ID)
}

func TestFindIdle_SkipsMaintenanceAndActive(t *testing.T) {
	a, store := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, store.PutBay(ctx, core.Bay{ID: "bay-1", BranchID: "br-1", Name: "Bay 1", Status: core.BayMaintenance}))
	require.NoError(t, store.PutBay(ctx, core.Bay{ID: "bay-2", BranchID: "br-1", Name: "Bay 2", Status: core.BayActive}))

	_, ok, err := a.FindIdle(ctx, store, "br-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllocateIn_FailsWhenNotIdle(t *testing.T) {
	// GIVEN: bay-1 already active
	// WHEN: A second allocation targets it
	// THEN: BayUnavailable with the observed state
	a, store := newTestAllocator(t)
	ctx := context.Background()

	_, err := a.AllocateIn(ctx, store, "bay-1", "attendant", "")
	require.NoError(t, err)

	_, err = a.AllocateIn(ctx, store, "bay-1", "attendant", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBayUnavailable)

	var conflict *core.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, string(core.BayActive), conflict.State)
}

func TestAllocate_ConcurrentOneWinner(t *testing.T) {
	// GIVEN: One idle bay
	// WHEN: Many goroutines race to allocate it
	// THEN: Exactly one wins
	a, store := newTestAllocator(t)
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.AllocateIn(ctx, store, "bay-1", "attendant", ""); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1)
}

func TestReleaseIn_ToleratesMaintenance(t *testing.T) {
	// GIVEN: A bay forced into maintenance mid-wash
	// WHEN: The wash releases it
	// THEN: No error, no transition; maintenance stands
	a, store := newTestAllocator(t)
	ctx := context.Background()

	_, err := a.AllocateIn(ctx, store, "bay-1", "attendant", "")
	require.NoError(t, err)
	_, err = a.SetMaintenance(ctx, "bay-1", "tech", "pump failure")
	require.NoError(t, err)

	ok, err := a.ReleaseIn(ctx, store, "bay-1", "attendant", "wash completed")
	require.NoError(t, err)
	assert.False(t, ok)

	b, err := store.GetBay(ctx, "bay-1")
	require.NoError(t, err)
	assert.Equal(t, core.BayMaintenance, b.Status)
}

// =============================================================================
// ADMIN TRANSITIONS
// =============================================================================

func TestSetStatus_LegalAndIllegalMoves(t *testing.T) {
	a, _ := newTestAllocator(t)
	ctx := context.Background()

	// idle -> maintenance -> idle is the admin loop.
	_, err := a.SetMaintenance(ctx, "bay-1", "tech", "")
	require.NoError(t, err)
	_, err = a.ClearMaintenance(ctx, "bay-1", "tech", "")
	require.NoError(t, err)

	// A bay can never be forced active.
	_, err = a.SetStatus(ctx, "bay-1", core.BayActive, "tech", "")
	assert.ErrorIs(t, err, core.ErrInvalidBayTransition)
}

func TestSetStatus_ForcedMaintenanceFromActive(t *testing.T) {
	a, store := newTestAllocator(t)
	ctx := context.Background()

	_, err := a.AllocateIn(ctx, store, "bay-1", "attendant", "")
	require.NoError(t, err)

	b, err := a.SetMaintenance(ctx, "bay-1", "tech", "equipment failure")
	require.NoError(t, err)
	assert.Equal(t, core.BayMaintenance, b.Status)
}

func TestSetStatus_ForcedMaintenanceRecordsOrphanedWash(t *testing.T) {
	// GIVEN: An active bay with a wash running in it
	// WHEN: A tech forces the bay into maintenance
	// THEN: The activity entry names the orphaned wash
	a, store := newTestAllocator(t)
	ctx := context.Background()

	_, err := a.AllocateIn(ctx, store, "bay-1", "attendant", "")
	require.NoError(t, err)
	require.NoError(t, store.CreateWash(ctx, core.Wash{ID: "w-9", BayID: "bay-1", Status: core.WashActive}))

	_, err = a.SetMaintenance(ctx, "bay-1", "tech", "pump failure")
	require.NoError(t, err)

	log, err := a.ActivityLog(ctx, "bay-1")
	require.NoError(t, err)
	require.NotEmpty(t, log)
	assert.Equal(t, "pump failure; orphans wash w-9", log[0].Notes)
}

func TestSetStatus_RequiresActor(t *testing.T) {
	a, _ := newTestAllocator(t)

	_, err := a.SetMaintenance(context.Background(), "bay-1", "", "")
	assert.True(t, core.IsValidation(err))
}

// =============================================================================
// ACTIVITY LOG
// =============================================================================

func TestActivityLog_RecordsEveryTransitionNewestFirst(t *testing.T) {
	a, store := newTestAllocator(t)
	ctx := context.Background()

	_, err := a.AllocateIn(ctx, store, "bay-1", "attendant", "wash started")
	require.NoError(t, err)
	_, err = a.ReleaseIn(ctx, store, "bay-1", "attendant", "wash completed")
	require.NoError(t, err)

	log, err := a.ActivityLog(ctx, "bay-1")
	require.NoError(t, err)
	require.Len(t, log, 2)

	assert.Equal(t, core.BayActive, log[0].PreviousStatus)
	assert.Equal(t, core.BayIdle, log[0].NewStatus)
	assert.Equal(t, core.BayIdle, log[1].PreviousStatus)
	assert.Equal(t, core.BayActive, log[1].NewStatus)
	assert.Equal(t, "attendant", log[0].Actor)
}

func TestActivityLog_UnknownBay(t *testing.T) {
	a, _ := newTestAllocator(t)

	_, err := a.ActivityLog(context.Background(), "ghost")
	assert.True(t, core.IsNotFound(err))
}

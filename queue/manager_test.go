package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/notify"
	"github.com/washywashy/wash-engine/queue"
	"github.com/washywashy/wash-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// recordingNotifier captures notifications synchronously for assertions.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []core.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n core.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) all() []core.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Notification(nil), r.sent...)
}

type queueFixture struct {
	mgr      *queue.Manager
	store    *memory.Store
	clock    *core.FakeClock
	notifier *recordingNotifier
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	store := memory.New()
	clock := core.NewFakeClock(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	mgr := queue.NewManager(store, clock, core.NewSequenceGenerator("q"),
		core.NewKeyedMutex(), notifier, notify.NewMemoryDedup(clock), nil)

	require.NoError(t, store.PutBranch(context.Background(), core.Branch{
		ID: "br-1", Code: "DT", Name: "Downtown", Active: true,
	}))
	return &queueFixture{mgr: mgr, store: store, clock: clock, notifier: notifier}
}

func (f *queueFixture) join(t *testing.T, customerID core.CustomerID, plate string) core.QueueEntry {
	t.Helper()
	entry, err := f.mgr.Join(context.Background(), "br-1", customerID, "", plate)
	require.NoError(t, err)
	return entry
}

// =============================================================================
// JOIN
// =============================================================================

func TestJoin_AssignsDensePositions(t *testing.T) {
	// GIVEN: An empty queue
	// WHEN: Three cars join
	// THEN: Positions are 1, 2, 3
	f := newQueueFixture(t)

	a := f.join(t, "", "AAA-111")
	b := f.join(t, "", "BBB-222")
	c := f.join(t, "", "CCC-333")

	assert.Equal(t, 1, a.Position)
	assert.Equal(t, 2, b.Position)
	assert.Equal(t, 3, c.Position)
}

func TestJoin_RequiresPlate(t *testing.T) {
	f := newQueueFixture(t)

	_, err := f.mgr.Join(context.Background(), "br-1", "", "", "")
	assert.True(t, core.IsValidation(err))
}

func TestJoin_ConcurrentAssignsUniqueDensePositions(t *testing.T) {
	// GIVEN: An empty queue
	// WHEN: Many cars join concurrently
	// THEN: Every join succeeds and waiting positions are 1..n dense
	f := newQueueFixture(t)
	ctx := context.Background()

	const joiners = 32
	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		plate := fmt.Sprintf("CAR-%03d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.Join(ctx, "br-1", "", "", plate)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	waiting, err := f.store.WaitingEntries(ctx, "br-1")
	require.NoError(t, err)
	require.Len(t, waiting, joiners)
	for i, e := range waiting {
		assert.Equal(t, i+1, e.Position)
	}
}

func TestJoin_RejectsInactiveBranch(t *testing.T) {
	f := newQueueFixture(t)
	require.NoError(t, f.store.PutBranch(context.Background(), core.Branch{
		ID: "br-2", Code: "CL", Name: "Closed", Active: false,
	}))

	_, err := f.mgr.Join(context.Background(), "br-2", "", "", "XYZ-999")
	assert.ErrorIs(t, err, core.ErrInvalidBranch)
}

// =============================================================================
// CANCEL + COMPACTION
// =============================================================================

func TestCancel_CompactsPositionsBehind(t *testing.T) {
	// GIVEN: Three waiting entries at positions 1, 2, 3
	// WHEN: The middle one cancels
	// THEN: The third moves to position 2; the first keeps position 1
	f := newQueueFixture(t)
	ctx := context.Background()

	a := f.join(t, "", "AAA-111")
	b := f.join(t, "", "BBB-222")
	c := f.join(t, "", "CCC-333")

	cancelled, err := f.mgr.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, core.EntryCancelled, cancelled.Status)

	waiting, err := f.store.WaitingEntries(ctx, "br-1")
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, a.ID, waiting[0].ID)
	assert.Equal(t, 1, waiting[0].Position)
	assert.Equal(t, c.ID, waiting[1].ID)
	assert.Equal(t, 2, waiting[1].Position)
}

func TestCancel_RejectsNonWaitingEntry(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	entry := f.join(t, "", "AAA-111")
	_, err := f.mgr.Cancel(ctx, entry.ID)
	require.NoError(t, err)

	_, err = f.mgr.Cancel(ctx, entry.ID)
	assert.ErrorIs(t, err, core.ErrEntryNotWaiting)
}

// =============================================================================
// RANK
// =============================================================================

func TestRank_RecomputedFromWaitingSet(t *testing.T) {
	// GIVEN: Positions 1..3 and the head cancelled
	// WHEN: Asking for the last entry's rank
	// THEN: Rank reflects the live waiting set, not the stored history
	f := newQueueFixture(t)
	ctx := context.Background()

	a := f.join(t, "", "AAA-111")
	f.join(t, "", "BBB-222")
	c := f.join(t, "", "CCC-333")

	_, err := f.mgr.Cancel(ctx, a.ID)
	require.NoError(t, err)

	rank, err := f.mgr.Rank(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rank)
}

func TestRank_NonWaitingEntryIsConflict(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	entry := f.join(t, "", "AAA-111")
	_, err := f.mgr.Cancel(ctx, entry.ID)
	require.NoError(t, err)

	_, err = f.mgr.Rank(ctx, entry.ID)
	assert.ErrorIs(t, err, core.ErrEntryNotWaiting)
}

// =============================================================================
// STATUS SNAPSHOT
// =============================================================================

func TestStatus_CountsAndWaitEstimate(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.PutBay(ctx, core.Bay{ID: "bay-1", BranchID: "br-1", Name: "Bay 1", Status: core.BayIdle}))
	require.NoError(t, f.store.PutBay(ctx, core.Bay{ID: "bay-2", BranchID: "br-1", Name: "Bay 2", Status: core.BayMaintenance}))

	f.join(t, "", "AAA-111")
	f.clock.Advance(40 * time.Minute)
	f.join(t, "", "BBB-222")
	f.clock.Advance(20 * time.Minute)

	status, err := f.mgr.Status(ctx, "br-1")
	require.NoError(t, err)

	assert.Equal(t, 2, status.TotalWaiting)
	assert.Equal(t, 0, status.InProgress)
	assert.Equal(t, 0, status.NowServing)
	assert.Equal(t, 1, status.AvailableBays, "maintenance bays are not available")
	// First waited 60m, second 20m: mean 40m.
	assert.Equal(t, 40, status.AverageWaitMinutes)
}

// =============================================================================
// APPROACH NOTIFICATION
// =============================================================================

func TestNotifyApproaching_FiresForTopThreeRegisteredOnly(t *testing.T) {
	// GIVEN: Four waiting entries, the third anonymous
	// WHEN: Joining (each join sweeps)
	// THEN: Entries at ranks 1 and 2 with customers are notified; the
	//       anonymous entry and rank 4 are not
	f := newQueueFixture(t)

	f.join(t, "cust-1", "AAA-111")
	f.join(t, "cust-2", "BBB-222")
	f.join(t, "", "CCC-333")
	f.join(t, "cust-4", "DDD-444")

	sent := f.notifier.all()
	require.Len(t, sent, 2)
	assert.Equal(t, core.CustomerID("cust-1"), sent[0].CustomerID)
	assert.Equal(t, core.CustomerID("cust-2"), sent[1].CustomerID)

	assert.Equal(t, core.EventQueuePositionUpdate, sent[0].Kind)
	assert.Equal(t, 1, sent[0].Payload["position"])
	assert.Equal(t, 20, sent[0].Payload["estimated_wait_minutes"])
}

func TestNotifyApproaching_FiresOncePerEntry(t *testing.T) {
	// GIVEN: A notified entry at rank 1
	// WHEN: The sweep runs again, even after the dedup window lapses
	// THEN: No second notification; NotifiedAt stamps the entry for good
	f := newQueueFixture(t)
	ctx := context.Background()

	entry := f.join(t, "cust-1", "AAA-111")
	require.Len(t, f.notifier.all(), 1)

	f.mgr.NotifyApproaching(ctx, "br-1")
	f.clock.Advance(2 * time.Hour)
	f.mgr.NotifyApproaching(ctx, "br-1")

	assert.Len(t, f.notifier.all(), 1)

	stored, err := f.store.GetQueueEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, stored.NotifiedAt.IsZero())
}

func TestNotifyApproaching_PromotedEntryGetsNotified(t *testing.T) {
	// GIVEN: Four registered entries; only the top three were notified
	// WHEN: One of the top three cancels
	// THEN: The fourth, now at rank 3, gets its notification
	f := newQueueFixture(t)
	ctx := context.Background()

	a := f.join(t, "cust-1", "AAA-111")
	f.join(t, "cust-2", "BBB-222")
	f.join(t, "cust-3", "CCC-333")
	f.join(t, "cust-4", "DDD-444")
	require.Len(t, f.notifier.all(), 3)

	_, err := f.mgr.Cancel(ctx, a.ID)
	require.NoError(t, err)

	sent := f.notifier.all()
	require.Len(t, sent, 4)
	assert.Equal(t, core.CustomerID("cust-4"), sent[3].CustomerID)
	assert.Equal(t, 3, sent[3].Payload["position"])
}

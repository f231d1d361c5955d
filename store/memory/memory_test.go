package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/store/memory"
)

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A store with one bay
	// WHEN: A transaction mutates it and then fails
	// THEN: The mutation is gone
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.PutBay(ctx, core.Bay{ID: "bay-1", BranchID: "br-1", Name: "Bay 1", Status: core.BayIdle}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx core.Store) error {
		ok, err := tx.CompareAndSetBayStatus(ctx, "bay-1", core.BayIdle, core.BayActive)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.CreateWash(ctx, core.Wash{ID: "w-1", BayID: "bay-1", Status: core.WashActive}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	b, err := s.GetBay(ctx, "bay-1")
	require.NoError(t, err)
	assert.Equal(t, core.BayIdle, b.Status)

	_, err = s.GetWash(ctx, "w-1")
	assert.True(t, core.IsNotFound(err))
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.PutBay(ctx, core.Bay{ID: "bay-1", BranchID: "br-1", Name: "Bay 1", Status: core.BayIdle}))

	err := s.WithTx(ctx, func(tx core.Store) error {
		_, err := tx.CompareAndSetBayStatus(ctx, "bay-1", core.BayIdle, core.BayActive)
		return err
	})
	require.NoError(t, err)

	b, err := s.GetBay(ctx, "bay-1")
	require.NoError(t, err)
	assert.Equal(t, core.BayActive, b.Status)
}

func TestCompareAndSetBayStatus_FailsOnWrongState(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.PutBay(ctx, core.Bay{ID: "bay-1", BranchID: "br-1", Name: "Bay 1", Status: core.BayMaintenance}))

	ok, err := s.CompareAndSetBayStatus(ctx, "bay-1", core.BayIdle, core.BayActive)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CompareAndSetBayStatus(ctx, "ghost", core.BayIdle, core.BayActive)
	assert.True(t, core.IsNotFound(err))
}

func TestWaitingEntries_OrderedByPosition(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	// Insert out of order.
	for _, e := range []core.QueueEntry{
		{ID: "e-3", BranchID: "br-1", Position: 3, Status: core.EntryWaiting, JoinedAt: now},
		{ID: "e-1", BranchID: "br-1", Position: 1, Status: core.EntryWaiting, JoinedAt: now},
		{ID: "e-2", BranchID: "br-1", Position: 2, Status: core.EntryWaiting, JoinedAt: now},
		{ID: "e-x", BranchID: "br-1", Position: 4, Status: core.EntryCancelled, JoinedAt: now},
		{ID: "e-y", BranchID: "br-2", Position: 1, Status: core.EntryWaiting, JoinedAt: now},
	} {
		require.NoError(t, s.CreateQueueEntry(ctx, e))
	}

	waiting, err := s.WaitingEntries(ctx, "br-1")
	require.NoError(t, err)
	require.Len(t, waiting, 3)
	assert.Equal(t, core.EntryID("e-1"), waiting[0].ID)
	assert.Equal(t, core.EntryID("e-2"), waiting[1].ID)
	assert.Equal(t, core.EntryID("e-3"), waiting[2].ID)

	max, err := s.MaxWaitingPosition(ctx, "br-1")
	require.NoError(t, err)
	assert.Equal(t, 3, max)
}

func TestCountInProgress_ReturnsLowestPosition(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	for _, e := range []core.QueueEntry{
		{ID: "e-1", BranchID: "br-1", Position: 2, Status: core.EntryInProgress, JoinedAt: now},
		{ID: "e-2", BranchID: "br-1", Position: 5, Status: core.EntryInProgress, JoinedAt: now},
		{ID: "e-3", BranchID: "br-1", Position: 6, Status: core.EntryWaiting, JoinedAt: now},
	} {
		require.NoError(t, s.CreateQueueEntry(ctx, e))
	}

	count, lowest, err := s.CountInProgress(ctx, "br-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, lowest)
}

func TestActiveWashForBay(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.CreateWash(ctx, core.Wash{ID: "w-1", BayID: "bay-1", Status: core.WashCompleted}))
	require.NoError(t, s.CreateWash(ctx, core.Wash{ID: "w-2", BayID: "bay-1", Status: core.WashActive}))

	w, err := s.ActiveWashForBay(ctx, "bay-1")
	require.NoError(t, err)
	assert.Equal(t, core.WashID("w-2"), w.ID)

	_, err = s.ActiveWashForBay(ctx, "bay-2")
	assert.True(t, core.IsNotFound(err))
}

func TestAppendOnlyLogs_AccumulateNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendBayActivity(ctx, core.BayActivityEntry{ID: "a-1", BayID: "bay-1", ChangedAt: now}))
	require.NoError(t, s.AppendBayActivity(ctx, core.BayActivityEntry{ID: "a-2", BayID: "bay-1", ChangedAt: now.Add(time.Minute)}))

	log, err := s.BayActivity(ctx, "bay-1")
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "a-2", log[0].ID)

	require.NoError(t, s.AppendLoyaltyTransaction(ctx, core.LoyaltyTransaction{ID: "t-1", CustomerID: "c-1", Points: 10, CreatedAt: now}))
	require.NoError(t, s.AppendLoyaltyTransaction(ctx, core.LoyaltyTransaction{ID: "t-2", CustomerID: "c-1", Points: -5, CreatedAt: now.Add(time.Minute)}))

	txs, err := s.LoyaltyTransactions(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "t-2", txs[0].ID)
}

/*
Package queue implements per-branch FIFO position management.

PURPOSE:
  Assigns and advances queue positions, compacts after cancellations,
  and fires the approach notification when an entry nears the front.

POSITION INVARIANTS:
  - Among waiting entries in a branch, positions are unique and dense:
    1..n ascending is the serve order.
  - join assigns max(waiting position)+1 under the branch lock, so two
    concurrent joins can never mint the same position.
  - cancel decrements every waiting position above the cancelled one by
    exactly one, preserving relative order. This compaction is the one
    operation requiring per-branch serialization.
  - advance does NOT renumber; it only moves the entry out of waiting.

EFFECTIVE RANK:
  positionOf never trusts the stored field alone: rank is recomputed as
  the count of waiting entries with a strictly smaller position, plus
  one. Any drift in stored positions cannot change the serve order.

APPROACH NOTIFICATION:
  When an entry's effective rank reaches 3 or better, a position-update
  notification fires exactly once per entry (NotifiedAt stamps the
  fact), with a 30-minute dedup window making the rule idempotent under
  repeated recomputation and at-least-once delivery.

SEE ALSO:
  - notify/dedup.go: The suppression window store
  - wash/lifecycle.go: Calls advance/compaction inside its transaction
*/
package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/metrics"
	"github.com/washywashy/wash-engine/notify"
)

const (
	// approachRank is the effective rank at or below which the
	// position-update notification fires.
	approachRank = 3

	// approachSuppression is the dedup window after a notification.
	approachSuppression = 30 * time.Minute

	// waitPerPosition is the rule-of-thumb service time per position.
	waitPerPosition = 20 * time.Minute
)

// EstimatedWaitMinutes converts an effective rank into the wait estimate
// shown to customers.
func EstimatedWaitMinutes(rank int) int {
	return rank * int(waitPerPosition/time.Minute)
}

// Manager owns all QueueEntry.position writes.
type Manager struct {
	store    core.Store
	clock    core.Clock
	ids      core.IDGenerator
	locks    *core.KeyedMutex
	notifier core.Notifier
	dedup    notify.Dedup
	metrics  *metrics.Metrics
}

func NewManager(store core.Store, clock core.Clock, ids core.IDGenerator, locks *core.KeyedMutex, notifier core.Notifier, dedup notify.Dedup, m *metrics.Metrics) *Manager {
	return &Manager{
		store:    store,
		clock:    clock,
		ids:      ids,
		locks:    locks,
		notifier: notifier,
		dedup:    dedup,
		metrics:  m,
	}
}

// =============================================================================
// JOIN
// =============================================================================

// Join appends a new waiting entry at max(waiting position)+1.
// Customer and package are optional; the plate is not.
func (m *Manager) Join(ctx context.Context, branchID core.BranchID, customerID core.CustomerID, packageID core.PackageID, plateNumber string) (core.QueueEntry, error) {
	if plateNumber == "" {
		return core.QueueEntry{}, &core.ValidationError{Field: "plate_number", Reason: "required"}
	}

	branch, err := m.store.GetBranch(ctx, branchID)
	if err != nil {
		return core.QueueEntry{}, err
	}
	if !branch.Active {
		return core.QueueEntry{}, &core.StateConflictError{
			Op:     "queue.join",
			Entity: "branch",
			ID:     string(branchID),
			State:  "inactive",
			Err:    core.ErrInvalidBranch,
		}
	}

	unlock := m.locks.Lock(core.BranchLockKey(branchID))
	defer unlock()

	var entry core.QueueEntry
	err = m.store.WithTx(ctx, func(s core.Store) error {
		maxPos, err := s.MaxWaitingPosition(ctx, branchID)
		if err != nil {
			return err
		}
		entry = core.QueueEntry{
			ID:          core.EntryID(m.ids.NewID()),
			BranchID:    branchID,
			CustomerID:  customerID,
			PackageID:   packageID,
			PlateNumber: plateNumber,
			Position:    maxPos + 1,
			Status:      core.EntryWaiting,
			JoinedAt:    m.clock.Now(),
		}
		return s.CreateQueueEntry(ctx, entry)
	})
	if err != nil {
		return core.QueueEntry{}, err
	}

	m.metrics.QueueJoin(string(branchID))
	m.sweepLocked(ctx, branchID)
	return entry, nil
}

// =============================================================================
// CANCEL + COMPACTION
// =============================================================================

// Cancel cancels a waiting entry and compacts the positions behind it.
// Entries that already advanced are cancelled through the wash
// coordinator, not here.
func (m *Manager) Cancel(ctx context.Context, entryID core.EntryID) (core.QueueEntry, error) {
	entry, err := m.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return core.QueueEntry{}, err
	}

	unlock := m.locks.Lock(core.BranchLockKey(entry.BranchID))
	defer unlock()

	err = m.store.WithTx(ctx, func(s core.Store) error {
		entry, err = s.GetQueueEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.Status != core.EntryWaiting {
			return &core.StateConflictError{
				Op:     "queue.cancel",
				Entity: "queue_entry",
				ID:     string(entryID),
				State:  string(entry.Status),
				Err:    core.ErrEntryNotWaiting,
			}
		}
		entry, err = m.MarkCancelledIn(ctx, s, entry)
		return err
	})
	if err != nil {
		return core.QueueEntry{}, err
	}

	m.metrics.QueueCancellation(string(entry.BranchID))
	m.sweepLocked(ctx, entry.BranchID)
	return entry, nil
}

// MarkCancelledIn cancels an entry and compacts inside a caller-managed
// transaction. The caller must hold the branch lock.
func (m *Manager) MarkCancelledIn(ctx context.Context, s core.Store, entry core.QueueEntry) (core.QueueEntry, error) {
	entry.Status = core.EntryCancelled
	entry.CompletedAt = m.clock.Now()
	if err := s.PutQueueEntry(ctx, entry); err != nil {
		return core.QueueEntry{}, err
	}
	if err := m.compactIn(ctx, s, entry.BranchID, entry.Position); err != nil {
		return core.QueueEntry{}, err
	}
	return entry, nil
}

// compactIn decrements every waiting position above the given one by
// exactly one, preserving relative order.
func (m *Manager) compactIn(ctx context.Context, s core.Store, branchID core.BranchID, abovePosition int) error {
	waiting, err := s.WaitingEntries(ctx, branchID)
	if err != nil {
		return err
	}
	for _, e := range waiting {
		if e.Position > abovePosition {
			e.Position--
			if err := s.PutQueueEntry(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// ADVANCE / COMPLETE (coordinator hooks)
// =============================================================================

// AdvanceIn moves a waiting entry to in_progress inside a caller-managed
// transaction. No renumbering happens here: the entry leaves the waiting
// set and the positions behind it keep their values.
func (m *Manager) AdvanceIn(ctx context.Context, s core.Store, entryID core.EntryID) (core.QueueEntry, error) {
	entry, err := s.GetQueueEntry(ctx, entryID)
	if err != nil {
		return core.QueueEntry{}, err
	}
	if entry.Status != core.EntryWaiting {
		return core.QueueEntry{}, &core.StateConflictError{
			Op:     "queue.advance",
			Entity: "queue_entry",
			ID:     string(entryID),
			State:  string(entry.Status),
			Err:    core.ErrEntryNotWaiting,
		}
	}
	entry.Status = core.EntryInProgress
	entry.StartedAt = m.clock.Now()
	if err := s.PutQueueEntry(ctx, entry); err != nil {
		return core.QueueEntry{}, err
	}
	return entry, nil
}

// MarkCompletedIn finishes an in-progress entry inside a caller-managed
// transaction.
func (m *Manager) MarkCompletedIn(ctx context.Context, s core.Store, entry core.QueueEntry) (core.QueueEntry, error) {
	entry.Status = core.EntryCompleted
	entry.CompletedAt = m.clock.Now()
	if err := s.PutQueueEntry(ctx, entry); err != nil {
		return core.QueueEntry{}, err
	}
	return entry, nil
}

// =============================================================================
// RANK AND STATUS READS
// =============================================================================

// Rank returns the entry's effective rank: the count of waiting entries
// in the branch with a strictly smaller position, plus one. Recomputed
// from the live waiting set to tolerate any stored-position drift.
func (m *Manager) Rank(ctx context.Context, entryID core.EntryID) (int, error) {
	entry, err := m.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return 0, err
	}
	if entry.Status != core.EntryWaiting {
		return 0, &core.StateConflictError{
			Op:     "queue.rank",
			Entity: "queue_entry",
			ID:     string(entryID),
			State:  string(entry.Status),
			Err:    core.ErrEntryNotWaiting,
		}
	}
	waiting, err := m.store.WaitingEntries(ctx, entry.BranchID)
	if err != nil {
		return 0, err
	}
	rank := 1
	for _, e := range waiting {
		if e.Position < entry.Position {
			rank++
		}
	}
	return rank, nil
}

// Status returns the branch's live queue snapshot.
func (m *Manager) Status(ctx context.Context, branchID core.BranchID) (core.QueueStatus, error) {
	if _, err := m.store.GetBranch(ctx, branchID); err != nil {
		return core.QueueStatus{}, err
	}

	waiting, err := m.store.WaitingEntries(ctx, branchID)
	if err != nil {
		return core.QueueStatus{}, err
	}
	inProgress, nowServing, err := m.store.CountInProgress(ctx, branchID)
	if err != nil {
		return core.QueueStatus{}, err
	}
	bays, err := m.store.ListBays(ctx, branchID)
	if err != nil {
		return core.QueueStatus{}, err
	}
	idle := 0
	for _, b := range bays {
		if b.Status == core.BayIdle {
			idle++
		}
	}

	avgWait := 0
	if len(waiting) > 0 {
		now := m.clock.Now()
		var total time.Duration
		for _, e := range waiting {
			if !e.JoinedAt.IsZero() {
				total += now.Sub(e.JoinedAt)
			}
		}
		avgWait = int((total / time.Duration(len(waiting))).Round(time.Minute).Minutes())
	}

	return core.QueueStatus{
		BranchID:           branchID,
		NowServing:         nowServing,
		TotalWaiting:       len(waiting),
		InProgress:         inProgress,
		AvailableBays:      idle,
		AverageWaitMinutes: avgWait,
	}, nil
}

// =============================================================================
// APPROACH NOTIFICATION
// =============================================================================

// NotifyApproaching sweeps the branch's waiting set and fires the
// position-update notification for entries at rank 3 or better. Safe to
// call after any operation that improves ranks; the per-entry stamp and
// the dedup window keep it exactly-once.
func (m *Manager) NotifyApproaching(ctx context.Context, branchID core.BranchID) {
	unlock := m.locks.Lock(core.BranchLockKey(branchID))
	defer unlock()
	m.sweepLocked(ctx, branchID)
}

// sweepLocked requires the branch lock. Notification failures are logged
// and never propagated: the state transition that triggered the sweep
// already happened.
func (m *Manager) sweepLocked(ctx context.Context, branchID core.BranchID) {
	waiting, err := m.store.WaitingEntries(ctx, branchID)
	if err != nil {
		log.Printf("queue: approach sweep for branch %s failed: %v", branchID, err)
		return
	}

	for i, entry := range waiting {
		rank := i + 1 // waiting set is position-ordered and dense
		if rank > approachRank {
			break
		}
		if entry.CustomerID == "" || !entry.NotifiedAt.IsZero() {
			continue
		}

		first, err := m.dedup.Once(ctx, "approach:"+string(entry.ID), approachSuppression)
		if err != nil {
			log.Printf("queue: approach dedup for entry %s failed: %v", entry.ID, err)
			continue
		}
		if !first {
			continue
		}

		entry.NotifiedAt = m.clock.Now()
		if err := m.store.PutQueueEntry(ctx, entry); err != nil {
			log.Printf("queue: stamping notification on entry %s failed: %v", entry.ID, err)
		}

		estimate := time.Duration(rank) * waitPerPosition
		if err := m.notifier.Notify(ctx, core.Notification{
			CustomerID: entry.CustomerID,
			Kind:       core.EventQueuePositionUpdate,
			Payload: map[string]any{
				"queue_entry_id":         string(entry.ID),
				"branch_id":              string(branchID),
				"position":               rank,
				"estimated_wait_minutes": int(estimate.Minutes()),
				"message":                fmt.Sprintf("You're #%d in the queue. Get ready!", rank),
			},
		}); err != nil {
			log.Printf("queue: approach notification for entry %s failed: %v", entry.ID, err)
			continue
		}
		m.metrics.NotificationSent(string(core.EventQueuePositionUpdate))
	}
}

/*
Package wash implements the lifecycle coordinator.

PURPOSE:
  Orchestrates the state machine binding a QueueEntry to a Bay to a
  Wash to a loyalty award. This is the only package that calls into
  queue, bay, and loyalty together, and the sequence is explicit here -
  no observers, no field-change hooks.

STATE MACHINE:
  QueueEntry: waiting --start--> in_progress --complete--> completed
                              \--cancel-----------------> cancelled
  Wash:       (created on start) active --complete--> completed
                                         \--cancel---> cancelled

ATOMICITY:
  Every mutation runs inside one store transaction: either the wash is
  created AND the bay is active AND the entry advanced, or none of it
  happened. Completing an already-completed wash is a no-op, not an
  error, and awards points exactly once.

LOCK ORDERING:
  branch -> bay -> account, always. start takes bay; complete takes
  bay then account; cancel takes branch then bay.

SEE ALSO:
  - queue/manager.go, bay/allocator.go, loyalty/ledger.go
*/
package wash

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/washywashy/wash-engine/bay"
	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/loyalty"
	"github.com/washywashy/wash-engine/metrics"
	"github.com/washywashy/wash-engine/queue"
)

// Lifecycle coordinates queue entries, bays, washes, and loyalty awards.
// It owns all Wash writes.
type Lifecycle struct {
	store    core.Store
	clock    core.Clock
	ids      core.IDGenerator
	locks    *core.KeyedMutex
	queue    *queue.Manager
	bays     *bay.Allocator
	loyalty  *loyalty.Ledger
	notifier core.Notifier
	metrics  *metrics.Metrics
}

func NewLifecycle(store core.Store, clock core.Clock, ids core.IDGenerator, locks *core.KeyedMutex, q *queue.Manager, b *bay.Allocator, l *loyalty.Ledger, notifier core.Notifier, m *metrics.Metrics) *Lifecycle {
	return &Lifecycle{
		store:    store,
		clock:    clock,
		ids:      ids,
		locks:    locks,
		queue:    q,
		bays:     b,
		loyalty:  l,
		notifier: notifier,
		metrics:  m,
	}
}

// =============================================================================
// START
// =============================================================================

// Start advances a waiting entry into a bay and creates the active wash.
// Pass an empty bayID to auto-pick the lowest-id idle bay in the branch.
// All-or-nothing: a failure at any step leaves no partial state.
func (lc *Lifecycle) Start(ctx context.Context, entryID core.EntryID, bayID core.BayID, actor string) (core.Wash, error) {
	entry, err := lc.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return core.Wash{}, err
	}
	if entry.Status != core.EntryWaiting {
		return core.Wash{}, &core.StateConflictError{
			Op:     "wash.start",
			Entity: "queue_entry",
			ID:     string(entryID),
			State:  string(entry.Status),
			Err:    core.ErrEntryNotWaiting,
		}
	}

	bayID, err = lc.resolveBay(ctx, entry.BranchID, bayID)
	if err != nil {
		return core.Wash{}, err
	}

	var w core.Wash
	err = func() error {
		// Bay lock released before the approach sweep below; the sweep
		// takes the branch lock and must not nest under the bay lock.
		unlock := lc.locks.Lock(core.BayLockKey(bayID))
		defer unlock()

		return lc.store.WithTx(ctx, func(s core.Store) error {
			// Re-check under the transaction; the pre-read was advisory.
			entry, err := lc.queue.AdvanceIn(ctx, s, entryID)
			if err != nil {
				return err
			}
			if _, err := lc.bays.AllocateIn(ctx, s, bayID, actor, "wash started"); err != nil {
				return err
			}
			amount, err := lc.packagePrice(ctx, s, entry.PackageID)
			if err != nil {
				return err
			}
			w = core.Wash{
				ID:          core.WashID(lc.ids.NewID()),
				EntryID:     entry.ID,
				BayID:       bayID,
				BranchID:    entry.BranchID,
				CustomerID:  entry.CustomerID,
				PackageID:   entry.PackageID,
				TotalAmount: amount,
				Status:      core.WashActive,
				StartedAt:   lc.clock.Now(),
			}
			return s.CreateWash(ctx, w)
		})
	}()
	if err != nil {
		return core.Wash{}, err
	}

	lc.metrics.WashStarted(string(w.BranchID))
	// The entry left the waiting set; ranks behind it improved.
	lc.queue.NotifyApproaching(ctx, w.BranchID)
	return w, nil
}

// StartDirect creates a wash bound to a bay without any queue entry -
// the skip-queue path used by appointment conversion. No position value
// is involved; the wash simply carries the SkipQueue flag.
func (lc *Lifecycle) StartDirect(ctx context.Context, branchID core.BranchID, customerID core.CustomerID, packageID core.PackageID, bayID core.BayID, actor string) (core.Wash, error) {
	branch, err := lc.store.GetBranch(ctx, branchID)
	if err != nil {
		return core.Wash{}, err
	}
	if !branch.Active {
		return core.Wash{}, &core.StateConflictError{
			Op:     "wash.start_direct",
			Entity: "branch",
			ID:     string(branchID),
			State:  "inactive",
			Err:    core.ErrInvalidBranch,
		}
	}

	bayID, err = lc.resolveBay(ctx, branchID, bayID)
	if err != nil {
		return core.Wash{}, err
	}

	unlock := lc.locks.Lock(core.BayLockKey(bayID))
	defer unlock()

	var w core.Wash
	err = lc.store.WithTx(ctx, func(s core.Store) error {
		if _, err := lc.bays.AllocateIn(ctx, s, bayID, actor, "wash started (skip queue)"); err != nil {
			return err
		}
		amount, err := lc.packagePrice(ctx, s, packageID)
		if err != nil {
			return err
		}
		w = core.Wash{
			ID:          core.WashID(lc.ids.NewID()),
			BayID:       bayID,
			BranchID:    branchID,
			CustomerID:  customerID,
			PackageID:   packageID,
			TotalAmount: amount,
			SkipQueue:   true,
			Status:      core.WashActive,
			StartedAt:   lc.clock.Now(),
		}
		return s.CreateWash(ctx, w)
	})
	if err != nil {
		return core.Wash{}, err
	}

	lc.metrics.WashStarted(string(branchID))
	return w, nil
}

// =============================================================================
// COMPLETE
// =============================================================================

// Complete finishes an active wash: marks it completed, releases the bay,
// completes the linked entry, and awards loyalty points when the wash
// belongs to a registered customer. Completing an already-completed wash
// is a no-op; points are awarded exactly once.
func (lc *Lifecycle) Complete(ctx context.Context, washID core.WashID, actor string) (core.Wash, error) {
	w, err := lc.store.GetWash(ctx, washID)
	if err != nil {
		return core.Wash{}, err
	}
	if w.Status == core.WashCompleted {
		return w, nil
	}
	if w.Status != core.WashActive {
		return core.Wash{}, lc.notActive("wash.complete", w)
	}

	unlockBay := lc.locks.Lock(core.BayLockKey(w.BayID))
	defer unlockBay()
	if w.CustomerID != "" {
		unlockAccount := lc.locks.Lock(core.AccountLockKey(w.CustomerID))
		defer unlockAccount()
	}

	var pointsEarned int64
	alreadyDone := false
	err = lc.store.WithTx(ctx, func(s core.Store) error {
		w, err = s.GetWash(ctx, washID)
		if err != nil {
			return err
		}
		if w.Status == core.WashCompleted {
			alreadyDone = true
			return nil
		}
		if w.Status != core.WashActive {
			return lc.notActive("wash.complete", w)
		}

		w.Status = core.WashCompleted
		w.CompletedAt = lc.clock.Now()
		if err := s.PutWash(ctx, w); err != nil {
			return err
		}

		// A bay forced into maintenance mid-wash stays there.
		if _, err := lc.bays.ReleaseIn(ctx, s, w.BayID, actor, "wash completed"); err != nil {
			return err
		}

		if w.EntryID != "" {
			entry, err := s.GetQueueEntry(ctx, w.EntryID)
			if err != nil {
				return err
			}
			if entry.Status == core.EntryInProgress {
				if _, err := lc.queue.MarkCompletedIn(ctx, s, entry); err != nil {
					return err
				}
			}
		}

		pointsEarned, err = lc.awardIn(ctx, s, w)
		return err
	})
	if err != nil {
		return core.Wash{}, err
	}
	if alreadyDone {
		return w, nil
	}

	lc.metrics.WashCompleted(string(w.BranchID))
	lc.notifyCompleted(ctx, w, pointsEarned)
	return w, nil
}

// awardIn credits loyalty points for a completed wash when a registered
// customer is attached. The award happens in the completion transaction,
// so duplicate completion calls can never double-award.
func (lc *Lifecycle) awardIn(ctx context.Context, s core.Store, w core.Wash) (int64, error) {
	if w.CustomerID == "" {
		return 0, nil
	}
	customer, err := s.GetCustomer(ctx, w.CustomerID)
	if core.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !customer.Registered {
		return 0, nil
	}

	account, err := s.GetAccount(ctx, w.CustomerID)
	if core.IsNotFound(err) {
		account = core.LoyaltyAccount{CustomerID: w.CustomerID, Tier: core.TierBronze}
	} else if err != nil {
		return 0, err
	}

	points := loyalty.CalculatePoints(w.TotalAmount, account.Tier)
	if points == 0 {
		return 0, nil
	}

	branch, err := s.GetBranch(ctx, w.BranchID)
	if err != nil {
		return 0, err
	}
	if _, err := lc.loyalty.AwardIn(ctx, s, w.CustomerID, points,
		fmt.Sprintf("Earned from wash at %s", branch.Name), w.ID, ""); err != nil {
		return 0, err
	}
	return points, nil
}

func (lc *Lifecycle) notifyCompleted(ctx context.Context, w core.Wash, pointsEarned int64) {
	if w.CustomerID == "" {
		return
	}
	_ = lc.notifier.Notify(ctx, core.Notification{
		CustomerID: w.CustomerID,
		Kind:       core.EventWashCompleted,
		Payload: map[string]any{
			"wash_id":       string(w.ID),
			"branch_id":     string(w.BranchID),
			"total_amount":  w.TotalAmount.StringFixed(2),
			"points_earned": pointsEarned,
			"message":       "Your wash is done. Thanks for coming by!",
		},
	})
	lc.metrics.NotificationSent(string(core.EventWashCompleted))
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel aborts an active wash: releases the bay, cancels the linked
// entry, compacts the queue behind it, and never awards points.
// Cancelling an already-cancelled wash is a no-op.
func (lc *Lifecycle) Cancel(ctx context.Context, washID core.WashID, actor string) (core.Wash, error) {
	w, err := lc.store.GetWash(ctx, washID)
	if err != nil {
		return core.Wash{}, err
	}
	if w.Status == core.WashCancelled {
		return w, nil
	}
	if w.Status != core.WashActive {
		return core.Wash{}, lc.notActive("wash.cancel", w)
	}

	alreadyDone := false
	hadEntry := false
	err = func() error {
		// Locks released before the approach sweep below, which takes
		// the branch lock itself.
		unlockBranch := lc.locks.Lock(core.BranchLockKey(w.BranchID))
		defer unlockBranch()
		unlockBay := lc.locks.Lock(core.BayLockKey(w.BayID))
		defer unlockBay()

		return lc.store.WithTx(ctx, func(s core.Store) error {
			w, err = s.GetWash(ctx, washID)
			if err != nil {
				return err
			}
			if w.Status == core.WashCancelled {
				alreadyDone = true
				return nil
			}
			if w.Status != core.WashActive {
				return lc.notActive("wash.cancel", w)
			}

			w.Status = core.WashCancelled
			w.CompletedAt = lc.clock.Now()
			if err := s.PutWash(ctx, w); err != nil {
				return err
			}

			if _, err := lc.bays.ReleaseIn(ctx, s, w.BayID, actor, "wash cancelled"); err != nil {
				return err
			}

			if w.EntryID != "" {
				entry, err := s.GetQueueEntry(ctx, w.EntryID)
				if err != nil {
					return err
				}
				if entry.Status == core.EntryInProgress {
					hadEntry = true
					if _, err := lc.queue.MarkCancelledIn(ctx, s, entry); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}()
	if err != nil {
		return core.Wash{}, err
	}
	if alreadyDone {
		return w, nil
	}

	lc.metrics.WashCancelled(string(w.BranchID))
	if hadEntry {
		lc.queue.NotifyApproaching(ctx, w.BranchID)
	}
	return w, nil
}

// =============================================================================
// READS AND HELPERS
// =============================================================================

// Get returns a wash by id.
func (lc *Lifecycle) Get(ctx context.Context, washID core.WashID) (core.Wash, error) {
	return lc.store.GetWash(ctx, washID)
}

// resolveBay validates an explicit bay choice or auto-picks the lowest-id
// idle bay in the branch.
func (lc *Lifecycle) resolveBay(ctx context.Context, branchID core.BranchID, bayID core.BayID) (core.BayID, error) {
	if bayID != "" {
		b, err := lc.store.GetBay(ctx, bayID)
		if err != nil {
			return "", err
		}
		if b.BranchID != branchID {
			return "", &core.ValidationError{Field: "bay_id", Reason: "bay belongs to a different branch"}
		}
		return bayID, nil
	}

	b, ok, err := lc.bays.FindIdle(ctx, lc.store, branchID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &core.StateConflictError{
			Op:     "wash.start",
			Entity: "branch",
			ID:     string(branchID),
			State:  "no idle bays",
			Err:    core.ErrBayUnavailable,
		}
	}
	return b.ID, nil
}

func (lc *Lifecycle) notActive(op string, w core.Wash) error {
	return &core.StateConflictError{
		Op:     op,
		Entity: "wash",
		ID:     string(w.ID),
		State:  string(w.Status),
		Err:    core.ErrWashNotActive,
	}
}

// packagePrice captures the package price at wash creation. A wash with
// no package is free-form: amount zero.
func (lc *Lifecycle) packagePrice(ctx context.Context, s core.Store, packageID core.PackageID) (decimal.Decimal, error) {
	if packageID == "" {
		return decimal.Zero, nil
	}
	p, err := s.GetPackage(ctx, packageID)
	if core.IsNotFound(err) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	return p.Price, nil
}

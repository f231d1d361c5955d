/*
Package bay implements service-bay allocation and status transitions.

PURPOSE:
  Matches a wash to an idle bay within a branch, owns every Bay.status
  write, and appends every transition to the append-only activity log.

STATE MACHINE:
  idle <-> active        allocate / release only
  idle <-> maintenance   manual admin transitions
  active -> maintenance  forced (equipment failure mid-wash); the
                         orphaned active wash must be cancelled
                         separately by the wash coordinator
  active -> idle         ONLY via release

MUTUAL EXCLUSION:
  Allocation is a check-and-set: the store's CompareAndSetBayStatus
  either wins the idle->active transition or reports the bay taken.
  Combined with the per-bay keyed lock, two concurrent allocations on
  one bay can never both succeed.

SEE ALSO:
  - core/store.go: CompareAndSetBayStatus contract
  - wash/lifecycle.go: The allocate/release caller
*/
package bay

import (
	"context"

	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/metrics"
)

// Allocator owns all bay status writes.
type Allocator struct {
	store   core.Store
	clock   core.Clock
	ids     core.IDGenerator
	locks   *core.KeyedMutex
	metrics *metrics.Metrics
}

func NewAllocator(store core.Store, clock core.Clock, ids core.IDGenerator, locks *core.KeyedMutex, m *metrics.Metrics) *Allocator {
	return &Allocator{store: store, clock: clock, ids: ids, locks: locks, metrics: m}
}

// adminTransitions are the manual setBayStatus moves. Everything else
// goes through allocate/release.
var adminTransitions = map[core.BayStatus]map[core.BayStatus]bool{
	core.BayIdle:        {core.BayMaintenance: true},
	core.BayActive:      {core.BayMaintenance: true}, // forced, orphans the wash
	core.BayMaintenance: {core.BayIdle: true},
}

// =============================================================================
// ALLOCATION
// =============================================================================

// FindIdle returns the deterministic pick among the branch's idle bays:
// the lowest bay id. Maintenance bays are never eligible.
func (a *Allocator) FindIdle(ctx context.Context, s core.Store, branchID core.BranchID) (core.Bay, bool, error) {
	bays, err := s.ListBays(ctx, branchID) // ordered by id ascending
	if err != nil {
		return core.Bay{}, false, err
	}
	for _, b := range bays {
		if b.Status == core.BayIdle {
			return b, true, nil
		}
	}
	return core.Bay{}, false, nil
}

// AllocateIn transitions the bay idle -> active inside the caller's
// transaction. Fails with BayUnavailable when the bay is not idle at
// check-and-set time. The caller must hold the bay lock.
func (a *Allocator) AllocateIn(ctx context.Context, s core.Store, bayID core.BayID, actor, notes string) (core.Bay, error) {
	ok, err := s.CompareAndSetBayStatus(ctx, bayID, core.BayIdle, core.BayActive)
	if err != nil {
		return core.Bay{}, err
	}
	if !ok {
		current, err := s.GetBay(ctx, bayID)
		if err != nil {
			return core.Bay{}, err
		}
		return core.Bay{}, &core.StateConflictError{
			Op:     "bay.allocate",
			Entity: "bay",
			ID:     string(bayID),
			State:  string(current.Status),
			Err:    core.ErrBayUnavailable,
		}
	}

	if err := a.log(ctx, s, bayID, core.BayIdle, core.BayActive, actor, notes); err != nil {
		return core.Bay{}, err
	}
	b, err := s.GetBay(ctx, bayID)
	if err != nil {
		return core.Bay{}, err
	}
	a.metrics.BayAllocation(string(b.BranchID))
	return b, nil
}

// ReleaseIn transitions the bay active -> idle inside the caller's
// transaction. Releasing a bay that moved to maintenance mid-wash is a
// no-op with ok=false; the maintenance state stands.
func (a *Allocator) ReleaseIn(ctx context.Context, s core.Store, bayID core.BayID, actor, notes string) (bool, error) {
	ok, err := s.CompareAndSetBayStatus(ctx, bayID, core.BayActive, core.BayIdle)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := a.log(ctx, s, bayID, core.BayActive, core.BayIdle, actor, notes); err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// ADMIN TRANSITIONS
// =============================================================================

// SetStatus performs a manual admin transition, always logged with actor
// identity. Only the moves in adminTransitions are legal; in particular a
// bay can never be forced active, and active -> idle happens only via
// release.
func (a *Allocator) SetStatus(ctx context.Context, bayID core.BayID, to core.BayStatus, actor, notes string) (core.Bay, error) {
	if actor == "" {
		return core.Bay{}, &core.ValidationError{Field: "actor", Reason: "required"}
	}
	switch to {
	case core.BayIdle, core.BayActive, core.BayMaintenance:
	default:
		return core.Bay{}, &core.ValidationError{Field: "status", Reason: "unknown bay status"}
	}

	unlock := a.locks.Lock(core.BayLockKey(bayID))
	defer unlock()

	var bay core.Bay
	err := a.store.WithTx(ctx, func(s core.Store) error {
		current, err := s.GetBay(ctx, bayID)
		if err != nil {
			return err
		}
		if !adminTransitions[current.Status][to] {
			return &core.StateConflictError{
				Op:     "bay.set_status",
				Entity: "bay",
				ID:     string(bayID),
				State:  string(current.Status),
				Err:    core.ErrInvalidBayTransition,
			}
		}
		// A forced move off an active bay orphans its wash. Record which
		// one so the activity log shows what the coordinator must cancel.
		if current.Status == core.BayActive {
			w, err := s.ActiveWashForBay(ctx, bayID)
			switch {
			case err == nil:
				tag := "orphans wash " + string(w.ID)
				if notes == "" {
					notes = tag
				} else {
					notes = notes + "; " + tag
				}
			case !core.IsNotFound(err):
				return err
			}
		}
		if ok, err := s.CompareAndSetBayStatus(ctx, bayID, current.Status, to); err != nil {
			return err
		} else if !ok {
			return core.ErrConcurrencyConflict
		}
		if err := a.log(ctx, s, bayID, current.Status, to, actor, notes); err != nil {
			return err
		}
		bay, err = s.GetBay(ctx, bayID)
		return err
	})
	return bay, err
}

// SetMaintenance takes a bay out of rotation. Legal from idle and, as a
// forced move, from active.
func (a *Allocator) SetMaintenance(ctx context.Context, bayID core.BayID, actor, notes string) (core.Bay, error) {
	return a.SetStatus(ctx, bayID, core.BayMaintenance, actor, notes)
}

// ClearMaintenance returns a bay to rotation.
func (a *Allocator) ClearMaintenance(ctx context.Context, bayID core.BayID, actor, notes string) (core.Bay, error) {
	return a.SetStatus(ctx, bayID, core.BayIdle, actor, notes)
}

// ActivityLog returns the bay's append-only log, newest first.
func (a *Allocator) ActivityLog(ctx context.Context, bayID core.BayID) ([]core.BayActivityEntry, error) {
	if _, err := a.store.GetBay(ctx, bayID); err != nil {
		return nil, err
	}
	return a.store.BayActivity(ctx, bayID)
}

func (a *Allocator) log(ctx context.Context, s core.Store, bayID core.BayID, from, to core.BayStatus, actor, notes string) error {
	return s.AppendBayActivity(ctx, core.BayActivityEntry{
		ID:             a.ids.NewID(),
		BayID:          bayID,
		PreviousStatus: from,
		NewStatus:      to,
		Actor:          actor,
		Notes:          notes,
		ChangedAt:      a.clock.Now(),
	})
}

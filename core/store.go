/*
store.go - Persistence contracts for the wash engine

PURPOSE:
  Defines the interface between domain logic and the database. The engine
  depends on the store providing (a) atomic check-and-set on bay status
  and (b) transactional atomicity across the multi-entity updates the
  wash coordinator performs.

APPEND-ONLY CONTRACT:
  Two tables are append-only and expose no update or delete:
  - bay activity log (every bay status transition)
  - loyalty transactions (the points ledger)
  Corrections to the ledger are made via new adjustment rows, not edits.

TRANSACTIONS:
  WithTx executes a function against a transactional view of the store.
  If the function returns an error the whole transaction rolls back -
  no dangling Wash without its QueueEntry update, no bay marked active
  without a Wash.

IMPLEMENTATIONS:
  - store/memory: in-memory, snapshot-rollback transactions (tests/dev)
  - store/sqlite: durable WAL sqlite

SEE ALSO:
  - wash/lifecycle.go: The heaviest WithTx consumer
*/
package core

import "context"

// Store aggregates all persistence concerns. The transactional view passed
// to WithTx satisfies the same interface, so domain methods compose inside
// a coordinator transaction.
type Store interface {
	BranchStore
	BayStore
	QueueStore
	WashStore
	LoyaltyStore

	// WithTx executes fn against a transactional view. Rolls back if fn
	// returns an error, commits otherwise. Nested WithTx is not supported.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// BRANCH / PACKAGE / CUSTOMER
// =============================================================================

type BranchStore interface {
	GetBranch(ctx context.Context, id BranchID) (Branch, error)
	PutBranch(ctx context.Context, b Branch) error
	ListBranches(ctx context.Context) ([]Branch, error)

	GetPackage(ctx context.Context, id PackageID) (Package, error)
	PutPackage(ctx context.Context, p Package) error

	GetCustomer(ctx context.Context, id CustomerID) (Customer, error)
	PutCustomer(ctx context.Context, c Customer) error
}

// =============================================================================
// BAY
// =============================================================================

type BayStore interface {
	GetBay(ctx context.Context, id BayID) (Bay, error)
	PutBay(ctx context.Context, b Bay) error

	// ListBays returns the branch's bays ordered by id ascending. The
	// allocator relies on this ordering for its deterministic pick.
	ListBays(ctx context.Context, branchID BranchID) ([]Bay, error)

	// CompareAndSetBayStatus atomically transitions a bay from -> to.
	// Returns false (and no mutation) when the bay is not in from at
	// write time. This is the mutual-exclusion primitive for allocation.
	CompareAndSetBayStatus(ctx context.Context, id BayID, from, to BayStatus) (bool, error)

	// AppendBayActivity appends one row to the append-only activity log.
	AppendBayActivity(ctx context.Context, e BayActivityEntry) error

	// BayActivity returns the bay's log, newest first.
	BayActivity(ctx context.Context, id BayID) ([]BayActivityEntry, error)
}

// =============================================================================
// QUEUE
// =============================================================================

type QueueStore interface {
	CreateQueueEntry(ctx context.Context, e QueueEntry) error
	GetQueueEntry(ctx context.Context, id EntryID) (QueueEntry, error)
	PutQueueEntry(ctx context.Context, e QueueEntry) error

	// WaitingEntries returns the branch's waiting entries ordered by
	// position ascending.
	WaitingEntries(ctx context.Context, branchID BranchID) ([]QueueEntry, error)

	// MaxWaitingPosition returns the highest position among waiting
	// entries in the branch, 0 when the queue is empty.
	MaxWaitingPosition(ctx context.Context, branchID BranchID) (int, error)

	// CountInProgress returns the number of in-progress entries and the
	// lowest position among them (0 when none). Feeds the status snapshot.
	CountInProgress(ctx context.Context, branchID BranchID) (count, lowestPosition int, err error)
}

// =============================================================================
// WASH
// =============================================================================

type WashStore interface {
	CreateWash(ctx context.Context, w Wash) error
	GetWash(ctx context.Context, id WashID) (Wash, error)
	PutWash(ctx context.Context, w Wash) error

	// ActiveWashForBay returns the active wash referencing the bay, or
	// ErrNotFound. At most one can exist.
	ActiveWashForBay(ctx context.Context, id BayID) (Wash, error)
}

// =============================================================================
// LOYALTY
// =============================================================================

type LoyaltyStore interface {
	// GetAccount returns the customer's account or ErrNotFound.
	GetAccount(ctx context.Context, id CustomerID) (LoyaltyAccount, error)

	// PutAccount creates or updates the materialized account row.
	PutAccount(ctx context.Context, a LoyaltyAccount) error

	// AppendLoyaltyTransaction appends one ledger row. Append-only.
	AppendLoyaltyTransaction(ctx context.Context, tx LoyaltyTransaction) error

	// LoyaltyTransactions returns the customer's ledger, newest first.
	LoyaltyTransactions(ctx context.Context, id CustomerID) ([]LoyaltyTransaction, error)
}

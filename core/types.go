/*
Package core provides the shared kernel of the wash engine.

PURPOSE:
  This package contains the entity types, state enums, and collaborator
  contracts shared by the queue, bay, loyalty, and wash packages. It has
  no business logic of its own - the domain packages own the transitions,
  this package owns the vocabulary.

KEY CONCEPTS IN THIS FILE (types.go):
  - Branch/Bay/QueueEntry/Wash: the operational entities
  - LoyaltyAccount/LoyaltyTransaction: the points ledger entities
  - Status enums: the state machines the domain packages enforce
  - Tier: loyalty membership level, ordered bronze < silver < gold < platinum

DESIGN PRINCIPLES:
  1. Entities are plain data. Invariants live in the owning package:
     queue owns position writes, bay owns bay status writes, wash owns
     wash status writes, loyalty owns account/transaction writes.
  2. Money uses decimal.Decimal to avoid floating-point errors.
  3. Timestamps are always UTC, read through an injectable Clock.
  4. Type-safe identifiers prevent mixing a BayID with an EntryID.

SEE ALSO:
  - errors.go: Error taxonomy
  - store.go: Persistence contracts
  - clock.go: Clock and ID generation abstractions
*/
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BranchID string
type BayID string
type EntryID string
type WashID string
type CustomerID string
type PackageID string

// =============================================================================
// BRANCH - A physical car-wash location
// =============================================================================

// Branch owns bays, queue entries, and washes. A branch referenced by
// historical records is never deleted; deactivation is the only way out.
type Branch struct {
	ID     BranchID
	Code   string // short public code used on join links/signage
	Name   string
	Active bool
}

// Package is a wash service offering. Price is captured onto the Wash at
// creation time; later price edits never touch historical washes.
type Package struct {
	ID              PackageID
	Name            string
	Price           decimal.Decimal
	DurationMinutes int
	Active          bool
}

// Customer identifies a vehicle owner. Registered customers have a loyalty
// account; walk-ins do not.
type Customer struct {
	ID         CustomerID
	Name       string
	Phone      string
	Registered bool
}

// =============================================================================
// BAY - A physical wash stall
// =============================================================================

type BayStatus string

const (
	BayIdle        BayStatus = "idle"
	BayActive      BayStatus = "active"
	BayMaintenance BayStatus = "maintenance"
)

// Bay belongs to exactly one branch. At most one active Wash may reference
// a bay at any instant; the bay package enforces this via check-and-set.
type Bay struct {
	ID       BayID
	BranchID BranchID
	Name     string
	Status   BayStatus
}

// BayActivityEntry is one row of the append-only bay activity log.
// Rows are never mutated or deleted.
type BayActivityEntry struct {
	ID             string
	BayID          BayID
	PreviousStatus BayStatus
	NewStatus      BayStatus
	Actor          string
	Notes          string
	ChangedAt      time.Time
}

// =============================================================================
// QUEUE ENTRY - A customer's place in a branch's waiting line
// =============================================================================

type EntryStatus string

const (
	EntryWaiting    EntryStatus = "waiting"
	EntryInProgress EntryStatus = "in_progress"
	EntryCompleted  EntryStatus = "completed"
	EntryCancelled  EntryStatus = "cancelled"
)

// QueueEntry holds a position in a branch's waiting line. Among entries
// currently waiting in a branch, positions are unique and dense (1..n,
// ascending = serve order). The queue package owns all position writes.
//
// NotifiedAt records when the approach notification last fired for this
// entry; the dedup store enforces the suppression window, this field makes
// the fact visible on the entity.
type QueueEntry struct {
	ID          EntryID
	BranchID    BranchID
	CustomerID  CustomerID // empty for anonymous walk-ins
	PackageID   PackageID  // empty when undecided at join time
	PlateNumber string
	Position    int
	Status      EntryStatus
	JoinedAt    time.Time
	StartedAt   time.Time // zero until the entry advances
	CompletedAt time.Time // zero until completed or cancelled
	NotifiedAt  time.Time // zero until the approach notification fires
}

// =============================================================================
// WASH - One service execution bound to a bay
// =============================================================================

type WashStatus string

const (
	WashActive    WashStatus = "active"
	WashCompleted WashStatus = "completed"
	WashCancelled WashStatus = "cancelled"
)

// Wash binds a queue entry (optional for skip-queue washes), a bay, a
// branch, and optionally a customer and package. TotalAmount is fixed from
// the package price at creation and never recalculated.
type Wash struct {
	ID          WashID
	EntryID     EntryID // empty for skip-queue washes
	BayID       BayID
	BranchID    BranchID
	CustomerID  CustomerID
	PackageID   PackageID
	TotalAmount decimal.Decimal
	SkipQueue   bool // true when created without a queue entry (e.g. appointment conversion)
	Status      WashStatus
	StartedAt   time.Time
	CompletedAt time.Time
}

// =============================================================================
// LOYALTY - Tiered points ledger entities
// =============================================================================

type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

var tierOrder = map[Tier]int{
	TierBronze:   0,
	TierSilver:   1,
	TierGold:     2,
	TierPlatinum: 3,
}

// Rank returns the ordinal of a tier (bronze=0 .. platinum=3).
// Unknown tiers rank as bronze.
func (t Tier) Rank() int { return tierOrder[t] }

// Above reports whether t outranks other. Used to enforce the
// never-downgrade rule.
func (t Tier) Above(other Tier) bool { return t.Rank() > other.Rank() }

// LoyaltyAccount is the materialized view of a customer's ledger.
// Points and LifetimePoints are caches that must always reconcile to the
// sum of transactions: Points = sum of all deltas, LifetimePoints = sum of
// positive deltas. LifetimePoints never decreases; Points never goes
// negative; Tier never downgrades.
type LoyaltyAccount struct {
	CustomerID     CustomerID
	Points         int64
	LifetimePoints int64
	Tier           Tier
}

type LoyaltyTxType string

const (
	LoyaltyEarned   LoyaltyTxType = "earned"
	LoyaltyRedeemed LoyaltyTxType = "redeemed"
	LoyaltyExpired  LoyaltyTxType = "expired"
	LoyaltyAdjusted LoyaltyTxType = "adjusted"
)

// LoyaltyTransaction is one row of the append-only points ledger.
// The ledger is the source of truth; accounts are derived.
type LoyaltyTransaction struct {
	ID             string
	CustomerID     CustomerID
	Type           LoyaltyTxType
	Points         int64 // signed delta
	Description    string
	WashID         WashID // optional reference
	AppointmentRef string // optional reference
	CreatedAt      time.Time
}

// =============================================================================
// QUEUE STATUS SNAPSHOT - Per-branch live stats
// =============================================================================

// QueueStatus is the read-model for a branch's live queue. Wait estimates
// use the operational rule of thumb of 20 minutes per position ahead.
type QueueStatus struct {
	BranchID           BranchID
	NowServing         int // lowest position among in-progress entries, 0 if none
	TotalWaiting       int
	InProgress         int
	AvailableBays      int
	AverageWaitMinutes int // mean time waiting entries have been in line
}

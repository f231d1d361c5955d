/*
ledger.go - Stateful loyalty operations

PURPOSE:
  Award, redeem, and adjust points against the append-only transaction
  ledger, keeping the materialized account row in sync and applying tier
  upgrades.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: ledger rows are never edited or deleted.
  2. RECONCILIATION: points == sum of all deltas;
     lifetime_points == sum of positive deltas. Always.
  3. MONOTONIC TIER: recomputed tier is applied only when strictly
     higher than the current one.
  4. points >= 0 at all times; a redemption that would breach this
     fails with InsufficientPoints and mutates nothing.

CONCURRENCY:
  Mutations serialize per customer account via the keyed mutex; the
  store transaction makes the ledger append and the account update
  atomic. Concurrent award/redeem on one account cannot lose updates.

SEE ALSO:
  - tiers.go: Pure tier math
  - core/store.go: LoyaltyStore contract
*/
package loyalty

import (
	"context"
	"strings"

	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/metrics"
)

// Ledger owns all LoyaltyAccount and LoyaltyTransaction writes. Only the
// wash coordinator and the admin API call into it.
type Ledger struct {
	store   core.Store
	clock   core.Clock
	ids     core.IDGenerator
	locks   *core.KeyedMutex
	metrics *metrics.Metrics
}

func NewLedger(store core.Store, clock core.Clock, ids core.IDGenerator, locks *core.KeyedMutex, m *metrics.Metrics) *Ledger {
	return &Ledger{store: store, clock: clock, ids: ids, locks: locks, metrics: m}
}

// =============================================================================
// AWARD
// =============================================================================

// Award appends an earned transaction and credits both points and
// lifetime points, then applies any tier upgrade.
func (l *Ledger) Award(ctx context.Context, customerID core.CustomerID, points int64, description string, washID core.WashID, appointmentRef string) (core.LoyaltyAccount, error) {
	if err := validateCustomer(customerID); err != nil {
		return core.LoyaltyAccount{}, err
	}
	unlock := l.locks.Lock(core.AccountLockKey(customerID))
	defer unlock()

	var account core.LoyaltyAccount
	err := l.store.WithTx(ctx, func(s core.Store) error {
		var err error
		account, err = l.AwardIn(ctx, s, customerID, points, description, washID, appointmentRef)
		return err
	})
	return account, err
}

// AwardIn is Award inside a caller-managed transaction. The caller must
// hold the account lock; the wash coordinator uses this to make the award
// atomic with wash completion.
func (l *Ledger) AwardIn(ctx context.Context, s core.Store, customerID core.CustomerID, points int64, description string, washID core.WashID, appointmentRef string) (core.LoyaltyAccount, error) {
	if points <= 0 {
		return core.LoyaltyAccount{}, &core.ValidationError{Field: "points", Reason: "must be positive"}
	}

	account, err := l.getOrCreate(ctx, s, customerID)
	if err != nil {
		return core.LoyaltyAccount{}, err
	}

	if err := s.AppendLoyaltyTransaction(ctx, core.LoyaltyTransaction{
		ID:             l.ids.NewID(),
		CustomerID:     customerID,
		Type:           core.LoyaltyEarned,
		Points:         points,
		Description:    description,
		WashID:         washID,
		AppointmentRef: appointmentRef,
		CreatedAt:      l.clock.Now(),
	}); err != nil {
		return core.LoyaltyAccount{}, err
	}

	account.Points += points
	account.LifetimePoints += points
	// Upgrade only; TierFor may say bronze for a gold account after an
	// adjustment and we keep gold.
	if next := TierFor(account.LifetimePoints); next.Above(account.Tier) {
		account.Tier = next
	}
	if err := s.PutAccount(ctx, account); err != nil {
		return core.LoyaltyAccount{}, err
	}

	l.metrics.PointsAwarded(string(account.Tier), points)
	return account, nil
}

// =============================================================================
// REDEEM
// =============================================================================

// Redeem spends points and returns a discount code. Lifetime points are
// untouched: redemption never lowers tier eligibility.
func (l *Ledger) Redeem(ctx context.Context, customerID core.CustomerID, points int64, description string) (core.LoyaltyAccount, string, error) {
	if err := validateCustomer(customerID); err != nil {
		return core.LoyaltyAccount{}, "", err
	}
	if points <= 0 {
		return core.LoyaltyAccount{}, "", &core.ValidationError{Field: "points", Reason: "must be positive"}
	}

	unlock := l.locks.Lock(core.AccountLockKey(customerID))
	defer unlock()

	var account core.LoyaltyAccount
	err := l.store.WithTx(ctx, func(s core.Store) error {
		var err error
		account, err = l.getOrCreate(ctx, s, customerID)
		if err != nil {
			return err
		}
		if points > account.Points {
			return &core.InsufficientPointsError{
				CustomerID: customerID,
				Available:  account.Points,
				Requested:  points,
			}
		}
		if err := s.AppendLoyaltyTransaction(ctx, core.LoyaltyTransaction{
			ID:          l.ids.NewID(),
			CustomerID:  customerID,
			Type:        core.LoyaltyRedeemed,
			Points:      -points,
			Description: description,
			CreatedAt:   l.clock.Now(),
		}); err != nil {
			return err
		}
		account.Points -= points
		return s.PutAccount(ctx, account)
	})
	if err != nil {
		return core.LoyaltyAccount{}, "", err
	}

	return account, l.discountCode(), nil
}

// discountCode derives a redemption code from the injected ID generator.
func (l *Ledger) discountCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(l.ids.NewID(), "-", ""))
	if len(raw) > 8 {
		raw = raw[:8]
	}
	return "LOYALTY" + raw
}

// =============================================================================
// ADJUST / EXPIRE
// =============================================================================

// Adjust applies a signed manual correction. Lifetime points move only on
// positive adjustments - a clawback removes spendable points but cannot
// rewrite earning history.
func (l *Ledger) Adjust(ctx context.Context, customerID core.CustomerID, delta int64, description string) (core.LoyaltyAccount, error) {
	if err := validateCustomer(customerID); err != nil {
		return core.LoyaltyAccount{}, err
	}
	if delta == 0 {
		return core.LoyaltyAccount{}, &core.ValidationError{Field: "points", Reason: "must be non-zero"}
	}

	unlock := l.locks.Lock(core.AccountLockKey(customerID))
	defer unlock()

	var account core.LoyaltyAccount
	err := l.store.WithTx(ctx, func(s core.Store) error {
		var err error
		account, err = l.getOrCreate(ctx, s, customerID)
		if err != nil {
			return err
		}
		if delta < 0 && account.Points+delta < 0 {
			return &core.InsufficientPointsError{
				CustomerID: customerID,
				Available:  account.Points,
				Requested:  -delta,
			}
		}
		if err := s.AppendLoyaltyTransaction(ctx, core.LoyaltyTransaction{
			ID:          l.ids.NewID(),
			CustomerID:  customerID,
			Type:        core.LoyaltyAdjusted,
			Points:      delta,
			Description: description,
			CreatedAt:   l.clock.Now(),
		}); err != nil {
			return err
		}
		account.Points += delta
		if delta > 0 {
			account.LifetimePoints += delta
			if next := TierFor(account.LifetimePoints); next.Above(account.Tier) {
				account.Tier = next
			}
		}
		return s.PutAccount(ctx, account)
	})
	return account, err
}

// Expire removes spendable points with an expired transaction. Like
// redemption it never touches lifetime points.
func (l *Ledger) Expire(ctx context.Context, customerID core.CustomerID, points int64, description string) (core.LoyaltyAccount, error) {
	if err := validateCustomer(customerID); err != nil {
		return core.LoyaltyAccount{}, err
	}
	if points <= 0 {
		return core.LoyaltyAccount{}, &core.ValidationError{Field: "points", Reason: "must be positive"}
	}

	unlock := l.locks.Lock(core.AccountLockKey(customerID))
	defer unlock()

	var account core.LoyaltyAccount
	err := l.store.WithTx(ctx, func(s core.Store) error {
		var err error
		account, err = l.getOrCreate(ctx, s, customerID)
		if err != nil {
			return err
		}
		expire := points
		if expire > account.Points {
			expire = account.Points
		}
		if expire == 0 {
			return nil
		}
		if err := s.AppendLoyaltyTransaction(ctx, core.LoyaltyTransaction{
			ID:          l.ids.NewID(),
			CustomerID:  customerID,
			Type:        core.LoyaltyExpired,
			Points:      -expire,
			Description: description,
			CreatedAt:   l.clock.Now(),
		}); err != nil {
			return err
		}
		account.Points -= expire
		return s.PutAccount(ctx, account)
	})
	return account, err
}

// =============================================================================
// READS
// =============================================================================

// Account returns the customer's account. A registered customer who never
// earned anything reads as a fresh bronze account.
func (l *Ledger) Account(ctx context.Context, customerID core.CustomerID) (core.LoyaltyAccount, error) {
	account, err := l.store.GetAccount(ctx, customerID)
	if core.IsNotFound(err) {
		return freshAccount(customerID), nil
	}
	return account, err
}

// TierProgress reports where the customer sits within the current tier band.
func (l *Ledger) TierProgress(ctx context.Context, customerID core.CustomerID) (Progress, error) {
	account, err := l.Account(ctx, customerID)
	if err != nil {
		return Progress{}, err
	}
	return ProgressFor(account), nil
}

// History returns the customer's ledger, newest first.
func (l *Ledger) History(ctx context.Context, customerID core.CustomerID) ([]core.LoyaltyTransaction, error) {
	return l.store.LoyaltyTransactions(ctx, customerID)
}

// ReconcileReport compares the cached account sums against the ledger.
type ReconcileReport struct {
	Account        core.LoyaltyAccount
	LedgerPoints   int64 // sum of all deltas
	LedgerLifetime int64 // sum of positive deltas
	PointsMatch    bool
	LifetimeMatch  bool
}

// Reconcile recomputes the sums from the ledger. Drift indicates a bug;
// the ledger is the source of truth.
func (l *Ledger) Reconcile(ctx context.Context, customerID core.CustomerID) (ReconcileReport, error) {
	account, err := l.Account(ctx, customerID)
	if err != nil {
		return ReconcileReport{}, err
	}
	txs, err := l.store.LoyaltyTransactions(ctx, customerID)
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{Account: account}
	for _, tx := range txs {
		report.LedgerPoints += tx.Points
		if tx.Points > 0 {
			report.LedgerLifetime += tx.Points
		}
	}
	report.PointsMatch = report.LedgerPoints == account.Points
	report.LifetimeMatch = report.LedgerLifetime == account.LifetimePoints
	return report, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (l *Ledger) getOrCreate(ctx context.Context, s core.Store, customerID core.CustomerID) (core.LoyaltyAccount, error) {
	account, err := s.GetAccount(ctx, customerID)
	if core.IsNotFound(err) {
		return freshAccount(customerID), nil
	}
	return account, err
}

func freshAccount(customerID core.CustomerID) core.LoyaltyAccount {
	return core.LoyaltyAccount{CustomerID: customerID, Tier: core.TierBronze}
}

func validateCustomer(id core.CustomerID) error {
	if id == "" {
		return &core.ValidationError{Field: "customer_id", Reason: "required"}
	}
	return nil
}

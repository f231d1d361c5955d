/*
Package memory provides the in-memory core.Store implementation.

Used by tests and development. Transactions are simulated with a full
snapshot and restore-on-error under the store mutex, which also gives
WithTx the serializability the engine's invariants assume.
*/
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/washywashy/wash-engine/core"
)

// Store is the in-memory implementation of core.Store.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	branches   map[core.BranchID]core.Branch
	packages   map[core.PackageID]core.Package
	customers  map[core.CustomerID]core.Customer
	bays       map[core.BayID]core.Bay
	bayLog     []core.BayActivityEntry
	entries    map[core.EntryID]core.QueueEntry
	washes     map[core.WashID]core.Wash
	accounts   map[core.CustomerID]core.LoyaltyAccount
	loyaltyLog []core.LoyaltyTransaction
}

func New() *Store {
	return &Store{st: newState()}
}

func newState() *state {
	return &state{
		branches:  make(map[core.BranchID]core.Branch),
		packages:  make(map[core.PackageID]core.Package),
		customers: make(map[core.CustomerID]core.Customer),
		bays:      make(map[core.BayID]core.Bay),
		entries:   make(map[core.EntryID]core.QueueEntry),
		washes:    make(map[core.WashID]core.Wash),
		accounts:  make(map[core.CustomerID]core.LoyaltyAccount),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.branches {
		c.branches[k] = v
	}
	for k, v := range s.packages {
		c.packages[k] = v
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.bays {
		c.bays[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.washes {
		c.washes[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	c.bayLog = append([]core.BayActivityEntry(nil), s.bayLog...)
	c.loyaltyLog = append([]core.LoyaltyTransaction(nil), s.loyaltyLog...)
	return c
}

// =============================================================================
// TRANSACTIONS - snapshot and restore-on-error
// =============================================================================

// WithTx runs fn against an unlocked view while holding the store mutex.
// On error the pre-transaction snapshot is restored.
func (m *Store) WithTx(ctx context.Context, fn func(core.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// txView exposes the state without locking; the parent holds the mutex
// for the duration of the transaction.
type txView struct {
	st *state
}

// WithTx on a view joins the enclosing transaction.
func (v *txView) WithTx(ctx context.Context, fn func(core.Store) error) error {
	return fn(v)
}

// =============================================================================
// LOCKED WRAPPERS
// =============================================================================

func (m *Store) GetBranch(ctx context.Context, id core.BranchID) (core.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).GetBranch(ctx, id)
}

func (m *Store) PutBranch(ctx context.Context, b core.Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{m.st}).PutBranch(ctx, b)
}

func (m *Store) ListBranches(ctx context.Context) ([]core.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).ListBranches(ctx)
}

func (m *Store) GetPackage(ctx context.Context, id core.PackageID) (core.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).GetPackage(ctx, id)
}

func (m *Store) PutPackage(ctx context.Context, p core.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{m.st}).PutPackage(ctx, p)
}

func (m *Store) GetCustomer(ctx context.Context, id core.CustomerID) (core.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).GetCustomer(ctx, id)
}

func (m *Store) PutCustomer(ctx context.Context, c core.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{m.st}).PutCustomer(ctx, c)
}

func (m *Store) GetBay(ctx context.Context, id core.BayID) (core.Bay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).GetBay(ctx, id)
}

func (m *Store) PutBay(ctx context.Context, b core.Bay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{m.st}).PutBay(ctx, b)
}

func (m *Store) ListBays(ctx context.Context, branchID core.BranchID) ([]core.Bay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).ListBays(ctx, branchID)
}

func (m *Store) CompareAndSetBayStatus(ctx context.Context, id core.BayID, from, to core.BayStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{m.st}).CompareAndSetBayStatus(ctx, id, from, to)
}

func (m *Store) AppendBayActivity(ctx context.Context, e core.BayActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{m.st}).AppendBayActivity(ctx, e)
}

func (m *Store) BayActivity(ctx context.Context, id core.BayID) ([]core.BayActivityEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).BayActivity(ctx, id)
}

func (m *Store) CreateQueueEntry(ctx context.Context, e core.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{m.st}).CreateQueueEntry(ctx, e)
}

func (m *Store) GetQueueEntry(ctx context.Context, id core.EntryID) (core.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).GetQueueEntry(ctx, id)
}

func (m *Store) PutQueueEntry(ctx context.Context, e core.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{m.st}).PutQueueEntry(ctx, e)
}

func (m *Store) WaitingEntries(ctx context.Context, branchID core.BranchID) ([]core.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).WaitingEntries(ctx, branchID)
}

func (m *Store) MaxWaitingPosition(ctx context.Context, branchID core.BranchID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).MaxWaitingPosition(ctx, branchID)
}

func (m *Store) CountInProgress(ctx context.Context, branchID core.BranchID) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).CountInProgress(ctx, branchID)
}

func (m *Store) CreateWash(ctx context.Context, w core.Wash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{m.st}).CreateWash(ctx, w)
}

func (m *Store) GetWash(ctx context.Context, id core.WashID) (core.Wash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).GetWash(ctx, id)
}

func (m *Store) PutWash(ctx context.Context, w core.Wash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{m.st}).PutWash(ctx, w)
}

func (m *Store) ActiveWashForBay(ctx context.Context, id core.BayID) (core.Wash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).ActiveWashForBay(ctx, id)
}

func (m *Store) GetAccount(ctx context.Context, id core.CustomerID) (core.LoyaltyAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).GetAccount(ctx, id)
}

func (m *Store) PutAccount(ctx context.Context, a core.LoyaltyAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{m.st}).PutAccount(ctx, a)
}

func (m *Store) AppendLoyaltyTransaction(ctx context.Context, tx core.LoyaltyTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&txView{m.st}).AppendLoyaltyTransaction(ctx, tx)
}

func (m *Store) LoyaltyTransactions(ctx context.Context, id core.CustomerID) ([]core.LoyaltyTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&txView{m.st}).LoyaltyTransactions(ctx, id)
}

// =============================================================================
// VIEW IMPLEMENTATION (no locking)
// =============================================================================

func (v *txView) GetBranch(_ context.Context, id core.BranchID) (core.Branch, error) {
	b, ok := v.st.branches[id]
	if !ok {
		return core.Branch{}, &core.NotFoundError{Entity: "branch", ID: string(id)}
	}
	return b, nil
}

func (v *txView) PutBranch(_ context.Context, b core.Branch) error {
	v.st.branches[b.ID] = b
	return nil
}

func (v *txView) ListBranches(_ context.Context) ([]core.Branch, error) {
	out := make([]core.Branch, 0, len(v.st.branches))
	for _, b := range v.st.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) GetPackage(_ context.Context, id core.PackageID) (core.Package, error) {
	p, ok := v.st.packages[id]
	if !ok {
		return core.Package{}, &core.NotFoundError{Entity: "package", ID: string(id)}
	}
	return p, nil
}

func (v *txView) PutPackage(_ context.Context, p core.Package) error {
	v.st.packages[p.ID] = p
	return nil
}

func (v *txView) GetCustomer(_ context.Context, id core.CustomerID) (core.Customer, error) {
	c, ok := v.st.customers[id]
	if !ok {
		return core.Customer{}, &core.NotFoundError{Entity: "customer", ID: string(id)}
	}
	return c, nil
}

func (v *txView) PutCustomer(_ context.Context, c core.Customer) error {
	v.st.customers[c.ID] = c
	return nil
}

func (v *txView) GetBay(_ context.Context, id core.BayID) (core.Bay, error) {
	b, ok := v.st.bays[id]
	if !ok {
		return core.Bay{}, &core.NotFoundError{Entity: "bay", ID: string(id)}
	}
	return b, nil
}

func (v *txView) PutBay(_ context.Context, b core.Bay) error {
	v.st.bays[b.ID] = b
	return nil
}

func (v *txView) ListBays(_ context.Context, branchID core.BranchID) ([]core.Bay, error) {
	var out []core.Bay
	for _, b := range v.st.bays {
		if b.BranchID == branchID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) CompareAndSetBayStatus(_ context.Context, id core.BayID, from, to core.BayStatus) (bool, error) {
	b, ok := v.st.bays[id]
	if !ok {
		return false, &core.NotFoundError{Entity: "bay", ID: string(id)}
	}
	if b.Status != from {
		return false, nil
	}
	b.Status = to
	v.st.bays[id] = b
	return true, nil
}

func (v *txView) AppendBayActivity(_ context.Context, e core.BayActivityEntry) error {
	v.st.bayLog = append(v.st.bayLog, e)
	return nil
}

func (v *txView) BayActivity(_ context.Context, id core.BayID) ([]core.BayActivityEntry, error) {
	var out []core.BayActivityEntry
	// newest first
	for i := len(v.st.bayLog) - 1; i >= 0; i-- {
		if v.st.bayLog[i].BayID == id {
			out = append(out, v.st.bayLog[i])
		}
	}
	return out, nil
}

func (v *txView) CreateQueueEntry(_ context.Context, e core.QueueEntry) error {
	v.st.entries[e.ID] = e
	return nil
}

func (v *txView) GetQueueEntry(_ context.Context, id core.EntryID) (core.QueueEntry, error) {
	e, ok := v.st.entries[id]
	if !ok {
		return core.QueueEntry{}, &core.NotFoundError{Entity: "queue_entry", ID: string(id)}
	}
	return e, nil
}

func (v *txView) PutQueueEntry(_ context.Context, e core.QueueEntry) error {
	v.st.entries[e.ID] = e
	return nil
}

func (v *txView) WaitingEntries(_ context.Context, branchID core.BranchID) ([]core.QueueEntry, error) {
	var out []core.QueueEntry
	for _, e := range v.st.entries {
		if e.BranchID == branchID && e.Status == core.EntryWaiting {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (v *txView) MaxWaitingPosition(_ context.Context, branchID core.BranchID) (int, error) {
	max := 0
	for _, e := range v.st.entries {
		if e.BranchID == branchID && e.Status == core.EntryWaiting && e.Position > max {
			max = e.Position
		}
	}
	return max, nil
}

func (v *txView) CountInProgress(_ context.Context, branchID core.BranchID) (int, int, error) {
	count, lowest := 0, 0
	for _, e := range v.st.entries {
		if e.BranchID == branchID && e.Status == core.EntryInProgress {
			count++
			if lowest == 0 || e.Position < lowest {
				lowest = e.Position
			}
		}
	}
	return count, lowest, nil
}

func (v *txView) CreateWash(_ context.Context, w core.Wash) error {
	v.st.washes[w.ID] = w
	return nil
}

func (v *txView) GetWash(_ context.Context, id core.WashID) (core.Wash, error) {
	w, ok := v.st.washes[id]
	if !ok {
		return core.Wash{}, &core.NotFoundError{Entity: "wash", ID: string(id)}
	}
	return w, nil
}

func (v *txView) PutWash(_ context.Context, w core.Wash) error {
	v.st.washes[w.ID] = w
	return nil
}

func (v *txView) ActiveWashForBay(_ context.Context, id core.BayID) (core.Wash, error) {
	for _, w := range v.st.washes {
		if w.BayID == id && w.Status == core.WashActive {
			return w, nil
		}
	}
	return core.Wash{}, &core.NotFoundError{Entity: "wash", ID: "active for bay " + string(id)}
}

func (v *txView) GetAccount(_ context.Context, id core.CustomerID) (core.LoyaltyAccount, error) {
	a, ok := v.st.accounts[id]
	if !ok {
		return core.LoyaltyAccount{}, &core.NotFoundError{Entity: "loyalty_account", ID: string(id)}
	}
	return a, nil
}

func (v *txView) PutAccount(_ context.Context, a core.LoyaltyAccount) error {
	v.st.accounts[a.CustomerID] = a
	return nil
}

func (v *txView) AppendLoyaltyTransaction(_ context.Context, tx core.LoyaltyTransaction) error {
	v.st.loyaltyLog = append(v.st.loyaltyLog, tx)
	return nil
}

func (v *txView) LoyaltyTransactions(_ context.Context, id core.CustomerID) ([]core.LoyaltyTransaction, error) {
	var out []core.LoyaltyTransaction
	// newest first
	for i := len(v.st.loyaltyLog) - 1; i >= 0; i-- {
		if v.st.loyaltyLog[i].CustomerID == id {
			out = append(out, v.st.loyaltyLog[i])
		}
	}
	return out, nil
}

/*
Package sqlite provides the durable core.Store implementation.

PURPOSE:
  Implements every persistence contract of the engine on SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  Two tables expose no UPDATE and no DELETE:
  - bay_activity (every bay status transition)
  - loyalty_transactions (the points ledger)
  Corrections land as new adjustment rows.

CONCURRENCY:
  Opened in WAL mode so readers do not block the single writer. A
  sync.RWMutex above the connection serializes WithTx writers; the
  check-and-set on bay status is a conditional UPDATE so the race is
  also closed at the SQL level.

MIGRATION:
  Schema is auto-migrated on New(). For a larger deployment use a
  versioned migration tool instead.

SEE ALSO:
  - core/store.go: Interface contracts
  - store/memory: The in-memory twin used by tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/washywashy/wash-engine/core"
)

// Store implements core.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	querier
}

// querier is satisfied by both *sql.DB and *sql.Tx so the row-level
// methods work inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// ephemeral database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// go-sqlite3 handles cannot be shared across writing goroutines freely;
	// the engine's keyed locks plus this cap keep contention manageable.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	s.querier = db
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS packages (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		registered INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS bays (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bays_branch ON bays(branch_id);

	-- Append-only: no UPDATE, no DELETE.
	CREATE TABLE IF NOT EXISTS bay_activity (
		id TEXT PRIMARY KEY,
		bay_id TEXT NOT NULL,
		previous_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		actor TEXT NOT NULL,
		notes TEXT,
		changed_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bay_activity_bay
		ON bay_activity(bay_id, changed_at DESC);

	CREATE TABLE IF NOT EXISTS queue_entries (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL,
		customer_id TEXT,
		package_id TEXT,
		plate_number TEXT NOT NULL,
		position INTEGER NOT NULL,
		status TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		notified_at TEXT
	);
	-- Hot path: waiting set ordered by position.
	CREATE INDEX IF NOT EXISTS idx_queue_branch_status_position
		ON queue_entries(branch_id, status, position);

	CREATE TABLE IF NOT EXISTS washes (
		id TEXT PRIMARY KEY,
		entry_id TEXT,
		bay_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		customer_id TEXT,
		package_id TEXT,
		total_amount TEXT NOT NULL,
		skip_queue INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_washes_bay_status ON washes(bay_id, status);

	CREATE TABLE IF NOT EXISTS loyalty_accounts (
		customer_id TEXT PRIMARY KEY,
		points INTEGER NOT NULL DEFAULT 0,
		lifetime_points INTEGER NOT NULL DEFAULT 0,
		tier TEXT NOT NULL DEFAULT 'bronze'
	);

	-- Append-only: no UPDATE, no DELETE.
	CREATE TABLE IF NOT EXISTS loyalty_transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		points INTEGER NOT NULL,
		description TEXT,
		wash_id TEXT,
		appointment_ref TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loyalty_tx_customer
		ON loyalty_transactions(customer_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a *sql.Tx-backed view. Commit on nil, rollback
// otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(core.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	view := &txStore{querier: tx}
	if err := fn(view); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore is the transactional view. It shares the row-level methods
// with Store through the embedded querier.
type txStore struct {
	querier
}

// WithTx on a view joins the enclosing transaction.
func (t *txStore) WithTx(ctx context.Context, fn func(core.Store) error) error {
	return fn(t)
}

// =============================================================================
// TIME / NULL HELPERS
// =============================================================================

func fmtTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func str(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

// =============================================================================
// BRANCH / PACKAGE / CUSTOMER
// =============================================================================

func (s *Store) GetBranch(ctx context.Context, id core.BranchID) (core.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBranch(ctx, s.querier, id)
}

func (t *txStore) GetBranch(ctx context.Context, id core.BranchID) (core.Branch, error) {
	return getBranch(ctx, t.querier, id)
}

func getBranch(ctx context.Context, q querier, id core.BranchID) (core.Branch, error) {
	var b core.Branch
	var active int
	err := q.QueryRowContext(ctx,
		`SELECT id, code, name, active FROM branches WHERE id = ?`, string(id)).
		Scan(&b.ID, &b.Code, &b.Name, &active)
	if err == sql.ErrNoRows {
		return core.Branch{}, &core.NotFoundError{Entity: "branch", ID: string(id)}
	}
	if err != nil {
		return core.Branch{}, fmt.Errorf("get branch: %w", err)
	}
	b.Active = active != 0
	return b, nil
}

func (s *Store) PutBranch(ctx context.Context, b core.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putBranch(ctx, s.querier, b)
}

func (t *txStore) PutBranch(ctx context.Context, b core.Branch) error {
	return putBranch(ctx, t.querier, b)
}

func putBranch(ctx context.Context, q querier, b core.Branch) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO branches (id, code, name, active) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET code=excluded.code, name=excluded.name, active=excluded.active`,
		string(b.ID), b.Code, b.Name, boolInt(b.Active))
	if err != nil {
		return fmt.Errorf("put branch: %w", err)
	}
	return nil
}

func (s *Store) ListBranches(ctx context.Context) ([]core.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBranches(ctx, s.querier)
}

func (t *txStore) ListBranches(ctx context.Context) ([]core.Branch, error) {
	return listBranches(ctx, t.querier)
}

func listBranches(ctx context.Context, q querier) ([]core.Branch, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, code, name, active FROM branches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var out []core.Branch
	for rows.Next() {
		var b core.Branch
		var active int
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &active); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		b.Active = active != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetPackage(ctx context.Context, id core.PackageID) (core.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPackage(ctx, s.querier, id)
}

func (t *txStore) GetPackage(ctx context.Context, id core.PackageID) (core.Package, error) {
	return getPackage(ctx, t.querier, id)
}

func getPackage(ctx context.Context, q querier, id core.PackageID) (core.Package, error) {
	var p core.Package
	var price string
	var active int
	err := q.QueryRowContext(ctx,
		`SELECT id, name, price, duration_minutes, active FROM packages WHERE id = ?`, string(id)).
		Scan(&p.ID, &p.Name, &price, &p.DurationMinutes, &active)
	if err == sql.ErrNoRows {
		return core.Package{}, &core.NotFoundError{Entity: "package", ID: string(id)}
	}
	if err != nil {
		return core.Package{}, fmt.Errorf("get package: %w", err)
	}
	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return core.Package{}, fmt.Errorf("parse package price: %w", err)
	}
	p.Active = active != 0
	return p, nil
}

func (s *Store) PutPackage(ctx context.Context, p core.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putPackage(ctx, s.querier, p)
}

func (t *txStore) PutPackage(ctx context.Context, p core.Package) error {
	return putPackage(ctx, t.querier, p)
}

func putPackage(ctx context.Context, q querier, p core.Package) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO packages (id, name, price, duration_minutes, active) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, price=excluded.price,
			duration_minutes=excluded.duration_minutes, active=excluded.active`,
		string(p.ID), p.Name, p.Price.String(), p.DurationMinutes, boolInt(p.Active))
	if err != nil {
		return fmt.Errorf("put package: %w", err)
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id core.CustomerID) (core.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCustomer(ctx, s.querier, id)
}

func (t *txStore) GetCustomer(ctx context.Context, id core.CustomerID) (core.Customer, error) {
	return getCustomer(ctx, t.querier, id)
}

func getCustomer(ctx context.Context, q querier, id core.CustomerID) (core.Customer, error) {
	var c core.Customer
	var phone sql.NullString
	var registered int
	err := q.QueryRowContext(ctx,
		`SELECT id, name, phone, registered FROM customers WHERE id = ?`, string(id)).
		Scan(&c.ID, &c.Name, &phone, &registered)
	if err == sql.ErrNoRows {
		return core.Customer{}, &core.NotFoundError{Entity: "customer", ID: string(id)}
	}
	if err != nil {
		return core.Customer{}, fmt.Errorf("get customer: %w", err)
	}
	c.Phone = str(phone)
	c.Registered = registered != 0
	return c, nil
}

func (s *Store) PutCustomer(ctx context.Context, c core.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putCustomer(ctx, s.querier, c)
}

func (t *txStore) PutCustomer(ctx context.Context, c core.Customer) error {
	return putCustomer(ctx, t.querier, c)
}

func putCustomer(ctx context.Context, q querier, c core.Customer) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, registered) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, phone=excluded.phone,
			registered=excluded.registered`,
		string(c.ID), c.Name, nullable(c.Phone), boolInt(c.Registered))
	if err != nil {
		return fmt.Errorf("put customer: %w", err)
	}
	return nil
}

// =============================================================================
// BAY
// =============================================================================

func (s *Store) GetBay(ctx context.Context, id core.BayID) (core.Bay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBay(ctx, s.querier, id)
}

func (t *txStore) GetBay(ctx context.Context, id core.BayID) (core.Bay, error) {
	return getBay(ctx, t.querier, id)
}

func getBay(ctx context.Context, q querier, id core.BayID) (core.Bay, error) {
	var b core.Bay
	err := q.QueryRowContext(ctx,
		`SELECT id, branch_id, name, status FROM bays WHERE id = ?`, string(id)).
		Scan(&b.ID, &b.BranchID, &b.Name, &b.Status)
	if err == sql.ErrNoRows {
		return core.Bay{}, &core.NotFoundError{Entity: "bay", ID: string(id)}
	}
	if err != nil {
		return core.Bay{}, fmt.Errorf("get bay: %w", err)
	}
	return b, nil
}

func (s *Store) PutBay(ctx context.Context, b core.Bay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putBay(ctx, s.querier, b)
}

func (t *txStore) PutBay(ctx context.Context, b core.Bay) error {
	return putBay(ctx, t.querier, b)
}

func putBay(ctx context.Context, q querier, b core.Bay) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bays (id, branch_id, name, status) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET branch_id=excluded.branch_id, name=excluded.name,
			status=excluded.status`,
		string(b.ID), string(b.BranchID), b.Name, string(b.Status))
	if err != nil {
		return fmt.Errorf("put bay: %w", err)
	}
	return nil
}

func (s *Store) ListBays(ctx context.Context, branchID core.BranchID) ([]core.Bay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBays(ctx, s.querier, branchID)
}

func (t *txStore) ListBays(ctx context.Context, branchID core.BranchID) ([]core.Bay, error) {
	return listBays(ctx, t.querier, branchID)
}

func listBays(ctx context.Context, q querier, branchID core.BranchID) ([]core.Bay, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, branch_id, name, status FROM bays WHERE branch_id = ? ORDER BY id`,
		string(branchID))
	if err != nil {
		return nil, fmt.Errorf("list bays: %w", err)
	}
	defer rows.Close()

	var out []core.Bay
	for rows.Next() {
		var b core.Bay
		if err := rows.Scan(&b.ID, &b.BranchID, &b.Name, &b.Status); err != nil {
			return nil, fmt.Errorf("scan bay: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) CompareAndSetBayStatus(ctx context.Context, id core.BayID, from, to core.BayStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return casBayStatus(ctx, s.querier, id, from, to)
}

func (t *txStore) CompareAndSetBayStatus(ctx context.Context, id core.BayID, from, to core.BayStatus) (bool, error) {
	return casBayStatus(ctx, t.querier, id, from, to)
}

// casBayStatus is the conditional UPDATE the allocator's mutual
// exclusion relies on: zero rows affected means the bay was not in the
// expected state at write time.
func casBayStatus(ctx context.Context, q querier, id core.BayID, from, to core.BayStatus) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE bays SET status = ? WHERE id = ? AND status = ?`,
		string(to), string(id), string(from))
	if err != nil {
		return false, fmt.Errorf("compare-and-set bay status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("compare-and-set bay status: %w", err)
	}
	if n == 0 {
		// Distinguish "wrong state" from "no such bay".
		if _, err := getBay(ctx, q, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) AppendBayActivity(ctx context.Context, e core.BayActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendBayActivity(ctx, s.querier, e)
}

func (t *txStore) AppendBayActivity(ctx context.Context, e core.BayActivityEntry) error {
	return appendBayActivity(ctx, t.querier, e)
}

func appendBayActivity(ctx context.Context, q querier, e core.BayActivityEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bay_activity (id, bay_id, previous_status, new_status, actor, notes, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.BayID), string(e.PreviousStatus), string(e.NewStatus),
		e.Actor, nullable(e.Notes), e.ChangedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append bay activity: %w", err)
	}
	return nil
}

func (s *Store) BayActivity(ctx context.Context, id core.BayID) ([]core.BayActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bayActivity(ctx, s.querier, id)
}

func (t *txStore) BayActivity(ctx context.Context, id core.BayID) ([]core.BayActivityEntry, error) {
	return bayActivity(ctx, t.querier, id)
}

func bayActivity(ctx context.Context, q querier, id core.BayID) ([]core.BayActivityEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, bay_id, previous_status, new_status, actor, notes, changed_at
		FROM bay_activity WHERE bay_id = ? ORDER BY changed_at DESC, id DESC`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("bay activity: %w", err)
	}
	defer rows.Close()

	var out []core.BayActivityEntry
	for rows.Next() {
		var e core.BayActivityEntry
		var notes, changedAt sql.NullString
		if err := rows.Scan(&e.ID, &e.BayID, &e.PreviousStatus, &e.NewStatus,
			&e.Actor, &notes, &changedAt); err != nil {
			return nil, fmt.Errorf("scan bay activity: %w", err)
		}
		e.Notes = str(notes)
		e.ChangedAt = parseTime(changedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// QUEUE
// =============================================================================

func (s *Store) CreateQueueEntry(ctx context.Context, e core.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeQueueEntry(ctx, s.querier, e)
}

func (t *txStore) CreateQueueEntry(ctx context.Context, e core.QueueEntry) error {
	return writeQueueEntry(ctx, t.querier, e)
}

func (s *Store) PutQueueEntry(ctx context.Context, e core.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeQueueEntry(ctx, s.querier, e)
}

func (t *txStore) PutQueueEntry(ctx context.Context, e core.QueueEntry) error {
	return writeQueueEntry(ctx, t.querier, e)
}

func writeQueueEntry(ctx context.Context, q querier, e core.QueueEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO queue_entries
			(id, branch_id, customer_id, package_id, plate_number, position, status,
			 joined_at, started_at, completed_at, notified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			position=excluded.position, status=excluded.status,
			started_at=excluded.started_at, completed_at=excluded.completed_at,
			notified_at=excluded.notified_at`,
		string(e.ID), string(e.BranchID), nullable(string(e.CustomerID)),
		nullable(string(e.PackageID)), e.PlateNumber, e.Position, string(e.Status),
		e.JoinedAt.UTC().Format(time.RFC3339Nano),
		fmtTime(e.StartedAt), fmtTime(e.CompletedAt), fmtTime(e.NotifiedAt))
	if err != nil {
		return fmt.Errorf("write queue entry: %w", err)
	}
	return nil
}

func (s *Store) GetQueueEntry(ctx context.Context, id core.EntryID) (core.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getQueueEntry(ctx, s.querier, id)
}

func (t *txStore) GetQueueEntry(ctx context.Context, id core.EntryID) (core.QueueEntry, error) {
	return getQueueEntry(ctx, t.querier, id)
}

const queueEntryCols = `id, branch_id, customer_id, package_id, plate_number,
	position, status, joined_at, started_at, completed_at, notified_at`

func getQueueEntry(ctx context.Context, q querier, id core.EntryID) (core.QueueEntry, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+queueEntryCols+` FROM queue_entries WHERE id = ?`, string(id))
	e, err := scanQueueEntryRow(row)
	if err == sql.ErrNoRows {
		return core.QueueEntry{}, &core.NotFoundError{Entity: "queue_entry", ID: string(id)}
	}
	if err != nil {
		return core.QueueEntry{}, fmt.Errorf("get queue entry: %w", err)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueEntryRow(r rowScanner) (core.QueueEntry, error) {
	var e core.QueueEntry
	var customerID, packageID, joinedAt, startedAt, completedAt, notifiedAt sql.NullString
	err := r.Scan(&e.ID, &e.BranchID, &customerID, &packageID, &e.PlateNumber,
		&e.Position, &e.Status, &joinedAt, &startedAt, &completedAt, &notifiedAt)
	if err != nil {
		return core.QueueEntry{}, err
	}
	e.CustomerID = core.CustomerID(str(customerID))
	e.PackageID = core.PackageID(str(packageID))
	e.JoinedAt = parseTime(joinedAt)
	e.StartedAt = parseTime(startedAt)
	e.CompletedAt = parseTime(completedAt)
	e.NotifiedAt = parseTime(notifiedAt)
	return e, nil
}

func (s *Store) WaitingEntries(ctx context.Context, branchID core.BranchID) ([]core.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return waitingEntries(ctx, s.querier, branchID)
}

func (t *txStore) WaitingEntries(ctx context.Context, branchID core.BranchID) ([]core.QueueEntry, error) {
	return waitingEntries(ctx, t.querier, branchID)
}

func waitingEntries(ctx context.Context, q querier, branchID core.BranchID) ([]core.QueueEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+queueEntryCols+` FROM queue_entries
		 WHERE branch_id = ? AND status = ? ORDER BY position`,
		string(branchID), string(core.EntryWaiting))
	if err != nil {
		return nil, fmt.Errorf("waiting entries: %w", err)
	}
	defer rows.Close()

	var out []core.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MaxWaitingPosition(ctx context.Context, branchID core.BranchID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maxWaitingPosition(ctx, s.querier, branchID)
}

func (t *txStore) MaxWaitingPosition(ctx context.Context, branchID core.BranchID) (int, error) {
	return maxWaitingPosition(ctx, t.querier, branchID)
}

func maxWaitingPosition(ctx context.Context, q querier, branchID core.BranchID) (int, error) {
	var max int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM queue_entries
		 WHERE branch_id = ? AND status = ?`,
		string(branchID), string(core.EntryWaiting)).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max waiting position: %w", err)
	}
	return max, nil
}

func (s *Store) CountInProgress(ctx context.Context, branchID core.BranchID) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countInProgress(ctx, s.querier, branchID)
}

func (t *txStore) CountInProgress(ctx context.Context, branchID core.BranchID) (int, int, error) {
	return countInProgress(ctx, t.querier, branchID)
}

func countInProgress(ctx context.Context, q querier, branchID core.BranchID) (int, int, error) {
	var count, lowest int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MIN(position), 0) FROM queue_entries
		 WHERE branch_id = ? AND status = ?`,
		string(branchID), string(core.EntryInProgress)).Scan(&count, &lowest)
	if err != nil {
		return 0, 0, fmt.Errorf("count in progress: %w", err)
	}
	return count, lowest, nil
}

// =============================================================================
// WASH
// =============================================================================

func (s *Store) CreateWash(ctx context.Context, w core.Wash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeWash(ctx, s.querier, w)
}

func (t *txStore) CreateWash(ctx context.Context, w core.Wash) error {
	return writeWash(ctx, t.querier, w)
}

func (s *Store) PutWash(ctx context.Context, w core.Wash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeWash(ctx, s.querier, w)
}

func (t *txStore) PutWash(ctx context.Context, w core.Wash) error {
	return writeWash(ctx, t.querier, w)
}

func writeWash(ctx context.Context, q querier, w core.Wash) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO washes
			(id, entry_id, bay_id, branch_id, customer_id, package_id,
			 total_amount, skip_queue, status, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, completed_at=excluded.completed_at`,
		string(w.ID), nullable(string(w.EntryID)), string(w.BayID), string(w.BranchID),
		nullable(string(w.CustomerID)), nullable(string(w.PackageID)),
		w.TotalAmount.String(), boolInt(w.SkipQueue), string(w.Status),
		w.StartedAt.UTC().Format(time.RFC3339Nano), fmtTime(w.CompletedAt))
	if err != nil {
		return fmt.Errorf("write wash: %w", err)
	}
	return nil
}

const washCols = `id, entry_id, bay_id, branch_id, customer_id, package_id,
	total_amount, skip_queue, status, started_at, completed_at`

func (s *Store) GetWash(ctx context.Context, id core.WashID) (core.Wash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getWash(ctx, s.querier, id)
}

func (t *txStore) GetWash(ctx context.Context, id core.WashID) (core.Wash, error) {
	return getWash(ctx, t.querier, id)
}

func getWash(ctx context.Context, q querier, id core.WashID) (core.Wash, error) {
	row := q.QueryRowContext(ctx, `SELECT `+washCols+` FROM washes WHERE id = ?`, string(id))
	w, err := scanWashRow(row)
	if err == sql.ErrNoRows {
		return core.Wash{}, &core.NotFoundError{Entity: "wash", ID: string(id)}
	}
	if err != nil {
		return core.Wash{}, fmt.Errorf("get wash: %w", err)
	}
	return w, nil
}

func scanWashRow(r rowScanner) (core.Wash, error) {
	var w core.Wash
	var entryID, customerID, packageID, startedAt, completedAt sql.NullString
	var amount string
	var skip int
	err := r.Scan(&w.ID, &entryID, &w.BayID, &w.BranchID, &customerID, &packageID,
		&amount, &skip, &w.Status, &startedAt, &completedAt)
	if err != nil {
		return core.Wash{}, err
	}
	w.EntryID = core.EntryID(str(entryID))
	w.CustomerID = core.CustomerID(str(customerID))
	w.PackageID = core.PackageID(str(packageID))
	w.TotalAmount, err = decimal.NewFromString(amount)
	if err != nil {
		return core.Wash{}, fmt.Errorf("parse wash amount: %w", err)
	}
	w.SkipQueue = skip != 0
	w.StartedAt = parseTime(startedAt)
	w.CompletedAt = parseTime(completedAt)
	return w, nil
}

func (s *Store) ActiveWashForBay(ctx context.Context, id core.BayID) (core.Wash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeWashForBay(ctx, s.querier, id)
}

func (t *txStore) ActiveWashForBay(ctx context.Context, id core.BayID) (core.Wash, error) {
	return activeWashForBay(ctx, t.querier, id)
}

func activeWashForBay(ctx context.Context, q querier, id core.BayID) (core.Wash, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+washCols+` FROM washes WHERE bay_id = ? AND status = ? LIMIT 1`,
		string(id), string(core.WashActive))
	w, err := scanWashRow(row)
	if err == sql.ErrNoRows {
		return core.Wash{}, &core.NotFoundError{Entity: "wash", ID: "active for bay " + string(id)}
	}
	if err != nil {
		return core.Wash{}, fmt.Errorf("active wash for bay: %w", err)
	}
	return w, nil
}

// =============================================================================
// LOYALTY
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id core.CustomerID) (core.LoyaltyAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.querier, id)
}

func (t *txStore) GetAccount(ctx context.Context, id core.CustomerID) (core.LoyaltyAccount, error) {
	return getAccount(ctx, t.querier, id)
}

func getAccount(ctx context.Context, q querier, id core.CustomerID) (core.LoyaltyAccount, error) {
	var a core.LoyaltyAccount
	err := q.QueryRowContext(ctx,
		`SELECT customer_id, points, lifetime_points, tier FROM loyalty_accounts
		 WHERE customer_id = ?`, string(id)).
		Scan(&a.CustomerID, &a.Points, &a.LifetimePoints, &a.Tier)
	if err == sql.ErrNoRows {
		return core.LoyaltyAccount{}, &core.NotFoundError{Entity: "loyalty_account", ID: string(id)}
	}
	if err != nil {
		return core.LoyaltyAccount{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *Store) PutAccount(ctx context.Context, a core.LoyaltyAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putAccount(ctx, s.querier, a)
}

func (t *txStore) PutAccount(ctx context.Context, a core.LoyaltyAccount) error {
	return putAccount(ctx, t.querier, a)
}

func putAccount(ctx context.Context, q querier, a core.LoyaltyAccount) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO loyalty_accounts (customer_id, points, lifetime_points, tier)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET points=excluded.points,
			lifetime_points=excluded.lifetime_points, tier=excluded.tier`,
		string(a.CustomerID), a.Points, a.LifetimePoints, string(a.Tier))
	if err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

func (s *Store) AppendLoyaltyTransaction(ctx context.Context, tx core.LoyaltyTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLoyaltyTx(ctx, s.querier, tx)
}

func (t *txStore) AppendLoyaltyTransaction(ctx context.Context, tx core.LoyaltyTransaction) error {
	return appendLoyaltyTx(ctx, t.querier, tx)
}

func appendLoyaltyTx(ctx context.Context, q querier, tx core.LoyaltyTransaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO loyalty_transactions
			(id, customer_id, tx_type, points, description, wash_id, appointment_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, string(tx.CustomerID), string(tx.Type), tx.Points,
		nullable(tx.Description), nullable(string(tx.WashID)), nullable(tx.AppointmentRef),
		tx.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append loyalty transaction: %w", err)
	}
	return nil
}

func (s *Store) LoyaltyTransactions(ctx context.Context, id core.CustomerID) ([]core.LoyaltyTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loyaltyTransactions(ctx, s.querier, id)
}

func (t *txStore) LoyaltyTransactions(ctx context.Context, id core.CustomerID) ([]core.LoyaltyTransaction, error) {
	return loyaltyTransactions(ctx, t.querier, id)
}

func loyaltyTransactions(ctx context.Context, q querier, id core.CustomerID) ([]core.LoyaltyTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, customer_id, tx_type, points, description, wash_id, appointment_ref, created_at
		FROM loyalty_transactions WHERE customer_id = ?
		ORDER BY created_at DESC, id DESC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("loyalty transactions: %w", err)
	}
	defer rows.Close()

	var out []core.LoyaltyTransaction
	for rows.Next() {
		var tx core.LoyaltyTransaction
		var desc, washID, apptRef, createdAt sql.NullString
		if err := rows.Scan(&tx.ID, &tx.CustomerID, &tx.Type, &tx.Points,
			&desc, &washID, &apptRef, &createdAt); err != nil {
			return nil, fmt.Errorf("scan loyalty transaction: %w", err)
		}
		tx.Description = str(desc)
		tx.WashID = core.WashID(str(washID))
		tx.AppointmentRef = str(apptRef)
		tx.CreatedAt = parseTime(createdAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

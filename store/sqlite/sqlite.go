/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

PURPOSE:
  Implements engine.Store and engine.TxStore using SQLite. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences, and
  the forUpdate flags would become SELECT ... FOR UPDATE.

KEY TABLES:
  accounts:     Credit balances (the most contended rows)
  slots:        One producer hour each, unique on (producer_id, date, hour)
  reservations: Claims against slots; creation order preserved via rowid

CONCURRENCY:
  SQLite has no row-level locks, so pessimistic locking is implemented by
  serializing whole transactions: WithTx holds the store mutex from BEGIN to
  COMMIT/ROLLBACK. That is strictly stronger than the row locks the engine
  asks for, so the forUpdate flags are accepted and ignored. The connection
  pool is capped at one connection, which both respects SQLite's single
  writer and keeps ":memory:" databases shared across the pool.

WAL MODE:
  The database is opened with WAL (Write-Ahead Logging) so readers outside a
  write transaction don't block.

USAGE:
  store, err := sqlite.New("./data/market.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - engine/store.go: Interface definitions and the locking contract
  - engine/store/memory.go: In-memory implementation for testing
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

	"github.com/voltgrid/energy-market/engine"
)

// Store implements engine.Store and engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		credit TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS slots (
		id TEXT PRIMARY KEY,
		producer_id TEXT NOT NULL,
		date TEXT NOT NULL,
		hour INTEGER NOT NULL,
		capacity_kwh TEXT NOT NULL,
		price_per_kwh TEXT NOT NULL,
		disabled INTEGER NOT NULL DEFAULT 0,
		disabled_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- A slot is unique per (producer, date, hour)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_slots_key
		ON slots(producer_id, date, hour);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		consumer_id TEXT NOT NULL,
		slot_id TEXT NOT NULL,
		requested_kwh TEXT NOT NULL,
		allocated_kwh TEXT NOT NULL,
		total_cost_charged TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Settlement's hot path: pending claims of one slot
	CREATE INDEX IF NOT EXISTS idx_reservations_slot_status
		ON reservations(slot_id, status);
	CREATE INDEX IF NOT EXISTS idx_reservations_consumer
		ON reservations(consumer_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so the row helpers below
// serve direct calls and in-transaction calls alike.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a *engine.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAccount(ctx, s.db, a)
}

func (s *Store) createAccount(ctx context.Context, db dbtx, a *engine.Account) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, role, credit, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Role, a.Credit.String(), a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id engine.AccountID, forUpdate bool) (*engine.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAccount(ctx, s.db, id)
}

func (s *Store) getAccount(ctx context.Context, db dbtx, id engine.AccountID) (*engine.Account, error) {
	var (
		a         engine.Account
		credit    string
		createdAt string
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, name, role, credit, created_at FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.Role, &credit, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	a.Credit = parseDecimal(credit)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

func (s *Store) UpdateAccountCredit(ctx context.Context, id engine.AccountID, credit decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateAccountCredit(ctx, s.db, id, credit)
}

func (s *Store) updateAccountCredit(ctx context.Context, db dbtx, id engine.AccountID, credit decimal.Decimal) error {
	_, err := db.ExecContext(ctx,
		`UPDATE accounts SET credit = ? WHERE id = ?`, credit.String(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update account credit: %w", err)
	}
	return nil
}

// =============================================================================
// SLOTS
// =============================================================================

func (s *Store) CreateSlot(ctx context.Context, slot *engine.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createSlot(ctx, s.db, slot)
}

func (s *Store) createSlot(ctx context.Context, db dbtx, slot *engine.Slot) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO slots (id, producer_id, date, hour, capacity_kwh, price_per_kwh, disabled, disabled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		slot.ID, slot.ProducerID, slot.Date, slot.Hour,
		slot.CapacityKwh.String(), slot.PricePerKwh.String(),
		boolToInt(slot.Disabled), nullTime(slot.DisabledAt),
		slot.CreatedAt.UTC().Format(time.RFC3339), slot.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert slot: %w", err)
	}
	return nil
}

func (s *Store) UpdateSlot(ctx context.Context, slot *engine.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSlot(ctx, s.db, slot)
}

func (s *Store) updateSlot(ctx context.Context, db dbtx, slot *engine.Slot) error {
	_, err := db.ExecContext(ctx,
		`UPDATE slots SET capacity_kwh = ?, price_per_kwh = ?, disabled = ?, disabled_at = ?, updated_at = ?
		 WHERE id = ?`,
		slot.CapacityKwh.String(), slot.PricePerKwh.String(),
		boolToInt(slot.Disabled), nullTime(slot.DisabledAt),
		slot.UpdatedAt.UTC().Format(time.RFC3339), slot.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update slot: %w", err)
	}
	return nil
}

const slotColumns = `id, producer_id, date, hour, capacity_kwh, price_per_kwh, disabled, disabled_at, created_at, updated_at`

func (s *Store) GetSlot(ctx context.Context, id engine.SlotID, forUpdate bool) (*engine.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSlotWhere(ctx, s.db, `id = ?`, id)
}

func (s *Store) GetSlotByKey(ctx context.Context, key engine.SlotKey, forUpdate bool) (*engine.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSlotWhere(ctx, s.db, `producer_id = ? AND date = ? AND hour = ?`, key.ProducerID, key.Date, key.Hour)
}

func (s *Store) getSlotWhere(ctx context.Context, db dbtx, where string, args ...any) (*engine.Slot, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	slot, err := scanSlot(rows)
	if err != nil {
		return nil, err
	}
	return &slot, rows.Err()
}

func (s *Store) ListSlotsForDay(ctx context.Context, producerID engine.AccountID, date string, forUpdate bool) ([]engine.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listSlotsForDay(ctx, s.db, producerID, date)
}

func (s *Store) listSlotsForDay(ctx context.Context, db dbtx, producerID engine.AccountID, date string) ([]engine.Slot, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE producer_id = ? AND date = ? ORDER BY hour ASC`,
		producerID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer rows.Close()

	var slots []engine.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func scanSlot(rows *sql.Rows) (engine.Slot, error) {
	var (
		slot       engine.Slot
		capacity   string
		price      string
		disabled   int
		disabledAt sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := rows.Scan(&slot.ID, &slot.ProducerID, &slot.Date, &slot.Hour,
		&capacity, &price, &disabled, &disabledAt, &createdAt, &updatedAt)
	if err != nil {
		return slot, fmt.Errorf("failed to scan slot: %w", err)
	}
	slot.CapacityKwh = parseDecimal(capacity)
	slot.PricePerKwh = parseDecimal(price)
	slot.Disabled = disabled != 0
	if disabledAt.Valid {
		t, _ := time.Parse(time.RFC3339, disabledAt.String)
		slot.DisabledAt = &t
	}
	slot.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	slot.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return slot, nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (s *Store) CreateReservation(ctx context.Context, r *engine.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createReservation(ctx, s.db, r)
}

func (s *Store) createReservation(ctx context.Context, db dbtx, r *engine.Reservation) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO reservations (id, consumer_id, slot_id, requested_kwh, allocated_kwh, total_cost_charged, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ConsumerID, r.SlotID,
		r.RequestedKwh.String(), r.AllocatedKwh.String(), r.TotalCostCharged.String(),
		r.Status, r.CreatedAt.UTC().Format(time.RFC3339), r.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id engine.ReservationID, forUpdate bool) (*engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reservations, err := s.queryReservations(ctx, s.db, `id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(reservations) == 0 {
		return nil, nil
	}
	return &reservations[0], nil
}

func (s *Store) UpdateReservation(ctx context.Context, r *engine.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateReservation(ctx, s.db, r)
}

func (s *Store) updateReservation(ctx context.Context, db dbtx, r *engine.Reservation) error {
	_, err := db.ExecContext(ctx,
		`UPDATE reservations SET requested_kwh = ?, allocated_kwh = ?, total_cost_charged = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		r.RequestedKwh.String(), r.AllocatedKwh.String(), r.TotalCostCharged.String(),
		r.Status, r.UpdatedAt.UTC().Format(time.RFC3339), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	return nil
}

func (s *Store) ListPendingBySlot(ctx context.Context, slotID engine.SlotID, forUpdate bool) ([]engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryReservations(ctx, s.db, `slot_id = ? AND status = ?`, slotID, engine.StatusPending)
}

func (s *Store) ListBySlot(ctx context.Context, slotID engine.SlotID) ([]engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryReservations(ctx, s.db, `slot_id = ?`, slotID)
}

func (s *Store) ListByConsumer(ctx context.Context, consumerID engine.AccountID) ([]engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryReservations(ctx, s.db, `consumer_id = ?`, consumerID)
}

// queryReservations orders by (created_at, rowid): created_at alone has
// second precision, rowid breaks ties in insertion order, giving settlement
// its stable creation-order key.
func (s *Store) queryReservations(ctx context.Context, db dbtx, where string, args ...any) ([]engine.Reservation, error) {
	query := `SELECT id, consumer_id, slot_id, requested_kwh, allocated_kwh, total_cost_charged, status, created_at, updated_at
		FROM reservations WHERE ` + where + ` ORDER BY created_at ASC, rowid ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []engine.Reservation
	for rows.Next() {
		var (
			r         engine.Reservation
			requested string
			allocated string
			cost      string
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&r.ID, &r.ConsumerID, &r.SlotID,
			&requested, &allocated, &cost, &r.Status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		r.RequestedKwh = parseDecimal(requested)
		r.AllocatedKwh = parseDecimal(allocated)
		r.TotalCostCharged = parseDecimal(cost)
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The store mutex
// is held from begin to commit, which serializes competing transactions the
// way the engine's forUpdate reads require.
func (s *Store) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) CreateAccount(ctx context.Context, a *engine.Account) error {
	return ts.parent.createAccount(ctx, ts.tx, a)
}

func (ts *txStore) GetAccount(ctx context.Context, id engine.AccountID, _ bool) (*engine.Account, error) {
	return ts.parent.getAccount(ctx, ts.tx, id)
}

func (ts *txStore) UpdateAccountCredit(ctx context.Context, id engine.AccountID, credit decimal.Decimal) error {
	return ts.parent.updateAccountCredit(ctx, ts.tx, id, credit)
}

func (ts *txStore) CreateSlot(ctx context.Context, slot *engine.Slot) error {
	return ts.parent.createSlot(ctx, ts.tx, slot)
}

func (ts *txStore) UpdateSlot(ctx context.Context, slot *engine.Slot) error {
	return ts.parent.updateSlot(ctx, ts.tx, slot)
}

func (ts *txStore) GetSlot(ctx context.Context, id engine.SlotID, _ bool) (*engine.Slot, error) {
	return ts.parent.getSlotWhere(ctx, ts.tx, `id = ?`, id)
}

func (ts *txStore) GetSlotByKey(ctx context.Context, key engine.SlotKey, _ bool) (*engine.Slot, error) {
	return ts.parent.getSlotWhere(ctx, ts.tx, `producer_id = ? AND date = ? AND hour = ?`, key.ProducerID, key.Date, key.Hour)
}

func (ts *txStore) ListSlotsForDay(ctx context.Context, producerID engine.AccountID, date string, _ bool) ([]engine.Slot, error) {
	return ts.parent.listSlotsForDay(ctx, ts.tx, producerID, date)
}

func (ts *txStore) CreateReservation(ctx context.Context, r *engine.Reservation) error {
	return ts.parent.createReservation(ctx, ts.tx, r)
}

func (ts *txStore) GetReservation(ctx context.Context, id engine.ReservationID, _ bool) (*engine.Reservation, error) {
	reservations, err := ts.parent.queryReservations(ctx, ts.tx, `id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(reservations) == 0 {
		return nil, nil
	}
	return &reservations[0], nil
}

func (ts *txStore) UpdateReservation(ctx context.Context, r *engine.Reservation) error {
	return ts.parent.updateReservation(ctx, ts.tx, r)
}

func (ts *txStore) ListPendingBySlot(ctx context.Context, slotID engine.SlotID, _ bool) ([]engine.Reservation, error) {
	return ts.parent.queryReservations(ctx, ts.tx, `slot_id = ? AND status = ?`, slotID, engine.StatusPending)
}

func (ts *txStore) ListBySlot(ctx context.Context, slotID engine.SlotID) ([]engine.Reservation, error) {
	return ts.parent.queryReservations(ctx, ts.tx, `slot_id = ?`, slotID)
}

func (ts *txStore) ListByConsumer(ctx context.Context, consumerID engine.AccountID) ([]engine.Reservation, error) {
	return ts.parent.queryReservations(ctx, ts.tx, `consumer_id = ?`, consumerID)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"reservations", "slots", "accounts"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

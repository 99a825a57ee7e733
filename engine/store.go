/*
store.go - Ledger store interface consumed by the engine

PURPOSE:
  Defines the narrow persistence contract between the engine and durable
  storage. The engine owns no rows itself; accounts, slots, and reservations
  all live behind this interface, and every engine operation runs inside one
  WithTx call so its writes commit together or not at all.

LOCKING CONTRACT:
  Read methods take a forUpdate flag expressing pessimistic intent: a true
  read must block competing transactions until the caller's transaction ends.
  Implementations may satisfy this with row locks (SELECT ... FOR UPDATE) or
  by serializing whole transactions; either way, two settlement runs for the
  same producer/day must not both observe the same pending set.

  Lock acquisition order inside one transaction, to prevent circular waits:
    1. Slot rows (ascending hour)
    2. Reservation rows belonging to the slot (ascending creation order)
    3. Account rows (ascending account id when more than one)

NOT-FOUND CONVENTION:
  Get methods return (nil, nil) when the row is absent. Callers translate
  that into the appropriate domain error.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite-backed, production
  - engine/store/memory.go:  In-memory, tests and dev

SEE ALSO:
  - booking.go, settlement.go, slots.go: Callers
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Row access within (or outside) a transaction
// =============================================================================

type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id AccountID, forUpdate bool) (*Account, error)
	UpdateAccountCredit(ctx context.Context, id AccountID, credit decimal.Decimal) error

	// Slots
	CreateSlot(ctx context.Context, s *Slot) error
	UpdateSlot(ctx context.Context, s *Slot) error
	GetSlot(ctx context.Context, id SlotID, forUpdate bool) (*Slot, error)
	GetSlotByKey(ctx context.Context, key SlotKey, forUpdate bool) (*Slot, error)
	// ListSlotsForDay returns every slot for producer/date, settled or not,
	// ordered by hour ascending.
	ListSlotsForDay(ctx context.Context, producerID AccountID, date string, forUpdate bool) ([]Slot, error)

	// Reservations
	CreateReservation(ctx context.Context, r *Reservation) error
	GetReservation(ctx context.Context, id ReservationID, forUpdate bool) (*Reservation, error)
	UpdateReservation(ctx context.Context, r *Reservation) error
	// ListPendingBySlot returns the slot's PENDING reservations in creation
	// order, the stable key settlement depends on.
	ListPendingBySlot(ctx context.Context, slotID SlotID, forUpdate bool) ([]Reservation, error)
	// ListBySlot returns all of a slot's reservations regardless of status,
	// in creation order. Read-only paths (history, earnings) use this.
	ListBySlot(ctx context.Context, slotID SlotID) ([]Reservation, error)
	// ListByConsumer returns a consumer's reservations in creation order.
	ListByConsumer(ctx context.Context, consumerID AccountID) ([]Reservation, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with atomic multi-statement transactions.
type TxStore interface {
	Store

	// WithTx executes fn within one transaction. If fn returns an error the
	// transaction is rolled back and nothing is visible; otherwise it commits.
	WithTx(ctx context.Context, fn func(Store) error) error
}

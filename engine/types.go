/*
Package engine provides the core reservation and settlement engine.

PURPOSE:
  This package contains the domain types and algorithms for selling hourly
  energy production capacity ahead of time. Producers publish slots, consumers
  reserve kilowatt-hours against them from a prepaid credit balance, and a
  settlement run later converts all outstanding claims into final allocations,
  cutting them proportionally when demand exceeds supply.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A principal with a spendable credit balance
  - Slot: One producer's sellable capacity for a single calendar hour
  - Reservation: A consumer's prepaid claim against a slot
  - SlotKey: The (producer, date, hour) identity of a slot

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for every kWh and credit amount
  2. Type Safety: Strong typing for IDs prevents mixing account/slot/reservation IDs
  3. Statelessness: The engine holds no state between calls; everything lives
     in the Store and every operation is one atomic transaction
  4. Determinism: Settlement processes slots by hour and reservations in
     creation order, so runs are reproducible

USAGE:
  booking := engine.NewBookingService(store, engine.SystemClock())
  res, err := booking.CreateReservation(ctx, consumerID, key, kwh)

SEE ALSO:
  - allocation.go: NoCut / ProportionalCut grant computation
  - booking.go: Reservation lifecycle (create, amend, cancel)
  - settlement.go: Day settlement coordinator
  - store.go: Ledger store interface
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type SlotID string
type ReservationID string

// Role distinguishes the two kinds of principals. The engine trusts the
// identity layer to supply authenticated IDs; it only checks roles where a
// surface is producer- or consumer-specific.
type Role string

const (
	RoleProducer Role = "producer"
	RoleConsumer Role = "consumer"
)

// =============================================================================
// NUMERIC POLICY
// =============================================================================

// Amounts are rounded before persisting: kWh to 3 decimal places, credit to 2.
// Applied uniformly so repeated settlement runs cannot drift.
const (
	KwhPrecision    = 3
	CreditPrecision = 2
)

func RoundKwh(d decimal.Decimal) decimal.Decimal    { return d.Round(KwhPrecision) }
func RoundCredit(d decimal.Decimal) decimal.Decimal { return d.Round(CreditPrecision) }

// MinRequestKwh is the smallest bookable request. Amendments to a non-zero
// value obey the same floor; zero means cancel.
var MinRequestKwh = decimal.NewFromFloat(0.1)

// BookingWindow is the cutoff before a slot's start. A slot is bookable and
// freely amendable only while its start is strictly more than this far away.
const BookingWindow = 24 * time.Hour

// =============================================================================
// ACCOUNT - Unit of spendable credit
// =============================================================================

// Account invariant: Credit >= 0 after every committed transaction. The
// balance may reorder transiently inside a transaction (refunds and debits),
// which is why the check happens before commit, never mid-flight.
type Account struct {
	ID        AccountID
	Name      string
	Role      Role
	Credit    decimal.Decimal
	CreatedAt time.Time
}

// =============================================================================
// SLOT - Unit of physical capacity
// =============================================================================

// DateLayout is the calendar-date format used for slot dates (UTC).
const DateLayout = "2006-01-02"

// SlotKey identifies a slot by its unique (producer, date, hour) triple.
type SlotKey struct {
	ProducerID AccountID
	Date       string // YYYY-MM-DD
	Hour       int    // 0-23
}

// Start returns the instant the slot's hour begins, in UTC.
func (k SlotKey) Start() (time.Time, error) {
	day, err := time.Parse(DateLayout, k.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed slot date %q: %w", k.Date, err)
	}
	return day.Add(time.Duration(k.Hour) * time.Hour), nil
}

// Slot is one producer's sellable capacity for a single calendar hour.
// Settlement sets Disabled rather than deleting the row, so the slot keeps
// rejecting new bookings while staying readable for history and audit.
type Slot struct {
	ID          SlotID
	ProducerID  AccountID
	Date        string // YYYY-MM-DD
	Hour        int    // 0-23
	CapacityKwh decimal.Decimal
	PricePerKwh decimal.Decimal
	Disabled    bool
	DisabledAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *Slot) Key() SlotKey {
	return SlotKey{ProducerID: s.ProducerID, Date: s.Date, Hour: s.Hour}
}

func (s *Slot) Start() (time.Time, error) {
	return s.Key().Start()
}

// =============================================================================
// RESERVATION - Unit of financial exposure
// =============================================================================

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "PENDING"
	StatusAllocated ReservationStatus = "ALLOCATED"
	StatusCancelled ReservationStatus = "CANCELLED"
)

// Reservation lifecycle:
//
//	PENDING ──(settlement)──▶ ALLOCATED   (terminal)
//	PENDING ──(amend to 0)──▶ CANCELLED   (terminal)
//
// Invariants: AllocatedKwh <= RequestedKwh always, and once ALLOCATED,
// TotalCostCharged == AllocatedKwh * slot price.
type Reservation struct {
	ID               ReservationID
	ConsumerID       AccountID
	SlotID           SlotID
	RequestedKwh     decimal.Decimal
	AllocatedKwh     decimal.Decimal
	TotalCostCharged decimal.Decimal
	Status           ReservationStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// =============================================================================
// SETTLEMENT SUMMARY
// =============================================================================

// DaySummary reports one ResolveDay run. ResolvedHours counts slots that had
// pending reservations and were settled; hours with nothing pending are
// skipped entirely and do not count.
type DaySummary struct {
	Date                string `json:"date"`
	ResolvedHours       int    `json:"resolved_hours"`
	OversubscribedHours int    `json:"oversubscribed_hours"`
}

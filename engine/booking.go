/*
booking.go - Reservation lifecycle: create, amend, cancel

PURPOSE:
  Enforces the booking-window rules and keeps the credit ledger in step with
  every reservation mutation. This is a pay-ahead model: the full cost is
  debited when the reservation is created, and later amendments charge or
  refund only the delta.

BOOKING WINDOW:
  A slot is bookable only while its start is strictly more than 24 hours in
  the future. The same boundary governs amendments, evaluated at the moment
  of the edit, not at creation time:

    beyond 24h:  free modification; delta charged or refunded; amending to 0
                 cancels with a full refund
    within 24h:  the ONLY permitted mutation is amending to 0, which cancels
                 WITHOUT refund (the prepaid amount is forfeited as a
                 late-cancellation penalty)

ATOMICITY:
  Every successful operation mutates exactly one Account's credit and one
  Reservation row inside a single WithTx transaction. Lock order: slot, then
  reservation, then account.

SEE ALSO:
  - settlement.go: The only path that turns PENDING into ALLOCATED
  - errors.go: Domain error codes surfaced here
*/
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BOOKING SERVICE
// =============================================================================

// BookingService is the reservation lifecycle manager.
type BookingService struct {
	store TxStore
	clock Clock
}

func NewBookingService(store TxStore, clock Clock) *BookingService {
	return &BookingService{store: store, clock: clock}
}

// CreateReservation books requestedKwh against the slot identified by key,
// debiting the consumer's credit by requestedKwh * price in the same
// transaction. The reservation starts PENDING with nothing allocated.
func (b *BookingService) CreateReservation(
	ctx context.Context,
	consumerID AccountID,
	key SlotKey,
	requestedKwh decimal.Decimal,
) (*Reservation, error) {
	// Preconditions that need no storage access are checked before the
	// transaction opens.
	if requestedKwh.LessThan(MinRequestKwh) {
		return nil, NewDomainError(ErrInvalidKwh, "requested kWh must be at least %s, got %s", MinRequestKwh, requestedKwh)
	}
	if key.Hour < 0 || key.Hour > 23 {
		return nil, NewDomainError(ErrInvalidHour, "hour must be in [0,23], got %d", key.Hour)
	}
	start, err := key.Start()
	if err != nil {
		return nil, NewDomainError(ErrSlotNotFound, "%v", err)
	}

	now := b.clock.Now()
	if !start.After(now.Add(BookingWindow)) {
		return nil, NewDomainError(ErrSlotNotBookable24h, "slot starts at %s, less than 24h from now", start.Format("2006-01-02 15:04"))
	}

	var created *Reservation
	err = b.store.WithTx(ctx, func(st Store) error {
		consumer, err := st.GetAccount(ctx, consumerID, true)
		if err != nil {
			return fmt.Errorf("load consumer: %w", err)
		}
		if consumer == nil {
			return NewDomainError(ErrConsumerNotFound, "consumer %s not found", consumerID)
		}

		slot, err := st.GetSlotByKey(ctx, key, true)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if slot == nil || slot.Disabled {
			return NewDomainError(ErrSlotNotFound, "no bookable slot for %s %s hour %d", key.ProducerID, key.Date, key.Hour)
		}

		totalCost := RoundCredit(requestedKwh.Mul(slot.PricePerKwh))
		if consumer.Credit.LessThan(totalCost) {
			return NewDomainError(ErrInsufficientCredit, "credit %s is below cost %s", consumer.Credit, totalCost)
		}

		res := &Reservation{
			ID:               ReservationID(uuid.NewString()),
			ConsumerID:       consumerID,
			SlotID:           slot.ID,
			RequestedKwh:     RoundKwh(requestedKwh),
			AllocatedKwh:     decimal.Zero,
			TotalCostCharged: totalCost,
			Status:           StatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := st.CreateReservation(ctx, res); err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}
		if err := st.UpdateAccountCredit(ctx, consumerID, consumer.Credit.Sub(totalCost)); err != nil {
			return fmt.Errorf("debit consumer: %w", err)
		}

		created = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateReservation amends a PENDING reservation to newRequestedKwh, applying
// the 24-hour rule at the moment of the edit. newRequestedKwh == 0 cancels:
// with a full refund beyond the window, without refund within it.
func (b *BookingService) UpdateReservation(
	ctx context.Context,
	consumerID AccountID,
	reservationID ReservationID,
	newRequestedKwh decimal.Decimal,
) (*Reservation, error) {
	if newRequestedKwh.IsNegative() {
		return nil, NewDomainError(ErrInvalidKwh, "requested kWh cannot be negative, got %s", newRequestedKwh)
	}
	if !newRequestedKwh.IsZero() && newRequestedKwh.LessThan(MinRequestKwh) {
		return nil, NewDomainError(ErrInvalidKwh, "requested kWh must be 0 (cancel) or at least %s, got %s", MinRequestKwh, newRequestedKwh)
	}

	var updated *Reservation
	err := b.store.WithTx(ctx, func(st Store) error {
		res, err := st.GetReservation(ctx, reservationID, true)
		if err != nil {
			return fmt.Errorf("load reservation: %w", err)
		}
		if res == nil {
			return NewDomainError(ErrReservationNotFound, "reservation %s not found", reservationID)
		}
		if res.ConsumerID != consumerID {
			return NewDomainError(ErrForbidden, "reservation %s does not belong to %s", reservationID, consumerID)
		}
		if res.Status != StatusPending {
			return NewDomainError(ErrReservationNotEditable, "reservation %s is %s", reservationID, res.Status)
		}

		slot, err := st.GetSlot(ctx, res.SlotID, true)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if slot == nil {
			return fmt.Errorf("invariant violation: reservation %s references missing slot %s", res.ID, res.SlotID)
		}
		start, err := slot.Start()
		if err != nil {
			return fmt.Errorf("invariant violation: %w", err)
		}

		now := b.clock.Now()
		withinWindow := !start.After(now.Add(BookingWindow))

		if withinWindow {
			// Late edits can only forfeit. The debited credit stays where it
			// is; TotalCostCharged keeps recording what was paid.
			if !newRequestedKwh.IsZero() {
				return NewDomainError(ErrModificationNotAllowed24h, "slot starts within 24h; only cancellation (kWh=0) is allowed")
			}
			res.Status = StatusCancelled
			res.RequestedKwh = decimal.Zero
			res.UpdatedAt = now
			if err := st.UpdateReservation(ctx, res); err != nil {
				return fmt.Errorf("cancel reservation: %w", err)
			}
			updated = res
			return nil
		}

		consumer, err := st.GetAccount(ctx, res.ConsumerID, true)
		if err != nil {
			return fmt.Errorf("load consumer: %w", err)
		}
		if consumer == nil {
			return NewDomainError(ErrConsumerNotFound, "consumer %s not found", res.ConsumerID)
		}

		delta := newRequestedKwh.Sub(res.RequestedKwh)
		deltaCost := RoundCredit(delta.Mul(slot.PricePerKwh))

		if deltaCost.IsPositive() && consumer.Credit.LessThan(deltaCost) {
			return NewDomainError(ErrInsufficientCredit, "credit %s is below delta cost %s", consumer.Credit, deltaCost)
		}

		if newRequestedKwh.IsZero() {
			res.Status = StatusCancelled
			res.RequestedKwh = decimal.Zero
			res.TotalCostCharged = decimal.Zero
		} else {
			res.RequestedKwh = RoundKwh(newRequestedKwh)
			res.TotalCostCharged = res.TotalCostCharged.Add(deltaCost)
		}
		res.UpdatedAt = now

		if err := st.UpdateReservation(ctx, res); err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		if !deltaCost.IsZero() {
			if err := st.UpdateAccountCredit(ctx, res.ConsumerID, consumer.Credit.Sub(deltaCost)); err != nil {
				return fmt.Errorf("adjust consumer credit: %w", err)
			}
		}

		updated = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

/*
slots.go - Producer-side slot publishing

PURPOSE:
  Producers publish (or re-publish) the capacity and price of an hour before
  its booking window closes. Publishing is an upsert on the unique
  (producer, date, hour) key; a slot that has been settled (disabled) can no
  longer be touched. Capacity and price are not frozen by existing
  reservations: settlement reads whatever values are current when it locks
  the slot.

SEE ALSO:
  - booking.go: Consumes published slots
  - settlement.go: Disables them
*/
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SLOT SERVICE
// =============================================================================

type SlotService struct {
	store TxStore
	clock Clock
}

func NewSlotService(store TxStore, clock Clock) *SlotService {
	return &SlotService{store: store, clock: clock}
}

// PublishSlot creates or updates the slot for (producerID, date, hour).
func (s *SlotService) PublishSlot(
	ctx context.Context,
	producerID AccountID,
	date string,
	hour int,
	capacityKwh decimal.Decimal,
	pricePerKwh decimal.Decimal,
) (*Slot, error) {
	if hour < 0 || hour > 23 {
		return nil, NewDomainError(ErrInvalidHour, "hour must be in [0,23], got %d", hour)
	}
	if !capacityKwh.IsPositive() {
		return nil, NewDomainError(ErrInvalidKwh, "capacity must be positive, got %s", capacityKwh)
	}
	if pricePerKwh.IsNegative() {
		return nil, NewDomainError(ErrInvalidKwh, "price cannot be negative, got %s", pricePerKwh)
	}
	key := SlotKey{ProducerID: producerID, Date: date, Hour: hour}
	if _, err := key.Start(); err != nil {
		return nil, NewDomainError(ErrSlotNotFound, "%v", err)
	}

	now := s.clock.Now()
	var published *Slot
	err := s.store.WithTx(ctx, func(st Store) error {
		producer, err := st.GetAccount(ctx, producerID, true)
		if err != nil {
			return fmt.Errorf("load producer: %w", err)
		}
		if producer == nil {
			return NewDomainError(ErrConsumerNotFound, "producer account %s not found", producerID)
		}
		if producer.Role != RoleProducer {
			return NewDomainError(ErrForbidden, "account %s is not a producer", producerID)
		}

		existing, err := st.GetSlotByKey(ctx, key, true)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}

		if existing != nil {
			if existing.Disabled {
				return NewDomainError(ErrSlotNotFound, "slot %s %s hour %d is already settled", producerID, date, hour)
			}
			existing.CapacityKwh = RoundKwh(capacityKwh)
			existing.PricePerKwh = RoundCredit(pricePerKwh)
			existing.UpdatedAt = now
			if err := st.UpdateSlot(ctx, existing); err != nil {
				return fmt.Errorf("update slot: %w", err)
			}
			published = existing
			return nil
		}

		slot := &Slot{
			ID:          SlotID(uuid.NewString()),
			ProducerID:  producerID,
			Date:        date,
			Hour:        hour,
			CapacityKwh: RoundKwh(capacityKwh),
			PricePerKwh: RoundCredit(pricePerKwh),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := st.CreateSlot(ctx, slot); err != nil {
			return fmt.Errorf("create slot: %w", err)
		}
		published = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return published, nil
}

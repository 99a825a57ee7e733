/*
Package stats provides read-only aggregations over settled data.

PURPOSE:
  Downstream reporting for producers (what did a settled day earn) and
  consumers (what was reserved, received, and spent). Everything here reads
  already-committed rows without locks and computes on the fly; nothing in
  this package mutates the ledger or participates in settlement.

SEE ALSO:
  - engine/settlement.go: Produces the ALLOCATED rows aggregated here
*/
package stats

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/voltgrid/energy-market/engine"
)

// Service computes aggregations through the ledger store's read paths.
type Service struct {
	store engine.Store
}

func NewService(store engine.Store) *Service {
	return &Service{store: store}
}

// =============================================================================
// PRODUCER EARNINGS
// =============================================================================

// HourEarnings is one settled hour's outcome.
type HourEarnings struct {
	Hour        int             `json:"hour"`
	CapacityKwh decimal.Decimal `json:"capacity_kwh"`
	SoldKwh     decimal.Decimal `json:"sold_kwh"`
	Earned      decimal.Decimal `json:"earned"`
}

// DayEarnings sums a producer's settled hours for one date. Unsettled hours
// are excluded: earnings exist only once a slot has been resolved.
type DayEarnings struct {
	ProducerID  engine.AccountID `json:"producer_id"`
	Date        string           `json:"date"`
	TotalEarned decimal.Decimal  `json:"total_earned"`
	TotalSold   decimal.Decimal  `json:"total_sold_kwh"`
	Hours       []HourEarnings   `json:"hours"`
}

// ProducerEarnings aggregates ALLOCATED reservations across the settled slots
// of one producer/date.
func (s *Service) ProducerEarnings(ctx context.Context, producerID engine.AccountID, date string) (*DayEarnings, error) {
	slots, err := s.store.ListSlotsForDay(ctx, producerID, date, false)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	out := &DayEarnings{
		ProducerID:  producerID,
		Date:        date,
		TotalEarned: decimal.Zero,
		TotalSold:   decimal.Zero,
	}

	for _, slot := range slots {
		if !slot.Disabled {
			continue
		}
		reservations, err := s.store.ListBySlot(ctx, slot.ID)
		if err != nil {
			return nil, fmt.Errorf("load reservations for slot %s: %w", slot.ID, err)
		}

		hour := HourEarnings{
			Hour:        slot.Hour,
			CapacityKwh: slot.CapacityKwh,
			SoldKwh:     decimal.Zero,
			Earned:      decimal.Zero,
		}
		for _, r := range reservations {
			if r.Status != engine.StatusAllocated {
				continue
			}
			hour.SoldKwh = hour.SoldKwh.Add(r.AllocatedKwh)
			hour.Earned = hour.Earned.Add(r.TotalCostCharged)
		}
		out.TotalSold = out.TotalSold.Add(hour.SoldKwh)
		out.TotalEarned = out.TotalEarned.Add(hour.Earned)
		out.Hours = append(out.Hours, hour)
	}

	return out, nil
}

// =============================================================================
// CONSUMER SUMMARY
// =============================================================================

// ConsumerSummary totals a consumer's reservations by status.
type ConsumerSummary struct {
	ConsumerID   engine.AccountID `json:"consumer_id"`
	Pending      int              `json:"pending"`
	Allocated    int              `json:"allocated"`
	Cancelled    int              `json:"cancelled"`
	ReceivedKwh  decimal.Decimal  `json:"received_kwh"`
	TotalCharged decimal.Decimal  `json:"total_charged"`
}

// Summarize walks a consumer's full reservation history. TotalCharged sums
// current exposure: finalized cost for ALLOCATED rows, the prepaid hold for
// PENDING ones, and forfeited late cancellations.
func (s *Service) Summarize(ctx context.Context, consumerID engine.AccountID) (*ConsumerSummary, error) {
	reservations, err := s.store.ListByConsumer(ctx, consumerID)
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}

	out := &ConsumerSummary{
		ConsumerID:   consumerID,
		ReceivedKwh:  decimal.Zero,
		TotalCharged: decimal.Zero,
	}
	for _, r := range reservations {
		switch r.Status {
		case engine.StatusPending:
			out.Pending++
		case engine.StatusAllocated:
			out.Allocated++
			out.ReceivedKwh = out.ReceivedKwh.Add(r.AllocatedKwh)
		case engine.StatusCancelled:
			out.Cancelled++
		}
		out.TotalCharged = out.TotalCharged.Add(r.TotalCostCharged)
	}
	return out, nil
}

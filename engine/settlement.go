/*
settlement.go - Day settlement coordinator

PURPOSE:
  ResolveDay converts every outstanding claim on one producer's calendar day
  into final allocations, inside a single transaction:

    1. Lock the day's slots, hour ascending (settled or not)
    2. Per slot, lock its PENDING reservations in creation order
    3. Nothing pending? Skip the hour entirely (this is what makes a second
       run over the same day a no-op)
    4. Allocate via the strategy in allocation.go, re-deriving the regime
    5. Clamp each grant to its request, finalize cost, mark ALLOCATED,
       accumulate the refund for each kWh requested but not received
    6. Disable the slot so no further booking can land on a settled hour
    7. After all slots: apply accumulated refunds per consumer, ascending
       account id

REFUND BOOKKEEPING:
  Refunds are accumulated across the whole run and applied once per consumer,
  so a consumer holding reservations on several hours gets one credit write.
  A reservation contributes to the accumulator exactly once, in the iteration
  that flips it to ALLOCATED, so a refund can never be double-applied.

CONSERVATION:
  For every settled slot, sum(allocated) <= capacity and the credit refunded
  equals sum(requested - allocated) * price, up to the 2-decimal credit
  rounding applied per reservation.

FAILURE MODE:
  Any error aborts the whole transaction; there is no partial settlement.
  Re-invoking ResolveDay afterwards reprocesses the same pending set.

SEE ALSO:
  - allocation.go: Grant computation
  - booking.go: Where the PENDING claims come from
*/
package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTLEMENT SERVICE
// =============================================================================

type SettlementService struct {
	store TxStore
	clock Clock
}

func NewSettlementService(store TxStore, clock Clock) *SettlementService {
	return &SettlementService{store: store, clock: clock}
}

// ResolveDay settles every slot of producerID on date (YYYY-MM-DD).
func (s *SettlementService) ResolveDay(ctx context.Context, producerID AccountID, date string) (*DaySummary, error) {
	summary := &DaySummary{Date: date}
	now := s.clock.Now()

	err := s.store.WithTx(ctx, func(st Store) error {
		slots, err := st.ListSlotsForDay(ctx, producerID, date, true)
		if err != nil {
			return fmt.Errorf("load slots: %w", err)
		}

		refunds := make(map[AccountID]decimal.Decimal)

		for i := range slots {
			slot := &slots[i]

			pending, err := st.ListPendingBySlot(ctx, slot.ID, true)
			if err != nil {
				return fmt.Errorf("load pending reservations for slot %s: %w", slot.ID, err)
			}
			if len(pending) == 0 {
				continue
			}

			claims := make([]Claim, len(pending))
			for j, r := range pending {
				claims[j] = Claim{ReservationID: r.ID, RequestedKwh: r.RequestedKwh}
			}
			total := TotalRequested(claims)
			if total.GreaterThan(slot.CapacityKwh) {
				summary.OversubscribedHours++
			}

			grants := Allocate(claims, slot.CapacityKwh)
			granted := make(map[ReservationID]decimal.Decimal, len(grants))
			for _, g := range grants {
				granted[g.ReservationID] = g.AllocatedKwh
			}

			for j := range pending {
				res := &pending[j]

				allocated, ok := granted[res.ID]
				if !ok {
					if !total.IsZero() {
						return fmt.Errorf("invariant violation: allocation missing for reservation %s", res.ID)
					}
					allocated = decimal.Zero // zero-demand slot, everyone gets nothing
				}
				if allocated.GreaterThan(res.RequestedKwh) {
					allocated = res.RequestedKwh
				}

				refundKwh := res.RequestedKwh.Sub(allocated)
				if refundKwh.IsPositive() {
					refund := RoundCredit(refundKwh.Mul(slot.PricePerKwh))
					if refund.IsPositive() {
						refunds[res.ConsumerID] = refunds[res.ConsumerID].Add(refund)
					}
				}

				res.AllocatedKwh = RoundKwh(allocated)
				res.TotalCostCharged = RoundCredit(allocated.Mul(slot.PricePerKwh))
				res.Status = StatusAllocated
				res.UpdatedAt = now
				if err := st.UpdateReservation(ctx, res); err != nil {
					return fmt.Errorf("finalize reservation %s: %w", res.ID, err)
				}
			}

			slot.Disabled = true
			disabledAt := now
			slot.DisabledAt = &disabledAt
			slot.UpdatedAt = now
			if err := st.UpdateSlot(ctx, slot); err != nil {
				return fmt.Errorf("disable slot %s: %w", slot.ID, err)
			}

			summary.ResolvedHours++
		}

		// Accounts are locked last and in a fixed order to keep concurrent
		// settlements deadlock-free.
		consumerIDs := make([]AccountID, 0, len(refunds))
		for id := range refunds {
			consumerIDs = append(consumerIDs, id)
		}
		sort.Slice(consumerIDs, func(a, b int) bool { return consumerIDs[a] < consumerIDs[b] })

		for _, id := range consumerIDs {
			acct, err := st.GetAccount(ctx, id, true)
			if err != nil {
				return fmt.Errorf("load account %s for refund: %w", id, err)
			}
			if acct == nil {
				return fmt.Errorf("invariant violation: account %s missing during refund", id)
			}
			if err := st.UpdateAccountCredit(ctx, id, acct.Credit.Add(refunds[id])); err != nil {
				return fmt.Errorf("refund account %s: %w", id, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}
